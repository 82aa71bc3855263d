package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"swapfeed/internal/feed"
	"swapfeed/internal/provider"
	"swapfeed/internal/quote"
	"swapfeed/internal/swap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

var testRecords = []provider.PriceRecord{
	{Currency: "ETH", Date: day(1), Price: 2000},
	{Currency: "ETH", Date: day(2), Price: 2100},
	{Currency: "BTC", Date: day(1), Price: 40000},
}

type executorFunc func(ctx context.Context, q quote.Result) (swap.Receipt, error)

func (f executorFunc) Execute(ctx context.Context, q quote.Result) (swap.Receipt, error) { return f(ctx, q) }

type testEnv struct {
	srv  *httptest.Server
	feed *feed.Controller
	api  *Server
}

func newTestEnv(t *testing.T, src provider.Source, exec swap.Executor) *testEnv {
	t.Helper()

	logger, _ := logtest.NewNullLogger()
	ctrl := feed.New(feed.Options{Source: src, Logger: logger})
	if exec == nil {
		exec = swap.SimulatedExecutor{Delay: time.Millisecond}
	}
	s := New(Options{
		Feed:   ctrl,
		Quotes: quote.NewEngine(nil),
		Swaps:  swap.NewSubmitter(exec, logger),
		Logger: logger,
	})
	srv := httptest.NewServer(s.Handler())

	t.Cleanup(srv.Close)
	t.Cleanup(s.Close)
	t.Cleanup(func() { _ = ctrl.Stop(context.Background()) })
	return &testEnv{srv: srv, feed: ctrl, api: s}
}

func staticSource(records []provider.PriceRecord) provider.Source {
	return provider.SourceFunc(func(context.Context) ([]provider.PriceRecord, error) { return records, nil })
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, e.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)

	resp, body := env.do(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestGetFeed_IdleBeforeFirstFetch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)

	resp, body := env.do(t, http.MethodGet, "/api/v1/feed", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got feedResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, feed.StatusIdle, got.Status)
	require.Empty(t, got.Tokens)
	require.Nil(t, got.LastUpdated)
	require.Contains(t, string(body), `"tokens":[]`)
}

func TestRefreshFeed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/feed/refresh", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got feedResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, feed.StatusReady, got.Status)
	require.Equal(t, []string{"BTC", "ETH"}, got.Tokens.Symbols())
	require.NotNil(t, got.LastUpdated)
	require.Equal(t, "https://raw.githubusercontent.com/Switcheo/token-icons/main/tokens/BTC.svg", got.Tokens[0].IconURL)
}

func TestRefreshFeed_UpstreamFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, provider.SourceFunc(func(context.Context) ([]provider.PriceRecord, error) {
		return nil, fmt.Errorf("%w: %d", provider.ErrUnexpectedStatus, http.StatusInternalServerError)
	}), nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/feed/refresh", nil)

	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var got struct {
		Error string       `json:"error"`
		Feed  feedResponse `json:"feed"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, feed.MsgUnavailable, got.Error)
	require.Equal(t, feed.StatusError, got.Feed.Status)
	require.Equal(t, feed.MsgUnavailable, got.Feed.Error)
}

func TestRefreshFeed_Stopped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)
	require.NoError(t, env.feed.Stop(t.Context()))

	resp, _ := env.do(t, http.MethodPost, "/api/v1/feed/refresh", nil)

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetQuote(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)
	require.NoError(t, env.feed.Refresh(t.Context()))

	resp, body := env.do(t, http.MethodGet, "/api/v1/quote?from=ETH&to=BTC&amount=1", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got quoteResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.True(t, got.Valid)
	require.InDelta(t, 0.0525, got.Rate, 1e-12)
	require.InDelta(t, 0.0525, got.Output, 1e-12)
	require.Equal(t, "0.0525", got.OutputText)
	require.Equal(t, "≈ $2,100.00", got.FromValue)
	require.Equal(t, "≈ $2,100.00", got.ToValue)
	require.Equal(t, "Swap now", got.Action)
	require.InDelta(t, quote.DeterministicBalance{}.BalanceOf("ETH"), got.Balance, 1e-12)
}

func TestGetQuote_DefaultPairAndReasons(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)

	// Not ready yet.
	_, body := env.do(t, http.MethodGet, "/api/v1/quote?from=ETH&to=BTC&amount=1", nil)
	var got quoteResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, quote.ReasonFeedNotReady, got.Reason)
	require.Equal(t, "Waiting for price", got.FromValue)

	require.NoError(t, env.feed.Refresh(t.Context()))

	_, body = env.do(t, http.MethodGet, "/api/v1/quote?amount=1", nil)
	got = quoteResponse{}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, "BTC", got.From)
	require.Equal(t, "ETH", got.To)
	require.True(t, got.Valid)

	_, body = env.do(t, http.MethodGet, "/api/v1/quote?from=ETH&to=ETH&amount=1", nil)
	got = quoteResponse{}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, quote.ReasonSameToken, got.Reason)

	_, body = env.do(t, http.MethodGet, "/api/v1/quote?from=ETH&to=BTC&amount=1000", nil)
	got = quoteResponse{}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, quote.ReasonExceedsBalance, got.Reason)

	_, body = env.do(t, http.MethodGet, "/api/v1/quote?from=ETH&to=BTC&amount=-4", nil)
	got = quoteResponse{}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, quote.ReasonNonPositiveAmount, got.Reason)
}

func TestGetQuote_BadAmount(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/quote?from=ETH&to=BTC&amount=lots", nil)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostSwap(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)
	require.NoError(t, env.feed.Refresh(t.Context()))

	resp, body := env.do(t, http.MethodPost, "/api/v1/swaps", swapRequest{From: "ETH", To: "BTC", Amount: 1})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var got swap.Receipt
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, "Swapped 1 ETH → 0.0525 BTC", got.Message)
	require.NotEmpty(t, got.ID)
}

func TestPostSwap_Rejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)
	require.NoError(t, env.feed.Refresh(t.Context()))

	resp, body := env.do(t, http.MethodPost, "/api/v1/swaps", swapRequest{From: "ETH", To: "BTC", Amount: 1000})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, string(body), string(quote.ReasonExceedsBalance))

	resp, _ = env.do(t, http.MethodPost, "/api/v1/swaps", map[string]any{"to": "BTC", "amount": 1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostSwap_BusyAndFailure(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan error)
	env := newTestEnv(t, staticSource(testRecords), executorFunc(func(ctx context.Context, q quote.Result) (swap.Receipt, error) {
		entered <- struct{}{}
		return swap.Receipt{}, <-release
	}))
	require.NoError(t, env.feed.Refresh(t.Context()))

	first := make(chan int, 1)
	go func() {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/swaps", swapRequest{From: "ETH", To: "BTC", Amount: 1})
		first <- resp.StatusCode
	}()
	<-entered

	resp, _ := env.do(t, http.MethodPost, "/api/v1/swaps", swapRequest{From: "ETH", To: "BTC", Amount: 1})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	_, body := env.do(t, http.MethodGet, "/api/v1/quote?from=ETH&to=BTC&amount=1", nil)
	require.Contains(t, string(body), "Submitting…")

	release <- errors.New("chain unavailable")
	require.Equal(t, http.StatusBadGateway, <-first)

	_, body = env.do(t, http.MethodGet, "/api/v1/swaps/state", nil)
	var st swapStateResponse
	require.NoError(t, json.Unmarshal(body, &st))
	require.Equal(t, swap.StateFailed, st.State)
	require.Contains(t, st.Error, "chain unavailable")

	_, body = env.do(t, http.MethodPost, "/api/v1/swaps/reset", nil)
	st = swapStateResponse{}
	require.NoError(t, json.Unmarshal(body, &st))
	require.Equal(t, swap.StateIdle, st.State)
	require.Empty(t, st.Error)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, env.srv.URL+"/api/v1/swaps", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)
	require.NoError(t, env.feed.Refresh(t.Context()))

	resp, body := env.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "swapfeed_feed_fetch_cycles_total")
	require.Contains(t, string(body), "swapfeed_feed_catalog_tokens")
}

type panickingFeed struct{ FeedController }

func (panickingFeed) State() feed.State { panic("boom") }

func TestRecoversFromPanics(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	s := New(Options{Feed: panickingFeed{}, Logger: logger})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/v1/feed")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "handler panicked", hook.LastEntry().Message)
}

func TestStreamFeed(t *testing.T) {
	t.Parallel()

	// Arrange
	env := newTestEnv(t, staticSource(testRecords), nil)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/feed/stream"
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial feedResponse
	require.NoError(t, conn.ReadJSON(&initial))
	require.Equal(t, feed.StatusIdle, initial.Status)

	// Act
	require.NoError(t, env.feed.Refresh(t.Context()))

	// Assert
	var loading, ready feedResponse
	require.NoError(t, conn.ReadJSON(&loading))
	require.NoError(t, conn.ReadJSON(&ready))
	require.Equal(t, feed.StatusLoading, loading.Status)
	require.Equal(t, uint64(1), loading.Version)
	require.Equal(t, feed.StatusReady, ready.Status)
	require.Equal(t, uint64(2), ready.Version)
	require.Equal(t, []string{"BTC", "ETH"}, ready.Tokens.Symbols())
}

func TestStreamFeed_ClosedOnShutdown(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource(testRecords), nil)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/feed/stream"
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial feedResponse
	require.NoError(t, conn.ReadJSON(&initial))

	env.api.Close()

	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestGetQuote_FormIntents(t *testing.T) {
	t.Parallel()

	// Arrange
	env := newTestEnv(t, staticSource(testRecords), nil)
	require.NoError(t, env.feed.Refresh(t.Context()))
	ethBalance := quote.DeterministicBalance{}.BalanceOf("ETH")
	get := func(query string) quoteResponse {
		t.Helper()
		resp, body := env.do(t, http.MethodGet, "/api/v1/quote?"+query, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		var got quoteResponse
		require.NoError(t, json.Unmarshal(body, &got))
		return got
	}

	// Act
	switched := get("from=ETH&to=BTC&amount=1&switch=true")
	switchedEmpty := get("from=ETH&to=BTC&amount=0&switch=true")
	maxed := get("from=ETH&to=BTC&amount=1&max=true")
	clampedEmpty := get("from=ETH&to=BTC&clamp=true")
	clampedOver := get("from=ETH&to=BTC&amount=100000&clamp=true")
	clampedFits := get("from=ETH&to=BTC&amount=3&clamp=true")

	// Assert: switching carries the previous output over as the amount.
	require.Equal(t, "BTC", switched.From)
	require.Equal(t, "ETH", switched.To)
	require.InDelta(t, 0.0525, switched.Amount, 1e-12)
	require.InDelta(t, 1.0, switched.Output, 1e-9)
	require.True(t, switched.Valid)

	require.Equal(t, "BTC", switchedEmpty.From)
	require.Zero(t, switchedEmpty.Amount)
	require.Equal(t, quote.ReasonNonPositiveAmount, switchedEmpty.Reason)

	require.InDelta(t, ethBalance, maxed.Amount, 1e-12)
	require.True(t, maxed.Valid)

	require.InDelta(t, min(ethBalance, 100), clampedEmpty.Amount, 1e-12)
	require.InDelta(t, ethBalance, clampedOver.Amount, 1e-12)
	require.True(t, clampedOver.Valid)
	require.InDelta(t, 3.0, clampedFits.Amount, 1e-12)
}

// stubFeed serves a fixed current state and lets the test deliver published states by hand.
type stubFeed struct {
	mu       sync.Mutex
	state    feed.State
	interval time.Duration
	subs     []func(feed.State)
}

func (f *stubFeed) State() feed.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *stubFeed) setState(st feed.State) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
}

func (f *stubFeed) Refresh(context.Context) error { return nil }

func (f *stubFeed) Interval() time.Duration { return f.interval }

func (f *stubFeed) Subscribe(fn func(feed.State)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *stubFeed) publish(st feed.State) {
	f.mu.Lock()
	subs := append([]func(feed.State){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func TestStreamFeed_CountdownFollowsEachSnapshot(t *testing.T) {
	t.Parallel()

	// Arrange
	t0 := day(5)
	later := t0.Add(30 * time.Second)
	stub := &stubFeed{state: feed.State{Status: feed.StatusIdle, Version: 5}, interval: time.Minute}
	logger, _ := logtest.NewNullLogger()
	s := New(Options{Feed: stub, Logger: logger, Now: func() time.Time { return t0.Add(40 * time.Second) }})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(s.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/feed/stream"
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial feedResponse
	require.NoError(t, conn.ReadJSON(&initial))
	require.Equal(t, 60, initial.RefreshIn)

	// Act: the controller already moved on to version 7 when version 6 is delivered.
	stub.setState(feed.State{Status: feed.StatusReady, Version: 7, LastUpdated: &later})
	stub.publish(feed.State{Status: feed.StatusReady, Version: 6, LastUpdated: &t0})

	// Assert
	var got feedResponse
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, uint64(6), got.Version)
	require.Equal(t, 20, got.RefreshIn)
}
