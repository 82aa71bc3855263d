package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"swapfeed/internal/feed"
	"swapfeed/internal/format"
	"swapfeed/internal/quote"
	"swapfeed/internal/swap"
)

type feedResponse struct {
	feed.State
	RefreshIn int `json:"refreshIn"`
}

type quoteResponse struct {
	quote.Result
	OutputText string `json:"outputText"`
	FromValue  string `json:"fromValue"`
	ToValue    string `json:"toValue"`
	Action     string `json:"action"`
}

// quoteQuery carries the form intents. Max fills in the whole balance, Clamp fits the amount
// to a newly selected source token and Switch reverses the pair after quoting.
type quoteQuery struct {
	From   string  `form:"from"`
	To     string  `form:"to"`
	Amount float64 `form:"amount"`
	Max    bool    `form:"max"`
	Clamp  bool    `form:"clamp"`
	Switch bool    `form:"switch"`
}

type swapRequest struct {
	From   string  `json:"from" binding:"required"`
	To     string  `json:"to" binding:"required"`
	Amount float64 `json:"amount"`
}

type swapStateResponse struct {
	State swap.State `json:"state"`
	Error string     `json:"error,omitempty"`
}

// feedResponse derives the countdown from st itself, not from the controller's latest state.
func (s *Server) feedResponse(st feed.State) feedResponse {
	return feedResponse{State: st, RefreshIn: feed.Countdown(st.LastUpdated, s.feed.Interval(), s.now())}
}

func (s *Server) getFeed(c *gin.Context) {
	c.JSON(http.StatusOK, s.feedResponse(s.feed.State()))
}

// refreshFeed runs one fetch cycle. A client that goes away does not abort the cycle.
func (s *Server) refreshFeed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.refreshTimeout)
	defer cancel()

	err := s.feed.Refresh(ctx)
	var terr *feed.TransportError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, s.feedResponse(s.feed.State()))
	case errors.Is(err, feed.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price feed is shutting down"})
	case errors.As(err, &terr):
		c.JSON(http.StatusBadGateway, gin.H{"error": terr.Message, "feed": s.feedResponse(s.feed.State())})
	default:
		s.log.WithError(err).Error("refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (s *Server) getQuote(c *gin.Context) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
		return
	}

	st := s.feed.State()
	if q.From == "" || q.To == "" {
		if from, to, ok := quote.DefaultPair(st.Tokens); ok {
			if q.From == "" {
				q.From = from
			}
			if q.To == "" {
				q.To = to
			}
		}
	}

	amount := quote.SanitizeAmount(q.Amount)
	switch {
	case q.Max:
		amount = s.quotes.Balance(st, q.From)
	case q.Clamp:
		amount = quote.ClampAmount(amount, s.quotes.Balance(st, q.From))
	}

	res := s.quotes.Quote(st, q.From, q.To, amount)
	if q.Switch {
		from, to, next := quote.Switch(res.From, res.To, res.Amount, res)
		res = s.quotes.Quote(st, from, to, next)
	}
	submitState, _ := s.swaps.Status()
	c.JSON(http.StatusOK, quoteResponse{
		Result:     res,
		OutputText: format.InputValue(res.Output),
		FromValue:  fiatValue(st, res.From, res.Amount),
		ToValue:    fiatValue(st, res.To, res.Output),
		Action:     swap.ActionLabel(st.Status, submitState),
	})
}

// fiatValue renders the dollar value of amount of symbol for display.
func fiatValue(st feed.State, symbol string, amount float64) string {
	tok, ok := st.Tokens.Find(symbol)
	if !ok || amount == 0 {
		return "Waiting for price"
	}
	return "≈ " + format.Fiat(amount*tok.Price, 2)
}

func (s *Server) postSwap(c *gin.Context) {
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	res := s.quotes.Quote(s.feed.State(), req.From, req.To, req.Amount)
	receipt, err := s.swaps.Submit(c.Request.Context(), res)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, receipt)
	case errors.Is(err, swap.ErrInvalidQuote):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "quote": res})
	case errors.Is(err, swap.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (s *Server) getSwapState(c *gin.Context) {
	st, err := s.swaps.Status()
	resp := swapStateResponse{State: st}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) resetSwap(c *gin.Context) {
	s.swaps.Reset()
	s.getSwapState(c)
}
