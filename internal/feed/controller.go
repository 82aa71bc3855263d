package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"swapfeed/internal/catalog"
	"swapfeed/internal/metrics"
	"swapfeed/internal/provider"
)

// Options configures a Controller.
type Options struct {
	Source   provider.Source
	IconBase string
	// FetchTimeout bounds a single fetch cycle; zero means no bound beyond the caller's context.
	FetchTimeout time.Duration
	Logger       logrus.FieldLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

type subscriber struct {
	id uint64
	fn func(State)
}

// Controller owns the feed state and drives its transitions.
type Controller struct {
	src      provider.Source
	iconBase string
	timeout  time.Duration
	log      logrus.FieldLogger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	life     context.Context
	kill     context.CancelFunc
	stopped  bool
	started  bool
	// runs counts Start calls; a polling goroutine only clears started for its own run.
	runs     uint64
	interval time.Duration
	subs     []subscriber
	nextSub  uint64
	wg       sync.WaitGroup

	// pending holds published states not yet delivered; a single drainer delivers them in order.
	pending  []State
	draining bool
}

// New creates an idle controller. Refresh works before Start.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	life, kill := context.WithCancel(context.Background())
	return &Controller{
		src:      opts.Source,
		iconBase: opts.IconBase,
		timeout:  opts.FetchTimeout,
		log:      opts.Logger.WithField("component", "feed"),
		now:      opts.Now,
		state:    State{Status: StatusIdle, Tokens: catalog.Catalog{}},
		life:     life,
		kill:     kill,
	}
}

// Start fetches immediately and, when autoRefresh is set, again every interval until Stop
// or until ctx is done. Starting a running controller is a no-op; a stopped one, or one whose
// polling ended with ctx, is started again.
func (c *Controller) Start(ctx context.Context, interval time.Duration, autoRefresh bool) error {
	if autoRefresh && interval <= 0 {
		return errors.New("feed: refresh interval must be positive")
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if c.stopped {
		c.life, c.kill = context.WithCancel(context.Background())
		c.stopped = false
	}
	c.started = true
	c.runs++
	run := c.runs
	c.interval = interval
	life := c.life
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx, life, run, interval, autoRefresh)

	c.log.WithField("interval", interval).WithField("auto_refresh", autoRefresh).Info("price feed started")
	return nil
}

func (c *Controller) run(ctx, life context.Context, run uint64, interval time.Duration, autoRefresh bool) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.runs == run {
			c.started = false
		}
		c.mu.Unlock()
	}()

	_ = c.cycle(ctx)
	if !autoRefresh {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-life.Done():
			return
		case <-ticker.C:
			_ = c.cycle(ctx)
		}
	}
}

// Refresh runs one fetch cycle outside the timer. A source that caches is invalidated first
// so the cycle reaches the remote. A failed cycle is returned to the caller after it has been
// recorded in the state.
func (c *Controller) Refresh(ctx context.Context) error {
	if inv, ok := c.src.(provider.Invalidator); ok {
		inv.Invalidate()
	}
	return c.cycle(ctx)
}

// Stop cancels the timer and any in-flight fetch; no cycle started before Stop publishes
// afterwards. It waits for the polling goroutine until ctx is done.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.started = false
	c.kill()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.log.Info("price feed stopped")
	return nil
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Interval is the polling interval given to Start. Pair it with Countdown to derive the
// time to the next refresh for a snapshot.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Subscribe registers fn to receive every state published after the call exactly once, in
// publish order. Callbacks are never run concurrently with each other and run without the
// controller lock held; a slow callback delays delivery to everyone.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Controller) cycle(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	life := c.life
	next := c.state
	changed := false
	if next.Status != StatusReady && next.Status != StatusLoading {
		next.Status = StatusLoading
		changed = true
	}
	if next.Error != "" {
		next.Error = ""
		changed = true
	}
	if changed {
		c.publishLocked(next)
	} else {
		c.mu.Unlock()
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(life, cancel)
	defer unhook()
	if c.timeout > 0 {
		var cancelTimeout context.CancelFunc
		fctx, cancelTimeout = context.WithTimeout(fctx, c.timeout)
		defer cancelTimeout()
	}

	start := c.now()
	records, err := c.src.Fetch(fctx)
	var tokens catalog.Catalog
	if err == nil {
		tokens = catalog.Normalize(records, c.iconBase)
	}
	done := c.now()

	c.mu.Lock()
	if life.Err() != nil {
		c.mu.Unlock()
		metrics.ObserveFetch("cancelled", done.Sub(start))
		c.log.Debug("discarding fetch result after stop")
		return ErrStopped
	}

	next = c.state
	if err != nil {
		terr := transportError(err)
		next.Status = StatusError
		next.Error = terr.Message
		c.publishLocked(next)

		metrics.ObserveFetch("error", done.Sub(start))
		c.log.WithError(err).Warn("price fetch failed")
		return terr
	}

	next.Status = StatusReady
	next.Tokens = tokens
	next.LastUpdated = &done
	next.Error = ""
	c.publishLocked(next)

	metrics.ObserveFetch("success", done.Sub(start))
	metrics.SetCatalog(len(tokens), done)
	c.log.WithField("tokens", len(tokens)).WithField("records", len(records)).Debug("price catalog published")
	return nil
}

// publishLocked stores s and delivers it to subscribers. It must be called with c.mu held and
// returns with it released.
func (c *Controller) publishLocked(s State) {
	s.Version = c.state.Version + 1
	c.state = s
	c.pending = append(c.pending, s)
	if c.draining {
		c.mu.Unlock()
		return
	}

	c.draining = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		subs := make([]subscriber, len(c.subs))
		copy(subs, c.subs)
		c.mu.Unlock()

		for _, st := range batch {
			for _, sub := range subs {
				sub.fn(st.clone())
			}
		}

		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}
