package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"swapfeed/internal/feed"
	"swapfeed/internal/format"
	"swapfeed/internal/metrics"
	"swapfeed/internal/quote"
)

// State is the position of a Submitter.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateFailed     State = "failed"
)

// DefaultDelay is how long SimulatedExecutor takes to settle a swap.
const DefaultDelay = 1300 * time.Millisecond

var (
	ErrInvalidQuote = errors.New("swap: quote is not valid")
	ErrBusy         = errors.New("swap: a submission is already in progress")
)

// Receipt confirms a settled swap.
type Receipt struct {
	ID          uuid.UUID `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Amount      float64   `json:"amount"`
	Output      float64   `json:"outputAmount"`
	Message     string    `json:"message"`
	CompletedAt time.Time `json:"completedAt"`
}

// Executor settles a swap described by a valid quote.
type Executor interface {
	Execute(ctx context.Context, q quote.Result) (Receipt, error)
}

// SimulatedExecutor settles every swap after Delay.
type SimulatedExecutor struct {
	Delay time.Duration
	Now   func() time.Time
}

func (e SimulatedExecutor) Execute(ctx context.Context, q quote.Result) (Receipt, error) {
	t := time.NewTimer(e.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-t.C:
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return Receipt{
		ID:          uuid.New(),
		From:        q.From,
		To:          q.To,
		Amount:      q.Amount,
		Output:      q.Output,
		Message:     Confirmation(q),
		CompletedAt: now(),
	}, nil
}

// Confirmation is the message shown after a successful swap.
func Confirmation(q quote.Result) string {
	return fmt.Sprintf("Swapped %s %s → %s %s",
		format.Token(q.Amount, 4), q.From, format.Token(q.Output, 4), q.To)
}

// Submitter guards an Executor with the idle → submitting → idle | failed state machine.
type Submitter struct {
	exec Executor
	log  logrus.FieldLogger

	mu      sync.Mutex
	state   State
	lastErr error
}

// NewSubmitter returns an idle Submitter.
func NewSubmitter(exec Executor, logger logrus.FieldLogger) *Submitter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Submitter{
		exec:  exec,
		log:   logger.WithField("component", "swap"),
		state: StateIdle,
	}
}

// Submit executes q. It is rejected with ErrInvalidQuote unless q is valid and with ErrBusy
// while another submission runs. A failed execution leaves the Submitter in StateFailed.
func (s *Submitter) Submit(ctx context.Context, q quote.Result) (Receipt, error) {
	if !q.Valid {
		metrics.ObserveSwap("rejected")
		return Receipt{}, fmt.Errorf("%w: %s", ErrInvalidQuote, q.Reason)
	}

	s.mu.Lock()
	if s.state == StateSubmitting {
		s.mu.Unlock()
		metrics.ObserveSwap("busy")
		return Receipt{}, ErrBusy
	}
	s.state = StateSubmitting
	s.lastErr = nil
	s.mu.Unlock()

	log := s.log.WithField("from", q.From).WithField("to", q.To).WithField("amount", q.Amount)
	log.Debug("submitting swap")

	r, err := s.exec.Execute(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateFailed
		s.lastErr = err
		metrics.ObserveSwap("failed")
		log.WithError(err).Warn("swap failed")
		return Receipt{}, fmt.Errorf("swap: execute: %w", err)
	}
	s.state = StateIdle
	metrics.ObserveSwap("success")
	log.WithField("receipt", r.ID).Info(r.Message)
	return r, nil
}

// Status returns the current state and, in StateFailed, the error that caused it.
func (s *Submitter) Status() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// Reset returns a failed Submitter to idle. It has no effect while submitting.
func (s *Submitter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed {
		s.state = StateIdle
		s.lastErr = nil
	}
}

// ActionLabel is the caption of the swap button for the given feed and submitter states.
func ActionLabel(fs feed.Status, ss State) string {
	switch {
	case ss == StateSubmitting:
		return "Submitting…"
	case fs == feed.StatusLoading:
		return "Fetching markets…"
	case fs == feed.StatusError:
		return "Retry soon"
	default:
		return "Swap now"
	}
}
