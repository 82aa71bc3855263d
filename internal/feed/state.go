package feed

import (
	"errors"
	"fmt"
	"math"
	"time"

	"swapfeed/internal/catalog"
	"swapfeed/internal/provider"
)

// Status is the lifecycle position of a feed.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Messages shown to users when a fetch cycle fails.
const (
	MsgUnavailable = "Unable to retrieve live prices."
	MsgFetchFailed = "Unable to fetch token prices."
)

// ErrStopped is returned for cycles on a stopped controller or cycles cut short by Stop.
var ErrStopped = errors.New("feed: controller stopped")

// State is a snapshot of the feed. Tokens is shared between snapshots and must not be modified.
type State struct {
	Status      Status          `json:"status"`
	Tokens      catalog.Catalog `json:"tokens"`
	LastUpdated *time.Time      `json:"lastUpdated"`
	Error       string          `json:"errorMessage,omitempty"`
	// Version increases by one with every published state.
	Version uint64 `json:"version"`
}

// Ready reports whether the catalog may be quoted against.
func (s State) Ready() bool { return s.Status == StatusReady }

func (s State) clone() State {
	if s.LastUpdated != nil {
		t := *s.LastUpdated
		s.LastUpdated = &t
	}
	return s
}

// TransportError is a failed fetch cycle. Message is safe to show to users.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s (%v)", e.Message, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportError(err error) *TransportError {
	msg := MsgFetchFailed
	if errors.Is(err, provider.ErrUnexpectedStatus) {
		msg = MsgUnavailable
	}
	return &TransportError{Message: msg, Err: err}
}

// Countdown returns the whole seconds until the next scheduled refresh, never less than 1.
// Before the first successful fetch it is the full interval.
func Countdown(lastUpdated *time.Time, interval time.Duration, now time.Time) int {
	full := int(math.Ceil(interval.Seconds()))
	if lastUpdated == nil || interval <= 0 {
		return full
	}
	remaining := int(math.Ceil(lastUpdated.Add(interval).Sub(now).Seconds()))
	if remaining < 1 {
		return 1
	}
	return remaining
}
