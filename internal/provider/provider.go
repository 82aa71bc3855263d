package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnexpectedStatus is wrapped by sources when the remote answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// PriceRecord is one raw entry of the remote price list.
// Several records may share a currency (historical entries).
// A missing price is represented as 0.
type PriceRecord struct {
	Currency string    `json:"currency"`
	Date     time.Time `json:"date"`
	Price    float64   `json:"price"`
}

// Source returns the full raw price list on every call.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]PriceRecord, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]PriceRecord, error)

func (f SourceFunc) Name() string { return "func" }

func (f SourceFunc) Fetch(ctx context.Context) ([]PriceRecord, error) { return f(ctx) }

// Invalidator is implemented by sources that keep results between calls.
// Invalidate makes the next Fetch go to the remote.
type Invalidator interface {
	Invalidate()
}
