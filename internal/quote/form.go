package quote

import (
	"math"

	"swapfeed/internal/catalog"
)

// DefaultPair picks the initial pair: the first two tokens, or the only token twice.
// ok is false for an empty catalog.
func DefaultPair(c catalog.Catalog) (from, to string, ok bool) {
	switch len(c) {
	case 0:
		return "", "", false
	case 1:
		return c[0].Symbol, c[0].Symbol, true
	default:
		return c[0].Symbol, c[1].Symbol, true
	}
}

// Switch reverses the pair. The amount becomes the previous output when there was one.
func Switch(from, to string, amount float64, prev Result) (string, string, float64) {
	if prev.Output > 0 {
		amount = prev.Output
	}
	return to, from, amount
}

// ClampAmount fits an amount to a freshly selected source token: an empty amount becomes
// min(balance, 100) and an amount above the balance becomes the balance.
func ClampAmount(amount, balance float64) float64 {
	switch {
	case amount <= 0 && balance > 0:
		return min(balance, 100)
	case amount > balance:
		return balance
	default:
		return amount
	}
}

// SanitizeAmount turns typed input into a usable amount. Negative and non-finite values
// become zero.
func SanitizeAmount(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
