package quote

import (
	"unicode/utf16"

	"swapfeed/internal/catalog"
	"swapfeed/internal/feed"
)

// Reason explains why a quote cannot be submitted.
type Reason string

const (
	ReasonFeedNotReady      Reason = "feed-not-ready"
	ReasonUnknownToken      Reason = "unknown-token"
	ReasonSameToken         Reason = "same-token"
	ReasonNonPositiveAmount Reason = "non-positive-amount"
	ReasonExceedsBalance    Reason = "exceeds-balance"
)

// Input is everything a quote depends on.
type Input struct {
	Catalog catalog.Catalog
	Ready   bool
	From    string
	To      string
	Amount  float64
	Balance float64
}

// Result is a computed quote. Rate and Output are filled whenever they can be derived,
// even when the quote is not valid.
type Result struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Amount  float64 `json:"amount"`
	Rate    float64 `json:"rate"`
	Output  float64 `json:"outputAmount"`
	Valid   bool    `json:"isValid"`
	Reason  Reason  `json:"invalidReason,omitempty"`
	Balance float64 `json:"balance"`
}

// Compute derives a quote. It has no side effects.
func Compute(in Input) Result {
	res := Result{From: in.From, To: in.To, Amount: in.Amount, Balance: in.Balance}

	from, okFrom := in.Catalog.Find(in.From)
	to, okTo := in.Catalog.Find(in.To)
	if okFrom && okTo && to.Price != 0 {
		res.Rate = from.Price / to.Price
	}
	if in.Amount > 0 && res.Rate > 0 {
		res.Output = in.Amount * res.Rate
	}

	switch {
	case !in.Ready:
		res.Reason = ReasonFeedNotReady
	case !okFrom || !okTo:
		res.Reason = ReasonUnknownToken
	case from.Symbol == to.Symbol:
		res.Reason = ReasonSameToken
	case in.Amount <= 0:
		res.Reason = ReasonNonPositiveAmount
	case in.Amount > in.Balance:
		res.Reason = ReasonExceedsBalance
	default:
		res.Valid = true
	}
	return res
}

// BalanceProvider reports the spendable balance of a token.
type BalanceProvider interface {
	BalanceOf(symbol string) float64
}

// DeterministicBalance derives a stable pseudo-balance in [10, 249] from the symbol.
// The empty symbol has no balance.
type DeterministicBalance struct{}

func (DeterministicBalance) BalanceOf(symbol string) float64 {
	if symbol == "" {
		return 0
	}
	seed := 0
	for i, u := range utf16.Encode([]rune(symbol)) {
		seed += int(u) * (i + 1)
	}
	return float64(10 + seed%240)
}

// Engine quotes against feed snapshots.
type Engine struct {
	Balances BalanceProvider
}

// NewEngine returns an Engine backed by b, or by DeterministicBalance when b is nil.
func NewEngine(b BalanceProvider) *Engine {
	if b == nil {
		b = DeterministicBalance{}
	}
	return &Engine{Balances: b}
}

// Balance is the spendable balance of symbol, or 0 when st does not list it.
func (e *Engine) Balance(st feed.State, symbol string) float64 {
	if _, ok := st.Tokens.Find(symbol); !ok {
		return 0
	}
	return e.Balances.BalanceOf(symbol)
}

// Quote computes a quote for amount of from into to against st.
func (e *Engine) Quote(st feed.State, from, to string, amount float64) Result {
	return Compute(Input{
		Catalog: st.Tokens,
		Ready:   st.Ready(),
		From:    from,
		To:      to,
		Amount:  amount,
		Balance: e.Balance(st, from),
	})
}
