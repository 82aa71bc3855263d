package catalog

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"swapfeed/internal/provider"
)

// DefaultIconBase hosts one SVG per token symbol.
const DefaultIconBase = "https://raw.githubusercontent.com/Switcheo/token-icons/main/tokens"

// Token is one tradable entry of a catalog.
type Token struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observedAt"`
	IconURL    string    `json:"iconUrl"`
}

// Catalog is sorted by symbol and holds at most one Token per symbol.
// A published Catalog is never modified.
type Catalog []Token

// Normalize collapses raw records into a catalog.
// Rules:
// - Records with a non-positive price or an empty currency are dropped.
// - Per currency the record with the latest date is kept; on equal dates the earlier input wins.
// - Tokens are sorted by symbol, case-insensitively, with the raw symbol as tie-break.
func Normalize(records []provider.PriceRecord, iconBase string) Catalog {
	latest := make(map[string]int, len(records))
	kept := make([]provider.PriceRecord, 0, len(records))

	for _, r := range records {
		if r.Currency == "" || !(r.Price > 0) {
			continue
		}
		if i, ok := latest[r.Currency]; ok {
			if r.Date.After(kept[i].Date) {
				kept[i] = r
			}
			continue
		}
		latest[r.Currency] = len(kept)
		kept = append(kept, r)
	}

	out := make(Catalog, 0, len(kept))
	for _, r := range kept {
		out = append(out, Token{
			Symbol:     r.Currency,
			Price:      r.Price,
			ObservedAt: r.Date,
			IconURL:    IconURL(iconBase, r.Currency),
		})
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i].Symbol, out[j].Symbol) })
	return out
}

// Less orders symbols case-insensitively; symbols equal under folding fall back to byte order.
func Less(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// IconURL derives the icon location of a symbol. The symbol is escaped the way
// encodeURIComponent does it; nothing is fetched.
func IconURL(base, symbol string) string {
	if base == "" {
		base = DefaultIconBase
	}
	return strings.TrimSuffix(base, "/") + "/" + escapeComponent(symbol) + ".svg"
}

func escapeComponent(s string) string {
	e := url.QueryEscape(s)
	// QueryEscape differs from encodeURIComponent on these.
	r := strings.NewReplacer(
		"+", "%20",
		"%21", "!",
		"%27", "'",
		"%28", "(",
		"%29", ")",
		"%2A", "*",
	)
	return r.Replace(e)
}

// Find returns the token with the given symbol.
func (c Catalog) Find(symbol string) (Token, bool) {
	if symbol == "" {
		return Token{}, false
	}
	for _, t := range c {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// Symbols lists the catalog symbols in catalog order.
func (c Catalog) Symbols() []string {
	out := make([]string, 0, len(c))
	for _, t := range c {
		out = append(out, t.Symbol)
	}
	return out
}
