package switcheo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"swapfeed/internal/provider"
)

// maxBody caps the price list payload.
const maxBody = 4 << 20

// GetPrices retrieves the raw price list.
//
// Entries that are not objects or carry no string currency are skipped; a price that is absent
// or not a number is returned as 0 and an unparsable date as the zero time. Only transport
// problems, non-2xx statuses and a payload that is not a JSON array are errors.
func (c *Client) GetPrices(ctx context.Context, opts ...ClientOption) ([]provider.PriceRecord, error) {
	var override = &Client{
		endpoint:   c.endpoint,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
	}
	for _, opt := range opts {
		opt(override)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, override.endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", provider.ErrUnexpectedStatus, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading prices response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decoding prices response: invalid json")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("decoding prices response: expected array, got %s", root.Type)
	}

	var records = []provider.PriceRecord{}
	root.ForEach(func(_, entry gjson.Result) bool {
		// {
		//   "currency": "ETH",
		//   "date": "2023-08-29T07:10:52.000Z",
		//   "price": 1645.9337373737374
		// }
		if !entry.IsObject() {
			return true
		}
		currency := entry.Get("currency")
		if currency.Type != gjson.String {
			return true
		}
		var record = provider.PriceRecord{Currency: currency.Str}
		if price := entry.Get("price"); price.Type == gjson.Number {
			record.Price = price.Num
		}
		if date := entry.Get("date"); date.Type == gjson.String {
			record.Date = parseDate(date.Str)
		}
		records = append(records, record)
		return true
	})

	return records, nil
}

// Fetch implements provider.Source.
func (c *Client) Fetch(ctx context.Context) ([]provider.PriceRecord, error) {
	return c.GetPrices(ctx)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
