package switcheo

import (
	"net/http"
)

// DefaultEndpoint serves the demo price list.
const DefaultEndpoint = "https://interview.switcheo.com/prices.json"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=switcheo_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client reads the raw price list published as a JSON array.
type Client struct {
	// endpoint is the full URL of the price list.
	endpoint string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// ClientOption is a configuration option for the price list client.
type ClientOption func(*Client)

// WithEndpoint sets the URL of the price list.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new price list client.
func NewClient(options ...ClientOption) (*Client, error) {
	var client = &Client{
		endpoint:   DefaultEndpoint,
		httpClient: http.DefaultClient,
		header:     http.Header{"Accept": []string{"application/json"}},
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

func (c *Client) Name() string { return "switcheo" }
