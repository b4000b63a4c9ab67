package onramp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"
)

const maxResponseBytes = 1 << 20

// OrderAPI is the surface of the order API the Machine depends on.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreatedOrder, error)
	FetchOrder(ctx context.Context, orderID string) (*OrderSnapshot, error)
}

// Client calls the order proxy API. Every invocation performs exactly one
// outbound HTTP request with no internal retries and no caching; retry policy
// belongs to the caller. Calls are bounded by the HTTP client timeout, which
// surfaces as a network error.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ OrderAPI = (*Client)(nil)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client, including its timeout.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a Client for the proxy at baseURL with a 15s default
// request timeout.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOrder submits a new order and returns the created order payload.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreatedOrder, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: "encode order request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	data, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	// Creation responses wrap the order object.
	var out struct {
		Order CreatedOrder `json:"order"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: "decode order response: " + err.Error()}
	}
	return &out.Order, nil
}

// FetchOrder returns the current snapshot of an existing order.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/orders/"+orderID, nil)
	if err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: err.Error()}
	}

	data, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var snap OrderSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: "decode order snapshot: " + err.Error()}
	}
	return &snap, nil
}

// do executes one request and returns the response body, translating
// transport failures and non-2xx responses into typed errors.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{Kind: KindNetworkError, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Kind:       KindHTTPError,
			StatusCode: resp.StatusCode,
			Message:    serverErrorMessage(resp.StatusCode, data),
		}
	}
	return data, nil
}

// serverErrorMessage pulls the "error" field out of an error body without
// committing to the rest of its shape.
func serverErrorMessage(status int, body []byte) string {
	msg := ""
	d := jx.DecodeBytes(body)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key == "error" {
			s, err := d.Str()
			if err != nil {
				return err
			}
			msg = s
			return nil
		}
		return d.Skip()
	})
	if msg == "" {
		msg = fmt.Sprintf("order API returned status %d", status)
	}
	return msg
}
