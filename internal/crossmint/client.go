// Package crossmint is a minimal client for the Crossmint orders API, scoped
// to what the onramp proxy needs: creating a fiat-to-token order and fetching
// its current state.
package crossmint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Environment selects the upstream Crossmint deployment.
type Environment string

const (
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

// Valid reports whether the environment is one of the known deployments.
func (e Environment) Valid() bool {
	return e == EnvStaging || e == EnvProduction
}

func (e Environment) baseURL() string {
	return fmt.Sprintf("https://%s.crossmint.com/api/2022-06-09", e)
}

// DefaultTokenLocator returns the USDC-on-Solana locator for the environment.
// Staging and production use different mint addresses.
func (e Environment) DefaultTokenLocator() string {
	if e == EnvProduction {
		return "solana:EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	}
	return "solana:4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
}

const maxResponseBytes = 1 << 20

// Client calls the Crossmint orders API with server-side credentials.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

// WithBaseURL overrides the environment-derived upstream URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client for the given environment. The API key is sent
// on every request and must never reach a browser.
func NewClient(env Environment, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: env.baseURL(),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOrderParams is the input for one onramp order.
type CreateOrderParams struct {
	// Amount is the fiat amount as a decimal string.
	Amount string
	// ReceiptEmail receives the payment receipt.
	ReceiptEmail string
	// WalletAddress receives the delivered tokens.
	WalletAddress string
	// PaymentMethod selects the embedded payment flow.
	PaymentMethod string
	// TokenLocator identifies the token to deliver.
	TokenLocator string
}

type orderRequest struct {
	LineItems []lineItem `json:"lineItems"`
	Payment   payment    `json:"payment"`
	Recipient recipient  `json:"recipient"`
}

type lineItem struct {
	TokenLocator        string              `json:"tokenLocator"`
	ExecutionParameters executionParameters `json:"executionParameters"`
}

type executionParameters struct {
	Mode   string `json:"mode"`
	Amount string `json:"amount"`
}

type payment struct {
	Method       string `json:"method"`
	ReceiptEmail string `json:"receiptEmail"`
}

type recipient struct {
	WalletAddress string `json:"walletAddress"`
}

// CreateOrder creates an onramp order and returns the upstream response body
// verbatim. The proxy forwards it to the browser untouched, so it is not
// decoded here.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) ([]byte, error) {
	body, err := json.Marshal(orderRequest{
		LineItems: []lineItem{{
			TokenLocator: params.TokenLocator,
			ExecutionParameters: executionParameters{
				Mode:   "exact-in",
				Amount: params.Amount,
			},
		}},
		Payment: payment{
			Method:       params.PaymentMethod,
			ReceiptEmail: params.ReceiptEmail,
		},
		Recipient: recipient{
			WalletAddress: params.WalletAddress,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode order")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// GetOrder fetches the order's current state, returned verbatim.
func (c *Client) GetOrder(ctx context.Context, orderID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "crossmint request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newUpstreamError(resp.StatusCode, body)
	}
	return body, nil
}

// UpstreamError is a non-2xx response from Crossmint. Details carries the raw
// upstream body so the proxy can surface it to the caller.
type UpstreamError struct {
	StatusCode int
	Message    string
	Details    []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("crossmint: %s (status %d)", e.Message, e.StatusCode)
}

func newUpstreamError(status int, body []byte) *UpstreamError {
	e := &UpstreamError{
		StatusCode: status,
		Message:    http.StatusText(status),
		Details:    body,
	}
	if msg := errorMessage(body); msg != "" {
		e.Message = msg
	}
	return e
}

// errorMessage extracts the "message" or "error" field from an upstream error
// body, empty when the body is not shaped that way.
func errorMessage(body []byte) string {
	var msg string
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "message", "error":
			s, err := d.Str()
			if err != nil {
				return err
			}
			if msg == "" {
				msg = s
			}
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return ""
	}
	return msg
}
