//go:build integration

// Package integration exercises the whole stack in process: a scripted
// upstream stands in for the Crossmint API, the proxy runs with its full
// middleware chain, and the state machine drives the flow through the proxy
// exactly the way the demo client does.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Crossmint/onramp-quickstart/internal/crossmint"
	"github.com/Crossmint/onramp-quickstart/internal/handler"
	"github.com/Crossmint/onramp-quickstart/pkg/health"
	"github.com/Crossmint/onramp-quickstart/pkg/httpmiddleware"
)

// fakeUpstream is a scripted Crossmint API. Order creation returns a
// requires-kyc order; each subsequent fetch serves the next snapshot in the
// script, repeating the last one.
type fakeUpstream struct {
	mu        sync.Mutex
	apiKey    string
	snapshots []string
	createds  int
	fetches   int
}

func (f *fakeUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != f.apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")

		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			f.createds++
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"order":{
				"orderId":"order-it-1",
				"payment":{
					"status":"requires-kyc",
					"preparation":{"kyc":{"templateId":"tmpl_1","referenceId":"order-it-1","environmentId":"env_1"}}
				},
				"lineItems":[{"quote":{"quantityRange":{"lowerBound":"19.75"},"totalPrice":{"amount":"20"}}}],
				"quote":{"totalPrice":{"amount":"20"}}
			}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/orders/order-it-1":
			f.fetches++
			snap := f.snapshots[0]
			if len(f.snapshots) > 1 {
				f.snapshots = f.snapshots[1:]
			}
			_, _ = w.Write([]byte(snap))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
		}
	}
}

const (
	snapAwaitingPayment = `{"orderId":"order-it-1","payment":{
		"status":"awaiting-payment",
		"preparation":{"checkoutcomPaymentSession":{"id":"cko_sess_1"},"checkoutcomPublicKey":"pk_test"}
	}}`
	snapSettled = `{"orderId":"order-it-1","phase":"completed",
		"payment":{"status":"completed"},
		"lineItems":[{"delivery":{"status":"completed","txId":"tx-it-1"}}]}`
)

// stack is a running proxy wired to a fake upstream.
type stack struct {
	upstream *fakeUpstream
	proxy    *httptest.Server
	health   *health.Health
}

func newStack(t *testing.T, rateLimit int, snapshots ...string) *stack {
	t.Helper()

	up := &fakeUpstream{apiKey: "it-test-key", snapshots: snapshots}
	upSrv := httptest.NewServer(up.handler())
	t.Cleanup(upSrv.Close)

	checkout := crossmint.NewClient(crossmint.EnvStaging, "it-test-key", crossmint.WithBaseURL(upSrv.URL))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(checkout, crossmint.EnvStaging).Register(mux)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	lg := zaptest.NewLogger(t)
	proxy := httptest.NewServer(httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{AllowHeaders: []string{"Content-Type"}, MaxAge: 60}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    rateLimit,
			Window: time.Minute,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.LogRequests(),
	))
	t.Cleanup(proxy.Close)

	return &stack{upstream: up, proxy: proxy, health: healthSvc}
}
