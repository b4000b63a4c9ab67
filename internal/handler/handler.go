// Package handler exposes the order proxy HTTP API consumed by the onramp
// client. It validates browser input, attaches server-side credentials
// through the crossmint client, and forwards upstream responses verbatim.
package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/Crossmint/onramp-quickstart/internal/crossmint"
)

// Handler serves the proxy routes.
type Handler struct {
	checkout *crossmint.Client
	env      crossmint.Environment
}

// NewHandler constructs a Handler backed by the given upstream client.
func NewHandler(checkout *crossmint.Client, env crossmint.Environment) *Handler {
	return &Handler{checkout: checkout, env: env}
}

// Register mounts the proxy routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders/{orderId}", h.getOrder)
}

// writeJSON writes a raw JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes the {"error": ..., "details": ...} shape the onramp
// client decodes. Details is included only when the upstream supplied a JSON
// body.
func writeError(w http.ResponseWriter, status int, message string, details []byte) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) {
			e.Str(message)
		})
		if len(details) > 0 && jx.Valid(details) {
			e.Field("details", func(e *jx.Encoder) {
				e.Raw(details)
			})
		}
	})
	writeJSON(w, status, e.Bytes())
}

// writeUpstreamFailure maps an upstream call error to a proxy response:
// UpstreamError passes through with its status, anything else is a 502.
func writeUpstreamFailure(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *crossmint.UpstreamError
	if errors.As(err, &upstream) {
		zctx.From(r.Context()).Warn("upstream rejected request",
			zap.Int("status", upstream.StatusCode),
			zap.String("message", upstream.Message),
		)
		writeError(w, upstream.StatusCode, upstream.Message, upstream.Details)
		return
	}
	zctx.From(r.Context()).Error("upstream request failed", zap.Error(err))
	writeError(w, http.StatusBadGateway, "upstream request failed", nil)
}
