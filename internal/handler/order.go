package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Crossmint/onramp-quickstart/internal/crossmint"
)

const maxRequestBytes = 1 << 16

// createOrderRequest is the browser-facing order creation body. The shape is
// intentionally small; the payment method and token locator are optional and
// fall back to server-side defaults.
type createOrderRequest struct {
	Amount        string `json:"amount"`
	ReceiptEmail  string `json:"receiptEmail"`
	WalletAddress string `json:"walletAddress"`
	PaymentMethod string `json:"paymentMethod"`
	TokenLocator  string `json:"tokenLocator"`
}

func (req *createOrderRequest) validate() string {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return "amount must be a positive decimal string"
	}
	if req.ReceiptEmail == "" {
		return "receiptEmail is required"
	}
	if _, err := mail.ParseAddress(req.ReceiptEmail); err != nil {
		return "receiptEmail is not a valid email address"
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		return "walletAddress is required"
	}
	return ""
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", nil)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON", nil)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg, nil)
		return
	}

	method := req.PaymentMethod
	if method == "" {
		method = "checkoutcom-flow"
	}
	locator := req.TokenLocator
	if locator == "" {
		locator = h.env.DefaultTokenLocator()
	}

	resp, err := h.checkout.CreateOrder(r.Context(), crossmint.CreateOrderParams{
		Amount:        req.Amount,
		ReceiptEmail:  req.ReceiptEmail,
		WalletAddress: req.WalletAddress,
		PaymentMethod: method,
		TokenLocator:  locator,
	})
	if err != nil {
		writeUpstreamFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "orderId is required", nil)
		return
	}
	// Order IDs travel into the upstream URL path; reject anything that
	// would change its shape.
	if url.PathEscape(orderID) != orderID {
		writeError(w, http.StatusBadRequest, "orderId contains invalid characters", nil)
		return
	}

	resp, err := h.checkout.GetOrder(r.Context(), orderID)
	if err != nil {
		writeUpstreamFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
