package onramp

import "encoding/json"

// CreateOrderRequest is the body for POST /api/orders.
type CreateOrderRequest struct {
	Amount        string `json:"amount"`
	ReceiptEmail  string `json:"receiptEmail"`
	WalletAddress string `json:"walletAddress"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// IdentityVerificationConfig is opaque bootstrap data for the embedded
// identity verification widget.
type IdentityVerificationConfig struct {
	TemplateID    string `json:"templateId"`
	ReferenceID   string `json:"referenceId"`
	EnvironmentID string `json:"environmentId"`
}

// PaymentSessionConfig is opaque bootstrap data for the embedded card
// payment widget. Session may be rotated by the server between polls.
type PaymentSessionConfig struct {
	Session   json.RawMessage
	PublicKey string
}

// Preparation carries widget bootstrap data inside a payment state.
type Preparation struct {
	KYC            *IdentityVerificationConfig `json:"kyc,omitempty"`
	PaymentSession json.RawMessage             `json:"checkoutcomPaymentSession,omitempty"`
	PublicKey      string                      `json:"checkoutcomPublicKey,omitempty"`
}

// paymentSessionConfig returns the payment session carried by the
// preparation, or nil when the server has not issued one.
func (p Preparation) paymentSessionConfig() *PaymentSessionConfig {
	if len(p.PaymentSession) == 0 || p.PublicKey == "" {
		return nil
	}
	return &PaymentSessionConfig{
		Session:   p.PaymentSession,
		PublicKey: p.PublicKey,
	}
}

// PaymentState is the payment portion of an order payload.
type PaymentState struct {
	Status      string      `json:"status"`
	Preparation Preparation `json:"preparation"`
}

// Money is a quoted monetary amount, kept as the server's decimal string.
type Money struct {
	Amount string `json:"amount"`
}

// QuantityRange bounds the quantity a line item will deliver. The lower bound
// is the amount credited net of fees.
type QuantityRange struct {
	LowerBound string `json:"lowerBound"`
	UpperBound string `json:"upperBound,omitempty"`
}

// LineItemQuote prices a single line item.
type LineItemQuote struct {
	QuantityRange QuantityRange `json:"quantityRange"`
	TotalPrice    Money         `json:"totalPrice"`
}

// CreatedLineItem is a line item as returned from order creation.
type CreatedLineItem struct {
	Quote LineItemQuote `json:"quote"`
}

// OrderQuote is the order-level quote.
type OrderQuote struct {
	TotalPrice Money `json:"totalPrice"`
}

// CreatedOrder is the success payload of POST /api/orders.
type CreatedOrder struct {
	OrderID   string            `json:"orderId"`
	Payment   PaymentState      `json:"payment"`
	LineItems []CreatedLineItem `json:"lineItems"`
	Quote     OrderQuote        `json:"quote"`
}

// Delivery is the token delivery state of a line item.
type Delivery struct {
	Status string `json:"status"`
	TxID   string `json:"txId"`
}

// SnapshotLineItem is a line item as returned from an order fetch.
type SnapshotLineItem struct {
	Delivery Delivery `json:"delivery"`
}

// OrderSnapshot is the success payload of GET /api/orders/{orderId}.
type OrderSnapshot struct {
	OrderID   string             `json:"orderId"`
	Phase     string             `json:"phase"`
	Payment   PaymentState       `json:"payment"`
	LineItems []SnapshotLineItem `json:"lineItems"`
}

// delivery returns the first line item's delivery state, zero when absent.
func (s *OrderSnapshot) delivery() Delivery {
	if len(s.LineItems) == 0 {
		return Delivery{}
	}
	return s.LineItems[0].Delivery
}
