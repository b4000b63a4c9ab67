// Package widget bridges the embedded third-party widgets (identity
// verification and card payment) to the onramp state machine. Widget modules
// load asynchronously through an injected Loader, so the core runs and tests
// without the real embedded components.
package widget

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/Crossmint/onramp-quickstart/internal/onramp"
)

// ErrNoConfig is returned by Mount when the machine holds no bootstrap
// config for the widget, which means the flow is not in the matching phase.
var ErrNoConfig = errors.New("widget: no config available for current status")

// IdentityEvents is the callback contract of the identity verification
// widget. Handlers may be nil. The loader must not emit events before the
// Load call has returned.
type IdentityEvents struct {
	OnReady    func()
	OnComplete func()
	OnCancel   func()
	OnError    func(error)
}

// PaymentEvents is the callback contract of the card payment widget.
// Handlers may be nil. The loader must not emit events before the Load call
// has returned.
type PaymentEvents struct {
	OnReady            func()
	OnPaymentCompleted func(paymentID string)
	OnChange           func(valid bool)
	OnError            func(error)
}

// PaymentParams carries everything the payment widget is constructed with.
type PaymentParams struct {
	PublicKey      string
	PaymentSession json.RawMessage
	Environment    string
	Locale         string
	Appearance     map[string]any
}

// IdentityWidget is a loaded identity verification widget instance. Open
// displays it; it is called once the widget reports ready.
type IdentityWidget interface {
	Open() error
	Close()
}

// PaymentWidget is a loaded card payment widget instance. The embedded
// component exposes Create(flowName).Mount(containerSelector).
type PaymentWidget interface {
	Create(flowName string) PaymentFlow
	Close()
}

// PaymentFlow is a created payment flow ready to mount into a container.
type PaymentFlow interface {
	Mount(containerSelector string) error
}

// Loader loads third-party widget modules. Loading is a suspension point: it
// may take arbitrarily long and must honor ctx cancellation.
type Loader interface {
	LoadIdentity(ctx context.Context, cfg onramp.IdentityVerificationConfig, ev IdentityEvents) (IdentityWidget, error)
	LoadPayment(ctx context.Context, params PaymentParams, ev PaymentEvents) (PaymentWidget, error)
}
