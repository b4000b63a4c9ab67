package widget

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Crossmint/onramp-quickstart/internal/onramp"
)

const (
	flowName = "flow"

	// PaymentContainer is the DOM selector the payment flow mounts into.
	PaymentContainer = "#payment-container"

	defaultEnvironment = "sandbox"
	defaultLocale      = "en-US"
)

// DefaultAppearance is the visual configuration passed to the payment widget.
func DefaultAppearance() map[string]any {
	return map[string]any{
		"colorBorder":  "#FFFFFF",
		"colorAction":  "#060735",
		"borderRadius": []string{"8px", "50px"},
	}
}

// PaymentAdapter mounts the card payment widget for the machine's pending
// payment session. A completed payment starts payment polling; widget errors
// fail the flow.
type PaymentAdapter struct {
	loader  Loader
	machine *onramp.Machine
	lg      *zap.Logger

	mu      sync.Mutex
	mounted bool
	w       PaymentWidget
	cancel  context.CancelFunc
}

// NewPaymentAdapter creates an adapter bound to one machine. A nil logger
// disables adapter logging.
func NewPaymentAdapter(loader Loader, machine *onramp.Machine, lg *zap.Logger) *PaymentAdapter {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &PaymentAdapter{loader: loader, machine: machine, lg: lg}
}

// Mount loads the payment widget with the machine's current payment session
// and mounts the flow into PaymentContainer as soon as loading finishes.
// Mounting happens at most once per adapter; further calls are no-ops.
// Returns ErrNoConfig when the flow is not awaiting payment.
func (a *PaymentAdapter) Mount(ctx context.Context) error {
	session := a.machine.PaymentSession()
	if session == nil {
		return ErrNoConfig
	}

	a.mu.Lock()
	if a.mounted {
		a.mu.Unlock()
		return nil
	}
	a.mounted = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	params := PaymentParams{
		PublicKey:      session.PublicKey,
		PaymentSession: session.Session,
		Environment:    defaultEnvironment,
		Locale:         defaultLocale,
		Appearance:     DefaultAppearance(),
	}
	go a.load(ctx, params)
	return nil
}

// Unmount tears the adapter down: an in-flight load is cancelled so its
// eventual completion is a no-op, and a loaded widget is closed.
func (a *PaymentAdapter) Unmount() {
	a.mu.Lock()
	cancel, w := a.cancel, a.w
	a.w = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if w != nil {
		w.Close()
	}
}

func (a *PaymentAdapter) load(ctx context.Context, params PaymentParams) {
	ev := PaymentEvents{
		OnReady: func() {
			a.lg.Debug("payment widget ready")
		},
		OnPaymentCompleted: a.onPaymentCompleted,
		OnChange: func(valid bool) {
			a.lg.Debug("payment form changed", zap.Bool("valid", valid))
		},
		OnError: func(err error) {
			a.machine.FailWidget(&onramp.WidgetError{
				Kind:    onramp.KindWidgetRuntime,
				Message: err.Error(),
			})
		},
	}

	w, err := a.loader.LoadPayment(ctx, params, ev)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.machine.FailWidget(&onramp.WidgetError{
			Kind:    onramp.KindWidgetLoad,
			Message: err.Error(),
		})
		return
	}

	a.mu.Lock()
	if ctx.Err() != nil {
		a.mu.Unlock()
		w.Close()
		return
	}
	a.w = w
	a.mu.Unlock()

	// The flow mounts as soon as the module is loaded; unlike the identity
	// widget there is no ready gate before showing it.
	if err := w.Create(flowName).Mount(PaymentContainer); err != nil {
		a.machine.FailWidget(&onramp.WidgetError{
			Kind:    onramp.KindWidgetRuntime,
			Message: err.Error(),
		})
	}
}

func (a *PaymentAdapter) onPaymentCompleted(paymentID string) {
	a.lg.Debug("payment completed", zap.String("payment_id", paymentID))
	if err := a.machine.StartPaymentPolling(context.Background()); err != nil {
		a.lg.Warn("payment completion ignored", zap.Error(err))
	}
}
