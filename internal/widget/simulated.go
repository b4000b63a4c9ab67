package widget

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/Crossmint/onramp-quickstart/internal/onramp"
)

// SimulatedLoader stands in for the real embedded widgets. Loaded widgets
// fire a scripted ready event followed by a completion event, so the full
// flow can run end to end without a browser.
type SimulatedLoader struct {
	// ReadyDelay is how long after load a widget reports ready.
	ReadyDelay time.Duration
	// CompleteDelay is how long after ready the user "finishes" the widget.
	CompleteDelay time.Duration
	// FailLoad makes every load call fail.
	FailLoad bool
	// FailRuntime makes widgets emit an error event instead of completing.
	FailRuntime bool
}

var _ Loader = (*SimulatedLoader)(nil)

func (l *SimulatedLoader) LoadIdentity(ctx context.Context, _ onramp.IdentityVerificationConfig, ev IdentityEvents) (IdentityWidget, error) {
	if l.FailLoad {
		return nil, errors.New("simulated identity load failure")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &simulatedIdentity{}
	w.script(ctx, l, ev)
	return w, nil
}

func (l *SimulatedLoader) LoadPayment(ctx context.Context, _ PaymentParams, ev PaymentEvents) (PaymentWidget, error) {
	if l.FailLoad {
		return nil, errors.New("simulated payment load failure")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &simulatedPayment{}
	w.script(ctx, l, ev)
	return w, nil
}

type simulatedIdentity struct {
	mu     sync.Mutex
	closed bool
	opened bool
}

func (w *simulatedIdentity) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("simulated identity widget: open after close")
	}
	w.opened = true
	return nil
}

func (w *simulatedIdentity) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *simulatedIdentity) script(ctx context.Context, l *SimulatedLoader, ev IdentityEvents) {
	go func() {
		if !sleep(ctx, l.ReadyDelay) {
			return
		}
		if w.isClosed() {
			return
		}
		emit(ev.OnReady)

		if !sleep(ctx, l.CompleteDelay) {
			return
		}
		if w.isClosed() {
			return
		}
		if l.FailRuntime {
			if ev.OnError != nil {
				ev.OnError(errors.New("simulated identity verification failure"))
			}
			return
		}
		emit(ev.OnComplete)
	}()
}

func (w *simulatedIdentity) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type simulatedPayment struct {
	mu     sync.Mutex
	closed bool
}

func (w *simulatedPayment) Create(string) PaymentFlow {
	return &simulatedFlow{w: w}
}

func (w *simulatedPayment) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *simulatedPayment) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type simulatedFlow struct {
	w *simulatedPayment
}

func (f *simulatedFlow) Mount(string) error {
	if f.w.isClosed() {
		return errors.New("simulated payment widget: mount after close")
	}
	return nil
}

func (w *simulatedPayment) script(ctx context.Context, l *SimulatedLoader, ev PaymentEvents) {
	go func() {
		if !sleep(ctx, l.ReadyDelay) {
			return
		}
		if w.isClosed() {
			return
		}
		emit(ev.OnReady)

		if !sleep(ctx, l.CompleteDelay) {
			return
		}
		if w.isClosed() {
			return
		}
		if l.FailRuntime {
			if ev.OnError != nil {
				ev.OnError(errors.New("simulated payment failure"))
			}
			return
		}
		if ev.OnPaymentCompleted != nil {
			ev.OnPaymentCompleted(uuid.NewString())
		}
	}()
}

func emit(fn func()) {
	if fn != nil {
		fn()
	}
}

// sleep waits for d and reports whether the wait completed without the
// context being cancelled. A zero duration still checks cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
