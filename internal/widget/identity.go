package widget

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Crossmint/onramp-quickstart/internal/onramp"
)

// IdentityAdapter mounts the identity verification widget for the machine's
// pending KYC config and translates widget events into machine transitions:
// ready opens the widget, complete starts KYC polling, error fails the flow.
type IdentityAdapter struct {
	loader  Loader
	machine *onramp.Machine
	lg      *zap.Logger

	mu      sync.Mutex
	mounted bool
	opened  bool
	ready   bool
	w       IdentityWidget
	cancel  context.CancelFunc
}

// NewIdentityAdapter creates an adapter bound to one machine. A nil logger
// disables adapter logging.
func NewIdentityAdapter(loader Loader, machine *onramp.Machine, lg *zap.Logger) *IdentityAdapter {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &IdentityAdapter{loader: loader, machine: machine, lg: lg}
}

// Mount loads the widget for the machine's current identity verification
// config. Mounting happens at most once per adapter; further calls are
// no-ops. Returns ErrNoConfig when the flow has no pending KYC.
func (a *IdentityAdapter) Mount(ctx context.Context) error {
	cfg := a.machine.KYCConfig()
	if cfg == nil {
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

	go a.load(ctx, *cfg)
	return nil
}

// Unmount tears the adapter down: an in-flight load is cancelled so its
// eventual completion is a no-op, and a loaded widget is closed.
func (a *IdentityAdapter) Unmount() {
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

func (a *IdentityAdapter) load(ctx context.Context, cfg onramp.IdentityVerificationConfig) {
	ev := IdentityEvents{
		OnReady:    a.onReady,
		OnComplete: a.onComplete,
		OnCancel: func() {
			a.lg.Debug("identity verification cancelled by user")
		},
		OnError: func(err error) {
			a.machine.FailWidget(&onramp.WidgetError{
				Kind:    onramp.KindWidgetRuntime,
				Message: err.Error(),
			})
		},
	}

	w, err := a.loader.LoadIdentity(ctx, cfg, ev)
	if err != nil {
		if ctx.Err() != nil {
			// Torn down mid-load; drop silently.
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
	ready := a.ready
	a.mu.Unlock()

	// The ready event may have raced ahead of the handle being stored.
	if ready {
		a.open()
	}
}

func (a *IdentityAdapter) onReady() {
	a.mu.Lock()
	a.ready = true
	loaded := a.w != nil
	a.mu.Unlock()

	if loaded {
		a.open()
	}
}

// open opens the widget exactly once, regardless of whether load completion
// or the ready event came last.
func (a *IdentityAdapter) open() {
	a.mu.Lock()
	if a.opened || a.w == nil {
		a.mu.Unlock()
		return
	}
	a.opened = true
	w := a.w
	a.mu.Unlock()

	if err := w.Open(); err != nil {
		a.machine.FailWidget(&onramp.WidgetError{
			Kind:    onramp.KindWidgetRuntime,
			Message: err.Error(),
		})
	}
}

func (a *IdentityAdapter) onComplete() {
	if err := a.machine.StartKYCPolling(context.Background()); err != nil {
		a.lg.Warn("identity completion ignored", zap.Error(err))
	}
}
