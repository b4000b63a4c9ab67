package onramp

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Crossmint/onramp-quickstart/pkg/poll"
)

// The payment method requested for every order.
const paymentMethod = "checkoutcom-flow"

// Guard errors returned for caller mistakes. Order API failures are never
// returned; they are absorbed into the aggregate as an error status.
var (
	// ErrOrderInFlight is returned when CreateOrder is called while a
	// previous order is still progressing.
	ErrOrderInFlight = errors.New("order already in progress")

	// ErrInvalidAmount is returned when the amount is not a positive decimal.
	ErrInvalidAmount = errors.New("amount must be a positive decimal string")

	// ErrNoPendingKYC is returned when KYC polling is started without a
	// pending identity verification.
	ErrNoPendingKYC = errors.New("no identity verification pending")

	// ErrNoPendingPayment is returned when payment polling is started
	// without a pending payment.
	ErrNoPendingPayment = errors.New("no payment pending")
)

// MachineConfig tunes polling cadence and change notification. Zero values
// select the defaults.
type MachineConfig struct {
	// KYCPollInterval is the cadence of order fetches while waiting for
	// identity verification review. Defaults to 5s.
	KYCPollInterval time.Duration

	// PaymentPollInterval is the cadence of order fetches while waiting for
	// payment settlement and token delivery. Defaults to 4s.
	PaymentPollInterval time.Duration

	// StopCheckInterval is the cadence at which poller stop conditions are
	// evaluated. Defaults to 1s.
	StopCheckInterval time.Duration

	// MaxPollFailures bounds consecutive failed order fetches before the
	// flow surfaces an error. Defaults to 3.
	MaxPollFailures int

	// OnChange, when set, receives a copy of the Order aggregate after every
	// transition. It is invoked outside the machine lock; invocations may
	// overlap when transitions race.
	OnChange func(Order)
}

func (c MachineConfig) withDefaults() MachineConfig {
	if c.KYCPollInterval <= 0 {
		c.KYCPollInterval = 5 * time.Second
	}
	if c.PaymentPollInterval <= 0 {
		c.PaymentPollInterval = 4 * time.Second
	}
	if c.StopCheckInterval <= 0 {
		c.StopCheckInterval = time.Second
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = 3
	}
	return c
}

// Machine sequences the onramp order lifecycle: it owns the Order aggregate,
// derives the next status from server responses, and drives the poller. One
// Machine instance per flow; there is no package-level state.
//
// Widget adapters and UI code are read-only consumers plus callback triggers
// (StartKYCPolling, StartPaymentPolling, FailWidget); all mutation happens
// here.
type Machine struct {
	client        OrderAPI
	receiptEmail  string
	walletAddress string
	cfg           MachineConfig
	lg            *zap.Logger

	mu sync.Mutex
	// gen identifies the current flow. Every async completion captures gen
	// at start and is discarded if a reset or re-created order bumped it,
	// so stale results never mutate state.
	gen     uint64
	order   Order
	kyc     *IdentityVerificationConfig
	session *PaymentSessionConfig
	poller  *poll.Poller
}

// NewMachine creates a Machine for one onramp flow. A nil logger disables
// machine logging.
func NewMachine(client OrderAPI, receiptEmail, walletAddress string, cfg MachineConfig, lg *zap.Logger) *Machine {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Machine{
		client:        client,
		receiptEmail:  receiptEmail,
		walletAddress: walletAddress,
		cfg:           cfg.withDefaults(),
		lg:            lg,
		order:         Order{Status: StatusNotCreated},
	}
}

// Order returns a copy of the current aggregate.
func (m *Machine) Order() Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order
}

// KYCConfig returns the identity verification config, present only while the
// flow requires KYC.
func (m *Machine) KYCConfig() *IdentityVerificationConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order.Status != StatusRequiresKYC || m.kyc == nil {
		return nil
	}
	cfg := *m.kyc
	return &cfg
}

// PaymentSession returns the payment session config, present only while the
// flow awaits payment.
func (m *Machine) PaymentSession() *PaymentSessionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order.Status != StatusAwaitingPayment || m.session == nil {
		return nil
	}
	cfg := *m.session
	return &cfg
}

// CreateOrder starts a new flow. It is valid from not-created, error, or any
// terminal status; re-entry resets the aggregate. The call blocks on one
// order creation request; its outcome lands on the aggregate, so the only
// returned errors are the caller-mistake guards.
func (m *Machine) CreateOrder(ctx context.Context, amountUSD string) error {
	amount, err := decimal.NewFromString(amountUSD)
	if err != nil || !amount.IsPositive() {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	if s := m.order.Status; s != StatusNotCreated && !s.Terminal() {
		m.mu.Unlock()
		return ErrOrderInFlight
	}
	m.stopPollerLocked()
	m.gen++
	gen := m.gen
	m.kyc = nil
	m.session = nil
	m.order = Order{}
	snap := m.transitionLocked(StatusCreatingOrder)
	m.mu.Unlock()
	m.emit(snap)

	created, err := m.client.CreateOrder(ctx, CreateOrderRequest{
		Amount:        amountUSD,
		ReceiptEmail:  m.receiptEmail,
		WalletAddress: m.walletAddress,
		PaymentMethod: paymentMethod,
	})

	m.mu.Lock()
	if gen != m.gen {
		// Flow was reset while the request was in flight.
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.order.Error = userMessage(err)
		snap = m.transitionLocked(StatusError)
		m.mu.Unlock()
		m.lg.Warn("order creation failed", zap.Error(err))
		m.emit(snap)
		return nil
	}

	m.order.OrderID = created.OrderID
	m.applyQuoteLocked(created)

	var to Status
	switch created.Payment.Status {
	case string(StatusRequiresKYC):
		m.kyc = created.Payment.Preparation.KYC
		to = StatusRequiresKYC
	case string(StatusAwaitingPayment):
		m.session = created.Payment.Preparation.paymentSessionConfig()
		to = StatusAwaitingPayment
	case "":
		m.order.Error = "order created without a payment status"
		to = StatusError
	default:
		// Forward-compatible passthrough: render verbatim, treat as terminal.
		to = Status(created.Payment.Status)
	}
	snap = m.transitionLocked(to)
	m.mu.Unlock()
	m.emit(snap)
	return nil
}

// applyQuoteLocked extracts totals from the created order. They are recorded
// unconditionally, even when KYC is still required, since the order is
// already priced.
func (m *Machine) applyQuoteLocked(created *CreatedOrder) {
	m.order.TotalUSD = created.Quote.TotalPrice.Amount
	if len(created.LineItems) > 0 {
		q := created.LineItems[0].Quote
		if m.order.TotalUSD == "" {
			m.order.TotalUSD = q.TotalPrice.Amount
		}
		m.order.EffectiveAmount = q.QuantityRange.LowerBound
	}
	if m.order.TotalUSD != "" && m.order.EffectiveAmount != "" {
		if _, ok := m.order.FeeUSD(); !ok {
			m.lg.Warn("order quote violates fee invariant",
				zap.String("order_id", m.order.OrderID),
				zap.String("total_usd", m.order.TotalUSD),
				zap.String("effective_amount", m.order.EffectiveAmount),
			)
		}
	}
}

// StartKYCPolling begins polling for the identity verification outcome. Call
// it once the identity widget signals completion. Calling it again while
// polling is already running is a no-op, so duplicate widget callbacks never
// start a second poller.
func (m *Machine) StartKYCPolling(ctx context.Context) error {
	m.mu.Lock()
	switch m.order.Status {
	case StatusRequiresKYC:
	case StatusPollingKYC:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		return ErrNoPendingKYC
	}
	snap := m.transitionLocked(StatusPollingKYC)
	m.startPollerLocked(ctx, m.cfg.KYCPollInterval, func(s Status) bool {
		return s == StatusAwaitingPayment || s.Terminal()
	})
	m.mu.Unlock()
	m.emit(snap)
	return nil
}

// StartPaymentPolling begins polling for payment settlement and token
// delivery. Call it once the payment widget signals completion. Calling it
// again while polling is already running is a no-op.
func (m *Machine) StartPaymentPolling(ctx context.Context) error {
	m.mu.Lock()
	switch m.order.Status {
	case StatusAwaitingPayment:
	case StatusPollingPayment, StatusDelivering:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		return ErrNoPendingPayment
	}
	snap := m.transitionLocked(StatusPollingPayment)
	m.startPollerLocked(ctx, m.cfg.PaymentPollInterval, func(s Status) bool {
		return s.Terminal()
	})
	m.mu.Unlock()
	m.emit(snap)
	return nil
}

// FailWidget records a widget failure. Widget adapters call it for load and
// runtime errors; once the flow is already terminal the failure is dropped.
func (m *Machine) FailWidget(err error) {
	m.mu.Lock()
	if m.order.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.order.Error = userMessage(err)
	snap := m.transitionLocked(StatusError)
	m.mu.Unlock()
	m.lg.Warn("widget failure", zap.Error(err))
	m.emit(snap)
}

// Reset discards the current flow: the active poller is stopped and every
// pending async result (order creation, poll tick, widget callback effect)
// is invalidated before the aggregate returns to not-created.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.gen++
	m.stopPollerLocked()
	m.kyc = nil
	m.session = nil
	m.order = Order{}
	snap := m.transitionLocked(StatusNotCreated)
	m.mu.Unlock()
	m.emit(snap)
}

// startPollerLocked launches the polling loop for the current flow. Any
// previous poller is stopped first so at most one runs at a time; status
// being a single value enforces the phase handoff, this enforces the timer
// bookkeeping.
func (m *Machine) startPollerLocked(ctx context.Context, interval time.Duration, stopped func(Status) bool) {
	m.stopPollerLocked()

	gen := m.gen
	orderID := m.order.OrderID
	m.poller = poll.Start(ctx, poll.Config{
		Interval:      interval,
		CheckInterval: m.cfg.StopCheckInterval,
		MaxFailures:   m.cfg.MaxPollFailures,
	}, func(ctx context.Context) error {
		return m.pollOnce(ctx, gen, orderID)
	}, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return gen != m.gen || stopped(m.order.Status)
	}, func(err error) {
		m.failPolling(gen, err)
	})
}

func (m *Machine) stopPollerLocked() {
	if m.poller != nil {
		m.poller.Stop()
		m.poller = nil
	}
}

// pollOnce fetches the order identified at poll start and reduces the
// snapshot into the aggregate. Fetch errors propagate to the poller, which
// backs off and eventually gives up.
func (m *Machine) pollOnce(ctx context.Context, gen uint64, orderID string) error {
	snap, err := m.client.FetchOrder(ctx, orderID)
	if err != nil {
		return err
	}
	m.applySnapshot(gen, snap)
	return nil
}

// applySnapshot folds one poll result into the aggregate. Results from a
// superseded flow are discarded.
func (m *Machine) applySnapshot(gen uint64, snap *OrderSnapshot) {
	red := reduceSnapshot(snap)

	m.mu.Lock()
	if gen != m.gen || !red.Changed {
		m.mu.Unlock()
		return
	}
	if red.Session != nil {
		m.session = red.Session
	}
	if red.TxID != "" {
		m.order.TxID = red.TxID
	}
	order := m.transitionLocked(red.Status)
	m.mu.Unlock()
	m.emit(order)
}

// failPolling surfaces a poll give-up as a flow error, unless the flow moved
// on or was reset in the meantime.
func (m *Machine) failPolling(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.order.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.order.Error = userMessage(err)
	snap := m.transitionLocked(StatusError)
	m.mu.Unlock()
	m.lg.Warn("order polling gave up", zap.Error(err))
	m.emit(snap)
}

// transitionLocked records the status change and returns the aggregate copy
// to emit after the lock is released.
func (m *Machine) transitionLocked(to Status) Order {
	from := m.order.Status
	m.order.Status = to
	if from != to {
		m.lg.Info("order status changed",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("order_id", m.order.OrderID),
		)
	}
	return m.order
}

func (m *Machine) emit(o Order) {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(o)
	}
}
