package onramp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock order API ---

type mockOrderAPI struct {
	mu        sync.Mutex
	created   *CreatedOrder
	createErr error
	snapshots []*OrderSnapshot // consumed in order; last one repeats
	fetchErr  error
	creates   int
	fetches   int

	// When set, CreateOrder signals createStarted and blocks until
	// createRelease closes, so tests can act while the call is in flight.
	createStarted chan struct{}
	createRelease chan struct{}
}

func (m *mockOrderAPI) CreateOrder(_ context.Context, _ CreateOrderRequest) (*CreatedOrder, error) {
	if m.createStarted != nil {
		m.createStarted <- struct{}{}
		<-m.createRelease
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.created, nil
}

func (m *mockOrderAPI) FetchOrder(_ context.Context, _ string) (*OrderSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if len(m.snapshots) == 0 {
		return &OrderSnapshot{}, nil
	}
	snap := m.snapshots[0]
	if len(m.snapshots) > 1 {
		m.snapshots = m.snapshots[1:]
	}
	return snap, nil
}

func (m *mockOrderAPI) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// --- Helpers ---

func fastConfig() MachineConfig {
	return MachineConfig{
		KYCPollInterval:     5 * time.Millisecond,
		PaymentPollInterval: 5 * time.Millisecond,
		StopCheckInterval:   time.Millisecond,
	}
}

func newTestMachine(api OrderAPI, cfg MachineConfig) *Machine {
	return NewMachine(api, "buyer@example.com", "x4zyf8T6n6NVN3kBW6fmzBvNVAGuDE8mzmzqkSUUh3U", cfg, nil)
}

func kycOrder(orderID string) *CreatedOrder {
	return &CreatedOrder{
		OrderID: orderID,
		Payment: PaymentState{
			Status: "requires-kyc",
			Preparation: Preparation{
				KYC: &IdentityVerificationConfig{
					TemplateID:    "tmpl_1",
					ReferenceID:   "ref_1",
					EnvironmentID: "env_1",
				},
			},
		},
		LineItems: []CreatedLineItem{{
			Quote: LineItemQuote{
				QuantityRange: QuantityRange{LowerBound: "4.75"},
				TotalPrice:    Money{Amount: "5.00"},
			},
		}},
		Quote: OrderQuote{TotalPrice: Money{Amount: "5.00"}},
	}
}

func paymentOrder(orderID string) *CreatedOrder {
	return &CreatedOrder{
		OrderID: orderID,
		Payment: PaymentState{
			Status: "awaiting-payment",
			Preparation: Preparation{
				PaymentSession: json.RawMessage(`"sess_1"`),
				PublicKey:      "pk_test",
			},
		},
		Quote: OrderQuote{TotalPrice: Money{Amount: "10.00"}},
	}
}

func awaitingPaymentSnapshot(session string) *OrderSnapshot {
	return &OrderSnapshot{
		Payment: PaymentState{
			Status: "awaiting-payment",
			Preparation: Preparation{
				PaymentSession: json.RawMessage(`"` + session + `"`),
				PublicKey:      "pk_test",
			},
		},
	}
}

func waitStatus(t *testing.T, m *Machine, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Order().Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status never reached %q, stuck at %q", want, m.Order().Status)
}

// --- CreateOrder ---

func TestCreateOrder_RequiresKYC(t *testing.T) {
	api := &mockOrderAPI{created: kycOrder("order_1")}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))

	o := m.Order()
	assert.Equal(t, StatusRequiresKYC, o.Status)
	assert.Equal(t, "order_1", o.OrderID)
	assert.Equal(t, "5.00", o.TotalUSD)
	assert.Equal(t, "4.75", o.EffectiveAmount)
	assert.Empty(t, o.Error)

	cfg := m.KYCConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "tmpl_1", cfg.TemplateID)

	// No poller runs until the identity widget completes.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, api.fetchCount())
}

func TestCreateOrder_AwaitingPayment(t *testing.T) {
	api := &mockOrderAPI{created: paymentOrder("order_2")}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))

	assert.Equal(t, StatusAwaitingPayment, m.Order().Status)
	sess := m.PaymentSession()
	require.NotNil(t, sess)
	assert.Equal(t, "pk_test", sess.PublicKey)
	assert.Nil(t, m.KYCConfig())
}

func TestCreateOrder_InvalidAmount(t *testing.T) {
	m := newTestMachine(&mockOrderAPI{}, fastConfig())

	assert.ErrorIs(t, m.CreateOrder(context.Background(), "nope"), ErrInvalidAmount)
	assert.ErrorIs(t, m.CreateOrder(context.Background(), "0"), ErrInvalidAmount)
	assert.ErrorIs(t, m.CreateOrder(context.Background(), "-5.00"), ErrInvalidAmount)
	assert.Equal(t, StatusNotCreated, m.Order().Status)
}

func TestCreateOrder_HTTPError(t *testing.T) {
	api := &mockOrderAPI{createErr: &APIError{
		Kind:       KindHTTPError,
		StatusCode: 500,
		Message:    "upstream unavailable",
	}}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))

	o := m.Order()
	assert.Equal(t, StatusError, o.Status)
	assert.Equal(t, "upstream unavailable", o.Error)
	assert.Empty(t, o.TotalUSD)

	// No poller started on failure.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, api.fetchCount())
}

func TestCreateOrder_ErrorAndTotalsMutuallyExclusive(t *testing.T) {
	ok := &mockOrderAPI{created: paymentOrder("order_3")}
	m := newTestMachine(ok, fastConfig())
	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))
	o := m.Order()
	assert.NotEmpty(t, o.TotalUSD)
	assert.Empty(t, o.Error)

	failing := &mockOrderAPI{createErr: &APIError{Kind: KindNetworkError, Message: "connection refused"}}
	m = newTestMachine(failing, fastConfig())
	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))
	o = m.Order()
	assert.Empty(t, o.TotalUSD)
	assert.NotEmpty(t, o.Error)
}

func TestCreateOrder_GuardedWhileInFlight(t *testing.T) {
	api := &mockOrderAPI{created: kycOrder("order_4")}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))
	assert.ErrorIs(t, m.CreateOrder(context.Background(), "5.00"), ErrOrderInFlight)
}

func TestCreateOrder_ReentrantFromTerminal(t *testing.T) {
	api := &mockOrderAPI{createErr: &APIError{Kind: KindNetworkError, Message: "boom"}}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))
	require.Equal(t, StatusError, m.Order().Status)

	// Re-entry from the error status resets transient fields.
	api.mu.Lock()
	api.createErr = nil
	api.created = paymentOrder("order_5")
	api.mu.Unlock()

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))
	o := m.Order()
	assert.Equal(t, StatusAwaitingPayment, o.Status)
	assert.Empty(t, o.Error)
	assert.Equal(t, "order_5", o.OrderID)
}

func TestCreateOrder_UnknownStatusPassthrough(t *testing.T) {
	api := &mockOrderAPI{created: &CreatedOrder{
		OrderID: "order_6",
		Payment: PaymentState{Status: "quote-expired"},
	}}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))

	o := m.Order()
	assert.Equal(t, Status("quote-expired"), o.Status)
	assert.True(t, o.Status.Terminal())
}

// --- Polling ---

func TestKYCPolling_AdvancesToAwaitingPayment(t *testing.T) {
	api := &mockOrderAPI{
		created:   kycOrder("order_7"),
		snapshots: []*OrderSnapshot{awaitingPaymentSnapshot("sess_2")},
	}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))
	require.NoError(t, m.StartKYCPolling(context.Background()))
	assert.Equal(t, StatusPollingKYC, m.Order().Status)

	waitStatus(t, m, StatusAwaitingPayment)
	sess := m.PaymentSession()
	require.NotNil(t, sess)
	assert.JSONEq(t, `"sess_2"`, string(sess.Session))

	// The poller stops once awaiting-payment is reached.
	time.Sleep(30 * time.Millisecond)
	n := api.fetchCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, api.fetchCount())
}

func TestKYCPolling_Rejected(t *testing.T) {
	api := &mockOrderAPI{
		created: kycOrder("order_8"),
		snapshots: []*OrderSnapshot{{
			Payment: PaymentState{Status: "rejected-kyc"},
		}},
	}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))
	require.NoError(t, m.StartKYCPolling(context.Background()))

	waitStatus(t, m, StatusRejectedKYC)
	assert.True(t, m.Order().Status.Terminal())
}

func TestStartKYCPolling_Idempotent(t *testing.T) {
	api := &mockOrderAPI{created: kycOrder("order_9")}
	m := newTestMachine(api, MachineConfig{
		KYCPollInterval:   20 * time.Millisecond,
		StopCheckInterval: time.Millisecond,
	})

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))
	require.NoError(t, m.StartKYCPolling(context.Background()))
	require.NoError(t, m.StartKYCPolling(context.Background()))

	// A duplicate widget callback must not double the tick rate.
	time.Sleep(110 * time.Millisecond)
	assert.LessOrEqual(t, api.fetchCount(), 6)
	m.Reset()
}

func TestStartKYCPolling_Guarded(t *testing.T) {
	m := newTestMachine(&mockOrderAPI{}, fastConfig())
	assert.ErrorIs(t, m.StartKYCPolling(context.Background()), ErrNoPendingKYC)
}

func TestPaymentPolling_DeliveringThenSuccess(t *testing.T) {
	api := &mockOrderAPI{
		created: paymentOrder("order_10"),
		snapshots: []*OrderSnapshot{
			{
				Payment:   PaymentState{Status: "completed"},
				LineItems: []SnapshotLineItem{{Delivery: Delivery{Status: "pending"}}},
			},
			{
				Payment:   PaymentState{Status: "completed"},
				LineItems: []SnapshotLineItem{{Delivery: Delivery{Status: "completed", TxID: "abc"}}},
			},
		},
	}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))
	require.NoError(t, m.StartPaymentPolling(context.Background()))
	assert.Equal(t, StatusPollingPayment, m.Order().Status)

	waitStatus(t, m, StatusSuccess)
	assert.Equal(t, "abc", m.Order().TxID)
}

func TestPaymentPolling_Declined(t *testing.T) {
	api := &mockOrderAPI{
		created: paymentOrder("order_11"),
		snapshots: []*OrderSnapshot{{
			Payment: PaymentState{Status: "declined"},
		}},
	}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))
	require.NoError(t, m.StartPaymentPolling(context.Background()))

	waitStatus(t, m, StatusPaymentFailed)
}

func TestPolling_StopsOnRepeatedFetchFailures(t *testing.T) {
	api := &mockOrderAPI{
		created:  paymentOrder("order_12"),
		fetchErr: &APIError{Kind: KindNetworkError, Message: "connection reset"},
	}
	cfg := fastConfig()
	cfg.MaxPollFailures = 2
	m := newTestMachine(api, cfg)

	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))
	require.NoError(t, m.StartPaymentPolling(context.Background()))

	// Transient fetch failures do not loop forever: after the bounded retry
	// count the flow lands on error, which stops the poller.
	waitStatus(t, m, StatusError)
	assert.Equal(t, "connection reset", m.Order().Error)

	n := api.fetchCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, api.fetchCount())
}

// --- Reset and staleness ---

func TestReset_DiscardsInFlightPollResults(t *testing.T) {
	api := &mockOrderAPI{
		created:   paymentOrder("order_13"),
		snapshots: []*OrderSnapshot{{Payment: PaymentState{Status: "completed"}, Phase: "completed"}},
	}
	cfg := fastConfig()
	cfg.PaymentPollInterval = 50 * time.Millisecond
	m := newTestMachine(api, cfg)

	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))
	require.NoError(t, m.StartPaymentPolling(context.Background()))

	m.Reset()
	assert.Equal(t, StatusNotCreated, m.Order().Status)

	// Nothing from the abandoned flow may land after the reset.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, StatusNotCreated, m.Order().Status)
	assert.Empty(t, m.Order().OrderID)
}

func TestReset_DiscardsLateCreateResponse(t *testing.T) {
	api := &mockOrderAPI{
		created:       kycOrder("order_late"),
		createStarted: make(chan struct{}),
		createRelease: make(chan struct{}),
	}
	m := newTestMachine(api, fastConfig())

	done := make(chan error, 1)
	go func() { done <- m.CreateOrder(context.Background(), "5.00") }()

	// Reset while the creation request is still in flight, then let the
	// server response arrive.
	<-api.createStarted
	require.Equal(t, StatusCreatingOrder, m.Order().Status)
	m.Reset()
	close(api.createRelease)

	require.NoError(t, <-done)
	o := m.Order()
	assert.Equal(t, StatusNotCreated, o.Status)
	assert.Empty(t, o.OrderID)
	assert.Empty(t, o.TotalUSD)
	assert.Nil(t, m.KYCConfig())
}

func TestReset_StopsPolling(t *testing.T) {
	api := &mockOrderAPI{created: paymentOrder("order_14")}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))
	require.NoError(t, m.StartPaymentPolling(context.Background()))
	time.Sleep(20 * time.Millisecond)

	m.Reset()
	time.Sleep(20 * time.Millisecond)
	n := api.fetchCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, api.fetchCount())
}

// --- Widget failures ---

func TestFailWidget(t *testing.T) {
	api := &mockOrderAPI{created: kycOrder("order_15")}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))
	m.FailWidget(&WidgetError{Kind: KindWidgetLoad, Message: "identity widget unavailable"})

	o := m.Order()
	assert.Equal(t, StatusError, o.Status)
	assert.Equal(t, "identity widget unavailable", o.Error)
}

func TestFailWidget_IgnoredAfterTerminal(t *testing.T) {
	api := &mockOrderAPI{created: &CreatedOrder{
		OrderID: "order_16",
		Payment: PaymentState{Status: "quote-expired"},
	}}
	m := newTestMachine(api, fastConfig())

	require.NoError(t, m.CreateOrder(context.Background(), "5.00"))
	m.FailWidget(&WidgetError{Kind: KindWidgetRuntime, Message: "late callback"})

	assert.Equal(t, Status("quote-expired"), m.Order().Status)
}

// --- Notifications ---

func TestOnChange_ReceivesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var seen []Status

	cfg := fastConfig()
	cfg.OnChange = func(o Order) {
		mu.Lock()
		seen = append(seen, o.Status)
		mu.Unlock()
	}
	api := &mockOrderAPI{created: paymentOrder("order_17")}
	m := newTestMachine(api, cfg)

	require.NoError(t, m.CreateOrder(context.Background(), "10.00"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusCreatingOrder, StatusAwaitingPayment}, seen)
}
