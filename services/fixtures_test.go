package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/repository"
	"go.uber.org/zap"
)

// --- Fakes for collaborators ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeInventory struct {
	mu        sync.Mutex
	committed []uuid.UUID
	restored  []uuid.UUID
	commitErr error
}

func (f *fakeInventory) CommitOnSuccess(_ context.Context, _ repository.UnitOfWork, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, orderID)
	return nil
}

func (f *fakeInventory) RestoreOnFailure(_ context.Context, _ repository.UnitOfWork, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, orderID)
	return nil
}

func (f *fakeInventory) counts() (committed, restored int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed), len(f.restored)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e models.PaymentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == eventType {
			c++
		}
	}
	return c
}

type countingJobNotifier struct {
	mu    sync.Mutex
	calls int
}

func (j *countingJobNotifier) Notify() {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
}

// --- Fixture ---

var testAccount = BankAccount{
	BankCode:    "970422",
	AccountNo:   "0123456789",
	AccountName: "PAYMENT ENGINE JSC",
	QRBaseURL:   "https://img.vietqr.io/image",
}

type fixture struct {
	store     *repository.MemoryStore
	clock     *testClock
	inventory *fakeInventory
	notifier  *recordingNotifier
	jobs      *countingJobNotifier
	grammar   ReferenceGrammar
	verifier  *SignatureVerifier
	payments  PaymentService
	webhooks  WebhookService
	refunds   RefundService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     repository.NewMemoryStore(),
		clock:     newTestClock(),
		inventory: &fakeInventory{},
		notifier:  &recordingNotifier{},
		jobs:      &countingJobNotifier{},
		grammar:   NewReferenceGrammar("PAY", "REFUND", "DH"),
	}
	clock := Clock(f.clock.Now)
	f.verifier = NewSignatureVerifier("test-secret", 5*time.Minute, NewMemoryNonceStore(clock), clock)
	f.payments, f.webhooks = f.servicesOn(f.store)
	f.refunds = NewRefundService(f.store, f.grammar, f.notifier, nil, clock, zap.NewNop())
	return f
}

// servicesOn builds payment and webhook services over store, sharing the
// fixture's collaborators.
func (f *fixture) servicesOn(store repository.Store) (PaymentService, WebhookService) {
	clock := Clock(f.clock.Now)
	logger := zap.NewNop()
	payments := NewPaymentService(store, PaymentServiceConfig{
		Currency: "VND",
		TTL:      15 * time.Minute,
		Account:  testAccount,
		Grammar:  f.grammar,
	}, f.inventory, f.notifier, nil, clock, logger)
	webhooks := NewWebhookService(store, f.verifier, f.inventory, f.notifier, f.jobs, nil, WebhookServiceConfig{
		Currency:           "VND",
		Account:            testAccount,
		Grammar:            f.grammar,
		CommissionAttempts: 3,
	}, clock, logger)
	return payments, webhooks
}

type seededOrder struct {
	Order models.Order
	Items []models.OrderItem
}

// seedOrder stores a draft order payable by method with two lines summing to
// amount.
func (f *fixture) seedOrder(code string, amount int64, method models.PaymentMethod) seededOrder {
	order := models.Order{
		ID:             uuid.New(),
		Code:           code,
		CustomerID:     uuid.New(),
		TotalAmount:    amount,
		Currency:       "VND",
		Status:         models.OrderStatusDraft,
		ShippingStatus: models.ShippingStatusPending,
	}
	first := amount * 6 / 10
	items := []models.OrderItem{
		{ID: uuid.New(), OrderID: order.ID, ProductID: uuid.New(), CategoryID: uuid.New(), Quantity: 2, UnitPrice: first / 2, Subtotal: first},
		{ID: uuid.New(), OrderID: order.ID, ProductID: uuid.New(), CategoryID: uuid.New(), Quantity: 1, UnitPrice: amount - first, Subtotal: amount - first},
	}
	link := &models.OrderPaymentLink{
		ID:       uuid.New(),
		OrderID:  order.ID,
		Method:   method,
		Amount:   amount,
		Currency: "VND",
		Status:   models.LinkStatusUnpaid,
	}
	f.store.SeedOrder(order, items, link)
	return seededOrder{Order: order, Items: items}
}

func (f *fixture) createVietQR(t *testing.T, orderID uuid.UUID) *PaymentView {
	t.Helper()
	view, err := f.payments.CreateOrReuse(context.Background(), CreatePaymentInput{
		OrderID:  orderID,
		Method:   models.MethodBankTransfer,
		Provider: models.ProviderVietQR,
	})
	require.NoError(t, err)
	return view
}

// paidOrder returns an order whose VietQR payment already succeeded.
func (f *fixture) paidOrder(t *testing.T, code string, amount int64) (seededOrder, uuid.UUID) {
	t.Helper()
	seeded := f.seedOrder(code, amount, models.MethodBankTransfer)
	view := f.createVietQR(t, seeded.Order.ID)
	id := view.PaymentID
	_, err := f.webhooks.Complete(context.Background(), CompletionInput{
		PaymentID: &id,
		Provider:  models.ProviderVietQR,
		Amount:    &amount,
		Details:   models.CompletionDetails{Source: "test"},
	})
	require.NoError(t, err)
	return seeded, id
}

func int64Ptr(v int64) *int64 { return &v }
