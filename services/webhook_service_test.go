package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/repository"
)

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("Success Updates Order Link Ledger And Queue", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3001", 200000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)

		res, err := f.webhooks.Complete(ctx, CompletionInput{
			PaymentID:   &view.PaymentID,
			Provider:    models.ProviderVietQR,
			Amount:      int64Ptr(200000),
			Currency:    "vnd",
			ProviderRef: "FT26060001",
			Details:     models.CompletionDetails{Source: "test"},
		})
		require.NoError(t, err)
		assert.False(t, res.AlreadySucceeded)
		assert.Equal(t, models.PaymentStatusSucceeded, res.Status)

		intent, _ := f.store.Intents().FindByID(ctx, view.PaymentID)
		assert.Equal(t, models.PaymentStatusSucceeded, intent.Status)
		assert.Equal(t, "FT26060001", *intent.ProviderRef)
		meta := intent.ResponseMetadata.Data()
		assert.Equal(t, models.MetadataCompletion, meta.Kind)
		assert.Equal(t, int64(200000), meta.Completion.Amount)
		// request metadata is left untouched by completion
		assert.Equal(t, models.MetadataBankTransfer, intent.RequestMetadata.Data().Kind)

		order, _ := f.store.Orders().FindByID(ctx, seeded.Order.ID)
		assert.Equal(t, models.OrderStatusCompleted, order.Status)
		assert.NotNil(t, order.PaidAt)

		link, _ := f.store.PaymentLinks().FindByOrderID(ctx, seeded.Order.ID)
		assert.Equal(t, models.LinkStatusPaid, link.Status)

		records, _ := f.store.Transactions().ListByIntent(ctx, view.PaymentID)
		require.Len(t, records, 1)
		assert.Equal(t, models.TransactionCharge, records[0].Type)
		assert.Equal(t, "FT26060001", records[0].Reference)

		jobs, _ := f.store.Jobs().ListByStatus(ctx, models.JobStatusPending, 10)
		require.Len(t, jobs, 1)
		assert.Equal(t, seeded.Order.ID, jobs[0].OrderID)
		assert.Equal(t, 3, jobs[0].MaxAttempts)

		committed, _ := f.inventory.counts()
		assert.Equal(t, 1, committed)
		assert.Equal(t, 1, f.jobs.calls)
		assert.Equal(t, 1, f.notifier.count(models.EventPaymentSucceeded))
	})

	t.Run("Duplicate Completion Is Idempotent", func(t *testing.T) {
		f := newFixture(t)
		_, id := f.paidOrder(t, "ORD3002", 100000)

		res, err := f.webhooks.Complete(ctx, CompletionInput{PaymentID: &id, Provider: models.ProviderVietQR})
		require.NoError(t, err)
		assert.True(t, res.AlreadySucceeded)

		records, _ := f.store.Transactions().ListByIntent(ctx, id)
		assert.Len(t, records, 1)
		committed, _ := f.inventory.counts()
		assert.Equal(t, 1, committed)
		assert.Equal(t, 1, f.notifier.count(models.EventPaymentSucceeded))
	})

	t.Run("Resolves By Order Code", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3003", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)

		res, err := f.webhooks.Complete(ctx, CompletionInput{OrderCode: "ord3003", Provider: models.ProviderVietQR})
		require.NoError(t, err)
		assert.Equal(t, view.PaymentID, res.PaymentID)
	})

	t.Run("Amount Mismatch Leaves State Alone", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3004", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)

		_, err := f.webhooks.Complete(ctx, CompletionInput{
			PaymentID: &view.PaymentID,
			Provider:  models.ProviderVietQR,
			Amount:    int64Ptr(99999),
		})
		assert.Equal(t, ReasonAmountMismatch, apperrors.ReasonOf(err))

		intent, _ := f.store.Intents().FindByID(ctx, view.PaymentID)
		assert.Equal(t, models.PaymentStatusPending, intent.Status)
	})

	t.Run("Currency Mismatch", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3005", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)

		_, err := f.webhooks.Complete(ctx, CompletionInput{PaymentID: &view.PaymentID, Currency: "USD"})
		assert.Equal(t, ReasonCurrencyMismatch, apperrors.ReasonOf(err))
	})

	t.Run("Late Completion Expires Payment", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3006", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)
		f.clock.Advance(15 * time.Minute)

		_, err := f.webhooks.Complete(ctx, CompletionInput{PaymentID: &view.PaymentID, Amount: int64Ptr(100000)})
		assert.ErrorIs(t, err, ErrPaymentExpired)

		intent, _ := f.store.Intents().FindByID(ctx, view.PaymentID)
		assert.Equal(t, models.PaymentStatusFailed, intent.Status)
		order, _ := f.store.Orders().FindByID(ctx, seeded.Order.ID)
		assert.Equal(t, models.OrderStatusCancelled, order.Status)
	})

	t.Run("Unknown Payment", func(t *testing.T) {
		f := newFixture(t)
		id := uuid.New()
		_, err := f.webhooks.Complete(ctx, CompletionInput{PaymentID: &id})
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})

	t.Run("Inventory Failure Rolls Back", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3007", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)
		f.inventory.commitErr = errors.New("warehouse offline")

		_, err := f.webhooks.Complete(ctx, CompletionInput{PaymentID: &view.PaymentID})
		require.Error(t, err)

		intent, _ := f.store.Intents().FindByID(ctx, view.PaymentID)
		assert.Equal(t, models.PaymentStatusPending, intent.Status)
		order, _ := f.store.Orders().FindByID(ctx, seeded.Order.ID)
		assert.Equal(t, models.OrderStatusDraft, order.Status)
		jobs, _ := f.store.Jobs().ListByStatus(ctx, models.JobStatusPending, 10)
		assert.Empty(t, jobs)
	})

	t.Run("Concurrent Completions Succeed Once", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3008", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.webhooks.Complete(ctx, CompletionInput{PaymentID: &view.PaymentID, Amount: int64Ptr(100000)})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		records, _ := f.store.Transactions().ListByIntent(ctx, view.PaymentID)
		assert.Len(t, records, 1)
		committed, _ := f.inventory.counts()
		assert.Equal(t, 1, committed)
	})
}

func TestHandleBankWebhook(t *testing.T) {
	ctx := context.Background()

	post := func(f *fixture, payload BankWebhookPayload, nonce string) (*WebhookAck, error) {
		body, _ := json.Marshal(payload)
		ts := strconv.FormatInt(f.clock.Now().Unix(), 10)
		return f.webhooks.HandleBankWebhook(ctx, body, f.verifier.Sign(body), ts, nonce)
	}

	t.Run("Completes Payment From Reference", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD4001", 150000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)

		ack, err := post(f, BankWebhookPayload{
			Reference:     "IBFT PAY ORD4001",
			Amount:        150000,
			Currency:      "VND",
			TransactionID: "TX-1",
			AccountNo:     testAccount.AccountNo,
		}, "nonce-1")
		require.NoError(t, err)
		assert.Equal(t, AckProcessed, ack.Status)
		assert.Equal(t, view.PaymentID, *ack.PaymentID)
		assert.Equal(t, 1, f.notifier.count(models.EventWebhookReceived))
		assert.Equal(t, 1, f.notifier.count(models.EventWebhookProcessed))
	})

	t.Run("Duplicate Delivery Acknowledged", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD4002", 150000, models.MethodBankTransfer)
		f.createVietQR(t, seeded.Order.ID)
		payload := BankWebhookPayload{Reference: "PAY ORD4002", Amount: 150000, TransactionID: "TX-2"}

		_, err := post(f, payload, "")
		require.NoError(t, err)
		ack, err := post(f, payload, "")
		require.NoError(t, err)
		assert.Equal(t, AckProcessed, ack.Status)
		assert.Equal(t, "payment already completed", ack.Message)
	})

	t.Run("Bad Signature Is Rejected", func(t *testing.T) {
		f := newFixture(t)
		ts := strconv.FormatInt(f.clock.Now().Unix(), 10)
		_, err := f.webhooks.HandleBankWebhook(ctx, []byte(`{}`), "deadbeef", ts, "")
		assert.Equal(t, ReasonInvalidSignature, apperrors.ReasonOf(err))
		assert.Equal(t, 0, f.notifier.count(models.EventWebhookReceived))
	})

	t.Run("Replayed Nonce Is Rejected", func(t *testing.T) {
		f := newFixture(t)
		payload := BankWebhookPayload{Reference: "PAY ORD404", Amount: 1}
		_, err := post(f, payload, "same")
		require.NoError(t, err)
		_, err = post(f, payload, "same")
		assert.Equal(t, ReasonReplayedNonce, apperrors.ReasonOf(err))
	})

	t.Run("Unknown Reference Acknowledged With Errors", func(t *testing.T) {
		f := newFixture(t)
		ack, err := post(f, BankWebhookPayload{Reference: "salary", Amount: 10}, "")
		require.NoError(t, err)
		assert.Equal(t, AckProcessedWithErrors, ack.Status)
	})

	t.Run("Wrong Receiving Account", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD4003", 150000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)

		ack, err := post(f, BankWebhookPayload{Reference: "PAY ORD4003", Amount: 150000, AccountNo: "999"}, "")
		require.NoError(t, err)
		assert.Equal(t, AckProcessedWithErrors, ack.Status)
		intent, _ := f.store.Intents().FindByID(ctx, view.PaymentID)
		assert.Equal(t, models.PaymentStatusPending, intent.Status)
	})
}

func TestHandleExternalCompletion(t *testing.T) {
	ctx := context.Background()

	t.Run("Matches Alternate Prefix In Content", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD5001", 80000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)

		ack := f.webhooks.HandleExternalCompletion(ctx, ExternalPayload{
			ID:             "9001",
			Gateway:        "MBBank",
			Content:        "MBVCB.1.DHORD5001.CT",
			TransferType:   "in",
			TransferAmount: 80000,
		})
		assert.Equal(t, AckProcessed, ack.Status)
		assert.Equal(t, view.PaymentID, *ack.PaymentID)
	})

	t.Run("Outgoing Transfer Ignored", func(t *testing.T) {
		f := newFixture(t)
		ack := f.webhooks.HandleExternalCompletion(ctx, ExternalPayload{TransferType: "out", Content: "PAY ORD1"})
		assert.Equal(t, AckIgnored, ack.Status)
	})

	t.Run("Numeric ID Decodes", func(t *testing.T) {
		var p ExternalPayload
		require.NoError(t, json.Unmarshal([]byte(`{"id": 123456, "transferAmount": 5}`), &p))
		assert.Equal(t, FlexibleID("123456"), p.ID)
	})
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seedOrder("ORD6001", 120000, models.MethodCash)
	view, err := f.payments.CreateOrReuse(ctx, CreatePaymentInput{
		OrderID:  seeded.Order.ID,
		Method:   models.MethodCash,
		Provider: models.ProviderCOD,
	})
	require.NoError(t, err)

	res, err := f.webhooks.VerifyPayment(ctx, view.PaymentID, ManualVerification{
		Amount: int64Ptr(120000),
		Actor:  "courier-7",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, res.Status)

	intent, _ := f.store.Intents().FindByID(ctx, view.PaymentID)
	assert.Equal(t, "courier-7", intent.ResponseMetadata.Data().Completion.VerifiedBy)

	_, err = f.webhooks.VerifyPayment(ctx, view.PaymentID, ManualVerification{Provider: models.ProviderVietQR})
	assert.Equal(t, ReasonInvalidRequest, apperrors.ReasonOf(err))
}

// gatedStore parks the first intent lookup by id until release is closed.
type gatedStore struct {
	repository.Store
	parked  atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(inner repository.Store) *gatedStore {
	return &gatedStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) Intents() repository.PaymentIntentRepository {
	return gatedIntents{PaymentIntentRepository: g.Store.Intents(), gate: g}
}

type gatedIntents struct {
	repository.PaymentIntentRepository
	gate *gatedStore
}

func (r gatedIntents) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	if r.gate.parked.CompareAndSwap(false, true) {
		close(r.gate.entered)
		<-r.gate.release
	}
	return r.PaymentIntentRepository.FindByID(ctx, id)
}

func TestCompleteConcurrentEvidence(t *testing.T) {
	ctx := context.Background()

	t.Run("Wrong Amount Does Not Decide For Correct One", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3101", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)
		gate := newGatedStore(f.store)
		_, webhooks := f.servicesOn(gate)

		wrongErr := make(chan error, 1)
		go func() {
			_, err := webhooks.Complete(ctx, CompletionInput{PaymentID: &view.PaymentID, Amount: int64Ptr(1)})
			wrongErr <- err
		}()
		<-gate.entered

		res, err := webhooks.Complete(ctx, CompletionInput{PaymentID: &view.PaymentID, Amount: int64Ptr(100000)})
		require.NoError(t, err)
		assert.False(t, res.AlreadySucceeded)
		assert.Equal(t, models.PaymentStatusSucceeded, res.Status)

		close(gate.release)
		assert.Equal(t, ReasonAmountMismatch, apperrors.ReasonOf(<-wrongErr))

		intent, _ := f.store.Intents().FindByID(ctx, view.PaymentID)
		assert.Equal(t, models.PaymentStatusSucceeded, intent.Status)
		records, _ := f.store.Transactions().ListByIntent(ctx, view.PaymentID)
		assert.Len(t, records, 1)
	})

	t.Run("Joined Caller Reads Already Succeeded", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3102", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)
		gate := newGatedStore(f.store)
		_, webhooks := f.servicesOn(gate)
		in := CompletionInput{PaymentID: &view.PaymentID, Amount: int64Ptr(100000), ProviderRef: "FT1"}

		first := make(chan *CompletionResult, 1)
		go func() {
			res, err := webhooks.Complete(ctx, in)
			assert.NoError(t, err)
			first <- res
		}()
		<-gate.entered

		second := make(chan *CompletionResult, 1)
		go func() {
			res, err := webhooks.Complete(ctx, in)
			assert.NoError(t, err)
			second <- res
		}()
		time.Sleep(20 * time.Millisecond)
		close(gate.release)

		a, b := <-first, <-second
		require.NotNil(t, a)
		require.NotNil(t, b)
		assert.False(t, a.AlreadySucceeded)
		assert.True(t, b.AlreadySucceeded)
		assert.Equal(t, a.PaymentID, b.PaymentID)
		assert.Equal(t, 1, f.notifier.count(models.EventPaymentSucceeded))
	})

	t.Run("Cancelled Caller Does Not Abort Completion", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seedOrder("ORD3103", 100000, models.MethodBankTransfer)
		view := f.createVietQR(t, seeded.Order.ID)
		gate := newGatedStore(f.store)
		_, webhooks := f.servicesOn(gate)

		callCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			_, err := webhooks.Complete(callCtx, CompletionInput{PaymentID: &view.PaymentID, Amount: int64Ptr(100000)})
			done <- err
		}()
		<-gate.entered
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		close(gate.release)

		assert.Eventually(t, func() bool {
			intent, err := f.store.Intents().FindByID(ctx, view.PaymentID)
			return err == nil && intent.Status == models.PaymentStatusSucceeded
		}, time.Second, 10*time.Millisecond)
	})
}

// lockRecorder notes, per transaction, the order in which link and intent
// rows are locked.
type lockRecorder struct {
	repository.Store
	txs [][]string
}

func (r *lockRecorder) RunInTx(ctx context.Context, fn func(uow repository.UnitOfWork) error) error {
	r.txs = append(r.txs, nil)
	i := len(r.txs) - 1
	note := func(row string) { r.txs[i] = append(r.txs[i], row) }
	return r.Store.RunInTx(ctx, func(uow repository.UnitOfWork) error {
		return fn(recordingUoW{UnitOfWork: uow, note: note})
	})
}

type recordingUoW struct {
	repository.UnitOfWork
	note func(string)
}

func (u recordingUoW) PaymentLinks() repository.PaymentLinkRepository {
	return recordingLinks{PaymentLinkRepository: u.UnitOfWork.PaymentLinks(), note: u.note}
}

func (u recordingUoW) Intents() repository.PaymentIntentRepository {
	return recordingIntents{PaymentIntentRepository: u.UnitOfWork.Intents(), note: u.note}
}

type recordingLinks struct {
	repository.PaymentLinkRepository
	note func(string)
}

func (r recordingLinks) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderPaymentLink, error) {
	r.note("link")
	return r.PaymentLinkRepository.FindByOrderID(ctx, orderID)
}

type recordingIntents struct {
	repository.PaymentIntentRepository
	note func(string)
}

func (r recordingIntents) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	r.note("intent")
	return r.PaymentIntentRepository.FindByIDForUpdate(ctx, id)
}

func (r recordingIntents) FindLatest(ctx context.Context, orderID uuid.UUID, provider models.Provider, statuses ...models.PaymentStatus) (*models.PaymentIntent, error) {
	r.note("intent")
	return r.PaymentIntentRepository.FindLatest(ctx, orderID, provider, statuses...)
}

func TestLinkLockedBeforeIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &lockRecorder{Store: f.store}
	payments, webhooks := f.servicesOn(rec)

	create := func(orderID uuid.UUID) *PaymentView {
		view, err := payments.CreateOrReuse(ctx, CreatePaymentInput{
			OrderID:  orderID,
			Method:   models.MethodBankTransfer,
			Provider: models.ProviderVietQR,
		})
		require.NoError(t, err)
		return view
	}

	paid := f.seedOrder("ORD3201", 100000, models.MethodBankTransfer)
	view := create(paid.Order.ID)
	_, err := webhooks.Complete(ctx, CompletionInput{PaymentID: &view.PaymentID, Amount: int64Ptr(100000)})
	require.NoError(t, err)

	late := f.seedOrder("ORD3202", 100000, models.MethodBankTransfer)
	view = create(late.Order.ID)
	f.clock.Advance(16 * time.Minute)
	_, err = webhooks.Complete(ctx, CompletionInput{PaymentID: &view.PaymentID, Amount: int64Ptr(100000)})
	require.ErrorIs(t, err, ErrPaymentExpired)

	require.Len(t, rec.txs, 4)
	for i, locks := range rec.txs {
		require.NotEmpty(t, locks, "transaction %d", i)
		assert.Equal(t, "link", locks[0], "transaction %d locked %v", i, locks)
	}
}
