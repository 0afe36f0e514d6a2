package controllers_test

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/yashrajoria/payment-engine/common/auth"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/controllers"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/routes"
	"github.com/yashrajoria/payment-engine/services"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) CreateOrReuse(ctx context.Context, in services.CreatePaymentInput) (*services.PaymentView, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentView), args.Error(1)
}

func (m *mockPayments) GetStatus(ctx context.Context, id uuid.UUID) (*services.PaymentView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentView), args.Error(1)
}

type mockWebhooks struct{ mock.Mock }

func (m *mockWebhooks) Complete(ctx context.Context, in services.CompletionInput) (*services.CompletionResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CompletionResult), args.Error(1)
}

func (m *mockWebhooks) HandleBankWebhook(ctx context.Context, body []byte, sig, ts, nonce string) (*services.WebhookAck, error) {
	args := m.Called(ctx, body, sig, ts, nonce)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.WebhookAck), args.Error(1)
}

func (m *mockWebhooks) HandleExternalCompletion(ctx context.Context, p services.ExternalPayload) *services.WebhookAck {
	return m.Called(ctx, p).Get(0).(*services.WebhookAck)
}

func (m *mockWebhooks) VerifyPayment(ctx context.Context, id uuid.UUID, v services.ManualVerification) (*services.CompletionResult, error) {
	args := m.Called(ctx, id, v)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CompletionResult), args.Error(1)
}

type mockRefunds struct{ mock.Mock }

func (m *mockRefunds) refund(args mock.Arguments) (*models.RefundRequest, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefundRequest), args.Error(1)
}

func (m *mockRefunds) CreateRefund(ctx context.Context, in services.CreateRefundInput) (*models.RefundRequest, error) {
	return m.refund(m.Called(ctx, in))
}

func (m *mockRefunds) ApproveRefund(ctx context.Context, id uuid.UUID, note, actor string) (*models.RefundRequest, error) {
	return m.refund(m.Called(ctx, id, note, actor))
}

func (m *mockRefunds) SettleRefund(ctx context.Context, in services.SettleRefundInput) (*services.SettlementResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SettlementResult), args.Error(1)
}

func (m *mockRefunds) CancelRefund(ctx context.Context, id uuid.UUID, reason, actor string) (*models.RefundRequest, error) {
	return m.refund(m.Called(ctx, id, reason, actor))
}

func (m *mockRefunds) FailRefund(ctx context.Context, id uuid.UUID, reason, actor string) (*models.RefundRequest, error) {
	return m.refund(m.Called(ctx, id, reason, actor))
}

func (m *mockRefunds) GetRefund(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	return m.refund(m.Called(ctx, id))
}

func (m *mockRefunds) ListRefunds(ctx context.Context, id uuid.UUID) ([]models.RefundRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RefundRequest), args.Error(1)
}

func (m *mockRefunds) GetRefundableAmount(ctx context.Context, id uuid.UUID) (*services.RefundableAmount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RefundableAmount), args.Error(1)
}

type mockReconciler struct{ mock.Mock }

func (m *mockReconciler) Reconcile(ctx context.Context, rows []services.StatementRow, actor string) *services.ReconciliationReport {
	return m.Called(ctx, rows, actor).Get(0).(*services.ReconciliationReport)
}

func (m *mockReconciler) ReconcileCSV(ctx context.Context, r io.Reader, actor string) (*services.ReconciliationReport, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(ctx, string(body), actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReconciliationReport), args.Error(1)
}

func (m *mockReconciler) ReconcileObject(ctx context.Context, key, actor string) (*services.ReconciliationReport, error) {
	args := m.Called(ctx, key, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReconciliationReport), args.Error(1)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.CommissionJob, error) {
	args := m.Called(ctx, status, limit)
	return args.Get(0).([]models.CommissionJob), args.Error(1)
}

func (m *mockQueue) RetryJob(ctx context.Context, id uuid.UUID) (*models.CommissionJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CommissionJob), args.Error(1)
}

type harness struct {
	payments   *mockPayments
	webhooks   *mockWebhooks
	refunds    *mockRefunds
	reconciler *mockReconciler
	queue      *mockQueue
	router     *gin.Engine
}

const testAPIKey = "ext-key"

func setupRouter() *harness {
	h := &harness{
		payments:   new(mockPayments),
		webhooks:   new(mockWebhooks),
		refunds:    new(mockRefunds),
		reconciler: new(mockReconciler),
		queue:      new(mockQueue),
	}
	logger := zap.NewNop()
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	routes.Register(r, routes.Controllers{
		Payments:       controllers.NewPaymentController(h.payments, h.webhooks, logger),
		Webhooks:       controllers.NewWebhookController(h.webhooks, logger),
		Refunds:        controllers.NewRefundController(h.refunds),
		Reconciliation: controllers.NewReconciliationController(h.reconciler, logger),
		Jobs:           controllers.NewJobController(h.queue),
	}, routes.Options{
		Tokens:         auth.NewTokenParser(""),
		ExternalAPIKey: testAPIKey,
	})
	h.router = r
	return h
}
