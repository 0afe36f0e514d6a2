package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/middleware"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/services"
	"go.uber.org/zap"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// PaymentController serves payment creation, status polling and manual
// verification.
type PaymentController struct {
	payments services.PaymentService
	webhooks services.WebhookService
	logger   *zap.Logger
}

func NewPaymentController(payments services.PaymentService, webhooks services.WebhookService, logger *zap.Logger) *PaymentController {
	return &PaymentController{payments: payments, webhooks: webhooks, logger: logger}
}

type createPaymentRequest struct {
	OrderID        uuid.UUID            `json:"order_id" binding:"required"`
	Method         models.PaymentMethod `json:"method" binding:"required"`
	Provider       models.Provider      `json:"provider" binding:"required"`
	IdempotencyKey string               `json:"idempotency_key"`
}

// CreatePayment handles POST /payments.
func (pc *PaymentController) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if !bindJSON(c, &req, false) {
		return
	}
	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key == "" {
		key = req.IdempotencyKey
	}

	view, err := pc.payments.CreateOrReuse(c.Request.Context(), services.CreatePaymentInput{
		OrderID:        req.OrderID,
		Method:         req.Method,
		Provider:       req.Provider,
		IdempotencyKey: key,
		UserID:         middleware.GetUserID(c),
	})
	if err != nil {
		c.Error(err)
		return
	}

	status := http.StatusCreated
	if view.Reused {
		status = http.StatusOK
	}
	c.JSON(status, view)
}

// GetPaymentStatus handles GET /payments/:id/status.
func (pc *PaymentController) GetPaymentStatus(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	view, err := pc.payments.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type verifyPaymentRequest struct {
	Provider    models.Provider `json:"provider"`
	Amount      *int64          `json:"amount"`
	Currency    string          `json:"currency"`
	ProviderRef string          `json:"provider_ref"`
	RawPayload  map[string]any  `json:"raw_payload"`
}

// VerifyPayment handles POST /payments/:id/verify (admin only).
func (pc *PaymentController) VerifyPayment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if !bindJSON(c, &req, true) {
		return
	}

	result, err := pc.webhooks.VerifyPayment(c.Request.Context(), id, services.ManualVerification{
		Provider:    req.Provider,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProviderRef: req.ProviderRef,
		RawPayload:  req.RawPayload,
		Actor:       middleware.GetUserID(c),
	})
	if err != nil {
		c.Error(err)
		return
	}
	pc.logger.Info("Payment verified manually",
		zap.String("payment_id", id.String()),
		zap.String("actor", middleware.GetUserID(c)),
		zap.Bool("already_succeeded", result.AlreadySucceeded),
	)
	c.JSON(http.StatusOK, result)
}
