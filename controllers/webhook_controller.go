package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/services"
	"go.uber.org/zap"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
	NonceHeader     = "X-Nonce"

	maxWebhookBody = 1 << 20
)

// WebhookController receives completion notices from the bank and from the
// external gateway. Once a sender is authenticated it always gets a 200 with
// an acknowledgement, so it stops retrying.
type WebhookController struct {
	webhooks services.WebhookService
	logger   *zap.Logger
}

func NewWebhookController(webhooks services.WebhookService, logger *zap.Logger) *WebhookController {
	return &WebhookController{webhooks: webhooks, logger: logger}
}

// BankWebhook handles POST /webhooks/bank.
func (wc *WebhookController) BankWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.Error(apperrors.Validation(services.ReasonInvalidRequest, "unreadable body"))
		return
	}

	ack, err := wc.webhooks.HandleBankWebhook(
		c.Request.Context(),
		body,
		c.GetHeader(SignatureHeader),
		c.GetHeader(TimestampHeader),
		c.GetHeader(NonceHeader),
	)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// ExternalWebhook handles POST /webhooks/external. The route is guarded by
// the API key middleware.
func (wc *WebhookController) ExternalWebhook(c *gin.Context) {
	var payload services.ExternalPayload
	if err := json.NewDecoder(io.LimitReader(c.Request.Body, maxWebhookBody)).Decode(&payload); err != nil {
		wc.logger.Warn("Undecodable external webhook", zap.Error(err))
		c.JSON(http.StatusOK, services.WebhookAck{Status: services.AckProcessedWithErrors, Message: "malformed payload"})
		return
	}
	c.JSON(http.StatusOK, wc.webhooks.HandleExternalCompletion(c.Request.Context(), payload))
}
