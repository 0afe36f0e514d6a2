package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/middleware"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/services"
)

type RefundController struct {
	refunds services.RefundService
}

func NewRefundController(refunds services.RefundService) *RefundController {
	return &RefundController{refunds: refunds}
}

type createRefundRequest struct {
	PaymentID uuid.UUID           `json:"payment_id" binding:"required"`
	Amount    int64               `json:"amount" binding:"required,gt=0"`
	Reason    string              `json:"reason" binding:"max=1000"`
	Items     []models.RefundItem `json:"items"`
}

// CreateRefund handles POST /refunds.
func (rc *RefundController) CreateRefund(c *gin.Context) {
	var req createRefundRequest
	if !bindJSON(c, &req, false) {
		return
	}
	refund, err := rc.refunds.CreateRefund(c.Request.Context(), services.CreateRefundInput{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Items:     req.Items,
		Actor:     middleware.GetUserID(c),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

// GetRefund handles GET /refunds/:id.
func (rc *RefundController) GetRefund(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	refund, err := rc.refunds.GetRefund(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

type refundNoteRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// ApproveRefund handles POST /refunds/:id/approve.
func (rc *RefundController) ApproveRefund(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req refundNoteRequest
	if !bindJSON(c, &req, true) {
		return
	}
	refund, err := rc.refunds.ApproveRefund(c.Request.Context(), id, req.Note, middleware.GetUserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

type settleRefundRequest struct {
	ProviderRef string     `json:"provider_ref"`
	SettledAt   *time.Time `json:"settled_at"`
}

// SettleRefund handles POST /refunds/:id/settle.
func (rc *RefundController) SettleRefund(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req settleRefundRequest
	if !bindJSON(c, &req, true) {
		return
	}
	result, err := rc.refunds.SettleRefund(c.Request.Context(), services.SettleRefundInput{
		RefundID:    id,
		ProviderRef: req.ProviderRef,
		SettledAt:   req.SettledAt,
		Actor:       middleware.GetUserID(c),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelRefund handles POST /refunds/:id/cancel.
func (rc *RefundController) CancelRefund(c *gin.Context) {
	rc.closeRefund(c, rc.refunds.CancelRefund)
}

// FailRefund handles POST /refunds/:id/fail.
func (rc *RefundController) FailRefund(c *gin.Context) {
	rc.closeRefund(c, rc.refunds.FailRefund)
}

type refundTransition func(ctx context.Context, id uuid.UUID, reason, actor string) (*models.RefundRequest, error)

func (rc *RefundController) closeRefund(c *gin.Context, op refundTransition) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req refundNoteRequest
	if !bindJSON(c, &req, true) {
		return
	}
	refund, err := op(c.Request.Context(), id, req.Reason, middleware.GetUserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

// ListRefunds handles GET /payments/:id/refunds.
func (rc *RefundController) ListRefunds(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	refunds, err := rc.refunds.ListRefunds(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": refunds, "count": len(refunds)})
}

// GetRefundable handles GET /payments/:id/refundable.
func (rc *RefundController) GetRefundable(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	amount, err := rc.refunds.GetRefundableAmount(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, amount)
}
