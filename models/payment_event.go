package models

import "time"

const (
	EventStatusUpdate         = "payment_status_update"
	EventPaymentSucceeded     = "payment_succeeded"
	EventPaymentFailed        = "payment_failed"
	EventExpiryWarning        = "payment_expiry_warning"
	EventWebhookReceived      = "webhook_received"
	EventWebhookProcessed     = "webhook_processed"
	EventRefundUpdate         = "refund_status_update"
	EventUserConfirmation     = "user_confirmation"
	EventUserCancellation     = "user_cancellation"
	EventCommissionComputed   = "commission_computed"
	EventCommissionDeadLetter = "commission_dead_letter"
)

type PaymentEvent struct {
	Type      string         `json:"type"`
	OrderID   string         `json:"order_id"`
	OrderCode string         `json:"order_code,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	PaymentID string         `json:"payment_id,omitempty"`
	RefundID  string         `json:"refund_id,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Status    string         `json:"status,omitempty"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
