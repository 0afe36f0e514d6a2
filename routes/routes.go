package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/payment-engine/common/auth"
	commonmw "github.com/yashrajoria/payment-engine/common/middleware"
	"github.com/yashrajoria/payment-engine/controllers"
	"github.com/yashrajoria/payment-engine/middleware"
)

type Controllers struct {
	Payments       *controllers.PaymentController
	Webhooks       *controllers.WebhookController
	Refunds        *controllers.RefundController
	Reconciliation *controllers.ReconciliationController
	Jobs           *controllers.JobController
}

type Options struct {
	Tokens           *auth.TokenParser
	ExternalAPIKey   string
	WebhookRateLimit int // per minute per IP; 0 disables
}

// Register mounts every engine route on r.
func Register(r *gin.Engine, ctl Controllers, opts Options) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "payment-engine"})
	})

	authed := middleware.AuthMiddleware(opts.Tokens)
	admin := middleware.AdminOnly()

	payments := r.Group("/payments", authed)
	payments.POST("", ctl.Payments.CreatePayment)
	payments.GET("/:id/status", ctl.Payments.GetPaymentStatus)
	payments.POST("/:id/verify", admin, ctl.Payments.VerifyPayment)
	payments.GET("/:id/refunds", admin, ctl.Refunds.ListRefunds)
	payments.GET("/:id/refundable", admin, ctl.Refunds.GetRefundable)

	// Webhooks authenticate themselves.
	webhooks := r.Group("/webhooks", commonmw.RateLimitMiddleware(opts.WebhookRateLimit, 20))
	webhooks.POST("/bank", ctl.Webhooks.BankWebhook)
	webhooks.POST("/external", middleware.APIKeyAuth(opts.ExternalAPIKey), ctl.Webhooks.ExternalWebhook)

	refunds := r.Group("/refunds", authed, admin)
	refunds.POST("", ctl.Refunds.CreateRefund)
	refunds.GET("/:id", ctl.Refunds.GetRefund)
	refunds.POST("/:id/approve", ctl.Refunds.ApproveRefund)
	refunds.POST("/:id/settle", ctl.Refunds.SettleRefund)
	refunds.POST("/:id/cancel", ctl.Refunds.CancelRefund)
	refunds.POST("/:id/fail", ctl.Refunds.FailRefund)

	r.POST("/reconciliations", authed, admin, ctl.Reconciliation.Reconcile)

	jobs := r.Group("/admin/commission-jobs", authed, admin)
	jobs.GET("", ctl.Jobs.ListJobs)
	jobs.POST("/:id/retry", ctl.Jobs.RetryJob)
}
