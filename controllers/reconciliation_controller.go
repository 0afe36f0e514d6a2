package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/middleware"
	"github.com/yashrajoria/payment-engine/services"
	"go.uber.org/zap"
)

const statementFormField = "statement"

type ReconciliationController struct {
	reconciler services.ReconciliationService
	logger     *zap.Logger
}

func NewReconciliationController(reconciler services.ReconciliationService, logger *zap.Logger) *ReconciliationController {
	return &ReconciliationController{reconciler: reconciler, logger: logger}
}

type reconcileRequest struct {
	Rows      []services.StatementRow `json:"rows"`
	ObjectKey string                  `json:"object_key"`
}

// Reconcile handles POST /reconciliations. The statement arrives as a
// multipart CSV upload, as JSON rows, or as the key of a file in the
// statement bucket.
func (rc *ReconciliationController) Reconcile(c *gin.Context) {
	ctx := c.Request.Context()
	actor := middleware.GetUserID(c)

	var (
		report *services.ReconciliationReport
		err    error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, ferr := c.FormFile(statementFormField)
		if ferr != nil {
			c.Error(apperrors.Validation(services.ReasonInvalidRequest, "missing statement file"))
			return
		}
		f, ferr := fh.Open()
		if ferr != nil {
			c.Error(apperrors.Validation(services.ReasonInvalidRequest, "unreadable statement file"))
			return
		}
		defer f.Close()
		report, err = rc.reconciler.ReconcileCSV(ctx, f, actor)
	} else {
		var req reconcileRequest
		if !bindJSON(c, &req, false) {
			return
		}
		switch {
		case req.ObjectKey != "":
			report, err = rc.reconciler.ReconcileObject(ctx, req.ObjectKey, actor)
		case len(req.Rows) > 0:
			report = rc.reconciler.Reconcile(ctx, req.Rows, actor)
		default:
			err = apperrors.Validation(services.ReasonInvalidRequest, "rows or object_key is required")
		}
	}
	if err != nil {
		c.Error(err)
		return
	}

	rc.logger.Info("Statement reconciled",
		zap.String("actor", actor),
		zap.Int("rows", report.TotalRows),
		zap.Int("matched", report.Matched),
		zap.Int("unmatched", len(report.Unmatched)),
	)
	c.JSON(http.StatusOK, report)
}
