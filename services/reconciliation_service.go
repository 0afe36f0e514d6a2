package services

import (
	"context"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
	"go.uber.org/zap"
)

type UnmatchedRow struct {
	Row       int    `json:"row"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

type ReconciliationReport struct {
	TotalRows          int            `json:"total_rows"`
	Matched            int            `json:"matched"`
	Unmatched          []UnmatchedRow `json:"unmatched"`
	RefundsSettled     int            `json:"refunds_settled"`
	PaymentsReconciled int            `json:"payments_reconciled"`
}

// ObjectOpener reads statement files from object storage.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type ReconciliationService interface {
	Reconcile(ctx context.Context, rows []StatementRow, actor string) *ReconciliationReport
	ReconcileCSV(ctx context.Context, r io.Reader, actor string) (*ReconciliationReport, error)
	ReconcileObject(ctx context.Context, key, actor string) (*ReconciliationReport, error)
}

type reconciliationServiceImpl struct {
	refunds  RefundService
	grammar  ReferenceGrammar
	validate *validator.Validate
	objects  ObjectOpener
	bucket   string
	metrics  MetricsRecorder
	logger   *zap.Logger
}

// NewReconciliationService wires the engine. objects may be nil when no
// statement bucket is configured.
func NewReconciliationService(refunds RefundService, grammar ReferenceGrammar, objects ObjectOpener, bucket string, metrics MetricsRecorder, logger *zap.Logger) ReconciliationService {
	return &reconciliationServiceImpl{
		refunds:  refunds,
		grammar:  grammar,
		validate: validator.New(),
		objects:  objects,
		bucket:   bucket,
		metrics:  metrics,
		logger:   logger,
	}
}

// Reconcile matches each row against refunds and payments. Bad rows end up in
// Unmatched with a reason; they never fail the whole statement.
func (s *reconciliationServiceImpl) Reconcile(ctx context.Context, rows []StatementRow, actor string) *ReconciliationReport {
	report := &ReconciliationReport{TotalRows: len(rows), Unmatched: []UnmatchedRow{}}
	miss := func(i int, row StatementRow, reason string) {
		report.Unmatched = append(report.Unmatched, UnmatchedRow{Row: i + 1, Reference: row.Reference, Reason: reason})
	}

	for i, row := range rows {
		if err := s.validate.Struct(row); err != nil {
			miss(i, row, rowProblem(err))
			continue
		}
		settledAt, err := parseStatementDate(row.Date)
		if err != nil {
			miss(i, row, err.Error())
			continue
		}

		ref := s.grammar.Parse(row.Reference)
		switch ref.Kind {
		case RefRefund:
			refund, err := s.refunds.GetRefund(ctx, ref.RefundID)
			if err != nil {
				miss(i, row, apperrors.From(err).Message)
				continue
			}
			if refund.Amount != row.Amount {
				miss(i, row, fmt.Sprintf("amount %d does not match refund amount %d", row.Amount, refund.Amount))
				continue
			}
			res, err := s.refunds.SettleRefund(ctx, SettleRefundInput{
				RefundID:    refund.ID,
				ProviderRef: row.TransactionID,
				SettledAt:   &settledAt,
				Actor:       actor,
			})
			if err != nil {
				miss(i, row, apperrors.From(err).Message)
				continue
			}
			report.Matched++
			if !res.AlreadySettled {
				report.RefundsSettled++
			}
		case RefPayment:
			// Payment rows are tallied only; completion happens through webhooks.
			report.Matched++
			report.PaymentsReconciled++
		default:
			miss(i, row, ref.Reason)
		}
	}

	s.logger.Info("Statement reconciled",
		zap.Int("rows", report.TotalRows),
		zap.Int("matched", report.Matched),
		zap.Int("unmatched", len(report.Unmatched)),
		zap.Int("refunds_settled", report.RefundsSettled),
		zap.String("actor", actor),
	)
	if s.metrics != nil {
		recordMetric(s.metrics, awspkg.MetricReconciliationRows, nil)
		if len(report.Unmatched) > 0 {
			recordMetric(s.metrics, awspkg.MetricReconciliationMiss, nil)
		}
	}
	return report
}

func (s *reconciliationServiceImpl) ReconcileCSV(ctx context.Context, r io.Reader, actor string) (*ReconciliationReport, error) {
	rows, err := ParseStatementCSV(r)
	if err != nil {
		return nil, apperrors.Validation(ReasonInvalidRequest, "invalid statement file: "+err.Error())
	}
	return s.Reconcile(ctx, rows, actor), nil
}

func (s *reconciliationServiceImpl) ReconcileObject(ctx context.Context, key, actor string) (*ReconciliationReport, error) {
	if s.objects == nil || s.bucket == "" {
		return nil, apperrors.Validation(ReasonStatementUnavailable, "statement bucket is not configured")
	}
	body, err := s.objects.Open(ctx, s.bucket, key)
	if err != nil {
		return nil, apperrors.Dependency(ReasonStatementUnavailable, "could not fetch statement", err)
	}
	defer body.Close()
	return s.ReconcileCSV(ctx, body, actor)
}
