package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/models"
	"go.uber.org/zap"
)

type fakeObjects struct {
	files map[string]string
}

func (o fakeObjects) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	body, ok := o.files[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, paymentID := f.paidOrder(t, "ORD9501", 100000)

	refund, err := f.refunds.CreateRefund(ctx, CreateRefundInput{PaymentID: paymentID, Amount: 25000, Actor: "cs-1"})
	require.NoError(t, err)
	_, err = f.refunds.ApproveRefund(ctx, refund.ID, "", "lead-1")
	require.NoError(t, err)
	pendingRefund, err := f.refunds.CreateRefund(ctx, CreateRefundInput{PaymentID: paymentID, Amount: 1000, Actor: "cs-1"})
	require.NoError(t, err)

	svc := NewReconciliationService(f.refunds, f.grammar, nil, "", nil, zap.NewNop())

	report := svc.Reconcile(ctx, []StatementRow{
		{Date: "2026-03-02", Amount: 25000, Reference: "REFUND " + refund.ID.String(), TransactionID: "B-1"},
		{Date: "2026-03-02", Amount: 25000, Reference: "REFUND " + refund.ID.String(), TransactionID: "B-1"},
		{Date: "2026-03-02", Amount: 100000, Reference: "PAY ORD9501"},
		{Date: "2026-03-02", Amount: 999, Reference: "REFUND " + pendingRefund.ID.String()},
		{Date: "2026-03-02", Amount: 1000, Reference: "REFUND " + pendingRefund.ID.String()},
		{Date: "2026-03-02", Amount: 5, Reference: "REFUND " + uuid.New().String()},
		{Date: "2026-03-02", Amount: 5, Reference: "coffee"},
		{Date: "yesterday", Amount: 5, Reference: "PAY ORD1"},
		{Date: "2026-03-02", Amount: 0, Reference: "PAY ORD1"},
	}, "reconciler")

	assert.Equal(t, 9, report.TotalRows)
	assert.Equal(t, 3, report.Matched)
	assert.Equal(t, 1, report.RefundsSettled)
	assert.Equal(t, 1, report.PaymentsReconciled)
	require.Len(t, report.Unmatched, 6)
	assert.Equal(t, 4, report.Unmatched[0].Row)
	assert.Contains(t, report.Unmatched[0].Reason, "does not match")
	assert.Equal(t, "amount failed gt", report.Unmatched[5].Reason)

	settled, _ := f.refunds.GetRefund(ctx, refund.ID)
	assert.Equal(t, models.RefundStatusSucceeded, settled.Status)
	assert.Equal(t, "reconciler", *settled.SettledBy)
	assert.Equal(t, "B-1", *settled.ProviderRef)
}

func TestReconcileObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, paymentID := f.paidOrder(t, "ORD9502", 100000)
	refund, err := f.refunds.CreateRefund(ctx, CreateRefundInput{PaymentID: paymentID, Amount: 100000, Actor: "cs-1"})
	require.NoError(t, err)
	_, err = f.refunds.ApproveRefund(ctx, refund.ID, "", "lead-1")
	require.NoError(t, err)

	objects := fakeObjects{files: map[string]string{
		"statements/2026-03-02.csv": fmt.Sprintf("date,amount,reference\n2026-03-02,\"100,000\",REFUND %s\n", refund.ID),
	}}
	svc := NewReconciliationService(f.refunds, f.grammar, objects, "statements", nil, zap.NewNop())

	report, err := svc.ReconcileObject(ctx, "2026-03-02.csv", "reconciler")
	require.NoError(t, err)
	assert.Equal(t, 1, report.RefundsSettled)

	intent, _ := f.store.Intents().FindByID(ctx, paymentID)
	assert.Equal(t, models.PaymentStatusRefunded, intent.Status)

	_, err = svc.ReconcileObject(ctx, "missing.csv", "reconciler")
	assert.Equal(t, ReasonStatementUnavailable, apperrors.ReasonOf(err))

	unconfigured := NewReconciliationService(f.refunds, f.grammar, nil, "", nil, zap.NewNop())
	_, err = unconfigured.ReconcileObject(ctx, "x.csv", "reconciler")
	assert.Equal(t, ReasonStatementUnavailable, apperrors.ReasonOf(err))

	_, err = svc.ReconcileCSV(ctx, strings.NewReader("2026-03-02,1.5,PAY ORD1\n"), "reconciler")
	assert.Equal(t, ReasonInvalidRequest, apperrors.ReasonOf(err))
}
