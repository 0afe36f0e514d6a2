package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceGrammar(t *testing.T) {
	g := NewReferenceGrammar("PAY", "REFUND", "DH")
	paymentID := uuid.New()
	refundID := uuid.New()

	t.Run("Payment Description Round Trip", func(t *testing.T) {
		ref := g.Parse("CT DEN:0123 " + g.PaymentDescription("ORD1001") + " chuyen tien")
		assert.Equal(t, RefPayment, ref.Kind)
		assert.Equal(t, "ORD1001", ref.OrderCode)
		assert.Nil(t, ref.PaymentID)
	})

	t.Run("Payment Reference Carries ID", func(t *testing.T) {
		ref := g.Parse(g.PaymentReference("ORD1001", paymentID))
		require.Equal(t, RefPayment, ref.Kind)
		require.NotNil(t, ref.PaymentID)
		assert.Equal(t, paymentID, *ref.PaymentID)
	})

	t.Run("Case Insensitive", func(t *testing.T) {
		ref := g.Parse("pay ord-7")
		assert.Equal(t, RefPayment, ref.Kind)
		assert.Equal(t, "ord-7", ref.OrderCode)
	})

	t.Run("Refund Reference", func(t *testing.T) {
		ref := g.Parse("statement line " + g.RefundReference(refundID) + ".")
		assert.Equal(t, RefRefund, ref.Kind)
		assert.Equal(t, refundID, ref.RefundID)
	})

	t.Run("Malformed Refund ID", func(t *testing.T) {
		ref := g.Parse("REFUND not-a-uuid")
		assert.Equal(t, RefUnknown, ref.Kind)
		assert.Equal(t, "malformed refund id", ref.Reason)
	})

	t.Run("Malformed Payment ID", func(t *testing.T) {
		ref := g.Parse("PAY ORD1 | pay:xyz")
		assert.Equal(t, RefUnknown, ref.Kind)
		assert.Equal(t, "malformed payment id", ref.Reason)
	})

	t.Run("Neither Format", func(t *testing.T) {
		ref := g.Parse("salary march")
		assert.Equal(t, RefUnknown, ref.Kind)
		assert.NotEmpty(t, ref.Reason)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Equal(t, RefUnknown, g.Parse("   ").Kind)
	})

	t.Run("Prefix Must Be A Word", func(t *testing.T) {
		assert.Equal(t, RefUnknown, g.ParsePayment("REPAY ORD1").Kind)
	})
}

func TestExtractOrderCode(t *testing.T) {
	g := NewReferenceGrammar("PAY", "REFUND", "DH")

	code, ok := g.ExtractOrderCode("thanh toan PAY ORD55", false)
	assert.True(t, ok)
	assert.Equal(t, "ORD55", code)

	code, ok = g.ExtractOrderCode("MBVCB.123.DHORD55.CT", true)
	assert.True(t, ok)
	assert.Equal(t, "ORD55", code)

	_, ok = g.ExtractOrderCode("MBVCB.123.DHORD55.CT", false)
	assert.False(t, ok)
}

func TestExternalOrderCodePriority(t *testing.T) {
	g := NewReferenceGrammar("PAY", "REFUND", "DH")
	explicit := "ORD1"

	code, ok := externalOrderCode(g, ExternalPayload{Code: &explicit, Description: "PAY ORD2", Content: "PAY ORD3"})
	assert.True(t, ok)
	assert.Equal(t, "ORD1", code)

	code, ok = externalOrderCode(g, ExternalPayload{Description: "PAY ORD2", Content: "PAY ORD3"})
	assert.True(t, ok)
	assert.Equal(t, "ORD2", code)

	code, ok = externalOrderCode(g, ExternalPayload{Description: "DH ORD2", Content: "DH ORD3"})
	assert.True(t, ok)
	assert.Equal(t, "ORD3", code)

	_, ok = externalOrderCode(g, ExternalPayload{Content: "hello"})
	assert.False(t, ok)
}
