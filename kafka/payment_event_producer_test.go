package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/payment-engine/models"
)

func TestEventMessageKeyedByOrder(t *testing.T) {
	event := models.PaymentEvent{
		Type:      models.EventPaymentSucceeded,
		OrderID:   "order-1",
		PaymentID: "pay-1",
		Amount:    120000,
		Currency:  "VND",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	msg, err := eventMessage(event)
	require.NoError(t, err)
	assert.Equal(t, "order-1", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, models.EventPaymentSucceeded, string(msg.Headers[0].Value))
	assert.Equal(t, "pay-1", string(msg.Headers[1].Value))

	var decoded models.PaymentEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event, decoded)
}

func TestEventMessageWithoutPayment(t *testing.T) {
	msg, err := eventMessage(models.PaymentEvent{Type: models.EventCommissionComputed, OrderID: "order-2"})
	require.NoError(t, err)
	assert.Len(t, msg.Headers, 1)
}
