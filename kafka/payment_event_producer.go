package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/yashrajoria/payment-engine/models"
	"go.uber.org/zap"
)

// PaymentEventProducer writes payment events to Kafka keyed by order id, so
// every event of one order lands on the same partition.
type PaymentEventProducer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewPaymentEventProducer(brokers []string, topic string, logger *zap.Logger) *PaymentEventProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	logger.Info("Kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &PaymentEventProducer{writer: w, topic: topic, logger: logger}
}

// Notify implements services.Notifier.
func (p *PaymentEventProducer) Notify(ctx context.Context, event models.PaymentEvent) error {
	msg, err := eventMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", event.Type, err)
	}

	p.logger.Debug("Sent payment event", zap.String("event_type", event.Type), zap.String("order_id", event.OrderID))
	return nil
}

func eventMessage(event models.PaymentEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", event.Type, err)
	}
	headers := []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}}
	if event.PaymentID != "" {
		headers = append(headers, kafka.Header{Key: "payment_id", Value: []byte(event.PaymentID)})
	}
	return kafka.Message{Key: []byte(event.OrderID), Value: data, Headers: headers}, nil
}

func (p *PaymentEventProducer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("Kafka producer close failed", zap.Error(err))
		return
	}
	p.logger.Info("Kafka producer closed")
}
