package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsAPI is the part of the CloudWatch client the engine calls.
type MetricsAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsClient publishes engine metrics under one CloudWatch namespace.
// A nil or disabled client accepts every call and sends nothing.
type MetricsClient struct {
	api       MetricsAPI
	namespace string
	enabled   bool
	now       func() time.Time
}

func NewMetricsClient(cfg aws.Config, namespace string, enabled bool) *MetricsClient {
	return NewMetricsClientWithAPI(cloudwatch.NewFromConfig(cfg), namespace, enabled)
}

func NewMetricsClientWithAPI(api MetricsAPI, namespace string, enabled bool) *MetricsClient {
	if namespace == "" {
		namespace = "PaymentEngine"
	}
	return &MetricsClient{api: api, namespace: namespace, enabled: enabled, now: time.Now}
}

// Datum is one data point.
type Datum struct {
	Name  string
	Value float64
	Unit  types.StandardUnit
	Dims  map[string]string
}

func Count(name string, dims map[string]string) Datum {
	return Datum{Name: name, Value: 1, Unit: types.StandardUnitCount, Dims: dims}
}

func Latency(name string, d time.Duration, dims map[string]string) Datum {
	return Datum{Name: name, Value: float64(d.Milliseconds()), Unit: types.StandardUnitMilliseconds, Dims: dims}
}

// Put sends every datum in a single PutMetricData call.
func (m *MetricsClient) Put(ctx context.Context, data ...Datum) error {
	if !m.Enabled() || len(data) == 0 {
		return nil
	}
	ts := m.now()
	out := make([]types.MetricDatum, 0, len(data))
	for _, d := range data {
		dims := make([]types.Dimension, 0, len(d.Dims))
		for k, v := range d.Dims {
			dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(v)})
		}
		out = append(out, types.MetricDatum{
			MetricName: aws.String(d.Name),
			Value:      aws.Float64(d.Value),
			Unit:       d.Unit,
			Timestamp:  aws.Time(ts),
			Dimensions: dims,
		})
	}
	if _, err := m.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: out,
	}); err != nil {
		return fmt.Errorf("put %d metrics: %w", len(out), err)
	}
	return nil
}

// RecordCount increments a counter by one.
func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.Put(ctx, Count(metricName, dimensions))
}

func (m *MetricsClient) Enabled() bool {
	return m != nil && m.enabled
}

const (
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"

	MetricPaymentCreated      = "PaymentCreated"
	MetricPaymentSucceeded    = "PaymentSucceeded"
	MetricPaymentExpired      = "PaymentExpired"
	MetricWebhookRejected     = "WebhookRejected"
	MetricWebhookDuplicate    = "WebhookDuplicate"
	MetricRefundSettled       = "RefundSettled"
	MetricReconciliationRows  = "ReconciliationRows"
	MetricReconciliationMiss  = "ReconciliationUnmatched"
	MetricCommissionProcessed = "CommissionProcessed"
	MetricCommissionDead      = "CommissionDeadLetter"
)
