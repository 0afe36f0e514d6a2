package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	logBatchSize     = 100
	logFlushInterval = 2 * time.Second
	logBufferSize    = 1024
)

// CloudWatchLogsClient ships log lines to a CloudWatch Logs stream. Write
// only enqueues; a background goroutine flushes in batches.
type CloudWatchLogsClient struct {
	client        *cloudwatchlogs.Client
	logGroupName  string
	logStreamName string
	events        chan types.InputLogEvent
	done          chan struct{}
	mu            sync.RWMutex
	closed        bool
}

// NewCloudWatchLogsClient ensures the group and a fresh stream exist, then
// starts the flusher.
func NewCloudWatchLogsClient(ctx context.Context, cfg aws.Config, logGroup, serviceName string) (*CloudWatchLogsClient, error) {
	if logGroup == "" {
		logGroup = "/payment-engine/services"
	}
	c := &CloudWatchLogsClient{
		client:        cloudwatchlogs.NewFromConfig(cfg),
		logGroupName:  logGroup,
		logStreamName: fmt.Sprintf("%s-%d", serviceName, time.Now().Unix()),
		events:        make(chan types.InputLogEvent, logBufferSize),
		done:          make(chan struct{}),
	}

	if err := c.ensureLogGroup(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure log group: %w", err)
	}
	if _, err := c.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(c.logGroupName),
		LogStreamName: aws.String(c.logStreamName),
	}); err != nil {
		return nil, fmt.Errorf("failed to create log stream: %w", err)
	}

	go c.run()
	return c, nil
}

func (c *CloudWatchLogsClient) ensureLogGroup(ctx context.Context) error {
	_, err := c.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(c.logGroupName),
	})
	if err != nil {
		var existsErr *types.ResourceAlreadyExistsException
		if !errors.As(err, &existsErr) {
			return err
		}
	}

	_, err = c.client.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(c.logGroupName),
		RetentionInDays: aws.Int32(30),
	})
	return err
}

// Write implements io.Writer. Lines are dropped when the buffer is full.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	event := types.InputLogEvent{
		Message:   aws.String(string(p)),
		Timestamp: aws.Int64(time.Now().UnixMilli()),
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return len(p), nil
	}
	select {
	case c.events <- event:
	default:
	}
	return len(p), nil
}

// Close flushes pending lines and stops the flusher.
func (c *CloudWatchLogsClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()
	<-c.done
}

func (c *CloudWatchLogsClient) run() {
	defer close(c.done)
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()

	batch := make([]types.InputLogEvent, 0, logBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := c.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(c.logGroupName),
			LogStreamName: aws.String(c.logStreamName),
			LogEvents:     batch,
		})
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "CloudWatch write error: %v\n", err)
		}
		batch = make([]types.InputLogEvent, 0, logBatchSize)
	}

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
