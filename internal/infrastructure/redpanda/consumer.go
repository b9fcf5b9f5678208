package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-caregap/internal/observability/tracing"
)

// ConsumerConfig holds configuration for the Redpanda consumer
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// Concurrency bounds the records of one poll handled at once
	Concurrency    int
	SessionTimeout time.Duration
	// StartOffset is "earliest" or "latest" for groups without commits
	StartOffset string
	// DeadLetterTopic receives records whose handler failed; empty disables
	DeadLetterTopic string
}

// DefaultConsumerConfig returns defaults for the re-evaluation worker
func DefaultConsumerConfig(brokers []string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:         brokers,
		GroupID:         "caregap-worker",
		Topics:          []string{TopicRecordsUpdated},
		Concurrency:     16,
		SessionTimeout:  30 * time.Second,
		StartOffset:     "earliest",
		DeadLetterTopic: TopicDeadLetter,
	}
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage represents a consumed Kafka message
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// DeadLetterPublisher is the subset of Producer used for dead letters
type DeadLetterPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kgo.RecordHeader) error
}

// Consumer reads records in a consumer group and hands them to a handler.
// Offsets are committed after every record of a poll has been handled or
// dead-lettered, so a crash redelivers at most one poll.
type Consumer struct {
	client     *kgo.Client
	config     ConsumerConfig
	handler    MessageHandler
	deadLetter DeadLetterPublisher
	logger     *zap.Logger
	tracer     trace.Tracer

	cancel context.CancelFunc
	done   chan struct{}

	messagesRead int64
	errorCount   int64
	deadLettered int64
}

// NewConsumer creates a new consumer. deadLetter may be nil.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, deadLetter DeadLetterPublisher, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		// only records marked after handling are ever committed
		kgo.AutoCommitMarks(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(cfg.SessionTimeout))
	}
	switch cfg.StartOffset {
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	default:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Consumer{
		client:     client,
		config:     cfg,
		handler:    handler,
		deadLetter: deadLetter,
		logger:     logger,
		tracer:     otel.Tracer("redpanda-consumer"),
	}, nil
}

// Start begins consuming in the background
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.consumeLoop(ctx)
	}()
}

// Stop stops polling, waits for in-flight records and closes the client
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Warn("error committing offsets on stop", zap.Error(err))
	}
	c.client.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
			atomic.AddInt64(&c.errorCount, 1)
		})

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}
		c.handleAll(ctx, records)
		if ctx.Err() != nil {
			// interrupted records are redelivered to the next group member
			return
		}

		c.client.MarkCommitRecords(records...)
		if err := c.client.CommitMarkedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offsets", zap.Error(err))
		}
	}
}

// handleAll runs the handler over records with bounded concurrency
func (c *Consumer) handleAll(ctx context.Context, records []*kgo.Record) {
	sem := make(chan struct{}, c.config.Concurrency)
	var wg sync.WaitGroup
	for _, record := range records {
		sem <- struct{}{}
		wg.Add(1)
		go func(r *kgo.Record) {
			defer func() {
				<-sem
				wg.Done()
			}()
			c.processRecord(ctx, r)
		}(record)
	}
	wg.Wait()
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, &recordCarrier{record})
	ctx, span := c.tracer.Start(ctx, "process "+record.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.source", record.Topic),
			attribute.Int64("messaging.kafka.partition", int64(record.Partition)),
			attribute.Int64("messaging.kafka.offset", record.Offset),
		))
	defer span.End()

	atomic.AddInt64(&c.messagesRead, 1)
	msg := toMessage(record)

	err := c.handler(ctx, msg)
	if err == nil {
		return
	}

	atomic.AddInt64(&c.errorCount, 1)
	tracing.Fail(span, err, "")
	c.logger.Error("message handler failed",
		zap.String("topic", record.Topic),
		zap.Int32("partition", record.Partition),
		zap.Int64("offset", record.Offset),
		zap.Error(err))

	if ctx.Err() != nil {
		return
	}
	c.sendToDeadLetter(ctx, record, err)
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, record *kgo.Record, cause error) {
	if c.deadLetter == nil || c.config.DeadLetterTopic == "" {
		return
	}
	headers := append([]kgo.RecordHeader{
		{Key: HeaderSource, Value: []byte(record.Topic)},
		{Key: HeaderError, Value: []byte(cause.Error())},
	}, record.Headers...)

	if err := c.deadLetter.Publish(ctx, c.config.DeadLetterTopic, string(record.Key), record.Value, headers...); err != nil {
		c.logger.Error("dead letter publish failed",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		return
	}
	atomic.AddInt64(&c.deadLettered, 1)
}

func toMessage(record *kgo.Record) *ConsumedMessage {
	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Timestamp,
	}
	for _, h := range record.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// ConsumerStats holds consumer statistics
type ConsumerStats struct {
	MessagesRead int64
	ErrorCount   int64
	DeadLettered int64
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		MessagesRead: atomic.LoadInt64(&c.messagesRead),
		ErrorCount:   atomic.LoadInt64(&c.errorCount),
		DeadLettered: atomic.LoadInt64(&c.deadLettered),
	}
}
