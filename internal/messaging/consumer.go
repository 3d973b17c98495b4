package messaging

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

// HandlerFunc receives the topic a message came from with its raw payload.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

type Consumer struct {
	reader   *kafka.Reader
	topics   []string
	groupID  string
	attempts int
	backoff  time.Duration
}

type consumerSettings struct {
	reader   kafka.ReaderConfig
	attempts int
	backoff  time.Duration
}

type ConsumerOption func(*consumerSettings)

func WithStartOffset(offset int64) ConsumerOption {
	return func(s *consumerSettings) {
		s.reader.StartOffset = offset
	}
}

// WithRetry runs a failing handler up to attempts times in total, waiting
// backoff times the attempt number between runs.
func WithRetry(attempts int, backoff time.Duration) ConsumerOption {
	return func(s *consumerSettings) {
		s.attempts = attempts
		s.backoff = backoff
	}
}

// NewConsumer joins groupID on every topic in topics.
func NewConsumer(brokers []string, topics []string, groupID string, opts ...ConsumerOption) *Consumer {
	s := consumerSettings{
		reader: kafka.ReaderConfig{
			Brokers:     brokers,
			GroupTopics: topics,
			GroupID:     groupID,
		},
		attempts: 1,
	}

	for _, opt := range opts {
		opt(&s)
	}
	if s.attempts < 1 {
		s.attempts = 1
	}

	return &Consumer{
		reader:   kafka.NewReader(s.reader),
		topics:   topics,
		groupID:  groupID,
		attempts: s.attempts,
		backoff:  s.backoff,
	}
}

// Consume commits a message only after handler succeeds. Once retries are
// exhausted the error stops consumption so the message is redelivered on
// restart.
func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler HandlerFunc) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, NewHeaderCarrier(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	err := retry(spanCtx, c.attempts, c.backoff, func(attempt int) error {
		if attempt > 1 {
			span.AddEvent("retry", trace.WithAttributes(attribute.Int("messaging.attempt", attempt)))
		}
		return handler(spanCtx, msg.Topic, msg.Value)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func retry(ctx context.Context, attempts int, backoff time.Duration, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	return err
}

func (c *Consumer) Topics() string {
	return strings.Join(c.topics, ",")
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
