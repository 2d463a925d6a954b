package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, msg kafka.Message) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	StartOffset int64
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	Registerer  prometheus.Registerer
}

// WithConsumerBrokers sets Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

// WithConsumerGroupID sets consumer group ID.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerFromStart makes a new group read the topic from the beginning.
func WithConsumerFromStart(fromStart bool) ConsumerOption {
	return func(c *ConsumerConfig) {
		if fromStart {
			c.StartOffset = kafka.FirstOffset
		} else {
			c.StartOffset = kafka.LastOffset
		}
	}
}

// WithConsumerRetry configures retry attempts and backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets a Kafka topic name for DLQ.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

// WithConsumerMetrics registers consumer metrics on reg.
func WithConsumerMetrics(reg prometheus.Registerer) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Registerer = reg
	}
}

// Consumer reads each registered topic on its own goroutine. Messages of one
// topic are handled in order; offsets are committed after handling.
type Consumer struct {
	cfg      ConsumerConfig
	handlers map[string]MessageHandler
	hook     ConsumerHook
	dlq      *kafka.Writer
	latency  *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := ConsumerConfig{
		GroupID:     "signalserve",
		StartOffset: kafka.LastOffset,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "signalserve_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signalserve_kafka_consumer_failures_total", Help: "Messages that failed after all retries"},
			[]string{"topic"},
		),
	}
	if cfg.Registerer != nil {
		for _, col := range []prometheus.Collector{c.latency, c.failures} {
			if err := cfg.Registerer.Register(col); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					return nil, fmt.Errorf("register consumer metrics: %w", err)
				}
			}
		}
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler registers a message handler for its topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) error {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		return fmt.Errorf("handler already registered for topic %s", topic)
	}
	c.handlers[topic] = handler
	return nil
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Run consumes every registered topic until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(c.handlers))
	for topic, h := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			StartOffset: c.cfg.StartOffset,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
		})
		wg.Add(1)
		go func(h MessageHandler, reader *kafka.Reader) {
			defer wg.Done()
			defer reader.Close()
			if err := c.consume(ctx, h, reader); err != nil {
				errCh <- err
			}
		}(h, reader)
	}
	wg.Wait()
	close(errCh)

	if c.dlq != nil {
		_ = c.dlq.Close()
	}
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Consumer) consume(ctx context.Context, h MessageHandler, reader *kafka.Reader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch %s: %w", h.Topic(), err)
		}

		start := time.Now()
		herr := c.handle(ctx, h, msg)
		c.latency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
		if herr != nil {
			c.failures.WithLabelValues(msg.Topic).Inc()
			if c.dlq == nil {
				// Leave the offset uncommitted so the message is redelivered.
				return fmt.Errorf("handle %s@%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, herr)
			}
			if err := c.dlq.WriteMessages(ctx, kafka.Message{
				Key:     msg.Key,
				Value:   msg.Value,
				Headers: append(msg.Headers, kafka.Header{Key: "source_topic", Value: []byte(msg.Topic)}),
			}); err != nil {
				return fmt.Errorf("dlq %s: %w", c.cfg.DLQTopic, err)
			}
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			return fmt.Errorf("commit %s: %w", msg.Topic, err)
		}
	}
}

// handle runs h with retries. Panics count as failures.
func (c *Consumer) handle(ctx context.Context, h MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.attempt(ctx, h, msg)
		if err == nil || attempt > c.cfg.RetryMax {
			break
		}
		c.hook.OnError(ctx, msg, err)
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		c.hook.OnError(ctx, msg, err)
	}
	return err
}

func (c *Consumer) attempt(ctx context.Context, h MessageHandler, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	hctx, err := c.hook.BeforeHandle(ctx, msg)
	if err != nil {
		return err
	}
	err = h.Handle(hctx, msg)
	c.hook.AfterHandle(hctx, msg, err)
	return err
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	return exp - time.Duration(rand.Int63n(int64(exp)/2+1))
}
