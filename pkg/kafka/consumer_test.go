package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

type stubHandler struct {
	topic string
	fails int
	calls int
	panic bool
}

func (h *stubHandler) Topic() string { return h.topic }

func (h *stubHandler) Handle(_ context.Context, _ kafka.Message) error {
	h.calls++
	if h.panic {
		panic("boom")
	}
	if h.calls <= h.fails {
		return errors.New("transient")
	}
	return nil
}

func newTestConsumer(t *testing.T, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(opts...)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return c
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	if _, err := NewConsumer(); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestRegisterHandlerRejectsDuplicateTopic(t *testing.T) {
	c := newTestConsumer(t)
	if err := c.RegisterHandler(&stubHandler{topic: "events"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.RegisterHandler(&stubHandler{topic: "events"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestRunWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t)
	if err := c.Run(context.Background()); err == nil {
		t.Fatalf("expected error without handlers")
	}
}

func TestHandleRetries(t *testing.T) {
	tests := []struct {
		name      string
		h         *stubHandler
		wantErr   bool
		wantCalls int
	}{
		{"first try", &stubHandler{topic: "t"}, false, 1},
		{"recovers", &stubHandler{topic: "t", fails: 2}, false, 3},
		{"exhausted", &stubHandler{topic: "t", fails: 10}, true, 3},
		{"panic", &stubHandler{topic: "t", panic: true}, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConsumer(t)
			var errs int
			c.WithConsumerHook(HookFuncs{Error: func(context.Context, kafka.Message, error) { errs++ }})

			err := c.handle(context.Background(), tt.h, kafka.Message{Topic: "t"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.h.calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", tt.h.calls, tt.wantCalls)
			}
			if tt.wantErr && errs == 0 {
				t.Fatalf("expected OnError calls")
			}
		})
	}
}

func TestHookChainStopsOnBeforeError(t *testing.T) {
	var order []string
	chain := HookChain{
		HookFuncs{Before: func(ctx context.Context, _ kafka.Message) (context.Context, error) {
			order = append(order, "a")
			return WithStartTime(ctx, time.Unix(10, 0)), nil
		}},
		HookFuncs{Before: func(ctx context.Context, _ kafka.Message) (context.Context, error) {
			order = append(order, "b")
			return ctx, errors.New("reject")
		}},
		HookFuncs{Before: func(ctx context.Context, _ kafka.Message) (context.Context, error) {
			order = append(order, "c")
			return ctx, nil
		}},
	}
	ctx, err := chain.BeforeHandle(context.Background(), kafka.Message{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(order) != 2 {
		t.Fatalf("unexpected order %v", order)
	}
	if ts, ok := StartTime(ctx); !ok || ts.Unix() != 10 {
		t.Fatalf("start time not propagated: %v %v", ts, ok)
	}
}

func TestHeaderValue(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: "source_topic", Value: []byte("events")}}}
	if v, ok := HeaderValue(msg, "source_topic"); !ok || v != "events" {
		t.Fatalf("unexpected %q %v", v, ok)
	}
	if _, ok := HeaderValue(msg, "missing"); ok {
		t.Fatalf("expected missing header")
	}
}

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 40*time.Millisecond
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		if d <= 0 || d > max {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}

func TestConsumerMetricsRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	for i := 0; i < 2; i++ {
		if _, err := NewConsumer(WithConsumerBrokers([]string{"b:9092"}), WithConsumerMetrics(reg)); err != nil {
			t.Fatalf("new consumer %d: %v", i, err)
		}
	}
}
