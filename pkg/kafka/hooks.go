package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook observes message handling.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, error)
	AfterHandle(ctx context.Context, msg kafka.Message, err error)
	OnError(ctx context.Context, msg kafka.Message, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ kafka.Message) (context.Context, error) {
	return ctx, nil
}
func (NoopHook) AfterHandle(context.Context, kafka.Message, error) {}
func (NoopHook) OnError(context.Context, kafka.Message, error)     {}

// HookFuncs adapts optional functions to ConsumerHook.
type HookFuncs struct {
	Before func(ctx context.Context, msg kafka.Message) (context.Context, error)
	After  func(ctx context.Context, msg kafka.Message, err error)
	Error  func(ctx context.Context, msg kafka.Message, err error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, error) {
	if h.Before == nil {
		return ctx, nil
	}
	return h.Before(ctx, msg)
}

func (h HookFuncs) AfterHandle(ctx context.Context, msg kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, msg, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, msg kafka.Message, err error) {
	if h.Error != nil {
		h.Error(ctx, msg, err)
	}
}

// HookChain runs hooks in order. BeforeHandle stops at the first error.
type HookChain []ConsumerHook

func (c HookChain) BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, error) {
	for _, h := range c {
		var err error
		if ctx, err = h.BeforeHandle(ctx, msg); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

func (c HookChain) AfterHandle(ctx context.Context, msg kafka.Message, err error) {
	for _, h := range c {
		h.AfterHandle(ctx, msg, err)
	}
}

func (c HookChain) OnError(ctx context.Context, msg kafka.Message, err error) {
	for _, h := range c {
		h.OnError(ctx, msg, err)
	}
}

type ctxKey string

const startTimeKey ctxKey = "kafka_start_time"

// WithStartTime stores the handling start time in ctx.
func WithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

// StartTime returns the time stored by WithStartTime.
func StartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// HeaderValue returns the first header named key.
func HeaderValue(msg kafka.Message, key string) (string, bool) {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}
