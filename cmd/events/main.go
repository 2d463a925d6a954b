// Command events tails the server's event topic and prints one line per
// model load, prediction, fit and export.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"SignalServe/internal/domain/models"
	"SignalServe/pkg/config"
	pkgkafka "SignalServe/pkg/kafka"
	applogger "SignalServe/pkg/logger"
)

// eventPrinter renders events from one topic as text lines.
type eventPrinter struct {
	topic string
	out   io.Writer
}

func (p *eventPrinter) Topic() string { return p.topic }

func (p *eventPrinter) Handle(_ context.Context, msg kafka.Message) error {
	var ev models.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("decode event at offset %d: %w", msg.Offset, err)
	}
	_, err := fmt.Fprintln(p.out, formatEvent(ev))
	return err
}

func formatEvent(ev models.Event) string {
	ts := time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339Nano)
	line := ts + " " + ev.Type
	if ev.Slot != "" {
		line += " slot=" + string(ev.Slot)
	}
	if ev.SessionID != "" {
		line += " session=" + ev.SessionID
	}
	if ev.Path != "" {
		line += " path=" + ev.Path
	}
	if ev.Value != nil {
		line += " value=" + strconv.FormatFloat(*ev.Value, 'f', -1, 64)
	}
	if ev.Fit != nil {
		line += fmt.Sprintf(" epochs=%d batch=%d loss=%f acc=%f", ev.Fit.Epochs, ev.Fit.BatchSize, ev.Fit.Loss, ev.Fit.Accuracy)
	}
	return line
}

// loggingHook logs failed and slow messages.
func loggingHook(l *applogger.Logger, slow time.Duration) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ kafka.Message) (context.Context, error) {
			return pkgkafka.WithStartTime(ctx, time.Now()), nil
		},
		After: func(ctx context.Context, msg kafka.Message, err error) {
			start, ok := pkgkafka.StartTime(ctx)
			if err != nil || !ok {
				return
			}
			if took := time.Since(start); took > slow {
				l.Warn("slow event", applogger.Int64("offset", msg.Offset), applogger.Duration("took", took))
			}
		},
		Error: func(_ context.Context, msg kafka.Message, err error) {
			l.Warn("event handling failed",
				applogger.String("topic", msg.Topic),
				applogger.Int("partition", msg.Partition),
				applogger.Int64("offset", msg.Offset),
				applogger.Error(err),
			)
		},
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	fromStart := flag.Bool("from-start", false, "read the topic from the beginning for a new group")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal("kafka brokers are not configured")
	}
	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.ConsumerGroup),
		pkgkafka.WithConsumerFromStart(*fromStart),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.DLQTopic),
	)
	if err != nil {
		log.Fatalf("kafka consumer: %v", err)
	}
	consumer.WithConsumerHook(loggingHook(l, time.Second))
	if err := consumer.RegisterHandler(&eventPrinter{topic: cfg.Kafka.Topic, out: os.Stdout}); err != nil {
		log.Fatalf("register handler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.Info("tailing events", applogger.String("topic", cfg.Kafka.Topic), applogger.String("group", cfg.Kafka.ConsumerGroup))
	if err := consumer.Run(ctx); err != nil {
		l.Error("consumer stopped", applogger.Error(err))
		os.Exit(1)
	}
}
