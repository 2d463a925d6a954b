package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/segmentio/kafka-go"

	"SignalServe/internal/domain/models"
)

func TestFormatEvent(t *testing.T) {
	v := 0.25
	tests := []struct {
		name string
		ev   models.Event
		want string
	}{
		{
			name: "prediction",
			ev:   models.Event{Type: models.EventPrediction, Slot: models.SlotBuy, Value: &v, Timestamp: 1000},
			want: "1970-01-01T00:00:01Z prediction slot=buy value=0.25",
		},
		{
			name: "fit",
			ev: models.Event{
				Type:      models.EventTrainingFit,
				SessionID: "s1",
				Fit:       &models.FitResult{Epochs: 2, BatchSize: 8, Loss: 0.5, Accuracy: 0.75},
			},
			want: "1970-01-01T00:00:00Z training_fit session=s1 epochs=2 batch=8 loss=0.500000 acc=0.750000",
		},
		{
			name: "export",
			ev:   models.Event{Type: models.EventModelExported, SessionID: "s1", Path: "/tmp/m"},
			want: "1970-01-01T00:00:00Z model_exported session=s1 path=/tmp/m",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatEvent(tt.ev); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventPrinterHandle(t *testing.T) {
	var out bytes.Buffer
	p := &eventPrinter{topic: "signalserve.events", out: &out}

	err := p.Handle(context.Background(), kafka.Message{Value: []byte(`{"type":"model_loaded","slot":"sell","path":"a.model","t":0}`)})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := out.String(); got != "1970-01-01T00:00:00Z model_loaded slot=sell path=a.model\n" {
		t.Fatalf("unexpected %q", got)
	}

	if err := p.Handle(context.Background(), kafka.Message{Value: []byte("not json")}); err == nil {
		t.Fatalf("expected decode error")
	}
}
