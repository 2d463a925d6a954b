package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	commandsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	slotLoaded    *prometheus.GaugeVec
	trainLoss     prometheus.Gauge
	trainAccuracy prometheus.Gauge
	connections   prometheus.Gauge
}

// New creates a recorder registered with the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		commandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalserve_commands_total",
				Help: "Commands handled, by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalserve_errors_total",
				Help: "Command errors by kind",
			},
			[]string{"kind"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalserve_command_duration_seconds",
				Help:    "Duration of commands in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"command"},
		),
		slotLoaded: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalserve_slot_loaded",
				Help: "1 when the slot holds a model",
			},
			[]string{"slot"},
		),
		trainLoss: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalserve_training_loss",
			Help: "Loss after the last train_fit",
		}),
		trainAccuracy: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalserve_training_accuracy",
			Help: "Accuracy after the last train_fit",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalserve_open_connections",
			Help: "Open client connections",
		}),
	}
}

// RecordCommand counts one handled command.
func (r *Recorder) RecordCommand(command, outcome string) {
	r.commandsTotal.WithLabelValues(command, outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records command latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordSlotLoaded(slot string, loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	r.slotLoaded.WithLabelValues(slot).Set(v)
}

func (r *Recorder) RecordTraining(loss, acc float64) {
	r.trainLoss.Set(loss)
	r.trainAccuracy.Set(acc)
}

func (r *Recorder) RecordConnection(delta int) {
	r.connections.Add(float64(delta))
}
