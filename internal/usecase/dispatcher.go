package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
	"SignalServe/internal/services/features"
	applogger "SignalServe/pkg/logger"
)

// Dispatcher routes commands to the slots and the training session. It owns
// all mutable server state and must only be driven from one goroutine.
type Dispatcher struct {
	runtime repository.ModelRuntime
	tables  repository.TableLoader
	slots   map[models.SlotName]*Slot
	session *TrainingSession

	events  repository.EventPublisher
	runs    repository.TrainingLog
	cache   repository.PredictionCache
	metrics repository.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

// Option configures a Dispatcher. Nil backends are ignored and the
// corresponding feature stays disabled.
type Option func(*Dispatcher)

func WithEvents(p repository.EventPublisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.events = p
		}
	}
}

func WithTrainingLog(t repository.TrainingLog) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.runs = t
		}
	}
}

func WithCache(c repository.PredictionCache) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.cache = c
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.l = l
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(runtime repository.ModelRuntime, tables repository.TableLoader, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runtime: runtime,
		tables:  tables,
		slots:   make(map[models.SlotName]*Slot, len(models.Slots)),
		events:  noopEvents{},
		runs:    noopRuns{},
		cache:   noopCache{},
		metrics: noopMetrics{},
		l:       applogger.Nop(),
		now:     time.Now,
	}
	for _, s := range models.Slots {
		d.slots[s] = NewSlot(s)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one command and renders its response line. It never
// panics and never returns a transport error.
func (d *Dispatcher) Dispatch(ctx context.Context, command, payload string) string {
	start := time.Now()
	label := commandLabel(command)

	resp, err := d.execute(ctx, command, payload)
	took := time.Since(start)
	d.metrics.RecordLatency(label, took.Seconds())

	if err != nil {
		kind := models.KindOf(err)
		resp = FormatError(err)
		d.metrics.RecordCommand(label, "error")
		d.metrics.RecordError(string(kind))
		d.l.Warn("command failed",
			applogger.String("command", label),
			applogger.String("kind", string(kind)),
			applogger.Error(err),
			applogger.Duration("took", took),
		)
		return resp
	}

	d.metrics.RecordCommand(label, "ok")
	d.l.Info("command",
		applogger.String("command", label),
		applogger.String("response", resp),
		applogger.Duration("took", took),
	)
	return resp
}

func (d *Dispatcher) execute(ctx context.Context, command, payload string) (resp string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.RuntimeError(fmt.Errorf("panic: %v", r), "%s aborted", command)
		}
	}()

	req, err := ParseRequest(command, payload)
	if err != nil {
		return "", err
	}
	return d.Execute(ctx, req)
}

// Execute runs an already parsed request.
func (d *Dispatcher) Execute(ctx context.Context, req models.Request) (string, error) {
	switch r := req.(type) {
	case *models.LoadRequest:
		return d.load(ctx, r)
	case *models.PredictRequest:
		return d.predict(ctx, r)
	case *models.TrainInitRequest:
		return d.trainInit(r)
	case *models.TrainFitRequest:
		return d.trainFit(ctx, r)
	case *models.TrainSaveRequest:
		return d.trainSave(ctx, r)
	default:
		return "", models.UnknownCommandError(req.Command())
	}
}

func (d *Dispatcher) load(ctx context.Context, r *models.LoadRequest) (string, error) {
	slot, ok := d.slots[r.Slot]
	if !ok {
		return "", models.UnknownCommandError(r.Command())
	}
	m, err := d.runtime.Load(r.Path)
	if err != nil {
		return "", models.RuntimeError(err, "load %s model", r.Slot)
	}
	sig := m.Signature()
	if sig.Timesteps <= 0 || sig.Features <= 0 {
		_ = m.Close()
		return "", models.RuntimeError(errors.New("artifact declares no input shape"), "load %s model", r.Slot)
	}
	if err := slot.Replace(m, r.Path, d.now()); err != nil {
		d.l.Warn("release previous model failed", applogger.String("slot", string(r.Slot)), applogger.Error(err))
	}
	d.metrics.RecordSlotLoaded(string(r.Slot), true)
	d.l.Info("model loaded",
		applogger.String("slot", string(r.Slot)),
		applogger.String("path", r.Path),
		applogger.String("input", sig.InputName),
		applogger.String("output", sig.OutputName),
		applogger.Int("timesteps", sig.Timesteps),
		applogger.Int("features", sig.Features),
	)
	d.publish(ctx, models.Event{
		Type:   models.EventModelLoaded,
		Slot:   r.Slot,
		Path:   r.Path,
		Digest: m.Digest(),
	})
	return models.OKResponse, nil
}

func (d *Dispatcher) predict(ctx context.Context, r *models.PredictRequest) (string, error) {
	slot, ok := d.slots[r.Slot]
	if !ok {
		return "", models.UnknownCommandError(r.Command())
	}
	m, ok := slot.Model()
	if !ok {
		return "", models.NotLoadedError("%s model is not loaded; send %s:<path> first", r.Slot, models.LoadCommand(r.Slot))
	}

	sig := m.Signature()
	if len(r.Rows) != sig.Timesteps {
		return "", models.ShapeMismatchError("%s: got %d timesteps, model expects %d", r.Command(), len(r.Rows), sig.Timesteps)
	}
	for i, row := range r.Rows {
		if len(row) != sig.Features {
			return "", models.ShapeMismatchError("%s: timestep %d has %d features, model expects %d", r.Command(), i, len(row), sig.Features)
		}
	}

	digest := m.Digest()
	if v, hit := d.cache.Get(ctx, r.Slot, digest, r.Rows); hit {
		d.l.Debug("prediction cache hit", applogger.String("slot", string(r.Slot)))
		return formatScalar(v), nil
	}

	x, err := models.WindowTensor(r.Rows)
	if err != nil {
		return "", models.ShapeMismatchError("%s: %v", r.Command(), err)
	}
	v, err := m.Infer(x)
	if err != nil {
		return "", models.RuntimeError(err, "%s inference", r.Slot)
	}

	d.cache.Set(ctx, r.Slot, digest, r.Rows, v)
	d.publish(ctx, models.Event{
		Type:   models.EventPrediction,
		Slot:   r.Slot,
		Digest: digest,
		Value:  &v,
	})
	return formatScalar(v), nil
}

func (d *Dispatcher) trainInit(r *models.TrainInitRequest) (string, error) {
	table, labels, err := d.tables.Load(r.CSVPath)
	if err != nil {
		return "", models.RuntimeError(err, "train_init: read %s", r.CSVPath)
	}
	x, y, err := features.BuildSamples(table, labels, r.Timesteps)
	if err != nil {
		if errors.Is(err, features.ErrNotEnoughRows) {
			return "", models.BadPayloadError("train_init: %d rows cannot fill %d timesteps", table.Len(), r.Timesteps)
		}
		return "", models.RuntimeError(err, "train_init: build samples")
	}
	m, err := d.runtime.NewTrainable(repository.ModelSpec{Timesteps: r.Timesteps, Features: table.Width()})
	if err != nil {
		return "", models.RuntimeError(err, "train_init: build model")
	}

	d.session = NewTrainingSession(m, x, y, r.CSVPath, d.now())
	d.l.Info("training session created",
		applogger.String("session_id", d.session.ID),
		applogger.String("csv", r.CSVPath),
		applogger.Int("samples", d.session.Samples()),
		applogger.Int("timesteps", d.session.Timesteps()),
		applogger.Int("features", d.session.Features()),
	)
	return models.OKResponse, nil
}

func (d *Dispatcher) trainFit(ctx context.Context, r *models.TrainFitRequest) (string, error) {
	if d.session == nil {
		return "", models.NotLoadedError("no training session; send %s:<csv_path>,<timesteps> first", models.CmdTrainInit)
	}
	res, err := d.session.Fit(r.Epochs, r.BatchSize)
	if err != nil {
		return "", models.RuntimeError(err, "train_fit")
	}
	d.metrics.RecordTraining(res.Loss, res.Accuracy)

	if err := d.runs.Record(ctx, d.session.Run(res, d.now())); err != nil {
		d.l.Warn("record training run failed", applogger.String("session_id", d.session.ID), applogger.Error(err))
	}
	d.publish(ctx, models.Event{
		Type:      models.EventTrainingFit,
		SessionID: d.session.ID,
		Fit:       &res,
	})
	return fmt.Sprintf("%s: loss=%f, acc=%f, time=%f", models.OKResponse, res.Loss, res.Accuracy, res.Seconds), nil
}

func (d *Dispatcher) trainSave(ctx context.Context, r *models.TrainSaveRequest) (string, error) {
	if d.session == nil {
		return "", models.NotLoadedError("no training session; send %s:<csv_path>,<timesteps> first", models.CmdTrainInit)
	}
	if err := d.runtime.Export(d.session.Model, r.Path); err != nil {
		return "", models.RuntimeError(err, "train_save: export %s", r.Path)
	}
	d.l.Info("model exported",
		applogger.String("session_id", d.session.ID),
		applogger.String("path", r.Path),
		applogger.Int("epochs_run", d.session.EpochsRun),
	)
	d.publish(ctx, models.Event{
		Type:      models.EventModelExported,
		SessionID: d.session.ID,
		Path:      r.Path,
	})
	return models.OKResponse, nil
}

// Snapshot returns a copy of the slot and session state.
func (d *Dispatcher) Snapshot() models.ServerState {
	st := models.ServerState{Slots: make([]models.SlotState, 0, len(models.Slots))}
	for _, s := range models.Slots {
		st.Slots = append(st.Slots, d.slots[s].State())
	}
	if d.session != nil {
		st.Session = d.session.State()
	}
	return st
}

// Close releases every loaded model.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range models.Slots {
		if err := d.slots[s].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s, err))
		}
		d.metrics.RecordSlotLoaded(string(s), false)
	}
	d.session = nil
	return errors.Join(errs...)
}

func (d *Dispatcher) publish(ctx context.Context, ev models.Event) {
	ev.Timestamp = d.now().UnixMilli()
	if err := d.events.Publish(ctx, ev); err != nil {
		d.l.Warn("publish event failed", applogger.String("type", ev.Type), applogger.Error(err))
	}
}

func formatScalar(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// commandLabel bounds metric label cardinality to the known command set.
func commandLabel(command string) string {
	if _, ok := builders[command]; ok {
		return command
	}
	return "unknown"
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, models.Event) error { return nil }
func (noopEvents) Close() error                                { return nil }

type noopRuns struct{}

func (noopRuns) Record(context.Context, models.TrainingRun) error { return nil }
func (noopRuns) Recent(context.Context, int) ([]models.TrainingRun, error) {
	return nil, nil
}
func (noopRuns) Close() error { return nil }

type noopCache struct{}

func (noopCache) Get(context.Context, models.SlotName, string, [][]float64) (float64, bool) {
	return 0, false
}
func (noopCache) Set(context.Context, models.SlotName, string, [][]float64, float64) {}

type noopMetrics struct{}

func (noopMetrics) RecordCommand(string, string)    {}
func (noopMetrics) RecordError(string)              {}
func (noopMetrics) RecordLatency(string, float64)   {}
func (noopMetrics) RecordSlotLoaded(string, bool)   {}
func (noopMetrics) RecordTraining(float64, float64) {}
func (noopMetrics) RecordConnection(int)            {}
