package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"SignalServe/internal/domain/models"
)

func newTestDispatcher(rt *fakeRuntime, tables fakeTables, opts ...Option) *Dispatcher {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return clock })}, opts...)
	return NewDispatcher(rt, tables, opts...)
}

func mustPrefix(t *testing.T, got, prefix string) {
	t.Helper()
	if !strings.HasPrefix(got, prefix) {
		t.Fatalf("response %q does not start with %q", got, prefix)
	}
}

func TestDispatchPredictLifecycle(t *testing.T) {
	rt := newFakeRuntime()
	rt.add("buy.nn", 2, 3, 0.25)
	d := newTestDispatcher(rt, nil)
	ctx := context.Background()

	mustPrefix(t, d.Dispatch(ctx, "buy_predict", "1,2,3|4,5,6"), "error: NotLoaded: ")

	if got := d.Dispatch(ctx, "buy_load", "buy.nn"); got != "ok" {
		t.Fatalf("load: %q", got)
	}
	if got := d.Dispatch(ctx, "buy_predict", "1,2,3|4,5,6"); got != "0.25" {
		t.Fatalf("predict: %q", got)
	}
}

func TestDispatchShapeValidatedEveryCall(t *testing.T) {
	rt := newFakeRuntime()
	rt.add("buy.nn", 2, 3, 0.25)
	d := newTestDispatcher(rt, nil)
	ctx := context.Background()
	d.Dispatch(ctx, "buy_load", "buy.nn")

	tests := []string{
		"1,2,3",
		"1,2,3|4,5,6|7,8,9",
		"1,2|4,5",
		"1,2,3|4,5,6,7",
	}
	for _, payload := range tests {
		got := d.Dispatch(ctx, "buy_predict", payload)
		mustPrefix(t, got, "error: BadPayload: ")
		if !strings.HasSuffix(got, models.ErrShapeMismatch.Error()) {
			t.Fatalf("%s: expected shape mismatch, got %q", payload, got)
		}
	}
	if rt.loaded[0].infers != 0 {
		t.Fatalf("runtime must not see mismatched tensors")
	}
}

func TestDispatchSlotIsolation(t *testing.T) {
	rt := newFakeRuntime()
	rt.add("buy.nn", 1, 2, 0.9)
	rt.add("sell.nn", 3, 1, 0.1)
	d := newTestDispatcher(rt, nil)
	ctx := context.Background()

	d.Dispatch(ctx, "buy_load", "buy.nn")
	mustPrefix(t, d.Dispatch(ctx, "sell_predict", "1"), "error: NotLoaded: ")

	d.Dispatch(ctx, "sell_load", "sell.nn")
	if got := d.Dispatch(ctx, "buy_predict", "1,2"); got != "0.9" {
		t.Fatalf("buy: %q", got)
	}
	if got := d.Dispatch(ctx, "sell_predict", "1|2|3"); got != "0.1" {
		t.Fatalf("sell: %q", got)
	}

	// Same artifact in both slots still yields two handles.
	d.Dispatch(ctx, "sell_load", "buy.nn")
	if len(rt.loaded) != 3 || rt.loaded[0] == rt.loaded[2] {
		t.Fatalf("expected a fresh handle per load")
	}
	if !rt.loaded[1].closed || rt.loaded[0].closed {
		t.Fatalf("only the replaced sell handle should be closed")
	}
}

func TestDispatchFailedLoadKeepsPreviousModel(t *testing.T) {
	rt := newFakeRuntime()
	rt.add("buy.nn", 1, 2, 0.6)
	d := newTestDispatcher(rt, nil)
	ctx := context.Background()
	d.Dispatch(ctx, "buy_load", "buy.nn")

	mustPrefix(t, d.Dispatch(ctx, "buy_load", "missing.nn"), "error: RuntimeError: ")
	if got := d.Dispatch(ctx, "buy_predict", "3,4"); got != "0.6" {
		t.Fatalf("previous model lost: %q", got)
	}
	if rt.loaded[0].closed {
		t.Fatalf("previous handle must stay open")
	}
	st := d.Snapshot()
	if !st.Slots[0].Loaded || st.Slots[0].Path != "buy.nn" {
		t.Fatalf("unexpected slot state %+v", st.Slots[0])
	}
}

func TestDispatchReloadReplaces(t *testing.T) {
	rt := newFakeRuntime()
	rt.add("a.nn", 1, 2, 0.3)
	rt.add("b.nn", 2, 1, 0.7)
	d := newTestDispatcher(rt, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if got := d.Dispatch(ctx, "buy_load", "a.nn"); got != "ok" {
			t.Fatalf("reload %d: %q", i, got)
		}
	}
	if got := d.Dispatch(ctx, "buy_predict", "1,2"); got != "0.3" {
		t.Fatalf("after reload: %q", got)
	}

	d.Dispatch(ctx, "buy_load", "b.nn")
	mustPrefix(t, d.Dispatch(ctx, "buy_predict", "1,2"), "error: BadPayload: ")
	if got := d.Dispatch(ctx, "buy_predict", "1|2"); got != "0.7" {
		t.Fatalf("new shape: %q", got)
	}
	if !rt.loaded[0].closed || !rt.loaded[1].closed || rt.loaded[2].closed {
		t.Fatalf("unexpected close state")
	}
}

func TestDispatchErrors(t *testing.T) {
	d := newTestDispatcher(newFakeRuntime(), fakeTables{})
	ctx := context.Background()

	tests := []struct {
		cmd, payload, prefix string
	}{
		{"hold", "x", "error: UnknownCommand: "},
		{"nodelimiter", "", "error: UnknownCommand: "},
		{"buy_load", "", "error: BadPayload: "},
		{"train_fit", "1,1", "error: NotLoaded: "},
		{"train_save", "out.nn", "error: NotLoaded: "},
		{"train_init", "missing.csv,3", "error: RuntimeError: "},
	}
	for _, tt := range tests {
		mustPrefix(t, d.Dispatch(ctx, tt.cmd, tt.payload), tt.prefix)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	rt := newFakeRuntime()
	rt.add("buy.nn", 1, 1, 0.4)
	d := newTestDispatcher(rt, nil)
	ctx := context.Background()
	d.Dispatch(ctx, "buy_load", "buy.nn")

	rt.loaded[0].panics = true
	got := d.Dispatch(ctx, "buy_predict", "1")
	mustPrefix(t, got, "error: RuntimeError: ")
	if !strings.Contains(got, "runtime exploded") {
		t.Fatalf("panic value missing: %q", got)
	}

	rt.loaded[0].panics = false
	if got := d.Dispatch(ctx, "buy_predict", "1"); got != "0.4" {
		t.Fatalf("dispatcher unusable after panic: %q", got)
	}
}

func TestDispatchTrainingCycle(t *testing.T) {
	table, labels := seqTable(10, 3)
	tables := fakeTables{"train.csv": {table: table, labels: labels}}
	rt := newFakeRuntime()
	runs := &recordedRuns{}
	events := &recordedEvents{}
	d := newTestDispatcher(rt, tables, WithTrainingLog(runs), WithEvents(events))
	ctx := context.Background()

	if got := d.Dispatch(ctx, "train_init", "train.csv,4"); got != "ok" {
		t.Fatalf("train_init: %q", got)
	}
	st := d.Snapshot().Session
	if !st.Active || st.Samples != 7 || st.Timesteps != 4 || st.Features != 3 {
		t.Fatalf("unexpected session %+v", st)
	}
	if len(d.session.Targets) != 7 || d.session.Targets[0] != labels[3] {
		t.Fatalf("targets not aligned: %v", d.session.Targets)
	}

	got := d.Dispatch(ctx, "train_fit", "10,4")
	mustPrefix(t, got, "ok: loss=0.050000, acc=0.750000, time=")
	got = d.Dispatch(ctx, "train_fit", "15,4")
	mustPrefix(t, got, "ok: loss=0.020000, acc=0.750000, time=")

	st = d.Snapshot().Session
	if st.EpochsRun != 25 || st.LastFit == nil || st.LastFit.Epochs != 15 {
		t.Fatalf("fits not cumulative: %+v", st)
	}
	if len(runs.runs) != 2 || runs.runs[1].TotalEpochs != 25 || runs.runs[1].SessionID != st.ID {
		t.Fatalf("unexpected training runs %+v", runs.runs)
	}

	if got := d.Dispatch(ctx, "train_save", "out.nn"); got != "ok" {
		t.Fatalf("train_save: %q", got)
	}
	if d.session == nil {
		t.Fatalf("save must not clear the session")
	}
	if got := d.Dispatch(ctx, "sell_load", "out.nn"); got != "ok" {
		t.Fatalf("load exported: %q", got)
	}
	if got := d.Dispatch(ctx, "sell_predict", "1,2,3|1,2,3|1,2,3|1,2,3"); got != "0.5" {
		t.Fatalf("predict exported: %q", got)
	}

	types := make([]string, 0, len(events.events))
	for _, ev := range events.events {
		types = append(types, ev.Type)
	}
	want := []string{
		models.EventTrainingFit,
		models.EventTrainingFit,
		models.EventModelExported,
		models.EventModelLoaded,
		models.EventPrediction,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events %v, want %v", types, want)
	}
}

func TestDispatchTrainInitReplacesSession(t *testing.T) {
	small, smallLabels := seqTable(10, 2)
	big, bigLabels := seqTable(20, 2)
	tables := fakeTables{
		"small.csv": {table: small, labels: smallLabels},
		"big.csv":   {table: big, labels: bigLabels},
	}
	d := newTestDispatcher(newFakeRuntime(), tables)
	ctx := context.Background()

	d.Dispatch(ctx, "train_init", "small.csv,2")
	first := d.Snapshot().Session.ID
	d.Dispatch(ctx, "train_fit", "3,2")

	mustPrefix(t, d.Dispatch(ctx, "train_init", "big.csv,30"), "error: BadPayload: ")
	if d.Snapshot().Session.ID != first {
		t.Fatalf("failed train_init must keep the session")
	}

	d.Dispatch(ctx, "train_init", "big.csv,5")
	st := d.Snapshot().Session
	if st.ID == first || st.EpochsRun != 0 || st.Samples != 16 {
		t.Fatalf("session not replaced: %+v", st)
	}
}

func TestDispatchUsesPredictionCache(t *testing.T) {
	rt := newFakeRuntime()
	rt.add("buy.nn", 1, 2, 0.8)
	cache := mapCache{}
	d := newTestDispatcher(rt, nil, WithCache(cache))
	ctx := context.Background()
	d.Dispatch(ctx, "buy_load", "buy.nn")

	for i := 0; i < 3; i++ {
		if got := d.Dispatch(ctx, "buy_predict", "1,2"); got != "0.8" {
			t.Fatalf("predict %d: %q", i, got)
		}
	}
	if rt.loaded[0].infers != 1 {
		t.Fatalf("expected one inference, got %d", rt.loaded[0].infers)
	}

	d.Dispatch(ctx, "buy_load", "buy.nn")
	d.Dispatch(ctx, "buy_predict", "1,2")
	// Same path, same digest: the fresh handle is served from cache too.
	if rt.loaded[1].infers != 0 {
		t.Fatalf("expected cache hit for identical artifact")
	}
}

func TestDispatchMetrics(t *testing.T) {
	m := newCountingMetrics()
	d := newTestDispatcher(newFakeRuntime(), nil, WithMetrics(m))
	ctx := context.Background()

	d.Dispatch(ctx, "buy_predict", "1")
	d.Dispatch(ctx, "whatever", "1")
	d.Dispatch(ctx, "whatever_else", "1")

	if m.outcomes["buy_predict/error"] != 1 || m.outcomes["unknown/error"] != 2 {
		t.Fatalf("unexpected outcomes %v", m.outcomes)
	}
	if m.kinds["NotLoaded"] != 1 || m.kinds["UnknownCommand"] != 2 {
		t.Fatalf("unexpected kinds %v", m.kinds)
	}
}

func TestDispatcherCloseReleasesModels(t *testing.T) {
	rt := newFakeRuntime()
	rt.add("buy.nn", 1, 1, 0.1)
	d := newTestDispatcher(rt, nil)
	ctx := context.Background()
	d.Dispatch(ctx, "buy_load", "buy.nn")

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !rt.loaded[0].closed {
		t.Fatalf("handle not released")
	}
	mustPrefix(t, d.Dispatch(ctx, "buy_predict", "1"), "error: NotLoaded: ")
}
