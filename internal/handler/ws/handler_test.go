package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SignalServe/internal/repository"
	"SignalServe/internal/usecase"
	applogger "SignalServe/pkg/logger"
	"SignalServe/pkg/nn"
)

type connMetrics struct {
	open atomic.Int64
}

func (m *connMetrics) RecordCommand(string, string)    {}
func (m *connMetrics) RecordError(string)              {}
func (m *connMetrics) RecordLatency(string, float64)   {}
func (m *connMetrics) RecordSlotLoaded(string, bool)   {}
func (m *connMetrics) RecordTraining(float64, float64) {}
func (m *connMetrics) RecordConnection(delta int)      { m.open.Add(int64(delta)) }

func startWorker(t *testing.T) *usecase.Worker {
	t.Helper()
	cfg := nn.DefaultConfig()
	cfg.Units = 4
	cfg.DenseUnits = 4
	cfg.Seed = 11
	d := usecase.NewDispatcher(repository.NewNNRuntime(cfg), repository.NewCSVTableLoader(), usecase.WithLogger(applogger.Nop()))
	w := usecase.NewWorker(d, 8, applogger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func startServer(t *testing.T, sub Submitter, cfg Config) (*httptest.Server, *Handler, *connMetrics) {
	t.Helper()
	m := &connMetrics{}
	h := NewHandler(sub, cfg, m, applogger.Nop())
	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, h, m
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write %q: %v", msg, err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply to %q: %v", msg, err)
	}
	return string(data)
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected close, got message %q", data)
	}
	if !websocket.IsCloseError(err, code) {
		t.Fatalf("expected close code %d, got %v", code, err)
	}
}

func writeTrainingCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < rows; i++ {
		up := i%2 == 0
		label := 0
		if up {
			label = 1
		}
		fmt.Fprintf(&b, "%d,%.2f,%.2f,%d\n", 100+i, float64(i%5)/5, float64(label), label)
	}
	path := filepath.Join(t.TempDir(), "train.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestByeClosesWithoutResponse(t *testing.T) {
	srv, _, _ := startServer(t, startWorker(t), Config{})
	conn := dial(t, srv, nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("bye")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestErrorsKeepConnectionOpen(t *testing.T) {
	srv, _, _ := startServer(t, startWorker(t), Config{})
	conn := dial(t, srv, nil)

	tests := []struct {
		msg, prefix string
	}{
		{"hold:1", "error: UnknownCommand: "},
		{"nodelimiter", "error: UnknownCommand: "},
		{"buy_load:", "error: BadPayload: "},
		{"buy_predict:1,2|3,4", "error: NotLoaded: "},
		{"train_fit:1,1", "error: NotLoaded: "},
		{"sell_load:/does/not/exist.nn", "error: RuntimeError: "},
		{"train_init:/does/not/exist.csv,3", "error: RuntimeError: "},
	}
	for _, tt := range tests {
		if got := roundTrip(t, conn, tt.msg); !strings.HasPrefix(got, tt.prefix) {
			t.Fatalf("%q: got %q, want prefix %q", tt.msg, got, tt.prefix)
		}
	}
}

func TestStateSurvivesReconnect(t *testing.T) {
	srv, _, _ := startServer(t, startWorker(t), Config{})
	csv := writeTrainingCSV(t, 24)
	model := filepath.Join(t.TempDir(), "models", "buy.nn")

	trainer := dial(t, srv, nil)
	if got := roundTrip(t, trainer, "train_init:"+csv+",3"); got != "ok" {
		t.Fatalf("train_init: %q", got)
	}
	got := roundTrip(t, trainer, "train_fit:2,8")
	if !strings.HasPrefix(got, "ok: loss=") || !strings.Contains(got, ", acc=") || !strings.Contains(got, ", time=") {
		t.Fatalf("train_fit: %q", got)
	}
	if got := roundTrip(t, trainer, "train_save:"+model); got != "ok" {
		t.Fatalf("train_save: %q", got)
	}
	if got := roundTrip(t, trainer, "buy_load:"+model); got != "ok" {
		t.Fatalf("buy_load: %q", got)
	}
	if err := trainer.WriteMessage(websocket.TextMessage, []byte("bye")); err != nil {
		t.Fatalf("bye: %v", err)
	}
	expectClose(t, trainer, websocket.CloseNormalClosure)

	client := dial(t, srv, nil)
	got = roundTrip(t, client, "buy_predict:0.2,1|0.4,0|0.6,1")
	v, err := strconv.ParseFloat(got, 64)
	if err != nil || v <= 0 || v >= 1 {
		t.Fatalf("predict after reconnect: %q", got)
	}
	if got := roundTrip(t, client, "buy_predict:0.2,1|0.4,0"); !strings.HasPrefix(got, "error: BadPayload: ") {
		t.Fatalf("short window: %q", got)
	}
	// Training session outlives connections too.
	if got := roundTrip(t, client, "train_fit:1,8"); !strings.HasPrefix(got, "ok: loss=") {
		t.Fatalf("train_fit after reconnect: %q", got)
	}
}

func TestNonTextFrameClosesConnection(t *testing.T) {
	srv, _, _ := startServer(t, startWorker(t), Config{})
	conn := dial(t, srv, nil)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, conn, websocket.CloseUnsupportedData)
}

func TestOriginCheck(t *testing.T) {
	srv, _, _ := startServer(t, startWorker(t), Config{AllowedOrigins: []string{"https://desk.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatalf("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	conn := dial(t, srv, http.Header{"Origin": {"https://desk.example"}})
	if got := roundTrip(t, conn, "buy_predict:1"); !strings.HasPrefix(got, "error: NotLoaded: ") {
		t.Fatalf("unexpected %q", got)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	srv, h, m := startServer(t, startWorker(t), Config{})
	conn := dial(t, srv, nil)
	roundTrip(t, conn, "buy_predict:1")
	if h.ActiveConnections() != 1 || m.open.Load() != 1 {
		t.Fatalf("expected one tracked connection")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	expectClose(t, conn, websocket.CloseGoingAway)
	if h.ActiveConnections() != 0 || m.open.Load() != 0 {
		t.Fatalf("connections not released")
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected new connections to be refused")
	}
}

func TestWorkerStoppedClosesConnection(t *testing.T) {
	w := startWorker(t)
	srv, _, _ := startServer(t, w, Config{})
	conn := dial(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop worker: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("buy_predict:1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, conn, websocket.CloseGoingAway)
}
