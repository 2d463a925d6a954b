package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SignalServe/internal/domain/repository"
	"SignalServe/internal/usecase"
	"SignalServe/pkg/http/middleware"
	applogger "SignalServe/pkg/logger"
)

// Submitter executes one command and returns its response line.
type Submitter interface {
	Submit(ctx context.Context, command, payload string) (string, error)
}

// Config holds per-connection transport limits.
type Config struct {
	ReadLimit      int64
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string
}

func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Handler serves the command protocol over WebSocket. Each connection is
// handled on its own goroutine, one message at a time.
type Handler struct {
	worker   Submitter
	cfg      Config
	upgrader websocket.Upgrader
	metrics  repository.Metrics
	l        *applogger.Logger

	mu      sync.Mutex
	conns   map[string]*session
	closing bool
	wg      sync.WaitGroup
}

type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func NewHandler(worker Submitter, cfg Config, metrics repository.Metrics, l *applogger.Logger) *Handler {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	h := &Handler{
		worker:  worker,
		cfg:     cfg,
		metrics: metrics,
		l:       l,
		conns:   make(map[string]*session),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(cfg.AllowedOrigins) == 0 {
				return true
			}
			return middleware.OriginAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Serve)
	e.GET("/", h.Serve)
}

// Serve upgrades the request and runs the connection until it closes.
func (h *Handler) Serve(c echo.Context) error {
	if h.isClosing() {
		return c.String(http.StatusServiceUnavailable, "shutting down")
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.l.Warn("websocket upgrade failed", applogger.String("remote", c.RealIP()), applogger.Error(err))
		return nil
	}

	// Hijacked connections outlive the request context on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	if !h.track(id, &session{conn: conn, cancel: cancel}) {
		cancel()
		h.closeWith(conn, websocket.CloseGoingAway, "shutting down")
		_ = conn.Close()
		return nil
	}
	defer h.untrack(id)
	defer cancel()

	h.serveConn(ctx, conn, h.l.With(applogger.String("conn_id", id), applogger.String("remote", c.RealIP())))
	return nil
}

func (h *Handler) serveConn(ctx context.Context, conn *websocket.Conn, l *applogger.Logger) {
	h.metrics.RecordConnection(1)
	defer h.metrics.RecordConnection(-1)
	defer conn.Close()
	l.Info("client connected")

	conn.SetReadLimit(h.cfg.ReadLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go h.ping(conn, pingDone)

	for {
		// Reset after every command; long commands block reads and pongs.
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				l.Warn("client read failed", applogger.Error(err))
			} else {
				l.Info("client disconnected")
			}
			return
		}
		if mt != websocket.TextMessage {
			l.Warn("non-text frame rejected", applogger.Int("type", mt))
			h.closeWith(conn, websocket.CloseUnsupportedData, "text frames only")
			return
		}

		msg := string(data)
		if usecase.IsBye(msg) {
			l.Info("client said bye")
			h.closeWith(conn, websocket.CloseNormalClosure, "bye")
			return
		}

		command, payload := usecase.SplitMessage(msg)
		resp, err := h.worker.Submit(ctx, command, payload)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				l.Warn("command not executed", applogger.String("command", command), applogger.Error(err))
			}
			h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
			l.Warn("client write failed", applogger.Error(err))
			return
		}
	}
}

func (h *Handler) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(h.cfg.WriteWait))
}

func (h *Handler) track(id string, s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[id] = s
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// ActiveConnections returns the number of open connections.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown refuses new connections, closes open ones and waits for their
// goroutines, bounded by ctx. A command already running on the worker is not
// interrupted; its response is dropped.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for _, s := range h.conns {
		s.cancel()
		h.closeWith(s.conn, websocket.CloseGoingAway, "server shutting down")
		_ = s.conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
