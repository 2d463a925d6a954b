package api

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"SignalServe/internal/domain/models"
	domrepo "SignalServe/internal/domain/repository"
	"SignalServe/internal/services/ratelimit"
	"SignalServe/internal/usecase"
	xhttp "SignalServe/pkg/http"
	xlogger "SignalServe/pkg/logger"
)

const limiterIdle = 10 * time.Minute

// Commander is the worker surface the HTTP API needs.
type Commander interface {
	Submit(ctx context.Context, command, payload string) (string, error)
	Snapshot(ctx context.Context) (models.ServerState, error)
}

// StateEchoHandler exposes server state, training history and a JSON command
// endpoint alongside the WebSocket protocol.
type StateEchoHandler struct {
	logger  *xlogger.Logger
	worker  Commander
	runs    domrepo.TrainingLog
	limiter *ratelimit.Limiter

	pruneMu   sync.Mutex
	lastPrune time.Time
}

// NewStateEchoHandler creates the handler. runs may be nil when the training
// log is disabled. commandRPS bounds POST /api/commands per client address.
func NewStateEchoHandler(logger *xlogger.Logger, worker Commander, runs domrepo.TrainingLog, commandRPS float64) *StateEchoHandler {
	return &StateEchoHandler{
		logger:    logger,
		worker:    worker,
		runs:      runs,
		limiter:   ratelimit.New(commandRPS, commandRPS),
		lastPrune: time.Now(),
	}
}

func (h *StateEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/state", h.State)
	g.GET("/training/runs", h.TrainingRuns)
	g.POST("/commands", h.Command)
}

func (h *StateEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *StateEchoHandler) State(c echo.Context) error {
	st, err := h.worker.Snapshot(c.Request().Context())
	if err != nil {
		return h.workerError(c, "state", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, st)
}

func (h *StateEchoHandler) TrainingRuns(c echo.Context) error {
	req := &models.TrainingRunsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.runs == nil {
		return xhttp.SuccessResponse(c, []models.TrainingRun{})
	}
	runs, err := h.runs.Recent(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("training runs query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("training log unavailable").WithError(err))
	}
	if runs == nil {
		runs = []models.TrainingRun{}
	}
	return xhttp.SuccessResponse(c, runs)
}

func (h *StateEchoHandler) Command(c echo.Context) error {
	h.maybePrune()
	if !h.limiter.Allow(c.RealIP()) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("command rate exceeded").
			WithParam("remote", c.RealIP()))
	}

	req := &models.CommandEnvelope{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	resp, err := h.worker.Submit(c.Request().Context(), req.Command, req.Payload)
	if err != nil {
		return h.workerError(c, req.Command, err)
	}
	return xhttp.SuccessResponse(c, models.CommandReply{
		Command:  req.Command,
		Response: resp,
		OK:       !strings.HasPrefix(resp, models.ErrorPrefix),
	})
}

func (h *StateEchoHandler) workerError(c echo.Context, op string, err error) error {
	if errors.Is(err, usecase.ErrWorkerStopped) {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("server is shutting down"))
	}
	h.logger.Warn("worker request aborted", xlogger.String("op", op), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.UnavailableError("request aborted").WithError(err))
}

func (h *StateEchoHandler) maybePrune() {
	h.pruneMu.Lock()
	defer h.pruneMu.Unlock()
	if time.Since(h.lastPrune) < limiterIdle {
		return
	}
	h.lastPrune = time.Now()
	if n := h.limiter.Prune(limiterIdle); n > 0 {
		h.logger.Debug("rate limiter pruned", xlogger.Int("buckets", n))
	}
}
