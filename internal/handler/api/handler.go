package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/repository"
	"RiskPull/internal/service/ratelimit"
	"RiskPull/internal/usecase"
	"RiskPull/internal/watchlist"
	"RiskPull/pkg/cache"
	xhttp "RiskPull/pkg/http"
	xlogger "RiskPull/pkg/logger"
)

const (
	responseTTL = 30 * time.Second
	cachePrefix = "api:"
)

type Option func(*Handler)

// WithHistory enables /api/riskindex/history.
func WithHistory(h domrepo.HistoryStore) Option { return func(x *Handler) { x.history = h } }

// WithCache caches read responses; they are purged after every stage run.
func WithCache(c cache.Service) Option { return func(x *Handler) { x.cache = c } }

// WithLimiter throttles the POST endpoints per client IP.
func WithLimiter(l *ratelimit.Limiter) Option { return func(x *Handler) { x.limiter = l } }

// WithBaseContext parents background stage runs; it is cancelled on shutdown.
func WithBaseContext(ctx context.Context) Option { return func(x *Handler) { x.base = ctx } }

func WithLogger(l *xlogger.Logger) Option { return func(x *Handler) { x.logger = l } }

// Handler serves the artifacts and triggers pipeline stages.
type Handler struct {
	logger   *xlogger.Logger
	store    *repository.ArtifactStore
	pipeline *usecase.Pipeline
	history  domrepo.HistoryStore
	cache    cache.Service
	limiter  *ratelimit.Limiter
	base     context.Context
}

var _ xhttp.Handler = (*Handler)(nil)

func NewHandler(pipeline *usecase.Pipeline, opts ...Option) *Handler {
	h := &Handler{
		logger:   xlogger.Nop(),
		store:    pipeline.Store(),
		pipeline: pipeline,
		base:     context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/riskindex/snapshot", h.Snapshot)
	g.GET("/riskindex/timeseries", h.Timeseries)
	g.GET("/riskindex/history", h.History)
	g.GET("/riskindex/macro", h.Macro)
	g.GET("/optimizer/best", h.BestParams)
	g.GET("/walkforward/summary", h.WalkForwardSummary)
	g.GET("/reports/:symbol", h.Report)
	g.POST("/reports/:symbol", h.RebuildReport, h.throttle)
	g.POST("/pipeline/:stage", h.RunStage, h.throttle)
	g.GET("/integrity", h.Integrity)
}

// throttle answers 429 once a client exceeds the limiter windows.
func (h *Handler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()+":"+c.Path()) {
			h.logger.Warn("request rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("route", c.Path()))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}

// fail maps missing artifacts to 404 and everything else to 500.
func (h *Handler) fail(c echo.Context, what string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return xhttp.AppErrorResponse(c, appErr)
	case errors.Is(err, domrepo.ErrNoData):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%s not available", what).WithError(err))
	}
	h.logger.Error("request failed", xlogger.String("route", c.Path()), xlogger.String("artifact", what), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("read %s", what).WithError(err))
}

func (h *Handler) Health(c echo.Context) error {
	res := models.Health{Status: "ok", Backends: map[string]string{}}
	if snap, err := h.store.LoadSnapshot(); err == nil {
		res.DataAsOf = snap.DataAsOf
	}
	if h.history != nil {
		res.Backends["clickhouse"] = "ok"
		if err := h.history.Health(c.Request().Context()); err != nil {
			res.Backends["clickhouse"] = err.Error()
			res.Status = "degraded"
		}
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *Handler) Snapshot(c echo.Context) error {
	snap, err := h.store.LoadSnapshot()
	if err != nil {
		return h.fail(c, "snapshot", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=60")
	return xhttp.SuccessResponse(c, snap)
}

func dateRange(from, to string) (time.Time, time.Time, error) {
	f, err := xhttp.ParseDateParam(from)
	if err != nil {
		return f, f, err
	}
	t, err := xhttp.ParseDateParam(to)
	if err != nil {
		return f, t, err
	}
	if !f.IsZero() && !t.IsZero() && t.Before(f) {
		return f, t, xhttp.BadRequestErrorf("to (%s) is before from (%s)", to, from)
	}
	return f, t, nil
}

func (h *Handler) Timeseries(c echo.Context) error {
	req := &models.TimeseriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, err := dateRange(req.From, req.To)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	key := cache.GenerateKeyWithParams(cachePrefix+"timeseries", req.From, req.To, req.Limit)
	points, err := cache.Remember(c.Request().Context(), h.cache, key, responseTTL,
		func(context.Context) ([]models.TimeseriesPoint, error) {
			f, err := h.store.LoadTimeseries()
			if err != nil {
				return nil, err
			}
			return models.Points(repository.TimeseriesRows(f, from, to, req.Limit)), nil
		})
	if err != nil {
		return h.fail(c, "timeseries", err)
	}
	return xhttp.ListResponse(c, points, int64(len(points)))
}

func (h *Handler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("history store not configured"))
	}
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, err := dateRange(req.From, req.To)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	rows, err := h.history.QueryTimeseries(c.Request().Context(), from, to, req.Limit)
	if err != nil {
		h.logger.Error("history query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("history query failed").WithError(err))
	}
	points := models.Points(rows)
	return xhttp.ListResponse(c, points, int64(len(points)))
}

func (h *Handler) Macro(c echo.Context) error {
	m, err := h.store.LoadMacroStatus()
	if err != nil {
		return h.fail(c, "macro status", err)
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *Handler) BestParams(c echo.Context) error {
	best, err := h.store.LoadBestParams()
	if err != nil {
		return h.fail(c, "optimizer result", err)
	}
	return xhttp.SuccessResponse(c, best)
}

func (h *Handler) WalkForwardSummary(c echo.Context) error {
	sum, err := h.store.LoadWalkForwardSummary()
	if err == nil && sum == nil {
		err = fmt.Errorf("empty summary: %w", domrepo.ErrNoData)
	}
	if err != nil {
		return h.fail(c, "walk-forward summary", err)
	}
	return xhttp.SuccessResponse(c, sum)
}

func symbolParam(c echo.Context) (string, interface{}) {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return "", verr
	}
	sym := watchlist.Clean(req.Symbol)
	if sym == "" || strings.ContainsAny(sym, `/\ `) {
		return "", []xhttp.ValidationError{{Code: "ERR_SYMBOL", Field: "symbol", Message: "invalid symbol"}}
	}
	return sym, nil
}

func (h *Handler) Report(c echo.Context) error {
	sym, verr := symbolParam(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rep, err := h.store.LoadEquityReport(sym)
	if err != nil {
		return h.fail(c, "report for "+sym, err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *Handler) RebuildReport(c echo.Context) error {
	sym, verr := symbolParam(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rep, err := h.pipeline.Report(c.Request().Context(), sym)
	if err != nil {
		h.logger.Error("report rebuild failed", xlogger.String("symbol", sym), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("build report for %s", sym).WithError(err))
	}
	return xhttp.SuccessResponse(c, rep)
}

// RunStage starts a pipeline stage in the background, or runs it inline with ?wait=true.
// A stage that is still running answers 409.
func (h *Handler) RunStage(c echo.Context) error {
	req := &models.StageRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if w := c.QueryParam("wait"); w != "" {
		req.Wait, _ = strconv.ParseBool(w)
	}

	ctx := h.base
	if req.Wait {
		ctx = c.Request().Context()
	}
	ctx, unlock, err := h.pipeline.Acquire(ctx, req.Stage)
	if errors.Is(err, usecase.ErrStageRunning) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(req.Stage+" is already running"))
	}
	if err != nil {
		return h.fail(c, "stage lock", err)
	}

	run := func(ctx context.Context) ([]*usecase.StageResult, error) {
		defer h.purge()
		defer unlock()
		return h.pipeline.Run(ctx, req.Stage)
	}

	if req.Wait {
		results, err := run(ctx)
		if err != nil && len(results) == 0 {
			return h.fail(c, req.Stage, err)
		}
		return xhttp.SuccessResponse(c, results)
	}

	go func() {
		if _, err := run(ctx); err != nil {
			h.logger.Error("background stage failed", xlogger.String("stage", req.Stage), xlogger.Error(err))
		}
	}()
	return xhttp.AcceptedResponse(c, map[string]string{"stage": req.Stage, "status": "started"})
}

// purge drops the cached read responses.
func (h *Handler) purge() {
	if h.cache == nil {
		return
	}
	if err := h.cache.DeleteByPattern(context.Background(), cachePrefix+"*"); err != nil {
		h.logger.Warn("response cache purge failed", xlogger.Error(err))
	}
}

func (h *Handler) Integrity(c echo.Context) error {
	rep, err := h.store.LoadIntegrity()
	if err != nil {
		return h.fail(c, "integrity report", err)
	}
	return xhttp.SuccessResponse(c, rep)
}
