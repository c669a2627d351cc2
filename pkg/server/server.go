// Package server exposes the tutoring loop over HTTP: start and stop runs,
// read results and charts, and follow progress as server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/experiment"
	"github.com/boristopalov/tutor/pkg/messaging"
	"github.com/boristopalov/tutor/pkg/report"
	"github.com/boristopalov/tutor/pkg/store"
)

// eventBuffer is the per-client SSE backlog. A slow client loses events
// beyond it.
const eventBuffer = 64

type Server struct {
	echo     *echo.Echo
	runner   *experiment.Runner
	broker   *messaging.SimpleBroker
	store    *store.Store
	metrics  http.Handler
	ping     func(context.Context) error
	defaults core.RunConfig
}

type Option func(*Server)

// WithStore serves finished runs from the history database as well.
func WithStore(st *store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithHealthCheck makes /api/health report the collaborator's health.
func WithHealthCheck(ping func(context.Context) error) Option {
	return func(s *Server) {
		s.ping = ping
	}
}

// New builds the server. defaults fills every run parameter a start request
// leaves out.
func New(runner *experiment.Runner, broker *messaging.SimpleBroker, defaults core.RunConfig, opts ...Option) *Server {
	s := &Server{
		echo:     echo.New(),
		runner:   runner,
		broker:   broker,
		defaults: defaults,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/api/events" || c.Path() == "/metrics" },
	}))

	e.GET("/api/health", s.handleHealth)
	e.POST("/api/runs", s.handleStart)
	e.GET("/api/runs", s.handleList)
	e.GET("/api/runs/current", s.handleStatus)
	e.POST("/api/runs/current/stop", s.handleStop)
	e.GET("/api/runs/:id", s.handleResult)
	e.GET("/api/runs/:id/chart", s.handleChart)
	e.GET("/api/events", s.handleEvents)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// StartRequest carries the parameters of a new run. Topics is a
// comma-separated list.
type StartRequest struct {
	NumRounds         int    `json:"num_rounds" form:"num_rounds"`
	Topics            string `json:"topics" form:"topics"`
	EvolutionInterval int    `json:"evolution_interval" form:"evolution_interval"`
	Seed              *int64 `json:"seed" form:"seed"`
}

func (r StartRequest) apply(cfg core.RunConfig) core.RunConfig {
	if r.NumRounds != 0 {
		cfg.NumRounds = r.NumRounds
	}
	if r.EvolutionInterval != 0 {
		cfg.EvolutionInterval = r.EvolutionInterval
	}
	if r.Seed != nil {
		cfg.Seed = *r.Seed
	}
	if r.Topics != "" {
		cfg.Topics = nil
		for _, t := range strings.Split(r.Topics, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Topics = append(cfg.Topics, t)
			}
		}
	}
	return cfg
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	runID, err := s.runner.Start(req.apply(s.defaults))
	if err != nil {
		var cfgErr *core.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Field: cfgErr.Field})
		case errors.Is(err, core.ErrRunInProgress):
			return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runner.Status())
}

func (s *Server) handleStop(c echo.Context) error {
	if err := s.runner.Stop(); err != nil {
		if errors.Is(err, core.ErrNoActiveRun) {
			return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleList(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusOK, []store.Run{})
	}
	runs, err := s.store.Runs(c.Request().Context(), 50)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// lookup finds a run in memory first and in the history database second.
func (s *Server) lookup(ctx context.Context, runID string) (*experiment.Result, error) {
	if res, err := s.runner.Result(runID); err == nil {
		return res, nil
	}
	if s.store == nil {
		return nil, store.ErrNotFound
	}
	run, err := s.store.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	rounds, err := s.store.Rounds(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.Events(ctx, runID)
	if err != nil {
		return nil, err
	}
	res := &experiment.Result{RunID: run.ID, Rounds: rounds, Events: events, Error: run.Error}
	if run.Summary != nil {
		res.Summary = *run.Summary
	} else {
		res.Summary = core.Summarize(rounds, events)
		res.Summary.RunID = run.ID
	}
	return res, nil
}

func (s *Server) handleResult(c echo.Context) error {
	res, err := s.lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.lookupError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleChart(c echo.Context) error {
	res, err := s.lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.lookupError(c, err)
	}
	window := res.Config.Policy.Window
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return report.RenderChart(c.Response(), res.RunID, res.Rounds, res.Events, window)
}

func (s *Server) lookupError(c echo.Context, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: fmt.Sprintf("run %s not found", c.Param("id"))})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.ping != nil {
		if err := s.ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents streams every broker message to the client until it
// disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	id := "sse-" + uuid.New().String()
	ch := make(chan messaging.Message, eventBuffer)
	if err := s.broker.Subscribe(id, ch); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	defer s.broker.Unsubscribe(id)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return err
	}
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			data, err := json.Marshal(msg.Event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event.Kind, data); err != nil {
				return err
			}
			w.Flush()
		}
	}
}
