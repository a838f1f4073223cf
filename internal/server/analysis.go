package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/polyview/config"
	"github.com/mohammad-safakhou/polyview/internal/research"
	"github.com/mohammad-safakhou/polyview/internal/stream"
)

// AnalysisHandler exposes the research pipeline over HTTP: asynchronous run
// kickoff, an SSE progress stream per session, session snapshots and
// cancellation.
type AnalysisHandler struct {
	cfg        *config.Config
	sessions   *SessionManager
	controller *research.Controller
	refiner    research.TopicRefiner
	mirror     *stream.Publisher
	logger     *log.Logger
}

// AnalysisRequest is the start-run payload.
type AnalysisRequest struct {
	Topic string `json:"topic"`
}

// AnalysisResponse returns the session token for the background run.
type AnalysisResponse struct {
	SessionID string `json:"session_id"`
}

func NewAnalysisHandler(cfg *config.Config, sessions *SessionManager, controller *research.Controller, refiner research.TopicRefiner, mirror *stream.Publisher, logger *log.Logger) *AnalysisHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[ANALYSIS] ", log.LstdFlags)
	}
	return &AnalysisHandler{
		cfg:        cfg,
		sessions:   sessions,
		controller: controller,
		refiner:    refiner,
		mirror:     mirror,
		logger:     logger,
	}
}

// Register mounts the analysis routes.
func (h *AnalysisHandler) Register(g *echo.Group) {
	g.POST("/analyze", h.analyze)
	g.GET("/analyze/:session_id", h.snapshot)
	g.GET("/analyze/:session_id/stream", h.streamEvents)
	g.DELETE("/analyze/:session_id", h.cancel)
}

// analyze starts a research run in the background and returns the session id
// immediately.
func (h *AnalysisHandler) analyze(c echo.Context) error {
	var req AnalysisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}

	if h.refiner != nil {
		refined, err := h.refiner.RefineTopic(c.Request().Context(), topic)
		switch {
		case errors.Is(err, research.ErrNeedsClarification):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "topic needs clarification: please describe what you want researched")
		case err != nil:
			// Refinement is best effort; research the raw topic instead.
			h.logger.Printf("topic refinement failed, using raw topic: %v", err)
		case refined != "":
			topic = refined
		}
	}

	runCtx := context.Background()
	timeoutCancel := context.CancelFunc(func() {})
	if h.cfg.General.MaxRunTime > 0 {
		runCtx, timeoutCancel = context.WithTimeout(runCtx, h.cfg.General.MaxRunTime)
	}

	session, ctx := h.sessions.Create(runCtx, topic)
	sink := stream.Sink(session.Queue())
	if h.mirror != nil {
		sink = stream.NewFanout(session.ID, session.Queue(), h.mirror, h.logger)
	}

	h.logger.Printf("session %s: starting analysis for topic %q", session.ID, topic)
	go func() {
		defer timeoutCancel()
		state, err := h.controller.Run(ctx, topic, sink)
		if err != nil {
			h.logger.Printf("session %s: run failed: %v", session.ID, err)
			session.Finish(nil, err)
			return
		}
		session.Finish(&research.Report{
			Topic:        state.Topic,
			Perspectives: state.FinalPerspectives,
			Summary:      state.Summary,
		}, nil)
		h.logger.Printf("session %s: run finished with %d perspectives", session.ID, len(state.FinalPerspectives))
	}()

	return c.JSON(http.StatusAccepted, AnalysisResponse{SessionID: session.ID})
}

// snapshot returns the current session state.
func (h *AnalysisHandler) snapshot(c echo.Context) error {
	session, ok := h.sessions.Get(c.Param("session_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	return c.JSON(http.StatusOK, session.View())
}

// cancel aborts a running session. The run still terminates its event stream
// with an error event followed by end_of_stream.
func (h *AnalysisHandler) cancel(c echo.Context) error {
	session, ok := h.sessions.Get(c.Param("session_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	session.Cancel()
	return c.JSON(http.StatusAccepted, session.View())
}

// streamEvents streams session progress via Server-Sent Events. The stream
// always ends with the end_of_stream event; final_result may be absent when
// the run errored.
func (h *AnalysisHandler) streamEvents(c echo.Context) error {
	if h.cfg != nil && !h.cfg.Server.StreamEnabled {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream disabled")
	}
	session, ok := h.sessions.Get(c.Param("session_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	ctx := c.Request().Context()
	queue := session.Queue()
	for {
		ev, ok := queue.Next(ctx)
		if !ok {
			return nil
		}
		data, err := ev.Marshal()
		if err != nil {
			h.logger.Printf("session %s: drop unmarshalable event: %v", session.ID, err)
			continue
		}
		if _, err := resp.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
			return nil
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return nil
		}
		flusher.Flush()
		if ev.Terminal() {
			return nil
		}
	}
}
