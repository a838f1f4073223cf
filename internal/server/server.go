package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/polyview/config"
	"github.com/mohammad-safakhou/polyview/internal/llm"
	"github.com/mohammad-safakhou/polyview/internal/research"
	"github.com/mohammad-safakhou/polyview/internal/search"
	"github.com/mohammad-safakhou/polyview/internal/stream"
	"github.com/mohammad-safakhou/polyview/internal/telemetry"
)

// Run loads configuration, wires the research pipeline and serves the HTTP
// API on addr. An empty addr falls back to the configured server address.
func Run(addr string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	return RunWithConfig(cfg, addr)
}

// RunWithConfig wires the pipeline from an already-loaded configuration.
func RunWithConfig(cfg *config.Config, addr string) error {
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	client, err := llm.NewClient(cfg.LLM, tele, log.New(log.Writer(), "[LLM] ", log.LstdFlags))
	if err != nil {
		return err
	}

	providers := search.NewProviders(cfg.Sources)
	if len(providers) == 0 {
		return fmt.Errorf("no search providers configured (set NEWSAPI_API_KEY, BRAVE_SEARCH_KEY or SERPER_API_KEY)")
	}
	var hydrator *search.Hydrator
	if cfg.Sources.Hydrate {
		hydrator = search.NewHydrator(log.New(log.Writer(), "[HYDRATE] ", log.LstdFlags))
	}

	controller := research.NewController(
		research.Params{
			MaxIterations:      cfg.Research.MaxIterations,
			MinArticles:        cfg.Research.MinArticles,
			MinPerspectives:    cfg.Research.MinPerspectives,
			RelevanceThreshold: cfg.Research.RelevanceThreshold,
		},
		providers,
		hydrator,
		client,
		research.NewExtractionAdapter(client, cfg.Research.ExtractionConcurrency, nil),
		research.NewEngine(client, client, nil),
		research.NewSynthesisEngine(client, nil),
		client,
		tele,
		log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	)

	// Optional Redis Streams mirror for external event consumers.
	var mirror *stream.Publisher
	if cfg.Stream.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Stream.Redis.Addr(),
			Password:     cfg.Stream.Redis.Password,
			DB:           cfg.Stream.Redis.DB,
			DialTimeout:  cfg.Stream.Redis.Timeout,
			ReadTimeout:  cfg.Stream.Redis.Timeout,
			WriteTimeout: cfg.Stream.Redis.Timeout,
		})
		mirror = stream.NewPublisher(rdb, cfg.Stream.StreamPrefix, cfg.Stream.MaxLen)
	}

	sessions := NewSessionManager(cfg.Server.QueueCapacity, cfg.Server.SessionTTL)
	handler := NewAnalysisHandler(cfg, sessions, controller, client, mirror, nil)

	e := newEcho()
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	handler.Register(e.Group("/api/v1"))

	if addr == "" {
		addr = cfg.Server.Addr
	}
	return e.Start(addr)
}

// newEcho builds the echo instance with the shared middleware and the unified
// JSON error handler.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))
	return e
}
