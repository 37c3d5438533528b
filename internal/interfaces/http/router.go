// Package http wires the gin engine of the admission service.
package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/turtacn/admit/internal/clock"
	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/interfaces/http/handlers"
	"github.com/turtacn/admit/internal/interfaces/http/middleware"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/logger"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Dependencies are the collaborators the router serves.
type Dependencies struct {
	Gate     middleware.Checker
	Sessions handlers.SessionService
	IDs      handlers.IDIssuer
	Health   *handlers.HealthHandler
	Metrics  middleware.HTTPRecorder
	Gatherer prometheus.Gatherer
	Tracer   trace.Tracer
	Clock    clock.Clock
}

// Router owns the gin engine and the HTTP server around it.
type Router struct {
	engine *gin.Engine
	config config.ServerConfig
	logger logger.Logger
	server *http.Server
}

// NewRouter builds the engine and registers every route.
func NewRouter(cfg config.ServerConfig, log logger.Logger, deps Dependencies) *Router {
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("admit")
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	r := &Router{
		engine: gin.New(),
		config: cfg,
		logger: log.WithComponent("http"),
	}
	r.setupRoutes(deps)
	r.server = &http.Server{
		Addr:           cfg.Addr(),
		Handler:        r.engine,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return r
}

// Engine exposes the gin engine, mainly for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupRoutes(deps Dependencies) {
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.RequestID())
	if deps.Metrics != nil {
		r.engine.Use(middleware.Observability(deps.Tracer, deps.Metrics, r.logger))
	}

	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", constants.HeaderRequestID},
		ExposeHeaders: []string{
			constants.HeaderRequestID,
			constants.HeaderRateLimitLimit,
			constants.HeaderRateLimitRemaining,
			constants.HeaderRateLimitReset,
			constants.HeaderRetryAfter,
		},
		MaxAge: 12 * time.Hour,
	}
	if len(r.config.AllowOrigins) == 0 || slices.Contains(r.config.AllowOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = r.config.AllowOrigins
	}
	r.engine.Use(cors.New(corsConfig))

	if deps.Health != nil {
		r.engine.GET("/health", deps.Health.HealthCheck)
		r.engine.GET("/ready", deps.Health.ReadinessCheck)
		r.engine.GET("/live", deps.Health.LivenessCheck)
	}
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	if r.config.EnablePprof {
		pprof.Register(r.engine)
	}

	v1 := r.engine.Group("/api/v1")
	if deps.Gate != nil {
		v1.Use(middleware.RateLimit(deps.Gate, middleware.RateLimitConfig{
			ClientKeyHeader: r.config.ClientKeyHeader,
			Clock:           deps.Clock,
			Logger:          r.logger,
		}))
	}
	if deps.Sessions != nil {
		h := handlers.NewSessionHandler(deps.Sessions, r.logger)
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.StartSession)
			sessions.GET("/current", h.CurrentSession)
			sessions.DELETE("/current", h.EndSession)
			sessions.GET("/count", h.CountSessions)
		}
	}
	if deps.IDs != nil {
		h := handlers.NewIDHandler(deps.IDs, r.logger)
		ids := v1.Group("/ids")
		{
			ids.POST("", h.NewID)
			ids.GET("/:id", h.DecodeID)
		}
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// Start serves HTTP until Stop is called. After Stop it returns at once.
func (r *Router) Start() error {
	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info(ctx, "Stopping HTTP server")
	return r.server.Shutdown(ctx)
}
