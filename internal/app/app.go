// Package app assembles the admission service from its configuration.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/admit/internal/application/admission"
	"github.com/turtacn/admit/internal/application/session"
	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/domain/service"
	"github.com/turtacn/admit/internal/infrastructure/audit"
	"github.com/turtacn/admit/internal/infrastructure/idgen"
	"github.com/turtacn/admit/internal/infrastructure/monitoring"
	"github.com/turtacn/admit/internal/infrastructure/persistence/database"
	"github.com/turtacn/admit/internal/infrastructure/persistence/redis"
	"github.com/turtacn/admit/internal/infrastructure/queue"
	"github.com/turtacn/admit/internal/infrastructure/ratelimit"
	admithttp "github.com/turtacn/admit/internal/interfaces/http"
	"github.com/turtacn/admit/internal/interfaces/http/handlers"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/logger"
)

// App holds every long-lived component of one service process.
type App struct {
	Config   *config.Config
	Logger   logger.Logger
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Tracing  *monitoring.TracingManager
	Redis    *redis.Connection
	Database *database.DBConnection
	IDs      *idgen.Generator
	Buckets  *ratelimit.Registry
	Gate     *admission.Gate
	Queue    service.QueueStore
	Sessions *session.Service
	Audit    service.AuditPublisher
	Router   *admithttp.Router
}

// Stores opens only the backing stores cfg needs: Redis for the redis
// limiter or queue backend, the database for the sql queue backend.
func Stores(ctx context.Context, cfg *config.Config, log logger.Logger) (*redis.Connection, *database.DBConnection, error) {
	var (
		rc  *redis.Connection
		db  *database.DBConnection
		err error
	)
	if cfg.RateLimit.Backend == constants.LimiterBackendRedis || cfg.Queue.Backend == constants.QueueBackendRedis {
		if rc, err = redis.NewConnection(ctx, &cfg.Redis, log); err != nil {
			return nil, nil, err
		}
	}
	if cfg.Queue.Backend == constants.QueueBackendSQL {
		if db, err = database.NewDBConnection(ctx, &cfg.Database, log); err != nil {
			if rc != nil {
				_ = rc.Close()
			}
			return nil, nil, err
		}
	}
	return rc, db, nil
}

// QueueStore returns the store selected by cfg.Queue.Backend.
func QueueStore(ctx context.Context, cfg *config.Config, rc *redis.Connection, db *database.DBConnection, log logger.Logger) (service.QueueStore, error) {
	switch cfg.Queue.Backend {
	case constants.QueueBackendMemory:
		return queue.NewMemoryStore(cfg.RateLimit.SweepInterval), nil
	case constants.QueueBackendRedis:
		if rc == nil {
			return nil, fmt.Errorf("queue backend redis needs a redis connection")
		}
		return queue.NewRedisStore(rc.Client(),
			queue.WithPrefix(cfg.Queue.Prefix),
			queue.WithTimeout(cfg.Queue.Timeout),
			queue.WithLogger(log),
		)
	case constants.QueueBackendSQL:
		if db == nil {
			return nil, fmt.Errorf("queue backend sql needs a database connection")
		}
		return queue.NewSQLStore(ctx, db.DB(),
			queue.WithSQLTimeout(cfg.Queue.Timeout),
			queue.WithSQLLogger(log),
		)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// WorkerID returns the configured worker id, deriving one when unset.
func WorkerID(cfg *config.IDGenConfig) int64 {
	if cfg.WorkerID < 0 {
		return idgen.DeriveWorkerID()
	}
	return cfg.WorkerID
}

// New builds the service. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (a *App, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a = &App{
		Config:   cfg,
		Logger:   log,
		Metrics:  monitoring.NewMetrics(reg),
		Gatherer: reg,
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
			a = nil
		}
	}()

	if a.Tracing, err = monitoring.NewTracingManager(&cfg.Tracing, log); err != nil {
		return a, err
	}
	if a.Redis, a.Database, err = Stores(ctx, cfg, log); err != nil {
		return a, err
	}

	workerID := WorkerID(&cfg.IDGen)
	if a.IDs, err = idgen.NewGenerator(workerID, idgen.WithRecorder(a.Metrics)); err != nil {
		return a, err
	}
	log.Info(ctx, "ID generator ready", logger.Int64("worker_id", workerID))

	a.Buckets = ratelimit.NewRegistry(
		ratelimit.WithShards(cfg.RateLimit.Shards),
		ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL),
		ratelimit.WithLogger(log),
		ratelimit.WithRecorder(a.Metrics),
	)

	policies, err := admission.PolicyTableFromConfig(&cfg.RateLimit)
	if err != nil {
		return a, err
	}

	if cfg.Kafka.Enabled {
		a.Audit = audit.NewKafkaPublisher(cfg.Kafka, log)
	} else {
		a.Audit = audit.NewLogPublisher(log)
	}

	gateOpts := []admission.Option{
		admission.WithFallback(cfg.RateLimit.Fallback),
		admission.WithStoreTimeout(cfg.RateLimit.StoreTimeout),
		admission.WithLogger(log),
		admission.WithRecorder(a.Metrics),
		admission.WithAuditPublisher(a.Audit),
		admission.WithTracer(a.Tracing.Tracer()),
	}
	if cfg.RateLimit.Backend == constants.LimiterBackendRedis {
		counter, err := ratelimit.NewRedisCounter(a.Redis.Client(),
			ratelimit.WithCounterPrefix(cfg.RateLimit.Namespace),
			ratelimit.WithCounterLogger(log),
		)
		if err != nil {
			return a, err
		}
		gateOpts = append(gateOpts, admission.WithCounterStore(counter))
	}
	if a.Gate, err = admission.New(policies, a.Buckets, gateOpts...); err != nil {
		return a, err
	}

	if a.Queue, err = QueueStore(ctx, cfg, a.Redis, a.Database, log); err != nil {
		return a, err
	}
	a.Sessions = session.New(a.Queue, a.IDs,
		session.WithTTL(cfg.Session.TTL),
		session.WithLogger(log),
		session.WithReleaseOnEnd(a.Gate, cfg.Session.Route),
	)

	checks := make(map[string]handlers.HealthChecker)
	if a.Redis != nil {
		checks["redis"] = a.Redis
	}
	if a.Database != nil {
		checks["database"] = a.Database
	}
	a.Router = admithttp.NewRouter(cfg.Server, log, admithttp.Dependencies{
		Gate:     a.Gate,
		Sessions: a.Sessions,
		IDs:      a.IDs,
		Health:   handlers.NewHealthHandler(checks, log),
		Metrics:  a.Metrics,
		Gatherer: reg,
		Tracer:   a.Tracing.Tracer(),
	})
	return a, nil
}

// Reload applies the policy part of a new configuration. Other sections
// take effect on restart.
func (a *App) Reload(cfg *config.Config) {
	policies, err := admission.PolicyTableFromConfig(&cfg.RateLimit)
	if err != nil {
		a.Logger.Warn(context.Background(), "Keeping current rate limit policies", logger.Err(err))
		return
	}
	a.Gate.UpdatePolicies(policies)
}

// Run serves HTTP and sweeps idle buckets until ctx is cancelled, then
// drains the server within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.Router.Start)
	g.Go(func() error {
		a.Buckets.Run(gctx, a.Config.RateLimit.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Router.Stop(stopCtx)
	})

	return g.Wait()
}

// Close releases everything New opened. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.Audit != nil {
		if err := a.Audit.Close(); err != nil {
			a.Logger.Warn(ctx, "Failed to close audit publisher", logger.Err(err))
		}
	}
	if a.Tracing != nil {
		if err := a.Tracing.Shutdown(ctx); err != nil {
			a.Logger.Warn(ctx, "Failed to shut down tracing", logger.Err(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Database != nil {
		_ = a.Database.Close()
	}
}
