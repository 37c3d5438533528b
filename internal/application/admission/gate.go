package admission

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/admit/internal/clock"
	"github.com/turtacn/admit/internal/domain/models"
	"github.com/turtacn/admit/internal/domain/service"
	"github.com/turtacn/admit/internal/infrastructure/ratelimit"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
)

// Recorder observes gate outcomes.
type Recorder interface {
	RecordDecision(class constants.RouteClass, allowed bool)
	RecordStoreError(op string)
	RecordFallback(policy constants.FallbackPolicy)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(constants.RouteClass, bool) {}
func (nopRecorder) RecordStoreError(string)                   {}
func (nopRecorder) RecordFallback(constants.FallbackPolicy)   {}

// Gate is the admission entry point. With a CounterStore it counts in the
// shared store and falls back per policy when the store fails; without one
// it counts in the local registry.
type Gate struct {
	policies     atomic.Pointer[PolicyTable]
	registry     *ratelimit.Registry
	counters     service.CounterStore
	fallback     constants.FallbackPolicy
	storeTimeout time.Duration
	clock        clock.Clock
	logger       logger.Logger
	recorder     Recorder
	audit        service.AuditPublisher
	tracer       trace.Tracer
}

// Option configures a Gate.
type Option func(*Gate)

// WithCounterStore counts in a shared store instead of the local registry.
func WithCounterStore(cs service.CounterStore) Option {
	return func(g *Gate) { g.counters = cs }
}

// WithFallback sets what happens when the counter store fails.
func WithFallback(p constants.FallbackPolicy) Option {
	return func(g *Gate) { g.fallback = p }
}

// WithStoreTimeout bounds each counter store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(g *Gate) { g.storeTimeout = d }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) { g.logger = l.WithComponent("admission_gate") }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// WithAuditPublisher reports every rejection to p.
func WithAuditPublisher(p service.AuditPublisher) Option {
	return func(g *Gate) { g.audit = p }
}

// WithTracer sets the tracer; the global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) { g.tracer = t }
}

// New builds a gate over policies and registry.
func New(policies *PolicyTable, registry *ratelimit.Registry, opts ...Option) (*Gate, error) {
	if policies == nil {
		return nil, errors.ErrInvalidConfig("rate_limit.classes", "policy table is required")
	}
	if registry == nil {
		return nil, errors.ErrInvalidConfig("rate_limit", "bucket registry is required")
	}
	g := &Gate{
		registry:     registry,
		fallback:     constants.FallbackOpen,
		storeTimeout: constants.DefaultStoreTimeout,
		clock:        clock.System(),
		logger:       logger.NewNopLogger(),
		recorder:     nopRecorder{},
		tracer:       otel.Tracer("github.com/turtacn/admit/admission"),
	}
	for _, opt := range opts {
		opt(g)
	}
	switch g.fallback {
	case constants.FallbackOpen, constants.FallbackClosed, constants.FallbackLocal:
	default:
		return nil, errors.ErrInvalidConfig("rate_limit.fallback", "unknown policy "+string(g.fallback))
	}
	g.policies.Store(policies)
	return g, nil
}

// Policies returns the active policy table.
func (g *Gate) Policies() *PolicyTable {
	return g.policies.Load()
}

// UpdatePolicies swaps the policy table. Checks already running finish
// under the old table.
func (g *Gate) UpdatePolicies(t *PolicyTable) {
	if t == nil {
		return
	}
	g.policies.Store(t)
	g.logger.Info(context.Background(), "Rate limit policies updated",
		logger.Int("classes", len(t.limits)),
		logger.Int("routes", len(t.rules)),
	)
}

// Check counts one request from clientKey on route and decides. An error is
// returned only for internal failures, never for a rejection; with the
// closed fallback a store failure is such an error.
func (g *Gate) Check(ctx context.Context, route, clientKey string) (models.Decision, error) {
	ctx, span := g.tracer.Start(ctx, "admission.check", trace.WithAttributes(
		attribute.String("admission.route", route),
	))
	defer span.End()

	now := g.clock.Now()
	class, limit := g.policies.Load().Resolve(route)
	span.SetAttributes(attribute.String("admission.class", string(class)))

	var (
		d   models.Decision
		err error
	)
	if g.counters == nil {
		d = g.local(route, clientKey, now, limit)
	} else {
		d, err = g.remote(ctx, route, clientKey, now, limit)
	}
	d.Class = class
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "counter store unavailable")
		return d, err
	}

	span.SetAttributes(
		attribute.Bool("admission.allowed", d.Allowed),
		attribute.Bool("admission.degraded", d.Degraded),
		attribute.Int64("admission.remaining", int64(d.Remaining)),
	)
	g.recorder.RecordDecision(class, d.Allowed)
	if !d.Allowed {
		g.reject(ctx, route, clientKey, now, d)
	}
	return d, nil
}

func (g *Gate) local(route, clientKey string, now time.Time, limit ratelimit.Limit) models.Decision {
	bd := g.registry.Hit(route, clientKey, now, limit)
	return models.Decision{
		Allowed:   bd.Allowed,
		Remaining: bd.Remaining,
		Limit:     bd.Limit,
		ResetAt:   bd.ResetAt,
	}
}

func (g *Gate) remote(ctx context.Context, route, clientKey string, now time.Time, limit ratelimit.Limit) (models.Decision, error) {
	sctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	hits, resetAt, err := g.counters.Increment(sctx, ratelimit.KeyFor(route, clientKey), limit.Window)
	cancel()
	if err == nil {
		d := models.Decision{
			Allowed: hits <= limit.Requests,
			Limit:   limit.Requests,
			ResetAt: resetAt,
		}
		if d.Allowed {
			d.Remaining = limit.Requests - hits
		}
		return d, nil
	}

	g.recorder.RecordStoreError("increment")
	g.recorder.RecordFallback(g.fallback)
	fields := []logger.Field{
		logger.String("route", route),
		logger.String("client_key", clientKey),
		logger.String("fallback", string(g.fallback)),
		logger.Err(err),
	}

	switch g.fallback {
	case constants.FallbackClosed:
		g.logger.Warn(ctx, "Counter store unavailable, rejecting", fields...)
		if !errors.IsCode(err, errors.CodeStoreUnavailable) {
			err = errors.ErrStoreUnavailable("increment", err)
		}
		return models.Decision{Limit: limit.Requests, Degraded: true}, err
	case constants.FallbackLocal:
		g.logger.Warn(ctx, "Counter store unavailable, counting locally", fields...)
		d := g.local(route, clientKey, now, limit)
		d.Degraded = true
		return d, nil
	default:
		g.logger.Warn(ctx, "Counter store unavailable, admitting", fields...)
		return models.Decision{
			Allowed:   true,
			Remaining: limit.Requests - 1,
			Limit:     limit.Requests,
			ResetAt:   now.Add(limit.Window),
			Degraded:  true,
		}, nil
	}
}

func (g *Gate) reject(ctx context.Context, route, clientKey string, now time.Time, d models.Decision) {
	requestID, _ := ctx.Value(constants.ContextKeyRequestID).(string)
	g.logger.Debug(ctx, "Request rejected",
		logger.String("route", route),
		logger.String("client_key", clientKey),
		logger.String("class", string(d.Class)),
		logger.Time("reset_at", d.ResetAt),
	)
	if g.audit == nil {
		return
	}
	ev := models.RejectionEvent{
		Route:      route,
		ClientKey:  clientKey,
		Class:      d.Class,
		Limit:      d.Limit,
		ResetAt:    d.ResetAt,
		OccurredAt: now,
		RequestID:  requestID,
	}
	if err := g.audit.PublishRejection(ctx, ev); err != nil {
		g.logger.Warn(ctx, "Failed to publish rejection", logger.Err(err))
	}
}

// Release forgets clientKey's count on route, locally and in the shared
// store. Releasing an unknown key is a no-op.
func (g *Gate) Release(ctx context.Context, route, clientKey string) error {
	g.registry.Release(route, clientKey)
	if g.counters == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	if err := g.counters.Reset(sctx, ratelimit.KeyFor(route, clientKey)); err != nil {
		g.recorder.RecordStoreError("reset")
		return err
	}
	return nil
}

// Registry returns the local bucket registry.
func (g *Gate) Registry() *ratelimit.Registry {
	return g.registry
}
