package monitoring

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/logger"
)

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := newZapLogger(core).WithComponent("gate")

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	ctx = context.WithValue(ctx, constants.ContextKeyRequestID, "req-9")

	log.Info(ctx, "checked", logger.String("route", "/api"), logger.Uint64("remaining", 4))
	log.Error(ctx, "failed", stderrors.New("boom"))
	span.End()

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "gate", fields["component"])
	assert.Equal(t, "/api", fields["route"])
	assert.Equal(t, uint64(4), fields["remaining"])
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestZapLogger_LevelFromConfig(t *testing.T) {
	log, err := NewZapLogger(&config.LogConfig{Level: "not-a-level", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDecision(constants.RouteClassDefault, true)
	m.RecordDecision(constants.RouteClassDefault, true)
	m.RecordDecision(constants.RouteClassAdmin, false)
	m.RecordStoreError("increment")
	m.RecordFallback(constants.FallbackOpen)
	m.BucketsEvicted(3)
	m.BucketsEvicted(2)
	m.BucketsActive(7)
	m.IDIssued()
	m.RecordHTTPRequest("GET", "/api", 429, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("default", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("admin", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("increment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("open")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BucketsEvict))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BucketsLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IDsIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api", "429")))

	expected := `
# HELP admit_fallback_total Decisions taken by a fallback policy.
# TYPE admit_fallback_total counter
admit_fallback_total{policy="open"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "admit_fallback_total"))
}

func TestTracingManager(t *testing.T) {
	disabled, err := NewTracingManager(&config.TracingConfig{ServiceName: "admit"}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.NotNil(t, disabled.Tracer())
	assert.NoError(t, disabled.Shutdown(context.Background()))

	spans := tracetest.NewSpanRecorder()
	tm, err := newTracingManager(&config.TracingConfig{
		Enabled:      true,
		ServiceName:  "admit",
		Environment:  "test",
		SamplingRate: 1,
	}, sdktrace.WithSpanProcessor(spans), logger.NewNopLogger())
	require.NoError(t, err)

	_, span := tm.Tracer().Start(context.Background(), "work")
	span.End()
	require.Len(t, spans.Ended(), 1)
	assert.Equal(t, "work", spans.Ended()[0].Name())
	assert.NoError(t, tm.Shutdown(context.Background()))
}
