package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ExporterType = "zipkin"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.SamplingRate = 1.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.SamplingType = "sometimes"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.ServiceName = ""
	assert.Error(t, cfg.Validate())
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExporterType = ExporterOTLPGRPC // 未启用时不会真正连接
	tp, err := NewTracerProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestParseResourceAttributes(t *testing.T) {
	attrs := parseResourceAttributes("team=realtime, region = eu ,broken")
	require.Len(t, attrs, 2)
	assert.Equal(t, "region", string(attrs[1].Key))
	assert.Equal(t, "eu", attrs[1].Value.AsString())
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestStartSpanAndEnd(t *testing.T) {
	rec := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "realtime.initialize")
	assert.NotEmpty(t, TraceID(ctx))
	End(span, errors.New("connect timeout"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "realtime.initialize", spans[0].Name())
	assert.Len(t, spans[0].Events(), 1)
	assert.Empty(t, TraceID(context.Background()))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := withRecorder(t)

	r := gin.New()
	r.Use(Middleware("", "/metrics"))
	r.GET("/realtime/poll", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, p := range []string{"/realtime/poll", "/metrics"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /realtime/poll", spans[0].Name())
}

func TestNewSampler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SamplingType = SamplingNever
	assert.Equal(t, sdktrace.NeverSample().Description(), newSampler(cfg).Description())

	cfg.SamplingType = SamplingRatio
	cfg.SamplingRate = 0.5
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.5).Description(), newSampler(cfg).Description())

	cfg.SamplingType = ""
	assert.Contains(t, newSampler(cfg).Description(), "ParentBased")

	t.Setenv("OTEL_TRACES_SAMPLER", "traceidratio")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), newSampler(cfg).Description())

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "2")
	assert.Equal(t, sdktrace.TraceIDRatioBased(1).Description(), newSampler(cfg).Description())

	t.Setenv("OTEL_TRACES_SAMPLER", "always_off")
	assert.Equal(t, sdktrace.NeverSample().Description(), newSampler(cfg).Description())
}
