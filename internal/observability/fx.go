package observability

import (
	"github.com/andyvauliln/paysync/internal/observability/logger"
	"github.com/andyvauliln/paysync/internal/observability/metrics"
	"github.com/andyvauliln/paysync/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires the zap logger, the OTLP tracer and meter providers, and the
// Prometheus reconcile counters scraped from /metrics.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.Reconcile,
	),
	// Nothing depends on the tracer provider directly; force it so the
	// global provider is installed before the first request.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
