package observability

import (
	"strings"

	"github.com/smallbiznis/etimsbridge/internal/observability/logger"
	"github.com/smallbiznis/etimsbridge/internal/observability/metrics"
	"github.com/smallbiznis/etimsbridge/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires logging, tracing and metrics for the serve, worker and migrate
// commands alike.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		splitConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(registerSchedulerCollectors),
)

type componentConfigs struct {
	fx.Out

	Logger  logger.Config
	Tracing tracing.Config
	Metrics metrics.Config
}

func splitConfig(cfg Config) componentConfigs {
	debug := cfg.Debug()
	return componentConfigs{
		Logger: logger.Config{
			ServiceName:         cfg.ServiceName,
			Environment:         cfg.Environment,
			Version:             cfg.Version,
			Level:               cfg.LogLevel,
			Format:              cfg.LogFormat,
			Debug:               debug,
			IncludeCaller:       true,
			IncludeStackOnError: debug,
		},
		Tracing: tracing.Config{
			Enabled:          cfg.OtelEnabled,
			ServiceName:      cfg.ServiceName,
			ServiceVersion:   cfg.Version,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.OtelExporterEndpoint,
			ExporterProtocol: cfg.OtelExporterProtocol,
			SamplingRatio:    cfg.OtelSamplingRatio,
		},
		Metrics: metrics.Config{
			Enabled:          cfg.MetricsEnabled && cfg.MetricsExporter != "none",
			ExporterEndpoint: cfg.MetricsEndpoint,
			ExporterProtocol: cfg.metricsProtocol(),
			ServiceName:      cfg.ServiceName,
			Environment:      cfg.Environment,
			Interval:         cfg.MetricsInterval,
		},
	}
}

// metricsProtocol lets METRICS_EXPORTER pick http or grpc independently of
// the trace exporter.
func (c Config) metricsProtocol() string {
	switch strings.TrimSpace(c.MetricsExporter) {
	case "http", "http/protobuf", "grpc", "grpc/protobuf":
		return c.MetricsExporter
	default:
		return c.OtelExporterProtocol
	}
}

// Scheduler collectors live on the default prometheus registry so /metrics
// exposes them even when the worker runs without the HTTP server.
func registerSchedulerCollectors(cfg metrics.Config) {
	metrics.SchedulerWithConfig(cfg)
}
