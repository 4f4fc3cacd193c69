package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/etimsbridge/internal/config"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	MetricsEnabled  bool
	MetricsExporter string
	MetricsEndpoint string
	MetricsInterval time.Duration
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "etimsbridge"
	}
	otlpEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	metricsEndpoint := strings.TrimSpace(cfg.Metrics.Endpoint)
	if metricsEndpoint == "" {
		metricsEndpoint = otlpEndpoint
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(strings.TrimSpace(cfg.LogLevel)),
		LogFormat:            strings.ToLower(strings.TrimSpace(cfg.LogFormat)),
		OtelEnabled:          cfg.OTelEnabled,
		OtelExporterEndpoint: otlpEndpoint,
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(cfg.OTLPProtocol)),
		OtelSamplingRatio:    cfg.OTelSamplingRatio,
		MetricsEnabled:       cfg.Metrics.Enabled,
		MetricsExporter:      strings.ToLower(strings.TrimSpace(cfg.Metrics.Exporter)),
		MetricsEndpoint:      metricsEndpoint,
		MetricsInterval:      cfg.Metrics.Interval,
	}
}

// Debug is true for debug logging or any non-deployed environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
