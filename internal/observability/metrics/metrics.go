package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
	Interval         time.Duration
}

// Metrics exposes compliance lifecycle instruments.
type Metrics struct {
	documentsCreated   metric.Int64Counter
	transitions        metric.Int64Counter
	submissions        metric.Int64Counter
	validationFailures metric.Int64Counter
	submissionLatency  metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.ExporterEndpoint) == "" {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "etimsbridge"
	}
	meter := provider.Meter(name)

	documentsCreated, err := meter.Int64Counter("etimsbridge_documents_created_total")
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("etimsbridge_status_transitions_total")
	if err != nil {
		return nil, err
	}
	submissions, err := meter.Int64Counter("etimsbridge_submissions_total")
	if err != nil {
		return nil, err
	}
	validationFailures, err := meter.Int64Counter("etimsbridge_validation_failures_total")
	if err != nil {
		return nil, err
	}
	submissionLatency, err := meter.Float64Histogram("etimsbridge_submission_duration_seconds",
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		documentsCreated:   documentsCreated,
		transitions:        transitions,
		submissions:        submissions,
		validationFailures: validationFailures,
		submissionLatency:  submissionLatency,
	}, nil
}

// RecordDocumentCreated counts newly created documents.
func (m *Metrics) RecordDocumentCreated(ctx context.Context, sourceSystem, documentType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source_system", strings.TrimSpace(sourceSystem)),
		attribute.String("document_type", strings.TrimSpace(documentType)),
	)
	m.documentsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransition counts persisted status transitions.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)
	m.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSubmission counts regulator calls by outcome and records their latency.
func (m *Metrics) RecordSubmission(ctx context.Context, outcome, environment string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("environment", strings.TrimSpace(environment)),
	)
	m.submissions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.submissionLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordValidationFailure counts rule violations by code.
func (m *Metrics) RecordValidationFailure(ctx context.Context, code string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("code", strings.TrimSpace(code)))
	m.validationFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source_system": {},
	"document_type": {},
	"from":          {},
	"to":            {},
	"outcome":       {},
	"environment":   {},
	"code":          {},
	"status_code":   {},
	"reason":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
