package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	obscontext "github.com/smallbiznis/etimsbridge/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the service logger and installs it as the zap global. Entries
// below warn are sampled; warnings and errors, which carry lifecycle
// failures, are always written.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = normalizeFormat(cfg.Format)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.Sampling = nil

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	options := []zap.Option{zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return sampleBelowWarn(core, cfg)
	})}
	if cfg.IncludeCaller {
		options = append(options, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapCfg.Build(options...)
	if err != nil {
		return nil, err
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "etimsbridge"
	}
	logger = logger.With(
		zap.String("service", serviceName),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(logger)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				_ = logger.Sync()
				return nil
			},
		})
	}

	return logger, nil
}

func sampleBelowWarn(core zapcore.Core, cfg Config) zapcore.Core {
	initial := cfg.SamplingInitial
	if initial <= 0 {
		initial = 100
	}
	thereafter := cfg.SamplingThereafter
	if thereafter <= 0 {
		thereafter = 100
	}
	window := cfg.SamplingWindow
	if window <= 0 {
		window = time.Second
	}
	chatty := levelFilter{Core: core, allow: func(l zapcore.Level) bool { return l < zapcore.WarnLevel }}
	important := levelFilter{Core: core, allow: func(l zapcore.Level) bool { return l >= zapcore.WarnLevel }}
	return zapcore.NewTee(
		zapcore.NewSamplerWithOptions(chatty, window, initial, thereafter),
		important,
	)
}

// levelFilter narrows a core to the levels accepted by allow.
type levelFilter struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (f levelFilter) Enabled(l zapcore.Level) bool {
	return f.allow(l) && f.Core.Enabled(l)
}

func (f levelFilter) With(fields []zapcore.Field) zapcore.Core {
	return levelFilter{Core: f.Core.With(fields), allow: f.allow}
}

func (f levelFilter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !f.allow(ent.Level) {
		return ce
	}
	return f.Core.Check(ent, ce)
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "console" {
		return "console"
	}
	return "json"
}

// FromContext returns a logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext enriches the provided logger with correlation fields.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 7)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if merchantID := obscontext.MerchantIDFromContext(ctx); merchantID != "" {
		fields = append(fields, zap.String("merchant_id", merchantID))
	}
	if documentID := obscontext.DocumentIDFromContext(ctx); documentID != "" {
		fields = append(fields, zap.String("document_id", documentID))
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		fields = append(fields,
			zap.String("actor_type", actorType),
			zap.String("actor_id", actorID),
		)
	}
	fields = append(fields, traceFieldsFromContext(ctx)...)
	if len(fields) == 0 {
		return base
	}

	return base.With(fields...)
}

// WithDocument adds document identifier fields to the logger.
func WithDocument(log *zap.Logger, documentID, merchantID string) *zap.Logger {
	if log == nil {
		return nil
	}
	return log.With(
		zap.String("document_id", strings.TrimSpace(documentID)),
		zap.String("merchant_id", strings.TrimSpace(merchantID)),
	)
}

func traceFieldsFromContext(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
