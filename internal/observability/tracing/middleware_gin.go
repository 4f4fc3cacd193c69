package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/etimsbridge/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. Merchant and document ids
// set by later middleware are attached once the handler returns.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("etimsbridge/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		ctx = withRequestBaggage(ctx, span)

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		reqCtx := c.Request.Context()
		if merchantID := obscontext.MerchantIDFromContext(reqCtx); merchantID != "" {
			attrs = append(attrs, attribute.String("merchant.id", merchantID))
		}
		if documentID := obscontext.DocumentIDFromContext(reqCtx); documentID != "" {
			attrs = append(attrs, attribute.String("document.id", documentID))
		}
		if action := documentAction(route); action != "" {
			attrs = append(attrs, attribute.String("compliance.action", action))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}

func withRequestBaggage(ctx context.Context, span trace.Span) context.Context {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// documentAction returns the lifecycle verb of /v1/documents/:id/<verb>
// routes.
func documentAction(route string) string {
	const prefix = "/v1/documents/:id/"
	if !strings.HasPrefix(route, prefix) {
		return ""
	}
	action := strings.TrimPrefix(route, prefix)
	switch action {
	case "validate", "prepare", "submit", "cancel", "retry", "abandon":
		return action
	default:
		return ""
	}
}
