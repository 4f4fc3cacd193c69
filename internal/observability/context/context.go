// Package context carries correlation identifiers through request and job
// contexts for logging and tracing.
package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	merchantIDKey
	documentIDKey
	actorKey
)

type actor struct {
	typ string
	id  string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func WithMerchantID(ctx context.Context, merchantID string) context.Context {
	return context.WithValue(ctx, merchantIDKey, strings.TrimSpace(merchantID))
}

func MerchantIDFromContext(ctx context.Context) string {
	return stringValue(ctx, merchantIDKey)
}

func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, documentIDKey, strings.TrimSpace(documentID))
}

func DocumentIDFromContext(ctx context.Context) string {
	return stringValue(ctx, documentIDKey)
}

// WithActor records who triggered the work: "system"/"scheduler",
// "api"/"<client>" and so on.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actor{
		typ: strings.TrimSpace(actorType),
		id:  strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if a, ok := ctx.Value(actorKey).(actor); ok {
		return a.typ, a.id
	}
	return "", ""
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
