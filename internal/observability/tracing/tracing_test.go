package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSafeAttributesDropsCredentials(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/documents/:id"),
		attribute.String("cmcKey", "secret"),
		attribute.String("kra_pin", "P000000000A"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.Equal(t, errRedacted, SafeError(errors.New("bad cmcKey abc")))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, SafeError(plain))
}

func TestSamplingRatioBounds(t *testing.T) {
	assert.Equal(t, float64(0), samplingRatio(-1))
	assert.Equal(t, 0.25, samplingRatio(0.25))
	assert.Equal(t, float64(1), samplingRatio(4))
}

func TestGinMiddlewareRecordsServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/v1/documents/:id/submit", func(c *gin.Context) {
		_ = c.Error(errors.New("adapter down"))
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/documents/7/submit", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST /v1/documents/:id/submit", spans[0].Name())
	assert.Len(t, spans[0].Events(), 1)

	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "submit", attrs["compliance.action"])
	assert.Equal(t, "500", attrs["http.status_code"])
}

func TestDocumentAction(t *testing.T) {
	assert.Equal(t, "validate", documentAction("/v1/documents/:id/validate"))
	assert.Equal(t, "abandon", documentAction("/v1/documents/:id/abandon"))
	assert.Empty(t, documentAction("/v1/documents/:id/events"))
	assert.Empty(t, documentAction("/v1/documents"))
	assert.Empty(t, documentAction("unknown"))
}
