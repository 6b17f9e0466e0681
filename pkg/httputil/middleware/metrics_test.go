package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/restlet/pkg/httputil"
	"github.com/edgeflare/restlet/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func sampleCount(t *testing.T, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, metrics.RequestDuration.WithLabelValues(labels...).(prometheus.Metric).Write(m))
	return m.GetHistogram().GetSampleCount()
}

func TestMetrics(t *testing.T) {
	r := httputil.NewRouter()
	r.Use(Metrics)
	r.Handle("/metrics-test/{remainder...}", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	before := sampleCount(t, "/metrics-test", "PUT", "202")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/metrics-test/1", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, before+1, sampleCount(t, "/metrics-test", "PUT", "202"))
}

func TestPatternLabel(t *testing.T) {
	tests := map[string]string{
		"":                          "unmatched",
		"/users":                    "/users",
		"GET /users/{remainder...}": "/users",
		"/api/users/{remainder...}": "/api/users",
		"GET /{$}":                  "/{$}",
	}
	for pattern, want := range tests {
		assert.Equal(t, want, patternLabel(pattern), pattern)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) httputil.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestStack(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := httputil.NewRouter()
	r.Use(Stack(zap.New(core)))
	r.Handle("GET /stack/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := httputil.RequestID(r)
		assert.True(t, ok)
		assert.NotEmpty(t, id)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stack/1", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, int64(http.StatusTeapot), logs.All()[0].ContextMap()["status"])

	// without a logger nothing is logged
	r = httputil.NewRouter()
	r.Use(Stack(nil))
	r.Handle("/quiet", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/quiet", nil))
	assert.Equal(t, 1, logs.Len())
}
