package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/restlet/pkg/metrics"
)

// Metrics observes restlet_request_duration_seconds for every request,
// labeled by the matched mux pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewResponseRecorder(w)
		next.ServeHTTP(rec, r)

		metrics.RequestDuration.
			WithLabelValues(patternLabel(r.Pattern), r.Method, strconv.Itoa(rec.StatusCode)).
			Observe(time.Since(rec.start).Seconds())
	})
}

// patternLabel strips the method and trailing wildcard from a mux pattern:
// "GET /users/{remainder...}" becomes "/users".
func patternLabel(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	if _, path, found := strings.Cut(pattern, " "); found {
		pattern = path
	}
	if i := strings.Index(pattern, "/{"); i > 0 {
		pattern = pattern[:i]
	}
	return pattern
}
