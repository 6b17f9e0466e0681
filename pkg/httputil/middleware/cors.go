package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// CORSOptions defines configuration for CORS.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
}

// defaultCORSOptions returns the default CORS options.
func defaultCORSOptions() *CORSOptions {
	return &CORSOptions{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Content-Length", "Accept", "Accept-Encoding", "Authorization", "Prefer", "Origin", "Cache-Control", "X-Requested-With", RequestIDHeader},
		ExposedHeaders:   []string{"Location", RequestIDHeader},
		AllowCredentials: true,
	}
}

// CORSWithOptions creates a CORS middleware with the provided configuration.
// If options is nil, it will use the default CORS settings.
// If options is an empty struct (CORSOptions{}), it will create a middleware with no CORS headers.
//
// Only preflight requests, OPTIONS carrying Access-Control-Request-Method, are
// answered here; other OPTIONS requests reach the resource.
func CORSWithOptions(options *CORSOptions) func(http.Handler) http.Handler {
	if options == nil {
		options = defaultCORSOptions()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := allowOrigin(options, r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if origin != "*" {
					w.Header().Add("Vary", "Origin")
				}
			}
			if len(options.AllowedMethods) > 0 {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(options.AllowedMethods, ","))
			}
			if len(options.AllowedHeaders) > 0 {
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(options.AllowedHeaders, ","))
			}
			if len(options.ExposedHeaders) > 0 {
				w.Header().Set("Access-Control-Expose-Headers", strings.Join(options.ExposedHeaders, ","))
			}
			if options.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
func allowOrigin(options *CORSOptions, origin string) string {
	switch {
	case len(options.AllowedOrigins) == 0:
		return ""
	case slices.Contains(options.AllowedOrigins, "*"):
		return "*"
	case origin == "":
		return strings.Join(options.AllowedOrigins, ",")
	case slices.Contains(options.AllowedOrigins, origin):
		return origin
	}
	return ""
}
