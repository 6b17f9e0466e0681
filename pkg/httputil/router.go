package httputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/edgeflare/restlet/pkg/util"
	"go.uber.org/zap"
)

// Middleware defines a function type that represents a middleware. Middleware functions wrap an
// http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions is a function type that represents options to configure a Router.
type RouterOptions func(*Router)

// Router is the main structure for handling HTTP routing and middleware.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	prefix     string
	middleware []Middleware
	logger     *zap.Logger
	banner     bool
	tlsErr     error
	mu         sync.RWMutex
}

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		server: &http.Server{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions returns a RouterOptions function that sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

func WithLogger(logger *zap.Logger) RouterOptions {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithBanner prints the ASCII banner when the server starts.
func WithBanner() RouterOptions {
	return func(r *Router) {
		r.banner = true
	}
}

// WithTLS enables HTTPS. Without certificate paths a self-signed certificate
// is generated under ./tls. Certificate errors are returned by ListenAndServe.
func WithTLS(certFile, keyFile string) RouterOptions {
	return func(r *Router) {
		if certFile == "" || keyFile == "" {
			certFile, keyFile = "./tls/tls.crt", "./tls/tls.key"
		}
		cert, err := util.LoadOrGenerateCert(certFile, keyFile)
		if err != nil {
			r.tlsErr = fmt.Errorf("loading TLS certificate: %w", err)
			return
		}
		r.server.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}
}

// Use adds one or more middleware to the router. At least one middleware must be provided.
// Middleware functions are applied in the order they are added.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group creates a new sub-router with a specified prefix. The sub-router inherits the middleware
// from its parent router.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Router{
		mux:        r.mux,
		middleware: slices.Clone(r.middleware),
		server:     r.server,
		prefix:     r.prefix + prefix,
		logger:     r.logger,
		banner:     r.banner,
		tlsErr:     r.tlsErr,
	}
}

// Handle registers handler for a pattern as introduced in
// [Routing Enhancements for Go 1.22](https://go.dev/blog/routing-enhancements).
// The pattern may start with a method: `METHOD /pattern` on a route group with
// a /prefix resolves to `METHOD /prefix/pattern`, `/pattern` matches every method.
// Middleware added to a group with Use wraps the handlers registered on it afterwards.
func (r *Router) Handle(pattern string, handler http.Handler) {
	method, path, found := strings.Cut(pattern, " ")
	if !found {
		method, path = "", pattern
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	finalHandler := handler
	for i := len(r.middleware) - 1; i >= 0; i-- {
		finalHandler = r.middleware[i](finalHandler)
	}

	fullPattern := r.prefix + strings.TrimSpace(path)
	if method != "" {
		fullPattern = method + " " + fullPattern
	}
	r.mux.Handle(fullPattern, finalHandler)
}

func (r *Router) HandleFunc(pattern string, fn http.HandlerFunc) {
	r.Handle(pattern, fn)
}

// ServeHTTP serves req through the router's mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// ListenAndServe starts the server, automatically choosing between HTTP and HTTPS based on TLS config.
func (r *Router) ListenAndServe(addr string) error {
	if r.tlsErr != nil {
		return r.tlsErr
	}
	if r.banner {
		fmt.Print(colorGreen + asciiArt + colorReset)
	}
	r.logger.Info("starting server", zap.String("addr", addr), zap.Bool("tls", r.server.TLSConfig != nil))

	r.server.Addr = addr
	r.server.Handler = r.mux

	if r.server.TLSConfig != nil {
		return r.server.ListenAndServeTLS("", "")
	}
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down server")
	return r.server.Shutdown(ctx)
}

const (
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
	asciiArt   = `
                 _   _      _
 _ __ ___  ___| |_| | ___| |_
| '__/ _ \/ __| __| |/ _ \ __|
| | |  __/\__ \ |_| |  __/ |_
|_|  \___||___/\__|_|\___|\__|

`
)
