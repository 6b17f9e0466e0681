package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/edgeflare/restlet/pkg/httputil"
	"github.com/edgeflare/restlet/pkg/httputil/middleware"
	"github.com/edgeflare/restlet/pkg/metrics"
	"go.uber.org/zap"
)

const remainderWildcard = "{remainder...}"

// Server mounts resources on an httputil.Router and serves them from a Store.
type Server struct {
	store    Store
	registry *Registry
	router   *httputil.Router
	logger   *zap.Logger
	debug    bool
	baseURL  string
	mounts   []mount
}

type mount struct {
	prefix string
	desc   *Descriptor
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDebug adds stack traces of internal errors to error envelopes.
func WithDebug(debug bool) Option {
	return func(s *Server) {
		s.debug = debug
	}
}

// WithBaseURL mounts every resource below baseURL, e.g. "/api".
func WithBaseURL(baseURL string) Option {
	return func(s *Server) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithRouter serves through router instead of a new one. Middleware must be
// added to it before resources are mounted.
func WithRouter(router *httputil.Router) Option {
	return func(s *Server) {
		s.router = router
	}
}

func NewServer(store Store, registry *Registry, opts ...Option) *Server {
	s := &Server{store: store, registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.router == nil {
		s.router = httputil.NewRouter(httputil.WithLogger(s.logger))
	}
	s.router.Handle("GET "+s.baseURL+"/{$}", http.HandlerFunc(s.index))
	return s
}

// Use adds middleware wrapping the resources mounted afterwards.
func (s *Server) Use(mw httputil.Middleware, additional ...httputil.Middleware) {
	s.router.Use(mw, additional...)
}

func (s *Server) Router() *httputil.Router {
	return s.router
}

// Mount serves d at prefix: the collection at prefix and everything below it
// through d's routes. d is registered with the server's registry.
func (s *Server) Mount(prefix string, d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("rest: mount %q: nil descriptor", prefix)
	}
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return fmt.Errorf("rest: mount %s: empty prefix", d.name)
	}
	if err := s.registry.Register(d); err != nil {
		return err
	}

	full := s.baseURL + prefix
	h := s.handler(full, d)
	s.router.Handle(full, h)
	s.router.Handle(full+"/"+remainderWildcard, h)
	s.mounts = append(s.mounts, mount{prefix: full, desc: d})
	s.logger.Debug("mounted resource", zap.String("model", d.name), zap.String("prefix", full))
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start(addr string) error {
	return s.router.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}

// RouteInfo is one line of the route table.
type RouteInfo struct {
	Path    string   `json:"path" yaml:"path"`
	Model   string   `json:"model" yaml:"model"`
	Pattern string   `json:"pattern" yaml:"pattern"`
	Methods []string `json:"methods" yaml:"methods"`
}

// Routes lists the mounted resources in dispatch order: explicit routes, the
// primary-key route, then the collection.
func (s *Server) Routes() []RouteInfo {
	var out []RouteInfo
	for _, m := range s.mounts {
		out = append(out, m.desc.RouteTable(m.prefix)...)
	}
	return out
}

// RouteTable lists d's routes as mounted at prefix.
func (d *Descriptor) RouteTable(prefix string) []RouteInfo {
	var out []RouteInfo
	for _, r := range d.routes {
		methods := r.Methods
		if len(methods) == 0 {
			methods = []string{"*"}
		}
		out = append(out, RouteInfo{Path: prefix, Model: d.name, Pattern: r.Pattern, Methods: methods})
	}
	if d.pkRoute != nil {
		out = append(out, RouteInfo{Path: prefix, Model: d.name, Pattern: d.pkRoute.Pattern, Methods: d.Methods()})
	}
	return append(out, RouteInfo{Path: prefix, Model: d.name, Pattern: "^/?$", Methods: d.Methods()})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Path  string `json:"path" yaml:"path"`
		Model string `json:"model" yaml:"model"`
	}
	resources := []entry{}
	for _, m := range s.mounts {
		resources = append(resources, entry{m.prefix, m.desc.name})
	}
	s.write(w, r, http.StatusOK, map[string]any{"resources": resources})
}

func (s *Server) handler(prefix string, d *Descriptor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := middleware.LoggerFrom(r.Context(), s.logger).With(zap.String("model", d.name))

		match, err := d.Dispatch(r.Method, remainder(r, prefix))
		if err != nil {
			metrics.DispatchTotal.WithLabelValues(d.name, metrics.OutcomeError).Inc()
			s.fail(w, r, d, logger, err)
			return
		}

		c := &Context{
			Request:  r,
			Writer:   &trackingWriter{ResponseWriter: w},
			Resource: d,
			Registry: s.registry,
			Store:    s.store,
			Match:    match,
			Logger:   logger,
		}

		var result any
		switch {
		case match.Route != nil:
			metrics.DispatchTotal.WithLabelValues(d.name, metrics.OutcomeRoute).Inc()
			logger.Debug("dispatch route", zap.String("pattern", match.Route.Pattern), zap.String("method", match.Verb))
			result, err = match.Route.Handler(c)
		case match.Key != "":
			metrics.DispatchTotal.WithLabelValues(d.name, metrics.OutcomeKey).Inc()
			logger.Debug("dispatch key", zap.String("key", match.Key), zap.String("method", match.Verb))
			result, err = serveVerb(d.verbs, c)
		default:
			metrics.DispatchTotal.WithLabelValues(d.name, metrics.OutcomeCollection).Inc()
			logger.Debug("dispatch collection", zap.String("method", match.Verb))
			result, err = serveVerb(d.verbs, c)
		}

		if c.Writer.(*trackingWriter).wrote {
			if err != nil {
				logger.Error("handler failed after writing the response", zap.Error(err))
			}
			return
		}
		if err != nil {
			s.fail(w, r, d, logger, err)
			return
		}
		s.respond(w, c, result)
	})
}

// remainder is the escaped path below prefix, so that route captures are
// unescaped exactly once.
func remainder(r *http.Request, prefix string) string {
	if rest, ok := strings.CutPrefix(r.URL.EscapedPath(), prefix); ok {
		return rest
	}
	if v := r.PathValue("remainder"); v != "" {
		return "/" + v
	}
	return ""
}

func (s *Server) respond(w http.ResponseWriter, c *Context, result any) {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}

	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		if c.Prefer().WantsMinimal() {
			result = nil
		}
	}
	if result == nil {
		if status == http.StatusOK {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
		return
	}
	s.write(w, c.Request, status, result)
}

// write renders v in the negotiated format. HEAD responses carry the headers
// of the equivalent GET without its body.
func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, contentType, err := encode(negotiate(r), v)
	if err != nil {
		s.logger.Error("encoding response", zap.Error(err))
		httputil.Error(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.WriteHeader(status)
		return
	}
	httputil.Blob(w, status, body, contentType)
}

// errorEnvelope is the rendered form of an *Error.
type errorEnvelope struct {
	Status  int               `json:"status" yaml:"status"`
	Reason  string            `json:"reason" yaml:"reason"`
	Ref     string            `json:"ref" yaml:"ref"`
	Message string            `json:"message,omitempty" yaml:"message,omitempty"`
	Code    string            `json:"code,omitempty" yaml:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Stack   string            `json:"stack,omitempty" yaml:"stack,omitempty"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, d *Descriptor, logger *zap.Logger, err error) {
	e := AsError(err)
	if e.Status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(e), zap.String("ref", r.URL.RequestURI()))
	} else {
		logger.Debug("request rejected", zap.Error(e))
	}

	env := errorEnvelope{
		Status:  e.Status,
		Reason:  e.Reason(),
		Ref:     r.URL.RequestURI(),
		Message: e.Message,
		Code:    e.Code,
		Fields:  e.Fields,
	}
	if s.debug {
		env.Stack = e.Stack()
		if env.Message == "" && e.Err != nil {
			env.Message = e.Err.Error()
		}
	}
	if e.Status == http.StatusMethodNotAllowed {
		allow := e.Allow
		if allow == nil && d != nil {
			allow = d.methods
		}
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.write(w, r, e.Status, env)
}

// trackingWriter records whether a handler wrote the response itself.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
