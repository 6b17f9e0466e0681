package rest

import (
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/edgeflare/restlet/pkg/schema"
)

// Handler serves a request dispatched to a route or a standard verb. The
// returned value is rendered in the negotiated format; a handler that writes
// the response itself returns nil.
type Handler func(*Context) (any, error)

// StandardMethods are the verbs a resource serves by default.
var StandardMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodHead,
	http.MethodOptions,
}

var knownMethods = append(slices.Clone(StandardMethods), http.MethodPatch)

// Route binds an anchored path pattern to a handler. Patterns use either named
// groups, (?P<name>...), or positional groups, never both.
type Route struct {
	Pattern string
	Methods []string
	Handler Handler
	Extra   map[string]any

	re    *regexp.Regexp
	named bool
}

// Allows reports whether the route accepts method. An empty method set
// accepts any method.
func (r *Route) Allows(method string) bool {
	return len(r.Methods) == 0 || slices.Contains(r.Methods, method)
}

// anchor turns "login" or "/login" into "^/login$".
func anchor(pattern string) string {
	p := strings.TrimPrefix(pattern, "^")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "$") {
		p += "$"
	}
	return "^" + p
}

func normalizeMethods(methods []string) ([]string, error) {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if !slices.Contains(knownMethods, m) {
			return nil, ConfigurationError("unknown HTTP method %q", m)
		}
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func compileRoute(pattern string, h Handler, extra map[string]any, methods []string) (*Route, error) {
	if h == nil {
		return nil, ConfigurationError("route %q has no handler", pattern)
	}
	anchored := anchor(pattern)
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, ConfigurationError("route %q: %v", pattern, err).Wrap(err)
	}

	var named, positional int
	for _, name := range re.SubexpNames()[1:] {
		if name == "" {
			positional++
		} else {
			named++
		}
	}
	if named > 0 && positional > 0 {
		return nil, ConfigurationError("route %q mixes named and positional groups", pattern)
	}

	ms, err := normalizeMethods(methods)
	if err != nil {
		return nil, err
	}
	return &Route{
		Pattern: anchored,
		Methods: ms,
		Handler: h,
		Extra:   extra,
		re:      re,
		named:   named > 0,
	}, nil
}

// keyPattern is the path segment class accepted for a primary key of class c.
func keyPattern(c schema.Class) (string, bool) {
	switch c {
	case schema.ClassInteger:
		return `[0-9]+`, true
	case schema.ClassString, schema.ClassUUID:
		return `[0-9A-Za-z_-]+`, true
	default:
		return "", false
	}
}

// primaryKeyRoute derives the point-lookup route from the first primary key
// column of t. Tables whose key is of another class get no such route.
func primaryKeyRoute(t *schema.Table) (*Route, string) {
	pk, ok := t.PrimaryKey()
	if !ok {
		return nil, ""
	}
	class, ok := keyPattern(pk.Class())
	if !ok {
		return nil, ""
	}
	p := "^/(" + class + ")$"
	return &Route{Pattern: p, re: regexp.MustCompile(p)}, pk.Name
}
