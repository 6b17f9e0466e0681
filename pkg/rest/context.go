package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/edgeflare/restlet/pkg/query"
	"github.com/edgeflare/restlet/pkg/schema"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Response formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const maxBodyBytes = 4 << 20

// Context carries one dispatched request to a route handler or standard verb.
type Context struct {
	Request  *http.Request
	Writer   http.ResponseWriter
	Resource *Descriptor
	Registry *Registry
	Store    Store
	Match    *Match
	Logger   *zap.Logger

	status int
	prefer *Prefer
}

// Key is the primary-key value of a point lookup, "" otherwise.
func (c *Context) Key() string {
	if c.Match == nil {
		return ""
	}
	return c.Match.Key
}

// Params returns the named captures of the matched route.
func (c *Context) Params() map[string]string {
	if c.Match == nil {
		return nil
	}
	return c.Match.Named
}

// Param returns one named capture.
func (c *Context) Param(name string) string {
	return c.Params()[name]
}

// Args returns the positional captures of the matched route.
func (c *Context) Args() []string {
	if c.Match == nil {
		return nil
	}
	return c.Match.Positional
}

// Extra returns the extra configuration of the matched route.
func (c *Context) Extra() map[string]any {
	if c.Match == nil || c.Match.Route == nil {
		return nil
	}
	return c.Match.Route.Extra
}

// Ref is the request locator reported in envelopes.
func (c *Context) Ref() string {
	return c.Request.URL.RequestURI()
}

// Status sets the response status used for the handler's return value.
func (c *Context) Status(code int) {
	c.status = code
}

func (c *Context) Prefer() *Prefer {
	if c.prefer == nil {
		c.prefer = parsePrefer(c.Request)
	}
	return c.prefer
}

// Format is the negotiated response format.
func (c *Context) Format() string {
	return negotiate(c.Request)
}

// Compiler returns the filter compiler for the resource.
func (c *Context) Compiler() *query.Compiler {
	if c.Registry != nil {
		return c.Registry.Compiler(c.Resource)
	}
	tables := schema.Tables{c.Resource.tableKey: *c.Resource.table}
	return NewRegistry(tables).Compiler(c.Resource)
}

// Bind decodes the request body into dst. YAML bodies are accepted when the
// Content-Type says so; JSON numbers decode as json.Number.
func (c *Context) Bind(dst any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return BadRequest("reading request body").Wrap(err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return BadRequest("empty request body")
	}

	if isYAML(c.Request.Header.Get("Content-Type")) {
		if err := yaml.Unmarshal(body, dst); err != nil {
			return BadRequest("invalid YAML body").Wrap(err)
		}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return BadRequest("invalid JSON body at offset %d", syntaxErr.Offset).Wrap(err)
		}
		return BadRequest("invalid JSON body").Wrap(err)
	}
	return nil
}

// DecodeExtra decodes a route's extra configuration into dst, a pointer to a
// struct with mapstructure tags.
//
//	var opts struct{ MaxAge int `mapstructure:"max_age"` }
//	err := rest.DecodeExtra(c.Extra(), &opts)
func DecodeExtra(extra map[string]any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(extra)
}

func isYAML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}

// negotiate picks YAML for __format=yaml or a YAML Accept header, JSON
// otherwise. An explicit __format wins over Accept.
func negotiate(r *http.Request) string {
	switch strings.ToLower(r.URL.Query().Get("__format")) {
	case "yaml", "yml":
		return FormatYAML
	case FormatJSON:
		return FormatJSON
	}
	for _, accept := range strings.Split(r.Header.Get("Accept"), ",") {
		if isYAML(strings.TrimSpace(accept)) {
			return FormatYAML
		}
	}
	return FormatJSON
}

func encode(format string, v any) ([]byte, string, error) {
	if format == FormatYAML {
		b, err := yaml.Marshal(v)
		return b, "application/x-yaml", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return append(b, '\n'), "application/json", nil
}
