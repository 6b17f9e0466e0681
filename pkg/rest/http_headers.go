package rest

import (
	"net/http"
	"strings"
)

// Prefer holds preferences from the Prefer header (RFC 7240).
type Prefer struct {
	Return   string // "minimal", "representation"
	Handling string // "strict", "lenient"
}

// parsePrefer parses the Prefer header according to RFC 7240.
// It returns nil if the header is not present.
func parsePrefer(r *http.Request) *Prefer {
	values := r.Header.Values("Prefer")
	if len(values) == 0 {
		return nil
	}

	p := &Prefer{}
	for _, header := range values {
		parseKeyValPairs(header, func(key, value string) {
			value = strings.ToLower(value)
			switch key {
			case "return":
				if value == "minimal" || value == "representation" {
					p.Return = value
				}
			case "handling":
				if value == "strict" || value == "lenient" {
					p.Handling = value
				}
			}
		})
	}
	return p
}

// parseKeyValPairs parses comma-separated preference directives.
// For each key=value pair found, it calls fn with the key and value.
func parseKeyValPairs(header string, fn func(key, value string)) {
	for pref := range strings.SplitSeq(header, ",") {
		pref = strings.TrimSpace(pref)
		// parameters after ';' are not used
		pref, _, _ = strings.Cut(pref, ";")
		if key, value, found := strings.Cut(pref, "="); found {
			key = strings.TrimSpace(strings.ToLower(key))
			value = strings.Trim(strings.TrimSpace(value), `"`)
			fn(key, value)
		}
	}
}

// WantsMinimal reports whether the client asked for no response body on
// mutation operations.
func (p *Prefer) WantsMinimal() bool {
	return p != nil && p.Return == "minimal"
}

// Strict reports whether filters that compile to no predicate should fail
// the request instead of being dropped.
func (p *Prefer) Strict() bool {
	return p != nil && p.Handling == "strict"
}
