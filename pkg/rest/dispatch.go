package rest

import (
	"net/url"
	"strings"
)

// Match is the outcome of dispatching a request within a resource: either an
// explicit Route with its captured parameters, or a standard Verb with an
// optional point-lookup Key.
type Match struct {
	Route      *Route
	Named      map[string]string
	Positional []string
	Key        string
	Verb       string
}

// Dispatch resolves method and the path remainder below the resource's mount
// point. Explicit routes are tried first in declaration order (own before
// inherited) and the first matching pattern wins. Then the primary-key route
// is tried. An empty remainder addresses the collection.
//
// A matched route or primary key that rejects method yields MethodNotAllowed;
// a remainder matching nothing yields NotFound.
func (d *Descriptor) Dispatch(method, remainder string) (*Match, error) {
	method = strings.ToUpper(method)

	if remainder == "" || remainder == "/" {
		if err := d.checkVerb(method); err != nil {
			return nil, err
		}
		return &Match{Verb: method}, nil
	}

	for _, r := range d.routes {
		groups := r.re.FindStringSubmatch(remainder)
		if groups == nil {
			continue
		}
		if !r.Allows(method) {
			e := MethodNotAllowed("%s not allowed on %s", method, remainder)
			e.Allow = r.Methods
			return nil, e
		}
		return r.bind(groups)
	}

	if d.pkRoute != nil {
		if groups := d.pkRoute.re.FindStringSubmatch(remainder); groups != nil {
			if err := d.checkVerb(method); err != nil {
				return nil, err
			}
			key, err := url.PathUnescape(groups[1])
			if err != nil {
				return nil, BadRequest("invalid key %q", groups[1]).Wrap(err)
			}
			return &Match{Verb: method, Key: key}, nil
		}
	}

	return nil, NotFound("no route for %s", remainder)
}

func (d *Descriptor) checkVerb(method string) error {
	if !d.Allows(method) {
		e := MethodNotAllowed("%s not allowed on %s", method, d.name)
		e.Allow = d.methods
		return e
	}
	return nil
}

// bind unescapes the captured groups into named or positional parameters.
func (r *Route) bind(groups []string) (*Match, error) {
	m := &Match{Route: r}
	names := r.re.SubexpNames()
	if r.named {
		m.Named = make(map[string]string, len(groups)-1)
	}

	for i, raw := range groups[1:] {
		v, err := url.PathUnescape(raw)
		if err != nil {
			return nil, BadRequest("invalid path parameter %q", raw).Wrap(err)
		}
		if r.named {
			m.Named[names[i+1]] = v
		} else {
			m.Positional = append(m.Positional, v)
		}
	}
	return m, nil
}
