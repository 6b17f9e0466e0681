// Package query turns a flat query string into paging controls and a filter
// expression over a table and its relationships.
//
// Reserved keys start with a double underscore:
//
//	__include_fields=name,email  __exclude_fields=created_at  __extend_fields=group
//	__begin=20  __limit=10  __order_by=-created_at,name  __format=yaml
//
// Every other key is a filter. A filter key is a dotted path through
// relationships whose last segment may carry lookup operators:
//
//	name=alice  age__gte=18  name__not=bob  group.name__startswith=adm
//	id__in=1,2,3  age__range=18,65
//
// Keys joined by "|" form an OR-group, paired positionally with the values
// split the same way: name|email=alice|alice@example.com.
package query

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// DefaultLimit is the page size used when __limit is absent or invalid.
const DefaultLimit = 50

const (
	reservedPrefix = "__"
	groupSep       = "|"
	listSep        = ","
	pathSep        = "."
	lookupSep      = "__"
)

const (
	keyIncludeFields = "__include_fields"
	keyExcludeFields = "__exclude_fields"
	keyExtendFields  = "__extend_fields"
	keyBegin         = "__begin"
	keyLimit         = "__limit"
	keyOrderBy       = "__order_by"
	keyFormat        = "__format"
)

// Controls holds the pagination and projection directives of a request.
type Controls struct {
	IncludeFields []string
	ExcludeFields []string
	ExtendFields  []string
	OrderBy       []string
	Begin         int
	Limit         int
	// Format names an alternate response format, e.g. "yaml".
	Format string
}

// Filter is one filter key with its value. Value is a string, or a []string
// when the key was repeated in the query.
type Filter struct {
	Key   string
	Value any
}

// Path splits the key into its dotted segments.
func (f Filter) Path() []string {
	return strings.Split(f.Key, pathSep)
}

// OrGroup is a set of filters combined with OR. Name is the original
// "|"-joined key.
type OrGroup struct {
	Name    string
	Filters []Filter
}

// FilterGroup holds the implicit AND-group and the named OR-groups. Each
// OR-group is itself one term of the top-level conjunction.
type FilterGroup struct {
	And []Filter
	Or  []OrGroup
}

func (g FilterGroup) Empty() bool {
	return len(g.And) == 0 && len(g.Or) == 0
}

// ParseQuery parses a raw URL query string.
func ParseQuery(rawQuery string) (Controls, FilterGroup, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Controls{}, FilterGroup{}, err
	}
	ctrl, group := Parse(values)
	return ctrl, group, nil
}

// Parse splits raw into reserved controls and filters. Filters are returned in
// key order so that compiled expressions are stable.
func Parse(raw map[string][]string) (Controls, FilterGroup) {
	ctrl := Controls{Limit: DefaultLimit}
	var group FilterGroup

	for _, key := range slices.Sorted(maps.Keys(raw)) {
		values := raw[key]

		if strings.HasPrefix(key, reservedPrefix) {
			parseControl(&ctrl, key, values)
			continue
		}

		if !strings.Contains(key, groupSep) {
			group.And = append(group.And, Filter{Key: key, Value: unwrap(values)})
			continue
		}

		if or, ok := parseOrGroup(key, values); ok {
			group.Or = append(group.Or, or)
		}
	}
	return ctrl, group
}

func parseControl(ctrl *Controls, key string, values []string) {
	switch key {
	case keyIncludeFields:
		ctrl.IncludeFields = splitList(values)
	case keyExcludeFields:
		ctrl.ExcludeFields = splitList(values)
	case keyExtendFields:
		ctrl.ExtendFields = splitList(values)
	case keyOrderBy:
		ctrl.OrderBy = splitList(values)
	case keyBegin:
		if n, err := strconv.Atoi(last(values)); err == nil && n > 0 {
			ctrl.Begin = n
		}
	case keyLimit:
		if n, err := strconv.Atoi(last(values)); err == nil && n > 0 {
			ctrl.Limit = n
		}
	case keyFormat:
		ctrl.Format = strings.ToLower(strings.TrimSpace(last(values)))
	}
	// any other reserved key is ignored
}

// parseOrGroup pairs the "|"-separated names of key with the "|"-separated
// parts of its value. When the two lists differ in length the longer one is
// truncated, so a=1 is kept and b dropped for a|b=1. A repeated grouped key
// uses its first value.
func parseOrGroup(key string, values []string) (OrGroup, bool) {
	if len(values) == 0 {
		return OrGroup{}, false
	}
	names := strings.Split(key, groupSep)
	parts := strings.Split(values[0], groupSep)

	or := OrGroup{Name: key}
	for i := range min(len(names), len(parts)) {
		if names[i] == "" {
			continue
		}
		or.Filters = append(or.Filters, Filter{Key: names[i], Value: parts[i]})
	}
	return or, len(or.Filters) > 0
}

// unwrap turns a single-element list into a scalar.
func unwrap(values []string) any {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	default:
		return values
	}
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, listSep) {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func last(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}
