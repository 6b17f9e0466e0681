package rest

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/edgeflare/restlet/pkg/query"
	"gopkg.in/yaml.v3"
)

// Object is one projected record. It marshals its fields in column order.
type Object struct {
	fields []string
	values query.Record
}

// Fields returns the projected field names in output order.
func (o Object) Fields() []string { return slices.Clone(o.fields) }

func (o Object) Get(field string) (any, bool) {
	v, ok := o.values[field]
	return v, ok
}

func (o Object) MarshalJSON() ([]byte, error) { return o.ordered().MarshalJSON() }

func (o Object) MarshalYAML() (any, error) { return o.ordered().MarshalYAML() }

func (o Object) ordered() ordered {
	out := make(ordered, len(o.fields))
	for i, f := range o.fields {
		out[i] = pair{f, o.values[f]}
	}
	return out
}

// Envelope wraps projected records with request metadata. Object is set for
// point lookups, Objects for collections.
type Envelope struct {
	Ref   string
	Model string

	Object *Object

	Objects []Object
	// Total counts every row matched by the filters, Count the rows in this page.
	Total int
	Count int
	Limit int
	Begin int
}

func (e Envelope) MarshalJSON() ([]byte, error) { return e.ordered().MarshalJSON() }

func (e Envelope) MarshalYAML() (any, error) { return e.ordered().MarshalYAML() }

func (e Envelope) ordered() ordered {
	out := ordered{{"__ref", e.Ref}, {"__model", e.Model}}
	if e.Object != nil {
		return append(out, pair{"object", *e.Object})
	}
	objects := e.Objects
	if objects == nil {
		objects = []Object{}
	}
	return append(out,
		pair{"__total", e.Total},
		pair{"__count", e.Count},
		pair{"__limit", e.Limit},
		pair{"__begin", e.Begin},
		pair{"objects", objects},
	)
}

// Project builds a collection envelope from one page of rows. rows are
// already filtered, ordered and windowed by the store; total is the matched
// row count before windowing.
func Project(ref string, d *Descriptor, rows []query.Record, ctrl query.Controls, total int) (*Envelope, error) {
	fields := d.fields(ctrl.IncludeFields, ctrl.ExcludeFields)
	objects := make([]Object, 0, len(rows))
	for _, row := range rows {
		obj, err := d.project(row, fields)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return &Envelope{
		Ref:     ref,
		Model:   d.name,
		Objects: objects,
		Total:   total,
		Count:   len(objects),
		Limit:   ctrl.Limit,
		Begin:   ctrl.Begin,
	}, nil
}

// ProjectOne builds a point-lookup envelope.
func ProjectOne(ref string, d *Descriptor, row query.Record, ctrl query.Controls) (*Envelope, error) {
	obj, err := d.project(row, d.fields(ctrl.IncludeFields, ctrl.ExcludeFields))
	if err != nil {
		return nil, err
	}
	return &Envelope{Ref: ref, Model: d.name, Object: &obj}, nil
}

// fields is (include ∪ {pk}) − exclude − invisible in column order. An empty
// include selects every column.
func (d *Descriptor) fields(include, exclude []string) []string {
	var out []string
	for _, col := range d.table.ColumnNames() {
		if len(include) > 0 && col != d.pk && !slices.Contains(include, col) {
			continue
		}
		if slices.Contains(exclude, col) || d.invisible[col] {
			continue
		}
		out = append(out, col)
	}
	return out
}

func (d *Descriptor) project(row query.Record, fields []string) (Object, error) {
	values := make(query.Record, len(fields))
	for _, f := range fields {
		v := row[f]
		if dec, ok := d.decoders[f]; ok {
			var err error
			if v, err = dec(v); err != nil {
				return Object{}, InternalError("decoding %s.%s", d.name, f).Wrap(err)
			}
		}
		values[f] = v
	}
	return Object{fields: fields, values: values}, nil
}

type pair struct {
	key   string
	value any
}

// ordered is a mapping that keeps its key order when marshaled.
type ordered []pair

func (o ordered) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o ordered) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range o {
		value := &yaml.Node{}
		if err := value.Encode(p.value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.key},
			value,
		)
	}
	return node, nil
}
