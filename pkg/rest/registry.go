package rest

import (
	"fmt"
	"sync"

	"github.com/edgeflare/restlet/pkg/query"
	"github.com/edgeflare/restlet/pkg/schema"
)

// Registry maps tables to the resources exposing them. The filter compiler
// consults it for the encoders of related tables reached through joins.
type Registry struct {
	catalog schema.Catalog
	mu      sync.RWMutex
	byTable map[string]*Descriptor
	order   []*Descriptor
}

func NewRegistry(catalog schema.Catalog) *Registry {
	return &Registry{catalog: catalog, byTable: make(map[string]*Descriptor)}
}

func (r *Registry) Catalog() schema.Catalog {
	return r.catalog
}

// Register adds d. The first resource registered for a table is the one
// looked up for it.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("rest: register nil descriptor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.order {
		if existing == d {
			return nil
		}
	}
	if _, ok := r.byTable[d.tableKey]; !ok {
		r.byTable[d.tableKey] = d
	}
	r.order = append(r.order, d)
	return nil
}

func (r *Registry) Lookup(table string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byTable[table]
	return d, ok
}

// Descriptors returns the registered resources in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Encoder implements query.EncoderSource.
func (r *Registry) Encoder(table, field string) (query.EncoderFunc, bool) {
	d, ok := r.Lookup(table)
	if !ok {
		return nil, false
	}
	fn, ok := d.Encoder(field)
	if !ok {
		return nil, false
	}
	return query.EncoderFunc(fn), true
}

// Compiler returns a filter compiler rooted at d: d's own encoders apply to its
// table, the registry's to every other table.
func (r *Registry) Compiler(d *Descriptor) *query.Compiler {
	return &query.Compiler{Catalog: r.catalog, Encoders: resourceEncoders{d: d, r: r}}
}

type resourceEncoders struct {
	d *Descriptor
	r *Registry
}

func (e resourceEncoders) Encoder(table, field string) (query.EncoderFunc, bool) {
	if e.d != nil && table == e.d.tableKey {
		fn, ok := e.d.Encoder(field)
		if !ok {
			return nil, false
		}
		return query.EncoderFunc(fn), true
	}
	return e.r.Encoder(table, field)
}
