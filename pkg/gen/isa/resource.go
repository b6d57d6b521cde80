package isa

import (
	"sort"

	"github.com/simforge/isagen/pkg/gen/expr"
)

// Resource is a named reservation shared across instructions. Whether
// it is simple or complex is decided by AnalyzeResourceUse once the
// whole instruction set is materialized.
type Resource struct {
	Name    string
	Complex bool
}

// ResourcePool owns all named resources of one instruction set.
type ResourcePool struct {
	byName map[string]*Resource
}

// NewResourcePool creates an empty pool.
func NewResourcePool() *ResourcePool {
	return &ResourcePool{byName: map[string]*Resource{}}
}

// GetOrInsert returns the named resource, creating it on first use.
func (p *ResourcePool) GetOrInsert(name string) *Resource {
	if r, ok := p.byName[name]; ok {
		return r
	}
	r := &Resource{Name: name}
	p.byName[name] = r
	return r
}

// Lookup returns the named resource, or nil.
func (p *ResourcePool) Lookup(name string) *Resource {
	return p.byName[name]
}

// Simple returns the simple resources sorted by name.
func (p *ResourcePool) Simple() []*Resource {
	return p.sorted(false)
}

// ComplexResources returns the complex resources sorted by name.
func (p *ResourcePool) ComplexResources() []*Resource {
	return p.sorted(true)
}

func (p *ResourcePool) sorted(complex bool) []*Resource {
	var out []*Resource
	for _, r := range p.byName {
		if r.Complex == complex {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResourceRef is one instruction's reference to a resource with its
// reservation window [Begin, End). A nil Begin means cycle 0; a nil
// End means the latency of the destination operand the reference
// names.
type ResourceRef struct {
	Resource  *Resource
	Kind      ResourceRefKind
	Begin     *expr.Expr
	End       *expr.Expr
	HasWindow bool
}

// DeepCopy clones the reference and its window expressions.
func (r *ResourceRef) DeepCopy() *ResourceRef {
	clone := *r
	clone.Begin = r.Begin.DeepCopy()
	clone.End = r.End.DeepCopy()
	return &clone
}
