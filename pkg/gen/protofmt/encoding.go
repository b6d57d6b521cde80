package protofmt

import (
	"github.com/jhump/protoreflect/desc"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
)

// ChainLink is one oneof member that must be the active alternative
// for a deeper field to be reachable.
type ChainLink struct {
	Field *desc.FieldDescriptor
	Path  string
}

// Encoding is one instruction: a conjunction of constraints on the
// fields of the decoder's message type, plus the setters to run when
// it matches.
type Encoding struct {
	Pos     diag.Pos
	Name    string
	Message *desc.MessageDescriptor

	// Equality holds the Eq and Has constraints the decoder tree may
	// partition on; Other holds everything verified at the leaf.
	Equality []*Constraint
	Other    []*Constraint

	Setters []*Setter

	// Recorded oneof members, keyed by containing path and oneof
	// name. A second distinct member of the same oneof contradicts.
	oneofMembers map[string]*Constraint

	// Accumulated value sets per constrained field path, for
	// satisfiability checking.
	valueSets map[string]*ValueSet
}

// NewEncoding creates an empty encoding for one instruction name.
func NewEncoding(name string, msg *desc.MessageDescriptor, pos diag.Pos) *Encoding {
	return &Encoding{
		Pos:          pos,
		Name:         name,
		Message:      msg,
		oneofMembers: map[string]*Constraint{},
		valueSets:    map[string]*ValueSet{},
	}
}

func oneofKey(path string, oneof *desc.OneOfDescriptor) string {
	return parentPath(path) + ":" + oneof.GetName()
}

// recordOneofMember registers a Has on one oneof member, returning
// the canonical constraint node for it. A duplicate of the same
// member returns the existing node; a different member of the same
// oneof is a contradiction.
func (e *Encoding) recordOneofMember(link ChainLink, dependsOn *Constraint,
	pos diag.Pos, sink *diag.Sink) (*Constraint, bool) {

	oneof := link.Field.GetOneOf()
	if oneof == nil {
		sink.Errorf(diag.ClassSemantic, pos,
			"field '%s' is not a oneof member", link.Path)
		return nil, false
	}

	key := oneofKey(link.Path, oneof)
	if prev, ok := e.oneofMembers[key]; ok {
		if prev.Field == link.Field {
			return prev, true
		}
		sink.Errorf(diag.ClassSemantic, pos,
			"instruction '%s': oneof '%s' already constrained to '%s', cannot also require '%s'",
			e.Name, oneof.GetName(), prev.Field.GetName(), link.Field.GetName())
		return nil, false
	}

	c := &Constraint{
		Pos:       pos,
		Field:     link.Field,
		Path:      link.Path,
		Op:        OpHas,
		Value:     expr.Int32Value(link.Field.GetNumber()),
		DependsOn: dependsOn,
	}
	e.oneofMembers[key] = c
	return c, false
}

// AddConstraint normalizes one parsed constraint into the encoding.
// chain lists the oneof members that make field reachable, outermost
// first. Reports problems to the sink and returns false on error.
func (e *Encoding) AddConstraint(pos diag.Pos, op Op, field *desc.FieldDescriptor,
	path string, chain []ChainLink, value expr.Value, sink *diag.Sink) bool {

	// Resolve the dependency chain, synthesizing a Has node per
	// member. The first chain element feeds the equality set; the
	// rest go to the leaf-checked set.
	var depends *Constraint
	for i, link := range chain {
		node, existed := e.recordOneofMember(link, depends, pos, sink)
		if node == nil {
			return false
		}
		if !existed {
			if i == 0 {
				e.Equality = append(e.Equality, node)
			} else {
				e.Other = append(e.Other, node)
			}
		}
		depends = node
	}

	if op == OpHas {
		node, existed := e.recordOneofMember(ChainLink{Field: field, Path: path},
			depends, pos, sink)
		if node == nil {
			return false
		}
		if !existed {
			e.Equality = append(e.Equality, node)
		}
		return true
	}

	kind, err := FieldKind(field)
	if err != nil {
		sink.Errorf(diag.ClassSemantic, pos, "instruction '%s': %v", e.Name, err)
		return false
	}
	if value.Kind != kind {
		coerced, ok := coerceValue(value, kind)
		if !ok {
			sink.Errorf(diag.ClassSemantic, pos,
				"instruction '%s': constraint literal %s does not fit field '%s' of type %s",
				e.Name, value.String(), path, kind)
			return false
		}
		value = coerced
	}

	c := &Constraint{
		Pos:       pos,
		Field:     field,
		Path:      path,
		Op:        op,
		Value:     value,
		DependsOn: depends,
	}

	if !e.checkSatisfiable(c, sink) {
		return false
	}

	// Integral equality tests can partition the decoder tree even
	// behind a oneof: reading an absent arm yields the default
	// instance, which routes to the dispatch fallback.
	if op == OpEq && kind.Integral() {
		e.Equality = append(e.Equality, c)
	} else {
		e.Other = append(e.Other, c)
	}
	return true
}

// checkSatisfiable intersects the constraint's value set with the
// accumulated set of its field; an empty result is a contradiction.
func (e *Encoding) checkSatisfiable(c *Constraint, sink *diag.Sink) bool {
	set, err := c.ValueSet()
	if err != nil {
		// Non-numeric kinds carry no range algebra; nothing to check.
		return true
	}

	acc, ok := e.valueSets[c.Path]
	if !ok {
		e.valueSets[c.Path] = set
		return true
	}
	if err := acc.IntersectWith(set); err != nil {
		sink.Errorf(diag.ClassSemantic, c.Pos, "instruction '%s': %v", e.Name, err)
		return false
	}
	if acc.Empty() {
		sink.Errorf(diag.ClassSemantic, c.Pos,
			"instruction '%s': constraints on field '%s' are contradictory", e.Name, c.Path)
		return false
	}
	return true
}

// AddSetter registers one setter. Dependencies already entailed by
// the encoding's recorded oneof members are elided.
func (e *Encoding) AddSetter(pos diag.Pos, name string, field *desc.FieldDescriptor,
	path string, chain []ChainLink, ifNot *expr.Value, sink *diag.Sink) bool {

	for _, s := range e.Setters {
		if s.Name == name {
			sink.Errorf(diag.ClassSemantic, pos,
				"instruction '%s': duplicate setter '%s'", e.Name, name)
			return false
		}
	}

	kind, err := FieldKind(field)
	if err != nil {
		sink.Errorf(diag.ClassSemantic, pos, "instruction '%s': %v", e.Name, err)
		return false
	}

	// Only chain members not already guaranteed by the instruction's
	// constraints need runtime guards.
	var depends *Constraint
	for _, link := range chain {
		oneof := link.Field.GetOneOf()
		if oneof == nil {
			continue
		}
		if prev, ok := e.oneofMembers[oneofKey(link.Path, oneof)]; ok && prev.Field == link.Field {
			continue
		}
		depends = &Constraint{
			Pos:       pos,
			Field:     link.Field,
			Path:      link.Path,
			Op:        OpHas,
			Value:     expr.Int32Value(link.Field.GetNumber()),
			DependsOn: depends,
		}
	}

	e.Setters = append(e.Setters, &Setter{
		Pos:       pos,
		Name:      name,
		Field:     field,
		Path:      path,
		Kind:      kind,
		IfNot:     ifNot,
		DependsOn: depends,
	})
	return true
}

// DeepCopy clones the encoding, its constraints and setters.
func (e *Encoding) DeepCopy() *Encoding {
	clone := NewEncoding(e.Name, e.Message, e.Pos)
	for _, c := range e.Equality {
		clone.Equality = append(clone.Equality, c.DeepCopy())
	}
	for _, c := range e.Other {
		clone.Other = append(clone.Other, c.DeepCopy())
	}
	for _, s := range e.Setters {
		clone.Setters = append(clone.Setters, s.DeepCopy())
	}
	for k, c := range e.oneofMembers {
		clone.oneofMembers[k] = c
	}
	for k, s := range e.valueSets {
		clone.valueSets[k] = s.DeepCopy()
	}
	return clone
}

// RemoveEqualityConstraint drops the equality constraint with the
// given partition key, used when a child group peels the
// differentiator off an inherited encoding.
func (e *Encoding) RemoveEqualityConstraint(key string) {
	for i, c := range e.Equality {
		if partitionKey(c) == key {
			e.Equality = append(e.Equality[:i], e.Equality[i+1:]...)
			return
		}
	}
}

// coerceValue converts an integer literal between the integral kinds
// when it fits; parsing produces int64 literals by default.
func coerceValue(v expr.Value, kind expr.Kind) (expr.Value, bool) {
	if !v.Kind.Integral() || !kind.Integral() && kind != expr.KindBool {
		return v, false
	}
	n, err := v.Int()
	if err != nil {
		return v, false
	}
	switch kind {
	case expr.KindInt32:
		if n < -1<<31 || n > 1<<31-1 {
			return v, false
		}
		return expr.Int32Value(int32(n)), true
	case expr.KindInt64:
		return expr.IntValue(n), true
	case expr.KindUint32:
		if n < 0 || n > 1<<32-1 {
			return v, false
		}
		return expr.Uint32Value(uint32(n)), true
	case expr.KindUint64:
		if n < 0 {
			return v, false
		}
		return expr.UintValue(uint64(n)), true
	case expr.KindBool:
		return expr.BoolValue(n != 0), true
	}
	return v, false
}
