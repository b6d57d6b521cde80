package protofmt

import (
	"fmt"
	"strings"

	"github.com/simforge/isagen/pkg/gen/expr"
)

// SubRange is one contiguous interval of a value set. Nil endpoints
// mark the empty range; FromConstraint always materializes the type
// extremes so non-empty ranges carry concrete endpoints.
type SubRange struct {
	Min     *expr.Value
	Max     *expr.Value
	MinIncl bool
	MaxIncl bool
}

// Empty reports whether the subrange holds no values.
func (r *SubRange) Empty() bool {
	return r.Min == nil && r.Max == nil
}

// DeepCopy clones the subrange and its endpoint values.
func (r *SubRange) DeepCopy() *SubRange {
	clone := &SubRange{MinIncl: r.MinIncl, MaxIncl: r.MaxIncl}
	if r.Min != nil {
		v := *r.Min
		clone.Min = &v
	}
	if r.Max != nil {
		v := *r.Max
		clone.Max = &v
	}
	return clone
}

func (r *SubRange) String() string {
	if r.Empty() {
		return "()"
	}
	var b strings.Builder
	if r.MinIncl {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	b.WriteString(r.Min.String())
	b.WriteByte(',')
	b.WriteString(r.Max.String())
	if r.MaxIncl {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}

// ValueSet is a union of subranges over one value kind. Union is kept
// non-canonical; intersection prunes empty results as it goes.
type ValueSet struct {
	Kind   expr.Kind
	Ranges []*SubRange
}

// NewValueSet creates an empty set of the given kind.
func NewValueSet(kind expr.Kind) *ValueSet {
	return &ValueSet{Kind: kind}
}

// FromConstraint builds the value set matched by one comparison
// against a literal:
//
//	Eq v  -> [v,v]        Ne v -> [min,v) u (v,max]
//	Lt v  -> [min,v)      Le v -> [min,v]
//	Gt v  -> (v,max]      Ge v -> [v,max]
//
// Has constraints use the member's field number as the literal and
// reduce to Eq.
func FromConstraint(op Op, v expr.Value) (*ValueSet, error) {
	set := NewValueSet(v.Kind)

	if op == OpEq || op == OpHas {
		set.Ranges = append(set.Ranges, pointRange(v))
		return set, nil
	}

	lo, hi, err := kindExtremes(v.Kind)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpNe:
		set.Ranges = append(set.Ranges,
			&SubRange{Min: &lo, MinIncl: true, Max: dup(v), MaxIncl: false},
			&SubRange{Min: dup(v), MinIncl: false, Max: &hi, MaxIncl: true})
	case OpLt:
		set.Ranges = append(set.Ranges,
			&SubRange{Min: &lo, MinIncl: true, Max: dup(v), MaxIncl: false})
	case OpLe:
		set.Ranges = append(set.Ranges,
			&SubRange{Min: &lo, MinIncl: true, Max: dup(v), MaxIncl: true})
	case OpGt:
		set.Ranges = append(set.Ranges,
			&SubRange{Min: dup(v), MinIncl: false, Max: &hi, MaxIncl: true})
	case OpGe:
		set.Ranges = append(set.Ranges,
			&SubRange{Min: dup(v), MinIncl: true, Max: &hi, MaxIncl: true})
	default:
		return nil, fmt.Errorf("constraint operator %v has no value set", op)
	}
	return set, nil
}

func pointRange(v expr.Value) *SubRange {
	return &SubRange{Min: dup(v), MinIncl: true, Max: dup(v), MaxIncl: true}
}

func dup(v expr.Value) *expr.Value {
	c := v
	return &c
}

// Empty reports whether no subrange holds a value.
func (s *ValueSet) Empty() bool {
	for _, r := range s.Ranges {
		if !r.Empty() {
			return false
		}
	}
	return true
}

// DeepCopy clones the set.
func (s *ValueSet) DeepCopy() *ValueSet {
	clone := NewValueSet(s.Kind)
	for _, r := range s.Ranges {
		clone.Ranges = append(clone.Ranges, r.DeepCopy())
	}
	return clone
}

// IntersectWith replaces the receiver's ranges with the pairwise
// intersection against the other set. Mixing kinds is an error.
func (s *ValueSet) IntersectWith(other *ValueSet) error {
	if s.Kind != other.Kind {
		return fmt.Errorf("cannot intersect value sets of kinds %s and %s", s.Kind, other.Kind)
	}

	var out []*SubRange
	for _, a := range s.Ranges {
		for _, b := range other.Ranges {
			r, err := intersectRanges(a, b)
			if err != nil {
				return err
			}
			if r != nil {
				out = append(out, r)
			}
		}
	}
	s.Ranges = out
	return nil
}

// intersectRanges returns the overlap of two subranges, or nil when
// they are disjoint or meet only in an excluded point.
func intersectRanges(a, b *SubRange) (*SubRange, error) {
	if a.Empty() || b.Empty() {
		return nil, nil
	}

	lo, loIncl := a.Min, a.MinIncl
	c, err := expr.Compare(*b.Min, *lo)
	if err != nil {
		return nil, err
	}
	switch {
	case c > 0:
		lo, loIncl = b.Min, b.MinIncl
	case c == 0:
		loIncl = loIncl && b.MinIncl
	}

	hi, hiIncl := a.Max, a.MaxIncl
	c, err = expr.Compare(*b.Max, *hi)
	if err != nil {
		return nil, err
	}
	switch {
	case c < 0:
		hi, hiIncl = b.Max, b.MaxIncl
	case c == 0:
		hiIncl = hiIncl && b.MaxIncl
	}

	c, err = expr.Compare(*lo, *hi)
	if err != nil {
		return nil, err
	}
	if c > 0 {
		return nil, nil
	}
	if c == 0 && !(loIncl && hiIncl) {
		return nil, nil
	}

	out := &SubRange{MinIncl: loIncl, MaxIncl: hiIncl}
	out.Min = dup(*lo)
	out.Max = dup(*hi)
	return out, nil
}

// UnionWith appends clones of the other set's ranges. No
// canonicalization is attempted.
func (s *ValueSet) UnionWith(other *ValueSet) error {
	if s.Kind != other.Kind {
		return fmt.Errorf("cannot union value sets of kinds %s and %s", s.Kind, other.Kind)
	}
	for _, r := range other.Ranges {
		s.Ranges = append(s.Ranges, r.DeepCopy())
	}
	return nil
}

func (s *ValueSet) String() string {
	parts := make([]string, 0, len(s.Ranges))
	for _, r := range s.Ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, " u ")
}
