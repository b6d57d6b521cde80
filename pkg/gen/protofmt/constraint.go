package protofmt

import (
	"fmt"

	"github.com/jhump/protoreflect/desc"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
)

// Op enumerates the constraint comparison operators. Has asserts that
// a oneof alternative is the one present.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpHas
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpHas:
		return "has"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Constraint is one predicate on a field of the instruction message.
// For Has constraints Field is the oneof member being asserted and
// Value carries its field number. DependsOn chains the Has constraints
// that make Field reachable.
type Constraint struct {
	Pos   diag.Pos
	Field *desc.FieldDescriptor
	// Accessor path from the message root, e.g. "opc.subop.rd".
	Path      string
	Op        Op
	Expr      *expr.Expr
	Value     expr.Value
	DependsOn *Constraint
}

// Oneof returns the containing oneof for Has constraints, nil
// otherwise.
func (c *Constraint) Oneof() *desc.OneOfDescriptor {
	if c.Op != OpHas {
		return nil
	}
	return c.Field.GetOneOf()
}

// ValueSet derives the set of field values satisfying the constraint.
func (c *Constraint) ValueSet() (*ValueSet, error) {
	return FromConstraint(c.Op, c.Value)
}

// DeepCopy clones the constraint and its dependency chain. The field
// descriptor is shared; descriptors are immutable.
func (c *Constraint) DeepCopy() *Constraint {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Expr != nil {
		clone.Expr = c.Expr.DeepCopy()
	}
	clone.DependsOn = c.DependsOn.DeepCopy()
	return &clone
}

func (c *Constraint) String() string {
	if c.Op == OpHas {
		return fmt.Sprintf("has %s", c.Path)
	}
	return fmt.Sprintf("%s %s %s", c.Path, c.Op, c.Value.String())
}
