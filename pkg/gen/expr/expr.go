// Package expr implements the lazy constant-expression DAG used by
// parameterized slots, operand latencies and resource windows.
// Expressions are built once at parse time and evaluated later against
// a per-instantiation substitution of the slot's template formals.
package expr

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/simforge/isagen/pkg/gen/diag"
)

// Sentinel evaluation errors
var (
	ErrType          = errors.New("type mismatch")
	ErrDivByZero     = errors.New("division by zero")
	ErrUnresolved    = errors.New("unresolved formal")
	ErrUnknownFunc   = errors.New("unknown function")
	ErrArityMismatch = errors.New("arity mismatch")
)

// Op tags the expression node variants.
type Op int

const (
	OpConstant Op = iota
	OpParam
	OpNegate
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpCall
)

// Expr is one node of the expression DAG. Operand count is fixed by
// Op: none for Constant/Param, one for Negate, two for the arithmetic
// ops, and the call arity for Call.
type Expr struct {
	Op     Op
	Const  Value
	Formal string
	Fn     string
	Args   []*Expr
	Pos    diag.Pos
}

// Subst binds template formals to the expressions supplied at the
// instantiation site.
type Subst map[string]*Expr

// Constant builds a constant node.
func Constant(v Value) *Expr {
	return &Expr{Op: OpConstant, Const: v}
}

// Int builds an int64 constant node.
func Int(v int64) *Expr {
	return Constant(IntValue(v))
}

// Param builds a reference to a template formal.
func Param(formal string, pos diag.Pos) *Expr {
	return &Expr{Op: OpParam, Formal: formal, Pos: pos}
}

// Negate builds a unary negation node.
func Negate(e *Expr) *Expr {
	return &Expr{Op: OpNegate, Args: []*Expr{e}}
}

// Add builds an addition node.
func Add(lhs, rhs *Expr) *Expr { return binop(OpAdd, lhs, rhs) }

// Sub builds a subtraction node.
func Sub(lhs, rhs *Expr) *Expr { return binop(OpSub, lhs, rhs) }

// Mul builds a multiplication node.
func Mul(lhs, rhs *Expr) *Expr { return binop(OpMul, lhs, rhs) }

// Div builds a division node.
func Div(lhs, rhs *Expr) *Expr { return binop(OpDiv, lhs, rhs) }

func binop(op Op, lhs, rhs *Expr) *Expr {
	return &Expr{Op: op, Args: []*Expr{lhs, rhs}}
}

// DeepCopy returns a structurally independent copy of the tree.
func (e *Expr) DeepCopy() *Expr {
	if e == nil {
		return nil
	}

	clone := *e
	clone.Args = make([]*Expr, len(e.Args))
	for i, arg := range e.Args {
		clone.Args[i] = arg.DeepCopy()
	}

	return &clone
}

// IsConstant reports whether no Param node is reachable from e.
func (e *Expr) IsConstant() bool {
	if e == nil {
		return true
	}
	if e.Op == OpParam {
		return false
	}
	for _, arg := range e.Args {
		if !arg.IsConstant() {
			return false
		}
	}
	return true
}

// Substitute returns a copy of e with every Param node bound in subst
// replaced by a deep copy of its binding. Unbound params are kept, so
// chained template instantiation composes structurally.
func Substitute(e *Expr, subst Subst) *Expr {
	if e == nil {
		return nil
	}

	if e.Op == OpParam {
		if bound, ok := subst[e.Formal]; ok {
			return bound.DeepCopy()
		}
		return e.DeepCopy()
	}

	clone := *e
	clone.Args = make([]*Expr, len(e.Args))
	for i, arg := range e.Args {
		clone.Args[i] = Substitute(arg, subst)
	}
	return &clone
}

// evalFunc is one entry of the engine's function table.
type evalFunc struct {
	arity int
	fn    func(args []Value) (Value, error)
}

// Engine owns the function table and the global-constant bindings for
// one generator run. It is not safe for concurrent use, matching the
// single-threaded traversal of the drivers.
type Engine struct {
	funcs   map[string]evalFunc
	globals map[string]*Expr
}

// NewEngine creates an engine pre-populated with the abs function.
func NewEngine() *Engine {
	e := &Engine{
		funcs:   map[string]evalFunc{},
		globals: map[string]*Expr{},
	}

	e.funcs["abs"] = evalFunc{
		arity: 1,
		fn: func(args []Value) (Value, error) {
			v, err := args[0].Int()
			if err != nil {
				return Value{}, err
			}
			if v < 0 {
				v = -v
			}
			return IntValue(v), nil
		},
	}

	return e
}

// Call builds a function-call node, validating the name and arity
// against the engine's function table.
func (eng *Engine) Call(name string, args []*Expr, pos diag.Pos) (*Expr, error) {
	entry, ok := eng.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownFunc, name)
	}
	if entry.arity != len(args) {
		return nil, fmt.Errorf("%w: '%s' takes %d argument(s), got %d",
			ErrArityMismatch, name, entry.arity, len(args))
	}
	return &Expr{Op: OpCall, Fn: name, Args: args, Pos: pos}, nil
}

// BindGlobal records a named global constant expression. Param nodes
// fall back to globals when the substitution has no binding.
func (eng *Engine) BindGlobal(name string, e *Expr) {
	eng.globals[name] = e
}

// Value evaluates the expression against the given substitution.
// Integer arithmetic is exact two's-complement on int64.
func (eng *Engine) Value(e *Expr, subst Subst) (Value, error) {
	switch e.Op {
	case OpConstant:
		return e.Const, nil

	case OpParam:
		if bound, ok := subst[e.Formal]; ok {
			return eng.Value(bound, subst)
		}
		if bound, ok := eng.globals[e.Formal]; ok {
			return eng.Value(bound, subst)
		}
		return Value{}, fmt.Errorf("%w: '%s' at %s", ErrUnresolved, e.Formal, e.Pos)

	case OpNegate:
		v, err := eng.Value(e.Args[0], subst)
		if err != nil {
			return Value{}, err
		}
		i, err := v.Int()
		if err != nil {
			return Value{}, err
		}
		return IntValue(-i), nil

	case OpAdd, OpSub, OpMul, OpDiv:
		lhs, err := eng.Value(e.Args[0], subst)
		if err != nil {
			return Value{}, err
		}
		rhs, err := eng.Value(e.Args[1], subst)
		if err != nil {
			return Value{}, err
		}
		return arith(e.Op, lhs, rhs)

	case OpCall:
		args := make([]Value, len(e.Args))
		for i, arg := range e.Args {
			v, err := eng.Value(arg, subst)
			if err != nil {
				return Value{}, err
			}
			args[i] = v
		}
		return eng.funcs[e.Fn].fn(args)
	}

	return Value{}, fmt.Errorf("%w: bad expression op %d", ErrType, e.Op)
}

// IntValueOf evaluates the expression and narrows it to int64.
func (eng *Engine) IntValueOf(e *Expr, subst Subst) (int64, error) {
	v, err := eng.Value(e, subst)
	if err != nil {
		return 0, err
	}
	return v.Int()
}

func arith(op Op, lhs, rhs Value) (Value, error) {
	l, err := lhs.Int()
	if err != nil {
		return Value{}, err
	}
	r, err := rhs.Int()
	if err != nil {
		return Value{}, err
	}

	switch op {
	case OpAdd:
		return IntValue(l + r), nil
	case OpSub:
		return IntValue(l - r), nil
	case OpMul:
		return IntValue(l * r), nil
	case OpDiv:
		if r == 0 {
			return Value{}, ErrDivByZero
		}
		return IntValue(l / r), nil
	}
	return Value{}, fmt.Errorf("%w: op %d is not arithmetic", ErrType, op)
}

func cmp[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
