package isa

import (
	"fmt"

	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/names"
)

// DefaultOpcodeName is the unique fallback opcode used when a decode
// matches no instruction.
const DefaultOpcodeName = "none"

// OperandLocator addresses one operand inside a possibly multi-part
// opcode: the operand-spec block number, the operand kind ('p', 's'
// or 'd') and the position within that kind's list.
type OperandLocator struct {
	OpSpecNumber int
	Kind         byte
	Instance     int
}

// DestOperand is one destination operand descriptor. A wildcard
// latency ('*') is resolved by the simulator at decode time through
// GetLatency.
type DestOperand struct {
	Name     string
	Latency  *expr.Expr
	Wildcard bool
}

// DeepCopy clones the descriptor and its latency expression.
func (d *DestOperand) DeepCopy() *DestOperand {
	clone := *d
	clone.Latency = d.Latency.DeepCopy()
	return &clone
}

// Opcode is the identity of an instruction: its name, operand shape
// and attributes. Multi-part opcode specifications chain through
// Child.
type Opcode struct {
	Name       string
	PredOp     string
	SrcOps     []string
	DestOps    []*DestOperand
	Locators   map[string]OperandLocator
	Size       *expr.Expr
	Attributes map[string]*expr.Expr
	Child      *Opcode
}

// PascalName returns the opcode name in the case used for enum
// members.
func (o *Opcode) PascalName() string {
	return names.PascalCase(o.Name)
}

// OpcodeFactory creates the unique opcodes of one instruction set.
// The "none" opcode always exists and is first in creation order.
type OpcodeFactory struct {
	byName map[string]*Opcode
	order  []*Opcode
}

// NewOpcodeFactory creates a factory holding only the default opcode.
func NewOpcodeFactory() *OpcodeFactory {
	f := &OpcodeFactory{byName: map[string]*Opcode{}}
	def := &Opcode{
		Name:       DefaultOpcodeName,
		Locators:   map[string]OperandLocator{},
		Attributes: map[string]*expr.Expr{},
	}
	f.byName[DefaultOpcodeName] = def
	f.order = append(f.order, def)
	return f
}

// Default returns the unique fallback opcode.
func (f *OpcodeFactory) Default() *Opcode {
	return f.byName[DefaultOpcodeName]
}

// Create makes a fresh opcode. A duplicate name is an error; the
// caller reports it with a back-reference to the earlier definition.
func (f *OpcodeFactory) Create(name string) (*Opcode, error) {
	if _, ok := f.byName[name]; ok {
		return nil, fmt.Errorf("opcode '%s' already defined", name)
	}
	op := &Opcode{
		Name:       name,
		Locators:   map[string]OperandLocator{},
		Attributes: map[string]*expr.Expr{},
	}
	f.byName[name] = op
	f.order = append(f.order, op)
	return op, nil
}

// Lookup returns the named opcode, or nil.
func (f *OpcodeFactory) Lookup(name string) *Opcode {
	return f.byName[name]
}

// All returns the opcodes in creation order; the default opcode is
// index 0 so that OpcodeEnum::kNone is zero in the emitted code.
func (f *OpcodeFactory) All() []*Opcode {
	return f.order
}
