package isa

import (
	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/names"
)

// BaseRef records one resolved base slot together with the template
// arguments supplied at the deriving slot.
type BaseRef struct {
	Slot *Slot
	Args []*expr.Expr
}

// Slot is a named, possibly parameterized container of instructions.
type Slot struct {
	Name      string
	Templated bool
	Formals   []string
	Size      int
	Bases     []*BaseRef

	DefaultSize        *expr.Expr
	DefaultLatency     *expr.Expr
	DefaultAttributes  map[string]*expr.Expr
	DefaultInstruction *Instruction

	Instructions []*Instruction
	byOpcode     map[string]int

	// Resource-spec snapshots by name, referenced from opcode specs.
	ResourceSpecs map[string]*ResourceSpecCtx
}

// newSlot builds an empty slot from its declaration.
func newSlot(decl *SlotDeclCtx) *Slot {
	return &Slot{
		Name:              decl.Name,
		Templated:         decl.Templated,
		Formals:           decl.Formals,
		Size:              decl.Size,
		DefaultSize:       expr.Int(1),
		DefaultLatency:    expr.Int(0),
		DefaultAttributes: map[string]*expr.Expr{},
		byOpcode:          map[string]int{},
		ResourceSpecs:     decl.Resources,
	}
}

// PascalName returns the slot name in the case used for enum members.
func (s *Slot) PascalName() string {
	return names.PascalCase(s.Name)
}

// AppendInstruction adds an instruction, replacing any earlier one
// with the same opcode name (used by overrides).
func (s *Slot) AppendInstruction(inst *Instruction) {
	if idx, ok := s.byOpcode[inst.Opcode.Name]; ok {
		s.Instructions[idx] = inst
		return
	}
	s.byOpcode[inst.Opcode.Name] = len(s.Instructions)
	s.Instructions = append(s.Instructions, inst)
}

// Instruction returns the instruction for the given opcode name.
func (s *Slot) Instruction(opcodeName string) *Instruction {
	if idx, ok := s.byOpcode[opcodeName]; ok {
		return s.Instructions[idx]
	}
	return nil
}
