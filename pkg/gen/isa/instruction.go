package isa

import (
	"github.com/simforge/isagen/pkg/gen/expr"
)

// Instruction wraps one opcode for one slot, carrying the per-slot
// attributes the opcode identity does not: disassembly formats, the
// semantic-function binding, resource references and the attribute
// map. Child instructions mirror the opcode's child chain.
type Instruction struct {
	Opcode      *Opcode
	Slot        *Slot
	Size        *expr.Expr
	Disasm      []*DisasmFormat
	Semfunc     string
	UseRefs     []*ResourceRef
	AcquireRefs []*ResourceRef
	HoldRefs    []*ResourceRef
	Attributes  map[string]*expr.Expr
	Child       *Instruction

	// Template-argument bindings accumulated along the inheritance
	// path. Expressions held on the shared opcode (destination
	// latencies) evaluate through this map.
	Subst expr.Subst
}

// newInstruction builds an instruction for the given opcode with the
// slot's defaults applied.
func newInstruction(op *Opcode, slot *Slot) *Instruction {
	inst := &Instruction{
		Opcode:     op,
		Slot:       slot,
		Attributes: map[string]*expr.Expr{},
		Subst:      expr.Subst{},
	}
	for name, e := range slot.DefaultAttributes {
		inst.Attributes[name] = e.DeepCopy()
	}
	return inst
}

// DeepCopy clones the instruction chain and every owned expression,
// so inherited instructions never alias their base slot's trees.
func (i *Instruction) DeepCopy() *Instruction {
	if i == nil {
		return nil
	}

	clone := &Instruction{
		Opcode:  i.Opcode,
		Slot:    i.Slot,
		Size:    i.Size.DeepCopy(),
		Semfunc: i.Semfunc,
		Disasm:  i.Disasm,
	}

	clone.Attributes = make(map[string]*expr.Expr, len(i.Attributes))
	for name, e := range i.Attributes {
		clone.Attributes[name] = e.DeepCopy()
	}

	clone.Subst = make(expr.Subst, len(i.Subst))
	for name, e := range i.Subst {
		clone.Subst[name] = e
	}

	clone.UseRefs = copyRefs(i.UseRefs)
	clone.AcquireRefs = copyRefs(i.AcquireRefs)
	clone.HoldRefs = copyRefs(i.HoldRefs)
	clone.Child = i.Child.DeepCopy()

	return clone
}

func copyRefs(refs []*ResourceRef) []*ResourceRef {
	if refs == nil {
		return nil
	}
	out := make([]*ResourceRef, len(refs))
	for i, r := range refs {
		out[i] = r.DeepCopy()
	}
	return out
}

// AllRefs iterates the three reference lists in use, acquire, hold
// order.
func (i *Instruction) AllRefs() []*ResourceRef {
	out := make([]*ResourceRef, 0, len(i.UseRefs)+len(i.AcquireRefs)+len(i.HoldRefs))
	out = append(out, i.UseRefs...)
	out = append(out, i.AcquireRefs...)
	out = append(out, i.HoldRefs...)
	return out
}
