package isa

import (
	"sort"
)

// InstructionSet is the root of the materialized semantic model: a
// top-level bundle named after the ISA, plus the maps and factories
// shared by all visitors.
type InstructionSet struct {
	Name       string
	Namespaces []string
	Top        *Bundle

	Bundles map[string]*Bundle
	Slots   map[string]*Slot

	Opcodes   *OpcodeFactory
	Resources *ResourcePool

	// Disassembly field widths by positional index.
	DisasmWidths []int

	attrNames map[string]bool
}

// NewInstructionSet creates an empty instruction set.
func NewInstructionSet(name string) *InstructionSet {
	return &InstructionSet{
		Name:      name,
		Bundles:   map[string]*Bundle{},
		Slots:     map[string]*Slot{},
		Opcodes:   NewOpcodeFactory(),
		Resources: NewResourcePool(),
		attrNames: map[string]bool{},
	}
}

// AddAttributeName records an attribute name seen anywhere in the
// set. The registry is scoped to the instance so unrelated ISAs can
// be generated in one process.
func (s *InstructionSet) AddAttributeName(name string) {
	s.attrNames[name] = true
}

// AttributeNames returns the recorded attribute names, sorted.
func (s *InstructionSet) AttributeNames() []string {
	out := make([]string, 0, len(s.attrNames))
	for name := range s.attrNames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SlotOrder returns the materialized slots sorted by name, the order
// used for SlotEnum.
func (s *InstructionSet) SlotOrder() []*Slot {
	out := make([]*Slot, 0, len(s.Slots))
	for _, slot := range s.Slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AnalyzeResourceUse partitions the named resources into simple and
// complex classes. A resource stays simple while every reference to
// it is a plain use over the instruction's full window; any acquire
// or hold, or any explicit window, makes it complex.
func (s *InstructionSet) AnalyzeResourceUse() {
	for _, slot := range s.Slots {
		for _, inst := range slot.Instructions {
			for chain := inst; chain != nil; chain = chain.Child {
				for _, ref := range chain.AllRefs() {
					if ref.Kind != ResourceUse || ref.HasWindow {
						ref.Resource.Complex = true
					}
				}
			}
		}
	}
}

// OperandEnums collects the distinct predicate, source and
// destination operand names across all opcodes, sorted, for the
// PredOpEnum / SourceOpEnum / DestOpEnum emission.
func (s *InstructionSet) OperandEnums() (pred, src, dest []string) {
	predSet := map[string]bool{}
	srcSet := map[string]bool{}
	destSet := map[string]bool{}

	for _, op := range s.Opcodes.All() {
		for chain := op; chain != nil; chain = chain.Child {
			if chain.PredOp != "" {
				predSet[chain.PredOp] = true
			}
			for _, name := range chain.SrcOps {
				srcSet[name] = true
			}
			for _, d := range chain.DestOps {
				destSet[d.Name] = true
			}
		}
	}

	return sortedNames(predSet), sortedNames(srcSet), sortedNames(destSet)
}

func sortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
