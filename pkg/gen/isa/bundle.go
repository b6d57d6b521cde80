package isa

import "github.com/simforge/isagen/pkg/gen/names"

// SlotUse is one bundle's reference to a slot with the instance
// indices it occupies.
type SlotUse struct {
	Slot      *Slot
	Instances []int
}

// Bundle is a named grouping of slots and sub-bundles; the top-level
// bundle of an instruction set carries the ISA name.
type Bundle struct {
	Name    string
	Bundles []*Bundle
	Slots   []*SlotUse
}

// PascalName returns the bundle name in the case used for generated
// symbols.
func (b *Bundle) PascalName() string {
	return names.PascalCase(b.Name)
}

// FlattenSlots returns every slot use reachable from the bundle,
// depth-first, sub-bundles before own slots.
func (b *Bundle) FlattenSlots() []*SlotUse {
	var out []*SlotUse
	for _, sub := range b.Bundles {
		out = append(out, sub.FlattenSlots()...)
	}
	out = append(out, b.Slots...)
	return out
}
