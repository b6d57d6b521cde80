package isa

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/lex"
)

// Visitor drives the ISA pipeline: it catalogues declarations,
// expands includes, and materializes the requested instruction set.
type Visitor struct {
	sink        *diag.Sink
	logger      *slog.Logger
	engine      *expr.Engine
	includeDirs []string

	slotDecls   map[string]*SlotDeclCtx
	bundleDecls map[string]*BundleDeclCtx
	isaDecls    map[string]*IsaDeclCtx
	constDecls  map[string]*ConstCtx

	widths *DisasmWidthsCtx

	includeStack []string

	set *InstructionSet

	slotState   map[string]int // 0 unseen, 1 building, 2 done
	bundleState map[string]int
}

// NewVisitor creates a visitor. includeDirs is searched after the
// current directory when resolving includes.
func NewVisitor(engine *expr.Engine, sink *diag.Sink, logger *slog.Logger, includeDirs []string) *Visitor {
	return &Visitor{
		sink:        sink,
		logger:      logger,
		engine:      engine,
		includeDirs: includeDirs,
		slotDecls:   map[string]*SlotDeclCtx{},
		bundleDecls: map[string]*BundleDeclCtx{},
		isaDecls:    map[string]*IsaDeclCtx{},
		constDecls:  map[string]*ConstCtx{},
		slotState:   map[string]int{},
		bundleState: map[string]int{},
	}
}

// ProcessFile parses and catalogues one top-level source file and,
// recursively, everything it includes.
func (v *Visitor) ProcessFile(fileName string) error {
	file, err := v.parseFile(fileName)
	if err != nil {
		return err
	}

	v.includeStack = append(v.includeStack, filepath.Clean(fileName))
	defer func() { v.includeStack = v.includeStack[:len(v.includeStack)-1] }()

	v.catalogue(file, true)
	return nil
}

func (v *Visitor) parseFile(fileName string) (*SourceFileCtx, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("cannot open '%s': %w", fileName, err)
	}

	v.logger.Debug("parsing isa file", "file", fileName)
	v.sink.PushFile(fileName)
	defer v.sink.PopFile()

	tokens := lex.NewLexer(fileName, string(data), v.sink).Tokens()
	return NewParser(tokens, v.engine, v.sink).Parse(fileName), nil
}

// catalogue populates the declaration maps from one parsed file and
// expands its includes depth first. Duplicate names are semantic
// errors naming the earlier declaration.
func (v *Visitor) catalogue(file *SourceFileCtx, topLevel bool) {
	for _, c := range file.Consts {
		if prev, ok := v.constDecls[c.Name]; ok {
			v.sink.Errorf(diag.ClassSemantic, c.Pos,
				"duplicate constant '%s'; earlier definition at %s", c.Name, prev.Pos)
			continue
		}
		v.constDecls[c.Name] = c
		v.engine.BindGlobal(c.Name, c.Expr)
	}

	if file.Widths != nil {
		switch {
		case !topLevel:
			// Widths inside includes are ignored.
		case v.widths != nil:
			v.sink.Errorf(diag.ClassSemantic, file.Widths.Pos,
				"duplicate disasm widths declaration; earlier declaration at %s", v.widths.Pos)
		default:
			v.widths = file.Widths
		}
	}

	for _, d := range file.Isas {
		if prev, ok := v.isaDecls[d.Name]; ok {
			v.sink.Errorf(diag.ClassSemantic, d.Pos,
				"duplicate isa '%s'; earlier definition at %s", d.Name, prev.Pos)
			continue
		}
		v.isaDecls[d.Name] = d
	}

	for _, d := range file.Bundles {
		if prev, ok := v.bundleDecls[d.Name]; ok {
			v.sink.Errorf(diag.ClassSemantic, d.Pos,
				"duplicate bundle '%s'; earlier definition at %s", d.Name, prev.Pos)
			continue
		}
		v.bundleDecls[d.Name] = d
	}

	for _, d := range file.Slots {
		if prev, ok := v.slotDecls[d.Name]; ok {
			v.sink.Errorf(diag.ClassSemantic, d.Pos,
				"duplicate slot '%s'; earlier definition at %s", d.Name, prev.Pos)
			continue
		}
		v.slotDecls[d.Name] = d
	}

	for _, inc := range file.Includes {
		v.expandInclude(inc)
	}
}

// expandInclude resolves, parses and catalogues one included file. A
// file including itself, directly or through other includes, is a
// semantic error and is not re-entered.
func (v *Visitor) expandInclude(inc *IncludeCtx) {
	path, err := v.findInclude(inc.FileName)
	if err != nil {
		v.sink.Errorf(diag.ClassSemantic, inc.Pos, "%v", err)
		return
	}

	// Compare resolved paths, not names: distinct files may share a
	// base name across include directories.
	path = filepath.Clean(path)
	for _, inFlight := range v.includeStack {
		if inFlight == path {
			v.sink.Errorf(diag.ClassSemantic, inc.Pos,
				"recursive include of '%s'", inc.FileName)
			return
		}
	}

	v.includeStack = append(v.includeStack, path)
	defer func() { v.includeStack = v.includeStack[:len(v.includeStack)-1] }()

	file, err := v.parseFile(path)
	if err != nil {
		v.sink.Errorf(diag.ClassSemantic, inc.Pos, "%v", err)
		return
	}
	v.catalogue(file, false)
}

// findInclude searches the current directory, then the include
// directories, for the named file.
func (v *Visitor) findInclude(name string) (string, error) {
	dirs := append([]string{"."}, v.includeDirs...)
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("include file '%s' not found", name)
}

// Instantiate materializes the named instruction set. The name must
// have been catalogued; an unknown name is fatal.
func (v *Visitor) Instantiate(isaName string) (*InstructionSet, error) {
	decl, ok := v.isaDecls[isaName]
	if !ok {
		return nil, fmt.Errorf("isa '%s' is not defined in the input files", isaName)
	}

	v.set = NewInstructionSet(isaName)
	v.set.Namespaces = decl.Namespaces
	v.resolveWidths()

	top := &Bundle{Name: isaName}
	for _, name := range decl.Bundles {
		if b := v.visitBundle(name, decl.Pos); b != nil {
			top.Bundles = append(top.Bundles, b)
		}
	}
	for _, ref := range decl.Slots {
		if use := v.visitSlotUse(ref); use != nil {
			top.Slots = append(top.Slots, use)
		}
	}
	v.set.Top = top
	v.set.Bundles[top.Name] = top

	v.set.AnalyzeResourceUse()
	return v.set, nil
}

func (v *Visitor) resolveWidths() {
	if v.widths == nil {
		return
	}
	for _, e := range v.widths.Widths {
		w, err := v.engine.IntValueOf(e, nil)
		if err != nil {
			v.sink.Errorf(diag.ClassSemantic, v.widths.Pos, "bad disasm width: %v", err)
			continue
		}
		v.set.DisasmWidths = append(v.set.DisasmWidths, int(w))
	}
}

func (v *Visitor) width(index int) int {
	if v.set == nil || index >= len(v.set.DisasmWidths) {
		return 0
	}
	return v.set.DisasmWidths[index]
}

// visitBundle materializes one bundle, memoized by name.
func (v *Visitor) visitBundle(name string, refPos diag.Pos) *Bundle {
	if b, ok := v.set.Bundles[name]; ok {
		return b
	}

	decl, ok := v.bundleDecls[name]
	if !ok {
		v.sink.Errorf(diag.ClassSemantic, refPos, "undefined bundle '%s'", name)
		return nil
	}

	if v.bundleState[name] == 1 {
		v.sink.Errorf(diag.ClassSemantic, refPos, "bundle '%s' references itself", name)
		return nil
	}
	v.bundleState[name] = 1

	bundle := &Bundle{Name: name}
	for _, sub := range decl.Bundles {
		if b := v.visitBundle(sub, decl.Pos); b != nil {
			bundle.Bundles = append(bundle.Bundles, b)
		}
	}
	for _, ref := range decl.Slots {
		if use := v.visitSlotUse(ref); use != nil {
			bundle.Slots = append(bundle.Slots, use)
		}
	}

	v.bundleState[name] = 2
	v.set.Bundles[name] = bundle
	return bundle
}

// visitSlotUse resolves one slot reference from an isa or bundle
// declaration, expanding instance ranges and validating them against
// the slot size and the default-instruction invariant.
func (v *Visitor) visitSlotUse(ref *SlotRefCtx) *SlotUse {
	slot := v.visitSlot(ref.Name, ref.Pos)
	if slot == nil {
		return nil
	}

	if slot.DefaultInstruction == nil || slot.DefaultInstruction.Semfunc == "" {
		v.sink.Errorf(diag.ClassSemantic, ref.Pos,
			"slot '%s' is referenced by a bundle but has no default opcode semfunc", ref.Name)
	}

	use := &SlotUse{Slot: slot}
	first, last := ref.First, ref.Last
	for i := first; i <= last; i++ {
		if i >= slot.Size {
			v.sink.Errorf(diag.ClassSemantic, ref.Pos,
				"slot instance %d out of range for slot '%s' of size %d", i, ref.Name, slot.Size)
			continue
		}
		use.Instances = append(use.Instances, i)
	}
	if len(use.Instances) == 0 {
		return nil
	}
	return use
}

// visitSlot materializes one slot, memoized by name. Cyclic
// inheritance is detected through the building state.
func (v *Visitor) visitSlot(name string, refPos diag.Pos) *Slot {
	if s, ok := v.set.Slots[name]; ok && v.slotState[name] == 2 {
		return s
	}

	decl, ok := v.slotDecls[name]
	if !ok {
		v.sink.Errorf(diag.ClassSemantic, refPos, "undefined slot '%s'", name)
		return nil
	}

	if v.slotState[name] == 1 {
		v.sink.Errorf(diag.ClassSemantic, refPos,
			"cyclic inheritance involving slot '%s'", name)
		return nil
	}
	v.slotState[name] = 1

	slot := v.buildSlot(decl)
	v.slotState[name] = 2
	v.set.Slots[name] = slot
	return slot
}

// buildSlot materializes one slot declaration: defaults, base
// inheritance, and the opcode list.
func (v *Visitor) buildSlot(decl *SlotDeclCtx) *Slot {
	slot := newSlot(decl)
	v.logger.Debug("building slot", "slot", decl.Name)

	v.applyDefaults(slot, decl)
	v.resolveBases(slot, decl)
	v.assembleOpcodes(slot, decl)

	return slot
}

func (v *Visitor) applyDefaults(slot *Slot, decl *SlotDeclCtx) {
	d := decl.Defaults
	if d.Size != nil {
		slot.DefaultSize = d.Size
	}
	if d.Latency != nil {
		slot.DefaultLatency = d.Latency
	}
	for _, attr := range d.Attributes {
		slot.DefaultAttributes[attr.Name] = attr.Expr
		v.set.AddAttributeName(attr.Name)
	}

	if len(d.Semfunc) > 0 || len(d.Disasm) > 0 {
		inst := newInstruction(v.set.Opcodes.Default(), slot)
		inst.Size = slot.DefaultSize.DeepCopy()
		if len(d.Semfunc) > 0 {
			inst.Semfunc = d.Semfunc[0]
		}
		for i, format := range d.Disasm {
			if f := ParseDisasmFormat(format, decl.Pos, inst.Opcode.Locators, v.width(i), v.sink); f != nil {
				inst.Disasm = append(inst.Disasm, f)
			}
		}
		slot.DefaultInstruction = inst
	}
}

// resolveBases visits each base slot and records it with the
// template arguments evaluated in the deriving slot's context.
func (v *Visitor) resolveBases(slot *Slot, decl *SlotDeclCtx) {
	for _, baseCtx := range decl.Bases {
		base := v.visitSlot(baseCtx.Name, baseCtx.Pos)
		if base == nil {
			continue
		}

		if base.Templated && len(baseCtx.Args) == 0 {
			v.sink.Errorf(diag.ClassSemantic, baseCtx.Pos,
				"base slot '%s' is templated; template arguments required", base.Name)
			continue
		}
		if !base.Templated && len(baseCtx.Args) > 0 {
			v.sink.Errorf(diag.ClassSemantic, baseCtx.Pos,
				"base slot '%s' is not templated; unexpected template arguments", base.Name)
			continue
		}
		if len(baseCtx.Args) != len(base.Formals) {
			v.sink.Errorf(diag.ClassSemantic, baseCtx.Pos,
				"base slot '%s' takes %d template argument(s), got %d",
				base.Name, len(base.Formals), len(baseCtx.Args))
			continue
		}

		slot.Bases = append(slot.Bases, &BaseRef{Slot: base, Args: baseCtx.Args})
	}
}

// assembleOpcodes builds the slot's instruction list: inherited
// opcodes minus deletions, overrides applied in place, declared
// opcodes appended.
func (v *Visitor) assembleOpcodes(slot *Slot, decl *SlotDeclCtx) {
	deleted := map[string]*OpcodeSpecCtx{}
	overrides := map[string]*OpcodeSpecCtx{}
	var declared []*OpcodeSpecCtx

	for _, spec := range decl.Opcodes {
		switch spec.Mod {
		case OpcodeDelete:
			deleted[spec.Name] = spec
		case OpcodeOverride:
			overrides[spec.Name] = spec
		default:
			declared = append(declared, spec)
		}
	}

	deletedSeen := map[string]bool{}
	inheritedFrom := map[string]string{}

	for _, baseRef := range slot.Bases {
		subst := expr.Subst{}
		for i, formal := range baseRef.Slot.Formals {
			subst[formal] = baseRef.Args[i]
		}

		for _, inst := range baseRef.Slot.Instructions {
			name := inst.Opcode.Name
			if _, isDeleted := deleted[name]; isDeleted {
				deletedSeen[name] = true
				continue
			}
			if prev, dup := inheritedFrom[name]; dup {
				if _, isOverride := overrides[name]; !isOverride {
					v.sink.Errorf(diag.ClassSemantic, decl.Pos,
						"opcode '%s' inherited from multiple bases ('%s' and '%s')",
						name, prev, baseRef.Slot.Name)
					continue
				}
				v.sink.Errorf(diag.ClassSemantic, overrides[name].Pos,
					"override of opcode '%s' is ambiguous: inherited from '%s' and '%s'",
					name, prev, baseRef.Slot.Name)
				continue
			}
			inheritedFrom[name] = baseRef.Slot.Name

			clone := inst.DeepCopy()
			substituteInstruction(clone, subst)
			for chain := clone; chain != nil; chain = chain.Child {
				chain.Slot = slot
				chain.Subst = composeSubst(chain.Subst, subst)
			}
			slot.AppendInstruction(clone)
		}
	}

	for name, spec := range deleted {
		if !deletedSeen[name] {
			v.sink.Errorf(diag.ClassSemantic, spec.Pos,
				"cannot delete opcode '%s': not defined by any base slot", name)
		}
	}

	for name, spec := range overrides {
		if _, ok := inheritedFrom[name]; !ok {
			v.sink.Errorf(diag.ClassSemantic, spec.Pos,
				"cannot override opcode '%s': not inherited from any base slot", name)
			continue
		}
		inherited := slot.Instruction(name)
		if inherited == nil {
			continue
		}
		v.applyInstructionAttrs(inherited, spec, slot)
	}

	for _, spec := range declared {
		if inst := v.buildInstruction(spec, slot); inst != nil {
			slot.AppendInstruction(inst)
		}
	}
}

// composeSubst rewrites an inherited substitution's expressions with
// the new bindings, then merges in the new bindings themselves. Used
// when templated slots derive from other templated slots.
func composeSubst(inherited, bindings expr.Subst) expr.Subst {
	out := make(expr.Subst, len(inherited)+len(bindings))
	for name, e := range inherited {
		out[name] = expr.Substitute(e, bindings)
	}
	for name, e := range bindings {
		if _, ok := out[name]; !ok {
			out[name] = e
		}
	}
	return out
}

// substituteInstruction rewrites every owned expression of the
// inherited instruction chain in terms of the deriving slot.
func substituteInstruction(inst *Instruction, subst expr.Subst) {
	for chain := inst; chain != nil; chain = chain.Child {
		chain.Size = expr.Substitute(chain.Size, subst)
		for name, e := range chain.Attributes {
			chain.Attributes[name] = expr.Substitute(e, subst)
		}
		for _, refs := range [][]*ResourceRef{chain.UseRefs, chain.AcquireRefs, chain.HoldRefs} {
			for _, ref := range refs {
				ref.Begin = expr.Substitute(ref.Begin, subst)
				ref.End = expr.Substitute(ref.End, subst)
			}
		}
	}
}

// buildInstruction materializes a plain opcode specification.
func (v *Visitor) buildInstruction(spec *OpcodeSpecCtx, slot *Slot) *Instruction {
	op, err := v.set.Opcodes.Create(spec.Name)
	if err != nil {
		v.sink.Errorf(diag.ClassSemantic, spec.Pos, "%v", err)
		return nil
	}

	// Operand blocks: the first is the parent, the rest chain child
	// opcodes. The locator map lives on the parent and spans the
	// whole chain.
	current := op
	for blockNo, block := range spec.Operands {
		if blockNo > 0 {
			child := &Opcode{
				Name:       fmt.Sprintf("%s_%d", spec.Name, blockNo),
				Locators:   op.Locators,
				Attributes: map[string]*expr.Expr{},
			}
			current.Child = child
			current = child
		}
		v.populateOperands(op, current, block, blockNo, slot)
	}

	inst := newInstruction(op, slot)

	// Child instructions mirror the opcode chain.
	parent := inst
	for childOp := op.Child; childOp != nil; childOp = childOp.Child {
		child := newInstruction(childOp, slot)
		parent.Child = child
		parent = child
	}

	v.applyInstructionAttrs(inst, spec, slot)
	return inst
}

func (v *Visitor) populateOperands(parent, op *Opcode, block *OperandSpecCtx, blockNo int, slot *Slot) {
	addLocator := func(name string, kind byte, instance int) {
		if _, ok := parent.Locators[name]; ok {
			return
		}
		parent.Locators[name] = OperandLocator{
			OpSpecNumber: blockNo,
			Kind:         kind,
			Instance:     instance,
		}
	}

	if block.PredOp != "" {
		op.PredOp = block.PredOp
		addLocator(block.PredOp, 'p', 0)
	}
	for i, name := range block.SrcOps {
		op.SrcOps = append(op.SrcOps, name)
		addLocator(name, 's', i)
	}
	for i, d := range block.DestOps {
		dest := &DestOperand{Name: d.Name, Wildcard: d.Wildcard}
		if d.Latency != nil {
			dest.Latency = d.Latency
		} else if !d.Wildcard {
			dest.Latency = slot.DefaultLatency.DeepCopy()
		}
		op.DestOps = append(op.DestOps, dest)
		addLocator(d.Name, 'd', i)
	}
}

// applyInstructionAttrs applies an opcode spec's attribute block to
// an instruction: size, disasm, semfunc chain, resources and
// attributes. Used both for fresh instructions and for overrides,
// where the block replaces the inherited one.
func (v *Visitor) applyInstructionAttrs(inst *Instruction, spec *OpcodeSpecCtx, slot *Slot) {
	if spec.Size != nil {
		inst.Size = spec.Size.DeepCopy()
	} else if inst.Size == nil {
		inst.Size = slot.DefaultSize.DeepCopy()
	}
	for chain := inst.Child; chain != nil; chain = chain.Child {
		if chain.Size == nil {
			chain.Size = inst.Size.DeepCopy()
		}
	}

	if len(spec.Disasm) > 0 {
		inst.Disasm = nil
		for i, format := range spec.Disasm {
			if f := ParseDisasmFormat(format, spec.Pos, inst.Opcode.Locators, v.width(i), v.sink); f != nil {
				inst.Disasm = append(inst.Disasm, f)
			}
		}
	}

	if len(spec.Semfunc) > 0 {
		v.bindSemfuncs(inst, spec)
	}

	if spec.Resources != nil {
		inst.UseRefs, inst.AcquireRefs, inst.HoldRefs = nil, nil, nil
		v.bindResources(inst, spec.Resources, slot)
	} else if spec.ResourceRefName != "" {
		resSpec := v.lookupResourceSpec(slot, spec.ResourceRefName)
		if resSpec == nil {
			v.sink.Errorf(diag.ClassSemantic, spec.ResourceRefPos,
				"undefined resource spec '%s' in slot '%s'", spec.ResourceRefName, slot.Name)
		} else {
			inst.UseRefs, inst.AcquireRefs, inst.HoldRefs = nil, nil, nil
			v.bindResources(inst, resSpec, slot)
		}
	}

	if len(spec.Attributes) > 0 {
		for _, attr := range spec.Attributes {
			inst.Attributes[attr.Name] = attr.Expr.DeepCopy()
			v.set.AddAttributeName(attr.Name)
		}
	}
}

// bindSemfuncs assigns semantic functions positionally along the
// instruction's child chain. Count mismatches are warnings: extras
// are ignored, missing entries reported.
func (v *Visitor) bindSemfuncs(inst *Instruction, spec *OpcodeSpecCtx) {
	parts := 0
	for chain := inst; chain != nil; chain = chain.Child {
		parts++
	}

	i := 0
	for chain := inst; chain != nil; chain = chain.Child {
		if i < len(spec.Semfunc) {
			chain.Semfunc = spec.Semfunc[i]
		}
		i++
	}

	switch {
	case len(spec.Semfunc) > parts:
		v.sink.Warningf(spec.Pos,
			"opcode '%s' has %d semfunc specification(s) for %d instruction part(s); extras ignored",
			spec.Name, len(spec.Semfunc), parts)
	case len(spec.Semfunc) < parts:
		v.sink.Warningf(spec.Pos,
			"opcode '%s' has %d instruction part(s) but only %d semfunc specification(s)",
			spec.Name, parts, len(spec.Semfunc))
	}
}

func (v *Visitor) lookupResourceSpec(slot *Slot, name string) *ResourceSpecCtx {
	if spec, ok := slot.ResourceSpecs[name]; ok {
		return spec
	}
	for _, base := range slot.Bases {
		if spec := v.lookupResourceSpec(base.Slot, name); spec != nil {
			return spec
		}
	}
	return nil
}

// bindResources converts a resource spec into the instruction's
// use/acquire/hold lists, applying the window defaults.
func (v *Visitor) bindResources(inst *Instruction, spec *ResourceSpecCtx, slot *Slot) {
	for _, refCtx := range spec.Refs {
		ref := &ResourceRef{
			Resource:  v.set.Resources.GetOrInsert(refCtx.Name),
			Kind:      refCtx.Kind,
			HasWindow: refCtx.HasWindow,
		}

		if refCtx.Begin != nil {
			ref.Begin = refCtx.Begin.DeepCopy()
		} else {
			ref.Begin = expr.Int(0)
		}

		if refCtx.End != nil {
			ref.End = refCtx.End.DeepCopy()
		} else {
			end, ok := v.defaultWindowEnd(inst, refCtx, slot)
			if !ok {
				continue
			}
			ref.End = end
		}

		switch refCtx.Kind {
		case ResourceUse:
			inst.UseRefs = append(inst.UseRefs, ref)
		case ResourceAcquire:
			inst.AcquireRefs = append(inst.AcquireRefs, ref)
		case ResourceHold:
			inst.HoldRefs = append(inst.HoldRefs, ref)
		}
	}
}

// defaultWindowEnd resolves an omitted window end to the latency of
// the destination operand the resource names. More than one matching
// destination is an error, as is a decode-time (wildcard) latency.
func (v *Visitor) defaultWindowEnd(inst *Instruction, refCtx *ResourceRefCtx, slot *Slot) (*expr.Expr, bool) {
	var match *DestOperand
	count := 0
	for chain := inst.Opcode; chain != nil; chain = chain.Child {
		for _, d := range chain.DestOps {
			if d.Name == refCtx.Name {
				match = d
				count++
			}
		}
	}

	switch {
	case count > 1:
		v.sink.Errorf(diag.ClassSemantic, refCtx.Pos,
			"resource '%s' window end is ambiguous: matches %d destination operands",
			refCtx.Name, count)
		return nil, false
	case count == 1:
		if match.Wildcard {
			v.sink.Errorf(diag.ClassSemantic, refCtx.Pos,
				"decode time evaluation of latency expression not supported for resources")
			return nil, false
		}
		return match.Latency.DeepCopy(), true
	}

	return slot.DefaultLatency.DeepCopy(), true
}
