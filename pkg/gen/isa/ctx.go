package isa

import (
	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
)

// Parse-tree node shapes produced by the parser and consumed by the
// visitor. Expressions are parsed directly into expr trees; formals
// and global constants stay as Param nodes until instantiation.

// SourceFileCtx is the root of one parsed file.
type SourceFileCtx struct {
	FileName string
	Includes []*IncludeCtx
	Consts   []*ConstCtx
	Widths   *DisasmWidthsCtx
	Isas     []*IsaDeclCtx
	Bundles  []*BundleDeclCtx
	Slots    []*SlotDeclCtx
}

// IncludeCtx is one include declaration.
type IncludeCtx struct {
	Pos      diag.Pos
	FileName string
}

// ConstCtx is one global constant declaration.
type ConstCtx struct {
	Pos  diag.Pos
	Name string
	Expr *expr.Expr
}

// DisasmWidthsCtx is the disasm widths declaration.
type DisasmWidthsCtx struct {
	Pos    diag.Pos
	Widths []*expr.Expr
}

// IsaDeclCtx is one isa declaration.
type IsaDeclCtx struct {
	Pos        diag.Pos
	Name       string
	Namespaces []string
	Bundles    []string
	Slots      []*SlotRefCtx
}

// BundleDeclCtx is one bundle declaration.
type BundleDeclCtx struct {
	Pos     diag.Pos
	Name    string
	Bundles []string
	Slots   []*SlotRefCtx
}

// SlotRefCtx references a slot with an optional instance range.
type SlotRefCtx struct {
	Pos   diag.Pos
	Name  string
	First int
	Last  int
}

// SlotDeclCtx is one slot declaration.
type SlotDeclCtx struct {
	Pos       diag.Pos
	Name      string
	Templated bool
	Formals   []string
	Size      int
	Bases     []*BaseCtx
	Defaults  *SlotDefaultsCtx
	Resources map[string]*ResourceSpecCtx
	Opcodes   []*OpcodeSpecCtx
}

// BaseCtx is one base-slot reference with optional template args.
type BaseCtx struct {
	Pos  diag.Pos
	Name string
	Args []*expr.Expr
}

// SlotDefaultsCtx carries the slot's default declarations.
type SlotDefaultsCtx struct {
	Size       *expr.Expr
	Latency    *expr.Expr
	Attributes []*AttrCtx
	// Default instruction attributes (disasm + semfunc).
	Disasm  []string
	Semfunc []string
}

// AttrCtx is one attribute assignment; a bare name means value 1.
type AttrCtx struct {
	Pos  diag.Pos
	Name string
	Expr *expr.Expr
}

// Opcode spec modifiers
type OpcodeMod int

const (
	OpcodePlain OpcodeMod = iota
	OpcodeDelete
	OpcodeOverride
)

// OpcodeSpecCtx is one entry of an opcodes block.
type OpcodeSpecCtx struct {
	Pos      diag.Pos
	Mod      OpcodeMod
	Name     string
	Operands []*OperandSpecCtx
	Size     *expr.Expr
	Disasm   []string
	Semfunc  []string
	// Exactly one of Resources / ResourceRefName may be set.
	Resources       *ResourceSpecCtx
	ResourceRefName string
	ResourceRefPos  diag.Pos
	Attributes      []*AttrCtx
}

// OperandSpecCtx is one (pred : sources : dests) block.
type OperandSpecCtx struct {
	Pos     diag.Pos
	PredOp  string
	SrcOps  []string
	DestOps []*DestOpCtx
}

// DestOpCtx is one destination operand with an optional latency.
type DestOpCtx struct {
	Pos      diag.Pos
	Name     string
	Latency  *expr.Expr
	Wildcard bool
}

// Resource reference kinds
type ResourceRefKind int

const (
	ResourceUse ResourceRefKind = iota
	ResourceAcquire
	ResourceHold
)

// Returns the printable name of the reference kind
func (k ResourceRefKind) String() string {
	switch k {
	case ResourceUse:
		return "use"
	case ResourceAcquire:
		return "acquire"
	case ResourceHold:
		return "hold"
	}
	return "?"
}

// ResourceSpecCtx is one resources block: the three reference lists.
type ResourceSpecCtx struct {
	Pos  diag.Pos
	Refs []*ResourceRefCtx
}

// ResourceRefCtx is one resource reference with an optional window.
type ResourceRefCtx struct {
	Pos       diag.Pos
	Kind      ResourceRefKind
	Name      string
	Begin     *expr.Expr
	End       *expr.Expr
	HasWindow bool
}
