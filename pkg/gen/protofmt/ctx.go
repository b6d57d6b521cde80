package protofmt

import (
	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
)

// Parse-tree shapes for the PROTO-FMT language. The parser builds
// these; the visitor resolves names against the protobuf descriptors
// and builds the semantic model.

type SourceFileCtx struct {
	FileName string
	Includes []*IncludeCtx
	Usings   []*UsingCtx
	Decoders []*DecoderDeclCtx
	Groups   []*GroupDeclCtx
}

type IncludeCtx struct {
	Pos      diag.Pos
	FileName string
}

// UsingCtx aliases a fully-qualified protobuf message name.
type UsingCtx struct {
	Pos    diag.Pos
	Alias  string
	Target []string
}

type GroupRef struct {
	Pos  diag.Pos
	Name string
}

// DecoderDeclCtx names a decoder: its namespace, the proto files its
// message types come from, and the instruction groups it decodes.
type DecoderDeclCtx struct {
	Pos        diag.Pos
	Name       string
	Namespaces []string
	ProtoFiles []string
	Groups     []GroupRef
}

// GroupDeclCtx is one instruction group bound to a message type. A
// parent group composes previously declared child groups instead of
// declaring instructions.
type GroupDeclCtx struct {
	Pos       diag.Pos
	Name      string
	MsgType   []string
	Parent    bool
	ChildRefs []GroupRef
	Instrs    []*InstrDefCtx
	Generates []*GenerateCtx
}

// InstrDefCtx is one instruction definition: constraints plus the
// setters run when the instruction matches.
type InstrDefCtx struct {
	Pos         diag.Pos
	Name        string
	Constraints []*ConstraintCtx
	Setters     []*SetterCtx
}

// ConstraintCtx is one parsed predicate. A bare field path asserts
// oneof presence (Has).
type ConstraintCtx struct {
	Pos       diag.Pos
	FieldPath []string
	Op        Op
	Value     expr.Value
}

type SetterCtx struct {
	Pos       diag.Pos
	Name      string
	FieldPath []string
	IfNot     *expr.Value
}

// GenerateCtx carries a range-expansion block: bindings with their
// value tuples and the raw template text holding $(ident)
// placeholders.
type GenerateCtx struct {
	Pos     diag.Pos
	Ranges  []*RangeCtx
	Body    string
	BodyPos diag.Pos
}

// RangeCtx binds one or more names to a list of value tuples. Values
// are kept as raw text for placeholder substitution.
type RangeCtx struct {
	Pos    diag.Pos
	Binds  []string
	Tuples [][]string
}
