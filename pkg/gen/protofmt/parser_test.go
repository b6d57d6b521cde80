package protofmt

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/lex"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSink() *diag.Sink {
	return diag.NewSink(io.Discard, testLogger())
}

func parseSource(t *testing.T, src string) (*SourceFileCtx, *diag.Sink) {
	t.Helper()
	sink := testSink()
	tokens := lex.NewLexer("test.proto_fmt", src, sink).Tokens()
	return NewParser(tokens, src, sink).Parse("test.proto_fmt"), sink
}

const sampleSrc = `
include "common.proto_fmt";

using Inst = mpact.test.Inst;

decoder Riscv {
  namespace mpact::test;
  proto_files { "riscv.proto" };
  Alu, Mem;
}

instruction group Alu : Inst {
  add  : rtype, rtype.func == 1 { rd = rtype.rd; };
  addi : itype, itype.func == 1, itype.imm != 0 {
    rd  = itype.rd;
    imm = itype.imm if_not 0;
  };
}
`

func TestParseSampleFile(t *testing.T) {
	file, sink := parseSource(t, sampleSrc)
	require.False(t, sink.HasError())

	require.Len(t, file.Includes, 1)
	assert.Equal(t, "common.proto_fmt", file.Includes[0].FileName)

	require.Len(t, file.Usings, 1)
	assert.Equal(t, "Inst", file.Usings[0].Alias)
	assert.Equal(t, []string{"mpact", "test", "Inst"}, file.Usings[0].Target)

	require.Len(t, file.Decoders, 1)
	dec := file.Decoders[0]
	assert.Equal(t, "Riscv", dec.Name)
	assert.Equal(t, []string{"mpact", "test"}, dec.Namespaces)
	assert.Equal(t, []string{"riscv.proto"}, dec.ProtoFiles)
	require.Len(t, dec.Groups, 2)
	assert.Equal(t, "Alu", dec.Groups[0].Name)
	assert.Equal(t, "Mem", dec.Groups[1].Name)

	require.Len(t, file.Groups, 1)
	group := file.Groups[0]
	assert.Equal(t, "Alu", group.Name)
	assert.Equal(t, []string{"Inst"}, group.MsgType)
	assert.False(t, group.Parent)
	require.Len(t, group.Instrs, 2)
}

func TestParseConstraintsAndSetters(t *testing.T) {
	file, sink := parseSource(t, sampleSrc)
	require.False(t, sink.HasError())

	add := file.Groups[0].Instrs[0]
	assert.Equal(t, "add", add.Name)
	require.Len(t, add.Constraints, 2)

	has := add.Constraints[0]
	assert.Equal(t, []string{"rtype"}, has.FieldPath)
	assert.Equal(t, OpHas, has.Op)

	eq := add.Constraints[1]
	assert.Equal(t, []string{"rtype", "func"}, eq.FieldPath)
	assert.Equal(t, OpEq, eq.Op)
	assert.Equal(t, expr.IntValue(1), eq.Value)

	addi := file.Groups[0].Instrs[1]
	require.Len(t, addi.Constraints, 3)
	assert.Equal(t, OpNe, addi.Constraints[2].Op)

	require.Len(t, addi.Setters, 2)
	imm := addi.Setters[1]
	assert.Equal(t, "imm", imm.Name)
	assert.Equal(t, []string{"itype", "imm"}, imm.FieldPath)
	require.NotNil(t, imm.IfNot)
	assert.Equal(t, expr.IntValue(0), *imm.IfNot)
	assert.Nil(t, addi.Setters[0].IfNot)
}

func TestParseParentGroup(t *testing.T) {
	file, sink := parseSource(t, `
instruction group Both : mpact.test.Inst = { Alu, Mem };
`)
	require.False(t, sink.HasError())
	require.Len(t, file.Groups, 1)

	group := file.Groups[0]
	assert.True(t, group.Parent)
	require.Len(t, group.ChildRefs, 2)
	assert.Equal(t, "Alu", group.ChildRefs[0].Name)
	assert.Equal(t, "Mem", group.ChildRefs[1].Name)
	assert.Empty(t, group.Instrs)
}

func TestParseGenerateBlock(t *testing.T) {
	file, sink := parseSource(t, `
instruction group Alu : Inst {
  GENERATE( [name, f] = {{sll, 2}, {srl, 3}}, shift = { 1, -1 } ) {
    $(name) : rtype, rtype.func == $(f) { rd = rtype.rd; };
  };
}
`)
	require.False(t, sink.HasError())
	require.Len(t, file.Groups, 1)
	require.Len(t, file.Groups[0].Generates, 1)

	gen := file.Groups[0].Generates[0]
	require.Len(t, gen.Ranges, 2)

	tuples := gen.Ranges[0]
	assert.Equal(t, []string{"name", "f"}, tuples.Binds)
	assert.Equal(t, [][]string{{"sll", "2"}, {"srl", "3"}}, tuples.Tuples)

	scalars := gen.Ranges[1]
	assert.Equal(t, []string{"shift"}, scalars.Binds)
	assert.Equal(t, [][]string{{"1"}, {"-1"}}, scalars.Tuples)

	assert.Contains(t, gen.Body, "$(name) : rtype, rtype.func == $(f)")
	assert.NotContains(t, gen.Body, "GENERATE")
}

func TestParseGenerateNestedBraces(t *testing.T) {
	file, sink := parseSource(t, `
instruction group Alu : Inst {
  GENERATE( n = { 1 } ) {
    op$(n) : rtype { rd = rtype.rd; };
  };
}
`)
	require.False(t, sink.HasError())
	gen := file.Groups[0].Generates[0]
	assert.Contains(t, gen.Body, "{ rd = rtype.rd; }")
}

func TestParseNegativeLiteral(t *testing.T) {
	file, sink := parseSource(t, `
instruction group Alu : Inst {
  neg : itype.imm == -4;
}
`)
	require.False(t, sink.HasError())
	c := file.Groups[0].Instrs[0].Constraints[0]
	assert.Equal(t, expr.IntValue(-4), c.Value)
}

func TestParseErrorsRecover(t *testing.T) {
	file, sink := parseSource(t, `
decoder Bad { 42; }

instruction group Good : Inst {
  add : rtype;
}
`)
	assert.True(t, sink.HasError())
	// The group after the bad decoder still parses.
	require.Len(t, file.Groups, 1)
	assert.Equal(t, "Good", file.Groups[0].Name)
}

func TestParseBareInstrSequence(t *testing.T) {
	sink := testSink()
	src := `a : rtype; b : itype { rd = itype.rd; };`
	tokens := lex.NewLexer("gen", src, sink).Tokens()
	defs := NewParser(tokens, src, sink).ParseInstrDefs()
	require.False(t, sink.HasError())
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "b", defs[1].Name)
}
