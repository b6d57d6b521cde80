package protofmt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
)

const testProto = `
syntax = "proto3";

package mpact.test;

message Inst {
  oneof opcode {
    RType rtype = 1;
    IType itype = 2;
  }
}

message RType {
  uint32 func = 1;
  uint32 rd = 2;
  uint32 rs1 = 3;
}

message IType {
  uint32 func = 1;
  uint32 rd = 2;
  int32 imm = 3;
}
`

const testFmt = `
using Inst = mpact.test.Inst;

decoder Riscv {
  namespace mpact::test;
  Alu;
}

instruction group Alu : Inst {
  add  : rtype, rtype.func == 1 { rd = rtype.rd; };
  sub  : rtype, rtype.func == 2 { rd = rtype.rd; val = rtype.rs1; };
  addi : itype, itype.func == 1 { rd = itype.rd; val = itype.imm if_not 0; };
}
`

// writeDecoderFiles writes the proto and format sources into a temp
// dir and returns a visitor rooted there plus the sink.
func writeDecoderFiles(t *testing.T, fmtSrc string, extra map[string]string) (*Visitor, *diag.Sink, string) {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"test.proto":     testProto,
		"test.proto_fmt": fmtSrc,
	}
	for name, content := range extra {
		files[name] = content
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	sink := testSink()
	v := NewVisitor(sink, testLogger(), []string{dir}, []string{dir})
	require.NoError(t, v.ProcessFile(filepath.Join(dir, "test.proto_fmt")))
	return v, sink, dir
}

func TestBuildDecoder(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, testFmt, nil)

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	require.False(t, sink.HasError())

	assert.Equal(t, "Riscv", model.Name)
	assert.Equal(t, []string{"mpact", "test"}, model.Namespaces)
	assert.Equal(t, []string{"add", "sub", "addi"}, model.OpcodeNames)
	assert.Equal(t, []string{"test.pb.h"}, model.PbHeaders())

	require.Len(t, model.Groups, 1)
	group := model.Groups[0]
	assert.Equal(t, "Alu", group.Name)
	require.Len(t, group.Encodings, 3)

	// rd is uint32 everywhere; val joins uint32 and int32.
	require.Len(t, model.Setters, 2)
	assert.Equal(t, DecoderSetter{Name: "rd", Kind: expr.KindUint32}, model.Setters[0])
	assert.Equal(t, DecoderSetter{Name: "val", Kind: expr.KindInt64}, model.Setters[1])
}

func TestDecoderTreePartitionsOnOneof(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, testFmt, nil)

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	require.False(t, sink.HasError())

	tree := model.Groups[0].Tree
	require.NotNil(t, tree.Differentiator)
	assert.True(t, tree.Differentiator.IsOneof)
	assert.Equal(t, 2, tree.Differentiator.Unique())

	// rtype carries add and sub; itype carries addi.
	require.Len(t, tree.Children, 2)
	assert.Len(t, tree.Children[0].Encodings, 2)
	assert.Len(t, tree.Children[1].Encodings, 1)

	assert.Contains(t, tree.Dump(), "Alu")
}

func TestOneofChainPromotesHas(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, testFmt, nil)

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	require.False(t, sink.HasError())

	add := model.Groups[0].Encodings[0]
	// The bare oneof reference and the func comparison both land in
	// the equality set; the comparison depends on the Has node.
	require.Len(t, add.Equality, 2)
	assert.Equal(t, OpHas, add.Equality[0].Op)
	assert.Equal(t, OpEq, add.Equality[1].Op)
	assert.Equal(t, "rtype.func", add.Equality[1].Path)
	assert.Same(t, add.Equality[0], add.Equality[1].DependsOn)
	assert.Empty(t, add.Other)
}

func TestContradictoryOneofMembers(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  bad : rtype, itype;
}
`, nil)

	_, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	assert.True(t, sink.HasError())
}

func TestContradictoryValueConstraints(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  bad : rtype, rtype.func == 1, rtype.func == 2;
}
`, nil)

	_, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	assert.True(t, sink.HasError())
}

func TestUnknownFieldIsError(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  bad : rtype.nosuch == 1;
}
`, nil)

	_, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	assert.True(t, sink.HasError())
}

func TestDuplicateInstructionName(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  add : rtype, rtype.func == 1;
  add : itype;
}
`, nil)

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	assert.True(t, sink.HasError())
	assert.Equal(t, []string{"add"}, model.OpcodeNames)
}

func TestUnknownDecoderName(t *testing.T) {
	v, _, _ := writeDecoderFiles(t, testFmt, nil)
	_, err := v.BuildDecoder("NoSuch", []string{"test.proto"})
	assert.Error(t, err)
}

func TestDefaultDecoderSelection(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, testFmt, nil)
	model, err := v.BuildDecoder("", []string{"test.proto"})
	require.NoError(t, err)
	require.False(t, sink.HasError())
	assert.Equal(t, "Riscv", model.Name)
}

func TestGenerateExpansion(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  add : rtype, rtype.func == 1 { rd = rtype.rd; };
  GENERATE( [name, f] = {{sll, 5}, {srl, 6}} ) {
    $(name) : rtype, rtype.func == $(f) { rd = rtype.rd; };
  };
}
`, nil)

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	require.False(t, sink.HasError())
	assert.Equal(t, []string{"add", "sll", "srl"}, model.OpcodeNames)

	tree := model.Groups[0].Tree
	require.NotNil(t, tree.Differentiator)
	assert.Equal(t, "rtype.func", tree.Differentiator.Path)
	assert.Equal(t, 3, tree.Differentiator.Unique())
}

func TestGenerateUndefinedBinding(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  GENERATE( n = { 1 } ) {
    add$(n) : rtype, rtype.func == $(oops);
  };
}
`, nil)

	_, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	assert.True(t, sink.HasError())
}

func TestGenerateTupleArityMismatch(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  GENERATE( [a, b] = {{1, 2}, {3}} ) {
    x$(a)$(b) : rtype;
  };
}
`, nil)

	_, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	assert.True(t, sink.HasError())
}

func TestGenerateUnreferencedBindingWarns(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  GENERATE( [n, unused] = {{add1, 9}} ) {
    $(n) : rtype, rtype.func == 7;
  };
}
`, nil)

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	assert.False(t, sink.HasError())
	assert.Equal(t, 1, sink.WarningCount())
	assert.Equal(t, []string{"add1"}, model.OpcodeNames)
}

func TestParentGroupMergesChildren(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;

decoder Riscv {
  namespace mpact::test;
  Both;
}

instruction group RAlu : Inst {
  add : rtype, rtype.func == 1 { rd = rtype.rd; };
}

instruction group IAlu : Inst {
  addi : itype, itype.func == 1 { rd = itype.rd; };
}

instruction group Both : Inst = { RAlu, IAlu };
`, nil)

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	require.False(t, sink.HasError())

	require.Len(t, model.Groups, 1)
	group := model.Groups[0]
	assert.Equal(t, "Both", group.Name)
	assert.Len(t, group.Encodings, 2)
	assert.Equal(t, "DecodeBoth", group.Tree.FnName())
}

func TestIncludedFormatFile(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
include "groups.proto_fmt";

using Inst = mpact.test.Inst;

decoder Riscv {
  namespace mpact::test;
  Alu;
}
`, map[string]string{
		"groups.proto_fmt": `
instruction group Alu : mpact.test.Inst {
  add : rtype, rtype.func == 1 { rd = rtype.rd; };
}
`,
	})

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	require.False(t, sink.HasError())
	assert.Equal(t, []string{"add"}, model.OpcodeNames)
}

func TestIncludesSharingBaseName(t *testing.T) {
	// Distinct files with the same base name are not a recursion.
	v, sink, _ := writeDecoderFiles(t, `
include "a/groups.proto_fmt";

using Inst = mpact.test.Inst;

decoder Riscv {
  namespace mpact::test;
  Alu, Shift;
}
`, map[string]string{
		"a/groups.proto_fmt": `
include "b/groups.proto_fmt";

instruction group Alu : mpact.test.Inst {
  add : rtype, rtype.func == 1 { rd = rtype.rd; };
}
`,
		"b/groups.proto_fmt": `
instruction group Shift : mpact.test.Inst {
  sll : rtype, rtype.func == 5 { rd = rtype.rd; };
}
`,
	})

	model, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	require.False(t, sink.HasError())
	assert.Equal(t, []string{"add", "sll"}, model.OpcodeNames)
}

func TestAmbiguousEncodings(t *testing.T) {
	v, sink, _ := writeDecoderFiles(t, `
using Inst = mpact.test.Inst;
decoder Riscv { namespace mpact::test; Alu; }
instruction group Alu : Inst {
  one   : rtype;
  two   : rtype;
  other : itype;
}
`, nil)

	_, err := v.BuildDecoder("Riscv", []string{"test.proto"})
	require.NoError(t, err)
	assert.True(t, sink.HasError())
}
