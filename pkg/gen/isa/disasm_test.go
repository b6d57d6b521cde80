package isa

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/isagen/pkg/gen/diag"
)

func testSink() *diag.Sink {
	return diag.NewSink(&bytes.Buffer{}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func testLocators(names ...string) map[string]OperandLocator {
	m := map[string]OperandLocator{}
	for i, name := range names {
		m[name] = OperandLocator{Kind: 's', Instance: i}
	}
	return m
}

func TestDisasmFormatBasic(t *testing.T) {
	sink := testSink()
	locators := testLocators("rd", "rs1", "rs2")

	f := ParseDisasmFormat("%rd, %rs1, %(rs2<<2:04x)", diag.Pos{}, locators, -18, sink)
	require.NotNil(t, f)
	require.False(t, sink.HasError())

	require.Len(t, f.Infos, 3)
	assert.Equal(t, -18, f.Width)
	assert.Equal(t, "rd", f.Infos[0].OpName)
	assert.Equal(t, "rs1", f.Infos[1].OpName)

	last := f.Infos[2]
	assert.Equal(t, "rs2", last.OpName)
	assert.True(t, last.Formatted)
	assert.Equal(t, "%04x", last.NumberFormat)
	assert.True(t, last.DoLeftShift)
	assert.Equal(t, 2, last.ShiftAmount)

	// Interleaved literals: "", ", ", ", " and a trailing empty
	// fragment.
	assert.Equal(t, []string{"", ", ", ", ", ""}, f.Fragments)
}

func TestDisasmFormatAddress(t *testing.T) {
	sink := testSink()
	f := ParseDisasmFormat("%(@+offset:08x)", diag.Pos{}, testLocators("offset"), 0, sink)
	require.NotNil(t, f)

	info := f.Infos[0]
	assert.True(t, info.UseAddress)
	assert.Equal(t, "+", info.Operation)
	assert.Equal(t, "%08x", info.NumberFormat)
}

func TestDisasmFormatRightShift(t *testing.T) {
	sink := testSink()
	f := ParseDisasmFormat("%((imm>>4):d)", diag.Pos{}, testLocators("imm"), 0, sink)
	require.NotNil(t, f)
	assert.False(t, f.Infos[0].DoLeftShift)
	assert.Equal(t, 4, f.Infos[0].ShiftAmount)
	assert.Equal(t, "%d", f.Infos[0].NumberFormat)
}

func TestDisasmFormatUnknownOperand(t *testing.T) {
	sink := testSink()
	f := ParseDisasmFormat("%bogus", diag.Pos{}, testLocators("rd"), 0, sink)
	assert.Nil(t, f)
	assert.Equal(t, 1, sink.SemanticErrorCount())
}

func TestDisasmFormatMalformed(t *testing.T) {
	sink := testSink()
	f := ParseDisasmFormat("%(rd:9q)", diag.Pos{}, testLocators("rd"), 0, sink)
	assert.Nil(t, f)
	assert.Equal(t, 1, sink.SyntaxErrorCount())
}

func TestDisasmFormatPercentEscape(t *testing.T) {
	sink := testSink()
	f := ParseDisasmFormat("100%% of %rd", diag.Pos{}, testLocators("rd"), 0, sink)
	require.NotNil(t, f)
	assert.Equal(t, []string{"100% of ", ""}, f.Fragments)
	assert.Len(t, f.Infos, 1)
}
