package diag

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestSink() (*Sink, *bytes.Buffer) {
	out := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewSink(out, logger), out
}

func TestCountsByClass(t *testing.T) {
	sink, _ := newTestSink()

	assert.False(t, sink.HasError())

	sink.Errorf(ClassSyntax, Pos{File: "a.isa", Line: 3, Col: 7}, "unexpected token '%s'", "}")
	sink.Errorf(ClassSemantic, Pos{File: "a.isa", Line: 9, Col: 1}, "duplicate slot '%s'", "alu")
	sink.Warningf(Pos{File: "a.isa", Line: 12, Col: 4}, "unused binding '%s'", "i")

	assert.True(t, sink.HasError())
	assert.Equal(t, 2, sink.ErrorCount())
	assert.Equal(t, 1, sink.SyntaxErrorCount())
	assert.Equal(t, 1, sink.SemanticErrorCount())
	assert.Equal(t, 0, sink.InternalErrorCount())
	assert.Equal(t, 1, sink.WarningCount())
}

func TestFileContextStack(t *testing.T) {
	sink, out := newTestSink()

	sink.PushFile("top.isa")
	sink.PushFile("included.isa")
	assert.Equal(t, "included.isa", sink.CurrentFile())

	// A diagnostic with no token location reports the current file.
	sink.Errorf(ClassSemantic, Pos{}, "unresolved bundle 'fp'")
	assert.Contains(t, out.String(), "included.isa")

	sink.PopFile()
	assert.Equal(t, "top.isa", sink.CurrentFile())
	sink.PopFile()
	assert.Equal(t, "", sink.CurrentFile())
}

func TestPosString(t *testing.T) {
	assert.Equal(t, "a.isa:3:7", Pos{File: "a.isa", Line: 3, Col: 7}.String())
	assert.Equal(t, "a.isa", Pos{File: "a.isa"}.String())
}
