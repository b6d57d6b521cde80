package lex

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/isagen/pkg/gen/diag"
)

func scan(t *testing.T, src string) ([]Token, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink(&bytes.Buffer{}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	return NewLexer("test.isa", src, sink).Tokens(), sink
}

func TestBasicTokens(t *testing.T) {
	tokens, sink := scan(t, `slot alu : base<3> { default size = 0x10; }`)
	require.False(t, sink.HasError())

	var texts []string
	for _, tok := range tokens {
		if tok.Kind != EOF {
			texts = append(texts, tok.Text)
		}
	}
	assert.Equal(t, []string{
		"slot", "alu", ":", "base", "<", "3", ">", "{",
		"default", "size", "=", "0x10", ";", "}",
	}, texts)

	// 0x10 carries its numeric value.
	assert.Equal(t, int64(16), tokens[11].Int)
}

func TestMultiCharPunct(t *testing.T) {
	tokens, sink := scan(t, `0..3 a::b x<<2 y>>1`)
	require.False(t, sink.HasError())

	var puncts []string
	for _, tok := range tokens {
		if tok.Kind == Punct {
			puncts = append(puncts, tok.Text)
		}
	}
	assert.Equal(t, []string{"..", "::", "<<", ">>"}, puncts)
}

func TestComments(t *testing.T) {
	tokens, sink := scan(t, "a // line comment\n/* block\ncomment */ b")
	require.False(t, sink.HasError())
	require.Len(t, tokens, 3)
	assert.Equal(t, "a", tokens[0].Text)
	assert.Equal(t, "b", tokens[1].Text)
	assert.Equal(t, 3, tokens[1].Pos.Line)
}

func TestStringEscapes(t *testing.T) {
	tokens, sink := scan(t, `"add %rd, %rs1\n"`)
	require.False(t, sink.HasError())
	assert.Equal(t, String, tokens[0].Kind)
	assert.Equal(t, "add %rd, %rs1\n", tokens[0].Text)
}

func TestUnterminatedString(t *testing.T) {
	_, sink := scan(t, `"oops`)
	assert.Equal(t, 1, sink.SyntaxErrorCount())
}

func TestPositions(t *testing.T) {
	tokens, _ := scan(t, "a\n  b")
	assert.Equal(t, 1, tokens[0].Pos.Line)
	assert.Equal(t, 1, tokens[0].Pos.Col)
	assert.Equal(t, 2, tokens[1].Pos.Line)
	assert.Equal(t, 3, tokens[1].Pos.Col)
}

func TestOffsetsRecoverRawText(t *testing.T) {
	src := "generate { $(name)_$(i) }"
	tokens, _ := scan(t, src)

	// Raw text between the braces is recoverable from offsets.
	var open, closing Token
	for _, tok := range tokens {
		if tok.Is("{") {
			open = tok
		}
		if tok.Is("}") {
			closing = tok
		}
	}
	assert.Equal(t, " $(name)_$(i) ", src[open.End:closing.Offset])
}
