// Package lex tokenizes the ISA and PROTO-FMT description languages.
// Both grammars share one token set; the parsers interpret keywords
// from identifier text.
package lex

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/simforge/isagen/pkg/gen/diag"
)

// Token kinds
type Kind int

const (
	EOF Kind = iota
	Ident
	Number
	String
	Punct
)

// Token is one lexical element. Offset/End index into the source text
// so that parsers can recover raw source slices (used by the
// instruction-definition generator blocks).
type Token struct {
	Kind   Kind
	Text   string
	Int    int64
	Pos    diag.Pos
	Offset int
	End    int
}

// Is reports whether the token is the given punctuation.
func (t Token) Is(punct string) bool {
	return t.Kind == Punct && t.Text == punct
}

// IsIdent reports whether the token is the given identifier or
// keyword.
func (t Token) IsIdent(text string) bool {
	return t.Kind == Ident && t.Text == text
}

// Multi-character punctuation, longest first.
var multiPunct = []string{"..", "<<", ">>", "<=", ">=", "==", "!=", "::", "->"}

// Lexer scans one source file into tokens. Scan errors go to the
// diagnostic sink as syntax errors; scanning continues on the next
// rune so that several errors can be reported in one run.
type Lexer struct {
	file string
	src  string
	sink *diag.Sink

	offset int
	line   int
	col    int
}

// NewLexer creates a lexer for the given file contents.
func NewLexer(file, src string, sink *diag.Sink) *Lexer {
	return &Lexer{file: file, src: src, sink: sink, line: 1, col: 1}
}

// Source returns the full source text, for raw-slice recovery.
func (l *Lexer) Source() string {
	return l.src
}

// Tokens scans the whole file. The returned slice always ends with an
// EOF token carrying the final position.
func (l *Lexer) Tokens() []Token {
	var tokens []Token

	for {
		tok := l.next()
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens
		}
	}
}

func (l *Lexer) pos() diag.Pos {
	return diag.Pos{File: l.file, Line: l.line, Col: l.col}
}

func (l *Lexer) peek() byte {
	if l.offset >= len(l.src) {
		return 0
	}
	return l.src[l.offset]
}

func (l *Lexer) peekAt(n int) byte {
	if l.offset+n >= len(l.src) {
		return 0
	}
	return l.src[l.offset+n]
}

func (l *Lexer) advance() byte {
	c := l.src[l.offset]
	l.offset++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *Lexer) skipSpaceAndComments() {
	for l.offset < len(l.src) {
		c := l.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peekAt(1) == '/':
			for l.offset < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		case c == '/' && l.peekAt(1) == '*':
			start := l.pos()
			l.advance()
			l.advance()
			closed := false
			for l.offset < len(l.src) {
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				l.sink.Errorf(diag.ClassSyntax, start, "unterminated block comment")
			}
		default:
			return
		}
	}
}

func (l *Lexer) next() Token {
	l.skipSpaceAndComments()

	pos := l.pos()
	start := l.offset

	if l.offset >= len(l.src) {
		return Token{Kind: EOF, Pos: pos, Offset: start, End: start}
	}

	c := l.peek()

	switch {
	case isIdentStart(c):
		return l.scanIdent(pos, start)
	case unicode.IsDigit(rune(c)):
		return l.scanNumber(pos, start)
	case c == '"':
		return l.scanString(pos, start)
	}

	for _, p := range multiPunct {
		if strings.HasPrefix(l.src[l.offset:], p) {
			l.advance()
			l.advance()
			return Token{Kind: Punct, Text: p, Pos: pos, Offset: start, End: l.offset}
		}
	}

	l.advance()
	return Token{Kind: Punct, Text: string(c), Pos: pos, Offset: start, End: l.offset}
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

func (l *Lexer) scanIdent(pos diag.Pos, start int) Token {
	for l.offset < len(l.src) && isIdentPart(l.peek()) {
		l.advance()
	}
	return Token{
		Kind:   Ident,
		Text:   l.src[start:l.offset],
		Pos:    pos,
		Offset: start,
		End:    l.offset,
	}
}

func (l *Lexer) scanNumber(pos diag.Pos, start int) Token {
	base := 10
	if l.peek() == '0' && (l.peekAt(1) == 'x' || l.peekAt(1) == 'X') {
		base = 16
		l.advance()
		l.advance()
	} else if l.peek() == '0' && unicode.IsDigit(rune(l.peekAt(1))) {
		base = 8
	}

	for l.offset < len(l.src) && isIdentPart(l.peek()) {
		l.advance()
	}

	text := l.src[start:l.offset]
	digits := text
	if base == 16 {
		digits = text[2:]
	}

	value, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		// Retry as unsigned so that 64-bit masks still lex.
		u, uerr := strconv.ParseUint(digits, base, 64)
		if uerr != nil {
			l.sink.Errorf(diag.ClassSyntax, pos, "malformed number '%s'", text)
		}
		value = int64(u)
	}

	return Token{
		Kind:   Number,
		Text:   text,
		Int:    value,
		Pos:    pos,
		Offset: start,
		End:    l.offset,
	}
}

func (l *Lexer) scanString(pos diag.Pos, start int) Token {
	l.advance() // opening quote

	var b strings.Builder
	for l.offset < len(l.src) {
		c := l.advance()
		switch c {
		case '"':
			return Token{
				Kind:   String,
				Text:   b.String(),
				Pos:    pos,
				Offset: start,
				End:    l.offset,
			}
		case '\\':
			if l.offset < len(l.src) {
				esc := l.advance()
				switch esc {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				case '\\', '"':
					b.WriteByte(esc)
				default:
					b.WriteByte('\\')
					b.WriteByte(esc)
				}
			}
		case '\n':
			l.sink.Errorf(diag.ClassSyntax, pos, "unterminated string literal")
			return Token{Kind: String, Text: b.String(), Pos: pos, Offset: start, End: l.offset}
		default:
			b.WriteByte(c)
		}
	}

	l.sink.Errorf(diag.ClassSyntax, pos, "unterminated string literal")
	return Token{Kind: String, Text: b.String(), Pos: pos, Offset: start, End: l.offset}
}
