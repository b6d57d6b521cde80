package isa

import (
	"fmt"
	"strings"

	"github.com/simforge/isagen/pkg/gen/diag"
)

// FormatInfo describes one %-specifier of a disassembly format
// string.
type FormatInfo struct {
	OpName string
	// True for %(expr:fmt) specifiers carrying a number format.
	Formatted bool
	// printf-style number format derived from the fmt part, e.g.
	// "%04x".
	NumberFormat string
	// True when the specifier is @-prefixed: the operand is an
	// address relative to the instruction's own address.
	UseAddress bool
	// "+" or "-" following '@'; empty otherwise.
	Operation string

	ShiftAmount int
	DoLeftShift bool
}

// DisasmFormat is one parsed format string: interleaved literal
// fragments and format infos, with len(Fragments) == len(Infos)+1.
// Width is the field width assigned by positional index from the
// disasm widths declaration; zero means unpadded.
type DisasmFormat struct {
	Width     int
	Fragments []string
	Infos     []*FormatInfo
}

// disasmParser walks one format string.
type disasmParser struct {
	src string
	pos int
}

func (p *disasmParser) eof() bool { return p.pos >= len(p.src) }

func (p *disasmParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *disasmParser) next() byte {
	c := p.src[p.pos]
	p.pos++
	return c
}

func (p *disasmParser) ident() string {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			c >= '0' && c <= '9' && p.pos > start {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *disasmParser) number() (int, bool) {
	start := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, false
	}
	n := 0
	for _, c := range p.src[start:p.pos] {
		n = n*10 + int(c-'0')
	}
	return n, true
}

// ParseDisasmFormat parses one disassembly format string, validating
// operand names against the opcode's operand locator map. Errors name
// the offending fragment.
func ParseDisasmFormat(format string, pos diag.Pos, locators map[string]OperandLocator,
	width int, sink *diag.Sink) *DisasmFormat {

	p := &disasmParser{src: format}
	out := &DisasmFormat{Width: width}
	var literal strings.Builder

	for !p.eof() {
		c := p.next()
		if c != '%' {
			literal.WriteByte(c)
			continue
		}

		// %% escapes a literal percent.
		if p.peek() == '%' {
			p.next()
			literal.WriteByte('%')
			continue
		}

		info, errMsg := p.parseSpecifier()
		if errMsg != "" {
			sink.Errorf(diag.ClassSyntax, pos, "malformed disasm format '%s': %s", format, errMsg)
			return nil
		}
		if _, ok := locators[info.OpName]; !ok {
			sink.Errorf(diag.ClassSemantic, pos,
				"disasm format '%s' references unknown operand '%s'", format, info.OpName)
			return nil
		}

		out.Fragments = append(out.Fragments, literal.String())
		literal.Reset()
		out.Infos = append(out.Infos, info)
	}

	out.Fragments = append(out.Fragments, literal.String())
	return out
}

// parseSpecifier parses the part after '%': either a bare operand
// name or a parenthesized expression with an optional number format.
func (p *disasmParser) parseSpecifier() (*FormatInfo, string) {
	if p.peek() != '(' {
		name := p.ident()
		if name == "" {
			return nil, fmt.Sprintf("expected operand name after '%%' at offset %d", p.pos)
		}
		return &FormatInfo{OpName: name}, ""
	}

	p.next() // '('
	info := &FormatInfo{}

	if p.peek() == '@' {
		p.next()
		info.UseAddress = true
		switch p.peek() {
		case '+', '-':
			info.Operation = string(p.next())
		default:
			return nil, "expected '+' or '-' after '@'"
		}
	}

	if p.peek() == '(' {
		// Shifted operand: (IDENT << NUMBER) or (IDENT >> NUMBER).
		p.next()
		info.OpName = p.ident()
		if info.OpName == "" {
			return nil, "expected operand name in shift expression"
		}
		switch {
		case strings.HasPrefix(p.src[p.pos:], "<<"):
			info.DoLeftShift = true
		case strings.HasPrefix(p.src[p.pos:], ">>"):
		default:
			return nil, fmt.Sprintf("expected shift operator in '%s'", p.src)
		}
		p.pos += 2
		amount, ok := p.number()
		if !ok {
			return nil, "expected shift amount"
		}
		info.ShiftAmount = amount
		if p.peek() != ')' {
			return nil, "unbalanced shift expression"
		}
		p.next()
	} else {
		info.OpName = p.ident()
		if info.OpName == "" {
			return nil, "expected operand name in format expression"
		}
		// Shift form without the inner parentheses.
		if strings.HasPrefix(p.src[p.pos:], "<<") || strings.HasPrefix(p.src[p.pos:], ">>") {
			info.DoLeftShift = p.src[p.pos] == '<'
			p.pos += 2
			amount, ok := p.number()
			if !ok {
				return nil, "expected shift amount"
			}
			info.ShiftAmount = amount
		}
	}

	if p.peek() == ':' {
		p.next()
		numberFormat, errMsg := p.parseNumberFormat()
		if errMsg != "" {
			return nil, errMsg
		}
		info.Formatted = true
		info.NumberFormat = numberFormat
	}

	if p.peek() != ')' {
		return nil, "unbalanced format expression"
	}
	p.next()
	return info, ""
}

// parseNumberFormat parses '0'? DIGIT{1,2} ('o'|'d'|'x'|'X') into a
// printf-style format string.
func (p *disasmParser) parseNumberFormat() (string, string) {
	var b strings.Builder
	b.WriteByte('%')

	if p.peek() == '0' {
		b.WriteByte(p.next())
	}
	digits := 0
	for digits < 2 && p.peek() >= '0' && p.peek() <= '9' {
		b.WriteByte(p.next())
		digits++
	}

	switch p.peek() {
	case 'o', 'd', 'x', 'X':
		b.WriteByte(p.next())
	default:
		return "", fmt.Sprintf("bad number format radix '%c'", p.peek())
	}
	return b.String(), ""
}
