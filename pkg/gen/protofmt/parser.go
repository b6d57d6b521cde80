package protofmt

import (
	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/lex"
)

// Parser builds the parse tree for one PROTO-FMT file. The grammar,
// in rough EBNF:
//
//	file       := decl*
//	decl       := include | using | decoder | group
//	include    := "include" STRING ";"
//	using      := "using" IDENT "=" qualName ";"
//	decoder    := "decoder" IDENT "{" decoderItem* "}"
//	decoderItem:= "namespace" qual ";"
//	            | "proto_files" "{" STRING ("," STRING)* "}" ";"
//	            | IDENT ("," IDENT)* ";"                // group refs
//	group      := "instruction" "group" IDENT ":" qualName
//	              ( "{" (instr | generate)* "}"
//	              | "=" "{" IDENT ("," IDENT)* "}" ";" ) // parent
//	instr      := IDENT ":" constraint ("," constraint)*
//	              ("{" setter* "}")? ";"
//	constraint := fieldPath (relop literal)?             // bare = Has
//	setter     := IDENT "=" fieldPath ("if_not" literal)? ";"
//	generate   := "GENERATE" "(" range ("," range)* ")" "{" raw "}" ";"?
//	range      := "[" IDENT ("," IDENT)* "]" "=" "{" tuple ("," tuple)* "}"
//	            | IDENT "=" "{" scalar ("," scalar)* "}"
//	tuple      := "{" scalar ("," scalar)* "}"
//
// The GENERATE body is captured as raw text between its braces and
// reparsed after placeholder substitution.
type Parser struct {
	tokens []lex.Token
	src    string
	pos    int
	sink   *diag.Sink
}

// NewParser wraps a token stream and its source text.
func NewParser(tokens []lex.Token, src string, sink *diag.Sink) *Parser {
	return &Parser{tokens: tokens, src: src, sink: sink}
}

func (p *Parser) cur() lex.Token { return p.tokens[p.pos] }

func (p *Parser) at(n int) lex.Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) advance() lex.Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) errorf(pos diag.Pos, format string, args ...any) {
	p.sink.Errorf(diag.ClassSyntax, pos, format, args...)
}

func (p *Parser) expect(punct string) bool {
	if p.cur().Is(punct) {
		p.advance()
		return true
	}
	p.errorf(p.cur().Pos, "expected '%s', got '%s'", punct, p.cur().Text)
	return false
}

func (p *Parser) expectIdent(what string) (lex.Token, bool) {
	if p.cur().Kind == lex.Ident {
		return p.advance(), true
	}
	p.errorf(p.cur().Pos, "expected %s, got '%s'", what, p.cur().Text)
	return p.cur(), false
}

func (p *Parser) skipTo(puncts ...string) {
	for p.cur().Kind != lex.EOF {
		tok := p.advance()
		for _, punct := range puncts {
			if tok.Is(punct) {
				return
			}
		}
	}
}

// Parse consumes the whole token stream.
func (p *Parser) Parse(fileName string) *SourceFileCtx {
	file := &SourceFileCtx{FileName: fileName}

	for p.cur().Kind != lex.EOF {
		tok := p.cur()
		switch {
		case tok.IsIdent("include"):
			if inc := p.parseInclude(); inc != nil {
				file.Includes = append(file.Includes, inc)
			}
		case tok.IsIdent("using"):
			if u := p.parseUsing(); u != nil {
				file.Usings = append(file.Usings, u)
			}
		case tok.IsIdent("decoder"):
			if d := p.parseDecoder(); d != nil {
				file.Decoders = append(file.Decoders, d)
			}
		case tok.IsIdent("instruction"):
			if g := p.parseGroup(); g != nil {
				file.Groups = append(file.Groups, g)
			}
		case tok.Is(";"):
			// Stray semicolons after block declarations are tolerated.
			p.advance()
		default:
			p.errorf(tok.Pos, "unexpected token '%s' at top level", tok.Text)
			p.skipTo(";", "}")
		}
	}
	return file
}

// ParseInstrDefs parses a bare sequence of instruction definitions.
// Expanded GENERATE bodies are reparsed through this entry point.
func (p *Parser) ParseInstrDefs() []*InstrDefCtx {
	var out []*InstrDefCtx
	for p.cur().Kind != lex.EOF {
		if instr := p.parseInstr(); instr != nil {
			out = append(out, instr)
		} else {
			p.skipTo(";", "}")
		}
	}
	return out
}

func (p *Parser) parseInclude() *IncludeCtx {
	pos := p.advance().Pos // include
	if p.cur().Kind != lex.String {
		p.errorf(p.cur().Pos, "expected file name string after 'include'")
		p.skipTo(";")
		return nil
	}
	name := p.advance().Text
	p.expect(";")
	return &IncludeCtx{Pos: pos, FileName: name}
}

func (p *Parser) parseUsing() *UsingCtx {
	pos := p.advance().Pos // using
	alias, ok := p.expectIdent("alias name")
	if !ok {
		p.skipTo(";")
		return nil
	}
	if !p.expect("=") {
		p.skipTo(";")
		return nil
	}
	target := p.parseQualName()
	p.expect(";")
	if target == nil {
		return nil
	}
	return &UsingCtx{Pos: pos, Alias: alias.Text, Target: target}
}

// parseQualName reads a dotted name such as "mpact.riscv.RiscvInst".
func (p *Parser) parseQualName() []string {
	tok, ok := p.expectIdent("name")
	if !ok {
		return nil
	}
	parts := []string{tok.Text}
	for p.cur().Is(".") {
		p.advance()
		tok, ok = p.expectIdent("name component")
		if !ok {
			return parts
		}
		parts = append(parts, tok.Text)
	}
	return parts
}

func (p *Parser) parseDecoder() *DecoderDeclCtx {
	pos := p.advance().Pos // decoder
	name, ok := p.expectIdent("decoder name")
	if !ok {
		p.skipTo("}")
		return nil
	}
	ctx := &DecoderDeclCtx{Pos: pos, Name: name.Text}
	if !p.expect("{") {
		p.skipTo("}")
		return nil
	}

	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		switch {
		case p.cur().IsIdent("namespace"):
			p.advance()
			ctx.Namespaces = p.parseNamespace()
			p.expect(";")
		case p.cur().IsIdent("proto_files"):
			p.advance()
			ctx.ProtoFiles = p.parseStringBlock()
			p.expect(";")
		case p.cur().Kind == lex.Ident:
			for {
				tok, ok := p.expectIdent("instruction group name")
				if !ok {
					p.skipTo(";")
					break
				}
				ctx.Groups = append(ctx.Groups, GroupRef{Pos: tok.Pos, Name: tok.Text})
				if p.cur().Is(",") {
					p.advance()
					continue
				}
				p.expect(";")
				break
			}
		default:
			p.errorf(p.cur().Pos, "unexpected token '%s' in decoder body", p.cur().Text)
			p.skipTo(";", "}")
		}
	}
	p.expect("}")
	return ctx
}

func (p *Parser) parseNamespace() []string {
	tok, ok := p.expectIdent("namespace component")
	if !ok {
		return nil
	}
	parts := []string{tok.Text}
	for p.cur().Is("::") {
		p.advance()
		tok, ok = p.expectIdent("namespace component")
		if !ok {
			return parts
		}
		parts = append(parts, tok.Text)
	}
	return parts
}

func (p *Parser) parseStringBlock() []string {
	if !p.expect("{") {
		return nil
	}
	var out []string
	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		if p.cur().Kind != lex.String {
			p.errorf(p.cur().Pos, "expected string, got '%s'", p.cur().Text)
			p.skipTo("}")
			return out
		}
		out = append(out, p.advance().Text)
		if p.cur().Is(",") {
			p.advance()
		}
	}
	p.expect("}")
	return out
}

func (p *Parser) parseGroup() *GroupDeclCtx {
	pos := p.advance().Pos // instruction
	if tok, ok := p.expectIdent("'group'"); !ok || tok.Text != "group" {
		p.skipTo("}")
		return nil
	}
	name, ok := p.expectIdent("group name")
	if !ok {
		p.skipTo("}")
		return nil
	}
	ctx := &GroupDeclCtx{Pos: pos, Name: name.Text}

	if !p.expect(":") {
		p.skipTo("}")
		return nil
	}
	ctx.MsgType = p.parseQualName()
	if ctx.MsgType == nil {
		p.skipTo("}")
		return nil
	}

	// Parent group: composes child groups over the same message type.
	if p.cur().Is("=") {
		p.advance()
		ctx.Parent = true
		if !p.expect("{") {
			p.skipTo(";")
			return ctx
		}
		for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
			tok, ok := p.expectIdent("child group name")
			if !ok {
				p.skipTo("}")
				break
			}
			ctx.ChildRefs = append(ctx.ChildRefs, GroupRef{Pos: tok.Pos, Name: tok.Text})
			if p.cur().Is(",") {
				p.advance()
			}
		}
		p.expect("}")
		p.expect(";")
		return ctx
	}

	if !p.expect("{") {
		p.skipTo("}")
		return ctx
	}
	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		if p.cur().IsIdent("GENERATE") {
			if gen := p.parseGenerate(); gen != nil {
				ctx.Generates = append(ctx.Generates, gen)
			}
			continue
		}
		if instr := p.parseInstr(); instr != nil {
			ctx.Instrs = append(ctx.Instrs, instr)
		} else {
			p.skipTo(";", "}")
		}
	}
	p.expect("}")
	return ctx
}

func (p *Parser) parseInstr() *InstrDefCtx {
	name, ok := p.expectIdent("instruction name")
	if !ok {
		return nil
	}
	ctx := &InstrDefCtx{Pos: name.Pos, Name: name.Text}
	if !p.expect(":") {
		return nil
	}

	for {
		c := p.parseConstraint()
		if c == nil {
			return nil
		}
		ctx.Constraints = append(ctx.Constraints, c)
		if p.cur().Is(",") {
			p.advance()
			continue
		}
		break
	}

	if p.cur().Is("{") {
		p.advance()
		for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
			s := p.parseSetter()
			if s == nil {
				p.skipTo(";", "}")
				continue
			}
			ctx.Setters = append(ctx.Setters, s)
		}
		p.expect("}")
	}
	p.expect(";")
	return ctx
}

var relops = map[string]Op{
	"==": OpEq, "!=": OpNe, "<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
}

func (p *Parser) parseConstraint() *ConstraintCtx {
	pos := p.cur().Pos
	path := p.parseQualName()
	if path == nil {
		return nil
	}
	ctx := &ConstraintCtx{Pos: pos, FieldPath: path, Op: OpHas}

	if op, ok := relops[p.cur().Text]; ok && p.cur().Kind == lex.Punct {
		p.advance()
		v, ok := p.parseLiteral()
		if !ok {
			return nil
		}
		ctx.Op = op
		ctx.Value = v
	}
	return ctx
}

func (p *Parser) parseSetter() *SetterCtx {
	name, ok := p.expectIdent("setter name")
	if !ok {
		return nil
	}
	ctx := &SetterCtx{Pos: name.Pos, Name: name.Text}
	if !p.expect("=") {
		return nil
	}
	ctx.FieldPath = p.parseQualName()
	if ctx.FieldPath == nil {
		return nil
	}
	if p.cur().IsIdent("if_not") {
		p.advance()
		v, ok := p.parseLiteral()
		if !ok {
			return nil
		}
		ctx.IfNot = &v
	}
	p.expect(";")
	return ctx
}

func (p *Parser) parseLiteral() (expr.Value, bool) {
	tok := p.cur()
	switch {
	case tok.Kind == lex.Number:
		p.advance()
		return expr.IntValue(tok.Int), true
	case tok.Is("-") && p.at(1).Kind == lex.Number:
		p.advance()
		tok = p.advance()
		return expr.IntValue(-tok.Int), true
	case tok.IsIdent("true"):
		p.advance()
		return expr.BoolValue(true), true
	case tok.IsIdent("false"):
		p.advance()
		return expr.BoolValue(false), true
	case tok.Kind == lex.String:
		p.advance()
		return expr.StringValue(tok.Text), true
	}
	p.errorf(tok.Pos, "expected literal, got '%s'", tok.Text)
	return expr.Value{}, false
}

func (p *Parser) parseGenerate() *GenerateCtx {
	pos := p.advance().Pos // GENERATE
	ctx := &GenerateCtx{Pos: pos}
	if !p.expect("(") {
		p.skipTo("}")
		return nil
	}

	for {
		r := p.parseRange()
		if r == nil {
			p.skipTo(")")
			break
		}
		ctx.Ranges = append(ctx.Ranges, r)
		if p.cur().Is(",") {
			p.advance()
			continue
		}
		break
	}
	p.expect(")")

	if !p.cur().Is("{") {
		p.errorf(p.cur().Pos, "expected '{' to open GENERATE body")
		return nil
	}
	open := p.advance()
	depth := 1
	var closing lex.Token
	for p.cur().Kind != lex.EOF {
		tok := p.advance()
		if tok.Is("{") {
			depth++
		}
		if tok.Is("}") {
			depth--
			if depth == 0 {
				closing = tok
				break
			}
		}
	}
	if depth != 0 {
		p.errorf(open.Pos, "unterminated GENERATE body")
		return nil
	}
	ctx.Body = p.src[open.End:closing.Offset]
	ctx.BodyPos = open.Pos

	if p.cur().Is(";") {
		p.advance()
	}
	return ctx
}

func (p *Parser) parseRange() *RangeCtx {
	ctx := &RangeCtx{Pos: p.cur().Pos}

	if p.cur().Is("[") {
		p.advance()
		for !p.cur().Is("]") && p.cur().Kind != lex.EOF {
			tok, ok := p.expectIdent("binding name")
			if !ok {
				return nil
			}
			ctx.Binds = append(ctx.Binds, tok.Text)
			if p.cur().Is(",") {
				p.advance()
			}
		}
		p.expect("]")
	} else {
		tok, ok := p.expectIdent("binding name")
		if !ok {
			return nil
		}
		ctx.Binds = []string{tok.Text}
	}

	if !p.expect("=") || !p.expect("{") {
		return nil
	}

	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		if p.cur().Is("{") {
			p.advance()
			var tuple []string
			for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
				v, ok := p.rangeScalar()
				if !ok {
					return nil
				}
				tuple = append(tuple, v)
				if p.cur().Is(",") {
					p.advance()
				}
			}
			p.expect("}")
			ctx.Tuples = append(ctx.Tuples, tuple)
		} else {
			v, ok := p.rangeScalar()
			if !ok {
				return nil
			}
			ctx.Tuples = append(ctx.Tuples, []string{v})
		}
		if p.cur().Is(",") {
			p.advance()
		}
	}
	p.expect("}")
	return ctx
}

// rangeScalar reads one range value as the raw text substituted into
// the GENERATE body.
func (p *Parser) rangeScalar() (string, bool) {
	tok := p.cur()
	switch {
	case tok.Kind == lex.Ident || tok.Kind == lex.Number || tok.Kind == lex.String:
		p.advance()
		return tok.Text, true
	case tok.Is("-") && p.at(1).Kind == lex.Number:
		p.advance()
		tok = p.advance()
		return "-" + tok.Text, true
	}
	p.errorf(tok.Pos, "expected range value, got '%s'", tok.Text)
	return "", false
}
