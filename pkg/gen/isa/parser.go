package isa

import (
	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/lex"
)

// Parser builds the parse tree for one .isa file. The grammar, in
// rough EBNF:
//
//	file     := decl*
//	decl     := include | constant | widths | isa | bundle | slot
//	include  := "include" STRING ";"
//	constant := "int" IDENT "=" expr ";"
//	widths   := "disasm" "widths" "=" "{" expr ("," expr)* "}" ";"
//	isa      := "isa" IDENT "{" ("namespace" qual ";")?
//	            ("bundles" "{" names "}" ";")?
//	            ("slots" "{" slotRefs "}" ";")? "}"
//	bundle   := "bundle" IDENT "{" ... as isa, minus namespace ... "}"
//	slot     := "template"? "slot" IDENT ("<" formals ">")?
//	            ("[" NUMBER "]")? (":" bases)? "{" slotBody "}"
//	slotBody := (default | resources | opcodes)*
//
// Syntax errors are reported to the sink; the parser recovers at the
// next ";" or "}" so several errors surface per run.
type Parser struct {
	tokens []lex.Token
	pos    int
	sink   *diag.Sink
	engine *expr.Engine
}

// NewParser wraps a token stream.
func NewParser(tokens []lex.Token, engine *expr.Engine, sink *diag.Sink) *Parser {
	return &Parser{tokens: tokens, engine: engine, sink: sink}
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

// expect consumes the given punctuation or reports a syntax error.
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

// skipTo advances past the next occurrence of any of the given
// punctuation tokens, for error recovery.
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
		case tok.IsIdent("int"):
			if c := p.parseConst(); c != nil {
				file.Consts = append(file.Consts, c)
			}
		case tok.IsIdent("disasm"):
			if w := p.parseWidths(); w != nil {
				if file.Widths != nil {
					// Duplicate-at-top-level is diagnosed by the
					// cataloguing pass; keep the first here.
					continue
				}
				file.Widths = w
			}
		case tok.IsIdent("isa"):
			if d := p.parseIsa(); d != nil {
				file.Isas = append(file.Isas, d)
			}
		case tok.IsIdent("bundle"):
			if d := p.parseBundle(); d != nil {
				file.Bundles = append(file.Bundles, d)
			}
		case tok.IsIdent("slot") || tok.IsIdent("template"):
			if d := p.parseSlot(); d != nil {
				file.Slots = append(file.Slots, d)
			}
		default:
			p.errorf(tok.Pos, "unexpected token '%s' at top level", tok.Text)
			p.skipTo(";", "}")
		}
	}

	return file
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

func (p *Parser) parseConst() *ConstCtx {
	pos := p.advance().Pos // int
	name, ok := p.expectIdent("constant name")
	if !ok {
		p.skipTo(";")
		return nil
	}
	if !p.expect("=") {
		p.skipTo(";")
		return nil
	}
	e := p.parseExpr()
	p.expect(";")
	if e == nil {
		return nil
	}
	return &ConstCtx{Pos: pos, Name: name.Text, Expr: e}
}

func (p *Parser) parseWidths() *DisasmWidthsCtx {
	pos := p.advance().Pos // disasm
	if _, ok := p.expectIdent("'widths'"); !ok {
		p.skipTo(";")
		return nil
	}
	if !p.expect("=") || !p.expect("{") {
		p.skipTo(";")
		return nil
	}

	ctx := &DisasmWidthsCtx{Pos: pos}
	for {
		e := p.parseExpr()
		if e == nil {
			p.skipTo("}")
			break
		}
		ctx.Widths = append(ctx.Widths, e)
		if p.cur().Is(",") {
			p.advance()
			continue
		}
		p.expect("}")
		break
	}
	p.expect(";")
	return ctx
}

func (p *Parser) parseQualIdent() []string {
	var parts []string
	tok, ok := p.expectIdent("namespace component")
	if !ok {
		return nil
	}
	parts = append(parts, tok.Text)
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

func (p *Parser) parseIsa() *IsaDeclCtx {
	pos := p.advance().Pos // isa
	name, ok := p.expectIdent("isa name")
	if !ok {
		p.skipTo("}")
		return nil
	}
	ctx := &IsaDeclCtx{Pos: pos, Name: name.Text}
	if !p.expect("{") {
		p.skipTo("}")
		return nil
	}

	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		switch {
		case p.cur().IsIdent("namespace"):
			p.advance()
			ctx.Namespaces = p.parseQualIdent()
			p.expect(";")
		case p.cur().IsIdent("bundles"):
			p.advance()
			ctx.Bundles = p.parseNameList()
			p.expect(";")
		case p.cur().IsIdent("slots"):
			p.advance()
			ctx.Slots = p.parseSlotRefList()
			p.expect(";")
		default:
			p.errorf(p.cur().Pos, "unexpected token '%s' in isa body", p.cur().Text)
			p.skipTo(";", "}")
		}
	}
	p.expect("}")
	return ctx
}

func (p *Parser) parseBundle() *BundleDeclCtx {
	pos := p.advance().Pos // bundle
	name, ok := p.expectIdent("bundle name")
	if !ok {
		p.skipTo("}")
		return nil
	}
	ctx := &BundleDeclCtx{Pos: pos, Name: name.Text}
	if !p.expect("{") {
		p.skipTo("}")
		return nil
	}

	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		switch {
		case p.cur().IsIdent("bundles"):
			p.advance()
			ctx.Bundles = p.parseNameList()
			p.expect(";")
		case p.cur().IsIdent("slots"):
			p.advance()
			ctx.Slots = p.parseSlotRefList()
			p.expect(";")
		default:
			p.errorf(p.cur().Pos, "unexpected token '%s' in bundle body", p.cur().Text)
			p.skipTo(";", "}")
		}
	}
	p.expect("}")
	return ctx
}

func (p *Parser) parseNameList() []string {
	if !p.expect("{") {
		return nil
	}
	var names []string
	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		tok, ok := p.expectIdent("name")
		if !ok {
			p.skipTo("}")
			return names
		}
		names = append(names, tok.Text)
		if p.cur().Is(",") {
			p.advance()
		}
	}
	p.expect("}")
	return names
}

func (p *Parser) parseSlotRefList() []*SlotRefCtx {
	if !p.expect("{") {
		return nil
	}
	var refs []*SlotRefCtx
	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		tok, ok := p.expectIdent("slot name")
		if !ok {
			p.skipTo("}")
			return refs
		}
		ref := &SlotRefCtx{Pos: tok.Pos, Name: tok.Text}
		if p.cur().Is("[") {
			p.advance()
			if p.cur().Kind != lex.Number {
				p.errorf(p.cur().Pos, "expected slot instance number")
				p.skipTo("]")
			} else {
				ref.First = int(p.advance().Int)
				ref.Last = ref.First
				if p.cur().Is("..") {
					p.advance()
					if p.cur().Kind != lex.Number {
						p.errorf(p.cur().Pos, "expected slot instance range end")
					} else {
						ref.Last = int(p.advance().Int)
					}
				}
				p.expect("]")
			}
		}
		refs = append(refs, ref)
		if p.cur().Is(",") {
			p.advance()
		}
	}
	p.expect("}")
	return refs
}

func (p *Parser) parseSlot() *SlotDeclCtx {
	templated := false
	if p.cur().IsIdent("template") {
		templated = true
		p.advance()
	}
	pos := p.advance().Pos // slot
	name, ok := p.expectIdent("slot name")
	if !ok {
		p.skipTo("}")
		return nil
	}

	ctx := &SlotDeclCtx{
		Pos:       pos,
		Name:      name.Text,
		Templated: templated,
		Size:      1,
		Defaults:  &SlotDefaultsCtx{},
		Resources: map[string]*ResourceSpecCtx{},
	}

	if p.cur().Is("<") {
		if !templated {
			p.errorf(p.cur().Pos, "slot '%s' declares formals but is not templated", ctx.Name)
		}
		p.advance()
		for !p.cur().Is(">") && p.cur().Kind != lex.EOF {
			if p.cur().IsIdent("int") {
				p.advance()
			}
			tok, ok := p.expectIdent("template formal")
			if !ok {
				p.skipTo(">")
				break
			}
			ctx.Formals = append(ctx.Formals, tok.Text)
			if p.cur().Is(",") {
				p.advance()
			}
		}
		p.expect(">")
	} else if templated {
		p.errorf(pos, "templated slot '%s' has no formals", ctx.Name)
	}

	if p.cur().Is("[") {
		p.advance()
		if p.cur().Kind != lex.Number {
			p.errorf(p.cur().Pos, "expected slot replication count")
		} else {
			ctx.Size = int(p.advance().Int)
		}
		p.expect("]")
	}

	if p.cur().Is(":") {
		p.advance()
		for {
			base := p.parseBase()
			if base == nil {
				break
			}
			ctx.Bases = append(ctx.Bases, base)
			if p.cur().Is(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if !p.expect("{") {
		p.skipTo("}")
		return ctx
	}
	p.parseSlotBody(ctx)
	p.expect("}")
	return ctx
}

func (p *Parser) parseBase() *BaseCtx {
	tok, ok := p.expectIdent("base slot name")
	if !ok {
		return nil
	}
	base := &BaseCtx{Pos: tok.Pos, Name: tok.Text}
	if p.cur().Is("<") {
		p.advance()
		for !p.cur().Is(">") && p.cur().Kind != lex.EOF {
			e := p.parseExpr()
			if e == nil {
				p.skipTo(">")
				return base
			}
			base.Args = append(base.Args, e)
			if p.cur().Is(",") {
				p.advance()
			}
		}
		p.expect(">")
	}
	return base
}

func (p *Parser) parseSlotBody(ctx *SlotDeclCtx) {
	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		switch {
		case p.cur().IsIdent("default"):
			p.parseDefault(ctx)
		case p.cur().IsIdent("resources"):
			p.parseNamedResources(ctx)
		case p.cur().IsIdent("opcodes"):
			p.parseOpcodes(ctx)
		default:
			p.errorf(p.cur().Pos, "unexpected token '%s' in slot body", p.cur().Text)
			p.skipTo(";", "}")
		}
	}
}

func (p *Parser) parseDefault(ctx *SlotDeclCtx) {
	p.advance() // default
	tok, ok := p.expectIdent("default kind")
	if !ok {
		p.skipTo(";")
		return
	}

	switch tok.Text {
	case "size":
		if p.expect("=") {
			ctx.Defaults.Size = p.parseExpr()
		}
	case "latency":
		if p.expect("=") {
			ctx.Defaults.Latency = p.parseExpr()
		}
	case "attributes":
		if p.expect("=") {
			ctx.Defaults.Attributes = p.parseAttrList()
		}
	case "opcode":
		if p.expect("=") {
			p.parseDefaultOpcode(ctx)
		}
	default:
		p.errorf(tok.Pos, "unknown default kind '%s'", tok.Text)
	}
	p.expect(";")
}

func (p *Parser) parseDefaultOpcode(ctx *SlotDeclCtx) {
	for {
		tok, ok := p.expectIdent("'disasm' or 'semfunc'")
		if !ok {
			p.skipTo(";")
			return
		}
		if !p.expect(":") {
			return
		}
		strs := p.parseStringList()
		switch tok.Text {
		case "disasm":
			ctx.Defaults.Disasm = strs
		case "semfunc":
			ctx.Defaults.Semfunc = strs
		default:
			p.errorf(tok.Pos, "unknown default opcode attribute '%s'", tok.Text)
		}
		if p.cur().Is(",") {
			p.advance()
			continue
		}
		return
	}
}

func (p *Parser) parseStringList() []string {
	var strs []string
	for p.cur().Kind == lex.String {
		strs = append(strs, p.advance().Text)
		if p.cur().Is(",") && p.at(1).Kind == lex.String {
			p.advance()
			continue
		}
		break
	}
	if len(strs) == 0 {
		p.errorf(p.cur().Pos, "expected string literal")
	}
	return strs
}

func (p *Parser) parseAttrList() []*AttrCtx {
	if !p.expect("{") {
		return nil
	}
	var attrs []*AttrCtx
	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		tok, ok := p.expectIdent("attribute name")
		if !ok {
			p.skipTo("}")
			return attrs
		}
		attr := &AttrCtx{Pos: tok.Pos, Name: tok.Text, Expr: expr.Int(1)}
		if p.cur().Is("=") {
			p.advance()
			if e := p.parseExpr(); e != nil {
				attr.Expr = e
			}
		}
		attrs = append(attrs, attr)
		if p.cur().Is(",") {
			p.advance()
		}
	}
	p.expect("}")
	return attrs
}

func (p *Parser) parseNamedResources(ctx *SlotDeclCtx) {
	p.advance() // resources
	name, ok := p.expectIdent("resource spec name")
	if !ok {
		p.skipTo(";")
		return
	}
	if !p.expect("=") {
		p.skipTo(";")
		return
	}
	spec := p.parseResourceSpec()
	p.expect(";")
	if spec == nil {
		return
	}
	if _, dup := ctx.Resources[name.Text]; dup {
		p.sink.Errorf(diag.ClassSemantic, name.Pos,
			"duplicate resource spec '%s' in slot '%s'", name.Text, ctx.Name)
		return
	}
	ctx.Resources[name.Text] = spec
}

func (p *Parser) parseResourceSpec() *ResourceSpecCtx {
	pos := p.cur().Pos
	if !p.expect("{") {
		return nil
	}
	spec := &ResourceSpecCtx{Pos: pos}

	kind := ResourceUse
	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		switch {
		case p.cur().IsIdent("use") && p.at(1).Is(":"):
			kind = ResourceUse
			p.advance()
			p.advance()
		case p.cur().IsIdent("acquire") && p.at(1).Is(":"):
			kind = ResourceAcquire
			p.advance()
			p.advance()
		case p.cur().IsIdent("hold") && p.at(1).Is(":"):
			kind = ResourceHold
			p.advance()
			p.advance()
		}

		ref := p.parseResourceRef(kind)
		if ref == nil {
			p.skipTo("}")
			return spec
		}
		spec.Refs = append(spec.Refs, ref)

		if p.cur().Is(",") || p.cur().Is(";") {
			p.advance()
		}
	}
	p.expect("}")
	return spec
}

func (p *Parser) parseResourceRef(kind ResourceRefKind) *ResourceRefCtx {
	tok, ok := p.expectIdent("resource name")
	if !ok {
		return nil
	}
	ref := &ResourceRefCtx{Pos: tok.Pos, Kind: kind, Name: tok.Text}

	if p.cur().Is("[") {
		p.advance()
		ref.HasWindow = true
		if !p.cur().Is("..") {
			ref.Begin = p.parseExpr()
		}
		if p.cur().Is("..") {
			p.advance()
			if !p.cur().Is("]") {
				ref.End = p.parseExpr()
			}
		} else {
			p.errorf(p.cur().Pos, "expected '..' in resource window")
		}
		p.expect("]")
	}
	return ref
}

func (p *Parser) parseOpcodes(ctx *SlotDeclCtx) {
	p.advance() // opcodes
	if !p.expect("{") {
		return
	}
	for !p.cur().Is("}") && p.cur().Kind != lex.EOF {
		spec := p.parseOpcodeSpec()
		if spec == nil {
			p.skipTo(";", "}")
			continue
		}
		ctx.Opcodes = append(ctx.Opcodes, spec)
	}
	p.expect("}")
}

func (p *Parser) parseOpcodeSpec() *OpcodeSpecCtx {
	spec := &OpcodeSpecCtx{Pos: p.cur().Pos}

	switch {
	case p.cur().IsIdent("delete"):
		p.advance()
		name, ok := p.expectIdent("opcode name")
		if !ok {
			return nil
		}
		p.expect(";")
		spec.Mod = OpcodeDelete
		spec.Name = name.Text
		return spec
	case p.cur().IsIdent("override"):
		p.advance()
		spec.Mod = OpcodeOverride
	}

	name, ok := p.expectIdent("opcode name")
	if !ok {
		return nil
	}
	spec.Name = name.Text

	if p.cur().Is("{") {
		p.advance()
		for {
			op := p.parseOperandSpec()
			if op == nil {
				p.skipTo("}")
				break
			}
			spec.Operands = append(spec.Operands, op)
			if p.cur().Is("->") {
				p.advance()
				continue
			}
			p.expect("}")
			break
		}
	}

	for p.cur().Is(",") {
		p.advance()
		if !p.parseOpcodeAttr(spec) {
			break
		}
	}
	p.expect(";")
	return spec
}

func (p *Parser) parseOperandSpec() *OperandSpecCtx {
	pos := p.cur().Pos
	if !p.expect("(") {
		return nil
	}
	op := &OperandSpecCtx{Pos: pos}

	// Optional predicate operand before the first ':'.
	if p.cur().Kind == lex.Ident && p.at(1).Is(":") {
		op.PredOp = p.advance().Text
	}
	if !p.expect(":") {
		p.skipTo(")")
		return op
	}

	// Source operands up to the second ':'.
	for !p.cur().Is(":") && !p.cur().Is(")") && p.cur().Kind != lex.EOF {
		tok, ok := p.expectIdent("source operand")
		if !ok {
			p.skipTo(")")
			return op
		}
		op.SrcOps = append(op.SrcOps, tok.Text)
		if p.cur().Is(",") {
			p.advance()
		}
	}
	if !p.expect(":") {
		p.skipTo(")")
		return op
	}

	// Destination operands.
	for !p.cur().Is(")") && p.cur().Kind != lex.EOF {
		tok, ok := p.expectIdent("destination operand")
		if !ok {
			p.skipTo(")")
			return op
		}
		dest := &DestOpCtx{Pos: tok.Pos, Name: tok.Text}
		if p.cur().Is("(") {
			p.advance()
			if p.cur().Is("*") {
				p.advance()
				dest.Wildcard = true
			} else {
				dest.Latency = p.parseExpr()
			}
			p.expect(")")
		}
		op.DestOps = append(op.DestOps, dest)
		if p.cur().Is(",") {
			p.advance()
		}
	}
	p.expect(")")
	return op
}

func (p *Parser) parseOpcodeAttr(spec *OpcodeSpecCtx) bool {
	tok, ok := p.expectIdent("opcode attribute")
	if !ok {
		return false
	}

	switch tok.Text {
	case "size":
		if p.expect("=") {
			spec.Size = p.parseExpr()
		}
	case "disasm":
		if p.expect(":") {
			spec.Disasm = p.parseStringList()
		}
	case "semfunc":
		if p.expect(":") {
			spec.Semfunc = p.parseStringList()
		}
	case "resources":
		if p.expect(":") {
			if p.cur().Is("{") {
				spec.Resources = p.parseResourceSpec()
			} else {
				ref, ok := p.expectIdent("resource spec name")
				if ok {
					spec.ResourceRefName = ref.Text
					spec.ResourceRefPos = ref.Pos
				}
			}
		}
	case "attributes":
		if p.expect(":") {
			spec.Attributes = p.parseAttrList()
		}
	default:
		p.errorf(tok.Pos, "unknown opcode attribute '%s'", tok.Text)
		return false
	}
	return true
}

// Expression grammar: standard precedence, identifiers become Param
// nodes (resolved later against formals and globals), and calls go
// through the engine so arity errors surface at parse time.

func (p *Parser) parseExpr() *expr.Expr {
	lhs := p.parseTerm()
	if lhs == nil {
		return nil
	}
	for p.cur().Is("+") || p.cur().Is("-") {
		op := p.advance().Text
		rhs := p.parseTerm()
		if rhs == nil {
			return nil
		}
		if op == "+" {
			lhs = expr.Add(lhs, rhs)
		} else {
			lhs = expr.Sub(lhs, rhs)
		}
	}
	return lhs
}

func (p *Parser) parseTerm() *expr.Expr {
	lhs := p.parseFactor()
	if lhs == nil {
		return nil
	}
	for p.cur().Is("*") || p.cur().Is("/") {
		op := p.advance().Text
		rhs := p.parseFactor()
		if rhs == nil {
			return nil
		}
		if op == "*" {
			lhs = expr.Mul(lhs, rhs)
		} else {
			lhs = expr.Div(lhs, rhs)
		}
	}
	return lhs
}

func (p *Parser) parseFactor() *expr.Expr {
	tok := p.cur()

	switch {
	case tok.Is("-"):
		p.advance()
		e := p.parseFactor()
		if e == nil {
			return nil
		}
		return expr.Negate(e)

	case tok.Is("("):
		p.advance()
		e := p.parseExpr()
		p.expect(")")
		return e

	case tok.Kind == lex.Number:
		p.advance()
		return expr.Int(tok.Int)

	case tok.Kind == lex.Ident:
		p.advance()
		if p.cur().Is("(") {
			p.advance()
			var args []*expr.Expr
			for !p.cur().Is(")") && p.cur().Kind != lex.EOF {
				arg := p.parseExpr()
				if arg == nil {
					p.skipTo(")")
					return nil
				}
				args = append(args, arg)
				if p.cur().Is(",") {
					p.advance()
				}
			}
			p.expect(")")
			call, err := p.engine.Call(tok.Text, args, tok.Pos)
			if err != nil {
				p.sink.Errorf(diag.ClassSemantic, tok.Pos, "%v", err)
				return nil
			}
			return call
		}
		return expr.Param(tok.Text, tok.Pos)
	}

	p.errorf(tok.Pos, "expected expression, got '%s'", tok.Text)
	return nil
}
