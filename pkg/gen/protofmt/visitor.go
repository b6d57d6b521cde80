package protofmt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/lex"
)

// Visitor drives the proto-format pipeline: it catalogues decoder and
// group declarations, expands includes and GENERATE blocks, loads the
// protobuf descriptors and materializes the requested decoder.
type Visitor struct {
	sink             *diag.Sink
	logger           *slog.Logger
	includeDirs      []string
	protoIncludeDirs []string

	usings       map[string]*UsingCtx
	groupDecls   map[string]*GroupDeclCtx
	decoderDecls map[string]*DecoderDeclCtx
	decoderOrder []string

	includeStack []string

	files []*desc.FileDescriptor
}

// NewVisitor creates a visitor. includeDirs is searched when resolving
// include statements, protoIncludeDirs when resolving proto imports.
func NewVisitor(sink *diag.Sink, logger *slog.Logger, includeDirs, protoIncludeDirs []string) *Visitor {
	return &Visitor{
		sink:             sink,
		logger:           logger,
		includeDirs:      includeDirs,
		protoIncludeDirs: protoIncludeDirs,
		usings:           map[string]*UsingCtx{},
		groupDecls:       map[string]*GroupDeclCtx{},
		decoderDecls:     map[string]*DecoderDeclCtx{},
	}
}

// ProcessFile parses and catalogues one top-level source file and,
// recursively, everything it includes.
func (v *Visitor) ProcessFile(fileName string) error {
	file, err := v.parseFile(fileName)
	if err != nil {
		return err
	}

	v.includeStack = append(v.includeStack, filepath.Clean(fileName))
	defer func() { v.includeStack = v.includeStack[:len(v.includeStack)-1] }()

	v.catalogue(file)
	return nil
}

func (v *Visitor) parseFile(fileName string) (*SourceFileCtx, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("cannot open '%s': %w", fileName, err)
	}

	v.logger.Debug("parsing proto-format file", "file", fileName)
	v.sink.PushFile(fileName)
	defer v.sink.PopFile()

	src := string(data)
	tokens := lex.NewLexer(fileName, src, v.sink).Tokens()
	return NewParser(tokens, src, v.sink).Parse(fileName), nil
}

func (v *Visitor) catalogue(file *SourceFileCtx) {
	for _, u := range file.Usings {
		if prev, ok := v.usings[u.Alias]; ok {
			v.sink.Errorf(diag.ClassSemantic, u.Pos,
				"duplicate using alias '%s'; earlier definition at %s", u.Alias, prev.Pos)
			continue
		}
		v.usings[u.Alias] = u
	}

	for _, g := range file.Groups {
		if prev, ok := v.groupDecls[g.Name]; ok {
			v.sink.Errorf(diag.ClassSemantic, g.Pos,
				"duplicate instruction group '%s'; earlier definition at %s", g.Name, prev.Pos)
			continue
		}
		v.groupDecls[g.Name] = g
	}

	for _, d := range file.Decoders {
		if prev, ok := v.decoderDecls[d.Name]; ok {
			v.sink.Errorf(diag.ClassSemantic, d.Pos,
				"duplicate decoder '%s'; earlier definition at %s", d.Name, prev.Pos)
			continue
		}
		v.decoderDecls[d.Name] = d
		v.decoderOrder = append(v.decoderOrder, d.Name)
	}

	for _, inc := range file.Includes {
		v.expandInclude(inc)
	}
}

func (v *Visitor) expandInclude(inc *IncludeCtx) {
	path, err := v.findInclude(inc.FileName)
	if err != nil {
		v.sink.Errorf(diag.ClassSemantic, inc.Pos, "%v", err)
		return
	}

	// Compare resolved paths, not names: distinct files may share a
	// base name across include directories.
	path = filepath.Clean(path)
	for _, inFlight := range v.includeStack {
		if inFlight == path {
			v.sink.Errorf(diag.ClassSemantic, inc.Pos,
				"recursive include of '%s'", inc.FileName)
			return
		}
	}

	v.includeStack = append(v.includeStack, path)
	defer func() { v.includeStack = v.includeStack[:len(v.includeStack)-1] }()

	file, err := v.parseFile(path)
	if err != nil {
		v.sink.Errorf(diag.ClassSemantic, inc.Pos, "%v", err)
		return
	}
	v.catalogue(file)
}

func (v *Visitor) findInclude(name string) (string, error) {
	dirs := append([]string{"."}, v.includeDirs...)
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("include file '%s' not found", name)
}

// generateRef matches one $(name) placeholder in a GENERATE body.
var generateRef = regexp.MustCompile(`\$\(\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)`)

// expandGenerate produces the instruction definitions of one GENERATE
// block: the cartesian product of its ranges substituted into the body
// text, which is then reparsed.
func (v *Visitor) expandGenerate(gen *GenerateCtx) []*InstrDefCtx {
	seen := map[string]bool{}
	ok := true
	for _, r := range gen.Ranges {
		for _, b := range r.Binds {
			if seen[b] {
				v.sink.Errorf(diag.ClassSemantic, r.Pos,
					"duplicate GENERATE binding '%s'", b)
				ok = false
			}
			seen[b] = true
		}
		for _, t := range r.Tuples {
			if len(t) != len(r.Binds) {
				v.sink.Errorf(diag.ClassSemantic, r.Pos,
					"GENERATE tuple has %d value(s) for %d binding(s)", len(t), len(r.Binds))
				ok = false
			}
		}
		if len(r.Tuples) == 0 {
			v.sink.Errorf(diag.ClassSemantic, r.Pos, "GENERATE range has no values")
			ok = false
		}
	}

	referenced := map[string]bool{}
	for _, m := range generateRef.FindAllStringSubmatch(gen.Body, -1) {
		name := m[1]
		referenced[name] = true
		if !seen[name] {
			v.sink.Errorf(diag.ClassSemantic, gen.BodyPos,
				"GENERATE body references undefined binding '%s'", name)
			ok = false
		}
	}
	for _, r := range gen.Ranges {
		for _, b := range r.Binds {
			if !referenced[b] {
				v.sink.Warningf(r.Pos, "GENERATE binding '%s' is never referenced", b)
			}
		}
	}
	if !ok {
		return nil
	}

	var out []*InstrDefCtx
	var walk func(i int, bindings map[string]string)
	walk = func(i int, bindings map[string]string) {
		if i == len(gen.Ranges) {
			out = append(out, v.instantiateBody(gen, bindings)...)
			return
		}
		r := gen.Ranges[i]
		for _, tuple := range r.Tuples {
			for col, b := range r.Binds {
				bindings[b] = tuple[col]
			}
			walk(i+1, bindings)
		}
	}
	walk(0, map[string]string{})
	return out
}

func (v *Visitor) instantiateBody(gen *GenerateCtx, bindings map[string]string) []*InstrDefCtx {
	body := generateRef.ReplaceAllStringFunc(gen.Body, func(m string) string {
		name := generateRef.FindStringSubmatch(m)[1]
		return bindings[name]
	})

	tokens := lex.NewLexer(gen.BodyPos.File, body, v.sink).Tokens()
	return NewParser(tokens, body, v.sink).ParseInstrDefs()
}

// DecoderSetter is one decoder member discovered from the setters of
// the decoder's encodings, with its type widened across all uses.
type DecoderSetter struct {
	Name string
	Kind expr.Kind
}

// CppType returns the member's C++ type spelling.
func (s DecoderSetter) CppType() string { return cppType(s.Kind) }

// GroupModel is one top-level instruction group of a decoder: its
// encodings and the dispatch tree built from them.
type GroupModel struct {
	Name      string
	Message   *desc.MessageDescriptor
	Encodings []*Encoding
	Tree      *EncodingGroup
}

// DecoderModel is the fully resolved decoder handed to the emitter.
type DecoderModel struct {
	Name       string
	Namespaces []string
	Groups     []*GroupModel
	Setters    []DecoderSetter
	// Encoding names across all groups, in declaration order.
	OpcodeNames []string
	// Proto files the decoder's message types come from.
	ProtoFileNames []string
}

// PbHeaders maps the decoder's proto files to the generated C++
// protobuf headers the emitted code includes.
func (m *DecoderModel) PbHeaders() []string {
	out := make([]string, 0, len(m.ProtoFileNames))
	for _, f := range m.ProtoFileNames {
		out = append(out, strings.TrimSuffix(f, ".proto")+".pb.h")
	}
	return out
}

// DecoderNames lists the catalogued decoders in declaration order.
func (v *Visitor) DecoderNames() []string {
	return append([]string{}, v.decoderOrder...)
}

// BuildDecoder materializes the named decoder. An empty name selects
// the sole catalogued decoder; with several catalogued, the name is
// required.
func (v *Visitor) BuildDecoder(name string, protoFiles []string) (*DecoderModel, error) {
	if name == "" {
		if len(v.decoderOrder) != 1 {
			return nil, fmt.Errorf("input declares %d decoders; select one with --decoder_name",
				len(v.decoderOrder))
		}
		name = v.decoderOrder[0]
	}
	decl, ok := v.decoderDecls[name]
	if !ok {
		return nil, fmt.Errorf("decoder '%s' is not defined in the input files", name)
	}

	files := append(append([]string{}, decl.ProtoFiles...), protoFiles...)
	if len(files) == 0 {
		return nil, fmt.Errorf("decoder '%s' names no proto files and none were given", name)
	}
	files = dedup(files)
	if err := v.loadProtoFiles(files); err != nil {
		return nil, err
	}

	model := &DecoderModel{
		Name:           decl.Name,
		Namespaces:     decl.Namespaces,
		ProtoFileNames: files,
	}

	opcodeSeen := map[string]diag.Pos{}
	for _, ref := range decl.Groups {
		group := v.buildGroup(ref, opcodeSeen, model)
		if group != nil {
			model.Groups = append(model.Groups, group)
		}
	}

	v.resolveSetters(model)
	return model, nil
}

func (v *Visitor) loadProtoFiles(files []string) error {
	parser := protoparse.Parser{ImportPaths: append([]string{"."}, v.protoIncludeDirs...)}
	fds, err := parser.ParseFiles(files...)
	if err != nil {
		return fmt.Errorf("cannot parse proto files: %w", err)
	}
	v.files = fds
	return nil
}

func dedup(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// findMessage resolves a fully-qualified message name against the
// loaded descriptors, including their transitive imports.
func (v *Visitor) findMessage(fqn string) *desc.MessageDescriptor {
	visited := map[string]bool{}
	var search func(fd *desc.FileDescriptor) *desc.MessageDescriptor
	search = func(fd *desc.FileDescriptor) *desc.MessageDescriptor {
		if visited[fd.GetName()] {
			return nil
		}
		visited[fd.GetName()] = true
		if md := fd.FindMessage(fqn); md != nil {
			return md
		}
		for _, dep := range fd.GetDependencies() {
			if md := search(dep); md != nil {
				return md
			}
		}
		return nil
	}
	for _, fd := range v.files {
		if md := search(fd); md != nil {
			return md
		}
	}
	return nil
}

// resolveMessageType maps a group's declared message type, through the
// using aliases, to a loaded descriptor.
func (v *Visitor) resolveMessageType(typeName []string, pos diag.Pos) *desc.MessageDescriptor {
	parts := typeName
	if len(parts) == 1 {
		if u, ok := v.usings[parts[0]]; ok {
			parts = u.Target
		}
	}
	fqn := strings.Join(parts, ".")
	md := v.findMessage(fqn)
	if md == nil {
		v.sink.Errorf(diag.ClassSemantic, pos,
			"message type '%s' not found in the given proto files", fqn)
	}
	return md
}

// buildGroup materializes one top-level group reference. Parent groups
// merge the encodings of their children into a single dispatch tree.
func (v *Visitor) buildGroup(ref GroupRef, opcodeSeen map[string]diag.Pos, model *DecoderModel) *GroupModel {
	decl, ok := v.groupDecls[ref.Name]
	if !ok {
		v.sink.Errorf(diag.ClassSemantic, ref.Pos,
			"undefined instruction group '%s'", ref.Name)
		return nil
	}

	msg := v.resolveMessageType(decl.MsgType, decl.Pos)
	if msg == nil {
		return nil
	}

	group := &GroupModel{Name: decl.Name, Message: msg}

	if decl.Parent {
		for _, child := range decl.ChildRefs {
			childDecl, ok := v.groupDecls[child.Name]
			if !ok {
				v.sink.Errorf(diag.ClassSemantic, child.Pos,
					"undefined instruction group '%s'", child.Name)
				continue
			}
			if childDecl.Parent {
				v.sink.Errorf(diag.ClassSemantic, child.Pos,
					"group '%s' composes '%s', which is itself a parent group",
					decl.Name, child.Name)
				continue
			}
			childMsg := v.resolveMessageType(childDecl.MsgType, childDecl.Pos)
			if childMsg == nil {
				continue
			}
			if childMsg != msg {
				v.sink.Errorf(diag.ClassSemantic, child.Pos,
					"group '%s' uses message '%s' but parent '%s' uses '%s'",
					child.Name, childMsg.GetFullyQualifiedName(),
					decl.Name, msg.GetFullyQualifiedName())
				continue
			}
			v.appendEncodings(group, childDecl, opcodeSeen, model)
		}
	} else {
		v.appendEncodings(group, decl, opcodeSeen, model)
	}

	tree := NewEncodingGroup(group.Name, msg, v.sink, v.logger)
	for _, enc := range group.Encodings {
		tree.AddEncoding(enc)
	}
	tree.AddSubGroups()
	group.Tree = tree
	return group
}

func (v *Visitor) appendEncodings(group *GroupModel, decl *GroupDeclCtx,
	opcodeSeen map[string]diag.Pos, model *DecoderModel) {

	defs := append([]*InstrDefCtx{}, decl.Instrs...)
	for _, gen := range decl.Generates {
		defs = append(defs, v.expandGenerate(gen)...)
	}

	for _, def := range defs {
		if prev, dup := opcodeSeen[def.Name]; dup {
			v.sink.Errorf(diag.ClassSemantic, def.Pos,
				"duplicate instruction '%s'; earlier definition at %s", def.Name, prev)
			continue
		}
		enc := v.buildEncoding(def, group.Message)
		if enc == nil {
			continue
		}
		opcodeSeen[def.Name] = def.Pos
		group.Encodings = append(group.Encodings, enc)
		model.OpcodeNames = append(model.OpcodeNames, def.Name)
	}
}

// buildEncoding resolves one instruction definition's constraints and
// setters against the message descriptor.
func (v *Visitor) buildEncoding(def *InstrDefCtx, msg *desc.MessageDescriptor) *Encoding {
	enc := NewEncoding(def.Name, msg, def.Pos)
	ok := true

	for _, c := range def.Constraints {
		field, path, chain, resolved := v.resolvePath(msg, c.FieldPath, c.Pos)
		if !resolved {
			ok = false
			continue
		}
		if c.Op != OpHas && field.GetOneOf() != nil {
			// A value test on a oneof member implies the member is the
			// active alternative.
			chain = append(chain, ChainLink{Field: field, Path: path})
		}
		if !enc.AddConstraint(c.Pos, c.Op, field, path, chain, c.Value, v.sink) {
			ok = false
		}
	}

	for _, s := range def.Setters {
		field, path, chain, resolved := v.resolvePath(msg, s.FieldPath, s.Pos)
		if !resolved {
			ok = false
			continue
		}
		if field.GetOneOf() != nil {
			chain = append(chain, ChainLink{Field: field, Path: path})
		}
		if !enc.AddSetter(s.Pos, s.Name, field, path, chain, s.IfNot, v.sink) {
			ok = false
		}
	}

	if !ok {
		return nil
	}
	return enc
}

// resolvePath walks a dotted field path from the message root,
// collecting the oneof members traversed before the final field.
func (v *Visitor) resolvePath(msg *desc.MessageDescriptor, segs []string,
	pos diag.Pos) (*desc.FieldDescriptor, string, []ChainLink, bool) {

	current := msg
	var chain []ChainLink
	var parts []string

	for i, seg := range segs {
		field := current.FindFieldByName(seg)
		if field == nil {
			v.sink.Errorf(diag.ClassSemantic, pos,
				"message '%s' has no field '%s'", current.GetFullyQualifiedName(), seg)
			return nil, "", nil, false
		}
		if field.IsRepeated() {
			v.sink.Errorf(diag.ClassSemantic, pos,
				"field '%s' is repeated; repeated fields cannot be used here", seg)
			return nil, "", nil, false
		}
		parts = append(parts, seg)
		path := strings.Join(parts, ".")

		if i == len(segs)-1 {
			return field, path, chain, true
		}

		if field.GetMessageType() == nil {
			v.sink.Errorf(diag.ClassSemantic, pos,
				"field '%s' is not a message; cannot select '%s' inside it",
				path, segs[i+1])
			return nil, "", nil, false
		}
		if field.GetOneOf() != nil {
			chain = append(chain, ChainLink{Field: field, Path: path})
		}
		current = field.GetMessageType()
	}
	return nil, "", nil, false
}

// resolveSetters widens the type of each setter name across all of the
// decoder's encodings and records the resulting member list, sorted by
// name.
func (v *Visitor) resolveSetters(model *DecoderModel) {
	kinds := map[string]expr.Kind{}
	first := map[string]diag.Pos{}

	for _, group := range model.Groups {
		for _, enc := range group.Encodings {
			for _, s := range enc.Setters {
				prev, ok := kinds[s.Name]
				if !ok {
					kinds[s.Name] = s.Kind
					first[s.Name] = s.Pos
					continue
				}
				widened, err := widenKind(prev, s.Kind)
				if err != nil {
					v.sink.Errorf(diag.ClassSemantic, s.Pos,
						"setter '%s': %v (first use at %s)", s.Name, err, first[s.Name])
					continue
				}
				kinds[s.Name] = widened
			}
		}
	}

	names := make([]string, 0, len(kinds))
	for n := range kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		model.Setters = append(model.Setters, DecoderSetter{Name: n, Kind: kinds[n]})
	}
}
