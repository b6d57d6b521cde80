package protofmt

import (
	"fmt"
	"log/slog"

	"github.com/jhump/protoreflect/desc"
	"github.com/xlab/treeprint"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/names"
	"github.com/simforge/isagen/pkg/utils"
)

// partitionKey identifies the dispatch axis of an equality
// constraint: the field path, or the containing oneof for Has.
func partitionKey(c *Constraint) string {
	if c.Op == OpHas {
		return oneofKey(c.Path, c.Field.GetOneOf())
	}
	return c.Path
}

// FieldInfo aggregates the observed equality values of one partition
// axis across a group's encodings.
type FieldInfo struct {
	Key     string
	Field   *desc.FieldDescriptor
	Oneof   *desc.OneOfDescriptor
	IsOneof bool
	// Accessor path of the containing message for oneof axes.
	ParentPath string
	Path       string

	Min, Max int64
	// value -> encodings carrying that equality value.
	Values map[int64][]*Encoding
}

// Unique returns the number of distinct observed values.
func (f *FieldInfo) Unique() int { return len(f.Values) }

// Density is the fill ratio of the value range.
func (f *FieldInfo) Density() float64 {
	if f.Unique() == 0 {
		return 0
	}
	return float64(f.Unique()) / float64(f.Max-f.Min+1)
}

// readAccessor renders the C++ expression reading the axis value.
func (f *FieldInfo) readAccessor(msgVar string) string {
	if f.IsOneof {
		prefix := msgVar + "."
		if f.ParentPath != "" {
			prefix += accessorPath(f.ParentPath) + "."
		}
		return fmt.Sprintf("static_cast<int64_t>(%s%s_case())", prefix, f.Oneof.GetName())
	}
	return fmt.Sprintf("static_cast<int64_t>(%s.%s)", msgVar, accessorPath(f.Path))
}

// EncodingGroup is one node of the decoder tree. Intermediate nodes
// dispatch on the differentiator; leaves test remaining constraints
// with an if-chain.
type EncodingGroup struct {
	Name    string
	Message *desc.MessageDescriptor

	Encodings []*Encoding

	fields     map[string]*FieldInfo
	fieldOrder []string

	Differentiator *FieldInfo
	Children       []*EncodingGroup
	childValues    []int64
	// Encodings not constraining the differentiator; tested in the
	// dispatch fallback.
	residual []*Encoding

	sink   *diag.Sink
	logger *slog.Logger
}

// NewEncodingGroup creates an empty group node.
func NewEncodingGroup(name string, msg *desc.MessageDescriptor,
	sink *diag.Sink, logger *slog.Logger) *EncodingGroup {
	return &EncodingGroup{
		Name:    name,
		Message: msg,
		fields:  map[string]*FieldInfo{},
		sink:    sink,
		logger:  logger,
	}
}

// AddEncoding indexes the encoding's equality constraints into the
// group's field map.
func (g *EncodingGroup) AddEncoding(enc *Encoding) {
	g.Encodings = append(g.Encodings, enc)

	for _, c := range enc.Equality {
		key := partitionKey(c)
		fi, ok := g.fields[key]
		if !ok {
			fi = &FieldInfo{Key: key, Path: c.Path, Values: map[int64][]*Encoding{}}
			if c.Op == OpHas {
				fi.IsOneof = true
				fi.Oneof = c.Field.GetOneOf()
				fi.ParentPath = parentPath(c.Path)
			} else {
				fi.Field = c.Field
			}
			g.fields[key] = fi
			g.fieldOrder = append(g.fieldOrder, key)
		}

		v, err := c.Value.Int()
		if err != nil {
			g.sink.Errorf(diag.ClassInternal, c.Pos,
				"equality constraint on '%s' has non-integral value", c.Path)
			continue
		}
		if len(fi.Values) == 0 || v < fi.Min {
			fi.Min = v
		}
		if len(fi.Values) == 0 || v > fi.Max {
			fi.Max = v
		}
		fi.Values[v] = append(fi.Values[v], enc)
	}
}

// AddSubGroups chooses the axis with the most distinct values and
// splits the group into one child per observed value, recursively.
// Groups with no axis, or whose best axis has a single value, stay
// leaves.
func (g *EncodingGroup) AddSubGroups() {
	if len(g.fieldOrder) == 0 {
		g.checkAmbiguity()
		return
	}

	var best *FieldInfo
	for _, key := range g.fieldOrder {
		fi := g.fields[key]
		if best == nil || fi.Unique() > best.Unique() {
			best = fi
		}
	}
	if best.Unique() <= 1 {
		g.checkAmbiguity()
		return
	}
	g.Differentiator = best
	g.logger.Debug("partitioning encoding group",
		"group", g.Name, "axis", best.Key, "values", best.Unique())

	values := utils.SortedKeys(best.Values)

	covered := map[string]bool{}
	for _, v := range values {
		child := NewEncodingGroup(childName(g.Name, v), g.Message, g.sink, g.logger)
		for _, enc := range best.Values[v] {
			covered[enc.Name] = true
			clone := enc.DeepCopy()
			clone.RemoveEqualityConstraint(best.Key)
			child.AddEncoding(clone)
		}
		child.AddSubGroups()
		g.Children = append(g.Children, child)
		g.childValues = append(g.childValues, v)
	}

	for _, enc := range g.Encodings {
		if !covered[enc.Name] {
			g.residual = append(g.residual, enc)
		}
	}
}

// checkAmbiguity reports encodings a leaf cannot tell apart: more
// than one with no remaining constraints at all.
func (g *EncodingGroup) checkAmbiguity() {
	var unconstrained []*Encoding
	for _, enc := range g.Encodings {
		if len(enc.Equality) == 0 && len(enc.Other) == 0 {
			unconstrained = append(unconstrained, enc)
		}
	}
	for i := 1; i < len(unconstrained); i++ {
		g.sink.Errorf(diag.ClassSemantic, unconstrained[i].Pos,
			"instruction '%s' is ambiguous with '%s': identical constraints",
			unconstrained[i].Name, unconstrained[0].Name)
	}
}

func childName(base string, value int64) string {
	if value < 0 {
		return fmt.Sprintf("%s_m%d", base, -value)
	}
	return fmt.Sprintf("%s_%d", base, value)
}

// FnName is the generated dispatch function for this node.
func (g *EncodingGroup) FnName() string {
	return "Decode" + g.Name
}

// Dump renders the decoder tree for --dump-tree.
func (g *EncodingGroup) Dump() string {
	tree := treeprint.New()
	g.dumpInto(tree)
	return tree.String()
}

func (g *EncodingGroup) dumpInto(branch treeprint.Tree) {
	label := g.Name
	if g.Differentiator != nil {
		label = fmt.Sprintf("%s [on %s, %d values, density %.2f]",
			g.Name, g.Differentiator.Path, g.Differentiator.Unique(),
			g.Differentiator.Density())
	} else {
		encs := make([]string, 0, len(g.Encodings))
		for _, e := range g.Encodings {
			encs = append(encs, e.Name)
		}
		label = fmt.Sprintf("%s %v", g.Name, encs)
	}
	node := branch.AddBranch(label)
	for _, child := range g.Children {
		child.dumpInto(node)
	}
}

// EmitCode writes the decode functions for this subtree, children
// first so every referenced function is defined above its use. fnType
// is the function-pointer alias declared once per root group.
func (g *EncodingGroup) EmitCode(w *codeWriter, decoderType, fnType string, threshold float64) {
	g.EmitHelpers(w, decoderType, fnType, threshold)
	g.EmitFn(w, g.FnName(), decoderType, fnType, threshold)
}

// EmitHelpers writes everything this node's dispatch function depends
// on: the full subtrees of its children and its own fallback function.
// The drivers place these in an anonymous namespace, with only the
// root function defined outside it.
func (g *EncodingGroup) EmitHelpers(w *codeWriter, decoderType, fnType string, threshold float64) {
	for _, child := range g.Children {
		child.EmitCode(w, decoderType, fnType, threshold)
	}

	msgType := cppQualified(g.Message.GetFullyQualifiedName())

	if g.Differentiator != nil {
		// Fallback for values with no child group, carrying any
		// encodings that do not constrain the dispatch axis.
		w.Line("OpcodeEnum %s_None(const %s &inst_proto, %s *decoder) {",
			g.FnName(), msgType, decoderType)
		w.In()
		for _, enc := range g.residual {
			g.emitEncodingMatch(w, enc)
		}
		w.Line("return OpcodeEnum::kNone;")
		w.Out()
		w.Line("}")
		w.Line("")
	}
}

// EmitFn writes this node's own dispatch or leaf function under the
// given name. The driver names the root node's function differently
// from the decoder method wrapping it.
func (g *EncodingGroup) EmitFn(w *codeWriter, fnName, decoderType, fnType string, threshold float64) {
	msgType := cppQualified(g.Message.GetFullyQualifiedName())

	w.Line("OpcodeEnum %s(const %s &inst_proto, %s *decoder) {",
		fnName, msgType, decoderType)
	w.In()
	if g.Differentiator == nil {
		g.emitLeaf(w)
	} else {
		g.emitDispatch(w, fnType, threshold)
	}
	w.Out()
	w.Line("}")
	w.Line("")
}

// emitLeaf writes the if-chain testing each encoding's remaining
// constraints. A single unconstrained encoding decodes directly.
func (g *EncodingGroup) emitLeaf(w *codeWriter) {
	for _, enc := range g.Encodings {
		g.emitEncodingMatch(w, enc)
	}
	w.Line("return OpcodeEnum::kNone;")
}

func (g *EncodingGroup) emitEncodingMatch(w *codeWriter, enc *Encoding) {
	conds := make([]string, 0, len(enc.Equality)+len(enc.Other))
	for _, c := range enc.Equality {
		conds = append(conds, conditionFor(c))
	}
	for _, c := range enc.Other {
		conds = append(conds, conditionFor(c))
	}

	if len(conds) == 0 {
		emitSetters(w, "inst_proto", "decoder->", enc.Setters)
		w.Line("return OpcodeEnum::k%s;", names.PascalCase(enc.Name))
		return
	}

	w.Line("if (%s) {", joinConds(conds))
	w.In()
	emitSetters(w, "inst_proto", "decoder->", enc.Setters)
	w.Line("return OpcodeEnum::k%s;", names.PascalCase(enc.Name))
	w.Out()
	w.Line("}")
}

// conditionFor renders one constraint as a C++ boolean expression.
func conditionFor(c *Constraint) string {
	if c.Op == OpHas {
		return oneofCondition("inst_proto", c)
	}
	return fmt.Sprintf("inst_proto.%s %s %s", accessorPath(c.Path), c.Op, c.Value.Literal())
}

func joinConds(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " && " + c
	}
	return out
}

// emitDispatch writes the value switch for an intermediate node:
// a dense function-pointer table when the axis density reaches the
// threshold, otherwise a flat_hash_map. Absent values fall through to
// the node's _None function.
func (g *EncodingGroup) emitDispatch(w *codeWriter, fnType string, threshold float64) {
	d := g.Differentiator
	fallback := g.FnName() + "_None"

	w.Line("int64_t value = %s;", d.readAccessor("inst_proto"))

	if d.Density() >= threshold {
		size := d.Max - d.Min + 1
		w.Line("static constexpr %s kTable[%d] = {", fnType, size)
		w.In()
		byValue := map[int64]*EncodingGroup{}
		for i, v := range g.childValues {
			byValue[v] = g.Children[i]
		}
		for v := d.Min; v <= d.Max; v++ {
			if child, ok := byValue[v]; ok {
				w.Line("&%s,", child.FnName())
			} else {
				w.Line("&%s,", fallback)
			}
		}
		w.Out()
		w.Line("};")
		w.Line("if (value < %d || value > %d) return %s(inst_proto, decoder);", d.Min, d.Max, fallback)
		w.Line("return kTable[value - %d](inst_proto, decoder);", d.Min)
		return
	}

	w.Line("static const absl::flat_hash_map<int64_t, %s> kMap = {", fnType)
	w.In()
	for i, v := range g.childValues {
		w.Line("{%d, &%s},", v, g.Children[i].FnName())
	}
	w.Out()
	w.Line("};")
	w.Line("auto it = kMap.find(value);")
	w.Line("if (it == kMap.end()) return %s(inst_proto, decoder);", fallback)
	w.Line("return it->second(inst_proto, decoder);")
}
