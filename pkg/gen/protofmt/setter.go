package protofmt

import (
	"fmt"

	"github.com/jhump/protoreflect/desc"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/names"
	"github.com/simforge/isagen/pkg/utils"
)

// setterMethod derives the Get/Set member suffix from a setter name.
func setterMethod(name string) string { return names.PascalCase(name) }

// Setter copies one (possibly nested) message field into a decoder
// member when its encoding matches. IfNot supplies a default literal
// used when the field's oneof arm is absent. DependsOn chains the Has
// constraints that make the field reachable.
type Setter struct {
	Pos       diag.Pos
	Name      string
	Field     *desc.FieldDescriptor
	Path      string
	Kind      expr.Kind
	IfNot     *expr.Value
	DependsOn *Constraint
}

// DeepCopy clones the setter; the descriptor is shared.
func (s *Setter) DeepCopy() *Setter {
	clone := *s
	if s.IfNot != nil {
		v := *s.IfNot
		clone.IfNot = &v
	}
	clone.DependsOn = s.DependsOn.DeepCopy()
	return &clone
}

// cppType returns the C++ spelling of a value kind for the generated
// getter/setter members.
func cppType(kind expr.Kind) string {
	switch kind {
	case expr.KindInt32:
		return "int32_t"
	case expr.KindInt64:
		return "int64_t"
	case expr.KindUint32:
		return "uint32_t"
	case expr.KindUint64:
		return "uint64_t"
	case expr.KindFloat:
		return "float"
	case expr.KindDouble:
		return "double"
	case expr.KindBool:
		return "bool"
	}
	return "std::string"
}

// representable lists, per kind, the kinds whose full value range it
// covers. Double is the top of the numeric order.
var representable = map[expr.Kind][]expr.Kind{
	expr.KindInt32:  {expr.KindInt32},
	expr.KindUint32: {expr.KindUint32},
	expr.KindInt64:  {expr.KindInt32, expr.KindUint32, expr.KindInt64},
	expr.KindUint64: {expr.KindUint32, expr.KindUint64},
	expr.KindFloat:  {expr.KindFloat},
	expr.KindDouble: {expr.KindInt32, expr.KindUint32, expr.KindInt64,
		expr.KindUint64, expr.KindFloat, expr.KindDouble},
}

// widenOrder is the candidate order for the join, narrowest first.
var widenOrder = []expr.Kind{
	expr.KindInt32, expr.KindUint32, expr.KindInt64,
	expr.KindUint64, expr.KindFloat, expr.KindDouble,
}

// widenKind joins two value kinds into the narrowest kind whose range
// covers both. The result is a true lattice join: commutative,
// idempotent and associative. Non-numeric kinds only join with
// themselves.
func widenKind(a, b expr.Kind) (expr.Kind, error) {
	if a == b {
		return a, nil
	}
	for _, candidate := range widenOrder {
		if covers(candidate, a) && covers(candidate, b) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("setter types %s and %s are not compatible", a, b)
}

func covers(k, x expr.Kind) bool {
	for _, c := range representable[k] {
		if c == x {
			return true
		}
	}
	return false
}

// dependencyChain collects the Has constraints guarding a setter,
// outermost first.
func dependencyChain(c *Constraint) []*Constraint {
	var chain []*Constraint
	for ; c != nil; c = c.DependsOn {
		chain = append(chain, c)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// emitSetters writes the setter calls for one matched encoding.
// Independent setters come first; dependent ones are grouped by their
// full dependency chain, tested as one combined condition. The if_not
// default lands in the else branch, so an absent arm anywhere along
// the chain still assigns it. recv prefixes the generated member
// calls, e.g. "decoder->".
func emitSetters(w *codeWriter, msgVar, recv string, setters []*Setter) {
	type group struct {
		chain   []*Constraint
		setters []*Setter
	}

	var order []string
	groups := map[string]*group{}
	for _, s := range setters {
		chain := dependencyChain(s.DependsOn)
		key := ""
		for _, c := range chain {
			key += oneofCondition(msgVar, c) + "&&"
		}
		g, ok := groups[key]
		if !ok {
			g = &group{chain: chain}
			groups[key] = g
			order = append(order, key)
		}
		g.setters = append(g.setters, s)
	}

	for _, key := range order {
		g := groups[key]
		if len(g.chain) == 0 {
			for _, s := range g.setters {
				emitSetterCall(w, msgVar, recv, s)
			}
			continue
		}

		conds := utils.Map(g.chain, func(c *Constraint) string {
			return oneofCondition(msgVar, c)
		})
		w.Line("if (%s) {", joinConds(conds))
		w.In()
		var withDefault []*Setter
		for _, s := range g.setters {
			emitSetterCall(w, msgVar, recv, s)
			if s.IfNot != nil {
				withDefault = append(withDefault, s)
			}
		}
		w.Out()
		if len(withDefault) > 0 {
			w.Line("} else {")
			w.In()
			for _, s := range withDefault {
				w.Line("%sSet%s(%s);", recv, setterMethod(s.Name), s.IfNot.Literal())
			}
			w.Out()
		}
		w.Line("}")
	}
}

func emitSetterCall(w *codeWriter, msgVar, recv string, s *Setter) {
	w.Line("%sSet%s(%s.%s);", recv, setterMethod(s.Name), msgVar, accessorPath(s.Path))
}
