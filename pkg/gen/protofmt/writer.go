package protofmt

import (
	"fmt"
	"strings"

	"github.com/simforge/isagen/pkg/gen/names"
)

// codeWriter accumulates generated C++ with indentation tracking.
type codeWriter struct {
	b      strings.Builder
	indent int
}

func (w *codeWriter) In()  { w.indent++ }
func (w *codeWriter) Out() { w.indent-- }

func (w *codeWriter) Line(format string, args ...any) {
	if format == "" {
		w.b.WriteByte('\n')
		return
	}
	w.b.WriteString(strings.Repeat("  ", w.indent))
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

func (w *codeWriter) String() string { return w.b.String() }

// accessorPath turns a dotted field path into the C++ accessor chain:
// "opc.subop.rd" becomes "opc().subop().rd()".
func accessorPath(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = p + "()"
	}
	return strings.Join(parts, ".")
}

// cppQualified converts a protobuf fully-qualified name into the C++
// spelling.
func cppQualified(fullName string) string {
	return strings.ReplaceAll(fullName, ".", "::")
}

// caseEnumerator returns the generated oneof case enumerator for a
// member field name, e.g. "subop" -> "kSubop".
func caseEnumerator(fieldName string) string {
	return "k" + names.PascalCase(fieldName)
}

// oneofCondition renders the discriminator test asserted by a Has
// constraint, e.g. "inst.opc().subop_case() == Riscv::Opc::kRType".
func oneofCondition(msgVar string, c *Constraint) string {
	oneof := c.Field.GetOneOf()
	parent := parentPath(c.Path)

	accessor := msgVar + "."
	if parent != "" {
		accessor += accessorPath(parent) + "."
	}
	owner := c.Field.GetParent().GetFullyQualifiedName()
	return fmt.Sprintf("%s%s_case() == %s::%s",
		accessor, oneof.GetName(), cppQualified(owner), caseEnumerator(c.Field.GetName()))
}

// parentPath strips the last segment of a dotted path.
func parentPath(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i]
	}
	return ""
}
