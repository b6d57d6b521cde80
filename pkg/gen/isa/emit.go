package isa

import (
	"bytes"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
	"github.com/simforge/isagen/pkg/gen/names"
	"github.com/simforge/isagen/pkg/utils"
)

//go:embed templates
var templateFS embed.FS

// Emitter renders the four output files of the ISA path from a
// materialized instruction set. Files are only written when the sink
// holds no errors after model evaluation.
type Emitter struct {
	set       *InstructionSet
	engine    *expr.Engine
	sink      *diag.Sink
	logger    *slog.Logger
	prefix    string
	outputDir string

	tmpl *template.Template
}

// NewEmitter creates an emitter for the given instruction set.
func NewEmitter(set *InstructionSet, engine *expr.Engine, sink *diag.Sink,
	logger *slog.Logger, prefix, outputDir string) (*Emitter, error) {

	funcs := template.FuncMap{
		"PascalCase":  names.PascalCase,
		"SnakeCase":   names.SnakeCase,
		"HeaderGuard": names.HeaderGuard,
		"ToUpper":     strings.ToUpper,
		"ToLower":     strings.ToLower,
	}

	tmpl, err := template.New("isa").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("error parsing isa templates: %w", err)
	}

	return &Emitter{
		set:       set,
		engine:    engine,
		sink:      sink,
		logger:    logger,
		prefix:    prefix,
		outputDir: outputDir,
		tmpl:      tmpl,
	}, nil
}

// Emit model types: all expressions pre-evaluated so the templates
// only interpolate.

type emitModel struct {
	IsaName    string
	IsaPascal  string
	Namespaces []string

	DecoderHeaderName string
	EnumsHeaderName   string
	DecoderGuard      string
	EnumsGuard        string

	Opcodes          []string
	Slots            []*slotModel
	PredOps          []string
	SourceOps        []string
	DestOps          []string
	SimpleResources  []string
	ComplexResources []string
	Attributes       []string
}

type slotModel struct {
	Name         string
	PascalName   string
	Size         int
	Instructions []*instModel
	Default      *instModel
}

type instModel struct {
	Opcode      string
	Semfunc     string
	Size        int64
	Pred        string
	Sources     []string
	Dests       []*destModel
	SimpleUses  []string
	Complex     []*complexRefModel
	Disasm      []*disasmModel
	Attributes  []*attrModel
	HasChildren bool
}

type destModel struct {
	Name     string
	DestNo   int
	Latency  int64
	Wildcard bool
}

type complexRefModel struct {
	Resource string
	Begin    int64
	End      int64
}

type disasmModel struct {
	Width     int
	Fragments []string
	Infos     []*FormatInfo
}

type attrModel struct {
	Name  string
	Value int64
}

// Emit builds the model and writes the four output files. No file is
// created when any error has been recorded.
func (e *Emitter) Emit() error {
	model := e.buildModel()
	if e.sink.HasError() {
		return fmt.Errorf("errors found; skipping code emission")
	}

	files := map[string]string{
		model.EnumsHeaderName:   "enums_h.tmpl",
		model.DecoderHeaderName: "decoder_h.tmpl",
		strings.TrimSuffix(model.EnumsHeaderName, ".h") + ".cc":   "enums_cc.tmpl",
		strings.TrimSuffix(model.DecoderHeaderName, ".h") + ".cc": "decoder_cc.tmpl",
	}

	// Render everything before writing anything, so output files are
	// never partial.
	rendered := map[string][]byte{}
	for name, tmplName := range files {
		var buf bytes.Buffer
		if err := e.tmpl.ExecuteTemplate(&buf, tmplName, model); err != nil {
			return fmt.Errorf("error rendering %s: %w", name, err)
		}
		rendered[name] = buf.Bytes()
	}

	for name, data := range rendered {
		path := filepath.Join(e.outputDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("error writing %s: %w", path, err)
		}
		e.logger.Info("wrote output file", "file", path)
	}
	return nil
}

func (e *Emitter) buildModel() *emitModel {
	model := &emitModel{
		IsaName:           e.set.Name,
		IsaPascal:         names.PascalCase(e.set.Name),
		Namespaces:        e.set.Namespaces,
		DecoderHeaderName: e.prefix + "_decoder.h",
		EnumsHeaderName:   e.prefix + "_enums.h",
	}
	model.DecoderGuard = names.HeaderGuard(model.DecoderHeaderName)
	model.EnumsGuard = names.HeaderGuard(model.EnumsHeaderName)

	for _, op := range e.set.Opcodes.All() {
		if op.Name == DefaultOpcodeName {
			continue
		}
		model.Opcodes = append(model.Opcodes, op.PascalName())
	}

	pred, src, dest := e.set.OperandEnums()
	model.PredOps = pascalAll(pred)
	model.SourceOps = pascalAll(src)
	model.DestOps = pascalAll(dest)

	for _, r := range e.set.Resources.Simple() {
		model.SimpleResources = append(model.SimpleResources, names.PascalCase(r.Name))
	}
	for _, r := range e.set.Resources.ComplexResources() {
		model.ComplexResources = append(model.ComplexResources, names.PascalCase(r.Name))
	}
	model.Attributes = e.set.AttributeNames()

	for _, slot := range e.set.SlotOrder() {
		if slot.Templated {
			// Templated slots only contribute through inheritance.
			continue
		}
		model.Slots = append(model.Slots, e.buildSlotModel(slot))
	}

	return model
}

func (e *Emitter) buildSlotModel(slot *Slot) *slotModel {
	sm := &slotModel{
		Name:       slot.Name,
		PascalName: slot.PascalName(),
		Size:       slot.Size,
	}

	for _, inst := range slot.Instructions {
		sm.Instructions = append(sm.Instructions, e.buildInstModel(inst))
	}
	if slot.DefaultInstruction != nil {
		sm.Default = e.buildInstModel(slot.DefaultInstruction)
	}
	return sm
}

func (e *Emitter) buildInstModel(inst *Instruction) *instModel {
	im := &instModel{
		Opcode:      inst.Opcode.PascalName(),
		Semfunc:     inst.Semfunc,
		Pred:        names.PascalCase(inst.Opcode.PredOp),
		HasChildren: inst.Child != nil,
	}
	if inst.Opcode.PredOp == "" {
		im.Pred = ""
	}

	im.Size = e.eval(inst.Size, inst, "size of opcode "+inst.Opcode.Name)

	for _, name := range inst.Opcode.SrcOps {
		im.Sources = append(im.Sources, names.PascalCase(name))
	}
	for i, d := range inst.Opcode.DestOps {
		dm := &destModel{Name: names.PascalCase(d.Name), DestNo: i, Wildcard: d.Wildcard}
		if !d.Wildcard {
			dm.Latency = e.eval(d.Latency, inst, "latency of operand "+d.Name)
		}
		im.Dests = append(im.Dests, dm)
	}

	for _, ref := range inst.AllRefs() {
		if !ref.Resource.Complex {
			im.SimpleUses = append(im.SimpleUses, names.PascalCase(ref.Resource.Name))
			continue
		}
		im.Complex = append(im.Complex, &complexRefModel{
			Resource: names.PascalCase(ref.Resource.Name),
			Begin:    e.eval(ref.Begin, inst, "window begin of resource "+ref.Resource.Name),
			End:      e.eval(ref.End, inst, "window end of resource "+ref.Resource.Name),
		})
	}

	for _, f := range inst.Disasm {
		im.Disasm = append(im.Disasm, &disasmModel{
			Width:     f.Width,
			Fragments: f.Fragments,
			Infos:     f.Infos,
		})
	}

	for _, name := range sortedNames(boolKeys(inst.Attributes)) {
		im.Attributes = append(im.Attributes, &attrModel{
			Name:  name,
			Value: e.eval(inst.Attributes[name], inst, "attribute "+name),
		})
	}

	return im
}

func (e *Emitter) eval(ex *expr.Expr, inst *Instruction, what string) int64 {
	if ex == nil {
		return 0
	}
	v, err := e.engine.IntValueOf(ex, inst.Subst)
	if err != nil {
		e.sink.Errorf(diag.ClassSemantic, diag.Pos{},
			"cannot evaluate %s in slot '%s': %v", what, inst.Slot.Name, err)
		return 0
	}
	return v
}

func pascalAll(in []string) []string {
	return utils.Map(in, names.PascalCase)
}

func boolKeys(m map[string]*expr.Expr) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}
