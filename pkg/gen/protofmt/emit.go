package protofmt

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

// Emitter renders the proto decoder header and source from a resolved
// decoder model. Files are only written when the sink holds no errors.
type Emitter struct {
	model     *DecoderModel
	sink      *diag.Sink
	logger    *slog.Logger
	prefix    string
	outputDir string
	includes  []string
	threshold float64

	tmpl *template.Template
}

// NewEmitter creates an emitter for the given decoder model. includes
// lists extra header files for the generated header; threshold is the
// fill ratio above which a dispatch uses a dense table.
func NewEmitter(model *DecoderModel, sink *diag.Sink, logger *slog.Logger,
	prefix, outputDir string, includes []string, threshold float64) (*Emitter, error) {

	funcs := template.FuncMap{
		"PascalCase":  names.PascalCase,
		"SnakeCase":   names.SnakeCase,
		"HeaderGuard": names.HeaderGuard,
	}

	tmpl, err := template.New("protofmt").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("error parsing proto decoder templates: %w", err)
	}

	return &Emitter{
		model:     model,
		sink:      sink,
		logger:    logger,
		prefix:    prefix,
		outputDir: outputDir,
		includes:  includes,
		threshold: threshold,
		tmpl:      tmpl,
	}, nil
}

type groupEmitModel struct {
	FnName     string
	MsgType    string
	FnType     string
	HelperCode string
	RootCode   string
}

type protoEmitModel struct {
	DecoderName string
	ClassName   string
	Namespaces  []string
	HeaderName  string
	Guard       string
	Includes    []string
	PbIncludes  []string
	Opcodes     []string
	OpcodeNames []string
	Setters     []DecoderSetter
	Groups      []*groupEmitModel
	HasString   bool
}

// Emit builds the file models and writes the header and source. No
// file is created when any error has been recorded.
func (e *Emitter) Emit() error {
	model := e.buildModel()
	if e.sink.HasError() {
		return fmt.Errorf("errors found; skipping code emission")
	}

	files := map[string]string{
		model.HeaderName: "proto_decoder_h.tmpl",
		strings.TrimSuffix(model.HeaderName, ".h") + ".cc": "proto_decoder_cc.tmpl",
	}

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

func (e *Emitter) buildModel() *protoEmitModel {
	m := &protoEmitModel{
		DecoderName: e.model.Name,
		ClassName:   e.model.Name + "Decoder",
		Namespaces:  e.model.Namespaces,
		HeaderName:  e.prefix + "_proto_decoder.h",
		Includes:    e.includes,
		PbIncludes:  e.model.PbHeaders(),
		OpcodeNames: e.model.OpcodeNames,
		Setters:     e.model.Setters,
	}
	m.Guard = names.HeaderGuard(m.HeaderName)

	m.Opcodes = utils.Map(e.model.OpcodeNames, names.PascalCase)
	for _, s := range e.model.Setters {
		if s.Kind == expr.KindString {
			m.HasString = true
		}
	}

	for _, group := range e.model.Groups {
		gm := &groupEmitModel{
			FnName:  group.Tree.FnName(),
			MsgType: cppQualified(group.Message.GetFullyQualifiedName()),
			FnType:  group.Name + "Fn",
		}

		// The decode tree lives in an anonymous namespace; the public
		// surface is a method on the decoder class delegating to it.
		implName := gm.FnName + "Impl"

		var helpers codeWriter
		group.Tree.EmitHelpers(&helpers, m.ClassName, gm.FnType, e.threshold)
		group.Tree.EmitFn(&helpers, implName, m.ClassName, gm.FnType, e.threshold)
		gm.HelperCode = helpers.String()

		var root codeWriter
		root.Line("OpcodeEnum %s::%s(const %s &inst_proto) {",
			m.ClassName, gm.FnName, gm.MsgType)
		root.In()
		root.Line("return %s(inst_proto, this);", implName)
		root.Out()
		root.Line("}")
		gm.RootCode = root.String()

		m.Groups = append(m.Groups, gm)
	}
	return m
}
