package proto

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/protofmt"
)

var (
	outputDir      string
	prefix         string
	decoderName    string
	includeDirs    []string
	protoIncludes  []string
	protoFiles     []string
	headerIncludes []string
	dumpTree       bool
	tableDensity   float64
)

// ProtoCmd generates a decoder over protobuf instruction messages.
var ProtoCmd = &cobra.Command{
	Use:   "proto file...",
	Short: "Generate a decoder from proto format description files",
	Long: `Reads one or more format description files constraining protobuf
instruction messages and writes the decoder sources:

  <output_dir>/<prefix>_proto_decoder.h
  <output_dir>/<prefix>_proto_decoder.cc`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("output_dir") && viper.IsSet("output_dir") {
			outputDir = viper.GetString("output_dir")
		}
		if !cmd.Flags().Changed("include") && viper.IsSet("include") {
			includeDirs = viper.GetStringSlice("include")
		}
		if !cmd.Flags().Changed("table-density") && viper.IsSet("table_density") {
			tableDensity = viper.GetFloat64("table_density")
		}
		if tableDensity <= 0 || tableDensity > 1 {
			return fmt.Errorf("table density %g is out of range (0, 1]", tableDensity)
		}
		return run(args)
	},
}

func init() {
	ProtoCmd.Flags().StringVar(&outputDir, "output_dir", ".",
		"Directory the generated files are written to")
	ProtoCmd.Flags().StringVar(&prefix, "prefix", "",
		"File name prefix of the generated files")
	ProtoCmd.Flags().StringVar(&decoderName, "decoder_name", "",
		"Name of the decoder declaration to generate")
	ProtoCmd.Flags().StringSliceVar(&includeDirs, "include", nil,
		"Directories searched for included format files")
	ProtoCmd.Flags().StringSliceVar(&protoIncludes, "proto_include", nil,
		"Directories searched for imported .proto files")
	ProtoCmd.Flags().StringSliceVar(&protoFiles, "proto_files", nil,
		"Additional .proto files to load")
	ProtoCmd.Flags().StringSliceVar(&headerIncludes, "header_include", nil,
		"Additional #include files for the generated header")
	ProtoCmd.Flags().BoolVar(&dumpTree, "dump-tree", false,
		"Dump the decoder tree to stderr")
	ProtoCmd.Flags().Float64Var(&tableDensity, "table-density", 0.75,
		"Value density above which a dispatch uses a dense table")
	ProtoCmd.MarkFlagRequired("prefix")
	ProtoCmd.MarkFlagRequired("decoder_name")
}

func run(files []string) error {
	logger := slog.Default()
	sink := diag.NewSink(os.Stderr, logger)
	visitor := protofmt.NewVisitor(sink, logger, includeDirs, protoIncludes)

	for _, file := range files {
		if err := visitor.ProcessFile(file); err != nil {
			return err
		}
	}
	if sink.HasError() {
		return errorSummary(sink)
	}

	model, err := visitor.BuildDecoder(decoderName, protoFiles)
	if err != nil {
		return err
	}
	if dumpTree {
		for _, group := range model.Groups {
			fmt.Fprint(os.Stderr, group.Tree.Dump())
		}
	}
	if sink.HasError() {
		return errorSummary(sink)
	}

	emitter, err := protofmt.NewEmitter(model, sink, logger, prefix, outputDir,
		headerIncludes, tableDensity)
	if err != nil {
		return err
	}
	return emitter.Emit()
}

func errorSummary(sink *diag.Sink) error {
	return fmt.Errorf("%d errors found; no output written", sink.ErrorCount())
}
