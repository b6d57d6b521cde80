package isa

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/simforge/isagen/pkg/gen/diag"
	"github.com/simforge/isagen/pkg/gen/expr"
	genisa "github.com/simforge/isagen/pkg/gen/isa"
)

var (
	outputDir   string
	prefix      string
	isaName     string
	includeDirs []string
	debugModel  bool
)

// IsaCmd generates decoder and enum sources from ISA description files.
var IsaCmd = &cobra.Command{
	Use:   "isa file...",
	Short: "Generate a decoder from ISA description files",
	Long: `Reads one or more ISA description files and writes the decoder and enum
sources for the named instruction set:

  <output_dir>/<prefix>_decoder.h
  <output_dir>/<prefix>_decoder.cc
  <output_dir>/<prefix>_enums.h
  <output_dir>/<prefix>_enums.cc`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("output_dir") && viper.IsSet("output_dir") {
			outputDir = viper.GetString("output_dir")
		}
		if !cmd.Flags().Changed("include") && viper.IsSet("include") {
			includeDirs = viper.GetStringSlice("include")
		}
		return run(args)
	},
}

func init() {
	IsaCmd.Flags().StringVar(&outputDir, "output_dir", ".",
		"Directory the generated files are written to")
	IsaCmd.Flags().StringVar(&prefix, "prefix", "",
		"File name prefix of the generated files")
	IsaCmd.Flags().StringVar(&isaName, "isa_name", "",
		"Name of the isa declaration to generate the decoder for")
	IsaCmd.Flags().StringSliceVar(&includeDirs, "include", nil,
		"Directories searched for included files")
	IsaCmd.Flags().BoolVar(&debugModel, "debug-model", false,
		"Dump the instantiated instruction set to stderr")
	IsaCmd.MarkFlagRequired("prefix")
	IsaCmd.MarkFlagRequired("isa_name")
}

func run(files []string) error {
	logger := slog.Default()
	sink := diag.NewSink(os.Stderr, logger)
	engine := expr.NewEngine()
	visitor := genisa.NewVisitor(engine, sink, logger, includeDirs)

	for _, file := range files {
		if err := visitor.ProcessFile(file); err != nil {
			return err
		}
	}
	if sink.HasError() {
		return errorSummary(sink)
	}

	set, err := visitor.Instantiate(isaName)
	if err != nil {
		return err
	}
	if debugModel {
		spew.Fdump(os.Stderr, set)
	}
	if sink.HasError() {
		return errorSummary(sink)
	}

	emitter, err := genisa.NewEmitter(set, engine, sink, logger, prefix, outputDir)
	if err != nil {
		return err
	}
	return emitter.Emit()
}

func errorSummary(sink *diag.Sink) error {
	return fmt.Errorf("%d errors found; no output written", sink.ErrorCount())
}
