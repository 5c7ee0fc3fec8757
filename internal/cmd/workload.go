package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/ioutils"
	"github.com/searchbench/sbench/internal/loader"
	"github.com/searchbench/sbench/internal/output"
)

// NewWorkloadCmd creates the workload command group.
func NewWorkloadCmd() *cobra.Command {
	workloadCmd := &cobra.Command{
		Use:   "workload",
		Short: "Inspect workload definitions",
	}
	workloadCmd.AddCommand(newWorkloadInfoCmd())
	workloadCmd.AddCommand(newWorkloadListCmd())
	return workloadCmd
}

func newWorkloadInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <workload-file>",
		Short: "Load a workload and print its structure",
		Long: `Load, validate, and post-process a workload definition, then print its
corpora and test procedures with the full task schedule.`,
		Args: cobra.ExactArgs(1),
		RunE: runWorkloadInfo,
	}
}

func runWorkloadInfo(cmd *cobra.Command, args []string) error {
	w, err := loader.Load(loader.Options{
		SpecFile: args[0],
		Config:   Config(),
	})
	if err != nil {
		return wrapExit(err)
	}
	output.Print(loader.FormatInfo(w))
	return nil
}

func newWorkloadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <directory>",
		Short: "List the workloads below a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := loader.List(args[0])
			if err != nil {
				return wrapExit(err)
			}
			if len(names) == 0 {
				output.Println("No workloads found.")
				return nil
			}
			for _, name := range names {
				output.Println(output.Noun(name))
			}
			return nil
		},
	}
}

// wrapExit renders the error and maps it to its exit code.
func wrapExit(err error) error {
	if err == nil {
		return nil
	}
	output.Error(err.Error())
	return &serrors.ExitError{
		Code:    serrors.ExitCodeFromError(err),
		Printed: true,
		Err:     err,
	}
}

// NewExpandCorpusCmd creates the expand-corpus command: it synthesizes an
// enlarged corpus file plus its offset table from a seed document file.
func NewExpandCorpusCmd() *cobra.Command {
	var (
		inputFile  string
		outputFile string
		docCount   int
	)
	cmd := &cobra.Command{
		Use:   "expand-corpus",
		Short: "Synthesize an enlarged corpus from a seed document file",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ioutils.ExpandCorpus(inputFile, outputFile, docCount, Config().OffsetStride)
			if err != nil {
				return wrapExit(err)
			}
			output.Info("corpus expanded",
				"file", outputFile,
				"documents", result.Documents,
				"uncompressed-bytes", result.UncompressedBytes)
			output.Println(fmt.Sprintf(`"document-count": %d,`, result.Documents))
			output.Println(fmt.Sprintf(`"uncompressed-bytes": %d`, result.UncompressedBytes))
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Seed document file (one JSON document per line)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output corpus file")
	cmd.Flags().IntVarP(&docCount, "doc-count", "n", 0, "Number of documents to generate")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("doc-count")
	return cmd
}
