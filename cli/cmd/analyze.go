package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxbundle/cli/bundler"
	"github.com/fluxbase-eu/fluxbundle/cli/output"
)

var (
	analyzeDetails     bool
	analyzeDevelopment bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Show what goes into the bundle",
	Long: `Build the bundle in memory and report its size, the files and npm packages
that contribute to it, and the imports left external.

Nothing is written, neither the bundle nor the package manifest.

Examples:
  fluxbundle analyze
  fluxbundle analyze --details
  fluxbundle analyze --development -o json`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDetails, "details", false, "List every input file")
	analyzeCmd.Flags().BoolVar(&analyzeDevelopment, "development", false, "Analyze the unminified development build")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pkg, target, err := bundler.ResolveTarget(cfg)
	if err != nil {
		return err
	}

	buildCfg, err := bundler.NewBuildConfig(cfg, pkg, target, newCompiler(cfg), !analyzeDevelopment)
	if err != nil {
		return err
	}

	results, err := bundler.New(buildCfg).Analyze(cmdContext(cmd))
	if err != nil {
		return err
	}

	formatter := GetFormatter()
	if !formatter.IsTable() {
		return formatter.Print(results)
	}
	if formatter.Quiet {
		return nil
	}

	for _, result := range results {
		bundler.DisplayAnalysis(formatter.Writer, result, analyzeDetails)
	}

	if len(results) > 1 {
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			rows = append(rows, []string{
				r.Output,
				humanize.IBytes(uint64(r.TotalBytes)),
				fmt.Sprintf("%d", len(r.InputFiles)),
				fmt.Sprintf("%d", len(r.ExternalImports)),
			})
		}
		formatter.PrintTable(output.TableData{
			Headers: []string{"OUTPUT", "SIZE", "FILES", "EXTERNALS"},
			Rows:    rows,
		})
	}
	return nil
}
