package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxbundle/cli/output"
)

// versionInfo is the structured output of the version command
type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version information",
	Long:  `Display the version, commit hash, and build date of the fluxbundle CLI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter := GetFormatter()
		if !formatter.IsTable() {
			return formatter.Print(versionInfo{Version: Version, Commit: Commit, BuildDate: BuildDate})
		}
		formatter.PrintTable(output.TableData{
			Rows: [][]string{
				{"fluxbundle", Version},
				{"Commit:", Commit},
				{"Build Date:", BuildDate},
			},
		})
		return nil
	},
}
