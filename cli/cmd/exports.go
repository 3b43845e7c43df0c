package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxbundle/cli/bundler"
	"github.com/fluxbase-eu/fluxbundle/cli/manifest"
	"github.com/fluxbase-eu/fluxbundle/cli/output"
	"github.com/fluxbase-eu/fluxbundle/cli/util"
)

var (
	exportsDryRun bool
	exportsKey    string
)

var exportsCmd = &cobra.Command{
	Use:   "exports [package-folder built-file [sourcemap-file]]",
	Short: "Register the bundle in the package manifest",
	Long: `Point the package manifest's "module" field and bundle exports at the built file.

Without arguments the package folder and bundle path come from the project
configuration, exactly as "fluxbundle build" computes them. With arguments the
given paths are used; the source map defaults to the built file plus ".map".

The manifest is only rewritten when an entry changes. Use --dry-run to print
the change as a diff instead.

Examples:
  fluxbundle exports
  fluxbundle exports --dry-run
  fluxbundle exports package package/dist/lib.mjs
  fluxbundle exports package package/dist/lib.mjs package/dist/lib.mjs.map --key ./dist`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 || len(args) > 3 {
			return fmt.Errorf("expected no arguments, or a package folder, a built file and an optional source map")
		}
		return nil
	},
	RunE: runExports,
}

func init() {
	exportsCmd.Flags().BoolVar(&exportsDryRun, "dry-run", false, "Show the manifest changes without writing them")
	exportsCmd.Flags().StringVar(&exportsKey, "key", "", "Exports subpath for the bundle (default from config, \"./bundle\")")
}

// exportsSummary is the structured output of the exports command
type exportsSummary struct {
	Manifest string            `json:"manifest" yaml:"manifest"`
	Module   string            `json:"module" yaml:"module"`
	Exports  map[string]string `json:"exports" yaml:"exports"`
	Changed  bool              `json:"changed" yaml:"changed"`
	DryRun   bool              `json:"dry_run" yaml:"dry_run"`
}

func runExports(cmd *cobra.Command, args []string) error {
	key := exportsKey
	var target manifest.BuildTarget

	if len(args) == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if key == "" {
			key = cfg.Exports.Key
		}
		if _, target, err = bundler.ResolveTarget(cfg); err != nil {
			return err
		}
	} else {
		target = manifest.NewBuildTarget(args[0], args[1])
		if len(args) == 3 {
			target.SourcemapFile = args[2]
		}
	}

	registrar := manifest.NewRegistrar(manifest.WithExportKey(key))

	var (
		res *manifest.Result
		err error
	)
	if exportsDryRun {
		res, err = registrar.Plan(target)
	} else {
		res, err = registrar.Register(target)
	}
	if err != nil {
		return err
	}

	formatter := GetFormatter()
	if !formatter.IsTable() {
		return formatter.Print(exportsSummary{
			Manifest: res.ManifestPath,
			Module:   res.Module,
			Exports:  res.Exports,
			Changed:  res.Changed,
			DryRun:   exportsDryRun,
		})
	}

	manifestPath := util.RelPath(".", res.ManifestPath)
	if !res.Changed {
		formatter.PrintSuccess(fmt.Sprintf("%s is up to date", manifestPath))
		return nil
	}

	if exportsDryRun {
		diff, err := res.Diff(formatter.Color)
		if err != nil {
			return err
		}
		formatter.PrintText(diff)
		return nil
	}

	keys := make([]string, 0, len(res.Exports))
	for k := range res.Exports {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := [][]string{{"module", res.Module}}
	for _, k := range keys {
		rows = append(rows, []string{"exports[" + k + "]", res.Exports[k]})
	}
	formatter.PrintTable(output.TableData{Headers: []string{"FIELD", "VALUE"}, Rows: rows})
	formatter.PrintSuccess(fmt.Sprintf("Updated %s", manifestPath))
	return nil
}
