package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxbundle/cli/bundler"
	"github.com/fluxbase-eu/fluxbundle/cli/config"
	"github.com/fluxbase-eu/fluxbundle/cli/manifest"
	"github.com/fluxbase-eu/fluxbundle/cli/plugins"
	"github.com/fluxbase-eu/fluxbundle/cli/util"
)

// lockDir holds the build lock, relative to the project directory
const lockDir = "node_modules/.cache/fluxbundle"

var (
	buildWatch bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Bundle the library into the package folder",
	Long: `Register the bundle in the package manifest, then build it.

A plain build is a production build and is minified. With --watch the build
runs in development mode and rebuilds whenever an input changes, until
interrupted.

Examples:
  fluxbundle build
  fluxbundle build --watch
  FLUXBUNDLE_WATCH=true fluxbundle build
  fluxbundle build -C packages/ui -o json`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildWatch, "watch", "w", false, "Rebuild on change (development build)")
}

// buildSummary is the structured output of a build
type buildSummary struct {
	Manifest        string   `json:"manifest" yaml:"manifest"`
	ManifestChanged bool     `json:"manifest_changed" yaml:"manifest_changed"`
	Production      bool     `json:"production" yaml:"production"`
	Plugins         []string `json:"plugins" yaml:"plugins"`
	Outputs         []string `json:"outputs" yaml:"outputs"`
	Bytes           int      `json:"bytes" yaml:"bytes"`
	DurationMs      int64    `json:"duration_ms" yaml:"duration_ms"`
	Warnings        []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("watch") {
		cfg.Watch = buildWatch
	}

	unlock, err := acquireBuildLock(cfg)
	if err != nil {
		return err
	}
	defer unlock()

	pkg, target, err := bundler.ResolveTarget(cfg)
	if err != nil {
		return err
	}

	// The manifest must name the bundle before the bundler runs
	registered, err := manifest.NewRegistrar(manifest.WithExportKey(cfg.Exports.Key)).Register(target)
	if err != nil {
		return err
	}

	buildCfg, err := bundler.NewBuildConfig(cfg, pkg, target, newCompiler(cfg), cfg.Production())
	if err != nil {
		return err
	}
	b := bundler.New(buildCfg)

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter := GetFormatter()
	if registered.Changed {
		formatter.PrintInfo(fmt.Sprintf("Registered bundle in %s", util.RelPath(buildCfg.WorkingDir, registered.ManifestPath)))
	}

	if cfg.Watch {
		return b.Watch(ctx, func(report *bundler.BuildReport, err error) {
			if err != nil {
				formatter.PrintError(err.Error())
				return
			}
			printBuildReport(buildCfg, registered, report)
		})
	}

	report, err := b.Build(ctx)
	if err != nil {
		return err
	}
	return printBuildReport(buildCfg, registered, report)
}

func printBuildReport(buildCfg *bundler.BuildConfig, registered *manifest.Result, report *bundler.BuildReport) error {
	formatter := GetFormatter()

	if !formatter.IsTable() {
		summary := buildSummary{
			Manifest:        util.RelPath(buildCfg.WorkingDir, registered.ManifestPath),
			ManifestChanged: registered.Changed,
			Production:      buildCfg.Production,
			Plugins:         buildCfg.Pipeline.Names(),
			DurationMs:      report.Duration.Milliseconds(),
			Warnings:        report.Warnings,
		}
		for _, out := range report.Outputs {
			summary.Outputs = append(summary.Outputs, util.RelPath(buildCfg.WorkingDir, out.Path))
			summary.Bytes += out.Bytes
		}
		return formatter.Print(summary)
	}

	if !formatter.Quiet {
		bundler.DisplayReport(formatter.Writer, buildCfg.WorkingDir, report)
	}
	mode := "production"
	if !buildCfg.Production {
		mode = "development"
	}
	formatter.PrintSuccess(fmt.Sprintf("Built %s bundle in %s", mode, report.Duration.Round(time.Millisecond)))
	return nil
}

// acquireBuildLock keeps two builds of the same project from writing the
// manifest and bundle at the same time
func acquireBuildLock(cfg *config.Config) (func(), error) {
	dir := cfg.Path(lockDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "build.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire build lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another fluxbundle build is running in %s", cfg.ProjectDir)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("Failed to release build lock")
		}
	}, nil
}

// newCompiler finds node for compiling components. Without it the build still
// works as long as it has no components to compile.
func newCompiler(cfg *config.Config) plugins.Compiler {
	compiler, err := plugins.NewNodeCompiler(cfg.Svelte.Compiler, cfg.Path("."))
	if err != nil {
		log.Debug().Err(err).Msg("Component compiler unavailable")
		return plugins.UnavailableCompiler(err)
	}
	return compiler
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
