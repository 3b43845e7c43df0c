package bundler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fluxbase-eu/fluxbundle/cli/config"
	"github.com/fluxbase-eu/fluxbundle/cli/manifest"
	"github.com/fluxbase-eu/fluxbundle/cli/plugins"
)

// OutputOptions describes one file the build writes
type OutputOptions struct {
	File                 string
	Format               string
	Sourcemap            bool
	InlineDynamicImports bool
}

// SourcemapFile is the path of the linked source map, empty without one
func (o OutputOptions) SourcemapFile() string {
	if !o.Sourcemap {
		return ""
	}
	return o.File + ".map"
}

// BuildConfig is a fully resolved build: entry, outputs and plugin pipeline
type BuildConfig struct {
	// WorkingDir is the absolute project directory
	WorkingDir string
	Input      string
	Outputs    []OutputOptions
	Pipeline   *plugins.Pipeline
	Production bool

	// Package is the root package manifest
	Package *manifest.Package

	// Target is the bundle location registered in the publishable manifest
	Target manifest.BuildTarget
}

// ResolveTarget reads the root package.json and works out where the bundle goes:
// the root manifest's "module" path inside the package folder.
func ResolveTarget(cfg *config.Config) (*manifest.Package, manifest.BuildTarget, error) {
	pkg, err := manifest.Load(cfg.Path("."))
	if err != nil {
		return nil, manifest.BuildTarget{}, err
	}
	if pkg.Module == "" {
		return nil, manifest.BuildTarget{}, fmt.Errorf("%s has no \"module\" field to name the bundle", pkg.Path)
	}

	packageFolder, err := filepath.Abs(cfg.Path(cfg.PackageFolder))
	if err != nil {
		return nil, manifest.BuildTarget{}, fmt.Errorf("failed to resolve package folder: %w", err)
	}
	file := filepath.Join(packageFolder, filepath.FromSlash(pkg.Module))

	return pkg, manifest.NewBuildTarget(packageFolder, file), nil
}

// NewBuildConfig assembles the build for target. Plugins run in this order:
// svelte, resolve, commonjs, json, typescript, then minify (production only)
// and banner (when enabled).
func NewBuildConfig(cfg *config.Config, pkg *manifest.Package, target manifest.BuildTarget, compiler plugins.Compiler, production bool) (*BuildConfig, error) {
	workingDir, err := filepath.Abs(cfg.Path("."))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	input, err := filepath.Abs(cfg.Path(cfg.Input))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input: %w", err)
	}

	out := OutputOptions{
		File:                 target.File,
		Format:               cfg.Output.Format,
		Sourcemap:            cfg.Output.Sourcemap,
		InlineDynamicImports: cfg.Output.InlineDynamicImports,
	}
	if err := out.validate(); err != nil {
		return nil, err
	}

	resolve, err := plugins.NewResolve(cfg.Resolve.Browser, cfg.Resolve.External...)
	if err != nil {
		return nil, err
	}

	var minify *plugins.Minify
	if production {
		minify = plugins.NewMinify()
	}
	var banner *plugins.Banner
	if cfg.Banner {
		banner = plugins.NewBanner(pkg.Banner())
	}

	pipeline, err := plugins.NewPipeline(
		plugins.NewSvelte(compiler, !production, cfg.Svelte.EmitCSS),
		resolve,
		plugins.NewCommonJS(),
		plugins.NewJSON(),
		plugins.NewTypeScript(cfg.TypeScript.Tsconfig),
		minify,
		banner,
	)
	if err != nil {
		return nil, err
	}

	return &BuildConfig{
		WorkingDir: workingDir,
		Input:      input,
		Outputs:    []OutputOptions{out},
		Pipeline:   pipeline,
		Production: production,
		Package:    pkg,
		Target:     target,
	}, nil
}

func (o OutputOptions) validate() error {
	if o.File == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if !o.InlineDynamicImports && o.Format != "es" && o.Format != "esm" {
		return fmt.Errorf("code splitting requires the es output format (got %s)", o.Format)
	}
	if ext := filepath.Ext(o.File); ext == "" || strings.EqualFold(ext, ".map") {
		return fmt.Errorf("output file %s needs a script extension", o.File)
	}
	return nil
}
