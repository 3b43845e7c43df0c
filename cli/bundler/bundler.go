// Package bundler builds a library bundle with esbuild and writes it into the
// publishable package.
package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fluxbase-eu/fluxbundle/cli/plugins"
	"github.com/fluxbase-eu/fluxbundle/cli/util"
)

// maxBundleBytes rejects runaway bundles before they reach the package
var maxBundleBytes = 50 * 1024 * 1024

// Bundler runs builds for a BuildConfig
type Bundler struct {
	cfg *BuildConfig

	// emitMu serializes writes when watch rebuilds overlap
	emitMu sync.Mutex
}

// OutputFile is a file written by a build
type OutputFile struct {
	Path  string
	Bytes int
}

// BuildReport describes a finished build
type BuildReport struct {
	Outputs  []OutputFile
	Warnings []string
	Duration time.Duration

	// Metafile is esbuild's JSON description of the build inputs and outputs
	Metafile string
}

// New creates a bundler
func New(cfg *BuildConfig) *Bundler {
	return &Bundler{cfg: cfg}
}

// Config returns the build configuration
func (b *Bundler) Config() *BuildConfig {
	return b.cfg
}

// Build runs one build per output and writes the results
func (b *Bundler) Build(ctx context.Context) (*BuildReport, error) {
	start := time.Now()
	report := &BuildReport{}

	for _, out := range b.cfg.Outputs {
		result, err := b.run(ctx, out)
		if err != nil {
			return nil, err
		}

		files, err := b.emit(result)
		if err != nil {
			return nil, err
		}
		if err := verifyOutputs(out); err != nil {
			return nil, err
		}

		report.Outputs = append(report.Outputs, files...)
		report.Warnings = append(report.Warnings, formatMessages(result.Warnings, api.WarningMessage)...)
		report.Metafile = result.Metafile
	}

	report.Duration = time.Since(start)
	return report, nil
}

// run builds out in memory without writing anything
func (b *Bundler) run(ctx context.Context, out OutputOptions) (api.BuildResult, error) {
	opts, err := b.buildOptions(ctx, out)
	if err != nil {
		return api.BuildResult{}, err
	}

	buildCtx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return api.BuildResult{}, buildError(ctxErr.Errors)
	}
	defer buildCtx.Dispose()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			buildCtx.Cancel()
		case <-done:
		}
	}()

	result := buildCtx.Rebuild()
	if err := ctx.Err(); err != nil {
		return api.BuildResult{}, err
	}
	if len(result.Errors) > 0 {
		return api.BuildResult{}, buildError(result.Errors)
	}
	return result, nil
}

// Watch builds every output, then rebuilds whenever an input changes until ctx
// is cancelled. onBuild is called after each build with its report or error.
func (b *Bundler) Watch(ctx context.Context, onBuild func(*BuildReport, error)) error {
	var contexts []api.BuildContext
	defer func() {
		for _, c := range contexts {
			c.Dispose()
		}
	}()

	for _, out := range b.cfg.Outputs {
		opts, err := b.buildOptions(ctx, out)
		if err != nil {
			return err
		}
		opts.Plugins = append(opts.Plugins, b.watchPlugin(onBuild))

		buildCtx, ctxErr := api.Context(opts)
		if ctxErr != nil {
			return buildError(ctxErr.Errors)
		}
		contexts = append(contexts, buildCtx)

		if err := buildCtx.Watch(api.WatchOptions{}); err != nil {
			return fmt.Errorf("failed to watch %s: %w", util.RelPath(b.cfg.WorkingDir, out.File), err)
		}
	}

	log.Info().Str("input", util.RelPath(b.cfg.WorkingDir, b.cfg.Input)).Msg("Watching for changes")
	<-ctx.Done()
	return nil
}

// watchPlugin emits the output of every watch build
func (b *Bundler) watchPlugin(onBuild func(*BuildReport, error)) api.Plugin {
	return api.Plugin{
		Name: "fluxbundle-emit",
		Setup: func(build api.PluginBuild) {
			var start time.Time
			build.OnStart(func() (api.OnStartResult, error) {
				start = time.Now()
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if len(result.Errors) > 0 {
					onBuild(nil, buildError(result.Errors))
					return api.OnEndResult{}, nil
				}
				files, err := b.emit(*result)
				if err != nil {
					onBuild(nil, err)
					return api.OnEndResult{}, nil
				}
				onBuild(&BuildReport{
					Outputs:  files,
					Warnings: formatMessages(result.Warnings, api.WarningMessage),
					Duration: time.Since(start),
					Metafile: result.Metafile,
				}, nil)
				return api.OnEndResult{}, nil
			})
		},
	}
}

// buildOptions translates out into esbuild options and applies the pipeline
func (b *Bundler) buildOptions(ctx context.Context, out OutputOptions) (api.BuildOptions, error) {
	format, err := esbuildFormat(out.Format)
	if err != nil {
		return api.BuildOptions{}, err
	}

	opts := api.BuildOptions{
		EntryPoints:   []string{b.cfg.Input},
		AbsWorkingDir: b.cfg.WorkingDir,
		Bundle:        true,
		Write:         false,
		Metafile:      true,
		Format:        format,
		Target:        api.ESNext,
		LogLevel:      api.LogLevelSilent,
	}

	if out.Sourcemap {
		opts.Sourcemap = api.SourceMapLinked
	}

	if out.InlineDynamicImports {
		opts.Outfile = out.File
	} else {
		// Chunks go next to the entry file, which keeps its configured name
		ext := filepath.Ext(out.File)
		opts.Splitting = true
		opts.Outdir = filepath.Dir(out.File)
		opts.EntryNames = strings.TrimSuffix(filepath.Base(out.File), ext)
		opts.ChunkNames = "chunks/[name]-[hash]"
		opts.OutExtension = map[string]string{".js": ext}
	}

	if b.cfg.Production {
		opts.Define = map[string]string{"process.env.NODE_ENV": `"production"`}
	} else {
		opts.Define = map[string]string{"process.env.NODE_ENV": `"development"`}
	}

	b.cfg.Pipeline.Apply(ctx, &opts)
	return opts, nil
}

func esbuildFormat(format string) (api.Format, error) {
	switch format {
	case "es", "esm":
		return api.FormatESModule, nil
	case "cjs":
		return api.FormatCommonJS, nil
	case "iife":
		return api.FormatIIFE, nil
	default:
		return api.FormatDefault, fmt.Errorf("unsupported output format: %s", format)
	}
}

// emit runs the render hooks over each script chunk and writes every output file
func (b *Bundler) emit(result api.BuildResult) ([]OutputFile, error) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	contents := make(map[string][]byte, len(result.OutputFiles))
	for _, f := range result.OutputFiles {
		contents[f.Path] = f.Contents
	}

	for _, f := range result.OutputFiles {
		if !isScript(f.Path) {
			continue
		}
		rendered, err := b.cfg.Pipeline.Render(plugins.Chunk{Path: f.Path, Code: f.Contents})
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", util.RelPath(b.cfg.WorkingDir, f.Path), err)
		}
		contents[f.Path] = rendered.Code

		mapPath := f.Path + ".map"
		if sourcemap, ok := contents[mapPath]; ok && rendered.PrependedLines > 0 {
			shifted, err := shiftSourcemap(sourcemap, rendered.PrependedLines)
			if err != nil {
				return nil, fmt.Errorf("failed to adjust %s: %w", util.RelPath(b.cfg.WorkingDir, mapPath), err)
			}
			contents[mapPath] = shifted
		}
	}

	paths := make([]string, 0, len(contents))
	for path := range contents {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	// Every file is checked before the first write, so a rejected build
	// leaves the previous outputs in place
	for _, path := range paths {
		if size := len(contents[path]); size > maxBundleBytes {
			return nil, fmt.Errorf("%s exceeds the %s limit (got %d bytes)",
				util.RelPath(b.cfg.WorkingDir, path), humanize.IBytes(uint64(maxBundleBytes)), size)
		}
	}

	files := make([]OutputFile, 0, len(paths))
	for _, path := range paths {
		data := contents[path]
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := util.WriteFileAtomic(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", util.RelPath(b.cfg.WorkingDir, path), err)
		}
		log.Debug().Str("file", util.RelPath(b.cfg.WorkingDir, path)).Int("bytes", len(data)).Msg("Wrote output")
		files = append(files, OutputFile{Path: path, Bytes: len(data)})
	}

	return files, nil
}

// shiftSourcemap moves every mapping down by lines, matching code prepended to the chunk
func shiftSourcemap(sourcemap []byte, lines int) ([]byte, error) {
	mappings := gjson.GetBytes(sourcemap, "mappings")
	if mappings.Type != gjson.String {
		return nil, fmt.Errorf("source map has no mappings")
	}
	return sjson.SetBytes(sourcemap, "mappings", strings.Repeat(";", lines)+mappings.Str)
}

// verifyOutputs checks the files the package manifest points at were written
func verifyOutputs(out OutputOptions) error {
	for _, path := range []string{out.File, out.SourcemapFile()} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("build did not produce %s: %w", path, err)
		}
	}
	return nil
}

func isScript(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return true
	}
	return false
}

// buildError formats esbuild messages into a single error
func buildError(msgs []api.Message) error {
	formatted := formatMessages(msgs, api.ErrorMessage)
	if len(formatted) == 0 {
		return fmt.Errorf("build failed")
	}
	return fmt.Errorf("build failed:\n%s", strings.Join(formatted, "\n"))
}

func formatMessages(msgs []api.Message, kind api.MessageKind) []string {
	if len(msgs) == 0 {
		return nil
	}
	formatted := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind})
	for i, msg := range formatted {
		formatted[i] = cleanBuildMessage(msg)
	}
	return formatted
}

// cleanBuildMessage trims the "✘ [ERROR]" style prefix and trailing blank lines
func cleanBuildMessage(msg string) string {
	msg = strings.TrimRight(msg, "\n ")
	for _, prefix := range []string{"✘ [ERROR] ", "▲ [WARNING] "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
