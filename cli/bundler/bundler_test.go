package bundler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/fluxbase-eu/fluxbundle/cli/config"
	"github.com/fluxbase-eu/fluxbundle/cli/manifest"
	"github.com/fluxbase-eu/fluxbundle/cli/plugins"
)

const rootManifest = `{
  "name": "my-lib",
  "version": "1.2.3",
  "license": "MIT",
  "module": "dist/lib.mjs"
}
`

func newProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	all := map[string]string{
		"package.json":         rootManifest,
		"package/package.json": `{"name": "my-lib", "version": "1.2.3"}` + "\n",
	}
	for name, content := range files {
		all[name] = content
	}
	for name, content := range all {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func projectConfig(dir string) *config.Config {
	return &config.Config{
		Input:         "src/lib/index.js",
		PackageFolder: "package",
		Output: config.OutputConfig{
			Format:               "es",
			Sourcemap:            true,
			InlineDynamicImports: true,
		},
		Exports:    config.ExportsConfig{Key: "./bundle"},
		Resolve:    config.ResolveConfig{Browser: true},
		ProjectDir: dir,
	}
}

func newBundler(t *testing.T, cfg *config.Config, production bool) *Bundler {
	t.Helper()
	pkg, target, err := ResolveTarget(cfg)
	require.NoError(t, err)

	buildCfg, err := NewBuildConfig(cfg, pkg, target, plugins.UnavailableCompiler(errors.New("node not installed")), production)
	require.NoError(t, err)
	return New(buildCfg)
}

func readOutput(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

func TestResolveTarget(t *testing.T) {
	dir := newProject(t, nil)

	pkg, target, err := ResolveTarget(projectConfig(dir))
	require.NoError(t, err)

	assert.Equal(t, "my-lib", pkg.Name)
	assert.Equal(t, filepath.Join(dir, "package", "dist", "lib.mjs"), target.File)
	assert.Equal(t, filepath.Join(dir, "package", "dist", "lib.mjs.map"), target.SourcemapFile)
	assert.Equal(t, filepath.Join(dir, "package"), target.PackageFolder)
}

func TestResolveTarget_Errors(t *testing.T) {
	t.Run("no module field", func(t *testing.T) {
		dir := newProject(t, map[string]string{"package.json": `{"name": "x"}`})
		_, _, err := ResolveTarget(projectConfig(dir))
		assert.ErrorContains(t, err, `no "module" field`)
	})

	t.Run("no root manifest", func(t *testing.T) {
		_, _, err := ResolveTarget(projectConfig(t.TempDir()))
		assert.True(t, manifest.IsNotFound(err))
	})
}

func TestNewBuildConfig_PluginOrder(t *testing.T) {
	dir := newProject(t, nil)
	cfg := projectConfig(dir)
	cfg.Banner = true

	production := newBundler(t, cfg, true)
	assert.Equal(t,
		[]string{"svelte", "resolve", "commonjs", "json", "typescript", "minify", "banner"},
		production.Config().Pipeline.Names())
	assert.True(t, production.Config().Production)

	development := newBundler(t, cfg, false)
	assert.Equal(t,
		[]string{"svelte", "resolve", "commonjs", "json", "typescript", "banner"},
		development.Config().Pipeline.Names())
}

func TestNewBuildConfig_Validation(t *testing.T) {
	dir := newProject(t, nil)
	cfg := projectConfig(dir)
	cfg.Output.Format = "cjs"
	cfg.Output.InlineDynamicImports = false

	pkg, target, err := ResolveTarget(cfg)
	require.NoError(t, err)

	_, err = NewBuildConfig(cfg, pkg, target, nil, true)
	assert.ErrorContains(t, err, "code splitting requires the es output format")
}

func TestBuild_WritesBundleAndSourcemap(t *testing.T) {
	dir := newProject(t, map[string]string{
		"src/lib/index.js": `import data from "./data.json";
import { double } from "./math.ts";
export const answer = double(data.value);
`,
		"src/lib/data.json": `{"value": 21}`,
		"src/lib/math.ts":   `export function double(n: number): number { return n * 2 }`,
	})

	b := newBundler(t, projectConfig(dir), true)
	report, err := b.Build(context.Background())
	require.NoError(t, err)

	bundle := readOutput(t, dir, "package/dist/lib.mjs")
	assert.Contains(t, bundle, "export")
	assert.Contains(t, bundle, "//# sourceMappingURL=lib.mjs.map")
	assert.NotContains(t, bundle, ": number")

	sourcemap := readOutput(t, dir, "package/dist/lib.mjs.map")
	assert.True(t, gjson.Valid(sourcemap))

	require.Len(t, report.Outputs, 2)
	assert.Equal(t, filepath.Join(dir, "package", "dist", "lib.mjs"), report.Outputs[0].Path)
	assert.Equal(t, len(bundle), report.Outputs[0].Bytes)
	assert.NotEmpty(t, report.Metafile)
}

func TestBuild_ProductionMinifies(t *testing.T) {
	source := map[string]string{
		"src/lib/index.js": `export function add(firstOperand, secondOperand) { return firstOperand + secondOperand }` + "\n",
	}

	dev := newProject(t, source)
	_, err := newBundler(t, projectConfig(dev), false).Build(context.Background())
	require.NoError(t, err)
	assert.Contains(t, readOutput(t, dev, "package/dist/lib.mjs"), "firstOperand")

	prod := newProject(t, source)
	_, err = newBundler(t, projectConfig(prod), true).Build(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, readOutput(t, prod, "package/dist/lib.mjs"), "firstOperand")
}

func TestBuild_BannerShiftsSourcemap(t *testing.T) {
	source := map[string]string{
		"src/lib/index.js": "export const greeting = \"hello\";\nexport const target = \"world\";\n",
	}

	plain := newProject(t, source)
	_, err := newBundler(t, projectConfig(plain), false).Build(context.Background())
	require.NoError(t, err)

	withBanner := newProject(t, source)
	cfg := projectConfig(withBanner)
	cfg.Banner = true
	_, err = newBundler(t, cfg, false).Build(context.Background())
	require.NoError(t, err)

	bundle := readOutput(t, withBanner, "package/dist/lib.mjs")
	assert.True(t, strings.HasPrefix(bundle, "/*! my-lib v1.2.3 | MIT */\n"), bundle)

	plainMappings := gjson.Get(readOutput(t, plain, "package/dist/lib.mjs.map"), "mappings").String()
	bannerMappings := gjson.Get(readOutput(t, withBanner, "package/dist/lib.mjs.map"), "mappings").String()
	assert.Equal(t, ";"+plainMappings, bannerMappings)
}

func TestBuild_WithoutSourcemap(t *testing.T) {
	dir := newProject(t, map[string]string{"src/lib/index.js": "export default 1;\n"})
	cfg := projectConfig(dir)
	cfg.Output.Sourcemap = false

	report, err := newBundler(t, cfg, true).Build(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Outputs, 1)
	assert.NoFileExists(t, filepath.Join(dir, "package", "dist", "lib.mjs.map"))
	assert.NotContains(t, readOutput(t, dir, "package/dist/lib.mjs"), "sourceMappingURL")
}

func TestBuild_CodeSplitting(t *testing.T) {
	dir := newProject(t, map[string]string{
		"src/lib/index.js": "export const load = () => import(\"./lazy.js\");\n",
		"src/lib/lazy.js":  "export const lazy = true;\n",
	})
	cfg := projectConfig(dir)
	cfg.Output.InlineDynamicImports = false

	_, err := newBundler(t, cfg, false).Build(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "package", "dist", "lib.mjs"))
	chunks, err := filepath.Glob(filepath.Join(dir, "package", "dist", "chunks", "lazy-*.mjs"))
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestBuild_ExternalImportsStayImports(t *testing.T) {
	dir := newProject(t, map[string]string{
		"src/lib/index.js": "import { writable } from \"svelte/store\";\nexport const count = writable(0);\n",
	})
	cfg := projectConfig(dir)
	cfg.Resolve.External = []string{"svelte", "svelte/**"}

	_, err := newBundler(t, cfg, false).Build(context.Background())
	require.NoError(t, err)

	assert.Contains(t, readOutput(t, dir, "package/dist/lib.mjs"), `from "svelte/store"`)
}

func TestBuild_SyntaxError(t *testing.T) {
	dir := newProject(t, map[string]string{"src/lib/index.js": "export const = ;\n"})

	_, err := newBundler(t, projectConfig(dir), true).Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build failed")
	assert.Contains(t, err.Error(), "index.js")
	assert.NoFileExists(t, filepath.Join(dir, "package", "dist", "lib.mjs"))
}

func TestBuild_ComponentWithoutCompiler(t *testing.T) {
	dir := newProject(t, map[string]string{
		"src/lib/index.js":      "export { default as Button } from \"./Button.svelte\";\n",
		"src/lib/Button.svelte": "<button><slot /></button>\n",
	})

	_, err := newBundler(t, projectConfig(dir), true).Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node not installed")
}

func TestBuild_CancelledContext(t *testing.T) {
	dir := newProject(t, map[string]string{"src/lib/index.js": "export default 1;\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBundler(t, projectConfig(dir), true).Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatch_EmitsInitialBuild(t *testing.T) {
	dir := newProject(t, map[string]string{"src/lib/index.js": "export default 1;\n"})
	b := newBundler(t, projectConfig(dir), false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *BuildReport, 4)
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, func(report *BuildReport, err error) {
			if err == nil {
				reports <- report
			}
		})
	}()

	select {
	case report := <-reports:
		assert.NotEmpty(t, report.Outputs)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not build")
	}
	assert.FileExists(t, filepath.Join(dir, "package", "dist", "lib.mjs"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestShiftSourcemap(t *testing.T) {
	shifted, err := shiftSourcemap([]byte(`{"version":3,"sources":["a.js"],"mappings":"AAAA;AACA"}`), 2)
	require.NoError(t, err)
	assert.Equal(t, ";;AAAA;AACA", gjson.GetBytes(shifted, "mappings").String())
	assert.Equal(t, "a.js", gjson.GetBytes(shifted, "sources.0").String())

	_, err = shiftSourcemap([]byte(`{"version":3}`), 1)
	assert.Error(t, err)
}

func TestEsbuildFormat(t *testing.T) {
	tests := []struct {
		format  string
		want    api.Format
		wantErr bool
	}{
		{format: "es", want: api.FormatESModule},
		{format: "esm", want: api.FormatESModule},
		{format: "cjs", want: api.FormatCommonJS},
		{format: "iife", want: api.FormatIIFE},
		{format: "umd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := esbuildFormat(tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanBuildMessage(t *testing.T) {
	assert.Equal(t, "Unexpected \"=\"", cleanBuildMessage("✘ [ERROR] Unexpected \"=\"\n\n"))
	assert.Equal(t, "unused import", cleanBuildMessage("▲ [WARNING] unused import\n"))
}

func TestBuild_SizeLimitRejectsBeforeWriting(t *testing.T) {
	dir := newProject(t, map[string]string{
		// The comment only reaches the source map, which makes it the larger file
		"src/lib/index.js": "// " + strings.Repeat("notes ", 200) + "\nexport const answer = 42;\n",
	})
	b := newBundler(t, projectConfig(dir), false)

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outputs, 2)
	jsFile, mapFile := report.Outputs[0], report.Outputs[1]
	require.True(t, strings.HasSuffix(mapFile.Path, ".map"))
	require.Greater(t, mapFile.Bytes, jsFile.Bytes)

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "package", "dist")))

	limit := maxBundleBytes
	maxBundleBytes = jsFile.Bytes
	t.Cleanup(func() { maxBundleBytes = limit })

	_, err = b.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lib.mjs.map exceeds the")
	assert.NoFileExists(t, filepath.Join(dir, "package", "dist", "lib.mjs"))
}
