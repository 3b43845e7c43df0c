package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// defaultResolveExtensions mirrors esbuild's built-in list, used as the base
// when a plugin adds extensions
var defaultResolveExtensions = []string{".tsx", ".ts", ".jsx", ".js", ".css", ".json"}

// defaultLoaders maps extensions to loaders when neither a hook nor the options set one
var defaultLoaders = map[string]api.Loader{
	".js":   api.LoaderJS,
	".mjs":  api.LoaderJS,
	".cjs":  api.LoaderJS,
	".jsx":  api.LoaderJSX,
	".ts":   api.LoaderTS,
	".mts":  api.LoaderTS,
	".cts":  api.LoaderTS,
	".tsx":  api.LoaderTSX,
	".json": api.LoaderJSON,
	".css":  api.LoaderCSS,
	".txt":  api.LoaderText,
}

type compiledTransform struct {
	hook   TransformHook
	filter *regexp.Regexp
}

// Pipeline is an ordered list of plugins
type Pipeline struct {
	plugins    []Plugin
	transforms []compiledTransform
}

// NewPipeline creates a pipeline from plugins in order. Nil entries are skipped,
// so optional plugins can be written inline (e.g. a minifier only in production).
func NewPipeline(plugins ...Plugin) (*Pipeline, error) {
	p := &Pipeline{
		plugins: lo.Filter(plugins, func(plugin Plugin, _ int) bool {
			return !isNil(plugin)
		}),
	}

	for _, plugin := range p.plugins {
		if hook, ok := plugin.(ResolveHook); ok {
			if _, err := regexp.Compile(hook.ResolveFilter()); err != nil {
				return nil, fmt.Errorf("plugin %s: invalid resolve filter: %w", plugin.Name(), err)
			}
		}
		if hook, ok := plugin.(TransformHook); ok {
			filter, err := regexp.Compile(hook.TransformFilter())
			if err != nil {
				return nil, fmt.Errorf("plugin %s: invalid transform filter: %w", plugin.Name(), err)
			}
			p.transforms = append(p.transforms, compiledTransform{hook: hook, filter: filter})
		}
	}

	return p, nil
}

// Plugins returns the plugins in order
func (p *Pipeline) Plugins() []Plugin {
	return p.plugins
}

// Names returns the plugin names in order
func (p *Pipeline) Names() []string {
	return lo.Map(p.plugins, func(plugin Plugin, _ int) string {
		return plugin.Name()
	})
}

// Apply runs the options hooks against opts and installs the resolve, load and
// transform hooks as an esbuild plugin. Transform hooks run under ctx.
func (p *Pipeline) Apply(ctx context.Context, opts *api.BuildOptions) {
	for _, plugin := range p.plugins {
		if hook, ok := plugin.(OptionsHook); ok {
			hook.Options(opts)
		}
	}

	opts.Plugins = append(opts.Plugins, api.Plugin{
		Name: "fluxbundle-pipeline",
		Setup: func(build api.PluginBuild) {
			p.setup(ctx, build)
		},
	})
}

func (p *Pipeline) setup(ctx context.Context, build api.PluginBuild) {
	for _, plugin := range p.plugins {
		if hook, ok := plugin.(ResolveHook); ok {
			registerResolve(build, hook)
		}
		if hook, ok := plugin.(LoadHook); ok {
			registerLoad(build, hook)
		}
	}

	if len(p.transforms) == 0 {
		return
	}

	loaders := map[string]api.Loader{}
	if build.InitialOptions != nil {
		loaders = build.InitialOptions.Loader
	}

	build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "file"},
		func(args api.OnLoadArgs) (api.OnLoadResult, error) {
			return p.load(ctx, args.Path, loaders)
		})
}

func registerResolve(build api.PluginBuild, hook ResolveHook) {
	build.OnResolve(api.OnResolveOptions{Filter: hook.ResolveFilter()},
		func(args api.OnResolveArgs) (api.OnResolveResult, error) {
			res, err := hook.Resolve(ResolveArgs{
				Path:       args.Path,
				Importer:   args.Importer,
				ResolveDir: args.ResolveDir,
				Kind:       args.Kind,
			})
			if err != nil {
				return api.OnResolveResult{}, fmt.Errorf("%s: %w", hook.Name(), err)
			}
			if res == nil {
				return api.OnResolveResult{}, nil
			}
			return api.OnResolveResult{
				PluginName: hook.Name(),
				Path:       res.Path,
				Namespace:  res.Namespace,
				External:   res.External,
			}, nil
		})
}

func registerLoad(build api.PluginBuild, hook LoadHook) {
	build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: hook.Namespace()},
		func(args api.OnLoadArgs) (api.OnLoadResult, error) {
			res, err := hook.Load(args.Path)
			if err != nil {
				return api.OnLoadResult{}, fmt.Errorf("%s: %w", hook.Name(), err)
			}
			if res == nil {
				return api.OnLoadResult{}, nil
			}
			code := res.Code
			return api.OnLoadResult{
				PluginName: hook.Name(),
				Contents:   &code,
				Loader:     res.Loader,
				ResolveDir: filepath.Dir(args.Path),
			}, nil
		})
}

// load chains every matching transform hook over the file at path. An empty
// result hands the file back to esbuild's own loader.
func (p *Pipeline) load(ctx context.Context, path string, loaders map[string]api.Loader) (api.OnLoadResult, error) {
	var matched []TransformHook
	for _, t := range p.transforms {
		if t.filter.MatchString(path) {
			matched = append(matched, t.hook)
		}
	}
	if len(matched) == 0 {
		return api.OnLoadResult{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return api.OnLoadResult{}, err
	}

	args := TransformArgs{
		Path:   path,
		Code:   string(data),
		Loader: loaderFor(path, loaders),
	}
	for _, hook := range matched {
		res, err := hook.Transform(ctx, args)
		if err != nil {
			return api.OnLoadResult{}, fmt.Errorf("%s: %w", hook.Name(), err)
		}
		if res == nil {
			continue
		}
		log.Debug().Str("plugin", hook.Name()).Str("file", path).Msg("Transformed module")
		args.Code = res.Code
		if res.Loader != api.LoaderNone {
			args.Loader = res.Loader
		}
	}

	return api.OnLoadResult{
		Contents:   &args.Code,
		Loader:     args.Loader,
		ResolveDir: filepath.Dir(path),
	}, nil
}

// Render runs the render hooks over a chunk in order
func (p *Pipeline) Render(chunk Chunk) (*RenderResult, error) {
	out := &RenderResult{Code: chunk.Code}
	for _, plugin := range p.plugins {
		hook, ok := plugin.(RenderHook)
		if !ok {
			continue
		}
		res, err := hook.RenderChunk(Chunk{Path: chunk.Path, Code: out.Code})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", hook.Name(), err)
		}
		if res == nil {
			continue
		}
		out.Code = res.Code
		out.PrependedLines += res.PrependedLines
	}
	return out, nil
}

func loaderFor(path string, loaders map[string]api.Loader) api.Loader {
	ext := strings.ToLower(filepath.Ext(path))
	if loader, ok := loaders[ext]; ok {
		return loader
	}
	if loader, ok := defaultLoaders[ext]; ok {
		return loader
	}
	return api.LoaderJS
}

// addUnique appends the values missing from list, keeping order
func addUnique(list []string, values ...string) []string {
	for _, v := range values {
		if !lo.Contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}

// prependUnique moves values to the front of list
func prependUnique(list []string, values ...string) []string {
	rest := lo.Filter(list, func(item string, _ int) bool {
		return !lo.Contains(values, item)
	})
	return append(append([]string{}, values...), rest...)
}

// addResolveExtensions adds extensions on top of esbuild's defaults
func addResolveExtensions(opts *api.BuildOptions, exts ...string) {
	if len(opts.ResolveExtensions) == 0 {
		opts.ResolveExtensions = append([]string{}, defaultResolveExtensions...)
	}
	opts.ResolveExtensions = addUnique(opts.ResolveExtensions, exts...)
}

func setLoader(opts *api.BuildOptions, loader api.Loader, exts ...string) {
	if opts.Loader == nil {
		opts.Loader = map[string]api.Loader{}
	}
	for _, ext := range exts {
		opts.Loader[ext] = loader
	}
}

// isNil catches typed nil pointers stored in the Plugin interface
func isNil(plugin Plugin) bool {
	if plugin == nil {
		return true
	}
	v := reflect.ValueOf(plugin)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
