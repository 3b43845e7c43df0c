// Package plugins provides the build plugin pipeline and the built-in plugins.
//
// A plugin is any value with a Name. What it does is decided by the hook
// interfaces it implements:
//
//   - OptionsHook adjusts the esbuild options before the build starts
//   - ResolveHook takes over import resolution for matching specifiers
//   - LoadHook supplies contents for paths in its own namespace
//   - TransformHook rewrites the source of matching files
//   - RenderHook rewrites emitted JavaScript chunks
//
// Hooks run in the order plugins appear in the pipeline.
package plugins

import (
	"context"

	"github.com/evanw/esbuild/pkg/api"
)

// Plugin is a named build step
type Plugin interface {
	Name() string
}

// OptionsHook mutates the build options. Hooks run in pipeline order, so later
// plugins see the changes of earlier ones.
type OptionsHook interface {
	Plugin
	Options(opts *api.BuildOptions)
}

// ResolveArgs describes an import being resolved
type ResolveArgs struct {
	Path       string
	Importer   string
	ResolveDir string
	Kind       api.ResolveKind
}

// ResolveResult is a resolved import. A nil result leaves resolution to the next hook.
type ResolveResult struct {
	Path      string
	Namespace string
	External  bool
}

// ResolveHook resolves imports whose specifier matches ResolveFilter (a Go regexp)
type ResolveHook interface {
	Plugin
	ResolveFilter() string
	Resolve(args ResolveArgs) (*ResolveResult, error)
}

// LoadHook provides contents for paths a ResolveHook placed in Namespace
type LoadHook interface {
	Plugin
	Namespace() string
	Load(path string) (*TransformResult, error)
}

// TransformArgs is a source file handed to a transform hook
type TransformArgs struct {
	Path   string
	Code   string
	Loader api.Loader
}

// TransformResult is the output of a transform or load hook.
// A zero Loader keeps the loader of the input.
type TransformResult struct {
	Code   string
	Loader api.Loader
}

// TransformHook rewrites files whose path matches TransformFilter (a Go regexp).
// Returning nil leaves the file unchanged. ctx is cancelled when the build is.
type TransformHook interface {
	Plugin
	TransformFilter() string
	Transform(ctx context.Context, args TransformArgs) (*TransformResult, error)
}

// Chunk is an emitted JavaScript output file
type Chunk struct {
	Path string
	Code []byte
}

// RenderResult is a rewritten chunk. PrependedLines is the number of lines added
// before the original first line, used to keep the source map aligned.
type RenderResult struct {
	Code           []byte
	PrependedLines int
}

// RenderHook rewrites emitted chunks. Returning nil leaves the chunk unchanged.
type RenderHook interface {
	Plugin
	RenderChunk(chunk Chunk) (*RenderResult, error)
}
