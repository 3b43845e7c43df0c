package plugins

import (
	"github.com/evanw/esbuild/pkg/api"
)

// TypeScript strips type annotations from .ts/.tsx sources
type TypeScript struct {
	tsconfig string
}

// NewTypeScript creates the typescript plugin. tsconfig may be empty, in which
// case esbuild looks for the nearest tsconfig.json itself.
func NewTypeScript(tsconfig string) *TypeScript {
	return &TypeScript{tsconfig: tsconfig}
}

func (t *TypeScript) Name() string { return "typescript" }

func (t *TypeScript) Options(opts *api.BuildOptions) {
	setLoader(opts, api.LoaderTS, ".ts", ".mts", ".cts")
	setLoader(opts, api.LoaderTSX, ".tsx")
	addResolveExtensions(opts, ".ts", ".tsx", ".mts")
	if t.tsconfig != "" {
		opts.Tsconfig = t.tsconfig
	}
}
