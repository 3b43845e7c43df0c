package plugins

import (
	"github.com/evanw/esbuild/pkg/api"
)

// CommonJS lets ES module code import CommonJS dependencies. esbuild performs the
// interop itself; the plugin makes sure .cjs files and "main"-only packages resolve.
type CommonJS struct{}

// NewCommonJS creates the commonjs plugin
func NewCommonJS() *CommonJS {
	return &CommonJS{}
}

func (c *CommonJS) Name() string { return "commonjs" }

func (c *CommonJS) Options(opts *api.BuildOptions) {
	setLoader(opts, api.LoaderJS, ".cjs")
	addResolveExtensions(opts, ".cjs")
	opts.MainFields = addUnique(opts.MainFields, "main")
}
