package plugins

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/gobwas/glob"
)

// Resolve configures module resolution the way a browser bundle needs it and
// marks bare imports matching the external patterns as external.
type Resolve struct {
	browser  bool
	patterns []string
	external []glob.Glob
}

// NewResolve creates the resolve plugin. External patterns are globs over import
// specifiers where "*" stops at "/" and "**" does not, e.g. "svelte/**" or "@scope/*".
func NewResolve(browser bool, external ...string) (*Resolve, error) {
	r := &Resolve{browser: browser, patterns: external}
	for _, pattern := range external {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid external pattern %q: %w", pattern, err)
		}
		r.external = append(r.external, g)
	}
	return r, nil
}

func (r *Resolve) Name() string { return "resolve" }

func (r *Resolve) Options(opts *api.BuildOptions) {
	if r.browser {
		opts.Platform = api.PlatformBrowser
		opts.MainFields = addUnique(opts.MainFields, "browser", "module", "main")
		opts.Conditions = addUnique(opts.Conditions, "browser")
	} else {
		opts.MainFields = addUnique(opts.MainFields, "module", "main")
	}
	addResolveExtensions(opts, ".mjs", ".js", ".json")
}

func (r *Resolve) ResolveFilter() string { return ".*" }

// Resolve marks matching bare specifiers external and leaves everything else to esbuild
func (r *Resolve) Resolve(args ResolveArgs) (*ResolveResult, error) {
	if len(r.external) == 0 || args.Kind == api.ResolveEntryPoint || !isBareSpecifier(args.Path) {
		return nil, nil
	}
	if r.IsExternal(args.Path) {
		return &ResolveResult{Path: args.Path, External: true}, nil
	}
	return nil, nil
}

// IsExternal reports whether a specifier matches one of the external patterns
func (r *Resolve) IsExternal(specifier string) bool {
	for _, g := range r.external {
		if g.Match(specifier) {
			return true
		}
	}
	return false
}

func isBareSpecifier(path string) bool {
	return path != "" &&
		!strings.HasPrefix(path, ".") &&
		!strings.HasPrefix(path, "/") &&
		!strings.Contains(path, ":\\")
}
