package plugins

import (
	"github.com/evanw/esbuild/pkg/api"
)

// Minify compresses the output. Legal comments ("/*! ... */") are kept.
type Minify struct{}

// NewMinify creates the minify plugin
func NewMinify() *Minify {
	return &Minify{}
}

func (m *Minify) Name() string { return "minify" }

func (m *Minify) Options(opts *api.BuildOptions) {
	opts.MinifyWhitespace = true
	opts.MinifyIdentifiers = true
	opts.MinifySyntax = true
	opts.LegalComments = api.LegalCommentsInline
}
