package plugins

import (
	"github.com/evanw/esbuild/pkg/api"
)

// DefaultJSONExtensions are imported as JSON modules
var DefaultJSONExtensions = []string{".json", ".geojson"}

// JSON allows importing JSON data files as modules
type JSON struct {
	extensions []string
}

// NewJSON creates the json plugin. With no extensions, DefaultJSONExtensions are used.
func NewJSON(extensions ...string) *JSON {
	if len(extensions) == 0 {
		extensions = DefaultJSONExtensions
	}
	return &JSON{extensions: extensions}
}

func (j *JSON) Name() string { return "json" }

func (j *JSON) Options(opts *api.BuildOptions) {
	setLoader(opts, api.LoaderJSON, j.extensions...)
	addResolveExtensions(opts, ".json")
}
