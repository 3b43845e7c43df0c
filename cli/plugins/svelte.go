package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

const svelteCSSNamespace = "svelte-css"

// tsScriptRegex matches <script> blocks written in TypeScript.
// Captures: (1) attributes before lang, (2) attributes after lang, (3) body.
var tsScriptRegex = regexp.MustCompile(`(?s)<script([^>]*?)\s+lang=["'](?:ts|typescript)["']([^>]*)>(.*?)</script>`)

// preprocessTSConfig keeps imports that are only referenced from the markup
const preprocessTSConfig = `{"compilerOptions":{"verbatimModuleSyntax":true}}`

// Svelte compiles .svelte components
type Svelte struct {
	compiler Compiler
	dev      bool
	emitCSS  bool

	mu  sync.Mutex
	css map[string]string
}

// NewSvelte creates the svelte plugin. dev enables the compiler's runtime checks.
// When emitCSS is false component styles are injected by the generated JavaScript;
// otherwise they are emitted as CSS next to the bundle.
func NewSvelte(compiler Compiler, dev, emitCSS bool) *Svelte {
	return &Svelte{
		compiler: compiler,
		dev:      dev,
		emitCSS:  emitCSS,
		css:      make(map[string]string),
	}
}

func (s *Svelte) Name() string { return "svelte" }

func (s *Svelte) Options(opts *api.BuildOptions) {
	opts.MainFields = prependUnique(opts.MainFields, "svelte")
	opts.Conditions = addUnique(opts.Conditions, "svelte")
	addResolveExtensions(opts, ".svelte")
}

func (s *Svelte) TransformFilter() string { return `\.svelte$` }

// Transform preprocesses TypeScript script blocks and compiles the component
func (s *Svelte) Transform(ctx context.Context, args TransformArgs) (*TransformResult, error) {
	source, err := preprocessTypeScript(args.Code, args.Path)
	if err != nil {
		return nil, err
	}

	cssMode := CSSInjected
	if s.emitCSS {
		cssMode = CSSExternal
	}

	out, err := s.compiler.Compile(ctx, source, CompileOptions{
		Filename: args.Path,
		Dev:      s.dev,
		CSS:      cssMode,
	})
	if err != nil {
		return nil, err
	}

	for _, w := range out.Warnings {
		log.Warn().Str("file", args.Path).Msg(w)
	}
	if out.Preprocessed {
		log.Debug().Str("file", args.Path).Msg("Preprocessed component with svelte-preprocess")
	}

	code := out.JS
	if s.emitCSS && strings.TrimSpace(out.CSS) != "" {
		cssPath := args.Path + ".css"
		s.mu.Lock()
		s.css[cssPath] = out.CSS
		s.mu.Unlock()
		code = fmt.Sprintf("import %q;\n%s", cssPath, code)
	}

	return &TransformResult{Code: code, Loader: api.LoaderJS}, nil
}

func (s *Svelte) ResolveFilter() string { return `\.svelte\.css$` }

// Resolve routes extracted component styles to the plugin's namespace
func (s *Svelte) Resolve(args ResolveArgs) (*ResolveResult, error) {
	s.mu.Lock()
	_, ok := s.css[args.Path]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return &ResolveResult{Path: args.Path, Namespace: svelteCSSNamespace}, nil
}

func (s *Svelte) Namespace() string { return svelteCSSNamespace }

// Load returns the styles extracted from a component
func (s *Svelte) Load(path string) (*TransformResult, error) {
	s.mu.Lock()
	css, ok := s.css[path]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no styles recorded for %s", path)
	}
	return &TransformResult{Code: css, Loader: api.LoaderCSS}, nil
}

// preprocessTypeScript strips types from <script lang="ts"> blocks so the component
// compiler only sees JavaScript
func preprocessTypeScript(source, filename string) (string, error) {
	var transformErr error

	out := tsScriptRegex.ReplaceAllStringFunc(source, func(block string) string {
		if transformErr != nil {
			return block
		}
		m := tsScriptRegex.FindStringSubmatch(block)
		if len(m) != 4 {
			return block
		}

		result := api.Transform(m[3], api.TransformOptions{
			Loader:      api.LoaderTS,
			Sourcefile:  filename,
			Target:      api.ESNext,
			TsconfigRaw: preprocessTSConfig,
		})
		if len(result.Errors) > 0 {
			transformErr = fmt.Errorf("%s: %s", filename, result.Errors[0].Text)
			return block
		}

		return "<script" + m[1] + m[2] + ">\n" + string(result.Code) + "</script>"
	})

	if transformErr != nil {
		return "", transformErr
	}
	return out, nil
}
