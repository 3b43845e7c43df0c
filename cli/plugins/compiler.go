package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CSS modes accepted by the component compiler
const (
	CSSInjected = "injected"
	CSSExternal = "external"
)

// CompileOptions are passed to the component compiler
type CompileOptions struct {
	Filename string `json:"filename"`
	Dev      bool   `json:"dev"`
	CSS      string `json:"css"`
}

// CompileResult is a compiled component
type CompileResult struct {
	JS       string   `json:"js"`
	CSS      string   `json:"css"`
	Warnings []string `json:"warnings"`

	// Preprocessed is set when svelte-preprocess ran over the source
	Preprocessed bool `json:"preprocessed"`
}

// Compiler turns a component source file into JavaScript
type Compiler interface {
	Compile(ctx context.Context, source string, opts CompileOptions) (*CompileResult, error)
}

// unavailableCompiler stands in when node could not be found. Builds without
// components never call it.
type unavailableCompiler struct {
	err error
}

// UnavailableCompiler returns a Compiler that fails every compile with err
func UnavailableCompiler(err error) Compiler {
	return &unavailableCompiler{err: err}
}

func (u *unavailableCompiler) Compile(_ context.Context, _ string, opts CompileOptions) (*CompileResult, error) {
	return nil, fmt.Errorf("cannot compile %s: %w", opts.Filename, u.err)
}

// compileScript runs inside node. It reads {source, options} from stdin and
// writes a CompileResult to stdout, mapping options onto the installed major version.
// When the project has svelte-preprocess installed, its default preprocessors
// (SCSS, Less, PostCSS, TypeScript and so on) run before compiling.
const compileScript = `
const svelte = require('svelte/compiler');
let sveltePreprocess = null;
try {
  const mod = require(require.resolve('svelte-preprocess', { paths: [process.cwd()] }));
  sveltePreprocess = mod.sveltePreprocess || mod.default || mod;
} catch (e) {}
let input = '';
process.stdin.on('data', (c) => { input += c; });
process.stdin.on('end', async () => {
  try {
    const req = JSON.parse(input);
    let source = req.source;
    if (sveltePreprocess) {
      const processed = await svelte.preprocess(source, sveltePreprocess(), { filename: req.options.filename });
      source = processed.code;
    }
    const major = parseInt(svelte.VERSION, 10);
    const opts = { filename: req.options.filename, dev: req.options.dev };
    if (major >= 4) {
      opts.css = req.options.css;
    } else {
      opts.css = req.options.css === 'injected';
    }
    opts.generate = major >= 5 ? 'client' : 'dom';
    const out = svelte.compile(source, opts);
    process.stdout.write(JSON.stringify({
      js: out.js.code,
      css: out.css && out.css.code ? out.css.code : '',
      warnings: (out.warnings || []).map((w) => w.message),
      preprocessed: sveltePreprocess !== null,
    }));
  } catch (err) {
    process.stderr.write(String((err && err.stack) || err));
    process.exit(1);
  }
});
`

// NodeCompiler compiles components with the svelte package installed in the
// project, running it through a node process
type NodeCompiler struct {
	nodePath string
	workDir  string
	timeout  time.Duration
}

// NewNodeCompiler creates a compiler that runs node from workDir, so that
// "svelte/compiler" resolves from the project's node_modules.
// nodePath may be empty to search PATH and the usual install locations.
func NewNodeCompiler(nodePath, workDir string) (*NodeCompiler, error) {
	path, err := findNode(nodePath)
	if err != nil {
		return nil, err
	}
	return &NodeCompiler{
		nodePath: path,
		workDir:  workDir,
		timeout:  30 * time.Second,
	}, nil
}

func findNode(nodePath string) (string, error) {
	if nodePath == "" {
		nodePath = "node"
	}
	if path, err := exec.LookPath(nodePath); err == nil {
		return path, nil
	}

	commonPaths := []string{
		"/usr/local/bin/node",
		"/usr/bin/node",
		"/opt/homebrew/bin/node",
		"/home/linuxbrew/.linuxbrew/bin/node",
	}
	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("node is required to compile components. Install from https://nodejs.org or set svelte.compiler")
}

// Compile runs the component compiler on source
func (c *NodeCompiler) Compile(ctx context.Context, source string, opts CompileOptions) (*CompileResult, error) {
	input, err := json.Marshal(map[string]interface{}{
		"source":  source,
		"options": opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode compiler input: %w", err)
	}

	compileCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(compileCtx, c.nodePath, "-e", compileScript) //nolint:gosec // nodePath is resolved in NewNodeCompiler
	cmd.Dir = c.workDir
	cmd.Stdin = strings.NewReader(string(input))

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if compileCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("compiling %s timed out after %s", opts.Filename, c.timeout)
	}
	if runErr != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = runErr.Error()
		}
		return nil, fmt.Errorf("compile failed: %s", cleanCompileError(errMsg))
	}

	var result CompileResult
	if err := json.Unmarshal([]byte(stdout.String()), &result); err != nil {
		return nil, fmt.Errorf("failed to parse compiler output: %w", err)
	}
	return &result, nil
}

// cleanCompileError keeps the compiler's message and drops the node stack trace
func cleanCompileError(errMsg string) string {
	var relevant []string
	for _, line := range strings.Split(errMsg, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "at ") || strings.HasPrefix(line, "^") {
			continue
		}
		if strings.HasPrefix(line, "Node.js v") {
			continue
		}
		relevant = append(relevant, line)
	}
	if len(relevant) == 0 {
		return errMsg
	}
	return strings.Join(relevant, "\n")
}
