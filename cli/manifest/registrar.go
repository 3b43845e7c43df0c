package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fluxbase-eu/fluxbundle/cli/util"
)

// DefaultExportKey is the exports subpath the bundle is published under
const DefaultExportKey = "./bundle"

// BuildTarget describes the files a build is about to produce for a package
type BuildTarget struct {
	// File is the bundle the build writes
	File string

	// SourcemapFile is the source map written next to File
	SourcemapFile string

	// PackageFolder is the root of the publishable package
	PackageFolder string
}

// NewBuildTarget creates a build target whose source map sits next to file
func NewBuildTarget(packageFolder, file string) BuildTarget {
	return BuildTarget{
		File:          file,
		SourcemapFile: file + ".map",
		PackageFolder: packageFolder,
	}
}

// Registrar points a package manifest's entry fields at the bundle a build produces
type Registrar struct {
	exportKey string

	// writeFile persists the updated manifest
	writeFile func(path string, data []byte, perm os.FileMode) error
}

// Option configures a Registrar
type Option func(*Registrar)

// WithExportKey sets the exports subpath used for the bundle (default "./bundle")
func WithExportKey(key string) Option {
	return func(r *Registrar) {
		if key != "" {
			r.exportKey = key
		}
	}
}

// NewRegistrar creates a registrar
func NewRegistrar(opts ...Option) *Registrar {
	r := &Registrar{
		exportKey: DefaultExportKey,
		writeFile: util.WriteFileAtomic,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result describes what a registration did (or would do) to the manifest
type Result struct {
	ManifestPath string

	// Module is the value of the "module" field
	Module string

	// Exports are the subpath entries the registrar owns. This includes "."
	// when the registrar also maintains the package root export.
	Exports map[string]string

	// Changed is false when the manifest already had the right entries
	Changed bool

	Before []byte
	After  []byte
}

// RegisterExports makes the manifest in packageFolder advertise builtFilePath as its
// module entry point and publishes the bundle and its source map under "./bundle".
func RegisterExports(packageFolder, builtFilePath, sourcemapFilePath string) error {
	_, err := NewRegistrar().Register(BuildTarget{
		File:          builtFilePath,
		SourcemapFile: sourcemapFilePath,
		PackageFolder: packageFolder,
	})
	return err
}

// Register updates the manifest on disk. The file is only rewritten when an entry
// field actually changes, and the rewrite is atomic.
func (r *Registrar) Register(target BuildTarget) (*Result, error) {
	res, err := r.Plan(target)
	if err != nil {
		return nil, err
	}

	if !res.Changed {
		log.Debug().Str("manifest", res.ManifestPath).Msg("Package exports already up to date")
		return res, nil
	}

	if err := r.writeFile(res.ManifestPath, res.After, 0644); err != nil {
		return nil, &WriteError{Path: res.ManifestPath, Err: err}
	}

	log.Info().
		Str("manifest", res.ManifestPath).
		Str("module", res.Module).
		Msg("Registered package exports")

	return res, nil
}

// Plan computes the manifest update for target without writing anything
func (r *Registrar) Plan(target BuildTarget) (*Result, error) {
	if err := r.validateExportKey(); err != nil {
		return nil, err
	}

	info, err := os.Stat(target.PackageFolder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: target.PackageFolder, Err: err}
		}
		return nil, fmt.Errorf("failed to stat package folder: %w", err)
	}
	if !info.IsDir() {
		return nil, &NotFoundError{Path: target.PackageFolder, Err: fmt.Errorf("not a directory")}
	}

	module, err := relativeTo(target.PackageFolder, target.File)
	if err != nil {
		return nil, err
	}
	sourcemap, err := relativeTo(target.PackageFolder, target.SourcemapFile)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(target.PackageFolder, FileName)
	before, doc, err := readManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	bom := before[:len(before)-len(doc)]

	res := &Result{
		ManifestPath: manifestPath,
		Module:       module,
		Exports: map[string]string{
			r.exportKey:          "./" + module,
			r.exportKey + ".map": "./" + sourcemap,
		},
		Before: before,
		After:  before,
	}
	if r.ownsRoot(doc) {
		res.Exports["."] = "./" + module
	}

	if r.isCurrent(doc, res) {
		return res, nil
	}

	after, err := r.apply(doc, res)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", manifestPath, err)
	}

	res.After = append(append([]byte{}, bom...), reformat(doc, after)...)
	res.Changed = !bytes.Equal(res.After, before)
	return res, nil
}

func (r *Registrar) validateExportKey() error {
	if !strings.HasPrefix(r.exportKey, "./") {
		return fmt.Errorf("export key %q must start with \"./\"", r.exportKey)
	}
	if strings.ContainsAny(r.exportKey, `*?|#@\`) {
		return fmt.Errorf("export key %q contains unsupported characters", r.exportKey)
	}
	return nil
}

// isCurrent reports whether the manifest already holds every entry in res
func (r *Registrar) isCurrent(doc []byte, res *Result) bool {
	parsed := gjson.ParseBytes(doc)

	module := parsed.Get("module")
	if module.Type != gjson.String || module.Str != res.Module {
		return false
	}

	exports := parsed.Get("exports")
	if !exports.IsObject() {
		return false
	}
	for key, want := range res.Exports {
		got := exports.Get(jsonPathKey(key))
		if got.Type != gjson.String || got.Str != want {
			return false
		}
	}
	return true
}

// ownsRoot reports whether the registrar maintains the "." export. An exports
// map is the complete list of importable paths, so once the bundle keys are
// added the root must be listed too. That holds when exports is missing or
// null, when the object holds nothing but the bundle keys, and when "." still
// points at the current "module" entry.
func (r *Registrar) ownsRoot(doc []byte) bool {
	parsed := gjson.ParseBytes(doc)

	exports := parsed.Get("exports")
	if !exports.Exists() || exports.Type == gjson.Null {
		return true
	}
	if !exports.IsObject() {
		return false
	}

	root := exports.Get(jsonPathKey("."))
	if !root.Exists() {
		owned := true
		exports.ForEach(func(key, _ gjson.Result) bool {
			k := key.String()
			owned = k == r.exportKey || k == r.exportKey+".map"
			return owned
		})
		return owned
	}

	module := parsed.Get("module")
	return root.Type == gjson.String && module.Type == gjson.String && root.Str == "./"+strings.TrimPrefix(module.Str, "./")
}

func (r *Registrar) apply(doc []byte, res *Result) ([]byte, error) {
	out, err := sjson.SetBytes(doc, "module", res.Module)
	if err != nil {
		return nil, err
	}

	exports := gjson.GetBytes(out, "exports")
	switch {
	case !exports.Exists() || exports.Type == gjson.Null:
		out, err = sjson.SetRawBytes(out, "exports", []byte("{}"))
	case !exports.IsObject():
		// String shorthand or fallback array becomes the "." entry
		out, err = sjson.SetRawBytes(out, "exports", []byte(`{".":`+exports.Raw+`}`))
	}
	if err != nil {
		return nil, err
	}

	// Fixed order keeps the output deterministic
	for _, key := range []string{".", r.exportKey, r.exportKey + ".map"} {
		value, ok := res.Exports[key]
		if !ok {
			continue
		}
		out, err = sjson.SetBytes(out, "exports."+jsonPathKey(key), value)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// relativeTo returns path relative to folder in slash form, rejecting paths that
// escape the folder
func relativeTo(folder, path string) (string, error) {
	absFolder, err := filepath.Abs(folder)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", folder, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	rel, err := filepath.Rel(absFolder, absPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, ErrOutsidePackage)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s: %w", path, ErrOutsidePackage)
	}
	return rel, nil
}
