package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// FileName is the manifest file name inside a package folder
const FileName = "package.json"

// Package holds the package.json fields the build reads
type Package struct {
	// Path is the manifest file the package was loaded from
	Path string

	Name    string
	Version string
	License string

	// Module is the ES module entry point, relative to the package root
	Module string

	// Main is the CommonJS entry point
	Main string

	// Svelte is the uncompiled component entry point
	Svelte string
}

// Load reads the package.json in dir
func Load(dir string) (*Package, error) {
	path := filepath.Join(dir, FileName)

	_, data, err := readManifest(path)
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(data)
	return &Package{
		Path:    path,
		Name:    doc.Get("name").String(),
		Version: doc.Get("version").String(),
		License: doc.Get("license").String(),
		Module:  doc.Get("module").String(),
		Main:    doc.Get("main").String(),
		Svelte:  doc.Get("svelte").String(),
	}, nil
}

// SemVer parses the package version as a strict semantic version
func (p *Package) SemVer() (*semver.Version, error) {
	if p.Version == "" {
		return nil, fmt.Errorf("%s has no version", p.Path)
	}
	v, err := semver.StrictNewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q in %s: %w", p.Version, p.Path, err)
	}
	return v, nil
}

// Banner returns a legal comment identifying the package, e.g. "/*! my-lib v1.2.3 | MIT */".
// The version is left out when it is not valid semver.
func (p *Package) Banner() string {
	label := p.Name
	if label == "" {
		label = filepath.Base(filepath.Dir(p.Path))
	}
	if v, err := p.SemVer(); err == nil {
		label += " v" + v.String()
	}
	if p.License != "" {
		label += " | " + p.License
	}
	return "/*! " + label + " */"
}

// utf8BOM is tolerated at the start of a manifest, as npm does
var utf8BOM = []byte("\xef\xbb\xbf")

// readManifest reads a manifest and checks it is a JSON object without
// duplicate top-level keys. It returns the file as read and the JSON document
// with any leading byte order mark removed.
func readManifest(path string) (raw, doc []byte, err error) {
	raw, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &NotFoundError{Path: path, Err: err}
		}
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc = bytes.TrimPrefix(raw, utf8BOM)

	if !gjson.ValidBytes(doc) {
		return nil, nil, &ParseError{Path: path, Reason: "invalid JSON"}
	}
	parsed := gjson.ParseBytes(doc)
	if !parsed.IsObject() {
		return nil, nil, &ParseError{Path: path, Reason: "top-level value must be an object"}
	}

	// gjson reads the first of two equal keys, JSON.parse the last
	var keys []string
	parsed.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	if dups := lo.FindDuplicates(keys); len(dups) > 0 {
		return nil, nil, &ParseError{Path: path, Reason: fmt.Sprintf("duplicate key %q", dups[0])}
	}

	return raw, doc, nil
}
