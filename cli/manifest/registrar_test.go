package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// writePackage creates <root>/package/package.json and returns the package folder
func writePackage(t *testing.T, content string) string {
	t.Helper()
	folder := filepath.Join(t.TempDir(), "package")
	require.NoError(t, os.MkdirAll(folder, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, FileName), []byte(content), 0644))
	return folder
}

func readPackage(t *testing.T, folder string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(folder, FileName))
	require.NoError(t, err)
	return data
}

func TestRegisterExports_SetsModuleEntry(t *testing.T) {
	folder := writePackage(t, "{\n  \"name\": \"my-lib\",\n  \"version\": \"1.0.0\"\n}\n")

	err := RegisterExports(folder,
		filepath.Join(folder, "dist", "lib.mjs"),
		filepath.Join(folder, "dist", "lib.mjs.map"))
	require.NoError(t, err)

	doc := gjson.ParseBytes(readPackage(t, folder))
	assert.Equal(t, "dist/lib.mjs", doc.Get("module").String())
	assert.Equal(t, "./dist/lib.mjs", doc.Get(`exports.\./bundle`).String())
	assert.Equal(t, "./dist/lib.mjs.map", doc.Get(`exports.\./bundle\.map`).String())
	assert.Equal(t, "./dist/lib.mjs", doc.Get(`exports.\.`).String())
	assert.Equal(t, "my-lib", doc.Get("name").String())
	assert.Equal(t, "1.0.0", doc.Get("version").String())
}

func TestRegisterExports_RelativeWorkingDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "package"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "package", FileName), []byte(`{"name":"x"}`), 0644))

	t.Chdir(root)

	require.NoError(t, RegisterExports("package", "package/dist/lib.mjs", "package/dist/lib.mjs.map"))

	data, err := os.ReadFile(filepath.Join(root, "package", FileName))
	require.NoError(t, err)
	assert.Equal(t, "dist/lib.mjs", gjson.GetBytes(data, "module").String())
}

func TestRegisterExports_Idempotent(t *testing.T) {
	folder := writePackage(t, `{
  "name": "my-lib",
  "files": ["dist"],
  "exports": {
    ".": "./index.js"
  }
}
`)
	file := filepath.Join(folder, "dist", "lib.mjs")

	require.NoError(t, RegisterExports(folder, file, file+".map"))
	first := readPackage(t, folder)

	require.NoError(t, RegisterExports(folder, file, file+".map"))
	second := readPackage(t, folder)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 1, strings.Count(string(second), `"./bundle"`))
	assert.Equal(t, "./index.js", gjson.GetBytes(second, `exports.\.`).String())
}

func TestRegister_AlreadyCurrentLeavesFileUntouched(t *testing.T) {
	content := `{"name":"my-lib","module":"dist/lib.mjs","exports":{".":"./dist/lib.mjs","./bundle":"./dist/lib.mjs","./bundle.map":"./dist/lib.mjs.map"}}`
	folder := writePackage(t, content)
	path := filepath.Join(folder, FileName)

	before, err := os.Stat(path)
	require.NoError(t, err)

	res, err := NewRegistrar().Register(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
	require.NoError(t, err)
	assert.False(t, res.Changed)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	assert.Equal(t, content, string(readPackage(t, folder)))
}

func TestRegister_PromotesStringExports(t *testing.T) {
	folder := writePackage(t, `{"name":"my-lib","exports":"./index.js"}`)

	res, err := NewRegistrar().Register(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
	require.NoError(t, err)
	assert.True(t, res.Changed)

	data := readPackage(t, folder)
	assert.Equal(t, "./index.js", gjson.GetBytes(data, `exports.\.`).String())
	assert.Equal(t, "./dist/lib.mjs", gjson.GetBytes(data, `exports.\./bundle`).String())
}

func TestRegister_CustomExportKey(t *testing.T) {
	folder := writePackage(t, `{"name":"my-lib"}`)

	r := NewRegistrar(WithExportKey("./standalone"))
	_, err := r.Register(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
	require.NoError(t, err)

	data := readPackage(t, folder)
	assert.Equal(t, "./dist/lib.mjs", gjson.GetBytes(data, `exports.\./standalone`).String())
	assert.Equal(t, "./dist/lib.mjs.map", gjson.GetBytes(data, `exports.\./standalone\.map`).String())
	assert.False(t, gjson.GetBytes(data, `exports.\./bundle`).Exists())
}

func TestRegister_InvalidExportKey(t *testing.T) {
	folder := writePackage(t, `{"name":"my-lib"}`)

	for _, key := range []string{"bundle", "./bun*dle"} {
		_, err := NewRegistrar(WithExportKey(key)).Register(NewBuildTarget(folder, filepath.Join(folder, "lib.mjs")))
		assert.Error(t, err, key)
	}
}

func TestRegister_KeepsKeyOrderAndIndent(t *testing.T) {
	folder := writePackage(t, "{\n\t\"name\": \"my-lib\",\n\t\"module\": \"old.mjs\",\n\t\"version\": \"2.0.0\"\n}\n")

	_, err := NewRegistrar().Register(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
	require.NoError(t, err)

	out := string(readPackage(t, folder))
	assert.Contains(t, out, "\n\t\"name\"")
	assert.Less(t, strings.Index(out, `"name"`), strings.Index(out, `"module"`))
	assert.Less(t, strings.Index(out, `"module"`), strings.Index(out, `"version"`))
	assert.True(t, strings.HasSuffix(out, "}\n"))
	assert.NotContains(t, out, "old.mjs")
}

func TestRegister_MissingPackageFolder(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "missing")

	err := RegisterExports(folder, filepath.Join(folder, "dist", "lib.mjs"), filepath.Join(folder, "dist", "lib.mjs.map"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, statErr := os.Stat(folder)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRegister_MissingManifest(t *testing.T) {
	folder := t.TempDir()

	err := RegisterExports(folder, filepath.Join(folder, "lib.mjs"), filepath.Join(folder, "lib.mjs.map"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, statErr := os.Stat(filepath.Join(folder, FileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRegister_InvalidManifest(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "truncated", content: `{"name": "my-lib",`},
		{name: "empty", content: ``},
		{name: "array", content: `["not", "an", "object"]`},
		{name: "duplicate key", content: `{"name": "my-lib", "module": "dist/lib.mjs", "module": "b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			folder := writePackage(t, tt.content)

			err := RegisterExports(folder, filepath.Join(folder, "lib.mjs"), filepath.Join(folder, "lib.mjs.map"))
			require.Error(t, err)
			assert.True(t, IsParseError(err))
			assert.Equal(t, tt.content, string(readPackage(t, folder)))
		})
	}
}

func TestRegister_OutsidePackage(t *testing.T) {
	folder := writePackage(t, `{"name":"my-lib"}`)

	err := RegisterExports(folder, filepath.Join(folder, "..", "dist", "lib.mjs"), filepath.Join(folder, "lib.mjs.map"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutsidePackage))
	assert.Equal(t, `{"name":"my-lib"}`, string(readPackage(t, folder)))
}

func TestRegister_WriteError(t *testing.T) {
	folder := writePackage(t, `{"name":"my-lib"}`)
	diskFull := errors.New("no space left on device")

	r := NewRegistrar()
	r.writeFile = func(string, []byte, os.FileMode) error { return diskFull }

	_, err := r.Register(NewBuildTarget(folder, filepath.Join(folder, "lib.mjs")))
	require.Error(t, err)
	assert.True(t, IsWriteError(err))
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, `{"name":"my-lib"}`, string(readPackage(t, folder)))
}

func TestRegister_RootExport(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantRoot string
	}{
		{
			name:     "missing exports",
			content:  `{"name":"my-lib","module":"dist/lib.mjs"}`,
			wantRoot: "./dist/lib.mjs",
		},
		{
			name:     "null exports",
			content:  `{"name":"my-lib","exports":null}`,
			wantRoot: "./dist/lib.mjs",
		},
		{
			name:     "only bundle keys",
			content:  `{"name":"my-lib","module":"dist/lib.mjs","exports":{"./bundle":"./dist/lib.mjs","./bundle.map":"./dist/lib.mjs.map"}}`,
			wantRoot: "./dist/lib.mjs",
		},
		{
			name:     "root follows the module entry",
			content:  `{"name":"my-lib","module":"dist/old.mjs","exports":{".":"./dist/old.mjs","./bundle":"./dist/old.mjs"}}`,
			wantRoot: "./dist/lib.mjs",
		},
		{
			name:     "own root entry kept",
			content:  `{"name":"my-lib","module":"dist/old.mjs","exports":{".":"./index.js"}}`,
			wantRoot: "./index.js",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			folder := writePackage(t, tt.content)

			res, err := NewRegistrar().Register(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
			require.NoError(t, err)
			assert.True(t, res.Changed)

			data := readPackage(t, folder)
			assert.Equal(t, tt.wantRoot, gjson.GetBytes(data, `exports.\.`).String())
			assert.Equal(t, "./dist/lib.mjs", gjson.GetBytes(data, `exports.\./bundle`).String())

			// The result is stable once written
			res, err = NewRegistrar().Register(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
			require.NoError(t, err)
			assert.False(t, res.Changed)
		})
	}
}

func TestRegisterExports_PackageStaysImportable(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "node_modules", "my-lib")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "dist"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, FileName),
		[]byte(`{"name":"my-lib","version":"1.0.0","module":"dist/lib.mjs"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "dist", "lib.mjs"),
		[]byte("export const greeting = 'hello from my-lib';\n"), 0644))

	require.NoError(t, RegisterExports(folder,
		filepath.Join(folder, "dist", "lib.mjs"),
		filepath.Join(folder, "dist", "lib.mjs.map")))

	for _, specifier := range []string{"my-lib", "my-lib/bundle"} {
		t.Run(specifier, func(t *testing.T) {
			result := api.Build(api.BuildOptions{
				Stdin: &api.StdinOptions{
					Contents:   fmt.Sprintf("import { greeting } from %q;\nconsole.log(greeting);\n", specifier),
					ResolveDir: root,
					Sourcefile: "entry.js",
				},
				Bundle:   true,
				Write:    false,
				Format:   api.FormatESModule,
				LogLevel: api.LogLevelSilent,
			})
			require.Empty(t, result.Errors)
			require.Len(t, result.OutputFiles, 1)
			assert.Contains(t, string(result.OutputFiles[0].Contents), "hello from my-lib")
		})
	}
}

func TestRegister_KeepsByteOrderMark(t *testing.T) {
	folder := writePackage(t, "\xef\xbb\xbf{\n  \"name\": \"my-lib\"\n}\n")

	res, err := NewRegistrar().Register(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
	require.NoError(t, err)
	assert.True(t, res.Changed)

	data := readPackage(t, folder)
	assert.True(t, bytes.HasPrefix(data, utf8BOM))
	assert.Equal(t, "dist/lib.mjs", gjson.GetBytes(bytes.TrimPrefix(data, utf8BOM), "module").String())

	res, err = NewRegistrar().Register(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestPlan_DoesNotWrite(t *testing.T) {
	folder := writePackage(t, `{"name":"my-lib"}`)

	res, err := NewRegistrar().Plan(NewBuildTarget(folder, filepath.Join(folder, "dist", "lib.mjs")))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "dist/lib.mjs", res.Module)
	assert.Equal(t, `{"name":"my-lib"}`, string(readPackage(t, folder)))

	diff, err := res.Diff(false)
	require.NoError(t, err)
	assert.Contains(t, diff, `+  "module": "dist/lib.mjs",`)
}

func TestResult_DiffEmptyWhenUnchanged(t *testing.T) {
	res := &Result{ManifestPath: FileName, Before: []byte("{}\n"), After: []byte("{}\n")}

	diff, err := res.Diff(true)
	require.NoError(t, err)
	assert.Empty(t, diff)
}
