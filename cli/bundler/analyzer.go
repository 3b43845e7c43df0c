package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/samber/lo"

	"github.com/fluxbase-eu/fluxbundle/cli/util"
)

// Analyze builds every output in memory and reports what went into it.
// Nothing is written to disk.
func (b *Bundler) Analyze(ctx context.Context) ([]*AnalysisResult, error) {
	var results []*AnalysisResult
	for _, out := range b.cfg.Outputs {
		built, err := b.run(ctx, out)
		if err != nil {
			return nil, err
		}

		var meta Metafile
		if err := json.Unmarshal([]byte(built.Metafile), &meta); err != nil {
			return nil, fmt.Errorf("failed to parse metafile: %w", err)
		}

		analysis, err := analyzeMetafile(&meta, util.RelPath(b.cfg.WorkingDir, out.File))
		if err != nil {
			return nil, err
		}
		analysis.Warnings = formatMessages(built.Warnings, api.WarningMessage)
		results = append(results, analysis)
	}
	return results, nil
}

// analyzeMetafile reports the contributions to the output named outputPath.
// Metafile paths are relative to the build's working directory.
func analyzeMetafile(meta *Metafile, outputPath string) (*AnalysisResult, error) {
	name, output, ok := findOutput(meta, outputPath)
	if !ok {
		return nil, fmt.Errorf("metafile has no output for %s", outputPath)
	}

	result := &AnalysisResult{
		Output:     name,
		TotalBytes: output.Bytes,
	}

	// Collect external imports
	for _, imp := range output.Imports {
		if imp.External {
			result.ExternalImports = append(result.ExternalImports, imp.Path)
		}
	}
	result.ExternalImports = lo.Uniq(result.ExternalImports)
	sort.Strings(result.ExternalImports)

	packages := map[string]*PackageAnalysis{}
	for inputPath, contrib := range output.Inputs {
		inputInfo, ok := meta.Inputs[inputPath]
		if !ok {
			continue
		}

		file := FileAnalysis{
			Path:          inputPath,
			Bytes:         inputInfo.Bytes,
			BytesInOutput: contrib.BytesInOutput,
			Percentage:    percentage(contrib.BytesInOutput, result.TotalBytes),
			ImportCount:   len(inputInfo.Imports),
			Package:       packageName(inputPath),
		}
		result.InputFiles = append(result.InputFiles, file)

		if file.Package == "" {
			continue
		}
		pkg, ok := packages[file.Package]
		if !ok {
			pkg = &PackageAnalysis{Name: file.Package}
			packages[file.Package] = pkg
		}
		pkg.Files++
		pkg.BytesInOutput += file.BytesInOutput
	}

	// Sort by bytes in output (largest first)
	sort.Slice(result.InputFiles, func(i, j int) bool {
		a, b := result.InputFiles[i], result.InputFiles[j]
		if a.BytesInOutput != b.BytesInOutput {
			return a.BytesInOutput > b.BytesInOutput
		}
		return a.Path < b.Path
	})

	for _, pkg := range packages {
		pkg.Percentage = percentage(pkg.BytesInOutput, result.TotalBytes)
		result.Packages = append(result.Packages, *pkg)
	}
	sort.Slice(result.Packages, func(i, j int) bool {
		a, b := result.Packages[i], result.Packages[j]
		if a.BytesInOutput != b.BytesInOutput {
			return a.BytesInOutput > b.BytesInOutput
		}
		return a.Name < b.Name
	})

	return result, nil
}

// findOutput looks up the output for outputPath, falling back to the output
// produced for an entry point
func findOutput(meta *Metafile, outputPath string) (string, MetafileOutput, bool) {
	if output, ok := meta.Outputs[outputPath]; ok {
		return outputPath, output, true
	}

	names := lo.Keys(meta.Outputs)
	sort.Strings(names)
	for _, name := range names {
		if meta.Outputs[name].EntryPoint != "" {
			return name, meta.Outputs[name], true
		}
	}
	return "", MetafileOutput{}, false
}

// packageName returns the npm package an input path belongs to
func packageName(inputPath string) string {
	const marker = "node_modules/"
	idx := strings.LastIndex(inputPath, marker)
	if idx < 0 {
		return ""
	}

	parts := strings.Split(inputPath[idx+len(marker):], "/")
	if strings.HasPrefix(parts[0], "@") && len(parts) > 1 {
		return path.Join(parts[0], parts[1])
	}
	return parts[0]
}

func percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
