package bundler

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/fluxbase-eu/fluxbundle/cli/util"
)

// DisplayAnalysis prints the bundle analysis in a formatted way
func DisplayAnalysis(w io.Writer, result *AnalysisResult, showDetails bool) {
	_, _ = fmt.Fprintf(w, "\n=== Bundle Analysis: %s ===\n", result.Output)
	_, _ = fmt.Fprintf(w, "Total bundle size: %s\n", humanize.IBytes(uint64(result.TotalBytes)))

	if len(result.ExternalImports) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternal imports (left to the consumer):")
		for _, imp := range result.ExternalImports {
			_, _ = fmt.Fprintf(w, "  - %s\n", imp)
		}
	}

	if len(result.Packages) > 0 {
		_, _ = fmt.Fprintln(w, "\nDependencies:")
		names := make([]string, 0, len(result.Packages))
		for _, pkg := range result.Packages {
			names = append(names, pkg.Name)
		}
		width := maxLen(names)
		for _, pkg := range result.Packages {
			_, _ = fmt.Fprintf(w, "  %s%s  %10s  %5.1f%%  (%d files)\n",
				pkg.Name,
				strings.Repeat(" ", width-len(pkg.Name)),
				humanize.IBytes(uint64(pkg.BytesInOutput)),
				pkg.Percentage,
				pkg.Files,
			)
		}
	}

	if len(result.InputFiles) > 0 {
		_, _ = fmt.Fprintln(w, "\nBundle breakdown:")

		// Determine how many files to show
		maxFiles := 10
		if showDetails || maxFiles > len(result.InputFiles) {
			maxFiles = len(result.InputFiles)
		}

		paths := make([]string, 0, maxFiles)
		for _, file := range result.InputFiles[:maxFiles] {
			paths = append(paths, util.TruncatePath(file.Path, 50))
		}
		width := maxLen(paths)

		for i, file := range result.InputFiles[:maxFiles] {
			_, _ = fmt.Fprintf(w, "  %s%s  %10s  %5.1f%%\n",
				paths[i],
				strings.Repeat(" ", width-len(paths[i])),
				humanize.IBytes(uint64(file.BytesInOutput)),
				file.Percentage,
			)
		}
		if remaining := len(result.InputFiles) - maxFiles; remaining > 0 {
			_, _ = fmt.Fprintf(w, "  ... and %d more files\n", remaining)
		}
	}

	if len(result.Warnings) > 0 {
		_, _ = fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range result.Warnings {
			_, _ = fmt.Fprintf(w, "  - %s\n", warn)
		}
	}

	_, _ = fmt.Fprintln(w)
}

// DisplayReport prints the files a build wrote
func DisplayReport(w io.Writer, workingDir string, report *BuildReport) {
	paths := make([]string, 0, len(report.Outputs))
	for _, out := range report.Outputs {
		paths = append(paths, util.RelPath(workingDir, out.Path))
	}
	width := maxLen(paths)

	for i, out := range report.Outputs {
		_, _ = fmt.Fprintf(w, "  %s%s  %10s\n",
			paths[i],
			strings.Repeat(" ", width-len(paths[i])),
			humanize.IBytes(uint64(out.Bytes)),
		)
	}
	for _, warn := range report.Warnings {
		_, _ = fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}

func maxLen(values []string) int {
	n := 0
	for _, v := range values {
		if len(v) > n {
			n = len(v)
		}
	}
	return n
}
