package manifest

import (
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/aymanbagabas/go-udiff/myers"
	"github.com/gookit/color"
)

const diffContextLines = 3

// Diff renders the manifest change as a unified diff. Returns "" when nothing changes.
// Lines are coloured when colored is true.
func (r *Result) Diff(colored bool) (string, error) {
	from, to := string(r.Before), string(r.After)

	edits := myers.ComputeEdits(from, to)
	if len(edits) == 0 {
		return "", nil
	}

	unified, err := udiff.ToUnified(r.ManifestPath, r.ManifestPath, from, edits, diffContextLines)
	if err != nil {
		return "", err
	}
	if !colored {
		return unified, nil
	}

	lines := strings.Split(strings.TrimRight(unified, "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			out = append(out, color.Bold.Render(line))
		case strings.HasPrefix(line, "@@ "):
			out = append(out, color.Cyan.Render(line))
		case strings.HasPrefix(line, "+"):
			out = append(out, color.Green.Render(line))
		case strings.HasPrefix(line, "-"):
			out = append(out, color.Red.Render(line))
		default:
			out = append(out, color.Gray.Render(line))
		}
	}

	return strings.Join(out, "\n") + "\n", nil
}
