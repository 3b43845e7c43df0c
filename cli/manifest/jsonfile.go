package manifest

import (
	"bytes"
	"strings"

	"github.com/tidwall/pretty"
)

const defaultIndent = "  "

// jsonPathKey escapes a single object key for use in a gjson/sjson path
func jsonPathKey(key string) string {
	key = strings.ReplaceAll(key, `\`, `\\`)
	return strings.ReplaceAll(key, ".", `\.`)
}

// detectIndent returns the indentation of the first indented line, or two spaces
func detectIndent(data []byte) string {
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimLeft(line, " \t")
		if len(trimmed) == 0 || len(trimmed) == len(line) {
			continue
		}
		return string(line[:len(line)-len(trimmed)])
	}
	return defaultIndent
}

// reformat re-indents a JSON document, keeping key order and the original trailing newline
func reformat(original, edited []byte) []byte {
	out := pretty.PrettyOptions(edited, &pretty.Options{
		Indent:   detectIndent(original),
		SortKeys: false,
	})
	if !bytes.HasSuffix(bytes.TrimRight(original, " \t\r"), []byte("\n")) {
		out = bytes.TrimRight(out, "\n")
	}
	return out
}
