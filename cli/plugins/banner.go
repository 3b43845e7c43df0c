package plugins

import (
	"strings"
)

// Banner prepends a comment to every emitted chunk
type Banner struct {
	text string
}

// NewBanner creates the banner plugin
func NewBanner(text string) *Banner {
	return &Banner{text: strings.TrimRight(text, "\n")}
}

func (b *Banner) Name() string { return "banner" }

func (b *Banner) RenderChunk(chunk Chunk) (*RenderResult, error) {
	if b.text == "" {
		return nil, nil
	}
	code := make([]byte, 0, len(b.text)+1+len(chunk.Code))
	code = append(code, b.text...)
	code = append(code, '\n')
	code = append(code, chunk.Code...)
	return &RenderResult{
		Code:           code,
		PrependedLines: strings.Count(b.text, "\n") + 1,
	}, nil
}
