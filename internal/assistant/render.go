package assistant

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// memoryCitationPattern matches the internal citation markers the memory
// service embeds in generated text, like "[Memory 3]". These must never
// reach a recipient.
var memoryCitationPattern = regexp.MustCompile(`\[Memory\s*\d+\]`)

// StripMemoryCitations removes internal memory citation markers from
// generated reply text.
func StripMemoryCitations(text string) string {
	return memoryCitationPattern.ReplaceAllString(text, "")
}

// markdown renders generated replies for HTML mail bodies. GFM covers the
// tables and strikethrough models tend to emit.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML converts a generated markdown reply into the HTML body of a
// draft or outgoing message.
func RenderHTML(markdownText string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(markdownText), &buf); err != nil {
		return "", fmt.Errorf("render reply html: %w", err)
	}

	return buf.String(), nil
}
