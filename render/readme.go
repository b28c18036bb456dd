package render

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/jmgilman/gitweb/content"
	"github.com/jmgilman/gitweb/errors"
)

// ReadmeVersion is folded into readme cache keys.
const ReadmeVersion = 1

// markdown renders GitHub flavoured markdown. Raw HTML in the source is
// dropped.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// Readme renders r to HTML. Markdown goes through goldmark; anything else is
// escaped into a pre block.
func Readme(r *content.Readme) ([]byte, error) {
	var b bytes.Buffer
	if !r.Markdown {
		b.WriteString("<pre>")
		b.WriteString(html.EscapeString(string(r.Content)))
		b.WriteString("</pre>\n")
		return b.Bytes(), nil
	}

	if err := markdown.Convert(r.Content, &b); err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInternal, "render markdown",
			map[string]any{"file": r.Name})
	}
	return b.Bytes(), nil
}
