package render

import (
	"bytes"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/jmgilman/gitweb/errors"
)

// HighlightVersion is folded into highlight cache keys.
const HighlightVersion = 1

// DefaultStyle is the chroma style Stylesheet falls back to.
const DefaultStyle = "github"

var formatter = chromahtml.New(
	chromahtml.WithClasses(true),
	chromahtml.WithLineNumbers(true),
	chromahtml.WithLinkableLineNumbers(true, "L"),
	chromahtml.TabWidth(4),
)

// Highlight renders src as HTML with CSS classes. The lexer is picked by
// file name; unknown types are rendered as plain text.
func Highlight(name string, src []byte) ([]byte, error) {
	lexer := lexers.Match(name)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, string(src))
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInternal, "tokenise source",
			map[string]any{"file": name})
	}

	var b bytes.Buffer
	if err := formatter.Format(&b, styles.Get(DefaultStyle), it); err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInternal, "format source",
			map[string]any{"file": name})
	}
	return b.Bytes(), nil
}

// Stylesheet returns the CSS for the classes Highlight emits, in the named
// chroma style.
func Stylesheet(style string) ([]byte, error) {
	var b bytes.Buffer
	if err := formatter.WriteCSS(&b, styles.Get(style)); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "write stylesheet")
	}
	return b.Bytes(), nil
}
