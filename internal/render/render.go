// Package render writes the block of shared links inserted into a message,
// as plain text, Markdown, or HTML.
package render

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

// Format selects the output representation.
type Format string

const (
	Text     Format = "text"
	Markdown Format = "markdown"
	HTML     Format = "html"
)

// ParseFormat validates a format name. The empty string selects Text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return Text, nil
	case Text, Markdown, HTML:
		return f, nil
	default:
		return "", fmt.Errorf("render: unknown format %q (want text, markdown, or html)", s)
	}
}

// Link is one entry of the block.
type Link struct {
	Name string
	URL  string
	Size string // preformatted, may be empty
}

// Block is the set of links for one message.
type Block struct {
	Links   []Link
	Expires time.Time
}

const heading = "Shared via Dropbox"

// Renderer converts blocks. The HTML form is the Markdown form run through
// goldmark; raw HTML in file names is escaped, never passed through.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)

	return &Renderer{md: md}
}

// Render writes b to w in format f. An empty block writes nothing.
func (r *Renderer) Render(w io.Writer, f Format, b Block) error {
	if len(b.Links) == 0 {
		return nil
	}

	switch f {
	case Text, "":
		_, err := io.WriteString(w, textBlock(b))
		return err
	case Markdown:
		_, err := io.WriteString(w, markdownBlock(b))
		return err
	case HTML:
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(markdownBlock(b)), &buf); err != nil {
			return fmt.Errorf("render: converting links block: %w", err)
		}

		_, err := w.Write(buf.Bytes())

		return err
	default:
		return fmt.Errorf("render: unknown format %q", f)
	}
}

func expiryNote(b Block) string {
	if b.Expires.IsZero() {
		return ""
	}

	return " (links expire " + b.Expires.UTC().Format(time.DateOnly) + ")"
}

func textBlock(b Block) string {
	var sb strings.Builder

	sb.WriteString(heading + expiryNote(b) + ":\n")

	for _, l := range b.Links {
		sb.WriteString("- " + l.Name)

		if l.Size != "" {
			sb.WriteString(" (" + l.Size + ")")
		}

		sb.WriteString(": " + l.URL + "\n")
	}

	return sb.String()
}

func markdownBlock(b Block) string {
	var sb strings.Builder

	sb.WriteString("**" + heading + "**" + escapeMarkdown(expiryNote(b)) + "\n\n")

	for _, l := range b.Links {
		fmt.Fprintf(&sb, "- [%s](<%s>)", escapeMarkdown(l.Name), l.URL)

		if l.Size != "" {
			sb.WriteString(" " + escapeMarkdown("("+l.Size+")"))
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

// markdownSpecial are the inline characters that change meaning in a link
// label or list item.
const markdownSpecial = "\\`*_[]<>()!&~#|"

func escapeMarkdown(s string) string {
	var sb strings.Builder

	for _, r := range s {
		if strings.ContainsRune(markdownSpecial, r) {
			sb.WriteByte('\\')
		}

		sb.WriteRune(r)
	}

	return sb.String()
}
