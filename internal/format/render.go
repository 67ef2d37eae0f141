package format

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts a Markdown result into the representation a client
// displays.
type Renderer interface {
	Render(markdown string) (string, error)
	// ContentType is the MIME type of the rendered output.
	ContentType() string
}

// ForName returns the renderer for "markdown", "plain" or "html".
func ForName(name string) (Renderer, error) {
	switch strings.ToLower(name) {
	case "", "markdown", "md":
		return Markdown{}, nil
	case "plain", "text":
		return Plain{}, nil
	case "html":
		return NewHTML(), nil
	}
	return nil, fmt.Errorf("unknown format %q", name)
}

// Markdown passes results through unchanged.
type Markdown struct{}

func (Markdown) Render(md string) (string, error) { return md, nil }
func (Markdown) ContentType() string              { return "text/markdown; charset=utf-8" }

// Plain strips emphasis markers for terminals and chat clients that show
// raw text.
type Plain struct{}

var (
	emphasisRe  = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	tableRuleRe = regexp.MustCompile(`(?m)^\|( --- \|)+\n`)
)

func (Plain) Render(md string) (string, error) {
	out := emphasisRe.ReplaceAllString(md, "$1$2")
	out = tableRuleRe.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "`", "")
	return out, nil
}

func (Plain) ContentType() string { return "text/plain; charset=utf-8" }

// HTML renders GitHub-flavoured Markdown with highlighted code blocks.
type HTML struct {
	md goldmark.Markdown
}

// NewHTML returns an HTML renderer. Raw HTML in results is escaped.
func NewHTML() *HTML {
	return &HTML{md: goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)}
}

func (h *HTML) Render(md string) (string, error) {
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

func (h *HTML) ContentType() string { return "text/html; charset=utf-8" }
