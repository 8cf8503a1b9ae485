package application

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

const (
	maxSnippetLength = 200
	untitledReview   = "Untitled Review"
)

// RenderedReview is what the feed shows for a review body.
type RenderedReview struct {
	// Title is the first level-1 heading, or empty.
	Title   string
	Snippet string
	HTML    string
	// FirstImageURL is the destination of the first image, used as the cover.
	FirstImageURL string
}

// MarkdownRenderer converts review bodies to HTML.
type MarkdownRenderer interface {
	Render(markdown []byte) (*RenderedReview, error)
}

type goldmarkRenderer struct {
	md goldmark.Markdown
}

// NewMarkdownRenderer returns a GFM renderer. Raw HTML in reviews is escaped.
func NewMarkdownRenderer() MarkdownRenderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &goldmarkRenderer{md: md}
}

func (r *goldmarkRenderer) Render(markdown []byte) (*RenderedReview, error) {
	doc := r.md.Parser().Parse(text.NewReader(markdown))

	result := &RenderedReview{}
	var snippet string
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if node.Level == 1 && result.Title == "" {
				result.Title = strings.TrimSpace(plainText(node, markdown))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			if result.FirstImageURL == "" {
				result.FirstImageURL = string(node.Destination)
			}
		case *ast.Paragraph:
			if snippet == "" {
				snippet = plainText(node, markdown)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk markdown: %w", err)
	}

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, markdown, doc); err != nil {
		return nil, fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}

	result.Snippet = truncate(strings.Join(strings.Fields(snippet), " "), maxSnippetLength)
	result.HTML = buf.String()
	return result, nil
}

// plainText concatenates the text leaves under n. Image alt text is dropped.
func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := c.(type) {
		case *ast.Image:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := s[:limit]
	if lastSpace := strings.LastIndexAny(cut, " \t"); lastSpace > 0 {
		cut = cut[:lastSpace]
	}
	return cut + "..."
}

// reviewTitle prefers an explicit title, then the body heading.
func reviewTitle(explicit string, rendered *RenderedReview) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}
	if rendered.Title != "" {
		return rendered.Title
	}
	return untitledReview
}
