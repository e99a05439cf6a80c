// Package markdown turns Markdown story and script bodies into plain text
// suitable for chunking and embedding.
package markdown

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Flattener strips Markdown syntax while keeping block structure as blank lines.
type Flattener struct {
	md goldmark.Markdown
}

// NewFlattener creates a Flattener configured with the goldmark parser.
func NewFlattener() *Flattener {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Flattener{md: md}
}

func (f *Flattener) parse(source []byte) ast.Node {
	return f.md.Parser().Parse(text.NewReader(source))
}

// Flatten returns the visible text of source. Each block (heading,
// paragraph, list item, code block) becomes one paragraph; inline markup,
// link targets and raw HTML are dropped.
func (f *Flattener) Flatten(source []byte) string {
	doc := f.parse(source)

	var blocks []string
	var buf strings.Builder
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			blocks = append(blocks, s)
		}
		buf.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				flush()
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			switch {
			case node.HardLineBreak():
				buf.WriteByte('\n')
			case node.SoftLineBreak():
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.Label(source))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.ThematicBreak:
			flush()
		}
		return ast.WalkContinue, nil
	})
	flush()

	return strings.Join(blocks, "\n\n")
}

// Outline lists the heading hierarchy of source as paths such as
// "Act One > Scene Two", in document order. Headings deeper than maxDepth
// are ignored.
func (f *Flattener) Outline(source []byte, maxDepth int) ([]string, error) {
	doc := f.parse(source)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(maxDepth),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var paths []string
	var walk func(items toc.Items, ancestors []string)
	walk = func(items toc.Items, ancestors []string) {
		for _, item := range items {
			path := ancestors
			if title := strings.TrimSpace(string(item.Title)); title != "" {
				path = append(ancestors[:len(ancestors):len(ancestors)], title)
				paths = append(paths, strings.Join(path, " > "))
			}
			walk(item.Items, path)
		}
	}
	walk(tree.Items, nil)

	return paths, nil
}
