package ingest

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

// MarkdownSections parses a markdown document and returns one plain text
// section per level 1 or 2 heading. Content before the first heading becomes
// its own section. Each section keeps its heading as a prefix so the text
// stays meaningful on its own.
func MarkdownSections(ctx context.Context, markdown string) []string {
	logger := logutil.GetLogger(ctx)
	md := goldmark.New()
	reader := text.NewReader([]byte(markdown))
	doc := md.Parser().Parse(reader)

	var sections []string
	var heading string
	var parts []string

	flush := func() {
		if len(parts) == 0 {
			return
		}
		body := strings.Join(parts, "\n")
		if heading != "" {
			body = heading + "\n" + body
		}
		sections = append(sections, body)
		parts = nil
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			if n.Level <= 2 {
				flush()
				heading = string(n.Text(reader.Source()))
				continue
			}
			if txt := string(n.Text(reader.Source())); txt != "" {
				parts = append(parts, txt)
			}
		case *ast.FencedCodeBlock:
			var sb strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				sb.Write(line.Value(reader.Source()))
			}
			if code := strings.TrimSpace(sb.String()); code != "" {
				parts = append(parts, code)
			}
		default:
			if txt := extractText(node, reader.Source()); txt != "" {
				parts = append(parts, txt)
			}
		}
	}
	flush()
	if heading != "" && len(sections) == 0 {
		sections = append(sections, heading)
	}
	logger.Debug("markdown parsed", zap.Int("sections", len(sections)))
	return sections
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			sb.Write(node.(*ast.Text).Segment.Value(source))
			sb.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(strings.Join(strings.Fields(sb.String()), " "))
}
