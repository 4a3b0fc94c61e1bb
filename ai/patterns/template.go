package patterns

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/MasterofNull/hybrid-coordinator/ai/internal/strutil"
)

// PlaceholderCode replaces the body of every code block in a template.
const PlaceholderCode = "{code}"

const maxDescriptionLen = 120

var markdown = goldmark.New()

// Template is the generic form of one interaction.
type Template struct {
	Description string
	Text        string
}

// DeriveTemplate strips query-specific literals from the query and reduces
// the response to its structure: headings, list items and paragraphs are
// kept with literals generalized, code blocks keep only their language.
func DeriveTemplate(query, response string) Template {
	q, _ := strutil.Generalize(strings.Join(strings.Fields(query), " "))

	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(q)
	if skeleton := responseSkeleton(response); skeleton != "" {
		b.WriteString("\n\nAnswer:\n")
		b.WriteString(skeleton)
	}

	return Template{
		Description: strutil.Truncate(q, maxDescriptionLen),
		Text:        b.String(),
	}
}

func responseSkeleton(response string) string {
	src := []byte(response)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if s := blockSkeleton(n, src); s != "" {
			blocks = append(blocks, s)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func blockSkeleton(n ast.Node, src []byte) string {
	switch v := n.(type) {
	case *ast.Heading:
		return strings.Repeat("#", v.Level) + " " + generalize(inlineText(v, src))
	case *ast.List:
		var lines []string
		i := v.Start
		for item := v.FirstChild(); item != nil; item = item.NextSibling() {
			marker := "-"
			if v.IsOrdered() {
				marker = fmt.Sprintf("%d.", i)
				i++
			}
			lines = append(lines, marker+" "+itemSkeleton(item, src))
		}
		return strings.Join(lines, "\n")
	case *ast.FencedCodeBlock:
		return "```" + string(v.Language(src)) + "\n" + PlaceholderCode + "\n```"
	case *ast.CodeBlock:
		return "```\n" + PlaceholderCode + "\n```"
	case *ast.Paragraph, *ast.TextBlock:
		return generalize(inlineText(v, src))
	case *ast.Blockquote:
		var parts []string
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			if s := blockSkeleton(c, src); s != "" {
				parts = append(parts, "> "+s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// itemSkeleton keeps the item's own text; nested code collapses to the
// placeholder inline.
func itemSkeleton(item ast.Node, src []byte) string {
	var parts []string
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			parts = append(parts, PlaceholderCode)
		case *ast.List:
			parts = append(parts, strings.ReplaceAll(blockSkeleton(c, src), "\n", "; "))
		default:
			if s := generalize(inlineText(c, src)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// inlineText concatenates the text of n's inline descendants.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.CodeSpan:
			// Inline code is a literal by definition.
			b.WriteString(strutil.PlaceholderValue)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func generalize(s string) string {
	out, _ := strutil.Generalize(strings.Join(strings.Fields(s), " "))
	return out
}
