// Package jira posts issue comments. Jira Cloud takes comment bodies in the
// Atlassian Document Format (ADF), so the package carries a Markdown→ADF
// converter built on the gomarkdown AST.
package jira

import (
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// Node is one ADF document node.
type Node struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark decorates a text node (strong, em, code, link).
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// MarkdownToADF converts a Markdown string into an ADF document node.
// Supported: headings, paragraphs, nested bullet/ordered lists, code
// blocks, and the strong/em/code/link inline marks.
func MarkdownToADF(source string) Node {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	root := p.Parse([]byte(source))

	content := convertBlocks(root.GetChildren())
	if len(content) == 0 {
		// Jira rejects documents with no content
		content = []Node{{Type: "paragraph"}}
	}
	return Node{Type: "doc", Version: 1, Content: content}
}

func convertBlocks(nodes []ast.Node) []Node {
	var out []Node
	for _, node := range nodes {
		switch n := node.(type) {
		case *ast.Heading:
			level := n.Level
			if level > 6 {
				level = 6
			}
			out = append(out, Node{
				Type:    "heading",
				Attrs:   map[string]any{"level": level},
				Content: convertInline(n.GetChildren(), nil),
			})
		case *ast.Paragraph:
			out = append(out, Node{
				Type:    "paragraph",
				Content: convertInline(n.GetChildren(), nil),
			})
		case *ast.List:
			out = append(out, convertList(n))
		case *ast.CodeBlock:
			block := Node{Type: "codeBlock"}
			if lang := string(n.Info); lang != "" {
				block.Attrs = map[string]any{"language": lang}
			}
			if text := string(n.Literal); text != "" {
				block.Content = []Node{{Type: "text", Text: text}}
			}
			out = append(out, block)
		case *ast.BlockQuote:
			out = append(out, Node{
				Type:    "blockquote",
				Content: convertBlocks(n.GetChildren()),
			})
		case *ast.HorizontalRule:
			out = append(out, Node{Type: "rule"})
		default:
			// unhandled block kinds flatten into their children
			out = append(out, convertBlocks(node.GetChildren())...)
		}
	}
	return out
}

func convertList(list *ast.List) Node {
	node := Node{Type: "bulletList"}
	if list.ListFlags&ast.ListTypeOrdered != 0 {
		node.Type = "orderedList"
		node.Attrs = map[string]any{"order": 1}
	}

	for _, child := range list.GetChildren() {
		item, ok := child.(*ast.ListItem)
		if !ok {
			continue
		}
		node.Content = append(node.Content, Node{
			Type:    "listItem",
			Content: convertListItem(item.GetChildren()),
		})
	}
	return node
}

// convertListItem keeps nested lists as siblings of the item's paragraph,
// which is how ADF nests list levels.
func convertListItem(children []ast.Node) []Node {
	var out []Node
	for _, child := range children {
		switch n := child.(type) {
		case *ast.List:
			out = append(out, convertList(n))
		case *ast.Paragraph:
			out = append(out, Node{Type: "paragraph", Content: convertInline(n.GetChildren(), nil)})
		default:
			if inline := convertInline([]ast.Node{child}, nil); len(inline) > 0 {
				out = append(out, Node{Type: "paragraph", Content: inline})
			}
		}
	}
	if len(out) == 0 {
		out = []Node{{Type: "paragraph"}}
	}
	return out
}

func convertInline(nodes []ast.Node, marks []Mark) []Node {
	var out []Node
	for _, node := range nodes {
		switch n := node.(type) {
		case *ast.Text:
			if text := string(n.Literal); text != "" {
				out = append(out, textNode(text, marks))
			}
		case *ast.Strong:
			out = append(out, convertInline(n.GetChildren(), append(marks, Mark{Type: "strong"}))...)
		case *ast.Emph:
			out = append(out, convertInline(n.GetChildren(), append(marks, Mark{Type: "em"}))...)
		case *ast.Code:
			if text := string(n.Literal); text != "" {
				out = append(out, textNode(text, append(marks, Mark{Type: "code"})))
			}
		case *ast.Link:
			linkMark := Mark{Type: "link", Attrs: map[string]any{"href": string(n.Destination)}}
			out = append(out, convertInline(n.GetChildren(), append(marks, linkMark))...)
		case *ast.Hardbreak, *ast.Softbreak:
			out = append(out, textNode(" ", marks))
		default:
			out = append(out, convertInline(node.GetChildren(), marks)...)
		}
	}
	return out
}

func textNode(text string, marks []Mark) Node {
	node := Node{Type: "text", Text: text}
	if len(marks) > 0 {
		node.Marks = append([]Mark(nil), marks...)
	}
	return node
}
