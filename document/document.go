// Package document provides structural parsing of markdown/MDX documents.
//
// The parser is deliberately a line-oriented scanner with a code-fence state
// machine rather than a full Markdown AST: the analysis pipeline only needs
// headings, links, images, code blocks, inline code, and paragraph spans with
// line positions.
package document

import (
	"fmt"
	"regexp"
	"strings"
)

// ElementKind discriminates parsed elements.
type ElementKind string

const (
	KindHeading    ElementKind = "heading"
	KindLink       ElementKind = "link"
	KindImage      ElementKind = "image"
	KindCodeBlock  ElementKind = "code_block"
	KindInlineCode ElementKind = "inline_code"
	KindParagraph  ElementKind = "paragraph"
)

// Element is a single structural element extracted from a document body.
// Line positions are 1-indexed into the body (frontmatter stripped).
type Element struct {
	Kind      ElementKind `json:"kind"`
	Content   string      `json:"content"`
	LineStart int         `json:"line_start"`
	LineEnd   int         `json:"line_end"`

	// Kind-specific attributes.
	Level    int    `json:"level,omitempty"`    // heading
	URL      string `json:"url,omitempty"`      // link, image
	Text     string `json:"text,omitempty"`     // link
	Alt      string `json:"alt,omitempty"`      // image
	Language string `json:"language,omitempty"` // code_block
}

// Document is an immutable parse of one documentation file.
type Document struct {
	// FilePath is the repository-relative path of the source file.
	FilePath string

	// Raw is the original file content including any frontmatter.
	Raw string

	// Frontmatter holds the parsed YAML header, if present.
	Frontmatter map[string]any

	// Body is the content with frontmatter stripped. All element line
	// positions refer to Body.
	Body string

	// Elements is every element in document order.
	Elements []Element

	Headings   []Element
	Links      []Element
	Images     []Element
	CodeBlocks []Element
	InlineCode []Element
	Paragraphs []Element
}

// Lines returns the body split into lines.
func (d *Document) Lines() []string {
	return strings.Split(d.Body, "\n")
}

// Title returns the document title: the frontmatter "title" key if present,
// else the first level-1 heading, else "".
func (d *Document) Title() string {
	if t, ok := d.Frontmatter["title"].(string); ok && t != "" {
		return t
	}
	for _, h := range d.Headings {
		if h.Level == 1 {
			return h.Content
		}
	}
	return ""
}

// Language returns the document language from frontmatter, defaulting to "en".
func (d *Document) Language() string {
	if l, ok := d.Frontmatter["lang"].(string); ok && l != "" {
		return l
	}
	return "en"
}

// HeadingNode is a node in the heading outline tree.
type HeadingNode struct {
	Text     string         `json:"text"`
	Level    int            `json:"level"`
	Line     int            `json:"line"`
	Children []*HeadingNode `json:"children,omitempty"`
}

// HeadingsTree builds the nested heading outline using the standard
// stack-based construction: entries with level >= the incoming heading's
// level are popped before it is attached.
func (d *Document) HeadingsTree() []*HeadingNode {
	var tree []*HeadingNode
	var stack []*HeadingNode

	for _, h := range d.Headings {
		node := &HeadingNode{Text: h.Content, Level: h.Level, Line: h.LineStart}

		for len(stack) > 0 && stack[len(stack)-1].Level >= node.Level {
			stack = stack[:len(stack)-1]
		}

		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
		} else {
			tree = append(tree, node)
		}
		stack = append(stack, node)
	}

	return tree
}

// HeadingContext returns the ancestor heading titles in effect at the given
// body line, outermost first. Uses the same stack algorithm as HeadingsTree,
// restricted to headings at or before the line.
func (d *Document) HeadingContext(line int) []string {
	type entry struct {
		level int
		text  string
	}
	var stack []entry

	for _, h := range d.Headings {
		if h.LineStart > line {
			break
		}
		for len(stack) > 0 && stack[len(stack)-1].level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, entry{level: h.Level, text: h.Content})
	}

	context := make([]string, 0, len(stack))
	for _, e := range stack {
		context = append(context, e.text)
	}
	return context
}

// LineContext returns contextLines of body text around the given line,
// inclusive of the line itself.
func (d *Document) LineContext(line, contextLines int) string {
	lines := d.Lines()
	start := line - contextLines - 1
	if start < 0 {
		start = 0
	}
	end := line + contextLines
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

var fenceLangRe = regexp.MustCompile("^```(\\w+)?")

// RenderedText produces an LLM-safe rendering of the body: fenced code block
// bodies are replaced by [CODE BLOCK: <lang>] ... [CODE BLOCK END] markers.
// This keeps token cost down and keeps code out of reach of edit suggestions.
func (d *Document) RenderedText() string {
	lines := d.Lines()
	rendered := make([]string, 0, len(lines))

	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				rendered = append(rendered, "[CODE BLOCK END]")
			} else {
				lang := "unknown"
				if m := fenceLangRe.FindStringSubmatch(trimmed); m != nil && m[1] != "" {
					lang = m[1]
				}
				rendered = append(rendered, fmt.Sprintf("[CODE BLOCK: %s]", lang))
			}
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		rendered = append(rendered, line)
	}

	return strings.Join(rendered, "\n")
}
