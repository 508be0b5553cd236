package document

import (
	"errors"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	headingRe    = regexp.MustCompile(`^(#+)\s+(.*)`)
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
)

// Parse turns raw document text into a Document. It never fails: any
// internal parse problem degrades to treating the entire input as the body
// with no extracted elements rather than aborting the pipeline for one file.
func Parse(filePath, raw string) *Document {
	doc := &Document{
		FilePath: filePath,
		Raw:      raw,
	}

	if strings.HasPrefix(raw, "---\n") || strings.HasPrefix(raw, "---\r\n") {
		frontmatter, body, err := extractFrontmatter(raw)
		if err != nil {
			doc.Body = raw
		} else {
			doc.Frontmatter = frontmatter
			doc.Body = body
		}
	} else {
		doc.Body = raw
	}

	parseBody(doc)
	return doc
}

// extractFrontmatter splits a YAML frontmatter header from the body.
func extractFrontmatter(content string) (map[string]any, string, error) {
	const delimiter = "---"

	start := len(delimiter)
	if len(content) > start && content[start] == '\r' {
		start++
	}
	if len(content) > start && content[start] == '\n' {
		start++
	}

	closeIdx := strings.Index(content[start:], "\n"+delimiter)
	if closeIdx == -1 {
		closeIdx = strings.Index(content[start:], "\r\n"+delimiter)
	}
	if closeIdx == -1 {
		return nil, content, errNoClosingDelimiter
	}

	yamlContent := content[start : start+closeIdx]

	bodyStart := start + closeIdx + 1 + len(delimiter)
	for bodyStart < len(content) && (content[bodyStart] == '\n' || content[bodyStart] == '\r') {
		bodyStart++
	}

	body := ""
	if bodyStart < len(content) {
		body = content[bodyStart:]
	}

	var frontmatter map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &frontmatter); err != nil {
		return nil, content, err
	}

	return frontmatter, body, nil
}

var errNoClosingDelimiter = errors.New("no closing frontmatter delimiter")

// parseBody scans the body line by line, extracting elements. A two-state
// fence machine suppresses extraction inside fenced code blocks.
func parseBody(doc *Document) {
	lines := doc.Lines()

	inFence := false
	fenceStart := 0
	var fenceLines []string
	fenceLang := ""

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				inFence = true
				fenceStart = lineNum
				fenceLines = nil
				fenceLang = ""
				if m := fenceLangRe.FindStringSubmatch(trimmed); m != nil {
					fenceLang = m[1]
				}
			} else {
				inFence = false
				el := Element{
					Kind:      KindCodeBlock,
					Content:   strings.Join(fenceLines, "\n"),
					LineStart: fenceStart,
					LineEnd:   lineNum,
					Language:  fenceLang,
				}
				doc.CodeBlocks = append(doc.CodeBlocks, el)
				doc.Elements = append(doc.Elements, el)
			}
			continue
		}

		if inFence {
			fenceLines = append(fenceLines, line)
			continue
		}

		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			el := Element{
				Kind:      KindHeading,
				Content:   m[2],
				LineStart: lineNum,
				LineEnd:   lineNum,
				Level:     len(m[1]),
			}
			doc.Headings = append(doc.Headings, el)
			doc.Elements = append(doc.Elements, el)
			continue
		}

		for _, m := range imageRe.FindAllStringSubmatch(line, -1) {
			el := Element{
				Kind:      KindImage,
				Content:   m[1],
				LineStart: lineNum,
				LineEnd:   lineNum,
				URL:       m[2],
				Alt:       m[1],
			}
			doc.Images = append(doc.Images, el)
			doc.Elements = append(doc.Elements, el)
		}

		for _, m := range linkRe.FindAllStringSubmatchIndex(line, -1) {
			// Skip image links; the image pattern already captured them.
			if m[0] > 0 && line[m[0]-1] == '!' {
				continue
			}
			text := line[m[2]:m[3]]
			url := line[m[4]:m[5]]
			el := Element{
				Kind:      KindLink,
				Content:   text,
				LineStart: lineNum,
				LineEnd:   lineNum,
				URL:       url,
				Text:      text,
			}
			doc.Links = append(doc.Links, el)
			doc.Elements = append(doc.Elements, el)
		}

		for _, m := range inlineCodeRe.FindAllStringSubmatch(line, -1) {
			el := Element{
				Kind:      KindInlineCode,
				Content:   m[1],
				LineStart: lineNum,
				LineEnd:   lineNum,
			}
			doc.InlineCode = append(doc.InlineCode, el)
			doc.Elements = append(doc.Elements, el)
		}
	}

	parseParagraphs(doc, lines)
}

// parseParagraphs groups contiguous non-blank, non-heading, non-fence lines
// between blank-line boundaries into paragraph elements.
func parseParagraphs(doc *Document, lines []string) {
	var current []string
	paragraphStart := 1
	inFence := false

	flush := func(end int) {
		if len(current) == 0 {
			return
		}
		el := Element{
			Kind:      KindParagraph,
			Content:   strings.Join(current, "\n"),
			LineStart: paragraphStart,
			LineEnd:   end,
		}
		doc.Paragraphs = append(doc.Paragraphs, el)
		doc.Elements = append(doc.Elements, el)
		current = nil
	}

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			flush(lineNum - 1)
			paragraphStart = lineNum + 1
			continue
		}
		if inFence {
			continue
		}

		if trimmed == "" {
			flush(lineNum - 1)
			paragraphStart = lineNum + 1
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			flush(lineNum - 1)
			paragraphStart = lineNum + 1
			continue
		}

		if len(current) == 0 {
			paragraphStart = lineNum
		}
		current = append(current, line)
	}

	flush(len(lines))
}
