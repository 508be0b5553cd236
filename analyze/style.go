package analyze

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/patch"
)

// Style rule codes.
const (
	RuleStyleNoH1        = "STYLE_NO_H1"
	RuleStyleMultipleH1  = "STYLE_MULTIPLE_H1"
	RuleStyleImgNoAlt    = "STYLE_IMG_NO_ALT"
	RuleStyleTerminology = "STYLE_TERMINOLOGY"
	RuleStyleCodeNoLang  = "STYLE_CODE_NO_LANG"
)

// StyleConfig controls which structural style rules run.
type StyleConfig struct {
	RequireOneH1  bool
	RequireImgAlt bool
	// Terminology entries have the form "Canonical|variant1|variant2": the
	// first segment is the preferred spelling and the rest are flagged.
	Terminology []string
}

type termRule struct {
	canonical string
	variant   string
	re        *regexp.Regexp
}

// StyleAnalyzer enforces structural and terminology conventions.
type StyleAnalyzer struct {
	config StyleConfig
	terms  []termRule
}

// NewStyleAnalyzer creates a StyleAnalyzer. Malformed terminology entries
// (fewer than two segments) are ignored.
func NewStyleAnalyzer(config StyleConfig) *StyleAnalyzer {
	a := &StyleAnalyzer{config: config}

	for _, entry := range config.Terminology {
		parts := strings.Split(entry, "|")
		if len(parts) < 2 {
			continue
		}
		canonical := strings.TrimSpace(parts[0])
		for _, variant := range parts[1:] {
			variant = strings.TrimSpace(variant)
			if variant == "" || variant == canonical {
				continue
			}
			a.terms = append(a.terms, termRule{
				canonical: canonical,
				variant:   variant,
				re:        regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(variant) + `\b`),
			})
		}
	}
	return a
}

func (a *StyleAnalyzer) Name() string { return "style" }

// Analyze applies the style rules. Structural gaps (missing H1, missing alt
// text) rank medium; everything else is low. Rules with a mechanical fix
// attach a suggested patch.
func (a *StyleAnalyzer) Analyze(ctx context.Context, doc *document.Document, fileID, runID string) ([]Issue, error) {
	var issues []Issue
	issues = append(issues, a.checkHeadings(doc, fileID, runID)...)
	issues = append(issues, a.checkImages(doc, fileID, runID)...)
	issues = append(issues, a.checkCodeBlocks(doc, fileID, runID)...)
	issues = append(issues, a.checkTerminology(doc, fileID, runID)...)
	return issues, nil
}

func (a *StyleAnalyzer) checkHeadings(doc *document.Document, fileID, runID string) []Issue {
	if !a.config.RequireOneH1 {
		return nil
	}

	var h1s []document.Element
	for _, h := range doc.Headings {
		if h.Level == 1 {
			h1s = append(h1s, h)
		}
	}

	switch {
	case len(h1s) == 0:
		// A frontmatter title serves as the page heading.
		if doc.Title() != "" {
			return nil
		}
		issue := NewIssue(fileID, runID, RuleStyleNoH1, SeverityMedium, "Document has no top-level heading")
		issue.LineStart = 1
		issue.LineEnd = 1
		issue.Description = "Every page needs exactly one H1 or a frontmatter title."
		return []Issue{issue}

	case len(h1s) > 1:
		issues := make([]Issue, 0, len(h1s)-1)
		for _, h := range h1s[1:] {
			issue := NewIssue(fileID, runID, RuleStyleMultipleH1, SeverityLow,
				fmt.Sprintf("Extra top-level heading: %s", h.Content))
			issue.LineStart = h.LineStart
			issue.LineEnd = h.LineEnd
			issue.Description = "Every page should have exactly one H1; demote the extras."
			attachDemotePatch(&issue, doc, h.LineStart)
			issues = append(issues, issue)
		}
		return issues
	}
	return nil
}

func (a *StyleAnalyzer) checkImages(doc *document.Document, fileID, runID string) []Issue {
	if !a.config.RequireImgAlt {
		return nil
	}

	var issues []Issue
	for _, img := range doc.Images {
		if strings.TrimSpace(img.Alt) != "" {
			continue
		}
		issue := NewIssue(fileID, runID, RuleStyleImgNoAlt, SeverityMedium,
			fmt.Sprintf("Image without alt text: %s", img.URL))
		issue.LineStart = img.LineStart
		issue.LineEnd = img.LineEnd
		issue.Description = "Images need alt text for accessibility."
		issue.Evidence = Evidence{URL: img.URL}
		issues = append(issues, issue)
	}
	return issues
}

func (a *StyleAnalyzer) checkCodeBlocks(doc *document.Document, fileID, runID string) []Issue {
	var issues []Issue
	for _, cb := range doc.CodeBlocks {
		if cb.Language != "" {
			continue
		}
		issue := NewIssue(fileID, runID, RuleStyleCodeNoLang, SeverityLow,
			"Code block without a language tag")
		issue.LineStart = cb.LineStart
		issue.LineEnd = cb.LineEnd
		issue.Description = "Fenced code blocks need a language tag for syntax highlighting."
		issues = append(issues, issue)
	}
	return issues
}

// checkTerminology scans prose (headings and paragraphs, never code) for
// non-canonical term variants. One issue per variant per line.
func (a *StyleAnalyzer) checkTerminology(doc *document.Document, fileID, runID string) []Issue {
	if len(a.terms) == 0 {
		return nil
	}

	prose := make([]document.Element, 0, len(doc.Headings)+len(doc.Paragraphs))
	prose = append(prose, doc.Headings...)
	prose = append(prose, doc.Paragraphs...)

	var issues []Issue
	for _, el := range prose {
		for offset, line := range strings.Split(el.Content, "\n") {
			// Indented lines are code, not prose.
			if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
				continue
			}
			// Inline code spans are exempt from terminology rules.
			stripped := inlineCodeRe.ReplaceAllString(line, "")
			for _, term := range a.terms {
				if !term.re.MatchString(stripped) {
					continue
				}
				lineNum := el.LineStart + offset
				issue := NewIssue(fileID, runID, RuleStyleTerminology, SeverityLow,
					fmt.Sprintf("Use %q instead of %q", term.canonical, term.variant))
				issue.LineStart = lineNum
				issue.LineEnd = lineNum
				issue.Description = fmt.Sprintf("%q is the canonical form; %q was found in prose.",
					term.canonical, term.variant)
				issue.Evidence = Evidence{Term: term.variant, CanonicalTerm: term.canonical}
				attachTermPatch(&issue, doc, lineNum, term)
				issues = append(issues, issue)
			}
		}
	}
	return issues
}

var inlineCodeRe = regexp.MustCompile("`[^`]*`")

// attachDemotePatch builds a diff demoting an extra H1 to an H2.
func attachDemotePatch(issue *Issue, doc *document.Document, line int) {
	lines := doc.Lines()
	if line < 1 || line > len(lines) {
		return
	}
	oldLine := lines[line-1]
	idx := strings.Index(oldLine, "#")
	if idx == -1 {
		return
	}
	newLine := oldLine[:idx] + "#" + oldLine[idx:]

	diff, err := patch.CreateLineReplacementPatch(doc.Body, line, line, newLine, doc.FilePath)
	if err != nil {
		return
	}
	issue.SuggestedPatch = diff
	issue.CanAutoApply = true
}

// attachTermPatch builds a diff rewriting a term variant to its canonical
// form. Lines containing inline code are left alone: the substitution cannot
// tell prose from code there.
func attachTermPatch(issue *Issue, doc *document.Document, line int, term termRule) {
	lines := doc.Lines()
	if line < 1 || line > len(lines) {
		return
	}
	oldLine := lines[line-1]
	if strings.Contains(oldLine, "`") {
		return
	}
	newLine := term.re.ReplaceAllLiteralString(oldLine, term.canonical)
	if newLine == oldLine {
		return
	}

	diff, err := patch.CreateLineReplacementPatch(doc.Body, line, line, newLine, doc.FilePath)
	if err != nil {
		return
	}
	issue.SuggestedPatch = diff
	issue.CanAutoApply = true
}
