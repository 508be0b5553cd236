// Package patch creates, parses, and applies line-oriented patches to
// document text. The verifier uses it to check that a proposed edit stays
// inside its claimed scope before anything is applied.
package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Hunk is one change region of a unified diff.
type Hunk struct {
	// OrigStart and OrigCount locate the region in the original text.
	OrigStart int
	OrigCount int
	// NewStart and NewCount locate the region in the patched text.
	NewStart int
	NewCount int
	// Lines are the hunk body lines including their +/-/space prefixes.
	Lines []string
}

// OrigEnd returns the last original line touched by the hunk.
func (h Hunk) OrigEnd() int {
	if h.OrigCount == 0 {
		return h.OrigStart
	}
	return h.OrigStart + h.OrigCount - 1
}

// CreateUnifiedDiff renders a unified diff between original and modified,
// labeled with the file path.
func CreateUnifiedDiff(original, modified, filePath string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(modified),
		FromFile: "a/" + filePath,
		ToFile:   "b/" + filePath,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("render unified diff: %w", err)
	}
	return text, nil
}

// CreateLineReplacementPatch builds a unified diff that replaces the
// inclusive 1-indexed line range [lineStart, lineEnd] of content with
// replacement.
func CreateLineReplacementPatch(content string, lineStart, lineEnd int, replacement, filePath string) (string, error) {
	modified, err := ApplyLinePatch(content, lineStart, lineEnd, replacement)
	if err != nil {
		return "", err
	}
	return CreateUnifiedDiff(content, modified, filePath)
}

// ApplyLinePatch replaces the inclusive 1-indexed line range
// [lineStart, lineEnd] of content with replacement.
func ApplyLinePatch(content string, lineStart, lineEnd int, replacement string) (string, error) {
	lines := strings.Split(content, "\n")
	if lineStart < 1 || lineEnd < lineStart || lineEnd > len(lines) {
		return "", fmt.Errorf("line range %d-%d out of bounds (document has %d lines)", lineStart, lineEnd, len(lines))
	}

	var out []string
	out = append(out, lines[:lineStart-1]...)
	if replacement != "" {
		out = append(out, strings.Split(replacement, "\n")...)
	}
	out = append(out, lines[lineEnd:]...)
	return strings.Join(out, "\n"), nil
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseHunkHeader parses a "@@ -a,b +c,d @@" header. Omitted counts default
// to 1, per the unified diff format.
func ParseHunkHeader(line string) (Hunk, bool) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, false
	}

	atoiDefault := func(s string, def int) int {
		if s == "" {
			return def
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return def
		}
		return n
	}

	return Hunk{
		OrigStart: atoiDefault(m[1], 1),
		OrigCount: atoiDefault(m[2], 1),
		NewStart:  atoiDefault(m[3], 1),
		NewCount:  atoiDefault(m[4], 1),
	}, true
}

// ParseUnifiedDiff extracts the hunks of a unified diff.
func ParseUnifiedDiff(diff string) []Hunk {
	var hunks []Hunk
	var current *Hunk

	for _, line := range strings.Split(diff, "\n") {
		if h, ok := ParseHunkHeader(line); ok {
			if current != nil {
				hunks = append(hunks, *current)
			}
			current = &h
			continue
		}
		if current == nil {
			continue
		}
		if line == "" || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			continue
		}
		switch line[0] {
		case '+', '-', ' ':
			current.Lines = append(current.Lines, line)
		}
	}
	if current != nil {
		hunks = append(hunks, *current)
	}
	return hunks
}

// ValidatePatchScope reports whether every hunk of the diff touches only
// original lines inside the inclusive range [lineStart, lineEnd]. Context
// lines may extend outside the range; added and removed lines may not.
func ValidatePatchScope(diff string, lineStart, lineEnd int) bool {
	hunks := ParseUnifiedDiff(diff)
	if len(hunks) == 0 {
		return false
	}

	for _, h := range hunks {
		origLine := h.OrigStart
		for _, line := range h.Lines {
			switch line[0] {
			case '-':
				if origLine < lineStart || origLine > lineEnd {
					return false
				}
				origLine++
			case '+':
				// Insertions anchor after the preceding original line.
				if origLine-1 < lineStart-1 || origLine-1 > lineEnd {
					return false
				}
			case ' ':
				origLine++
			}
		}
	}
	return true
}

// ExtractSnippets pulls the removed and added text of the first hunk,
// giving before/after snippets for review display.
func ExtractSnippets(diff string) (original, proposed string) {
	hunks := ParseUnifiedDiff(diff)
	if len(hunks) == 0 {
		return "", ""
	}

	var removed, added []string
	for _, line := range hunks[0].Lines {
		switch line[0] {
		case '-':
			removed = append(removed, line[1:])
		case '+':
			added = append(added, line[1:])
		}
	}
	return strings.Join(removed, "\n"), strings.Join(added, "\n")
}

// CountWhitespaceChanges counts diff line pairs whose only difference is
// whitespace. Large whitespace-only churn is a sign of a reflowed rather
// than edited document.
func CountWhitespaceChanges(diff string) int {
	count := 0
	for _, h := range ParseUnifiedDiff(diff) {
		var removed, added []string
		for _, line := range h.Lines {
			switch line[0] {
			case '-':
				removed = append(removed, line[1:])
			case '+':
				added = append(added, line[1:])
			}
		}
		n := len(removed)
		if len(added) < n {
			n = len(added)
		}
		for i := 0; i < n; i++ {
			if removed[i] != added[i] && stripWhitespace(removed[i]) == stripWhitespace(added[i]) {
				count++
			}
		}
	}
	return count
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
