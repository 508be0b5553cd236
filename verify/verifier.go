// Package verify gates model-generated suggestions before they are surfaced
// or applied. Every suggestion runs a fixed sequence of checks whose outcomes
// carry a tier: errors reject the suggestion as verified material, warnings
// keep it but may strip auto-apply eligibility, and notes are informational.
package verify

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/c360studio/docsqa/catalog"
	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/llm"
	"github.com/c360studio/docsqa/patch"
	"github.com/c360studio/docsqa/version"
)

// Check names, in execution order.
const (
	CheckScope      = "scope"
	CheckStructural = "structural"
	CheckWhitespace = "whitespace"
	CheckCitations  = "citations"
	CheckCodeEdit   = "code_edit"
	CheckLinks      = "links"
	CheckVersions   = "versions"
)

// Check statuses.
const (
	StatusPass    = "pass"
	StatusWarning = "warning"
	StatusError   = "error"
	StatusNote    = "note"
)

// Config controls the guardrails.
type Config struct {
	// RequireCitations rejects suggestions without supporting citations.
	RequireCitations bool
	// AllowCodeEdits permits edits that touch fenced code when backed by a
	// catalog citation. Version-only updates inside code are always
	// permitted.
	AllowCodeEdits bool
	// MaxWhitespaceDeltaLines bounds whitespace-only line churn per edit.
	MaxWhitespaceDeltaLines int
	// LinkProbeTimeout bounds the liveness probe of newly introduced links.
	LinkProbeTimeout time.Duration
}

// DefaultConfig returns the standard guardrail configuration.
func DefaultConfig() Config {
	return Config{
		RequireCitations:        true,
		AllowCodeEdits:          false,
		MaxWhitespaceDeltaLines: 3,
		LinkProbeTimeout:        2 * time.Second,
	}
}

// CheckResult records one executed check.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Result is the verdict on one suggestion. CanAutoApply is monotonic: it
// starts true for edits and checks only clear it; nothing sets it back.
type Result struct {
	// Verified reports that no executed check errored. Warnings and notes
	// do not clear it.
	Verified bool
	// CanAutoApply reports that the edit is safe to apply unattended.
	// Always false for flag suggestions, which carry no edit.
	CanAutoApply bool
	// Checks lists the executed checks in order. A rejected suggestion may
	// have fewer entries than the full sequence.
	Checks []CheckResult
}

// FailedChecks returns the names of the checks that errored.
func (r Result) FailedChecks() []string {
	return r.byStatus(StatusError)
}

// Warnings returns the names of the checks that warned.
func (r Result) Warnings() []string {
	return r.byStatus(StatusWarning)
}

func (r Result) byStatus(status string) []string {
	var names []string
	for _, c := range r.Checks {
		if c.Status == status {
			names = append(names, c.Name)
		}
	}
	return names
}

// Status returns the status of a named check, or "" if it did not run.
func (r Result) Status(name string) string {
	for _, c := range r.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}

// Verifier applies the guardrail checks.
type Verifier struct {
	config  Config
	catalog *catalog.Catalog
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithCatalog supplies the symbol catalog used to validate catalog-typed
// citations. Without one, catalog citations pass unvalidated.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(v *Verifier) {
		v.catalog = cat
	}
}

// WithHTTPClient sets the client used to probe newly introduced links.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Verifier) {
		v.client = client
	}
}

// New creates a Verifier.
func New(config Config, opts ...Option) *Verifier {
	if config.LinkProbeTimeout <= 0 {
		config.LinkProbeTimeout = 2 * time.Second
	}
	v := &Verifier{config: config, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: config.LinkProbeTimeout}
	}
	return v
}

// outcome is one check's verdict before it is folded into the result.
type outcome struct {
	status   string
	detail   string
	dropAuto bool
}

func pass() outcome {
	return outcome{status: StatusPass}
}

func errorOut(detail string) outcome {
	return outcome{status: StatusError, detail: detail, dropAuto: true}
}

func warning(detail string, dropAuto bool) outcome {
	return outcome{status: StatusWarning, detail: detail, dropAuto: dropAuto}
}

func note(detail string, dropAuto bool) outcome {
	return outcome{status: StatusNote, detail: detail, dropAuto: dropAuto}
}

// Verify runs the check sequence against one suggestion. Scope and
// whitespace failures are safety-critical and stop the sequence; the
// remaining checks run to completion so the result names every problem at
// once.
func (v *Verifier) Verify(doc *document.Document, s llm.Suggestion) Result {
	if s.Type != llm.TypeEdit {
		return v.verifyFlag(doc, s)
	}

	result := Result{Verified: true, CanAutoApply: true}

	record := func(name string, o outcome) {
		result.Checks = append(result.Checks, CheckResult{Name: name, Status: o.status, Detail: o.detail})
		if o.status == StatusError {
			result.Verified = false
		}
		if o.dropAuto {
			result.CanAutoApply = false
		}
	}

	scope := v.checkScope(doc, s)
	record(CheckScope, scope)
	if scope.status == StatusError {
		return result
	}

	record(CheckStructural, v.checkStructural(s))

	whitespace := v.checkWhitespace(s)
	record(CheckWhitespace, whitespace)
	if whitespace.status == StatusError {
		return result
	}

	record(CheckCitations, v.checkCitations(doc, s))
	record(CheckCodeEdit, v.checkCodeEdit(doc, s))
	record(CheckLinks, v.checkLinks(doc, s))
	record(CheckVersions, v.checkVersions(doc, s))

	v.logResult(s, result)
	return result
}

// verifyFlag verifies a flag-type suggestion. Flags carry no edit, so only
// the citation check applies and auto-apply is never available.
func (v *Verifier) verifyFlag(doc *document.Document, s llm.Suggestion) Result {
	result := Result{Verified: true}

	o := v.checkCitations(doc, s)
	result.Checks = append(result.Checks, CheckResult{Name: CheckCitations, Status: o.status, Detail: o.detail})
	if o.status == StatusError {
		result.Verified = false
	}

	v.logResult(s, result)
	return result
}

// checkScope verifies the claimed line range exists, that the original
// snippet matches the document at that range, and that the edit's diff stays
// inside the range.
func (v *Verifier) checkScope(doc *document.Document, s llm.Suggestion) outcome {
	lines := doc.Lines()

	if s.LineStart < 1 || s.LineEnd < s.LineStart || s.LineEnd > len(lines) {
		return errorOut(fmt.Sprintf("line range %d-%d is out of bounds (document has %d lines)",
			s.LineStart, s.LineEnd, len(lines)))
	}
	if s.OriginalSnippet == "" {
		return errorOut("edit has no original snippet")
	}

	actual := strings.Join(lines[s.LineStart-1:s.LineEnd], "\n")
	if strings.TrimSpace(actual) != strings.TrimSpace(s.OriginalSnippet) {
		return errorOut(fmt.Sprintf("original snippet does not match document lines %d-%d", s.LineStart, s.LineEnd))
	}

	diff, err := patch.CreateLineReplacementPatch(doc.Body, s.LineStart, s.LineEnd, s.ProposedSnippet, s.FilePath)
	if err != nil {
		return errorOut(fmt.Sprintf("build edit diff: %v", err))
	}
	if !patch.ValidatePatchScope(diff, s.LineStart, s.LineEnd) {
		return errorOut(fmt.Sprintf("edit diff touches lines outside the claimed range %d-%d", s.LineStart, s.LineEnd))
	}
	return pass()
}

// structuralTags are the element types the structural check watches.
var structuralTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "table": true, "pre": true,
}

// checkStructural renders both snippets to HTML and compares the histogram
// of structural tags. A text edit that adds or removes headings, lists, or
// tables gets a warning: editorial latitude, but worth a reviewer's eye.
// Auto-apply eligibility is not affected.
func (v *Verifier) checkStructural(s llm.Suggestion) outcome {
	before, err := tagHistogram(s.OriginalSnippet)
	if err != nil {
		return note(fmt.Sprintf("render original snippet: %v", err), true)
	}
	after, err := tagHistogram(s.ProposedSnippet)
	if err != nil {
		return note(fmt.Sprintf("render proposed snippet: %v", err), true)
	}

	for tag := range structuralTags {
		if before[tag] != after[tag] {
			return warning(fmt.Sprintf("edit changes document structure: %s count %d -> %d",
				tag, before[tag], after[tag]), false)
		}
	}
	return pass()
}

// checkWhitespace bounds whitespace-only churn.
func (v *Verifier) checkWhitespace(s llm.Suggestion) outcome {
	diff, err := patch.CreateUnifiedDiff(s.OriginalSnippet+"\n", s.ProposedSnippet+"\n", s.FilePath)
	if err != nil {
		return errorOut(fmt.Sprintf("diff snippets: %v", err))
	}

	if n := patch.CountWhitespaceChanges(diff); n > v.config.MaxWhitespaceDeltaLines {
		return errorOut(fmt.Sprintf("%d whitespace-only line changes exceed the limit of %d",
			n, v.config.MaxWhitespaceDeltaLines))
	}
	return pass()
}

// checkCitations requires supporting citations and validates each by type:
// file quotes must appear in the document, catalog symbols must exist in the
// catalog, and fact citations cannot be validated at all.
func (v *Verifier) checkCitations(doc *document.Document, s llm.Suggestion) outcome {
	if v.config.RequireCitations && len(s.Citations) == 0 {
		return errorOut("suggestion has no citations")
	}

	var warnings []string
	for _, c := range s.Citations {
		switch c.Type {
		case llm.CitationCatalog:
			if v.catalog == nil || c.Quote == "" {
				continue
			}
			if _, ok := v.catalog.APIInfo(c.Quote); ok {
				continue
			}
			if _, ok := v.catalog.CLIInfo(c.Quote); ok {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("catalog citation names unknown symbol %q", c.Quote))
		case llm.CitationFact:
			warnings = append(warnings, "fact citation cannot be validated against a source")
		default:
			if c.Quote == "" {
				continue
			}
			if c.FilePath == doc.FilePath && !strings.Contains(doc.Raw, c.Quote) {
				return errorOut(fmt.Sprintf("citation quote not found in %s: %q", c.FilePath, truncate(c.Quote, 60)))
			}
		}
	}
	if len(warnings) > 0 {
		return warning(strings.Join(warnings, "; "), false)
	}
	return pass()
}

// checkCodeEdit gates edits that touch fenced code. Version-only updates
// always pass; otherwise the edit errors unless code edits are allowed and
// the suggestion is backed by a catalog citation.
func (v *Verifier) checkCodeEdit(doc *document.Document, s llm.Suggestion) outcome {
	touchesCode := false
	for _, cb := range doc.CodeBlocks {
		if s.LineStart <= cb.LineEnd && s.LineEnd >= cb.LineStart {
			touchesCode = true
			break
		}
	}
	if !touchesCode && (strings.Contains(s.ProposedSnippet, "```") || strings.Contains(s.ProposedSnippet, "[CODE BLOCK")) {
		touchesCode = true
	}
	if !touchesCode {
		return pass()
	}

	if version.IsSafeVersionUpdate(s.OriginalSnippet, s.ProposedSnippet) {
		return pass()
	}
	if !v.config.AllowCodeEdits {
		return errorOut("edit modifies fenced code beyond a version update")
	}
	for _, c := range s.Citations {
		if c.Type == llm.CitationCatalog {
			return pass()
		}
	}
	return errorOut("code edit has no supporting catalog citation")
}

// checkLinks probes URLs the edit introduces. A dead new link is a warning,
// an unreachable probe a note; either way the edit loses auto-apply, since a
// minted link needs a human look.
func (v *Verifier) checkLinks(doc *document.Document, s llm.Suggestion) outcome {
	before := urlSet(s.OriginalSnippet)
	var warnings, notes []string
	for _, u := range urlSet(s.ProposedSnippet) {
		if contains(before, u) {
			continue
		}
		live, err := v.probeLink(u)
		switch {
		case err != nil:
			notes = append(notes, fmt.Sprintf("new link %s could not be probed: %v", u, err))
		case !live:
			warnings = append(warnings, fmt.Sprintf("new link %s is dead", u))
		}
	}
	if len(warnings) > 0 {
		return warning(strings.Join(append(warnings, notes...), "; "), true)
	}
	if len(notes) > 0 {
		return note(strings.Join(notes, "; "), true)
	}
	return pass()
}

// probeLink reports whether a URL answers with a non-failing status.
func (v *Verifier) probeLink(url string) (bool, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false, fmt.Errorf("not an absolute http(s) url")
	}
	resp, err := v.client.Head(url)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = v.client.Get(url)
		if err != nil {
			return false, err
		}
		resp.Body.Close()
	}
	return resp.StatusCode < 400, nil
}

// checkVersions inspects version-token changes: a mixed version-and-wording
// edit or a malformed new version warns and strips auto-apply.
func (v *Verifier) checkVersions(doc *document.Document, s llm.Suggestion) outcome {
	origTokens := version.Tokens(s.OriginalSnippet)
	propTokens := version.Tokens(s.ProposedSnippet)
	if equalStrings(origTokens, propTokens) {
		return pass()
	}

	var warnings []string
	for _, tok := range propTokens {
		if contains(origTokens, tok) || !strings.Contains(tok, ".") {
			continue
		}
		if _, err := semver.NewVersion(tok); err != nil {
			warnings = append(warnings, fmt.Sprintf("new version %q does not parse", tok))
		}
	}
	if !version.IsSafeVersionUpdate(s.OriginalSnippet, s.ProposedSnippet) {
		warnings = append(warnings, "edit mixes version changes with other changes")
	}
	if len(warnings) > 0 {
		return warning(strings.Join(warnings, "; "), true)
	}
	return pass()
}

func (v *Verifier) logResult(s llm.Suggestion, result Result) {
	if result.Verified {
		v.logger.Debug("suggestion verified",
			"file", s.FilePath,
			"rule", s.RuleCode,
			"can_auto_apply", result.CanAutoApply,
			"warnings", result.Warnings())
		return
	}
	v.logger.Info("suggestion failed verification",
		"file", s.FilePath,
		"rule", s.RuleCode,
		"failed_checks", result.FailedChecks())
}

// tagHistogram renders markdown to HTML and counts element tags.
func tagHistogram(markdown string) (map[string]int, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	tokenizer := html.NewTokenizer(&buf)
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return counts, nil
		}
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			name, _ := tokenizer.TagName()
			counts[string(name)]++
		}
	}
}

// urlSet extracts markdown link targets and bare URLs from a snippet.
func urlSet(text string) []string {
	var urls []string
	rest := text
	for {
		idx := strings.Index(rest, "](")
		if idx == -1 {
			break
		}
		tail := rest[idx+2:]
		end := strings.Index(tail, ")")
		if end == -1 {
			break
		}
		urls = append(urls, tail[:end])
		rest = tail[end:]
	}
	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, "http://") || strings.HasPrefix(word, "https://") {
			urls = append(urls, strings.TrimRight(word, ".,;)"))
		}
	}
	return urls
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
