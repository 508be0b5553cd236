package analyze

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/linkcheck"
	"github.com/c360studio/docsqa/metrics"
)

// Link rule codes.
const (
	RuleLink404         = "LINK_404"
	RuleLinkTimeout     = "LINK_TIMEOUT"
	RuleLinkForbidden   = "LINK_FORBIDDEN"
	RuleLinkServerError = "LINK_SERVER_ERROR"
	RuleLinkUnreachable = "LINK_UNREACHABLE"
	RuleLinkError       = "LINK_ERROR"
)

// LinkAnalyzer flags broken hyperlinks.
type LinkAnalyzer struct {
	checker *linkcheck.Checker
	metrics *metrics.Metrics
}

// LinkOption configures a LinkAnalyzer.
type LinkOption func(*LinkAnalyzer)

// WithLinkMetrics records link-check outcomes on the given collectors.
func WithLinkMetrics(m *metrics.Metrics) LinkOption {
	return func(a *LinkAnalyzer) {
		a.metrics = m
	}
}

// NewLinkAnalyzer creates a LinkAnalyzer using the given checker.
func NewLinkAnalyzer(checker *linkcheck.Checker, opts ...LinkOption) *LinkAnalyzer {
	a := &LinkAnalyzer{checker: checker}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LinkAnalyzer) Name() string { return "links" }

// Analyze checks every markdown link, image URL, and bare prose URL in the
// document and emits one issue per failing URL occurrence.
func (a *LinkAnalyzer) Analyze(ctx context.Context, doc *document.Document, fileID, runID string) ([]Issue, error) {
	elements := make([]document.Element, 0, len(doc.Links)+len(doc.Images))
	elements = append(elements, doc.Links...)
	elements = append(elements, doc.Images...)
	elements = append(elements, bareURLElements(doc)...)
	if len(elements) == 0 {
		return nil, nil
	}

	urls := make([]string, 0, len(elements))
	for _, el := range elements {
		urls = append(urls, el.URL)
	}

	results := a.checker.CheckAll(ctx, linkcheck.ExtractURLs(urls))
	a.recordOutcomes(results)

	var issues []Issue
	for _, el := range elements {
		r, ok := results[el.URL]
		if !ok || r.IsValid {
			continue
		}

		ruleCode, severity := classifyLinkFailure(r)

		issue := NewIssue(fileID, runID, ruleCode, severity, linkTitle(ruleCode, el.URL))
		issue.LineStart = el.LineStart
		issue.LineEnd = el.LineEnd
		issue.Description = linkDescription(r)
		issue.Evidence = Evidence{
			URL:          r.URL,
			StatusCode:   r.StatusCode,
			ErrorMessage: r.ErrorMessage,
			RedirectURL:  r.RedirectURL,
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

var (
	// markdownURLRe matches whole link and image constructs so their targets
	// are not re-reported as bare URLs.
	markdownURLRe = regexp.MustCompile(`!?\[[^\]]*\]\([^)]*\)`)
	bareURLRe     = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// bareURLElements finds plain-text URLs in prose: headings and paragraphs,
// with markdown links and inline code stripped first. Fenced code is never
// scanned; the parser keeps it out of prose elements.
func bareURLElements(doc *document.Document) []document.Element {
	prose := make([]document.Element, 0, len(doc.Headings)+len(doc.Paragraphs))
	prose = append(prose, doc.Headings...)
	prose = append(prose, doc.Paragraphs...)

	var out []document.Element
	for _, el := range prose {
		for offset, line := range strings.Split(el.Content, "\n") {
			stripped := markdownURLRe.ReplaceAllString(line, "")
			stripped = inlineCodeRe.ReplaceAllString(stripped, "")
			for _, m := range bareURLRe.FindAllString(stripped, -1) {
				url := strings.TrimRight(m, ".,;:!?)")
				lineNum := el.LineStart + offset
				out = append(out, document.Element{
					Kind:      document.KindLink,
					Content:   url,
					LineStart: lineNum,
					LineEnd:   lineNum,
					URL:       url,
				})
			}
		}
	}
	return out
}

// recordOutcomes counts each checked URL once by result class.
func (a *LinkAnalyzer) recordOutcomes(results map[string]linkcheck.Result) {
	if a.metrics == nil {
		return
	}
	for _, r := range results {
		outcome := "ok"
		switch {
		case r.IsValid:
		case r.StatusCode != nil:
			outcome = "broken"
		case r.ErrorMessage == "timeout":
			outcome = "timeout"
		default:
			outcome = "unreachable"
		}
		a.metrics.LinkChecks.WithLabelValues(outcome).Inc()
	}
}

// classifyLinkFailure maps a failed check to a rule code and severity. No
// response at all and hard 404s rank high; auth walls and server errors may
// be transient and rank medium.
func classifyLinkFailure(r linkcheck.Result) (string, Severity) {
	if r.StatusCode == nil {
		if r.ErrorMessage == "timeout" {
			return RuleLinkTimeout, SeverityHigh
		}
		return RuleLinkUnreachable, SeverityHigh
	}

	switch status := *r.StatusCode; {
	case status == http.StatusNotFound || status == http.StatusGone:
		return RuleLink404, SeverityHigh
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return RuleLinkForbidden, SeverityMedium
	case status >= 500:
		return RuleLinkServerError, SeverityMedium
	default:
		return RuleLinkError, SeverityLow
	}
}

func linkTitle(ruleCode, url string) string {
	switch ruleCode {
	case RuleLink404:
		return fmt.Sprintf("Broken link: %s", url)
	case RuleLinkTimeout:
		return fmt.Sprintf("Link timed out: %s", url)
	case RuleLinkForbidden:
		return fmt.Sprintf("Link requires authorization: %s", url)
	case RuleLinkServerError:
		return fmt.Sprintf("Link target returned a server error: %s", url)
	case RuleLinkUnreachable:
		return fmt.Sprintf("Link unreachable: %s", url)
	default:
		return fmt.Sprintf("Link check failed: %s", url)
	}
}

func linkDescription(r linkcheck.Result) string {
	if r.StatusCode != nil {
		return fmt.Sprintf("%s returned HTTP %d", r.URL, *r.StatusCode)
	}
	return fmt.Sprintf("%s could not be reached: %s", r.URL, r.ErrorMessage)
}
