// Package analyze defines the rule analyzers that inspect parsed documents
// and the Issue type they emit.
package analyze

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/docsqa/document"
)

// Severity ranks how urgently an issue needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Evidence carries rule-specific supporting data for an issue. Fields are
// populated per rule family and omitted otherwise.
type Evidence struct {
	// Link evidence.
	URL          string `json:"url,omitempty"`
	StatusCode   *int   `json:"status_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`

	// Version evidence.
	DocumentedVersion string `json:"documented_version,omitempty"`
	LatestVersion     string `json:"latest_version,omitempty"`

	// API/CLI evidence.
	Symbol            string   `json:"symbol,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
	Replacement       string   `json:"replacement,omitempty"`
	DeprecatedSince   string   `json:"deprecated_since,omitempty"`
	DeprecationReason string   `json:"deprecation_reason,omitempty"`

	// Style evidence.
	Term          string `json:"term,omitempty"`
	CanonicalTerm string `json:"canonical_term,omitempty"`

	// Verification evidence (LLM suggestions).
	FailedChecks []string `json:"failed_checks,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Citation points at source material supporting an LLM-generated issue: a
// document range, a catalog symbol, or a provided fact.
type Citation struct {
	Type      string `json:"type,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
	Quote     string `json:"quote,omitempty"`
}

// Issue is one finding against one document. Its identity for deduplication
// is (FileID, RuleCode, LineStart, Title); everything else may be refreshed
// between runs.
type Issue struct {
	ID          string     `json:"id"`
	FileID      string     `json:"file_id"`
	RunID       string     `json:"run_id"`
	RuleCode    string     `json:"rule_code"`
	Severity    Severity   `json:"severity"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	LineStart   int        `json:"line_start"`
	LineEnd     int        `json:"line_end"`
	// Snippet is the document text around the issue, for display without
	// re-reading the file.
	Snippet string `json:"snippet,omitempty"`
	// Confidence is the model's self-reported confidence for LLM-generated
	// issues; zero for rule findings.
	Confidence float64    `json:"confidence,omitempty"`
	Evidence   Evidence   `json:"evidence"`
	Citations  []Citation `json:"citations,omitempty"`
	// SuggestedPatch is a unified diff fixing the issue, when the rule can
	// produce one mechanically.
	SuggestedPatch string `json:"suggested_patch,omitempty"`
	// CanAutoApply marks the patch safe to apply unattended.
	CanAutoApply bool      `json:"can_auto_apply,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewIssue creates an issue with a fresh ID and timestamp.
func NewIssue(fileID, runID, ruleCode string, severity Severity, title string) Issue {
	return Issue{
		ID:        uuid.NewString(),
		FileID:    fileID,
		RunID:     runID,
		RuleCode:  ruleCode,
		Severity:  severity,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
}

// IdentityKey is the deduplication key of an issue.
type IdentityKey struct {
	FileID    string
	RuleCode  string
	LineStart int
	Title     string
}

// Identity returns the issue's deduplication key.
func (i Issue) Identity() IdentityKey {
	return IdentityKey{
		FileID:    i.FileID,
		RuleCode:  i.RuleCode,
		LineStart: i.LineStart,
		Title:     i.Title,
	}
}

// Analyzer inspects one parsed document and reports issues. Implementations
// must be safe for concurrent use across documents.
type Analyzer interface {
	// Name identifies the analyzer in logs and metrics.
	Name() string
	// Analyze returns the issues found in doc. An error fails this
	// analyzer for this document only; other analyzers still run.
	Analyze(ctx context.Context, doc *document.Document, fileID, runID string) ([]Issue, error)
}
