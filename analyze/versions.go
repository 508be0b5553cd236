package analyze

import (
	"context"
	"fmt"

	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/patch"
	"github.com/c360studio/docsqa/version"
)

// VersionAnalyzer flags documented package versions that lag the latest
// release.
type VersionAnalyzer struct {
	resolver *version.Resolver
	pkg      string
	policy   version.Policy
}

// NewVersionAnalyzer creates a VersionAnalyzer for one tracked package.
func NewVersionAnalyzer(resolver *version.Resolver, pkg string, policy version.Policy) *VersionAnalyzer {
	return &VersionAnalyzer{resolver: resolver, pkg: pkg, policy: policy}
}

func (a *VersionAnalyzer) Name() string { return "versions" }

// Analyze extracts version mentions from the document body and compares each
// against the latest published release.
func (a *VersionAnalyzer) Analyze(ctx context.Context, doc *document.Document, fileID, runID string) ([]Issue, error) {
	mentions := version.ExtractVersions(doc.Body, a.pkg)
	if len(mentions) == 0 {
		return nil, nil
	}

	latest, err := a.resolver.Latest(ctx, a.pkg)
	if err != nil {
		return nil, fmt.Errorf("resolve latest %s version: %w", a.pkg, err)
	}

	var issues []Issue
	for _, m := range mentions {
		drift, err := version.CheckDrift(m.Version, latest, a.policy)
		if err != nil {
			// Versions the extractor matched but semver cannot parse are
			// skipped, not fatal.
			continue
		}
		if drift == nil {
			continue
		}

		title := fmt.Sprintf("%s %s is behind the latest release %s", a.pkg, drift.Documented, drift.Latest)
		issue := NewIssue(fileID, runID, drift.RuleCode, Severity(drift.Severity), title)
		issue.LineStart = m.Line
		issue.LineEnd = m.Line
		issue.Description = driftDescription(a.pkg, drift, m)
		issue.Evidence = Evidence{
			DocumentedVersion: drift.Documented,
			LatestVersion:     drift.Latest,
		}
		a.attachUpdatePatch(&issue, doc, m, drift.Latest)
		issues = append(issues, issue)
	}
	return issues, nil
}

// attachUpdatePatch builds a one-line diff replacing the documented version
// with the latest release. The patch is auto-appliable only when the rewrite
// changes nothing but version tokens.
func (a *VersionAnalyzer) attachUpdatePatch(issue *Issue, doc *document.Document, m version.Mention, latest string) {
	lines := doc.Lines()
	if m.Line < 1 || m.Line > len(lines) {
		return
	}
	oldLine := lines[m.Line-1]
	newLine := version.SuggestUpdate(oldLine, m.Version, latest)
	if newLine == oldLine {
		return
	}

	diff, err := patch.CreateLineReplacementPatch(doc.Body, m.Line, m.Line, newLine, doc.FilePath)
	if err != nil {
		return
	}
	issue.SuggestedPatch = diff
	issue.CanAutoApply = version.IsSafeVersionUpdate(oldLine, newLine)
}

func driftDescription(pkg string, drift *version.Drift, m version.Mention) string {
	switch drift.RuleCode {
	case version.RuleMajorDrift:
		return fmt.Sprintf("The %s reference %s==%s is %d major version(s) behind %s.",
			m.Pattern, pkg, drift.Documented, drift.MajorsBehind, drift.Latest)
	case version.RuleMinorDrift:
		return fmt.Sprintf("The %s reference %s==%s is %d minor version(s) behind %s.",
			m.Pattern, pkg, drift.Documented, drift.MinorsBehind, drift.Latest)
	default:
		return fmt.Sprintf("The %s reference %s==%s is older than the latest release %s.",
			m.Pattern, pkg, drift.Documented, drift.Latest)
	}
}
