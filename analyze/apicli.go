package analyze

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/docsqa/catalog"
	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/patch"
)

// API/CLI rule codes.
const (
	RuleAPIUnknown    = "API_UNKNOWN"
	RuleCLIUnknown    = "CLI_UNKNOWN"
	RuleAPIDeprecated = "API_DEPRECATED"
	RuleCLIDeprecated = "CLI_DEPRECATED"
)

// suggestionCount is how many "did you mean" candidates go into evidence.
const suggestionCount = 3

// APICLIAnalyzer checks code references in documentation against the API and
// CLI catalogs.
type APICLIAnalyzer struct {
	catalog   *catalog.Catalog
	namespace string
}

// NewAPICLIAnalyzer creates an APICLIAnalyzer for one product namespace.
func NewAPICLIAnalyzer(cat *catalog.Catalog, namespace string) *APICLIAnalyzer {
	return &APICLIAnalyzer{catalog: cat, namespace: namespace}
}

func (a *APICLIAnalyzer) Name() string { return "apicli" }

// Analyze scans code blocks and inline code for namespace references and
// flags symbols the catalogs do not know or mark deprecated. One issue per
// distinct symbol, anchored at its first occurrence.
func (a *APICLIAnalyzer) Analyze(ctx context.Context, doc *document.Document, fileID, runID string) ([]Issue, error) {
	// An empty catalog means no reference data was configured; flagging
	// every symbol as unknown would be pure noise.
	if a.catalog.APICount() == 0 && a.catalog.CLICount() == 0 {
		return nil, nil
	}

	syms := document.CodeSymbols(doc, a.namespace)
	var issues []Issue

	if a.catalog.APICount() > 0 {
		for _, name := range sortedKeys(syms.APICalls) {
			lines := syms.APICalls[name]
			info, known := a.catalog.APIInfo(name)
			switch {
			case !known:
				issues = append(issues, a.unknownIssue(fileID, runID, RuleAPIUnknown, name, lines[0],
					a.catalog.SimilarAPISymbols(name, suggestionCount)))
			case info.Deprecated:
				issues = append(issues, a.deprecatedIssue(doc, fileID, runID, RuleAPIDeprecated, info, lines[0]))
			}
		}
	}

	if a.catalog.CLICount() > 0 {
		for _, name := range sortedKeys(syms.CLICommands) {
			lines := syms.CLICommands[name]
			info, known := a.catalog.CLIInfo(name)
			switch {
			case !known:
				issues = append(issues, a.unknownIssue(fileID, runID, RuleCLIUnknown, name, lines[0],
					a.catalog.SimilarCLICommands(name, suggestionCount)))
			case info.Deprecated:
				issues = append(issues, a.deprecatedIssue(doc, fileID, runID, RuleCLIDeprecated, info, lines[0]))
			}
		}
	}

	return issues, nil
}

func (a *APICLIAnalyzer) unknownIssue(fileID, runID, ruleCode, symbol string, line int, suggestions []string) Issue {
	issue := NewIssue(fileID, runID, ruleCode, SeverityMedium,
		fmt.Sprintf("Unknown reference: %s", symbol))
	issue.LineStart = line
	issue.LineEnd = line
	issue.Description = fmt.Sprintf("%s is not in the current reference catalog.", symbol)
	if len(suggestions) > 0 {
		issue.Description += fmt.Sprintf(" Did you mean %s?", strings.Join(suggestions, ", "))
	}
	issue.Evidence = Evidence{Symbol: symbol, Suggestions: suggestions}
	return issue
}

func (a *APICLIAnalyzer) deprecatedIssue(doc *document.Document, fileID, runID, ruleCode string, info catalog.SymbolInfo, line int) Issue {
	issue := NewIssue(fileID, runID, ruleCode, SeverityHigh,
		fmt.Sprintf("Deprecated reference: %s", info.Name))
	issue.LineStart = line
	issue.LineEnd = line

	desc := fmt.Sprintf("%s is deprecated", info.Name)
	if info.DeprecatedSince != "" {
		desc += fmt.Sprintf(" since %s", info.DeprecatedSince)
	}
	if info.Reason != "" {
		desc += fmt.Sprintf(" (%s)", info.Reason)
	}
	if info.Replacement != "" {
		desc += fmt.Sprintf("; use %s instead", info.Replacement)
	}
	issue.Description = desc + "."
	issue.Evidence = Evidence{
		Symbol:            info.Name,
		Replacement:       info.Replacement,
		DeprecatedSince:   info.DeprecatedSince,
		DeprecationReason: info.Reason,
	}
	attachReplacementPatch(&issue, doc, line, info.Name, info.Replacement)
	return issue
}

// attachReplacementPatch builds a one-line diff substituting replacement for
// symbol. A straight name substitution that actually changes the line is safe
// to apply unattended.
func attachReplacementPatch(issue *Issue, doc *document.Document, line int, symbol, replacement string) {
	if replacement == "" {
		return
	}
	lines := doc.Lines()
	if line < 1 || line > len(lines) {
		return
	}
	oldLine := lines[line-1]
	newLine := strings.ReplaceAll(oldLine, symbol, replacement)
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

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
