package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docsqa/analyze"
	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/llm"
	"github.com/c360studio/docsqa/retrieval"
	"github.com/c360studio/docsqa/storage"
	"github.com/c360studio/docsqa/verify"
)

// stubAnalyzer flags every document with one fixed-rule issue per call.
type stubAnalyzer struct {
	name string
	rule string
	err  error
}

func (a *stubAnalyzer) Name() string { return a.name }

func (a *stubAnalyzer) Analyze(ctx context.Context, doc *document.Document, fileID, runID string) ([]analyze.Issue, error) {
	if a.err != nil {
		return nil, a.err
	}
	issue := analyze.NewIssue(fileID, runID, a.rule, analyze.SeverityLow,
		fmt.Sprintf("%s finding in %s", a.rule, doc.FilePath))
	issue.LineStart = 1
	issue.LineEnd = 1
	return []analyze.Issue{issue}, nil
}

func writeDocs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "docsqa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRun_AnalyzesAllMatchingFiles(t *testing.T) {
	repo := writeDocs(t, map[string]string{
		"guides/a.md":    "# A\n\ntext\n",
		"guides/b.mdx":   "# B\n\ntext\n",
		"guides/c.txt":   "not documentation\n",
		"drafts/skip.md": "# Draft\n",
	})

	store := newStore(t)
	p, err := New(Params{
		Config: Config{
			RepoPath: repo,
			Include:  []string{"**/*.md", "**/*.mdx"},
			Exclude:  []string{"drafts/**"},
		},
		Store:     store,
		Analyzers: []analyze.Analyzer{&stubAnalyzer{name: "stub", rule: "STUB_RULE"}},
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesAnalyzed)
	assert.Equal(t, 2, result.IssuesFound)
	assert.Equal(t, 2, result.IssuesCreated)

	run, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.FilesAnalyzed)
}

func TestRun_RerunUpsertsInsteadOfDuplicating(t *testing.T) {
	repo := writeDocs(t, map[string]string{"a.md": "# A\n"})
	store := newStore(t)

	p, err := New(Params{
		Config:    Config{RepoPath: repo},
		Store:     store,
		Analyzers: []analyze.Analyzer{&stubAnalyzer{name: "stub", rule: "STUB_RULE"}},
	})
	require.NoError(t, err)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.IssuesCreated)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.IssuesFound)
	// Identical findings refresh the existing rows.
	assert.Equal(t, 0, second.IssuesCreated)

	fileID, err := store.EnsureFile(context.Background(), "a.md")
	require.NoError(t, err)
	issues, err := store.IssuesForFile(context.Background(), fileID)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, second.RunID, issues[0].RunID)
}

func TestRun_AnalyzerFailureIsolated(t *testing.T) {
	repo := writeDocs(t, map[string]string{"a.md": "# A\n"})
	store := newStore(t)

	p, err := New(Params{
		Config: Config{RepoPath: repo},
		Store:  store,
		Analyzers: []analyze.Analyzer{
			&stubAnalyzer{name: "broken", err: errors.New("catalog unavailable")},
			&stubAnalyzer{name: "working", rule: "STUB_RULE"},
		},
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	// The healthy analyzer's findings survive the broken one.
	assert.Equal(t, 1, result.FilesAnalyzed)
	assert.Equal(t, 1, result.IssuesFound)
}

func TestRun_DuplicateIdentityFirstWins(t *testing.T) {
	repo := writeDocs(t, map[string]string{"a.md": "# A\n"})
	store := newStore(t)

	// Two analyzers producing the same identity: same rule, line, title.
	dup := func(name string) analyze.Analyzer {
		return &stubAnalyzer{name: name, rule: "STUB_RULE"}
	}
	p, err := New(Params{
		Config:    Config{RepoPath: repo},
		Store:     store,
		Analyzers: []analyze.Analyzer{dup("first"), dup("second")},
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.IssuesFound)
}

func TestRun_LLMSuggestionsVerifiedAndPersisted(t *testing.T) {
	const body = "# Guide\n\nThe run page show your results.\n"
	repo := writeDocs(t, map[string]string{"guide.md": body})

	reply := `{"suggestions": [
		{
			"type": "edit",
			"rule_code": "LLM_GRAMMAR",
			"severity": "low",
			"confidence": 0.95,
			"title": "Fix verb agreement",
			"description": "Subject and verb disagree.",
			"line_start": 3,
			"line_end": 3,
			"original_snippet": "The run page show your results.",
			"proposed_snippet": "The run page shows your results.",
			"citations": [{"file_path": "guide.md", "line_start": 3, "line_end": 3, "quote": "The run page show"}]
		},
		{
			"type": "edit",
			"rule_code": "LLM_BOGUS",
			"severity": "high",
			"confidence": 0.2,
			"title": "Out of scope edit",
			"description": "Claims lines that do not exist.",
			"line_start": 100,
			"line_end": 101,
			"original_snippet": "nothing",
			"proposed_snippet": "something",
			"citations": [{"file_path": "guide.md", "line_start": 1, "line_end": 1}]
		},
		{
			"type": "edit",
			"rule_code": "LLM_UNCITED",
			"severity": "low",
			"confidence": 0.6,
			"title": "Uncited edit",
			"description": "A plausible edit with no supporting citation.",
			"line_start": 3,
			"line_end": 3,
			"original_snippet": "The run page show your results.",
			"proposed_snippet": "The run page show your results today.",
			"citations": []
		}
	]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"choices": [{"message": {"role": "assistant", "content": %q}}], "usage": {"prompt_tokens": 10, "completion_tokens": 20}}`, reply)
	}))
	defer srv.Close()

	store := newStore(t)
	p, err := New(Params{
		Config:    Config{RepoPath: repo, LLMEnabled: true},
		Store:     store,
		Analyzers: []analyze.Analyzer{&stubAnalyzer{name: "stub", rule: "STUB_RULE"}},
		Retriever: retrieval.NewLexical(),
		LLM:       llm.NewClient(llm.Config{Endpoint: srv.URL, Model: "test"}),
		Verifier:  verify.New(verify.DefaultConfig()),
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	// Stub issue plus all three suggestions: failing verification strips the
	// auto-apply verdict, not the record.
	assert.Equal(t, 4, result.IssuesFound)

	fileID, err := store.EnsureFile(context.Background(), "guide.md")
	require.NoError(t, err)
	issues, err := store.IssuesForFile(context.Background(), fileID)
	require.NoError(t, err)

	byRule := make(map[string]*analyze.Issue)
	for i := range issues {
		byRule[issues[i].RuleCode] = &issues[i]
	}

	llmIssue := byRule["LLM_GRAMMAR"]
	require.NotNil(t, llmIssue, "verified suggestion should be persisted")
	assert.Equal(t, 3, llmIssue.LineStart)
	assert.Contains(t, llmIssue.Description, "The run page shows your results.")
	assert.InDelta(t, 0.95, llmIssue.Confidence, 0.001)
	assert.Contains(t, llmIssue.Snippet, "The run page show your results.")
	require.Len(t, llmIssue.Citations, 1)
	assert.Empty(t, llmIssue.Evidence.FailedChecks)

	// An edit that cleared every check carries an auto-appliable patch.
	assert.Contains(t, llmIssue.SuggestedPatch, "+The run page shows your results.")
	assert.True(t, llmIssue.CanAutoApply)

	// The out-of-scope edit is kept for review with no patch attached.
	bogus := byRule["LLM_BOGUS"]
	require.NotNil(t, bogus, "failed suggestion should still be persisted")
	assert.False(t, bogus.CanAutoApply)
	assert.Empty(t, bogus.SuggestedPatch)
	assert.Contains(t, bogus.Evidence.FailedChecks, verify.CheckScope)

	// The uncited edit keeps its patch (the scope was sound) but can never
	// be applied unattended.
	uncited := byRule["LLM_UNCITED"]
	require.NotNil(t, uncited)
	assert.False(t, uncited.CanAutoApply)
	assert.Contains(t, uncited.SuggestedPatch, "+The run page show your results today.")
	assert.Contains(t, uncited.Evidence.FailedChecks, verify.CheckCitations)
}

func TestRun_LLMFailureDegradesToRuleIssues(t *testing.T) {
	repo := writeDocs(t, map[string]string{"a.md": "# A\n\ntext\n"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := newStore(t)
	p, err := New(Params{
		Config:    Config{RepoPath: repo, LLMEnabled: true},
		Store:     store,
		Analyzers: []analyze.Analyzer{&stubAnalyzer{name: "stub", rule: "STUB_RULE"}},
		LLM:       llm.NewClient(llm.Config{Endpoint: srv.URL, Model: "test"}),
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.IssuesFound)
}

func TestRun_MissingRepoFails(t *testing.T) {
	store := newStore(t)
	p, err := New(Params{
		Config:    Config{RepoPath: filepath.Join(t.TempDir(), "nope")},
		Store:     store,
		Analyzers: []analyze.Analyzer{&stubAnalyzer{name: "stub", rule: "STUB_RULE"}},
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	store := newStore(t)

	_, err := New(Params{Config: Config{RepoPath: "/x"}, Store: store})
	assert.Error(t, err)

	_, err = New(Params{Config: Config{RepoPath: "/x"}, Analyzers: []analyze.Analyzer{&stubAnalyzer{}}})
	assert.Error(t, err)

	_, err = New(Params{
		Config:    Config{RepoPath: "/x", LLMEnabled: true},
		Store:     store,
		Analyzers: []analyze.Analyzer{&stubAnalyzer{}},
	})
	assert.Error(t, err)
}
