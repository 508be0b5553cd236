package verify

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docsqa/catalog"
	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/llm"
)

const sampleRaw = "# Quickstart\n" +
	"\n" +
	"Install the library before creating a run.\n" +
	"\n" +
	"```bash\n" +
	"pip install wandb==0.10.0\n" +
	"```\n" +
	"\n" +
	"See the [docs](https://docs.example.com) page.\n"

func sampleDoc() *document.Document {
	return document.Parse("quickstart.md", sampleRaw)
}

func cited() []llm.Citation {
	return []llm.Citation{{
		FilePath:  "quickstart.md",
		LineStart: 3,
		LineEnd:   3,
		Quote:     "Install the library",
	}}
}

func editSuggestion() llm.Suggestion {
	return llm.Suggestion{
		Type:            llm.TypeEdit,
		RuleCode:        "LLM_WORDING",
		Severity:        "low",
		Title:           "Tighten the install sentence",
		FilePath:        "quickstart.md",
		LineStart:       3,
		LineEnd:         3,
		OriginalSnippet: "Install the library before creating a run.",
		ProposedSnippet: "Install the library before you create a run.",
		Citations:       cited(),
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	api := `{"symbols": [{"name": "wandb.init"}, {"name": "wandb.finish"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.json"), []byte(api), 0644))
	c, err := catalog.Load(dir)
	require.NoError(t, err)
	return c
}

func TestVerify_CleanEditPassesAllChecks(t *testing.T) {
	v := New(DefaultConfig())

	result := v.Verify(sampleDoc(), editSuggestion())

	assert.True(t, result.Verified)
	assert.True(t, result.CanAutoApply)
	require.Len(t, result.Checks, 7)
	for _, c := range result.Checks {
		assert.Equal(t, StatusPass, c.Status, c.Name)
	}
}

func TestVerify_CheckOrder(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Verify(sampleDoc(), editSuggestion())

	want := []string{CheckScope, CheckStructural, CheckWhitespace, CheckCitations, CheckCodeEdit, CheckLinks, CheckVersions}
	require.Len(t, result.Checks, len(want))
	for i, c := range result.Checks {
		assert.Equal(t, want[i], c.Name)
	}
}

func TestVerify_ScopeOutOfRange(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.LineStart = 100
	s.LineEnd = 101

	result := v.Verify(sampleDoc(), s)
	assert.False(t, result.Verified)
	assert.False(t, result.CanAutoApply)
	// Safety-critical failure stops the sequence.
	require.Len(t, result.Checks, 1)
	assert.Equal(t, CheckScope, result.Checks[0].Name)
	assert.Equal(t, StatusError, result.Checks[0].Status)
}

func TestVerify_ScopeSnippetMismatch(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.OriginalSnippet = "This sentence is not in the document."

	result := v.Verify(sampleDoc(), s)
	assert.False(t, result.Verified)
	assert.Equal(t, []string{CheckScope}, result.FailedChecks())
}

func TestVerify_StructuralChangeIsWarning(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.ProposedSnippet = "- Install the library before creating a run."

	result := v.Verify(sampleDoc(), s)
	// Restructuring prose is editorial latitude, not a rejection.
	assert.True(t, result.Verified)
	assert.True(t, result.CanAutoApply)
	assert.Equal(t, []string{CheckStructural}, result.Warnings())
	assert.Equal(t, StatusWarning, result.Status(CheckStructural))
}

func TestVerify_WhitespaceChurnRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWhitespaceDeltaLines = 0
	v := New(cfg)

	s := editSuggestion()
	s.ProposedSnippet = "Install the library  before creating a run."

	result := v.Verify(sampleDoc(), s)
	assert.False(t, result.Verified)
	require.Len(t, result.Checks, 3)
	assert.Equal(t, CheckWhitespace, result.Checks[2].Name)
	assert.Equal(t, StatusError, result.Checks[2].Status)
}

func TestVerify_MissingCitations(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.Citations = nil

	result := v.Verify(sampleDoc(), s)
	assert.False(t, result.Verified)
	assert.False(t, result.CanAutoApply)
	// A citation failure does not stop the sequence.
	require.Len(t, result.Checks, 7)
	assert.Equal(t, []string{CheckCitations}, result.FailedChecks())
}

func TestVerify_CitationQuoteNotInDocument(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.Citations = []llm.Citation{{
		FilePath: "quickstart.md",
		Quote:    "this quote was fabricated",
	}}

	result := v.Verify(sampleDoc(), s)
	assert.Equal(t, []string{CheckCitations}, result.FailedChecks())
}

func TestVerify_CatalogCitationUnknownSymbolWarns(t *testing.T) {
	v := New(DefaultConfig(), WithCatalog(testCatalog(t)))

	s := editSuggestion()
	s.Citations = []llm.Citation{{Type: llm.CitationCatalog, Quote: "wandb.telepathy"}}

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified)
	assert.Contains(t, result.Warnings(), CheckCitations)
}

func TestVerify_CatalogCitationKnownSymbolPasses(t *testing.T) {
	v := New(DefaultConfig(), WithCatalog(testCatalog(t)))

	s := editSuggestion()
	s.Citations = []llm.Citation{{Type: llm.CitationCatalog, Quote: "wandb.init"}}

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified)
	assert.Equal(t, StatusPass, result.Status(CheckCitations))
}

func TestVerify_FactCitationWarns(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.Citations = []llm.Citation{{Type: llm.CitationFact, Quote: "the latest release is 0.17.0"}}

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified)
	assert.Contains(t, result.Warnings(), CheckCitations)
}

func TestVerify_CitationsOptional(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireCitations = false
	v := New(cfg)

	s := editSuggestion()
	s.Citations = nil

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified)
}

func TestVerify_VersionUpdateInCodeAllowed(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.LineStart = 6
	s.LineEnd = 6
	s.OriginalSnippet = "pip install wandb==0.10.0"
	s.ProposedSnippet = "pip install wandb==0.17.0"
	s.Citations = []llm.Citation{{FilePath: "quickstart.md", Quote: "pip install wandb==0.10.0"}}

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified, result.FailedChecks())
	assert.True(t, result.CanAutoApply)
}

func TestVerify_CodeContentEditRejected(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.LineStart = 6
	s.LineEnd = 6
	s.OriginalSnippet = "pip install wandb==0.10.0"
	s.ProposedSnippet = "uv pip install wandb==0.17.0"
	s.Citations = []llm.Citation{{FilePath: "quickstart.md", Quote: "pip install wandb==0.10.0"}}

	result := v.Verify(sampleDoc(), s)
	assert.False(t, result.Verified)
	assert.Contains(t, result.FailedChecks(), CheckCodeEdit)
	// The mixed version-and-text change additionally warns.
	assert.Contains(t, result.Warnings(), CheckVersions)
	assert.False(t, result.CanAutoApply)
}

func TestVerify_CodeEditRequiresCatalogCitation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowCodeEdits = true
	v := New(cfg)

	s := editSuggestion()
	s.LineStart = 6
	s.LineEnd = 6
	s.OriginalSnippet = "pip install wandb==0.10.0"
	s.ProposedSnippet = "pip install --upgrade wandb"
	s.Citations = []llm.Citation{{FilePath: "quickstart.md", Quote: "pip install wandb==0.10.0"}}

	result := v.Verify(sampleDoc(), s)
	assert.Contains(t, result.FailedChecks(), CheckCodeEdit)

	s.Citations = append(s.Citations, llm.Citation{Type: llm.CitationCatalog, Quote: "wandb.init"})
	result = v.Verify(sampleDoc(), s)
	assert.NotContains(t, result.FailedChecks(), CheckCodeEdit)
}

func TestVerify_NewDeadLinkWarns(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer dead.Close()

	v := New(DefaultConfig())

	s := editSuggestion()
	s.LineStart = 9
	s.LineEnd = 9
	s.OriginalSnippet = "See the [docs](https://docs.example.com) page."
	s.ProposedSnippet = "See the [docs](" + dead.URL + "/moved) page."
	s.Citations = []llm.Citation{{FilePath: "quickstart.md", Quote: "See the [docs]"}}

	result := v.Verify(sampleDoc(), s)
	// A dead minted link is surfaced but does not reject the suggestion.
	assert.True(t, result.Verified)
	assert.Contains(t, result.Warnings(), CheckLinks)
	assert.False(t, result.CanAutoApply)
}

func TestVerify_NewLiveLinkKeepsAutoApply(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer live.Close()

	v := New(DefaultConfig())

	s := editSuggestion()
	s.LineStart = 9
	s.LineEnd = 9
	s.OriginalSnippet = "See the [docs](https://docs.example.com) page."
	s.ProposedSnippet = "See the [docs](" + live.URL + "/guide) page."
	s.Citations = []llm.Citation{{FilePath: "quickstart.md", Quote: "See the [docs]"}}

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified)
	assert.Equal(t, StatusPass, result.Status(CheckLinks))
	assert.True(t, result.CanAutoApply)
}

func TestVerify_NewUnreachableLinkIsNote(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.LineStart = 9
	s.LineEnd = 9
	s.OriginalSnippet = "See the [docs](https://docs.example.com) page."
	s.ProposedSnippet = "See the [docs](http://127.0.0.1:1/x) page."
	s.Citations = []llm.Citation{{FilePath: "quickstart.md", Quote: "See the [docs]"}}

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified)
	assert.Equal(t, StatusNote, result.Status(CheckLinks))
	assert.False(t, result.CanAutoApply)
}

func TestVerify_KeptLinkAccepted(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.LineStart = 9
	s.LineEnd = 9
	s.OriginalSnippet = "See the [docs](https://docs.example.com) page."
	s.ProposedSnippet = "Read the [documentation](https://docs.example.com) page."
	s.Citations = []llm.Citation{{FilePath: "quickstart.md", Quote: "See the [docs]"}}

	result := v.Verify(sampleDoc(), s)
	assert.Equal(t, StatusPass, result.Status(CheckLinks))
}

func TestVerify_MalformedNewVersionWarns(t *testing.T) {
	v := New(DefaultConfig())

	s := editSuggestion()
	s.ProposedSnippet = "Install the library 0.17.0.4.banana before creating a run."

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified)
	assert.Contains(t, result.Warnings(), CheckVersions)
	assert.False(t, result.CanAutoApply)
}

func TestVerify_FlagSuggestion(t *testing.T) {
	v := New(DefaultConfig())

	s := llm.Suggestion{
		Type:      llm.TypeFlag,
		RuleCode:  "LLM_AMBIGUOUS",
		Title:     "Ambiguous instruction",
		FilePath:  "quickstart.md",
		LineStart: 3,
		LineEnd:   3,
		Citations: cited(),
	}

	result := v.Verify(sampleDoc(), s)
	assert.True(t, result.Verified)
	// Flags never auto-apply; there is nothing to apply.
	assert.False(t, result.CanAutoApply)
	require.Len(t, result.Checks, 1)
}

func TestVerify_CanAutoApplyMonotonic(t *testing.T) {
	v := New(DefaultConfig())

	// Fails citations but passes everything after it: the later passes must
	// not resurrect auto-apply.
	s := editSuggestion()
	s.Citations = nil

	result := v.Verify(sampleDoc(), s)
	assert.False(t, result.CanAutoApply)

	for _, c := range result.Checks[4:] {
		assert.Equal(t, StatusPass, c.Status, c.Name)
	}
}
