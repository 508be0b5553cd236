// Package pipeline orchestrates a documentation analysis run: file
// discovery, parsing, rule analyzers, LLM review, verification, and
// persistence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/c360studio/docsqa/analyze"
	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/document/chunker"
	"github.com/c360studio/docsqa/llm"
	"github.com/c360studio/docsqa/metrics"
	"github.com/c360studio/docsqa/patch"
	"github.com/c360studio/docsqa/retrieval"
	"github.com/c360studio/docsqa/storage"
	"github.com/c360studio/docsqa/verify"
)

// Config controls a pipeline run.
type Config struct {
	// RepoPath is the documentation repository root.
	RepoPath string
	// Include and Exclude are doublestar globs relative to RepoPath.
	// Exclude wins.
	Include []string
	Exclude []string
	// LLMEnabled turns the suggestion stage on.
	LLMEnabled bool
	// Facts are known-true statements (latest release, canonical terms)
	// handed to the model alongside each chunk.
	Facts []string
}

// Params carries the pipeline's collaborators. Store and Analyzers are
// required; the rest default to inert implementations.
type Params struct {
	Config         Config
	Store          *storage.Store
	Analyzers      []analyze.Analyzer
	Chunker        *chunker.Chunker
	Retriever      retrieval.Retriever
	ContextBuilder *retrieval.ContextBuilder
	LLM            *llm.Client
	Verifier       *verify.Verifier
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Pipeline runs documentation analysis end to end.
type Pipeline struct {
	config         Config
	store          *storage.Store
	analyzers      []analyze.Analyzer
	chunker        *chunker.Chunker
	retriever      retrieval.Retriever
	contextBuilder *retrieval.ContextBuilder
	llm            *llm.Client
	verifier       *verify.Verifier
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// New creates a Pipeline.
func New(p Params) (*Pipeline, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("pipeline requires a store")
	}
	if len(p.Analyzers) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one analyzer")
	}
	if p.Config.RepoPath == "" {
		return nil, fmt.Errorf("pipeline requires a repository path")
	}
	if len(p.Config.Include) == 0 {
		p.Config.Include = []string{"**/*.md", "**/*.mdx"}
	}
	if p.Chunker == nil {
		p.Chunker = chunker.New(chunker.DefaultConfig())
	}
	if p.Retriever == nil {
		p.Retriever = retrieval.Noop{}
	}
	if p.ContextBuilder == nil {
		p.ContextBuilder = retrieval.NewContextBuilder(p.Retriever, 0, 0)
	}
	if p.Verifier == nil {
		p.Verifier = verify.New(verify.DefaultConfig())
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Config.LLMEnabled && p.LLM == nil {
		return nil, fmt.Errorf("llm stage enabled but no client configured")
	}

	return &Pipeline{
		config:         p.Config,
		store:          p.Store,
		analyzers:      p.Analyzers,
		chunker:        p.Chunker,
		retriever:      p.Retriever,
		contextBuilder: p.ContextBuilder,
		llm:            p.LLM,
		verifier:       p.Verifier,
		metrics:        p.Metrics,
		logger:         p.Logger,
	}, nil
}

// RunResult summarizes one completed run.
type RunResult struct {
	RunID         string
	FilesAnalyzed int
	IssuesFound   int
	IssuesCreated int
	Duration      time.Duration
}

// snippetContextLines is how much surrounding text each persisted issue
// carries for display.
const snippetContextLines = 2

type parsedFile struct {
	relPath string
	doc     *document.Document
	chunks  []chunker.Chunk
}

// Run executes one full analysis pass and persists its findings. Analyzer
// and LLM failures are contained per file and per chunk; only setup and
// persistence failures abort the run.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()

	if err := p.store.CreateRun(ctx, runID); err != nil {
		return nil, err
	}

	result, err := p.run(ctx, runID)
	if err != nil {
		if failErr := p.store.FailRun(ctx, runID, err); failErr != nil {
			p.logger.Error("failed to record run failure", "run_id", runID, "error", failErr)
		}
		return nil, err
	}

	result.RunID = runID
	result.Duration = time.Since(start)
	if p.metrics != nil {
		p.metrics.RunDuration.Observe(result.Duration.Seconds())
	}

	if err := p.store.CompleteRun(ctx, runID, result.FilesAnalyzed, result.IssuesFound); err != nil {
		return nil, err
	}

	p.logger.Info("run completed",
		"run_id", runID,
		"files", result.FilesAnalyzed,
		"issues", result.IssuesFound,
		"created", result.IssuesCreated,
		"duration", result.Duration)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, runID string) (*RunResult, error) {
	paths, err := p.discoverFiles()
	if err != nil {
		return nil, err
	}
	p.logger.Info("run started", "run_id", runID, "files", len(paths))

	// First pass: parse and chunk everything, and feed the retriever so the
	// LLM stage can see across files.
	files := make([]parsedFile, 0, len(paths))
	for _, relPath := range paths {
		raw, err := os.ReadFile(filepath.Join(p.config.RepoPath, relPath))
		if err != nil {
			p.logger.Warn("skipping unreadable file", "path", relPath, "error", err)
			continue
		}
		doc := document.Parse(relPath, string(raw))
		chunks := p.chunker.Split(doc)
		files = append(files, parsedFile{relPath: relPath, doc: doc, chunks: chunks})

		if p.config.LLMEnabled {
			if err := p.retriever.AddChunks(ctx, chunks); err != nil {
				p.logger.Warn("indexing chunks failed", "path", relPath, "error", err)
			}
		}
	}

	result := &RunResult{}
	llmDisabled := false

	for _, f := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fileID, err := p.store.EnsureFile(ctx, f.relPath)
		if err != nil {
			return nil, err
		}

		issues := p.analyzeFile(ctx, f.doc, fileID, runID)

		if p.config.LLMEnabled && !llmDisabled {
			llmIssues, fatal := p.reviewFile(ctx, f, fileID, runID)
			issues = append(issues, llmIssues...)
			if fatal {
				p.logger.Error("llm stage disabled for the rest of the run")
				llmDisabled = true
			}
		}

		for i := range issues {
			if issues[i].Snippet == "" && issues[i].LineStart > 0 {
				issues[i].Snippet = f.doc.LineContext(issues[i].LineStart, snippetContextLines)
			}
		}

		issues = dedupe(issues)

		for _, issue := range issues {
			created, err := p.store.UpsertIssue(ctx, issue)
			if err != nil {
				return nil, err
			}
			if created {
				result.IssuesCreated++
			}
			if p.metrics != nil {
				p.metrics.IssuesFound.WithLabelValues(issue.RuleCode, string(issue.Severity)).Inc()
			}
		}
		result.IssuesFound += len(issues)

		if err := p.store.TouchFile(ctx, fileID); err != nil {
			return nil, err
		}
		result.FilesAnalyzed++
		if p.metrics != nil {
			p.metrics.FilesAnalyzed.Inc()
		}
	}

	return result, nil
}

// analyzeFile runs every analyzer concurrently against one document. A
// failing analyzer loses its findings for this file only.
func (p *Pipeline) analyzeFile(ctx context.Context, doc *document.Document, fileID, runID string) []analyze.Issue {
	results := make([][]analyze.Issue, len(p.analyzers))
	var mu sync.Mutex

	wp := pool.New().WithMaxGoroutines(len(p.analyzers))
	for i, a := range p.analyzers {
		i, a := i, a
		wp.Go(func() {
			issues, err := a.Analyze(ctx, doc, fileID, runID)
			if err != nil {
				p.logger.Warn("analyzer failed",
					"analyzer", a.Name(),
					"file", doc.FilePath,
					"error", err)
				if p.metrics != nil {
					p.metrics.AnalyzerErrors.WithLabelValues(a.Name()).Inc()
				}
				return
			}
			mu.Lock()
			results[i] = issues
			mu.Unlock()
		})
	}
	wp.Wait()

	// Analyzer registration order keeps output deterministic.
	var all []analyze.Issue
	for _, issues := range results {
		all = append(all, issues...)
	}
	return all
}

// reviewFile runs the LLM suggestion stage for one file. The second return
// reports a fatal client error (bad credentials, unknown model) that will
// not heal within this run.
func (p *Pipeline) reviewFile(ctx context.Context, f parsedFile, fileID, runID string) ([]analyze.Issue, bool) {
	var issues []analyze.Issue

	for _, chunk := range f.chunks {
		req := llm.ChunkRequest{
			FilePath:       f.relPath,
			Text:           maskedChunkText(chunk),
			HeadingContext: chunk.HeadingContext,
			LineStart:      chunk.LineStart,
			Context:        p.contextBuilder.Build(ctx, f.doc, chunk, p.config.Facts),
		}

		suggestions, usage, err := p.llm.GenerateSuggestions(ctx, req)
		if p.metrics != nil {
			p.metrics.LLMTokens.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
			p.metrics.LLMTokens.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
		}
		if err != nil {
			p.logger.Warn("suggestion generation failed, continuing without",
				"file", f.relPath,
				"chunk", chunk.ID,
				"error", err)
			if llm.IsFatal(err) {
				return issues, true
			}
			continue
		}

		// Every suggestion is persisted; the verdict decides whether it
		// counts as verified and whether its patch may auto-apply.
		for _, s := range suggestions {
			verdict := p.verifier.Verify(f.doc, s)
			issues = append(issues, suggestionToIssue(f.doc, s, verdict, fileID, runID))
		}
	}
	return issues, false
}

// maskedChunkText renders the chunk with code fences masked so the model is
// never fed raw code to edit.
func maskedChunkText(chunk chunker.Chunk) string {
	if !strings.Contains(chunk.Text, "```") {
		return chunk.Text
	}
	sub := document.Parse(chunk.FilePath, chunk.Text)
	return sub.RenderedText()
}

func suggestionToIssue(doc *document.Document, s llm.Suggestion, verdict verify.Result, fileID, runID string) analyze.Issue {
	ruleCode := s.RuleCode
	if ruleCode == "" {
		ruleCode = "LLM_SUGGESTION"
	}

	issue := analyze.NewIssue(fileID, runID, ruleCode, parseSeverity(s.Severity), s.Title)
	issue.LineStart = s.LineStart
	issue.LineEnd = s.LineEnd
	issue.Description = s.Description
	issue.Confidence = s.Confidence
	issue.Evidence.FailedChecks = verdict.FailedChecks()
	issue.Evidence.Warnings = verdict.Warnings()

	if s.Type == llm.TypeEdit && s.ProposedSnippet != "" {
		issue.Description += fmt.Sprintf("\n\nProposed change:\n%s", s.ProposedSnippet)
		// No patch when scope failed: the snippet does not match the
		// document, so any diff built from it would be wrong.
		if verdict.Status(verify.CheckScope) == verify.StatusPass {
			if diff, err := patch.CreateLineReplacementPatch(doc.Body, s.LineStart, s.LineEnd, s.ProposedSnippet, doc.FilePath); err == nil {
				issue.SuggestedPatch = diff
				issue.CanAutoApply = verdict.CanAutoApply
			}
		}
	}
	for _, c := range s.Citations {
		issue.Citations = append(issue.Citations, analyze.Citation{
			Type:      c.Type,
			FilePath:  c.FilePath,
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
			Quote:     c.Quote,
		})
	}
	return issue
}

func parseSeverity(s string) analyze.Severity {
	switch analyze.Severity(strings.ToLower(s)) {
	case analyze.SeverityHigh:
		return analyze.SeverityHigh
	case analyze.SeverityMedium:
		return analyze.SeverityMedium
	default:
		return analyze.SeverityLow
	}
}

// dedupe drops issues whose identity key already appeared, keeping the first
// occurrence. Rule analyzers run before the LLM stage, so deterministic
// findings win over generated ones.
func dedupe(issues []analyze.Issue) []analyze.Issue {
	seen := make(map[analyze.IdentityKey]struct{}, len(issues))
	out := issues[:0]
	for _, issue := range issues {
		key := issue.Identity()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, issue)
	}
	return out
}

// discoverFiles walks the repository and returns the sorted relative paths
// matching the include globs and no exclude glob.
func (p *Pipeline) discoverFiles() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(p.config.RepoPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(p.config.RepoPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !matchAny(p.config.Include, rel) || matchAny(p.config.Exclude, rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover files in %s: %w", p.config.RepoPath, err)
	}

	sort.Strings(paths)
	return paths, nil
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
