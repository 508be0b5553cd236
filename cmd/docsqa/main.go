// Command docsqa analyzes a documentation repository for broken links,
// version drift, stale code references, style problems, and LLM-reviewed
// content issues.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/docsqa/analyze"
	"github.com/c360studio/docsqa/catalog"
	"github.com/c360studio/docsqa/config"
	"github.com/c360studio/docsqa/document/chunker"
	"github.com/c360studio/docsqa/linkcheck"
	"github.com/c360studio/docsqa/llm"
	"github.com/c360studio/docsqa/metrics"
	"github.com/c360studio/docsqa/patch"
	"github.com/c360studio/docsqa/pipeline"
	"github.com/c360studio/docsqa/retrieval"
	"github.com/c360studio/docsqa/storage"
	"github.com/c360studio/docsqa/verify"
	"github.com/c360studio/docsqa/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:          "docsqa",
		Short:        "Documentation quality analysis",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "docsqa.yml", "path to the configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newAnalyzeCmd(&configPath, &verbose))
	root.AddCommand(newIssuesCmd(&configPath, &verbose))
	root.AddCommand(newInitCmd(&configPath))
	return root
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				return fmt.Errorf("%s already exists", *configPath)
			}
			cfg := config.DefaultConfig()
			if err := cfg.SaveToFile(*configPath); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", *configPath)
			return nil
		},
	}
}

func newAnalyzeCmd(configPath *string, verbose *bool) *cobra.Command {
	var repoOverride string
	var llmOverride bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis pass over the documentation repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*verbose)
			slog.SetDefault(logger)

			cfg, err := config.LoadFromFile(*configPath)
			if err != nil {
				return err
			}
			if repoOverride != "" {
				cfg.Repo.Path = repoOverride
			}
			if cmd.Flags().Changed("llm") {
				cfg.LLM.Enabled = llmOverride
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runAnalysis(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&repoOverride, "repo", "", "documentation repository path (overrides config)")
	cmd.Flags().BoolVar(&llmOverride, "llm", false, "enable or disable the LLM stage (overrides config)")
	return cmd
}

func newIssuesCmd(configPath *string, verbose *bool) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List the issues recorded by a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*verbose)

			cfg, err := config.LoadFromFile(*configPath)
			if err != nil {
				return err
			}
			if runID == "" {
				return fmt.Errorf("--run is required")
			}

			store, err := storage.Open(cfg.DB.Path, storage.WithLogger(logger))
			if err != nil {
				return err
			}
			defer store.Close()

			return printRunIssues(cmd, store, runID)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID to list issues for")
	return cmd
}

func printRunIssues(cmd *cobra.Command, store *storage.Store, runID string) error {
	ctx := cmd.Context()
	issues, err := store.IssuesSeenInRun(ctx, runID)
	if err != nil {
		return err
	}
	paths, err := store.FilePathsByID(ctx)
	if err != nil {
		return err
	}

	for _, issue := range issues {
		path := paths[issue.FileID]
		if path == "" {
			path = issue.FileID
		}
		cmd.Printf("%s:%d [%s/%s] %s\n", path, issue.LineStart, issue.RuleCode, issue.Severity, issue.Title)
		if issue.SuggestedPatch != "" {
			before, after := patch.ExtractSnippets(issue.SuggestedPatch)
			cmd.Printf("  - %s\n  + %s\n", before, after)
			if issue.CanAutoApply {
				cmd.Println("  (safe to auto-apply)")
			}
		}
	}
	cmd.Printf("%d issues in run %s\n", len(issues), runID)
	return nil
}

func runAnalysis(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.Open(cfg.DB.Path, storage.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	cat, err := catalog.Load(cfg.Catalogs.Dir, catalog.WithLogger(logger))
	if err != nil {
		return err
	}

	catalogCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := cat.Watch(catalogCtx); err != nil && catalogCtx.Err() == nil {
			logger.Warn("catalog watcher stopped", "error", err)
		}
	}()

	checker := linkcheck.New(linkcheck.Config{
		Timeout:      cfg.Links.Timeout,
		Concurrency:  cfg.Links.Concurrency,
		PerHostLimit: cfg.Links.PerHostLimit,
		BaseURL:      cfg.Repo.BaseURL,
	}, linkcheck.WithLogger(logger))

	resolver := version.NewResolver(version.WithLogger(logger))
	m := metrics.New(nil)

	analyzers := []analyze.Analyzer{
		analyze.NewLinkAnalyzer(checker, analyze.WithLinkMetrics(m)),
		analyze.NewVersionAnalyzer(resolver, cfg.Versions.Package, version.Policy{
			AllowMajorsBehind: cfg.Versions.AllowMajorsBehind,
			AllowMinorsBehind: cfg.Versions.AllowMinorsBehind,
		}),
		analyze.NewAPICLIAnalyzer(cat, cfg.Catalogs.Namespace),
		analyze.NewStyleAnalyzer(analyze.StyleConfig{
			RequireOneH1:  cfg.Style.RequireOneH1,
			RequireImgAlt: cfg.Style.RequireImgAlt,
			Terminology:   cfg.Terminology.Canonical,
		}),
	}

	params := pipeline.Params{
		Config: pipeline.Config{
			RepoPath:   cfg.Repo.Path,
			Include:    cfg.Paths.Include,
			Exclude:    cfg.Paths.Exclude,
			LLMEnabled: cfg.LLM.Enabled,
		},
		Store:     store,
		Analyzers: analyzers,
		Chunker: chunker.New(chunker.Config{
			MaxTokens:     cfg.Chunking.MaxTokens,
			OverlapTokens: cfg.Chunking.OverlapTokens,
		}),
		Verifier: verify.New(verify.Config{
			RequireCitations:        cfg.Guardrails.RequireCitations,
			AllowCodeEdits:          cfg.Guardrails.AllowCodeEdits,
			MaxWhitespaceDeltaLines: cfg.Guardrails.MaxWhitespaceDeltaLines,
		}, verify.WithLogger(logger), verify.WithCatalog(cat)),
		Metrics: m,
		Logger:  logger,
	}

	if cfg.LLM.Enabled {
		params.Config.Facts = buildFacts(ctx, cfg, resolver, cat)
		retriever := retrieval.NewLexical()
		params.Retriever = retriever
		params.ContextBuilder = retrieval.NewContextBuilder(retriever,
			cfg.Retrieval.ContextLines, cfg.Retrieval.KNeighbors)
		params.LLM = llm.NewClient(llm.Config{
			Endpoint:        cfg.LLM.Endpoint,
			Model:           cfg.LLM.Model,
			APIKey:          cfg.LLM.APIKey,
			Temperature:     cfg.LLM.Temperature,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Timeout:         cfg.LLM.Timeout,
		}, llm.WithLogger(logger))
	}

	p, err := pipeline.New(params)
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %d files analyzed, %d issues (%d new) in %s\n",
		result.RunID, result.FilesAnalyzed, result.IssuesFound, result.IssuesCreated,
		time.Since(start).Round(time.Millisecond))
	return nil
}

// buildFacts collects known-true statements for the LLM stage: the latest
// release of the tracked package, the canonical terminology, and the known
// API and CLI surfaces. A resolver failure just means fewer facts.
func buildFacts(ctx context.Context, cfg *config.Config, resolver *version.Resolver, cat *catalog.Catalog) []string {
	var facts []string

	if cfg.Versions.Package != "" {
		if latest, err := resolver.Latest(ctx, cfg.Versions.Package); err == nil {
			facts = append(facts, fmt.Sprintf("The latest release of %s is %s.", cfg.Versions.Package, latest))
		}
	}
	for _, entry := range cfg.Terminology.Canonical {
		canonical, _, ok := strings.Cut(entry, "|")
		if !ok {
			continue
		}
		facts = append(facts, fmt.Sprintf("The preferred spelling is %q.", strings.TrimSpace(canonical)))
	}
	if syms := cat.APISymbols(); len(syms) > 0 {
		facts = append(facts, fmt.Sprintf("Known API symbols: %s.", strings.Join(syms, ", ")))
	}
	if cmds := cat.CLISymbols(); len(cmds) > 0 {
		facts = append(facts, fmt.Sprintf("Known CLI commands: %s.", strings.Join(cmds, ", ")))
	}
	return facts
}
