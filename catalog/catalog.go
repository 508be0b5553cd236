// Package catalog loads and serves the API and CLI reference catalogs that
// code references in documentation are checked against.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SymbolInfo describes one API symbol or CLI command in a catalog.
type SymbolInfo struct {
	// Name is the fully qualified symbol ("wandb.init") or command
	// ("wandb login").
	Name string `json:"name"`
	// Summary is a one-line description, used in issue evidence.
	Summary string `json:"summary,omitempty"`
	// Deprecated marks the symbol as deprecated.
	Deprecated bool `json:"deprecated,omitempty"`
	// DeprecatedSince is the version that deprecated the symbol.
	DeprecatedSince string `json:"deprecated_since,omitempty"`
	// Reason explains why the symbol was deprecated.
	Reason string `json:"reason,omitempty"`
	// Replacement names the preferred symbol, if any.
	Replacement string `json:"replacement,omitempty"`
}

type catalogFile struct {
	Namespace string       `json:"namespace"`
	Symbols   []SymbolInfo `json:"symbols"`
}

// Catalog holds the API and CLI symbol tables. It is safe for concurrent
// use; Reload swaps the tables atomically under a write lock.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu  sync.RWMutex
	api map[string]SymbolInfo
	cli map[string]SymbolInfo
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// Load reads api.json and cli.json from dir. A missing file yields an empty
// table for that side, not an error: a deployment may track only one of the
// two surfaces.
func Load(dir string, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		dir:    dir,
		logger: slog.Default(),
		api:    make(map[string]SymbolInfo),
		cli:    make(map[string]SymbolInfo),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog files from disk.
func (c *Catalog) Reload() error {
	api, err := loadFile(filepath.Join(c.dir, "api.json"))
	if err != nil {
		return fmt.Errorf("load api catalog: %w", err)
	}
	cli, err := loadFile(filepath.Join(c.dir, "cli.json"))
	if err != nil {
		return fmt.Errorf("load cli catalog: %w", err)
	}

	c.mu.Lock()
	c.api = api
	c.cli = cli
	c.mu.Unlock()

	c.logger.Debug("catalogs loaded",
		"dir", c.dir,
		"api_symbols", len(api),
		"cli_commands", len(cli))
	return nil
}

func loadFile(path string) (map[string]SymbolInfo, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]SymbolInfo), nil
	}
	if err != nil {
		return nil, err
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	table := make(map[string]SymbolInfo, len(file.Symbols))
	for _, s := range file.Symbols {
		table[s.Name] = s
	}
	return table, nil
}

// APIInfo looks up an API symbol.
func (c *Catalog) APIInfo(name string) (SymbolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.api[name]
	return info, ok
}

// CLIInfo looks up a CLI command.
func (c *Catalog) CLIInfo(name string) (SymbolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.cli[name]
	return info, ok
}

// APICount returns the number of known API symbols.
func (c *Catalog) APICount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.api)
}

// CLICount returns the number of known CLI commands.
func (c *Catalog) CLICount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cli)
}

// APISymbols returns every known API symbol name, sorted.
func (c *Catalog) APISymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedNames(c.api)
}

// CLISymbols returns every known CLI command name, sorted.
func (c *Catalog) CLISymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedNames(c.cli)
}

func sortedNames(table map[string]SymbolInfo) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SimilarAPISymbols returns up to n known API symbols closest to name,
// nearest first. Used to build "did you mean" evidence for unknown symbols.
func (c *Catalog) SimilarAPISymbols(name string, n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return similar(name, c.api, n)
}

// SimilarCLICommands returns up to n known CLI commands closest to name.
func (c *Catalog) SimilarCLICommands(name string, n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return similar(name, c.cli, n)
}

func similar(name string, table map[string]SymbolInfo, n int) []string {
	type scored struct {
		name string
		dist int
	}

	var candidates []scored
	for candidate := range table {
		d := levenshtein(strings.ToLower(name), strings.ToLower(candidate))
		// Anything further than half the query length apart is noise.
		if d <= len(name)/2+1 {
			candidates = append(candidates, scored{name: candidate, dist: d})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]string, 0, len(candidates))
	for _, s := range candidates {
		out = append(out, s.name)
	}
	return out
}

// levenshtein computes edit distance with the usual two-row rolling table.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
