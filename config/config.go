// Package config provides configuration loading and management for docsqa.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete docsqa configuration.
type Config struct {
	Repo        RepoConfig        `yaml:"repo"`
	Paths       PathsConfig       `yaml:"paths"`
	Links       LinksConfig       `yaml:"links"`
	Versions    VersionsConfig    `yaml:"versions"`
	Style       StyleConfig       `yaml:"style"`
	Terminology TerminologyConfig `yaml:"terminology"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	LLM         LLMConfig         `yaml:"llm"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Guardrails  GuardrailsConfig  `yaml:"guardrails"`
	Catalogs    CatalogsConfig    `yaml:"catalogs"`
	DB          DBConfig          `yaml:"db"`
}

// RepoConfig identifies the documentation repository under analysis.
type RepoConfig struct {
	// Path is the local checkout root of the documentation repository.
	Path string `yaml:"path"`
	// BaseURL resolves relative links (e.g. "https://docs.example.com").
	BaseURL string `yaml:"base_url"`
}

// PathsConfig selects which files in the repository are analyzed.
type PathsConfig struct {
	// Include is a list of doublestar glob patterns to analyze.
	Include []string `yaml:"include"`
	// Exclude patterns take precedence over Include.
	Exclude []string `yaml:"exclude"`
}

// LinksConfig configures the link checker.
type LinksConfig struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout"`
	// Concurrency bounds in-flight link checks.
	Concurrency int `yaml:"concurrency"`
	// PerHostLimit caps simultaneous connections to one host.
	PerHostLimit int `yaml:"per_host_limit"`
}

// VersionsConfig configures version drift detection.
type VersionsConfig struct {
	// Package is the tracked package name (e.g. "wandb").
	Package string `yaml:"package"`
	// AllowMajorsBehind is how many major versions documentation may lag.
	AllowMajorsBehind int `yaml:"allow_majors_behind"`
	// AllowMinorsBehind is how many minor versions documentation may lag.
	AllowMinorsBehind int `yaml:"allow_minors_behind"`
}

// StyleConfig configures the style analyzer.
type StyleConfig struct {
	RequireOneH1  bool `yaml:"require_one_h1"`
	RequireImgAlt bool `yaml:"require_img_alt"`
}

// TerminologyConfig lists canonical terms.
// Each entry is "Canonical|variant1|variant2"; the first segment is the
// canonical form and the rest are flagged variants.
type TerminologyConfig struct {
	Canonical []string `yaml:"canonical"`
}

// ChunkingConfig configures document chunking for LLM analysis.
type ChunkingConfig struct {
	// MaxTokens is the chunk token budget.
	MaxTokens int `yaml:"max_tokens"`
	// OverlapTokens is the approximate overlap carried across forced splits.
	OverlapTokens int `yaml:"overlap_tokens"`
}

// LLMConfig configures the suggestion generator.
type LLMConfig struct {
	// Enabled turns LLM analysis on or off for a run.
	Enabled bool `yaml:"enabled"`
	// Endpoint is an OpenAI-compatible chat completions base URL.
	Endpoint string `yaml:"endpoint"`
	// Model is the model identifier sent to the endpoint.
	Model string `yaml:"model"`
	// APIKey authenticates against the endpoint. Usually set via env.
	APIKey string `yaml:"api_key"`
	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `yaml:"temperature"`
	// MaxOutputTokens limits response length.
	MaxOutputTokens int `yaml:"max_output_tokens"`
	// Timeout is the maximum time to wait for a completion.
	Timeout time.Duration `yaml:"timeout"`
}

// RetrievalConfig configures similar-chunk retrieval for LLM context.
type RetrievalConfig struct {
	// KNeighbors is the number of similar chunks retrieved per query.
	KNeighbors int `yaml:"k_neighbors"`
	// ContextLines is the surrounding-text window size in lines.
	ContextLines int `yaml:"context_lines"`
}

// GuardrailsConfig configures the suggestion verifier.
type GuardrailsConfig struct {
	RequireCitations        bool `yaml:"require_citations"`
	AllowCodeEdits          bool `yaml:"allow_code_edits"`
	MaxWhitespaceDeltaLines int  `yaml:"max_whitespace_delta_lines"`
}

// CatalogsConfig locates the API/CLI reference catalogs.
type CatalogsConfig struct {
	// Dir contains api.json and cli.json.
	Dir string `yaml:"dir"`
	// Namespace is the product namespace scanned for in code (e.g. "wandb").
	Namespace string `yaml:"namespace"`
}

// DBConfig configures issue persistence.
type DBConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Include: []string{"**/*.md", "**/*.mdx"},
		},
		Links: LinksConfig{
			Timeout:      4 * time.Second,
			Concurrency:  8,
			PerHostLimit: 2,
		},
		Versions: VersionsConfig{
			Package:           "wandb",
			AllowMajorsBehind: 0,
			AllowMinorsBehind: 1,
		},
		Style: StyleConfig{
			RequireOneH1:  true,
			RequireImgAlt: true,
		},
		Chunking: ChunkingConfig{
			MaxTokens:     2000,
			OverlapTokens: 200,
		},
		LLM: LLMConfig{
			Enabled:         false,
			Endpoint:        "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			Temperature:     0.1,
			MaxOutputTokens: 1200,
			Timeout:         60 * time.Second,
		},
		Retrieval: RetrievalConfig{
			KNeighbors:   5,
			ContextLines: 150,
		},
		Guardrails: GuardrailsConfig{
			RequireCitations:        true,
			AllowCodeEdits:          false,
			MaxWhitespaceDeltaLines: 3,
		},
		Catalogs: CatalogsConfig{
			Dir:       "configs/catalogs",
			Namespace: "wandb",
		},
		DB: DBConfig{
			Path: "docsqa.db",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Repo.Path == "" {
		return fmt.Errorf("repo.path is required")
	}
	if c.Links.Concurrency <= 0 {
		return fmt.Errorf("links.concurrency must be positive")
	}
	if c.Links.PerHostLimit <= 0 {
		return fmt.Errorf("links.per_host_limit must be positive")
	}
	if c.Versions.Package == "" {
		return fmt.Errorf("versions.package is required")
	}
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive")
	}
	if c.Chunking.OverlapTokens < 0 {
		return fmt.Errorf("chunking.overlap_tokens must not be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.Guardrails.MaxWhitespaceDeltaLines < 0 {
		return fmt.Errorf("guardrails.max_whitespace_delta_lines must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, applying defaults for
// any omitted fields and environment overrides for sensitive values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	config.applyEnvOverrides()
	return config, nil
}

// applyEnvOverrides lets environment variables take precedence over file
// values for deployment-sensitive settings.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCSQA_DB_PATH"); v != "" {
		c.DB.Path = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DOCSQA_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
}

// SaveToFile writes the configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
