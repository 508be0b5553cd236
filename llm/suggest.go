package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Suggestion types.
const (
	TypeEdit = "edit"
	TypeFlag = "flag"
)

// Citation types: what kind of source a citation points at.
const (
	CitationFile    = "file"
	CitationCatalog = "catalog"
	CitationFact    = "fact"
)

// Citation names the material the model based a suggestion on: document
// lines, a catalog symbol, or a provided fact. An empty Type means file.
type Citation struct {
	Type      string `json:"type,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
	Quote     string `json:"quote,omitempty"`
}

// Suggestion is one model-proposed improvement to a document chunk. Edits
// carry original and proposed snippets; flags only describe a problem.
type Suggestion struct {
	Type            string     `json:"type"`
	RuleCode        string     `json:"rule_code"`
	Severity        string     `json:"severity"`
	Confidence      float64    `json:"confidence"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	FilePath        string     `json:"file_path"`
	LineStart       int        `json:"line_start"`
	LineEnd         int        `json:"line_end"`
	OriginalSnippet string     `json:"original_snippet,omitempty"`
	ProposedSnippet string     `json:"proposed_snippet,omitempty"`
	Citations       []Citation `json:"citations,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
}

// ChunkRequest is the material the model sees for one chunk.
type ChunkRequest struct {
	// FilePath is the repository-relative path of the chunk's file.
	FilePath string
	// Text is the chunk body with code blocks already masked.
	Text string
	// HeadingContext is the ancestor heading path of the chunk.
	HeadingContext []string
	// LineStart is the chunk's first body line, so the model reports
	// document-absolute line numbers.
	LineStart int
	// Context is supplementary retrieved material: surrounding text,
	// similar chunks, known facts.
	Context string
}

const suggestionSystemPrompt = `You are a documentation reviewer. You receive one chunk of a documentation page plus supporting context, and you respond with improvement suggestions as JSON.

Rules:
- Respond with a JSON object: {"suggestions": [...]}.
- Each suggestion has: type ("edit" or "flag"), rule_code, severity ("high", "medium" or "low"), confidence (0.0-1.0), title, description, line_start, line_end, and for edits original_snippet and proposed_snippet.
- Cite your sources: each suggestion includes citations, a list of {type, file_path, line_start, line_end, quote}. The type is "file" for document lines, "catalog" for a known API or CLI symbol (put the symbol in quote), or "fact" for one of the provided facts.
- Line numbers are absolute within the file; the chunk's first line number is given.
- Code blocks appear masked as [CODE BLOCK: lang]; never propose edits inside them.
- Only suggest changes you are confident improve the page. An empty list is a good answer.`

type suggestionEnvelope struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// GenerateSuggestions asks the model to review one chunk. The returned
// suggestions are normalized (file path filled in, snippets trimmed) but not
// verified; the verifier decides what is safe to surface.
func (c *Client) GenerateSuggestions(ctx context.Context, req ChunkRequest) ([]Suggestion, Usage, error) {
	content, usage, err := c.Complete(ctx, suggestionSystemPrompt, buildChunkPrompt(req))
	if err != nil {
		return nil, usage, err
	}

	var envelope suggestionEnvelope
	payload := extractJSON(content)
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		// Some models return a bare array instead of the envelope.
		if arrErr := json.Unmarshal([]byte(payload), &envelope.Suggestions); arrErr != nil {
			return nil, usage, Transient(fmt.Errorf("parse suggestions: %w", err))
		}
	}

	suggestions := envelope.Suggestions[:0]
	for _, s := range envelope.Suggestions {
		if s.FilePath == "" {
			s.FilePath = req.FilePath
		}
		if s.Type == "" {
			s.Type = TypeFlag
		}
		s.OriginalSnippet = strings.TrimRight(s.OriginalSnippet, "\n")
		s.ProposedSnippet = strings.TrimRight(s.ProposedSnippet, "\n")
		suggestions = append(suggestions, s)
	}

	c.logger.Debug("generated suggestions",
		"file", req.FilePath,
		"count", len(suggestions),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens)

	return suggestions, usage, nil
}

func buildChunkPrompt(req ChunkRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "File: %s\n", req.FilePath)
	if len(req.HeadingContext) > 0 {
		fmt.Fprintf(&b, "Section: %s\n", strings.Join(req.HeadingContext, " > "))
	}
	fmt.Fprintf(&b, "First line number: %d\n\n", req.LineStart)

	fmt.Fprintf(&b, "--- CHUNK ---\n%s\n--- END CHUNK ---\n", req.Text)

	if req.Context != "" {
		fmt.Fprintf(&b, "\n--- CONTEXT ---\n%s\n--- END CONTEXT ---\n", req.Context)
	}

	return b.String()
}
