// Package chunker splits parsed documents into token-bounded chunks for LLM
// analysis, preferring heading boundaries and falling back to greedy line
// splits with a small overlap.
package chunker

import (
	"fmt"
	"strings"

	"github.com/c360studio/docsqa/document"
)

// charsPerToken is the character-to-token estimation ratio. Coarse, but
// consistent with the budgets this package is configured with.
const charsPerToken = 4

// overlapLineTokens approximates the token cost of one carried-over line when
// converting the overlap budget into a line count.
const overlapLineTokens = 50

// Config controls chunk sizing.
type Config struct {
	// MaxTokens is the per-chunk token budget.
	MaxTokens int
	// OverlapTokens is the approximate token overlap carried across forced
	// splits inside one section.
	OverlapTokens int
}

// DefaultConfig returns the standard chunking configuration.
func DefaultConfig() Config {
	return Config{MaxTokens: 2000, OverlapTokens: 200}
}

// Chunk is a contiguous slice of a document body.
type Chunk struct {
	// ID is stable per file and position: "<filepath>_chunk_<n>".
	ID       string
	FilePath string
	Text     string
	// LineStart and LineEnd are 1-indexed inclusive body line positions.
	LineStart int
	LineEnd   int
	// HeadingContext is the ancestor heading path at the chunk start.
	HeadingContext []string
	// TokenEstimate is the estimated token count of Text.
	TokenEstimate int
}

// EstimateTokens estimates the token count of text.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// Chunker splits documents according to its configuration.
type Chunker struct {
	config Config
}

// New creates a Chunker. Zero or negative MaxTokens falls back to the default
// budget.
func New(config Config) *Chunker {
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultConfig().MaxTokens
	}
	if config.OverlapTokens < 0 {
		config.OverlapTokens = 0
	}
	return &Chunker{config: config}
}

// Split chunks a document. Every document yields at least one chunk, so a
// file is never silently dropped from analysis.
func (c *Chunker) Split(doc *document.Document) []Chunk {
	lines := doc.Lines()

	if EstimateTokens(doc.Body) <= c.config.MaxTokens {
		return []Chunk{c.makeChunk(doc, 0, doc.Body, 1, len(lines))}
	}

	var chunks []Chunk
	for _, sec := range sections(doc, lines) {
		text := strings.Join(lines[sec.start-1:sec.end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}

		if EstimateTokens(text) <= c.config.MaxTokens {
			chunks = append(chunks, c.makeChunk(doc, len(chunks), text, sec.start, sec.end))
			continue
		}

		chunks = c.splitSection(doc, chunks, lines, sec)
	}

	if len(chunks) == 0 {
		chunks = append(chunks, c.makeChunk(doc, 0, doc.Body, 1, len(lines)))
	}
	return chunks
}

type section struct {
	start, end int // 1-indexed inclusive
}

// sections partitions the body at heading lines. Content before the first
// heading forms its own section.
func sections(doc *document.Document, lines []string) []section {
	var bounds []int
	for _, h := range doc.Headings {
		bounds = append(bounds, h.LineStart)
	}

	var secs []section
	start := 1
	for _, b := range bounds {
		if b > start {
			secs = append(secs, section{start: start, end: b - 1})
		}
		start = b
	}
	secs = append(secs, section{start: start, end: len(lines)})
	return secs
}

// splitSection greedily packs lines of an oversized section into chunks,
// carrying a small line overlap into each forced split so sentences cut at a
// boundary stay visible to both sides.
func (c *Chunker) splitSection(doc *document.Document, chunks []Chunk, lines []string, sec section) []Chunk {
	overlapLines := c.config.OverlapTokens / overlapLineTokens

	var buf []string
	bufStart := sec.start
	bufTokens := 0

	flush := func(end int) {
		text := strings.Join(buf, "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, c.makeChunk(doc, len(chunks), text, bufStart, end))
		}
	}

	for i := sec.start; i <= sec.end; i++ {
		line := lines[i-1]
		lineTokens := EstimateTokens(line) + 1

		if len(buf) > 0 && bufTokens+lineTokens > c.config.MaxTokens {
			flush(i - 1)

			keep := overlapLines
			if keep > len(buf) {
				keep = len(buf)
			}
			buf = append([]string(nil), buf[len(buf)-keep:]...)
			bufStart = i - keep
			bufTokens = 0
			for _, l := range buf {
				bufTokens += EstimateTokens(l) + 1
			}
		}

		buf = append(buf, line)
		bufTokens += lineTokens
	}

	if len(buf) > 0 {
		flush(sec.end)
	}
	return chunks
}

func (c *Chunker) makeChunk(doc *document.Document, index int, text string, start, end int) Chunk {
	return Chunk{
		ID:             fmt.Sprintf("%s_chunk_%d", doc.FilePath, index),
		FilePath:       doc.FilePath,
		Text:           text,
		LineStart:      start,
		LineEnd:        end,
		HeadingContext: doc.HeadingContext(start),
		TokenEstimate:  EstimateTokens(text),
	}
}
