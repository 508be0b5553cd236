// Package retrieval assembles the supporting context the model sees when
// reviewing a chunk: surrounding text from the same document, similar
// passages from the rest of the corpus, and any known facts.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/document/chunker"
)

// Retriever indexes chunks and serves similarity queries.
type Retriever interface {
	// AddChunks indexes chunks for later retrieval.
	AddChunks(ctx context.Context, chunks []chunker.Chunk) error
	// QuerySimilar returns up to k indexed chunks most similar to text,
	// most similar first.
	QuerySimilar(ctx context.Context, text string, k int) ([]chunker.Chunk, error)
}

// Noop is a Retriever that indexes nothing and finds nothing. Used when
// cross-document retrieval is disabled.
type Noop struct{}

func (Noop) AddChunks(ctx context.Context, chunks []chunker.Chunk) error {
	return nil
}

func (Noop) QuerySimilar(ctx context.Context, text string, k int) ([]chunker.Chunk, error) {
	return nil, nil
}

// Lexical is an in-memory Retriever scoring by cosine similarity over
// term-frequency vectors. It has no persistence and rebuilds per run, which
// matches the pipeline's run-scoped lifetime.
type Lexical struct {
	mu     sync.RWMutex
	chunks []indexed
}

type indexed struct {
	chunk chunker.Chunk
	terms map[string]float64
	norm  float64
}

// NewLexical creates an empty lexical retriever.
func NewLexical() *Lexical {
	return &Lexical{}
}

func (l *Lexical) AddChunks(ctx context.Context, chunks []chunker.Chunk) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range chunks {
		terms := termFrequencies(c.Text)
		l.chunks = append(l.chunks, indexed{
			chunk: c,
			terms: terms,
			norm:  vectorNorm(terms),
		})
	}
	return nil
}

func (l *Lexical) QuerySimilar(ctx context.Context, text string, k int) ([]chunker.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}

	query := termFrequencies(text)
	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	type scored struct {
		chunk chunker.Chunk
		score float64
	}

	l.mu.RLock()
	candidates := make([]scored, 0, len(l.chunks))
	for _, ix := range l.chunks {
		if ix.norm == 0 {
			continue
		}
		var dot float64
		for term, w := range query {
			dot += w * ix.terms[term]
		}
		if dot == 0 {
			continue
		}
		candidates = append(candidates, scored{chunk: ix.chunk, score: dot / (queryNorm * ix.norm)})
	}
	l.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]chunker.Chunk, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.chunk)
	}
	return out, nil
}

func termFrequencies(text string) map[string]float64 {
	terms := make(map[string]float64)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		term := strings.Trim(field, ".,;:!?()[]{}\"'`")
		if len(term) < 2 {
			continue
		}
		terms[term]++
	}
	return terms
}

func vectorNorm(terms map[string]float64) float64 {
	var sum float64
	for _, w := range terms {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// ContextBuilder assembles the context bundle for one chunk.
type ContextBuilder struct {
	retriever    Retriever
	contextLines int
	kNeighbors   int
}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder(retriever Retriever, contextLines, kNeighbors int) *ContextBuilder {
	if retriever == nil {
		retriever = Noop{}
	}
	return &ContextBuilder{
		retriever:    retriever,
		contextLines: contextLines,
		kNeighbors:   kNeighbors,
	}
}

// Build returns the context string for one chunk: a surrounding-text window
// from the same document, similar passages from other files, and the given
// facts. Retrieval failures degrade to a smaller bundle rather than failing
// the chunk.
func (b *ContextBuilder) Build(ctx context.Context, doc *document.Document, chunk chunker.Chunk, facts []string) string {
	var sections []string

	if b.contextLines > 0 {
		mid := (chunk.LineStart + chunk.LineEnd) / 2
		window := doc.LineContext(mid, b.contextLines)
		if window != "" && window != chunk.Text {
			sections = append(sections, "Surrounding text:\n"+window)
		}
	}

	if b.kNeighbors > 0 {
		similar, err := b.retriever.QuerySimilar(ctx, chunk.Text, b.kNeighbors+1)
		if err == nil {
			var passages []string
			for _, s := range similar {
				if s.ID == chunk.ID {
					continue
				}
				passages = append(passages, "From "+s.FilePath+":\n"+s.Text)
				if len(passages) == b.kNeighbors {
					break
				}
			}
			if len(passages) > 0 {
				sections = append(sections, "Similar passages:\n"+strings.Join(passages, "\n---\n"))
			}
		}
	}

	if len(facts) > 0 {
		var b strings.Builder
		b.WriteString("Known facts:\n")
		for _, f := range facts {
			b.WriteString("- " + f + "\n")
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	return strings.Join(sections, "\n\n")
}
