package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docsqa/document"
	"github.com/c360studio/docsqa/document/chunker"
)

func TestLexical_QuerySimilar(t *testing.T) {
	r := NewLexical()

	require.NoError(t, r.AddChunks(context.Background(), []chunker.Chunk{
		{ID: "a", FilePath: "auth.md", Text: "configure api keys and authentication tokens for access"},
		{ID: "b", FilePath: "metrics.md", Text: "log metrics and charts during training runs"},
		{ID: "c", FilePath: "keys.md", Text: "rotate api keys regularly and revoke stale tokens"},
	}))

	got, err := r.QuerySimilar(context.Background(), "how to manage api keys and tokens", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []string{got[0].ID, got[1].ID}
	assert.Contains(t, ids, "a")
	assert.Contains(t, ids, "c")
}

func TestLexical_EmptyQuery(t *testing.T) {
	r := NewLexical()
	got, err := r.QuerySimilar(context.Background(), "", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLexical_NoOverlap(t *testing.T) {
	r := NewLexical()
	require.NoError(t, r.AddChunks(context.Background(), []chunker.Chunk{
		{ID: "a", Text: "completely unrelated content"},
	}))

	got, err := r.QuerySimilar(context.Background(), "zzz qqq xxx", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNoop(t *testing.T) {
	var r Retriever = Noop{}
	require.NoError(t, r.AddChunks(context.Background(), nil))
	got, err := r.QuerySimilar(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestContextBuilder_Build(t *testing.T) {
	raw := "# Guide\n\nline three\nline four\nline five\nline six\nline seven\n"
	doc := document.Parse("guide.md", raw)

	r := NewLexical()
	require.NoError(t, r.AddChunks(context.Background(), []chunker.Chunk{
		{ID: "guide.md_chunk_0", FilePath: "guide.md", Text: "line three line four"},
		{ID: "other.md_chunk_0", FilePath: "other.md", Text: "line three appears here too"},
	}))

	b := NewContextBuilder(r, 2, 3)
	chunk := chunker.Chunk{ID: "guide.md_chunk_0", FilePath: "guide.md", Text: "line three line four", LineStart: 3, LineEnd: 4}

	got := b.Build(context.Background(), doc, chunk, []string{"latest wandb release is 0.17.0"})

	assert.Contains(t, got, "Surrounding text:")
	assert.Contains(t, got, "Similar passages:")
	assert.Contains(t, got, "From other.md:")
	// The chunk itself never appears as its own neighbor.
	assert.Equal(t, 1, strings.Count(got, "From "))
	assert.Contains(t, got, "Known facts:")
	assert.Contains(t, got, "- latest wandb release is 0.17.0")
}

func TestContextBuilder_NoopRetrieverStillBuilds(t *testing.T) {
	doc := document.Parse("a.md", "one\ntwo\nthree\n")
	b := NewContextBuilder(nil, 1, 5)
	chunk := chunker.Chunk{ID: "a.md_chunk_0", Text: "two", LineStart: 2, LineEnd: 2}

	got := b.Build(context.Background(), doc, chunk, nil)
	assert.Contains(t, got, "Surrounding text:")
	assert.NotContains(t, got, "Similar passages:")
}
