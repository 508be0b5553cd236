package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docsqa/analyze"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureFile_StableID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id1, err := s.EnsureFile(ctx, "docs/quickstart.md")
	require.NoError(t, err)
	id2, err := s.EnsureFile(ctx, "docs/quickstart.md")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := s.EnsureFile(ctx, "docs/other.md")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestRunLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	runID := uuid.NewString()

	require.NoError(t, s.CreateRun(ctx, runID))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	require.NoError(t, s.CompleteRun(ctx, runID, 12, 34))

	run, err = s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, 12, run.FilesAnalyzed)
	assert.Equal(t, 34, run.IssuesFound)
}

func TestFailRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	runID := uuid.NewString()

	require.NoError(t, s.CreateRun(ctx, runID))
	require.NoError(t, s.FailRun(ctx, runID, assert.AnError))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
}

func makeIssue(fileID, runID string) analyze.Issue {
	issue := analyze.NewIssue(fileID, runID, "LINK_404", analyze.SeverityHigh, "Broken link: https://x.test/gone")
	issue.LineStart = 12
	issue.LineEnd = 12
	issue.Description = "https://x.test/gone returned HTTP 404"
	issue.Snippet = "See [the guide](https://x.test/gone) for details."
	status := 404
	issue.Evidence = analyze.Evidence{URL: "https://x.test/gone", StatusCode: &status}
	return issue
}

func TestUpsertIssue_InsertThenRefresh(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	fileID, err := s.EnsureFile(ctx, "docs/a.md")
	require.NoError(t, err)

	run1 := uuid.NewString()
	first := makeIssue(fileID, run1)
	created, err := s.UpsertIssue(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	// Same identity on a later run refreshes rather than duplicates.
	run2 := uuid.NewString()
	second := makeIssue(fileID, run2)
	second.Description = "https://x.test/gone returned HTTP 404 (again)"
	second.Snippet = "See https://x.test/gone instead."
	second.Confidence = 0.8
	second.SuggestedPatch = "--- a/docs/a.md\n+++ b/docs/a.md\n@@ -12 +12 @@\n-old\n+new\n"
	second.CanAutoApply = true
	created, err = s.UpsertIssue(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	issues, err := s.IssuesForFile(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, issues, 1)

	got := issues[0]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, run2, got.RunID)
	assert.Equal(t, second.Description, got.Description)
	assert.Equal(t, second.Snippet, got.Snippet)
	assert.InDelta(t, 0.8, got.Confidence, 0.001)
	assert.Equal(t, second.SuggestedPatch, got.SuggestedPatch)
	assert.True(t, got.CanAutoApply)
	require.NotNil(t, got.Evidence.StatusCode)
	assert.Equal(t, 404, *got.Evidence.StatusCode)
}

func TestUpsertIssue_DistinctIdentitiesCoexist(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	fileID, err := s.EnsureFile(ctx, "docs/a.md")
	require.NoError(t, err)
	runID := uuid.NewString()

	a := makeIssue(fileID, runID)
	b := makeIssue(fileID, runID)
	b.LineStart = 40 // different line, different identity

	created, err := s.UpsertIssue(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.UpsertIssue(ctx, b)
	require.NoError(t, err)
	assert.True(t, created)

	issues, err := s.IssuesForFile(ctx, fileID)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestIssuesSeenInRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	fileID, err := s.EnsureFile(ctx, "docs/a.md")
	require.NoError(t, err)

	run1 := uuid.NewString()
	run2 := uuid.NewString()

	stale := makeIssue(fileID, run1)
	_, err = s.UpsertIssue(ctx, stale)
	require.NoError(t, err)

	fresh := makeIssue(fileID, run2)
	fresh.LineStart = 99
	_, err = s.UpsertIssue(ctx, fresh)
	require.NoError(t, err)

	seen, err := s.IssuesSeenInRun(ctx, run2)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, 99, seen[0].LineStart)
}

func TestFilePathsByID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	idA, err := s.EnsureFile(ctx, "docs/a.md")
	require.NoError(t, err)
	idB, err := s.EnsureFile(ctx, "docs/b.md")
	require.NoError(t, err)

	paths, err := s.FilePathsByID(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		idA: "docs/a.md",
		idB: "docs/b.md",
	}, paths)
}

func TestUpsertIssue_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	fileID, err := s.EnsureFile(ctx, "docs/a.md")
	require.NoError(t, err)
	runID := uuid.NewString()

	for i := 0; i < 3; i++ {
		_, err := s.UpsertIssue(ctx, makeIssue(fileID, runID))
		require.NoError(t, err)
	}

	issues, err := s.IssuesForFile(ctx, fileID)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}
