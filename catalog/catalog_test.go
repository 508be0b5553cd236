package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogs(t *testing.T, dir, api, cli string) {
	t.Helper()
	if api != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "api.json"), []byte(api), 0644))
	}
	if cli != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cli.json"), []byte(cli), 0644))
	}
}

const apiJSON = `{
  "namespace": "wandb",
  "symbols": [
    {"name": "wandb.init", "summary": "Start a run"},
    {"name": "wandb.log", "summary": "Log metrics"},
    {"name": "wandb.login"},
    {"name": "wandb.join", "deprecated": true, "deprecated_since": "0.10.0", "replacement": "wandb.finish", "reason": "runs now finish explicitly"}
  ]
}`

const cliJSON = `{
  "namespace": "wandb",
  "symbols": [
    {"name": "wandb login"},
    {"name": "wandb sync"},
    {"name": "wandb pull", "deprecated": true, "replacement": "wandb artifact get"}
  ]
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeCatalogs(t, dir, apiJSON, cliJSON)

	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 4, c.APICount())
	assert.Equal(t, 3, c.CLICount())

	info, ok := c.APIInfo("wandb.init")
	require.True(t, ok)
	assert.Equal(t, "Start a run", info.Summary)
	assert.False(t, info.Deprecated)

	info, ok = c.APIInfo("wandb.join")
	require.True(t, ok)
	assert.True(t, info.Deprecated)
	assert.Equal(t, "wandb.finish", info.Replacement)
	assert.Equal(t, "0.10.0", info.DeprecatedSince)
	assert.Equal(t, "runs now finish explicitly", info.Reason)

	_, ok = c.APIInfo("wandb.nonsense")
	assert.False(t, ok)

	info, ok = c.CLIInfo("wandb pull")
	require.True(t, ok)
	assert.True(t, info.Deprecated)
}

func TestLoad_MissingFilesGiveEmptyTables(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, c.APICount())
	assert.Equal(t, 0, c.CLICount())
}

func TestLoad_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	writeCatalogs(t, dir, "{not json", "")

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestSymbolListings(t *testing.T) {
	dir := t.TempDir()
	writeCatalogs(t, dir, apiJSON, cliJSON)
	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"wandb.init", "wandb.join", "wandb.log", "wandb.login"}, c.APISymbols())
	assert.Equal(t, []string{"wandb login", "wandb pull", "wandb sync"}, c.CLISymbols())
}

func TestSimilarAPISymbols(t *testing.T) {
	dir := t.TempDir()
	writeCatalogs(t, dir, apiJSON, cliJSON)
	c, err := Load(dir)
	require.NoError(t, err)

	// A one-character typo ranks the intended symbol first.
	got := c.SimilarAPISymbols("wandb.initt", 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "wandb.init", got[0])

	// Nothing remotely close comes back for garbage.
	assert.Empty(t, c.SimilarAPISymbols("zzz.qqq", 3))
}

func TestSimilarCLICommands(t *testing.T) {
	dir := t.TempDir()
	writeCatalogs(t, dir, apiJSON, cliJSON)
	c, err := Load(dir)
	require.NoError(t, err)

	got := c.SimilarCLICommands("wandb logn", 2)
	require.NotEmpty(t, got)
	assert.Equal(t, "wandb login", got[0])
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("wandb.init", "wandb.initt"))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeCatalogs(t, dir, apiJSON, cliJSON)

	c, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 4, c.APICount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Watch(ctx)
	}()

	// Give the watcher time to register before mutating the directory.
	time.Sleep(100 * time.Millisecond)

	updated := `{"namespace": "wandb", "symbols": [{"name": "wandb.init"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.json"), []byte(updated), 0644))

	require.Eventually(t, func() bool {
		return c.APICount() == 1
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	<-done
}
