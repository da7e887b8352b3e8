package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blzsearch/blz/pkg/blz"
	"github.com/blzsearch/blz/pkg/query"
)

const sampleDoc = "# Getting Started\n\nInstall the client and configure your API key.\n\n## Advanced\n\nAdvanced configuration options for power users.\n"

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleDoc))
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()

	e, err := New(filepath.Join(root, "store"), filepath.Join(root, "index"), Config{
		DefaultLimit: 10,
		SnippetLines: 3,
		MaxArchives:  3,
	}, false)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	return e, srv.URL
}

func TestAdd_CommitsToStorageAndIndex(t *testing.T) {
	e, url := newTestEngine(t)

	src, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, "docs", src.Alias)
	assert.NotEmpty(t, src.SHA256)

	sources, statuses, err := e.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "docs", sources[0].Alias)
	assert.Nil(t, statuses)
}

func TestAdd_DryRunDoesNotCommit(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{DryRun: true})
	require.NoError(t, err)

	sources, _, err := e.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestAdd_RejectsDuplicateAlias(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)

	_, err = e.Add(context.Background(), "docs", url, AddOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrDuplicateAlias)
}

func TestAdd_RejectsInvalidURL(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", "not-a-url", AddOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrInvalidURL)
}

func TestRemove_ArchivesAndPurgesIndex(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)

	path, err := e.Remove(context.Background(), "docs")
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	_, err = e.Info("docs")
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrUnknownAlias)
}

func TestRemove_UnknownAlias(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Remove(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrUnknownAlias)
}

func TestSearch_FindsIndexedContent(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)

	hits, meta, err := e.Search(context.Background(), "configure", SearchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
	assert.Equal(t, 1, meta.TotalSources)
}

func TestSearch_UnknownAliasErrors(t *testing.T) {
	e, _ := newTestEngine(t)

	_, _, err := e.Search(context.Background(), "q", SearchOptions{Aliases: []string{"missing"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrUnknownAlias)
}

func TestGet_RetrievesByBareAlias(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)

	target, ok := query.ParseTarget("docs")
	require.True(t, ok)

	results, err := e.Get(context.Background(), []query.Target{target}, query.RetrieveOptions{Context: "none"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}

func TestTOC_ReturnsTreeAndRespectsMaxDepth(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)

	full, err := e.TOC("docs", TOCOptions{})
	require.NoError(t, err)
	require.Len(t, full.Children, 1)
	assert.Len(t, full.Children[0].Children, 1)

	truncated, err := e.TOC("docs", TOCOptions{MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, truncated.Children, 1)
	assert.Empty(t, truncated.Children[0].Children)
}

func TestTOC_UnknownAlias(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.TOC("missing", TOCOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrUnknownAlias)
}

func TestInfo_ReturnsMetadata(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)

	src, err := e.Info("docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", src.Alias)
	assert.Positive(t, src.SizeBytes)
	assert.EqualValues(t, 1, src.IndexGeneration)
}

func TestList_ProbeReportsReachabilityAndChange(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)

	_, statuses, err := e.List(context.Background(), ListOptions{Probe: true})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "docs", statuses[0].Alias)
	assert.True(t, statuses[0].Reachable)
	assert.True(t, statuses[0].RemoteChanged)
}

func TestPrune_UnknownAlias(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.Prune("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrUnknownAlias)
}

func TestRefresh_RunsOverAllKnownSourcesWhenNoneGiven(t *testing.T) {
	e, url := newTestEngine(t)

	_, err := e.Add(context.Background(), "docs", url, AddOptions{})
	require.NoError(t, err)

	results, err := e.Refresh(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docs", results[0].Alias)
}

func TestMetricsHandler_NilWhenDisabled(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Nil(t, e.MetricsHandler())
}
