package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blzsearch/blz/pkg/blz"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := Open(filepath.Join(t.TempDir(), "idx"))
	require.NoError(t, err)

	t.Cleanup(func() { e.Close() })

	return e
}

func sampleBlocks(alias string) []blz.Block {
	return []blz.Block{
		{Alias: alias, Path: nil, Level: 0, Anchor: "preamble", StartLine: 1, EndLine: 2, Text: "preamble content up top"},
		{Alias: alias, Path: []string{"Getting Started"}, Level: 1, Anchor: "getting-started", StartLine: 3, EndLine: 10, Text: "Install the client and configure your API key."},
		{Alias: alias, Path: []string{"Getting Started", "Advanced"}, Level: 2, Anchor: "advanced", StartLine: 11, EndLine: 20, Text: "Advanced configuration options for power users."},
	}
}

func TestReindexAndSearch(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Reindex(context.Background(), "docs", sampleBlocks("docs")))

	hits, err := e.Search(context.Background(), Request{Query: "configure", Alias: "docs", Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	for _, h := range hits {
		assert.Equal(t, "docs", h.Alias)
	}
}

func TestReindex_IndexesPreambleBlock(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Reindex(context.Background(), "docs", sampleBlocks("docs")))

	hits, err := e.Search(context.Background(), Request{Query: "preamble", Alias: "docs", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "preamble", hits[0].Anchor)
	assert.Equal(t, 0, hits[0].Level)
}

func TestReindex_BumpsGeneration(t *testing.T) {
	e := openTestEngine(t)

	assert.EqualValues(t, 0, e.Generation("docs"))

	require.NoError(t, e.Reindex(context.Background(), "docs", sampleBlocks("docs")))
	assert.EqualValues(t, 1, e.Generation("docs"))

	require.NoError(t, e.Reindex(context.Background(), "docs", sampleBlocks("docs")))
	assert.EqualValues(t, 2, e.Generation("docs"))
}

func TestReindex_ReplacesPreviousDocuments(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Reindex(context.Background(), "docs", sampleBlocks("docs")))
	require.NoError(t, e.Reindex(context.Background(), "docs", nil))

	hits, err := e.Search(context.Background(), Request{Query: "configure", Alias: "docs", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_LevelFilter(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Reindex(context.Background(), "docs", sampleBlocks("docs")))

	hits, err := e.Search(context.Background(), Request{Query: "configuration", Alias: "docs", Levels: []int{2}, Limit: 10})
	require.NoError(t, err)

	for _, h := range hits {
		assert.Equal(t, 2, h.Level)
	}
}

func TestSearch_AliasIsolation(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Reindex(context.Background(), "docs-a", sampleBlocks("docs-a")))
	require.NoError(t, e.Reindex(context.Background(), "docs-b", sampleBlocks("docs-b")))

	hits, err := e.Search(context.Background(), Request{Query: "configure", Alias: "docs-a", Limit: 10})
	require.NoError(t, err)

	for _, h := range hits {
		assert.Equal(t, "docs-a", h.Alias)
	}
}

func TestSplitQueryTerms(t *testing.T) {
	terms := splitQueryTerms(`hello "exact phrase" world`)
	require.Len(t, terms, 3)
	assert.Equal(t, "hello", terms[0].text)
	assert.False(t, terms[0].phrase)
	assert.Equal(t, "exact phrase", terms[1].text)
	assert.True(t, terms[1].phrase)
	assert.Equal(t, "world", terms[2].text)
}

func TestSplitQueryTerms_Empty(t *testing.T) {
	assert.Empty(t, splitQueryTerms("   "))
}
