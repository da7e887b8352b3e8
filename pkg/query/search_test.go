package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blzsearch/blz/pkg/index"
)

type fakeIndex struct {
	byAlias map[string][]index.Hit
	errs    map[string]error
	delay   time.Duration
}

func (f *fakeIndex) Search(ctx context.Context, r index.Request) ([]index.Hit, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := f.errs[r.Alias]; ok {
		return nil, err
	}

	return f.byAlias[r.Alias], nil
}

func TestSearcher_MergesAndRanksAcrossAliases(t *testing.T) {
	idx := &fakeIndex{byAlias: map[string][]index.Hit{
		"a": {{Alias: "a", Score: 1.0, PathJoined: "A", StartLine: 1, EndLine: 2, Body: "hit a"}},
		"b": {{Alias: "b", Score: 5.0, PathJoined: "B", StartLine: 1, EndLine: 2, Body: "hit b"}},
	}}

	s := &Searcher{Index: idx}

	hits, meta, err := s.Search(context.Background(), Request{Query: "q", Aliases: []string{"a", "b"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].Alias)
	assert.Equal(t, "a", hits[1].Alias)
	assert.Equal(t, 2, meta.TotalSources)
	assert.Equal(t, 2, meta.TotalHits)
	assert.False(t, meta.Partial)
}

func TestSearcher_Pagination(t *testing.T) {
	idx := &fakeIndex{byAlias: map[string][]index.Hit{
		"a": {
			{Alias: "a", Score: 3, StartLine: 1, EndLine: 2},
			{Alias: "a", Score: 2, StartLine: 3, EndLine: 4},
			{Alias: "a", Score: 1, StartLine: 5, EndLine: 6},
		},
	}}

	s := &Searcher{Index: idx}

	hits, _, err := s.Search(context.Background(), Request{Query: "q", Aliases: []string{"a"}, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "3-4", hits[0].LineSpan)
}

func TestSearcher_ErrorPropagatesWithoutAllowPartial(t *testing.T) {
	idx := &fakeIndex{errs: map[string]error{"a": errors.New("boom")}}

	s := &Searcher{Index: idx}

	_, _, err := s.Search(context.Background(), Request{Query: "q", Aliases: []string{"a"}, Limit: 10})
	require.Error(t, err)
}

func TestSearcher_PartialOnAllowPartial(t *testing.T) {
	idx := &fakeIndex{
		byAlias: map[string][]index.Hit{"a": {{Alias: "a", Score: 1, StartLine: 1, EndLine: 2}}},
		errs:    map[string]error{"b": errors.New("boom")},
	}

	s := &Searcher{Index: idx}

	hits, meta, err := s.Search(context.Background(), Request{Query: "q", Aliases: []string{"a", "b"}, Limit: 10, AllowPartial: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.True(t, meta.Partial)
}

func TestSearcher_SnippetFallsBackToFirstLinesWithoutFragment(t *testing.T) {
	idx := &fakeIndex{byAlias: map[string][]index.Hit{
		"a": {{Alias: "a", Score: 1, StartLine: 1, EndLine: 5, Body: "one\ntwo\nthree\nfour\nfive"}},
	}}

	s := &Searcher{Index: idx}

	hits, _, err := s.Search(context.Background(), Request{Query: "q", Aliases: []string{"a"}, Limit: 10, SnippetLines: 2})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "one\ntwo", hits[0].Snippet)
}

func TestSearcher_SnippetCentersOnMatchedFragment(t *testing.T) {
	idx := &fakeIndex{byAlias: map[string][]index.Hit{
		"a": {{
			Alias:     "a",
			Score:     1,
			StartLine: 1,
			EndLine:   7,
			Body:      "one\ntwo\nthree\nfour\nfive\nsix\nseven",
			Fragments: []string{"...four..."},
		}},
	}}

	s := &Searcher{Index: idx}

	hits, _, err := s.Search(context.Background(), Request{Query: "four", Aliases: []string{"a"}, Limit: 10, SnippetLines: 3})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "three\nfour\nfive", hits[0].Snippet)
}

func TestSearcher_NoAliasesReturnsEmpty(t *testing.T) {
	s := &Searcher{Index: &fakeIndex{}}

	hits, meta, err := s.Search(context.Background(), Request{Query: "q", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, meta.TotalSources)
}
