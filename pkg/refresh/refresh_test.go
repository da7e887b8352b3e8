package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blzsearch/blz/pkg/blz"
	"github.com/blzsearch/blz/pkg/fetch"
)

type fakeStore struct {
	content     map[string][]byte
	metadata    map[string]blz.Source
	locked      map[string]bool
	lockErr     error
	archiveErr  error
	appendErr   error
	tocWrites   map[string]blz.TOCDocument
	refreshLogs map[string][]blz.RefreshRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		content:     map[string][]byte{},
		metadata:    map[string]blz.Source{},
		locked:      map[string]bool{},
		tocWrites:   map[string]blz.TOCDocument{},
		refreshLogs: map[string][]blz.RefreshRecord{},
	}
}

func (f *fakeStore) Lock(alias string) (func(), error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}

	if f.locked[alias] {
		return nil, blz.ErrBusy
	}

	f.locked[alias] = true

	return func() { f.locked[alias] = false }, nil
}

func (f *fakeStore) ReadContent(alias string) ([]byte, error) { return f.content[alias], nil }
func (f *fakeStore) WriteContent(alias string, data []byte) error {
	f.content[alias] = data
	return nil
}

func (f *fakeStore) ReadMetadata(alias string) (blz.Source, error) {
	src, ok := f.metadata[alias]
	if !ok {
		return blz.Source{}, blz.ErrUnknownAlias
	}

	return src, nil
}

func (f *fakeStore) WriteMetadata(alias string, src blz.Source) error {
	f.metadata[alias] = src
	return nil
}

func (f *fakeStore) WriteTOC(alias string, doc blz.TOCDocument) error {
	f.tocWrites[alias] = doc
	return nil
}

func (f *fakeStore) ArchiveContent(alias string, at time.Time, maxArchives int) (string, error) {
	if f.archiveErr != nil {
		return "", f.archiveErr
	}

	return "archive/" + alias, nil
}

func (f *fakeStore) AppendRefreshRecord(alias string, rec blz.RefreshRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}

	f.refreshLogs[alias] = append(f.refreshLogs[alias], rec)

	return nil
}

type fakeFetcher struct {
	result fetch.Result
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, etag, lastModified string) (fetch.Result, error) {
	return f.result, f.err
}

type fakeIndexer struct {
	reindexed map[string]int
	err       error
}

func (f *fakeIndexer) Reindex(ctx context.Context, alias string, blocks []blz.Block) error {
	if f.err != nil {
		return f.err
	}

	if f.reindexed == nil {
		f.reindexed = map[string]int{}
	}

	f.reindexed[alias] = len(blocks)

	return nil
}

type fakeObserver struct {
	states []int
}

func (f *fakeObserver) SetRefreshState(alias string, state int) {
	f.states = append(f.states, state)
}

func TestOne_FetchesParsesIndexesAndSwaps(t *testing.T) {
	store := newFakeStore()
	store.metadata["docs"] = blz.Source{URL: "https://example.com", SHA256: "old"}
	store.content["docs"] = []byte("old content\n")

	indexer := &fakeIndexer{}
	obs := &fakeObserver{}

	r := &Refresher{
		Store:   store,
		Fetcher: &fakeFetcher{result: fetch.Result{Body: []byte("# Title\n\nBody text.\n"), ETag: `"v2"`}},
		Indexer: indexer,
		Observer: obs,
	}

	res := r.One(context.Background(), "docs")
	require.NoError(t, res.Err)
	assert.Equal(t, Idle, res.State)
	assert.Equal(t, "# Title\n\nBody text.\n", string(store.content["docs"]))
	assert.Equal(t, `"v2"`, store.metadata["docs"].ETag)
	assert.NotEqual(t, "old", store.metadata["docs"].SHA256)
	assert.Len(t, store.refreshLogs["docs"], 1)
	assert.Contains(t, obs.states, int(Fetching))
	assert.Contains(t, obs.states, int(Swapping))
}

func TestOne_NotModifiedSkipsReindex(t *testing.T) {
	store := newFakeStore()
	store.metadata["docs"] = blz.Source{URL: "https://example.com", SHA256: "same"}

	indexer := &fakeIndexer{}

	r := &Refresher{
		Store:   store,
		Fetcher: &fakeFetcher{result: fetch.Result{NotModified: true}},
		Indexer: indexer,
	}

	res := r.One(context.Background(), "docs")
	require.NoError(t, res.Err)
	assert.True(t, res.NotModified)
	assert.Empty(t, indexer.reindexed)
}

func TestOne_LockFailureReturnsFailed(t *testing.T) {
	store := newFakeStore()
	store.lockErr = blz.ErrBusy

	r := &Refresher{Store: store, Fetcher: &fakeFetcher{}, Indexer: &fakeIndexer{}}

	res := r.One(context.Background(), "docs")
	require.Error(t, res.Err)
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, blz.ErrBusy)
}

func TestOne_FetchFailureReturnsFailed(t *testing.T) {
	store := newFakeStore()
	store.metadata["docs"] = blz.Source{URL: "https://example.com"}

	r := &Refresher{
		Store:   store,
		Fetcher: &fakeFetcher{err: errors.New("boom")},
		Indexer: &fakeIndexer{},
	}

	res := r.One(context.Background(), "docs")
	require.Error(t, res.Err)
	assert.Equal(t, Failed, res.State)
}

func TestOne_ReindexFailureReturnsFailed(t *testing.T) {
	store := newFakeStore()
	store.metadata["docs"] = blz.Source{URL: "https://example.com"}

	r := &Refresher{
		Store:   store,
		Fetcher: &fakeFetcher{result: fetch.Result{Body: []byte("# T\n\nbody\n")}},
		Indexer: &fakeIndexer{err: errors.New("index failure")},
	}

	res := r.One(context.Background(), "docs")
	require.Error(t, res.Err)
	assert.Equal(t, Failed, res.State)
}

func TestRefreshAll_RunsEverySourceIndependently(t *testing.T) {
	store := newFakeStore()
	store.metadata["a"] = blz.Source{URL: "https://example.com/a"}
	store.metadata["b"] = blz.Source{URL: "https://example.com/b"}

	r := &Refresher{
		Store:   store,
		Fetcher: &fakeFetcher{result: fetch.Result{NotModified: true}},
		Indexer: &fakeIndexer{},
	}

	results := r.RefreshAll(context.Background(), []string{"a", "b"})
	require.Len(t, results, 2)

	for _, res := range results {
		assert.NoError(t, res.Err)
	}
}

func TestRefreshAll_OneFailureDoesNotBlockOthers(t *testing.T) {
	store := newFakeStore()
	store.metadata["good"] = blz.Source{URL: "https://example.com/good"}

	r := &Refresher{
		Store:   store,
		Fetcher: &fakeFetcher{result: fetch.Result{NotModified: true}},
		Indexer: &fakeIndexer{},
	}

	results := r.RefreshAll(context.Background(), []string{"good", "missing"})
	require.Len(t, results, 2)

	byAlias := map[string]Result{}
	for _, res := range results {
		byAlias[res.Alias] = res
	}

	assert.NoError(t, byAlias["good"].Err)
	assert.Error(t, byAlias["missing"].Err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "fetching", Fetching.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(99).String())
}
