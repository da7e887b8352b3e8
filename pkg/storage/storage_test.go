package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blzsearch/blz/pkg/blz"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	return s
}

func TestWriteReadContent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteContent("docs", []byte("# Hello\n")))

	data, err := s.ReadContent("docs")
	require.NoError(t, err)
	assert.Equal(t, "# Hello\n", string(data))
}

func TestWriteReadMetadata(t *testing.T) {
	s := newTestStore(t)

	src := blz.Source{
		URL:           "https://example.com/llms.txt",
		SHA256:        "abc123",
		ContentType:   blz.ContentTypeFull,
		LineCount:     42,
		SchemaVersion: 1,
		FetchedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, s.WriteMetadata("docs", src))

	got, err := s.ReadMetadata("docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", got.Alias)
	assert.Equal(t, src.URL, got.URL)
	assert.Equal(t, src.SHA256, got.SHA256)
}

func TestWriteReadTOC(t *testing.T) {
	s := newTestStore(t)

	doc := blz.TOCDocument{
		SchemaVersion: 1,
		TOC:           &blz.TOCNode{PathSegment: "root"},
		Blocks:        []blz.BlockIndexEntry{{Anchor: "intro", Path: []string{"Intro"}, Level: 1, Lines: "1-5"}},
	}

	require.NoError(t, s.WriteTOC("docs", doc))

	got, err := s.ReadTOC("docs")
	require.NoError(t, err)
	assert.Equal(t, doc.Blocks, got.Blocks)
}

func TestLock_ExclusiveAmongInstances(t *testing.T) {
	s := newTestStore(t)

	release, err := s.Lock("docs")
	require.NoError(t, err)
	defer release()

	_, err = s.Lock("docs")
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrBusy)
}

func TestLock_ReleaseAllowsReacquire(t *testing.T) {
	s := newTestStore(t)

	release, err := s.Lock("docs")
	require.NoError(t, err)

	release()

	release2, err := s.Lock("docs")
	require.NoError(t, err)
	release2()
}

func TestValidateAlias_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Lock("../escape")
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrInvalidCitation)

	_, err = s.Lock("a/b")
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrInvalidCitation)
}

func TestArchiveContent_NoExistingContentIsNoop(t *testing.T) {
	s := newTestStore(t)

	path, err := s.ArchiveContent("docs", time.Now(), DefaultMaxArchives)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestArchiveContent_ArchivesAndPrunes(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteContent("docs", []byte("v1")))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var firstPath, lastPath string

	for i := 0; i < 3; i++ {
		p, err := s.ArchiveContent("docs", base.Add(time.Duration(i)*time.Hour), 2)
		require.NoError(t, err)
		require.NotEmpty(t, p)

		if i == 0 {
			firstPath = p
		}

		lastPath = p
	}

	assert.FileExists(t, lastPath)
	// With at most 2 snapshots kept, the oldest one is pruned.
	assert.NoFileExists(t, firstPath)
}

func TestRemoveSource(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteMetadata("docs", blz.Source{URL: "https://example.com"}))

	dest, err := s.RemoveSource("docs", time.Now())
	require.NoError(t, err)
	assert.DirExists(t, dest)
	assert.False(t, s.Exists("docs"))
}

func TestRemoveSource_UnknownAlias(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RemoveSource("missing", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, blz.ErrUnknownAlias)
}

func TestListAliases_OnlyCompleteSources(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteMetadata("zebra", blz.Source{URL: "https://example.com/z"}))
	require.NoError(t, s.WriteMetadata("alpha", blz.Source{URL: "https://example.com/a"}))
	require.NoError(t, s.WriteContent("incomplete", []byte("no metadata yet")))

	aliases, err := s.ListAliases()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zebra"}, aliases)
}

func TestAppendAndReadRefreshLog(t *testing.T) {
	s := newTestStore(t)

	rec1 := blz.RefreshRecord{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), NewSHA: "a"}
	rec2 := blz.RefreshRecord{Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), NewSHA: "b"}

	require.NoError(t, s.AppendRefreshRecord("docs", rec1))
	require.NoError(t, s.AppendRefreshRecord("docs", rec2))

	records, err := s.ReadRefreshLog("docs")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].NewSHA)
	assert.Equal(t, "b", records[1].NewSHA)
}

func TestReadRefreshLog_MissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	records, err := s.ReadRefreshLog("docs")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSwapIndexDir(t *testing.T) {
	s := newTestStore(t)

	staging, err := s.StageIndexDir("docs")
	require.NoError(t, err)
	assert.DirExists(t, staging)

	require.NoError(t, s.SwapIndexDir("docs", staging))
	assert.DirExists(t, s.IndexDir("docs"))
}
