// Package refresh implements component C11: the per-source refresh state
// machine (Idle -> Fetching -> Parsing -> Indexing -> Swapping -> Idle, or
// Failed at any stage) and the parallel-across-sources, single-writer-per-
// source orchestration spec.md §4.10/§5 describes. It follows the
// teacher's pkg/core service methods for error wrapping and the
// golang.org/x/sync/errgroup fan-out idiom used throughout this module for
// bounded concurrency.
package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blzsearch/blz/pkg/blz"
	"github.com/blzsearch/blz/pkg/fetch"
	"github.com/blzsearch/blz/pkg/langfilter"
	"github.com/blzsearch/blz/pkg/parser"
)

// State is one state of the per-source refresh state machine.
type State int

const (
	Idle State = iota
	Fetching
	Parsing
	Indexing
	Swapping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Parsing:
		return "parsing"
	case Indexing:
		return "indexing"
	case Swapping:
		return "swapping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Store is the storage-layer capability the refresher needs.
type Store interface {
	Lock(alias string) (func(), error)
	ReadContent(alias string) ([]byte, error)
	WriteContent(alias string, data []byte) error
	ReadMetadata(alias string) (blz.Source, error)
	WriteMetadata(alias string, src blz.Source) error
	WriteTOC(alias string, doc blz.TOCDocument) error
	ArchiveContent(alias string, at time.Time, maxArchives int) (string, error)
	AppendRefreshRecord(alias string, rec blz.RefreshRecord) error
}

// Indexer is the index-layer capability the refresher needs.
type Indexer interface {
	Reindex(ctx context.Context, alias string, blocks []blz.Block) error
}

// StateObserver is notified of a source's refresh state transitions, used
// to drive the refresh_state metric. Nil-safe: pass a no-op observer when
// unused.
type StateObserver interface {
	SetRefreshState(alias string, state int)
}

// noopObserver discards every transition.
type noopObserver struct{}

func (noopObserver) SetRefreshState(string, int) {}

// Result is the outcome of refreshing a single source.
type Result struct {
	Alias        string
	State        State
	NotModified  bool
	LinesAdded   int
	LinesRemoved int
	Err          error
}

// Refresher drives the state machine for one or more sources.
type Refresher struct {
	Store          Store
	Fetcher        fetch.Fetcher
	Indexer        Indexer
	Observer       StateObserver
	MaxArchives    int
	LanguageFilter bool
}

// observer returns a StateObserver that is always safe to call.
func (r *Refresher) observer() StateObserver {
	if r.Observer == nil {
		return noopObserver{}
	}

	return r.Observer
}

// RefreshAll runs One per source in req, bounded by a worker pool sized to
// the CPU count (min 2), per spec.md §5. Cross-source refreshes commit
// independently; one source's failure never blocks or rolls back another's.
func (r *Refresher) RefreshAll(ctx context.Context, aliases []string) []Result {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	results := make([]Result, len(aliases))

	for i, alias := range aliases {
		i, alias := i, alias

		g.Go(func() error {
			results[i] = r.One(gctx, alias)
			return nil
		})
	}

	_ = g.Wait()

	return results
}

// One runs the full state machine for a single source, per spec.md §4.10.
// All transitions for this alias are single-writer, enforced by
// Store.Lock; a concurrent refresh of the same alias fails fast with
// blz.ErrBusy rather than queuing.
func (r *Refresher) One(ctx context.Context, alias string) Result {
	release, err := r.Store.Lock(alias)
	if err != nil {
		return Result{Alias: alias, State: Failed, Err: err}
	}
	defer release()

	r.observer().SetRefreshState(alias, int(Fetching))

	src, err := r.Store.ReadMetadata(alias)
	if err != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: fmt.Errorf("read metadata: %w", err)}
	}

	fetched, err := r.Fetcher.Fetch(ctx, src.URL, src.ETag, src.LastModified)
	if err != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: err}
	}

	if fetched.NotModified {
		src.FetchedAt = time.Now()

		if err := r.Store.WriteMetadata(alias, src); err != nil {
			r.observer().SetRefreshState(alias, int(Failed))
			return Result{Alias: alias, State: Failed, Err: fmt.Errorf("write metadata: %w", err)}
		}

		r.observer().SetRefreshState(alias, int(Idle))

		return Result{Alias: alias, State: Idle, NotModified: true}
	}

	r.observer().SetRefreshState(alias, int(Parsing))

	doc, err := parser.Parse(alias, fetched.Body)
	if err != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: fmt.Errorf("%w", err)}
	}

	summary := langfilter.Apply(doc.Blocks, src.Filters.Language)

	r.observer().SetRefreshState(alias, int(Indexing))

	if err := r.Indexer.Reindex(ctx, alias, summary.Kept); err != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: fmt.Errorf("reindex: %w", err)}
	}

	if ctx.Err() != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: fmt.Errorf("%w: %s", blz.ErrCancelled, ctx.Err())}
	}

	r.observer().SetRefreshState(alias, int(Swapping))

	oldContent, _ := r.Store.ReadContent(alias)
	oldSHA := src.SHA256

	at := time.Now()

	archivedPath, err := r.Store.ArchiveContent(alias, at, r.MaxArchives)
	if err != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: fmt.Errorf("archive content: %w", err)}
	}

	if err := r.Store.WriteContent(alias, fetched.Body); err != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: fmt.Errorf("write content: %w", err)}
	}

	toc := blz.TOCDocument{SchemaVersion: 1, TOC: doc.TOC, Blocks: toIndexEntries(summary.Kept)}
	if err := r.Store.WriteTOC(alias, toc); err != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: fmt.Errorf("write toc: %w", err)}
	}

	newSHA := checksum(fetched.Body)

	src.ETag = fetched.ETag
	src.LastModified = fetched.LastModified
	src.FetchedAt = at
	src.SHA256 = newSHA
	src.ContentType = fetched.ContentType
	src.LineCount = fetched.LineCount
	src.Filters.LinesFiltered = summary.LinesFiltered

	if err := r.Store.WriteMetadata(alias, src); err != nil {
		r.observer().SetRefreshState(alias, int(Failed))
		return Result{Alias: alias, State: Failed, Err: fmt.Errorf("write metadata: %w", err)}
	}

	added, removed := diffLineCounts(oldContent, fetched.Body)

	record := blz.RefreshRecord{
		Timestamp:    at,
		OldSHA:       oldSHA,
		NewSHA:       newSHA,
		LinesAdded:   added,
		LinesRemoved: removed,
		ArchivedPath: archivedPath,
	}

	if err := r.Store.AppendRefreshRecord(alias, record); err != nil {
		// The swap already committed; a log-append failure is recorded but
		// does not roll the source back to Failed.
		r.observer().SetRefreshState(alias, int(Idle))
		return Result{Alias: alias, State: Idle, LinesAdded: added, LinesRemoved: removed, Err: fmt.Errorf("append refresh log: %w", err)}
	}

	r.observer().SetRefreshState(alias, int(Idle))

	return Result{Alias: alias, State: Idle, LinesAdded: added, LinesRemoved: removed}
}

func toIndexEntries(blocks []blz.Block) []blz.BlockIndexEntry {
	entries := make([]blz.BlockIndexEntry, 0, len(blocks))

	for _, b := range blocks {
		entries = append(entries, blz.BlockIndexEntry{
			Anchor:    b.Anchor,
			Path:      b.Path,
			Level:     b.Level,
			Lines:     fmt.Sprintf("%d-%d", b.StartLine, b.EndLine),
			ByteStart: b.ByteStart,
			ByteEnd:   b.ByteEnd,
		})
	}

	return entries
}

func diffLineCounts(oldContent, newContent []byte) (added, removed int) {
	oldLines := countLines(oldContent)
	newLines := countLines(newContent)

	if newLines > oldLines {
		return newLines - oldLines, 0
	}

	return 0, oldLines - newLines
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	n := 0

	for _, b := range data {
		if b == '\n' {
			n++
		}
	}

	if data[len(data)-1] != '\n' {
		n++
	}

	return n
}
