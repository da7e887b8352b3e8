// Package engine is the top-level facade wiring storage, fetch, parse,
// language filter, index, cache, query and refresh into the command
// surface spec.md §6 describes (add, remove, list, refresh, search, get,
// toc, info). It plays the role the teacher's pkg/core.Service plays for
// omnidex: the one type a CLI or server collaborator talks to, with New
// constructing and wiring every lower-level component.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blzsearch/blz/pkg/blz"
	"github.com/blzsearch/blz/pkg/cache"
	"github.com/blzsearch/blz/pkg/fetch"
	"github.com/blzsearch/blz/pkg/index"
	"github.com/blzsearch/blz/pkg/langfilter"
	"github.com/blzsearch/blz/pkg/metrics"
	"github.com/blzsearch/blz/pkg/parser"
	"github.com/blzsearch/blz/pkg/query"
	"github.com/blzsearch/blz/pkg/refresh"
	"github.com/blzsearch/blz/pkg/storage"
)

// Config holds the operator-tunable defaults threaded through every
// engine operation, sourced from CLI flags/environment variables per
// spec.md §6.
type Config struct {
	DefaultLimit   int
	LanguageFilter bool
	SnippetLines   int
	ScorePrecision int
	MaxArchives    int
	CacheEnabled   bool
}

// Engine is the wired facade. Construct with New; every exported method
// is safe to call concurrently.
type Engine struct {
	cfg Config

	store *storage.Store
	idx   *index.Engine
	cache *cache.Cache
	m     *metrics.Metrics

	fetcher   fetch.Fetcher
	searcher  *query.Searcher
	refresher *refresh.Refresher
}

// New wires every component together, rooted at a storage directory and a
// bleve index directory.
func New(root, indexPath string, cfg Config, enableMetrics bool) (*Engine, error) {
	store, err := storage.New(root)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	idx, err := index.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	m := metrics.New(enableMetrics)

	// m is a *metrics.Metrics; assigning it straight into an interface-typed
	// field when nil would produce a non-nil interface wrapping a nil
	// pointer, defeating cache.Cache's "recorder == nil" check. Only assign
	// when metrics are actually enabled.
	var rec cache.Recorder
	if m != nil {
		rec = m
	}

	c, err := cache.New(rec)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	fetcher := fetch.NewHTTPFetcher()

	var observer refresh.StateObserver
	if m != nil {
		observer = m
	}

	refresher := &refresh.Refresher{
		Store:          store,
		Fetcher:        fetcher,
		Indexer:        idx,
		Observer:       observer,
		MaxArchives:    cfg.MaxArchives,
		LanguageFilter: cfg.LanguageFilter,
	}

	return &Engine{
		cfg:       cfg,
		store:     store,
		idx:       idx,
		cache:     c,
		m:         m,
		fetcher:   fetcher,
		searcher:  &query.Searcher{Index: idx},
		refresher: refresher,
	}, nil
}

// Close releases the underlying index handle.
func (e *Engine) Close() error {
	return e.idx.Close()
}

// MetricsHandler exposes the Prometheus scrape endpoint, nil when metrics
// are disabled.
func (e *Engine) MetricsHandler() http.Handler {
	if e.m == nil {
		return nil
	}

	return e.m.Handler()
}

// AddOptions configures Add, per spec.md §6's add(alias, url, opts).
type AddOptions struct {
	Language bool
	Tags     []string
	DryRun   bool
}

// Add fetches a new source, parses and filters it, and — unless DryRun is
// set — commits it to storage and the index. A DryRun call returns the
// Source analysis report it would have written and writes no content, TOC,
// metadata or index entries; taking the per-source lock still creates the
// source directory and its lock file.
func (e *Engine) Add(ctx context.Context, alias, url string, opts AddOptions) (blz.Source, error) {
	if alias == "" || strings.ContainsAny(alias, "/\\") {
		return blz.Source{}, fmt.Errorf("%w: %q", blz.ErrInvalidCitation, alias)
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return blz.Source{}, fmt.Errorf("%w: %s", blz.ErrInvalidURL, url)
	}

	if e.store.Exists(alias) {
		return blz.Source{}, fmt.Errorf("%w: %s", blz.ErrDuplicateAlias, alias)
	}

	release, err := e.store.Lock(alias)
	if err != nil {
		return blz.Source{}, err
	}
	defer release()

	fetched, err := e.fetcher.Fetch(ctx, url, "", "")
	if err != nil {
		return blz.Source{}, err
	}

	doc, err := parser.Parse(alias, fetched.Body)
	if err != nil {
		return blz.Source{}, err
	}

	summary := langfilter.Apply(doc.Blocks, opts.Language)

	src := blz.Source{
		Alias:         alias,
		URL:           url,
		ETag:          fetched.ETag,
		LastModified:  fetched.LastModified,
		FetchedAt:     time.Now(),
		SHA256:        checksum(fetched.Body),
		ContentType:   fetched.ContentType,
		LineCount:     fetched.LineCount,
		Tags:          opts.Tags,
		Filters:       blz.Filters{Language: opts.Language, LinesFiltered: summary.LinesFiltered},
		SchemaVersion: 1,
	}

	if opts.DryRun {
		return src, nil
	}

	if err := e.store.WriteContent(alias, fetched.Body); err != nil {
		return blz.Source{}, err
	}

	toc := blz.TOCDocument{SchemaVersion: 1, TOC: doc.TOC, Blocks: toIndexEntries(summary.Kept)}
	if err := e.store.WriteTOC(alias, toc); err != nil {
		return blz.Source{}, err
	}

	if err := e.store.WriteMetadata(alias, src); err != nil {
		return blz.Source{}, err
	}

	if err := e.idx.Reindex(ctx, alias, summary.Kept); err != nil {
		return blz.Source{}, err
	}

	return src, nil
}

// Remove archives a source's entire directory tree and purges it from the
// index, returning the archive path.
func (e *Engine) Remove(ctx context.Context, alias string) (string, error) {
	if !e.store.Exists(alias) {
		return "", fmt.Errorf("%w: %s", blz.ErrUnknownAlias, alias)
	}

	release, err := e.store.Lock(alias)
	if err != nil {
		return "", err
	}
	defer release()

	if err := e.idx.Reindex(ctx, alias, nil); err != nil {
		return "", fmt.Errorf("purge index: %w", err)
	}

	path, err := e.store.RemoveSource(alias, time.Now())
	if err != nil {
		return "", err
	}

	return path, nil
}

// ListOptions configures List, per spec.md §6's list(status?).
type ListOptions struct {
	// Probe, when set, conditionally re-fetches each source's URL (without
	// committing any change to storage or the index) to report reachability
	// and whether the remote has changed since the last refresh.
	Probe bool
}

// SourceStatus is the per-alias freshness probe result produced when
// ListOptions.Probe is set.
type SourceStatus struct {
	Alias         string `json:"alias"`
	Reachable     bool   `json:"reachable"`
	RemoteChanged bool   `json:"remoteChanged"`
	Err           string `json:"error,omitempty"`
}

// List returns metadata for every known source, sorted by alias, plus a
// per-alias freshness probe when opts.Probe is set. The probe issues the
// same conditional GET refresh() uses but never writes to storage or the
// index — a 304 response means "reachable, unchanged", a 2xx response
// means "reachable, changed", and an error status or transport error
// means "unreachable".
func (e *Engine) List(ctx context.Context, opts ListOptions) ([]blz.Source, []SourceStatus, error) {
	aliases, err := e.store.ListAliases()
	if err != nil {
		return nil, nil, err
	}

	sources := make([]blz.Source, 0, len(aliases))

	for _, a := range aliases {
		src, err := e.store.ReadMetadata(a)
		if err != nil {
			continue
		}

		sources = append(sources, src)
	}

	if !opts.Probe {
		return sources, nil, nil
	}

	statuses := make([]SourceStatus, 0, len(sources))

	for _, src := range sources {
		statuses = append(statuses, e.probe(ctx, src))
	}

	return sources, statuses, nil
}

func (e *Engine) probe(ctx context.Context, src blz.Source) SourceStatus {
	st := SourceStatus{Alias: src.Alias}

	result, err := e.fetcher.Fetch(ctx, src.URL, src.ETag, src.LastModified)
	if err != nil {
		st.Err = err.Error()
		return st
	}

	st.Reachable = true
	st.RemoteChanged = !result.NotModified

	return st
}

// Prune forces an immediate archive-retention sweep for alias down to
// cfg.MaxArchives, for operators who lowered max_archives after the fact
// (ArchiveContent otherwise only prunes on the source's next refresh).
func (e *Engine) Prune(alias string) error {
	if !e.store.Exists(alias) {
		return fmt.Errorf("%w: %s", blz.ErrUnknownAlias, alias)
	}

	return e.store.Prune(alias, e.cfg.MaxArchives)
}

// Refresh runs the C11 state machine over the given aliases, or every
// known source when aliases is empty, per spec.md §6's
// refresh(aliases?, opts).
func (e *Engine) Refresh(ctx context.Context, aliases []string) ([]refresh.Result, error) {
	if len(aliases) == 0 {
		all, err := e.store.ListAliases()
		if err != nil {
			return nil, err
		}

		aliases = all
	}

	return e.refresher.RefreshAll(ctx, aliases), nil
}

// SearchOptions configures Search, per spec.md §4.8/§6.
type SearchOptions struct {
	Aliases      []string
	Levels       []int
	Limit        int
	Offset       int
	AllowPartial bool
}

// Search resolves the alias set (every known source when unspecified,
// resolving spec.md §9's open question in favor of "search everything by
// default"), then checks the result cache before falling through to the
// live query engine.
func (e *Engine) Search(ctx context.Context, q string, opts SearchOptions) ([]blz.SearchHit, blz.SearchMeta, error) {
	aliases := opts.Aliases

	if len(aliases) == 0 {
		all, err := e.store.ListAliases()
		if err != nil {
			return nil, blz.SearchMeta{}, err
		}

		aliases = all
	} else {
		for _, a := range aliases {
			if !e.store.Exists(a) {
				return nil, blz.SearchMeta{}, fmt.Errorf("%w: %s", blz.ErrUnknownAlias, a)
			}
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	currentGen := func(alias string) uint64 { return e.idx.Generation(alias) }

	key := cache.Fingerprint(q, aliases, opts.Levels, limit, opts.Offset)

	if e.cfg.CacheEnabled {
		if entry, ok := e.cache.Get(key, currentGen); ok {
			return entry.Hits, entry.Meta, nil
		}
	}

	start := time.Now()

	hits, meta, err := e.searcher.Search(ctx, query.Request{
		Query:        q,
		Aliases:      aliases,
		Levels:       opts.Levels,
		Limit:        limit,
		Offset:       opts.Offset,
		SnippetLines: e.cfg.SnippetLines,
		AllowPartial: opts.AllowPartial,
	})
	if err != nil {
		if e.m != nil {
			e.m.ObserveSearch("error", time.Since(start), 0)
		}

		return nil, blz.SearchMeta{}, err
	}

	if e.cfg.CacheEnabled {
		gens := make(map[string]uint64, len(aliases))
		for _, a := range aliases {
			gens[a] = e.idx.Generation(a)
		}

		e.cache.Put(key, cache.Entry{Hits: hits, Meta: meta, Generations: gens})
	}

	outcome := "ok"
	if meta.Partial {
		outcome = "partial"
	}

	if e.m != nil {
		e.m.ObserveSearch(outcome, time.Since(start), len(hits))
	}

	return hits, meta, nil
}

// Get resolves one or more citation/anchor targets against storage, per
// spec.md §4.9/§6's get(targets[], opts).
func (e *Engine) Get(_ context.Context, targets []query.Target, opts query.RetrieveOptions) ([]query.RetrieveResult, error) {
	return query.Retrieve(e.store, targets, opts)
}

// TOCOptions configures TOC, per spec.md §6's toc(alias, opts).
type TOCOptions struct {
	MaxDepth int
}

// TOC returns a source's table-of-contents tree, optionally truncated to
// MaxDepth levels below the root.
func (e *Engine) TOC(alias string, opts TOCOptions) (*blz.TOCNode, error) {
	if !e.store.Exists(alias) {
		return nil, fmt.Errorf("%w: %s", blz.ErrUnknownAlias, alias)
	}

	doc, err := e.store.ReadTOC(alias)
	if err != nil {
		return nil, err
	}

	if opts.MaxDepth > 0 {
		return truncateDepth(doc.TOC, opts.MaxDepth, 0), nil
	}

	return doc.TOC, nil
}

func truncateDepth(n *blz.TOCNode, maxDepth, depth int) *blz.TOCNode {
	if n == nil {
		return nil
	}

	clone := *n

	if depth >= maxDepth {
		clone.Children = nil
		return &clone
	}

	children := make([]*blz.TOCNode, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, truncateDepth(c, maxDepth, depth+1))
	}

	clone.Children = children

	return &clone
}

// SourceInfo is a source's full metadata plus the health/staleness fields
// spec.md §9's SUPPLEMENTED FEATURES adds to info(alias): the index's
// current commit generation (so a caller can tell "search feels stale"
// apart from a genuinely unchanged source) and the source directory's
// on-disk size.
type SourceInfo struct {
	blz.Source

	IndexGeneration uint64 `json:"indexGeneration"`
	SizeBytes       int64  `json:"sizeBytes"`
}

// Info returns a source's full metadata, including
// filters.linesFiltered, plus its index generation and on-disk size, per
// spec.md §6's info(alias).
func (e *Engine) Info(alias string) (SourceInfo, error) {
	if !e.store.Exists(alias) {
		return SourceInfo{}, fmt.Errorf("%w: %s", blz.ErrUnknownAlias, alias)
	}

	src, err := e.store.ReadMetadata(alias)
	if err != nil {
		return SourceInfo{}, err
	}

	size, err := e.store.SizeOnDisk(alias)
	if err != nil {
		return SourceInfo{}, err
	}

	return SourceInfo{
		Source:          src,
		IndexGeneration: e.idx.Generation(alias),
		SizeBytes:       size,
	}, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
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
