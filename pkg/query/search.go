package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blzsearch/blz/pkg/blz"
	"github.com/blzsearch/blz/pkg/index"
)

// DefaultSnippetLines is the default snippet window height, per spec.md §4.8.
const DefaultSnippetLines = 3

// DefaultSoftTimeout is the search soft timeout, per spec.md §5.
const DefaultSoftTimeout = 1 * time.Second

// AliasIndex is the per-alias search capability the Searcher fans out
// over. pkg/index.Engine satisfies it directly.
type AliasIndex interface {
	Search(ctx context.Context, r index.Request) ([]index.Hit, error)
}

// Request parameterizes a Search call.
type Request struct {
	Query        string
	Aliases      []string
	Levels       []int
	Limit        int
	Offset       int
	SnippetLines int
	AllowPartial bool
	SoftTimeout  time.Duration
}

// Searcher executes component C9's search algorithm: parallel per-alias
// fan-out, global re-rank, pagination and snippet assembly.
type Searcher struct {
	Index AliasIndex
}

// Search runs spec.md §4.8's steps 2-5. Step 1 (alias resolution/
// validation against the known source set) is the caller's
// responsibility, since only the engine knows the full source list.
func (s *Searcher) Search(ctx context.Context, req Request) ([]blz.SearchHit, blz.SearchMeta, error) {
	start := time.Now()

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	snippetLines := req.SnippetLines
	if snippetLines <= 0 {
		snippetLines = DefaultSnippetLines
	}

	softTimeout := req.SoftTimeout
	if softTimeout <= 0 {
		softTimeout = DefaultSoftTimeout
	}

	fetchCtx := ctx

	var cancel context.CancelFunc

	if req.AllowPartial {
		fetchCtx, cancel = context.WithTimeout(ctx, softTimeout)
		defer cancel()
	}

	perAliasLimit := limit + req.Offset

	type aliasResult struct {
		alias string
		hits  []index.Hit
		err   error
	}

	results := make(chan aliasResult, len(req.Aliases))

	g, gctx := errgroup.WithContext(fetchCtx)

	for _, alias := range req.Aliases {
		alias := alias

		g.Go(func() error {
			hits, err := s.Index.Search(gctx, index.Request{
				Query:  req.Query,
				Alias:  alias,
				Levels: req.Levels,
				Limit:  perAliasLimit,
			})

			results <- aliasResult{alias: alias, hits: hits, err: err}

			return nil
		})
	}

	go func() { _ = g.Wait(); close(results) }()

	partial := false

	var merged []index.Hit

	respondedAliases := 0

collect:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}

			respondedAliases++

			if r.err != nil {
				if req.AllowPartial {
					partial = true
					continue
				}

				return nil, blz.SearchMeta{}, fmt.Errorf("search alias %s: %w", r.alias, r.err)
			}

			merged = append(merged, r.hits...)
		case <-ctx.Done():
			if !req.AllowPartial {
				return nil, blz.SearchMeta{}, fmt.Errorf("%w: %s", blz.ErrCancelled, ctx.Err())
			}

			partial = true

			break collect
		}
	}

	if respondedAliases < len(req.Aliases) {
		partial = partial || req.AllowPartial
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}

		if merged[i].Alias != merged[j].Alias {
			return merged[i].Alias < merged[j].Alias
		}

		return merged[i].StartLine < merged[j].StartLine
	})

	if req.Offset < len(merged) {
		merged = merged[req.Offset:]
	} else {
		merged = nil
	}

	if len(merged) > limit {
		merged = merged[:limit]
	}

	hits := make([]blz.SearchHit, 0, len(merged))

	for _, h := range merged {
		hits = append(hits, blz.SearchHit{
			Alias:     h.Alias,
			Path:      strings.Split(h.PathJoined, " / "),
			Level:     h.Level,
			LineSpan:  fmt.Sprintf("%d-%d", h.StartLine, h.EndLine),
			StartLine: h.StartLine,
			EndLine:   h.EndLine,
			Snippet:   snippet(h.Body, h.Fragments, snippetLines),
			Score:     h.Score,
			Anchor:    h.Anchor,
		})
	}

	meta := blz.SearchMeta{
		ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		TotalSources:    len(req.Aliases),
		TotalHits:       len(hits),
		Partial:         partial,
	}

	return hits, meta, nil
}

// snippet returns up to n lines of body text centered on the highlighted
// fragment bleve matched, per spec.md §4.8 step 4. Body is already scoped
// to a single block, so the returned window never crosses a block
// boundary. When no fragment is available (e.g. a hit matched only on
// alias/path-only filters, not the body field) it falls back to the first
// n lines.
func snippet(body string, fragments []string, n int) string {
	lines := strings.Split(body, "\n")
	if len(lines) <= n {
		return body
	}

	if line := matchedLine(body, fragments); line >= 0 {
		start := line - n/2
		if start < 0 {
			start = 0
		}

		end := start + n
		if end > len(lines) {
			end = len(lines)
			start = end - n

			if start < 0 {
				start = 0
			}
		}

		return strings.Join(lines[start:end], "\n")
	}

	return strings.Join(lines[:n], "\n")
}

// matchedLine returns the 0-based line index of the first fragment found
// within body, or -1 if none of the fragments can be located. Bleve's
// default fragmenter pads fragments with "..." at truncation points, so
// those are trimmed before the substring search.
func matchedLine(body string, fragments []string) int {
	for _, f := range fragments {
		f = strings.Trim(strings.TrimSpace(f), ".")
		f = strings.TrimSpace(f)

		if f == "" {
			continue
		}

		if idx := strings.Index(body, f); idx >= 0 {
			return strings.Count(body[:idx], "\n")
		}
	}

	return -1
}
