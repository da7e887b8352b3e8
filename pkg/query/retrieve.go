package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/blzsearch/blz/pkg/blz"
)

// ContentProvider is the storage-layer capability Retrieve needs.
// pkg/storage.Store satisfies it directly.
type ContentProvider interface {
	ReadContent(alias string) ([]byte, error)
	ReadTOC(alias string) (blz.TOCDocument, error)
	ReadMetadata(alias string) (blz.Source, error)
}

// RetrieveOptions configures context expansion and truncation for
// Retrieve, per spec.md §4.9.
type RetrieveOptions struct {
	Context  string // "none", "all", or a non-negative integer as a string
	MaxLines int    // 0 means unbounded
}

// RetrieveResult is one resolved target, per spec.md §4.9's output shape.
type RetrieveResult struct {
	Alias     string
	StartLine int
	EndLine   int
	Snippet   string
	Anchor    string
	Checksum  string
	Truncated bool
	Err       error
}

// Retrieve resolves one or more targets against storage, implementing
// component C10. Per-target failures are reported inline; Retrieve itself
// only fails if every target fails to resolve (spec.md §4.9's "overall
// call succeeds if at least one target resolved").
func Retrieve(store ContentProvider, targets []Target, opts RetrieveOptions) ([]RetrieveResult, error) {
	results := make([]RetrieveResult, 0, len(targets))

	anySucceeded := false

	for _, t := range targets {
		r := retrieveOne(store, t, opts)
		if r.Err == nil {
			anySucceeded = true
		}

		results = append(results, r)
	}

	if !anySucceeded && len(targets) > 0 {
		return results, fmt.Errorf("%w: no targets resolved", blz.ErrInvalidCitation)
	}

	return results, nil
}

func retrieveOne(store ContentProvider, t Target, opts RetrieveOptions) RetrieveResult {
	src, err := store.ReadMetadata(t.Alias)
	if err != nil {
		return RetrieveResult{Alias: t.Alias, Err: fmt.Errorf("%w: %s", blz.ErrUnknownAlias, t.Alias)}
	}

	content, err := store.ReadContent(t.Alias)
	if err != nil {
		return RetrieveResult{Alias: t.Alias, Err: fmt.Errorf("read content: %w", err)}
	}

	lines := strings.Split(string(content), "\n")
	lineCount := len(lines)

	start, end := 1, lineCount
	anchor := ""

	switch {
	case t.Anchor != "":
		toc, err := store.ReadTOC(t.Alias)
		if err != nil {
			return RetrieveResult{Alias: t.Alias, Err: fmt.Errorf("read toc: %w", err)}
		}

		entry, ok := findBlockByAnchor(toc.Blocks, t.Anchor)
		if !ok {
			return RetrieveResult{Alias: t.Alias, Err: fmt.Errorf("%w: %s#%s", blz.ErrUnknownAnchor, t.Alias, t.Anchor)}
		}

		start, end = parseLines(entry.Lines)
		anchor = t.Anchor
	case t.HasSpan:
		if t.StartLine < 1 || t.EndLine < t.StartLine || t.EndLine > lineCount {
			return RetrieveResult{Alias: t.Alias, Err: fmt.Errorf("%w: %s:%d-%d", blz.ErrOutOfRange, t.Alias, t.StartLine, t.EndLine)}
		}

		start, end = t.StartLine, t.EndLine
	default:
		// Bare alias: the full document.
	}

	start, end = expandContext(store, t.Alias, start, end, lineCount, opts.Context)

	truncated := false

	if opts.MaxLines > 0 && end-start+1 > opts.MaxLines {
		end = start + opts.MaxLines - 1
		truncated = true
	}

	snippetText := strings.Join(lines[start-1:end], "\n")

	return RetrieveResult{
		Alias:     t.Alias,
		StartLine: start,
		EndLine:   end,
		Snippet:   snippetText,
		Anchor:    anchor,
		Checksum:  src.SHA256,
		Truncated: truncated,
	}
}

// expandContext applies the "none | N | all" context expansion rule,
// clamped to the containing block's range unless context is "all".
func expandContext(store ContentProvider, alias string, start, end, lineCount int, context string) (int, int) {
	switch {
	case context == "" || context == "none":
		return start, end
	case context == "all":
		toc, err := store.ReadTOC(alias)
		if err != nil {
			return start, end
		}

		if block, ok := containingBlock(toc.Blocks, start, end); ok {
			s, e := parseLines(block.Lines)
			return s, e
		}

		return start, end
	default:
		var n int
		if _, err := fmt.Sscanf(context, "%d", &n); err != nil || n <= 0 {
			return start, end
		}

		toc, err := store.ReadTOC(alias)

		newStart := start - n
		if newStart < 1 {
			newStart = 1
		}

		newEnd := end + n
		if newEnd > lineCount {
			newEnd = lineCount
		}

		if err == nil {
			if block, ok := containingBlock(toc.Blocks, start, end); ok {
				bs, be := parseLines(block.Lines)
				if newStart < bs {
					newStart = bs
				}

				if newEnd > be {
					newEnd = be
				}
			}
		}

		return newStart, newEnd
	}
}

func findBlockByAnchor(blocks []blz.BlockIndexEntry, anchor string) (blz.BlockIndexEntry, bool) {
	for _, b := range blocks {
		if b.Anchor == anchor {
			return b, true
		}
	}

	return blz.BlockIndexEntry{}, false
}

func containingBlock(blocks []blz.BlockIndexEntry, start, end int) (blz.BlockIndexEntry, bool) {
	for _, b := range blocks {
		bs, be := parseLines(b.Lines)
		if bs <= start && end <= be {
			return b, true
		}
	}

	return blz.BlockIndexEntry{}, false
}

func parseLines(span string) (int, int) {
	var s, e int

	_, _ = fmt.Sscanf(span, "%d-%d", &s, &e)

	return s, e
}

// ChecksumContent computes the sha256 hex digest used as a Citation's
// checksum and Source's sha256; pkg/engine and pkg/refresh compute the same
// digest with their own checksum helpers.
func ChecksumContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
