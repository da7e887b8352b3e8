// Package query implements components C9 (Query Engine) and C10
// (Retrieval by Citation): grammar parsing and dispatch, parallel
// per-alias search fan-out with global re-ranking and snippet assembly,
// and citation/anchor resolution with context expansion. No pack example
// implements a query grammar or BM25 fan-out orchestrator, so this package
// is authored directly from spec.md §4.8/§4.9/§6, in the error-wrapping
// and context-threading idiom the teacher uses throughout pkg/core/svc.go.
package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/blzsearch/blz/pkg/blz"
)

// aliasPattern matches the ALIAS grammar from spec.md §6: [a-z0-9][a-z0-9_-]*.
var aliasPattern = `[a-z0-9][a-z0-9_-]*`

// citationPattern matches spec.md §6's stable wire form:
// ALIAS (":" LINE "-" LINE)? ("#" ANCHOR)?
var citationPattern = regexp.MustCompile(`^(` + aliasPattern + `)(?::(\d+)-(\d+))?(?:#(.+))?$`)

// Target is one parsed element of a query/retrieval request.
type Target struct {
	Raw       string
	Alias     string
	HasSpan   bool
	StartLine int
	EndLine   int
	Anchor    string
}

// IsBareAlias reports whether the target names a whole document (no span,
// no anchor).
func (t Target) IsBareAlias() bool { return !t.HasSpan && t.Anchor == "" }

// ParseTarget parses a single citation/anchor form, per spec.md §6's
// citation grammar. It does not validate that the alias is known — that
// is a storage-layer concern (Retrieve, below).
func ParseTarget(raw string) (Target, bool) {
	m := citationPattern.FindStringSubmatch(raw)
	if m == nil {
		return Target{}, false
	}

	t := Target{Raw: raw, Alias: m[1], Anchor: m[4]}

	if m[2] != "" && m[3] != "" {
		start, err1 := strconv.Atoi(m[2])
		end, err2 := strconv.Atoi(m[3])

		if err1 != nil || err2 != nil {
			return Target{}, false
		}

		t.HasSpan = true
		t.StartLine = start
		t.EndLine = end
	}

	return t, true
}

// Dispatch implements spec.md §4.8's dispatch rule: if every space-
// separated argument is a citation/anchor form, the call is a retrieval
// (C10); otherwise the whole argument list is joined back into a single
// free-text search query.
func Dispatch(args []string) (isRetrieval bool, targets []Target, searchText string) {
	if len(args) == 0 {
		return false, nil, ""
	}

	parsed := make([]Target, 0, len(args))

	for _, a := range args {
		t, ok := ParseTarget(a)
		if !ok {
			return false, nil, strings.Join(args, " ")
		}

		parsed = append(parsed, t)
	}

	return true, parsed, ""
}

// Level expression kinds recognized by ParseLevels: bare ("2"), range
// ("2-4"), upper-bound ("<=3"), and list ("1,3,5"), per spec.md §4.8.
var (
	levelRangePattern = regexp.MustCompile(`^(\d+)-(\d+)$`)
	levelMaxPattern   = regexp.MustCompile(`^<=(\d+)$`)
)

// ParseLevels parses a levels flag value into the explicit set of levels
// it denotes.
func ParseLevels(expr string) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	if m := levelRangePattern.FindStringSubmatch(expr); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])

		if lo > hi {
			return nil, blz.ErrOutOfRange
		}

		levels := make([]int, 0, hi-lo+1)
		for l := lo; l <= hi; l++ {
			levels = append(levels, l)
		}

		return levels, nil
	}

	if m := levelMaxPattern.FindStringSubmatch(expr); m != nil {
		hi, _ := strconv.Atoi(m[1])

		levels := make([]int, 0, hi)
		for l := 1; l <= hi; l++ {
			levels = append(levels, l)
		}

		return levels, nil
	}

	parts := strings.Split(expr, ",")
	levels := make([]int, 0, len(parts))

	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, blz.ErrOutOfRange
		}

		levels = append(levels, n)
	}

	return levels, nil
}
