// Package index implements component C6: a BM25 inverted index over
// heading-block documents, one bleve index shared by all sources and
// partitioned by alias. Query construction
// (term/phrase disjunctions, match/prefix/fuzzy blending, field boosts) is
// adapted from the teacher's pkg/repo/search.BleveEngine — the same
// function shapes (splitQueryTerms, buildTermQueries, buildPhraseQueries,
// buildIndexMapping, extractFragments), generalized from a two-field
// title/content schema to the six-field block schema spec.md §4.5 defines,
// with path_joined weighted 2.0 against body's 1.0 in place of the
// teacher's title/content boosts.
package index

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveSearch "github.com/blevesearch/bleve/v2/search"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/blzsearch/blz/pkg/blz"
)

const (
	fieldAlias      = "alias"
	fieldAnchor     = "anchor"
	fieldPathJoined = "path_joined"
	fieldLevel      = "level"
	fieldLineStart  = "line_start"
	fieldLineEnd    = "line_end"
	fieldBody       = "body"

	// pathJoinedBoost matches spec.md §4.5: matches in the heading chain
	// outrank matches in body alone.
	pathJoinedBoost = 2.0
	bodyBoost       = 1.0

	minFuzzyTermLength = 4
	longTermThreshold  = 7

	// maxReaders bounds the internal reader pool per spec.md §4.5.
	maxReaders = 8

	deletePageSize = 1000
)

// blockDocument is the internal bleve document shape for one heading block.
type blockDocument struct {
	Alias      string  `json:"alias"`
	Anchor     string  `json:"anchor"`
	PathJoined string  `json:"path_joined"`
	Level      float64 `json:"level"`
	LineStart  float64 `json:"line_start"`
	LineEnd    float64 `json:"line_end"`
	Body       string  `json:"body"`
}

func docID(alias, anchor string) string { return alias + "#" + anchor }

// Engine wraps a bleve index for one storage root's worth of sources. All
// sources currently share a single physical index, partitioned by the
// alias field and filtered at query time — matching spec.md's alias
// disjunction filter and keeping one writer/commit path per spec.md §5's
// "exclusive writer + pooled readers" model without needing N separate
// bleve handles.
type Engine struct {
	index bleve.Index

	mu sync.Mutex // serializes writes; storage.Lock already enforces cross-process exclusivity

	genMu sync.RWMutex
	gen   map[string]uint64

	readers chan struct{}
}

// Open opens an existing index at path or creates one if absent, following
// the teacher's NewBleve try-open-then-create pattern.
func Open(path string) (*Engine, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create bleve index: %w", err)
		}
	}

	n := runtime.NumCPU()
	if n > maxReaders {
		n = maxReaders
	}

	if n < 1 {
		n = 1
	}

	return &Engine{
		index:   idx,
		gen:     make(map[string]uint64),
		readers: make(chan struct{}, n),
	}, nil
}

// Close closes the underlying index.
func (e *Engine) Close() error {
	if err := e.index.Close(); err != nil {
		return fmt.Errorf("close bleve index: %w", err)
	}

	return nil
}

// Generation returns the current commit generation for an alias, used by
// the result cache for invalidation.
func (e *Engine) Generation(alias string) uint64 {
	e.genMu.RLock()
	defer e.genMu.RUnlock()

	return e.gen[alias]
}

func (e *Engine) bumpGeneration(alias string) {
	e.genMu.Lock()
	e.gen[alias]++
	e.genMu.Unlock()
}

// Reindex deletes every existing document for alias and inserts the given
// blocks as a single batch, per spec.md §4.5's "reindex ... deletes all
// documents with matching alias before inserting new ones; commits are
// transactional at the index level".
func (e *Engine) Reindex(ctx context.Context, alias string, blocks []blz.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := e.index.NewBatch()

	if err := e.deleteAlias(alias, batch); err != nil {
		return fmt.Errorf("%w: %s", blz.ErrIndexCorrupt, err)
	}

	for _, b := range blocks {
		doc := blockDocument{
			Alias:      b.Alias,
			Anchor:     b.Anchor,
			PathJoined: b.PathJoined(),
			Level:      float64(b.Level),
			LineStart:  float64(b.StartLine),
			LineEnd:    float64(b.EndLine),
			Body:       b.Text,
		}

		if err := batch.Index(docID(b.Alias, b.Anchor), doc); err != nil {
			return fmt.Errorf("batch index block %s: %w", docID(b.Alias, b.Anchor), err)
		}
	}

	if err := e.index.Batch(batch); err != nil {
		return fmt.Errorf("commit reindex batch: %w", err)
	}

	e.bumpGeneration(alias)

	return nil
}

// deleteAlias queues a delete for every existing document of alias onto
// batch, so the deletes commit together with the caller's inserts.
func (e *Engine) deleteAlias(alias string, batch *bleve.Batch) error {
	q := bleve.NewTermQuery(alias)
	q.SetField(fieldAlias)

	for from := 0; ; from += deletePageSize {
		req := bleve.NewSearchRequestOptions(q, deletePageSize, from, false)
		req.Fields = nil

		result, err := e.index.Search(req)
		if err != nil {
			return fmt.Errorf("search for deletion: %w", err)
		}

		if len(result.Hits) == 0 {
			return nil
		}

		for _, hit := range result.Hits {
			batch.Delete(hit.ID)
		}
	}
}

// Hit is one ranked result from Search, prior to snippet assembly (owned
// by pkg/query).
type Hit struct {
	Alias      string
	Anchor     string
	PathJoined string
	Level      int
	StartLine  int
	EndLine    int
	Body       string
	Score      float64
	Fragments  []string
}

// Request parameterizes a single-alias search call.
type Request struct {
	Query  string
	Alias  string
	Levels []int
	Limit  int
	Offset int
}

// Search runs a bounded-concurrency query against the shared index,
// filtered to a single alias and optional level set, per spec.md §4.5's
// "heading-level filter ... translated to a post-filter on the level
// field" and §4.8's per-alias fan-out.
func (e *Engine) Search(ctx context.Context, r Request) ([]Hit, error) {
	select {
	case e.readers <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", blz.ErrCancelled, ctx.Err())
	}

	defer func() { <-e.readers }()

	limit := r.Limit
	if limit <= 0 {
		limit = 10
	}

	q := buildFilteredQuery(r.Query, r.Alias, r.Levels)

	req := bleve.NewSearchRequestOptions(q, limit+r.Offset, 0, false)
	req.Highlight = bleve.NewHighlight()
	req.Fields = []string{fieldAlias, fieldAnchor, fieldPathJoined, fieldLevel, fieldLineStart, fieldLineEnd, fieldBody}

	result, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))

	for _, h := range result.Hits {
		hits = append(hits, Hit{
			Alias:      stringField(h.Fields, fieldAlias),
			Anchor:     stringField(h.Fields, fieldAnchor),
			PathJoined: stringField(h.Fields, fieldPathJoined),
			Level:      int(numberField(h.Fields, fieldLevel)),
			StartLine:  int(numberField(h.Fields, fieldLineStart)),
			EndLine:    int(numberField(h.Fields, fieldLineEnd)),
			Body:       stringField(h.Fields, fieldBody),
			Score:      h.Score,
			Fragments:  extractFragments(h.Fragments),
		})
	}

	return hits, nil
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}

	return ""
}

func numberField(fields map[string]interface{}, name string) float64 {
	if v, ok := fields[name].(float64); ok {
		return v
	}

	return 0
}

// extractFragments returns the body field's highlight fragments only —
// path_joined fragments would misposition a body-relative snippet window —
// with bleve's default HTML highlighter marks stripped, since this engine's
// snippets are plain text, never rendered HTML.
func extractFragments(fragments bleveSearch.FieldFragmentMap) []string {
	frags := fragments[fieldBody]
	if len(frags) == 0 {
		return nil
	}

	result := make([]string, len(frags))
	for i, f := range frags {
		result[i] = stripHighlightMarks(f)
	}

	return result
}

func stripHighlightMarks(s string) string {
	s = strings.ReplaceAll(s, "<mark>", "")
	s = strings.ReplaceAll(s, "</mark>", "")

	return s
}

// buildFilteredQuery combines the text query with an alias term filter and
// an optional levels disjunction, all as a conjunction.
func buildFilteredQuery(userQuery, alias string, levels []int) bleveQuery.Query {
	parts := []bleveQuery.Query{buildSearchQuery(userQuery)}

	if alias != "" {
		aq := bleve.NewTermQuery(alias)
		aq.SetField(fieldAlias)
		parts = append(parts, aq)
	}

	if len(levels) > 0 {
		levelQueries := make([]bleveQuery.Query, 0, len(levels))

		for _, lvl := range levels {
			min := float64(lvl)
			max := float64(lvl)
			rq := bleve.NewNumericRangeQuery(&min, &max)
			rq.SetField(fieldLevel)
			levelQueries = append(levelQueries, rq)
		}

		parts = append(parts, bleve.NewDisjunctionQuery(levelQueries...))
	}

	return bleve.NewConjunctionQuery(parts...)
}

// queryTerm is a single parsed search term, per the teacher's queryTerm.
type queryTerm struct {
	text   string
	phrase bool
}

// splitQueryTerms parses user input into terms, quoted phrases kept whole.
func splitQueryTerms(input string) []queryTerm {
	var terms []queryTerm

	input = strings.TrimSpace(input)
	if input == "" {
		return terms
	}

	i := 0
	for i < len(input) {
		if input[i] == ' ' || input[i] == '\t' {
			i++
			continue
		}

		if input[i] == '"' {
			end := strings.IndexByte(input[i+1:], '"')
			if end == -1 {
				phrase := strings.TrimSpace(input[i+1:])
				if phrase != "" {
					terms = append(terms, queryTerm{text: phrase, phrase: true})
				}

				break
			}

			phrase := strings.TrimSpace(input[i+1 : i+1+end])
			if phrase != "" {
				terms = append(terms, queryTerm{text: phrase, phrase: true})
			}

			i += end + 2

			continue
		}

		end := strings.IndexAny(input[i:], " \t")
		if end == -1 {
			terms = append(terms, queryTerm{text: input[i:]})
			break
		}

		terms = append(terms, queryTerm{text: input[i : i+end]})
		i += end
	}

	return terms
}

// buildSearchQuery constructs the BM25 disjunction/conjunction tree over
// path_joined and body fields, weighted per spec.md §4.5.
func buildSearchQuery(userQuery string) bleveQuery.Query {
	terms := splitQueryTerms(userQuery)
	if len(terms) == 0 {
		return bleve.NewMatchAllQuery()
	}

	termQueries := make([]bleveQuery.Query, 0, len(terms))

	for _, term := range terms {
		var disj bleveQuery.Query
		if term.phrase {
			disj = buildPhraseQueries(term.text)
		} else {
			disj = buildTermQueries(term.text)
		}

		termQueries = append(termQueries, disj)
	}

	if len(termQueries) == 1 {
		return termQueries[0]
	}

	return bleve.NewConjunctionQuery(termQueries...)
}

func buildPhraseQueries(phrase string) bleveQuery.Query {
	pathQ := bleve.NewMatchPhraseQuery(phrase)
	pathQ.SetField(fieldPathJoined)
	pathQ.SetBoost(pathJoinedBoost)

	bodyQ := bleve.NewMatchPhraseQuery(phrase)
	bodyQ.SetField(fieldBody)
	bodyQ.SetBoost(bodyBoost)

	return bleve.NewDisjunctionQuery(pathQ, bodyQ)
}

func buildTermQueries(term string) bleveQuery.Query {
	subQueries := make([]bleveQuery.Query, 0, 6)

	pathMatch := bleve.NewMatchQuery(term)
	pathMatch.SetField(fieldPathJoined)
	pathMatch.SetBoost(pathJoinedBoost * 2)

	bodyMatch := bleve.NewMatchQuery(term)
	bodyMatch.SetField(fieldBody)
	bodyMatch.SetBoost(bodyBoost * 2)

	subQueries = append(subQueries, pathMatch, bodyMatch)

	lowered := strings.ToLower(term)

	pathPrefix := bleve.NewPrefixQuery(lowered)
	pathPrefix.SetField(fieldPathJoined)
	pathPrefix.SetBoost(pathJoinedBoost)

	bodyPrefix := bleve.NewPrefixQuery(lowered)
	bodyPrefix.SetField(fieldBody)
	bodyPrefix.SetBoost(bodyBoost)

	subQueries = append(subQueries, pathPrefix, bodyPrefix)

	if len(term) >= minFuzzyTermLength {
		fuzziness := 1
		if len(term) >= longTermThreshold {
			fuzziness = 2
		}

		pathFuzzy := bleve.NewFuzzyQuery(lowered)
		pathFuzzy.SetField(fieldPathJoined)
		pathFuzzy.SetFuzziness(fuzziness)
		pathFuzzy.SetBoost(pathJoinedBoost * 0.5)

		bodyFuzzy := bleve.NewFuzzyQuery(lowered)
		bodyFuzzy.SetField(fieldBody)
		bodyFuzzy.SetFuzziness(fuzziness)
		bodyFuzzy.SetBoost(bodyBoost * 0.5)

		subQueries = append(subQueries, pathFuzzy, bodyFuzzy)
	}

	return bleve.NewDisjunctionQuery(subQueries...)
}

func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Store = true
	textFieldMapping.IncludeTermVectors = true

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	keywordFieldMapping.Store = true

	numericFieldMapping := bleve.NewNumericFieldMapping()
	numericFieldMapping.Store = true

	docMapping.AddFieldMappingsAt(fieldPathJoined, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldBody, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldAlias, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldAnchor, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldLevel, numericFieldMapping)
	docMapping.AddFieldMappingsAt(fieldLineStart, numericFieldMapping)
	docMapping.AddFieldMappingsAt(fieldLineEnd, numericFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

// bm25Params documents the ranking parameters spec.md §4.5 specifies.
// bleve/v2's scorch backend uses BM25-style scoring internally with these
// exact defaults, so no override is wired here.
var bm25Params = struct{ K1, B float64 }{K1: 1.2, B: 0.75}
