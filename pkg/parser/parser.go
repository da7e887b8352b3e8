// Package parser converts a Markdown/text document into an ordered tree of
// heading-anchored Blocks with exact byte/line spans and a table-of-contents
// tree, the way pkg/prov/markdown's goldmark-based renderer walks an AST —
// generalized here to report byte-accurate spans instead of HTML.
package parser

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/blzsearch/blz/pkg/blz"
)

// md is a package-level goldmark instance configured for structural parsing
// only — no HTML rendering, no sanitization, because this engine never
// emits HTML. GFM tables/strikethrough are enabled since llms.txt documents
// commonly use them and we want stable block boundaries around them.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// Document is the parser's output: the ordered block list plus the
// navigable table of contents built from the same heading walk.
type Document struct {
	Blocks []blz.Block
	TOC    *blz.TOCNode
}

// Parse parses raw document bytes for the given source alias into an
// ordered block tree and TOC. Malformed Markdown never fails parsing — a
// best-effort block tree is always produced. Only invalid UTF-8 is a hard
// failure.
func Parse(alias string, raw []byte) (Document, error) {
	if !utf8.Valid(raw) {
		return Document{}, &blz.ParseError{Kind: blz.ParseErrorInvalidUTF8}
	}

	normalized, toOriginal := normalizeCRLF(raw)
	lineStarts := computeLineStarts(normalized)

	reader := text.NewReader(normalized)
	doc := md.Parser().Parse(reader)

	headings := collectTopLevelHeadings(doc, normalized)

	// lineStarts already holds an entry for a final line without a trailing
	// newline, so its length is the line count; an empty document has none.
	lineCount := len(lineStarts)
	if len(normalized) == 0 {
		lineCount = 0
	}

	blocks, tocRoot := buildBlocks(alias, headings, normalized, lineStarts, lineCount, toOriginal, raw)

	return Document{Blocks: blocks, TOC: tocRoot}, nil
}

// preambleAnchor is the sentinel anchor slug assigned to the level-0
// preamble block (lines before the first heading, or the whole document
// when it has no headings at all), since it has no heading path to slugify.
const preambleAnchor = "preamble"

type headingMark struct {
	level  int
	text   string
	offset int // byte offset into the normalized buffer
	line   int // 1-based line number
}

// collectTopLevelHeadings walks only the Document's direct children. Block
// structure in goldmark places a heading that truly starts at column 0 as a
// sibling of Document; headings nested inside a blockquote or list item
// (i.e. not at column 0) become children of those container nodes instead,
// so restricting to direct children matches the "headings recognized at
// column 0" rule for free, including when a column-0 heading interrupts a
// list or table.
func collectTopLevelHeadings(doc ast.Node, src []byte) []headingMark {
	var out []headingMark

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*ast.Heading)
		if !ok {
			continue
		}

		offset := 0
		if heading.Lines().Len() > 0 {
			offset = heading.Lines().At(0).Start
		}

		out = append(out, headingMark{
			level:  heading.Level,
			text:   strings.TrimSpace(extractText(heading, src)),
			offset: offset,
		})
	}

	return out
}

// extractText collects the plain-text content of a node's subtree,
// following pkg/prov/markdown.extractNodeText.
func extractText(n ast.Node, src []byte) string {
	var buf strings.Builder

	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || child == n {
			return ast.WalkContinue, nil
		}

		if textNode, ok := child.(*ast.Text); ok {
			buf.Write(textNode.Segment.Value(src))
		}

		return ast.WalkContinue, nil
	})

	return buf.String()
}

// pathEntry is one level of the live heading-path stack while blocks are
// assembled in document order.
type pathEntry struct {
	level int
	text  string
	node  *blz.TOCNode
}

func buildBlocks(
	alias string,
	headings []headingMark,
	normalized []byte,
	lineStarts []int,
	lineCount int,
	toOriginal func(int) int,
	raw []byte,
) ([]blz.Block, *blz.TOCNode) {
	for i := range headings {
		headings[i].line = lineOf(lineStarts, headings[i].offset)
		// Start the heading's span at the beginning of its line, so the "#"
		// marker belongs to its own block rather than to the previous one.
		headings[i].offset = lineStarts[headings[i].line-1]
	}

	var blocks []blz.Block

	var stack []pathEntry

	root := &blz.TOCNode{Level: 0}

	anchorCounts := map[string]int{}

	emit := func(level int, path []string, startLine, endLine, byteStartNorm, byteEndNorm int) blz.Block {
		// The preamble (level 0, path nil) gets the sentinel anchor
		// "preamble" rather than "", so it is indexed and addressable like
		// any other block instead of carrying a blank anchor field.
		slug := preambleAnchor
		if level > 0 {
			slug = slugifyPath(path)
		}

		anchor := uniqueAnchor(anchorCounts, slug)

		start := toOriginal(byteStartNorm)
		end := toOriginal(byteEndNorm)

		text := ""
		if start < end && end <= len(raw) {
			text = string(raw[start:end])
		}

		return blz.Block{
			Alias:     alias,
			Path:      append([]string(nil), path...),
			Level:     level,
			Anchor:    anchor,
			StartLine: startLine,
			EndLine:   endLine,
			ByteStart: start,
			ByteEnd:   end,
			Text:      text,
		}
	}

	// Preamble: lines before the first heading, if any. An empty document
	// has no lines and so no preamble.
	if lineCount > 0 && (len(headings) == 0 || headings[0].line > 1) {
		endLine := lineCount
		endOffset := len(normalized)

		if len(headings) > 0 {
			endLine = headings[0].line - 1
			endOffset = headings[0].offset
		}

		blocks = append(blocks, emit(0, nil, 1, endLine, 0, endOffset))
	}

	for i, h := range headings {
		// Truncate the path stack to entries with level < L, preserving any
		// gap (e.g. h1 -> h3) rather than synthesizing missing levels.
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}

		path := make([]string, 0, len(stack)+1)
		for _, e := range stack {
			path = append(path, e.text)
		}

		path = append(path, h.text)

		endLine := lineCount
		endOffset := len(normalized)

		if i+1 < len(headings) {
			endLine = headings[i+1].line - 1
			endOffset = headings[i+1].offset
		}

		block := emit(h.level, path, h.line, endLine, h.offset, endOffset)
		blocks = append(blocks, block)

		tocNode := &blz.TOCNode{
			PathSegment: h.text,
			Level:       h.level,
			Lines:       lineSpan(block.StartLine, block.EndLine),
			Anchor:      block.Anchor,
		}

		parent := root
		if len(stack) > 0 {
			parent = stack[len(stack)-1].node
		}

		parent.Children = append(parent.Children, tocNode)

		stack = append(stack, pathEntry{level: h.level, text: h.text, node: tocNode})
	}

	return blocks, root
}

func lineSpan(start, end int) string {
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}

// uniqueAnchor disambiguates repeated (alias, anchor) collisions by
// appending -2, -3, ... in document order.
func uniqueAnchor(counts map[string]int, anchor string) string {
	counts[anchor]++

	n := counts[anchor]
	if n == 1 {
		return anchor
	}

	return anchor + "-" + strconv.Itoa(n)
}

// slugifyPath slugifies each path segment and joins them with "/".
func slugifyPath(path []string) string {
	parts := make([]string, len(path))

	for i, p := range path {
		parts[i] = slugify(p)
	}

	return strings.Join(parts, "/")
}

// slugify lowercases, collapses runs of non-alphanumeric characters to a
// single '-', and trims leading/trailing '-'.
func slugify(s string) string {
	var buf strings.Builder

	prevDash := false

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			buf.WriteRune(r)
			prevDash = false

			continue
		}

		if !prevDash && buf.Len() > 0 {
			buf.WriteByte('-')
			prevDash = true
		}
	}

	return strings.TrimRight(buf.String(), "-")
}

// computeLineStarts returns the byte offset (into src) of the start of
// every line, 1-indexed conceptually via lineOf's binary search.
func computeLineStarts(src []byte) []int {
	starts := []int{0}

	for i, b := range src {
		if b == '\n' && i+1 < len(src) {
			starts = append(starts, i+1)
		}
	}

	return starts
}

// lineOf returns the 1-based line number containing the given byte offset.
func lineOf(lineStarts []int, offset int) int {
	i := sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > offset })

	return i
}

// normalizeCRLF strips "\r\n" down to "\n" and returns the normalized bytes
// along with a function mapping a byte offset in the normalized buffer back
// to the corresponding offset in the original bytes, so that Block byte
// spans always refer to the original document even though line scanning and
// goldmark parsing run against the normalized copy.
func normalizeCRLF(raw []byte) ([]byte, func(int) int) {
	if !containsCRLF(raw) {
		identity := func(n int) int { return n }
		return raw, identity
	}

	out := make([]byte, 0, len(raw))
	// breakpoints holds, in increasing order, the normalized offset at which
	// each dropped '\r' stood; the number of breakpoints at or before an
	// offset is the number of bytes removed ahead of it.
	var breakpoints []int

	removed := 0

	for i := 0; i < len(raw); i++ {
		if raw[i] == '\r' && i+1 < len(raw) && raw[i+1] == '\n' {
			removed++
			breakpoints = append(breakpoints, len(out))

			continue
		}

		out = append(out, raw[i])
	}

	toOriginal := func(normOffset int) int {
		// Count how many breakpoints occurred at or before normOffset.
		n := sort.Search(len(breakpoints), func(i int) bool { return breakpoints[i] > normOffset })

		return normOffset + n
	}

	return out, toOriginal
}

func containsCRLF(raw []byte) bool {
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] == '\r' && raw[i+1] == '\n' {
			return true
		}
	}

	return false
}
