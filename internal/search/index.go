// Package search implements the local retrieval corpus behind the pre-search
// phase. A corpus is built once from a Markdown knowledge file and is
// read-only afterwards, so a single Index is safe to share across rounds.
//
// Parsing is heading-aware: every snippet remembers the nearest enclosing
// heading as its section, and table rows are flattened into standalone facts
// so tabular knowledge stays retrievable. Ranking uses Jaccard similarity
// between the query token set and each snippet's token set, with a
// deterministic tie-break so equal scores always come back in the same order.
package search

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Result is one ranked corpus snippet.
type Result struct {
	// Section is the nearest Markdown heading above the snippet, if any.
	Section string
	Snippet string
	Score   float64
}

// Index answers top-k retrieval queries over a fixed corpus.
type Index interface {
	TopK(query string, k int) []Result
}

// Option configures corpus construction.
type Option func(*options)

type options struct {
	minSnippetRunes int
	stopwords       map[string]struct{}
	maxEntries      int
}

// WithMinSnippetRunes drops snippets shorter than n runes. Zero keeps
// everything; the default filters fragments under 40 runes.
func WithMinSnippetRunes(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.minSnippetRunes = n
		}
	}
}

// WithStopwords excludes the given words from tokenization on both the corpus
// and the query side.
func WithStopwords(words []string) Option {
	return func(o *options) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			o.stopwords = m
		}
	}
}

// WithMaxEntries caps the corpus size; extra snippets are ignored.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

type entry struct {
	section string
	text    string
	tokens  map[string]struct{}
}

type corpusIndex struct {
	opts    options
	entries []entry
}

// NewIndexFromMarkdown builds an Index from the Markdown file at path. On a
// read error the returned Index is empty but still usable.
func NewIndexFromMarkdown(path string, opts ...Option) (Index, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return &corpusIndex{opts: buildOptions(opts)}, err
	}
	return NewIndexFromReader(bytes.NewReader(b), opts...)
}

// NewIndexFromReader builds an Index from Markdown text provided by r.
func NewIndexFromReader(r io.Reader, opts ...Option) (Index, error) {
	o := buildOptions(opts)
	all, err := io.ReadAll(r)
	if err != nil {
		return &corpusIndex{opts: o}, err
	}
	return newCorpus(parseMarkdown(string(all)), o), nil
}

// NewIndexFromStrings builds an Index from pre-split snippets with no section
// information. Useful for tests and for degraded startup with no corpus file.
func NewIndexFromStrings(snippets []string, opts ...Option) Index {
	facts := make([]fact, 0, len(snippets))
	for _, s := range snippets {
		facts = append(facts, fact{text: s})
	}
	return newCorpus(facts, buildOptions(opts))
}

func buildOptions(opts []Option) options {
	o := options{minSnippetRunes: 40}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func newCorpus(facts []fact, o options) *corpusIndex {
	idx := &corpusIndex{opts: o}
	for _, f := range facts {
		text := strings.TrimSpace(collapseSpaces(f.text))
		if text == "" {
			continue
		}
		if o.minSnippetRunes > 0 && utf8.RuneCountInString(text) < o.minSnippetRunes {
			continue
		}
		toks := tokenize(text, o.stopwords)
		if len(toks) == 0 {
			continue
		}
		idx.entries = append(idx.entries, entry{section: f.section, text: text, tokens: toks})
		if o.maxEntries > 0 && len(idx.entries) >= o.maxEntries {
			break
		}
	}
	return idx
}

// TopK returns up to k snippets ranked by Jaccard similarity to the query.
// Ties break toward shorter snippets, then lexicographically.
func (x *corpusIndex) TopK(query string, k int) []Result {
	if len(x.entries) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(query, x.opts.stopwords)
	if len(qTokens) == 0 {
		return nil
	}

	scored := make([]Result, 0, len(x.entries))
	for _, e := range x.entries {
		if s := jaccard(qTokens, e.tokens); s > 0 {
			scored = append(scored, Result{Section: e.section, Snippet: e.text, Score: s})
		}
	}
	if len(scored) == 0 {
		return nil
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		la, lb := utf8.RuneCountInString(scored[a].Snippet), utf8.RuneCountInString(scored[b].Snippet)
		if la != lb {
			return la < lb
		}
		return scored[a].Snippet < scored[b].Snippet
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// ----------------------------------------------------------------------------
// Markdown parsing

// fact is one retrievable unit extracted from the corpus file.
type fact struct {
	section string
	text    string
}

var headingRE = regexp.MustCompile(`^#{1,6}\s+(.*)$`)

// parseMarkdown splits Markdown into facts. Paragraphs split on blank lines,
// table rows become one fact each, and headings set the section for
// everything below them without producing facts themselves.
func parseMarkdown(text string) []fact {
	var (
		facts   []fact
		section string
		para    []string
	)
	flush := func() {
		if len(para) > 0 {
			facts = append(facts, fact{section: section, text: strings.Join(para, " ")})
			para = para[:0]
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case headingRE.MatchString(line):
			flush()
			section = strings.TrimSpace(headingRE.FindStringSubmatch(line)[1])
		case strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|"):
			flush()
			if row := flattenTableRow(line); row != "" {
				facts = append(facts, fact{section: section, text: row})
			}
		default:
			para = append(para, line)
		}
	}
	flush()
	return facts
}

// flattenTableRow joins the cells of a Markdown table row into one line of
// text. Separator rows (|---|:--:|) collapse to empty and are dropped.
func flattenTableRow(line string) string {
	cells := strings.Split(strings.Trim(line, "|"), "|")
	kept := make([]string, 0, len(cells))
	ruleOnly := true
	for _, c := range cells {
		cell := strings.TrimSpace(c)
		if cell != "" {
			kept = append(kept, cell)
		}
		if strings.Trim(cell, ":-") != "" {
			ruleOnly = false
		}
	}
	if ruleOnly || len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, " ")
}

// ----------------------------------------------------------------------------
// Tokenization and scoring

var tokenRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := tokenRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// jaccard is |A ∩ B| / |A ∪ B| over token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	if inter == 0 {
		return 0
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
