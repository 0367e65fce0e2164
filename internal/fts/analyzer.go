// Package fts provides the text analyzer and BM25 relevance scoring used by
// full-text indexes. It is deliberately storage-agnostic; postings live in
// the transactional key-value store and are read by the execution layer.
package fts

import (
	"strings"
	"unicode"
)

// stopwords are dropped during analysis. The list is intentionally small;
// full-text indexes store short titles and bodies, not prose corpora.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "with": {},
}

// Analyzer splits text into normalized terms.
type Analyzer struct {
	// MinTermLength drops terms shorter than this after normalization.
	MinTermLength int
}

// NewAnalyzer returns an analyzer with the default minimum term length of 2.
func NewAnalyzer() *Analyzer {
	return &Analyzer{MinTermLength: 2}
}

// Analyze lowercases the input, splits on any non-letter non-digit rune and
// drops stopwords and short terms. Duplicate terms are preserved so callers
// can derive term frequencies.
func (a *Analyzer) Analyze(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < a.MinTermLength {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// UniqueTerms returns the distinct terms of a query, preserving first-seen
// order.
func (a *Analyzer) UniqueTerms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, term := range a.Analyze(text) {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
