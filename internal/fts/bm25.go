package fts

import "math"

// Scorer computes BM25 relevance scores for one index.
type Scorer struct {
	k1     float64
	b      float64
	docs   float64
	avgLen float64
}

// NewScorer builds a scorer from index-wide statistics. docCount and
// totalLen come from the index stats record; k1 and b from the index
// definition.
func NewScorer(k1, b float64, docCount, totalLen uint64) *Scorer {
	avg := 1.0
	if docCount > 0 {
		avg = float64(totalLen) / float64(docCount)
	}
	return &Scorer{k1: k1, b: b, docs: float64(docCount), avgLen: avg}
}

// IDF returns the inverse document frequency of a term appearing in
// docFreq documents. The +1 inside the log keeps the value positive for
// very common terms.
func (s *Scorer) IDF(docFreq uint64) float64 {
	df := float64(docFreq)
	return math.Log(1 + (s.docs-df+0.5)/(df+0.5))
}

// Score returns the BM25 contribution of one term for one document.
func (s *Scorer) Score(idf float64, termFreq uint32, docLen uint64) float64 {
	tf := float64(termFreq)
	norm := s.k1 * (1 - s.b + s.b*float64(docLen)/s.avgLen)
	return idf * tf * (s.k1 + 1) / (tf + norm)
}
