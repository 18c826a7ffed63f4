// Package lexical implements an in-memory BM25 postings index used as the
// keyword half of hybrid retrieval, alongside the vector store's semantic
// half. There is no ecosystem BM25 library in the dependency set this
// module draws from, so the scoring function is implemented directly
// against the Okapi BM25 formula.
package lexical

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Params tunes the BM25 scoring function.
type Params struct {
	K1      float64
	B       float64
	Epsilon float64 // floor applied to idf to avoid negative weights on very common terms
}

// DefaultParams matches the conventional Okapi BM25 defaults.
func DefaultParams() Params {
	return Params{K1: 1.2, B: 0.75, Epsilon: 0.25}
}

type posting struct {
	docID     string
	termFreqs map[string]int
	length    int
}

// Index is a per-knowledge-base inverted index over chunk text.
type Index struct {
	mu       sync.RWMutex
	params   Params
	docs     map[string]*posting
	docFreq  map[string]int // number of docs containing each term
	totalLen int
}

// New creates an empty Index with the given scoring parameters.
func New(params Params) *Index {
	return &Index{
		params:  params,
		docs:    make(map[string]*posting),
		docFreq: make(map[string]int),
	}
}

// Upsert indexes or reindexes the text for docID, replacing any prior
// entry for the same ID.
func (idx *Index) Upsert(docID, text string) {
	terms := tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.docs[docID]; ok {
		idx.removeLocked(old)
	}

	freqs := make(map[string]int, len(terms))
	for _, t := range terms {
		freqs[t]++
	}
	p := &posting{docID: docID, termFreqs: freqs, length: len(terms)}
	idx.docs[docID] = p
	idx.totalLen += p.length
	for t := range freqs {
		idx.docFreq[t]++
	}
}

// Delete removes docID from the index.
func (idx *Index) Delete(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p, ok := idx.docs[docID]
	if !ok {
		return
	}
	idx.removeLocked(p)
	delete(idx.docs, docID)
}

func (idx *Index) removeLocked(p *posting) {
	idx.totalLen -= p.length
	for t := range p.termFreqs {
		idx.docFreq[t]--
		if idx.docFreq[t] <= 0 {
			delete(idx.docFreq, t)
		}
	}
}

// Result is one scored match from Search.
type Result struct {
	ID    string
	Score float64
}

// Search scores every indexed document against query and returns the
// topK highest-scoring results in descending order. Documents that share
// no terms with the query score zero and are excluded.
func (idx *Index) Search(query string, topK int) []Result {
	qTerms := tokenize(query)
	if len(qTerms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := float64(len(idx.docs))
	if n == 0 {
		return nil
	}
	avgLen := float64(idx.totalLen) / n

	idf := make(map[string]float64, len(qTerms))
	for _, t := range qTerms {
		df := float64(idx.docFreq[t])
		raw := math.Log((n-df+0.5)/(df+0.5) + 1)
		if raw < idx.params.Epsilon {
			raw = idx.params.Epsilon
		}
		idf[t] = raw
	}

	var results []Result
	for docID, p := range idx.docs {
		var score float64
		for _, t := range qTerms {
			f := float64(p.termFreqs[t])
			if f == 0 {
				continue
			}
			numerator := f * (idx.params.K1 + 1)
			denominator := f + idx.params.K1*(1-idx.params.B+idx.params.B*float64(p.length)/avgLen)
			score += idf[t] * numerator / denominator
		}
		if score > 0 {
			results = append(results, Result{ID: docID, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
