package champion

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// BM25 parameters. k1 controls term-frequency saturation, b controls
// document-length normalization.
const (
	defaultK1 = 1.2
	defaultB  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

type indexedCase struct {
	c      Case
	terms  map[string]int // term frequency in the question text
	length int
}

// Retriever ranks champion cases against a query by lexical BM25 similarity,
// normalized to [0, 1) so callers can apply a confidence threshold. The
// index is built once from the store and never mutated afterwards, which
// makes Query idempotent for identical inputs.
type Retriever struct {
	mu        sync.RWMutex
	cases     []indexedCase
	df        map[string]int
	avgDocLen float64
	k1        float64
	b         float64
}

// NewRetriever builds a retriever from all cases in the store.
func NewRetriever(ctx context.Context, store *Store) (*Retriever, error) {
	cases, err := store.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewRetrieverFromCases(cases), nil
}

// NewRetrieverFromCases builds a retriever over an in-memory case list.
func NewRetrieverFromCases(cases []Case) *Retriever {
	r := &Retriever{
		df: make(map[string]int),
		k1: defaultK1,
		b:  defaultB,
	}

	totalLen := 0
	for _, c := range cases {
		tokens := tokenize(c.Question)
		terms := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			terms[tok]++
		}
		for term := range terms {
			r.df[term]++
		}
		totalLen += len(tokens)
		r.cases = append(r.cases, indexedCase{c: c, terms: terms, length: len(tokens)})
	}
	if len(r.cases) > 0 {
		r.avgDocLen = float64(totalLen) / float64(len(r.cases))
	}
	return r
}

// Query returns the topK cases most similar to text, excluding any below
// minSimilarity. An empty result is a valid outcome, not an error; the
// planner proceeds without bias.
func (r *Retriever) Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	queryTerms := tokenize(text)
	if len(queryTerms) == 0 || len(r.cases) == 0 {
		return nil, nil
	}

	// Deduplicate query terms; BM25 treats repeated query terms linearly and
	// duplicates only skew short questions.
	seen := make(map[string]bool, len(queryTerms))
	terms := queryTerms[:0]
	for _, t := range queryTerms {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	// The maximum achievable score for this query bounds every document
	// score, giving a normalized similarity in [0, 1).
	maxScore := 0.0
	for _, term := range terms {
		maxScore += r.idf(term) * (r.k1 + 1)
	}
	if maxScore == 0 {
		return nil, nil
	}

	scored := make([]Case, 0, len(r.cases))
	for _, doc := range r.cases {
		score := r.score(terms, doc)
		similarity := score / maxScore
		if similarity < minSimilarity || similarity <= 0 {
			continue
		}
		c := doc.c
		c.Similarity = similarity
		scored = append(scored, c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (r *Retriever) idf(term string) float64 {
	df := r.df[term]
	if df == 0 {
		return 0
	}
	n := float64(len(r.cases))
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

func (r *Retriever) score(terms []string, doc indexedCase) float64 {
	score := 0.0
	for _, term := range terms {
		tf := float64(doc.terms[term])
		if tf == 0 {
			continue
		}
		norm := 1 - r.b + r.b*float64(doc.length)/r.avgDocLen
		score += r.idf(term) * (tf * (r.k1 + 1)) / (tf + r.k1*norm)
	}
	return score
}

// Len returns the number of indexed cases.
func (r *Retriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cases)
}
