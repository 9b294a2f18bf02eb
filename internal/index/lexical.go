package index

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/semidx/semidx/internal/model"
)

// LexicalIndex is the TF-IDF fallback ranking path. It is built once per
// document-store generation and never calls an embedding provider.
type LexicalIndex struct {
	docs      []model.Document
	postings  map[string]map[int]int // term -> position -> term frequency
	docTokens []int
}

func BuildLexical(docs []model.Document) *LexicalIndex {
	x := &LexicalIndex{
		docs:      docs,
		postings:  make(map[string]map[int]int),
		docTokens: make([]int, len(docs)),
	}
	for pos, d := range docs {
		tokens := Tokenize(d.Text)
		x.docTokens[pos] = len(tokens)
		for _, tok := range tokens {
			posting := x.postings[tok]
			if posting == nil {
				posting = make(map[int]int)
				x.postings[tok] = posting
			}
			posting[pos]++
		}
	}
	return x
}

// Search scores documents against the query terms:
// idf = ln(1 + N/(1+df)), per-document contribution (1 + ln(1+tf)) * idf,
// normalized by sqrt(max(1, docTokenCount)). Top limit by descending
// score, ties in corpus order, rounded to 4 decimals.
func (x *LexicalIndex) Search(query string, limit int) []model.SearchResult {
	if limit <= 0 {
		limit = DefaultTopK
	}
	scores := make(map[int]float64)
	n := float64(len(x.docs))
	for _, term := range Tokenize(query) {
		posting, ok := x.postings[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + n/(1+float64(len(posting))))
		for pos, tf := range posting {
			scores[pos] += (1 + math.Log(1+float64(tf))) * idf
		}
	}

	positions := make([]int, 0, len(scores))
	for pos := range scores {
		norm := math.Sqrt(math.Max(1, float64(x.docTokens[pos])))
		scores[pos] /= norm
		positions = append(positions, pos)
	}
	// corpus order first so equal scores stay deterministic
	sort.Ints(positions)
	sort.SliceStable(positions, func(i, j int) bool {
		return scores[positions[i]] > scores[positions[j]]
	})
	if limit < len(positions) {
		positions = positions[:limit]
	}
	results := make([]model.SearchResult, 0, len(positions))
	for _, pos := range positions {
		results = append(results, model.SearchResult{
			ID:    x.docs[pos].ID,
			Text:  x.docs[pos].Text,
			Score: round4(scores[pos]),
		})
	}
	return results
}

// Tokenize lowercases the text, extracts maximal runs of letters, digits
// and apostrophes, and drops stopwords.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if _, stop := stopwords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are",
		"was", "were", "be", "been", "being", "it", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "again",
		"further", "than", "so", "such", "into", "about", "between",
		"through", "during", "before", "after", "above", "below", "out",
		"off", "own", "same", "too", "very", "can", "will", "just",
		"should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
