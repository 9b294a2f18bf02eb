package model

// Document is the unit of indexing: a short text identified by a stable id.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SearchResult is one ranked hit. Score is cosine similarity (or the
// lexical TF-IDF score), rounded to 4 decimal places.
type SearchResult struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}
