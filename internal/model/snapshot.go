package model

import "time"

// CacheSnapshot is the persisted embedding state for one generation of a
// document store. Docs and Embeddings are parallel; a nil embedding means
// "not yet computed". The snapshot is owned by the consistency manager;
// everyone else gets a read-only view.
type CacheSnapshot struct {
	Docs       []Document  `json:"docs"`
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Timestamp  time.Time   `json:"timestamp"`
}

// EmptySnapshot returns a snapshot with no documents for the given model.
func EmptySnapshot(model string) *CacheSnapshot {
	return &CacheSnapshot{Model: model, Timestamp: time.Now().UTC()}
}

// Complete reports whether every position has a computed embedding.
func (s *CacheSnapshot) Complete() bool {
	if len(s.Docs) != len(s.Embeddings) {
		return false
	}
	for _, e := range s.Embeddings {
		if e == nil {
			return false
		}
	}
	return true
}
