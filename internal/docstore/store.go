package docstore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/semidx/semidx/internal/model"
)

// idWidth is the zero-padding width for appended ids, so that numeric ids
// keep a stable lexical sort order.
const idWidth = 8

// Store holds the document collection parsed from a 2-field (id,text) or
// 3-field (id,text,embedding) record file. Append-only: documents are never
// removed once ingested.
type Store struct {
	mu     sync.RWMutex
	docs   []model.Document
	embeds [][]float32
	inline bool
	path   string
}

// Load parses the collection at path. Quoted fields may contain the field
// separator; a doubled quote inside a quoted field is an escaped quote.
// Rows with empty text are skipped with a warning. A missing id is assigned
// from the current document count.
func Load(ctx context.Context, path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	s := &Store{path: path}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	logger := logutil.GetLogger(ctx).With(zap.String("path", path))
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse store row %d: %w", line+1, err)
		}
		line++
		if len(record) != 2 && len(record) != 3 {
			return nil, fmt.Errorf("parse store row %d: want 2 or 3 fields, got %d", line, len(record))
		}
		id, text := record[0], record[1]
		if text == "" {
			logger.Warn("skipping row with empty text", zap.Int("row", line), zap.String("id", id))
			continue
		}
		if id == "" {
			id = strconv.Itoa(len(s.docs) + 1)
		}
		var vec []float32
		if len(record) == 3 {
			s.inline = true
			if record[2] != "" {
				if err := json.Unmarshal([]byte(record[2]), &vec); err != nil {
					return nil, fmt.Errorf("parse store row %d embedding: %w", line, err)
				}
			}
		}
		s.docs = append(s.docs, model.Document{ID: id, Text: text})
		s.embeds = append(s.embeds, vec)
	}
	logger.Info("store loaded", zap.Int("documents", len(s.docs)))
	return s, nil
}

// New builds an empty in-memory store, used by tests and imports.
func New(path string) *Store {
	return &Store{path: path}
}

// Reload re-reads the backing file, replacing the in-memory collection.
// Serve mode uses this to pick up documents edited on disk.
func (s *Store) Reload(ctx context.Context) error {
	fresh, err := Load(ctx, s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = fresh.docs
	s.embeds = fresh.embeds
	s.inline = fresh.inline
	return nil
}

func (s *Store) Path() string {
	return s.path
}

// Inline reports whether the store uses the unified 3-field layout with
// embeddings carried per row.
func (s *Store) Inline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inline
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) Get(i int) model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[i]
}

// Documents returns a copy of the document slice.
func (s *Store) Documents() []model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// InlineEmbeddings returns the vectors parsed from a 3-field file, parallel
// to Documents. Entries are nil for rows without an inline embedding.
func (s *Store) InlineEmbeddings() [][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]float32, len(s.embeds))
	copy(out, s.embeds)
	return out
}

// Append adds new texts to the store, assigning ids from the highest
// numeric id seen so far, zero-padded for stable lexical sorting.
// Empty texts are skipped with a warning, mirroring ingest.
func (s *Store) Append(ctx context.Context, texts []string) []model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.maxNumericIDLocked() + 1
	logger := logutil.GetLogger(ctx)
	var added []model.Document
	for _, text := range texts {
		if text == "" {
			logger.Warn("skipping appended document with empty text")
			continue
		}
		doc := model.Document{
			ID:   fmt.Sprintf("%0*d", idWidth, next),
			Text: text,
		}
		next++
		s.docs = append(s.docs, doc)
		s.embeds = append(s.embeds, nil)
		added = append(added, doc)
	}
	return added
}

func (s *Store) maxNumericIDLocked() int64 {
	var max int64
	for _, d := range s.docs {
		if n, err := strconv.ParseInt(d.ID, 10, 64); err == nil && n > max {
			max = n
		}
	}
	return max
}

// Save writes the collection back to path. With embeds non-nil the unified
// 3-field format is written, embeddings inlined as JSON arrays (empty field
// for positions without a vector); otherwise the 2-field format.
func (s *Store) Save(path string, embeds [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if embeds != nil && len(embeds) != len(s.docs) {
		return fmt.Errorf("save store: %d embeddings for %d documents", len(embeds), len(s.docs))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create store file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for i, d := range s.docs {
		record := []string{d.ID, d.Text}
		if embeds != nil {
			field := ""
			if embeds[i] != nil {
				blob, err := json.Marshal(embeds[i])
				if err != nil {
					return fmt.Errorf("encode embedding %d: %w", i, err)
				}
				field = string(blob)
			}
			record = append(record, field)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write store row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	s.inline = embeds != nil
	return nil
}
