package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/semidx/semidx/internal/model"
	errs "github.com/semidx/semidx/internal/pkg/errors"
	"github.com/semidx/semidx/internal/snapstore"
)

// Manager owns the cache snapshot: it decides which document positions
// still need embedding for a given store + model, and persists results
// after every committed batch. Losing the persisted cache is recoverable
// (recompute); serving vectors for the wrong text is not, so validity is
// full content equality, never a sample.
type Manager struct {
	store snapstore.Store

	mu   sync.Mutex
	snap *model.CacheSnapshot
}

func NewManager(store snapstore.Store) *Manager {
	return &Manager{store: store, snap: model.EmptySnapshot("")}
}

// Load reads the persisted snapshot. A missing, unreadable or corrupt
// snapshot starts an empty generation: everything gets recomputed, which
// is always safe.
func (m *Manager) Load(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger := logutil.GetLogger(ctx)

	data, err := m.store.Load(ctx)
	if errors.Is(err, errs.ErrNotFound) {
		m.snap = model.EmptySnapshot("")
		return
	}
	if err != nil {
		logger.Warn("snapshot load failed, starting empty", zap.Error(err))
		m.snap = model.EmptySnapshot("")
		return
	}
	var snap model.CacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warn("snapshot discarded", zap.Error(fmt.Errorf("%w: %v", errs.ErrCacheCorrupt, err)))
		m.snap = model.EmptySnapshot("")
		return
	}
	if len(snap.Docs) != len(snap.Embeddings) {
		logger.Warn("snapshot discarded",
			zap.Error(fmt.Errorf("%w: %d docs, %d embeddings", errs.ErrCacheCorrupt, len(snap.Docs), len(snap.Embeddings))))
		m.snap = model.EmptySnapshot("")
		return
	}
	m.snap = &snap
	logger.Info("snapshot loaded",
		zap.Int("documents", len(snap.Docs)),
		zap.String("model", snap.Model),
		zap.Int("dimensions", snap.Dimensions),
	)
}

// Diff returns the positions that need (re)computation for the given
// documents and model. On a count, content, or model mismatch the
// snapshot is replaced wholesale and every position needs compute. When
// only some embeddings are missing (appended documents), just those
// positions are returned.
func (m *Manager) Diff(ctx context.Context, docs []model.Document, modelID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.validLocked(docs, modelID):
		// incremental path: only nil positions below
	case m.extendsLocked(docs, modelID):
		// documents were appended to an otherwise identical store: keep
		// the computed prefix and add empty positions for the new docs
		logutil.GetLogger(ctx).Info("snapshot extended for appended documents",
			zap.Int("known", len(m.snap.Docs)), zap.Int("documents", len(docs)))
		m.extendLocked(docs)
	default:
		logutil.GetLogger(ctx).Info("snapshot stale, scheduling full recompute",
			zap.Int("documents", len(docs)), zap.String("model", modelID))
		m.replaceLocked(docs, modelID)
	}
	var positions []int
	for i, emb := range m.snap.Embeddings {
		if emb == nil {
			positions = append(positions, i)
		}
	}
	return positions
}

// Replace discards the current snapshot wholesale and starts an empty
// generation for the given documents and model.
func (m *Manager) Replace(docs []model.Document, modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceLocked(docs, modelID)
}

func (m *Manager) replaceLocked(docs []model.Document, modelID string) {
	snapDocs := make([]model.Document, len(docs))
	copy(snapDocs, docs)
	m.snap = &model.CacheSnapshot{
		Docs:       snapDocs,
		Embeddings: make([][]float32, len(docs)),
		Model:      modelID,
		Timestamp:  time.Now().UTC(),
	}
}

func (m *Manager) extendsLocked(docs []model.Document, modelID string) bool {
	if m.snap.Model != modelID || len(m.snap.Docs) == 0 || len(m.snap.Docs) >= len(docs) {
		return false
	}
	return corpusHash(docs[:len(m.snap.Docs)]) == corpusHash(m.snap.Docs)
}

func (m *Manager) extendLocked(docs []model.Document) {
	for i := len(m.snap.Docs); i < len(docs); i++ {
		m.snap.Docs = append(m.snap.Docs, docs[i])
		m.snap.Embeddings = append(m.snap.Embeddings, nil)
	}
}

// validLocked applies the full-equality rule: counts match, every (id,
// text) pair is identical (compared via a content hash over the whole
// corpus), and the model matches.
func (m *Manager) validLocked(docs []model.Document, modelID string) bool {
	if m.snap.Model != modelID {
		return false
	}
	if len(m.snap.Docs) != len(docs) {
		return false
	}
	return corpusHash(m.snap.Docs) == corpusHash(docs)
}

// Commit stores vectors for the given positions and persists the snapshot
// before returning, checkpointing progress. Persistence failures are
// logged and swallowed: the in-memory state keeps serving and the cache
// can always be rebuilt.
func (m *Manager) Commit(ctx context.Context, positions []int, vecs [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(positions) != len(vecs) {
		return fmt.Errorf("%w: %d positions, %d vectors", errs.ErrValidation, len(positions), len(vecs))
	}
	for i, pos := range positions {
		if pos < 0 || pos >= len(m.snap.Embeddings) {
			return fmt.Errorf("%w: position %d out of range", errs.ErrValidation, pos)
		}
		if m.snap.Dimensions == 0 {
			m.snap.Dimensions = len(vecs[i])
		} else if len(vecs[i]) != m.snap.Dimensions {
			return fmt.Errorf("%w: vector at position %d has %d dimensions, index has %d",
				errs.ErrValidation, pos, len(vecs[i]), m.snap.Dimensions)
		}
	}
	for i, pos := range positions {
		m.snap.Embeddings[pos] = vecs[i]
	}
	m.snap.Timestamp = time.Now().UTC()

	data, err := json.Marshal(m.snap)
	if err != nil {
		logutil.GetLogger(ctx).Warn("snapshot encode failed", zap.Error(err))
		return nil
	}
	if err := m.store.Save(ctx, data); err != nil {
		logutil.GetLogger(ctx).Warn("snapshot persist failed", zap.Error(err))
	}
	return nil
}

// Snapshot returns a read-only view: the slice headers are copied so the
// caller cannot grow or reorder the snapshot, but shares vector storage.
func (m *Manager) Snapshot() model.CacheSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]model.Document, len(m.snap.Docs))
	copy(docs, m.snap.Docs)
	embeds := make([][]float32, len(m.snap.Embeddings))
	copy(embeds, m.snap.Embeddings)
	return model.CacheSnapshot{
		Docs:       docs,
		Embeddings: embeds,
		Model:      m.snap.Model,
		Dimensions: m.snap.Dimensions,
		Timestamp:  m.snap.Timestamp,
	}
}

func corpusHash(docs []model.Document) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	var lenBuf [8]byte
	for _, d := range docs {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(d.ID)))
		h.Write(lenBuf[:])
		h.Write([]byte(d.ID))
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(d.Text)))
		h.Write(lenBuf[:])
		h.Write([]byte(d.Text))
	}
	var sum [blake2b.Size256]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
