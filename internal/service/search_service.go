package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/semidx/semidx/internal/cache"
	"github.com/semidx/semidx/internal/docstore"
	"github.com/semidx/semidx/internal/embedbatch"
	"github.com/semidx/semidx/internal/index"
	"github.com/semidx/semidx/internal/ingest"
	"github.com/semidx/semidx/internal/model"
	appErr "github.com/semidx/semidx/internal/pkg/errors"
	"github.com/semidx/semidx/internal/provider"
)

// VectorBackend is the database-backed index surface used when the
// postgres backend is configured. Implemented by repo.VectorRepo.
type VectorBackend interface {
	Sync(ctx context.Context, docs []model.Document) error
	ListMissing(ctx context.Context, limit uint) ([]model.Document, error)
	SaveEmbedding(ctx context.Context, originalID string, embedding []float32) error
	Search(ctx context.Context, query []float32, limit int) ([]model.SearchResult, error)
	TextSearch(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
}

// SearchService drives the indexing pipeline and answers queries. The
// corpus lives in a CSV document store; embeddings come from the provider
// through the batch coordinator and are checkpointed into the cache
// manager after every batch. Queries run against either the in-memory
// index or, when a vector repo is configured, postgres.
type SearchService struct {
	store    *docstore.Store
	cache    *cache.Manager
	coord    *embedbatch.Coordinator
	provider provider.Provider
	mem      *index.MemoryIndex
	lex      atomic.Pointer[index.LexicalIndex]
	vectors  VectorBackend
	topK     int
	loadOnce sync.Once
}

func NewSearchService(store *docstore.Store, mgr *cache.Manager, coord *embedbatch.Coordinator, prov provider.Provider, vectors VectorBackend, topK int) *SearchService {
	if topK <= 0 {
		topK = index.DefaultTopK
	}
	return &SearchService{
		store:    store,
		cache:    mgr,
		coord:    coord,
		provider: prov,
		mem:      index.NewMemoryIndex(),
		vectors:  vectors,
		topK:     topK,
	}
}

// Refresh brings the index in line with the document store: it loads the
// persisted snapshot on first call, embeds whatever the snapshot is missing,
// and swaps the query indexes. Embeddings computed before a failure stay
// committed, so a retry resumes where the previous run stopped.
func (s *SearchService) Refresh(ctx context.Context) error {
	s.loadOnce.Do(func() { s.cache.Load(ctx) })
	docs := s.store.Documents()
	logger := logutil.GetLogger(ctx).With(zap.Int("documents", len(docs)))

	if s.vectors != nil {
		if err := s.refreshPostgres(ctx, docs); err != nil {
			return err
		}
		logger.Info("index refreshed")
		return nil
	}

	// The lexical index needs no provider; swapping it in before the
	// embedding work keeps it serving through a provider outage.
	s.lex.Store(index.BuildLexical(docs))

	if err := s.refreshMemory(ctx, docs); err != nil {
		return err
	}
	logger.Info("index refreshed")
	return nil
}

func (s *SearchService) refreshMemory(ctx context.Context, docs []model.Document) error {
	positions := s.cache.Diff(ctx, docs, s.provider.Model())
	positions = s.seedInline(ctx, positions)
	if len(positions) > 0 {
		texts := make([]string, len(positions))
		for i, pos := range positions {
			texts[i] = docs[pos].Text
		}
		_, err := s.coord.Run(ctx, texts, func(offset int, vecs [][]float32) {
			if err := s.cache.Commit(ctx, positions[offset:offset+len(vecs)], vecs); err != nil {
				logutil.GetLogger(ctx).Warn("checkpoint rejected", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("embed corpus: %w", err)
		}
	}
	snap := s.cache.Snapshot()
	if !snap.Complete() {
		return fmt.Errorf("%w: snapshot incomplete after refresh", appErr.ErrCacheCorrupt)
	}
	return s.mem.Swap(snap.Docs, snap.Embeddings)
}

func (s *SearchService) refreshPostgres(ctx context.Context, docs []model.Document) error {
	if err := s.vectors.Sync(ctx, docs); err != nil {
		return fmt.Errorf("sync documents: %w", err)
	}
	missing, err := s.vectors.ListMissing(ctx, 0)
	if err != nil {
		return fmt.Errorf("list missing embeddings: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}
	texts := make([]string, len(missing))
	for i, doc := range missing {
		texts[i] = doc.Text
	}
	// Unlike the snapshot cache, the database IS the index here: a failed
	// write means the vectors are gone and the whole corpus would re-embed
	// on the next run, so persistence failures abort the refresh.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var persistErr error
	_, err = s.coord.Run(runCtx, texts, func(offset int, vecs [][]float32) {
		if persistErr != nil {
			return
		}
		for i, vec := range vecs {
			if err := s.vectors.SaveEmbedding(ctx, missing[offset+i].ID, vec); err != nil {
				persistErr = fmt.Errorf("persist embedding %s: %w", missing[offset+i].ID, err)
				cancel()
				return
			}
		}
	})
	if persistErr != nil {
		return persistErr
	}
	if err != nil {
		return fmt.Errorf("embed corpus: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest documents, best first.
func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", appErr.ErrValidation)
	}
	if limit <= 0 {
		limit = s.topK
	}
	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if s.vectors != nil {
		return s.vectors.Search(ctx, vec, limit)
	}
	return s.mem.Search(ctx, vec, limit)
}

// LexicalSearch ranks documents against the query without any provider
// round trip: tf-idf over the in-memory index, or postgres full text
// search when the database backend is configured.
func (s *SearchService) LexicalSearch(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", appErr.ErrValidation)
	}
	if limit <= 0 {
		limit = s.topK
	}
	if s.vectors != nil {
		return s.vectors.TextSearch(ctx, query, limit)
	}
	lex := s.lex.Load()
	if lex == nil {
		return []model.SearchResult{}, nil
	}
	return lex.Search(query, limit), nil
}

// Append adds new texts to the document store, persists the store, and
// refreshes: only the appended positions get embedded.
func (s *SearchService) Append(ctx context.Context, texts []string) ([]model.Document, error) {
	added := s.store.Append(ctx, texts)
	if len(added) == 0 {
		return nil, fmt.Errorf("%w: no non-empty texts to append", appErr.ErrValidation)
	}
	// A store loaded from the unified layout keeps its inline vectors on
	// rewrite. Appended rows have none yet, so their third field is empty.
	var embeds [][]float32
	if s.store.Inline() {
		embeds = s.store.InlineEmbeddings()
	}
	if err := s.store.Save(s.store.Path(), embeds); err != nil {
		return nil, err
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return added, nil
}

// seedInline commits vectors carried inline by a 3-field store file for
// the given pending positions, so they are never sent back to the provider.
// Returns the positions that still need compute.
func (s *SearchService) seedInline(ctx context.Context, positions []int) []int {
	if len(positions) == 0 {
		return positions
	}
	inline := s.store.InlineEmbeddings()
	var seedPos []int
	var seedVecs [][]float32
	var remaining []int
	for _, pos := range positions {
		if pos < len(inline) && inline[pos] != nil {
			seedPos = append(seedPos, pos)
			seedVecs = append(seedVecs, inline[pos])
			continue
		}
		remaining = append(remaining, pos)
	}
	if len(seedPos) == 0 {
		return positions
	}
	if err := s.cache.Commit(ctx, seedPos, seedVecs); err != nil {
		logutil.GetLogger(ctx).Warn("inline embeddings rejected, recomputing", zap.Error(err))
		return positions
	}
	logutil.GetLogger(ctx).Info("inline embeddings adopted", zap.Int("seeded", len(seedPos)))
	return remaining
}

// MigrateInline unifies the split layout into a single 3-field store file:
// the collection is refreshed so every document has a vector, then the
// file is rewritten with the embeddings inlined per row.
func (s *SearchService) MigrateInline(ctx context.Context) error {
	if s.vectors != nil {
		return fmt.Errorf("%w: migrate needs the memory index backend", appErr.ErrValidation)
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	snap := s.cache.Snapshot()
	if err := s.store.Save(s.store.Path(), snap.Embeddings); err != nil {
		return fmt.Errorf("rewrite store: %w", err)
	}
	logutil.GetLogger(ctx).Info("embeddings inlined into store",
		zap.Int("documents", len(snap.Docs)))
	return nil
}

// ImportMarkdown splits markdown into sections and appends each as a
// document. Path may be a single file or a directory of .md files, which
// are imported in name order.
func (s *SearchService) ImportMarkdown(ctx context.Context, path string) ([]model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat import path: %w", err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.md"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
	}
	var sections []string
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read markdown: %w", err)
		}
		sections = append(sections, ingest.MarkdownSections(ctx, string(raw))...)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: no markdown content under %s", appErr.ErrValidation, path)
	}
	return s.Append(ctx, sections)
}

// Resync reloads the document store from disk and refreshes, picking up
// rows edited or appended outside the process.
func (s *SearchService) Resync(ctx context.Context) error {
	if err := s.store.Reload(ctx); err != nil {
		return fmt.Errorf("reload store: %w", err)
	}
	return s.Refresh(ctx)
}

// Count reports the number of documents in the store.
func (s *SearchService) Count() int {
	return s.store.Count()
}
