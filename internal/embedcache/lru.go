package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"

	"github.com/semidx/semidx/internal/provider"
)

// WrapLRU caches query embeddings in front of a provider so repeated
// identical queries skip the network round trip. Batch calls pass through
// untouched: the consistency manager already deduplicates those.
func WrapLRU(p provider.Provider, size int, ttl time.Duration) provider.Provider {
	if p == nil || size <= 0 || ttl <= 0 {
		return p
	}
	return &lruProvider{
		next:  p,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruProvider struct {
	next  provider.Provider
	cache *expirable.LRU[string, []float32]
}

func (l *lruProvider) Name() string {
	return l.next.Name()
}

func (l *lruProvider) Model() string {
	return l.next.Model()
}

func (l *lruProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(l.next.Model(), text)
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("query embedding cache hit")
		return cloneVector(cached), nil
	}
	vec, err := l.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, cloneVector(vec))
	return vec, nil
}

func (l *lruProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return l.next.EmbedBatch(ctx, texts)
}

func cacheKey(model, text string) string {
	hash := sha256.Sum256([]byte(text))
	return model + ":" + hex.EncodeToString(hash[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
