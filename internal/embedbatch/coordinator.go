package embedbatch

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	errs "github.com/semidx/semidx/internal/pkg/errors"
	"github.com/semidx/semidx/internal/provider"
)

type Config struct {
	// BatchSize is the number of texts per provider call.
	BatchSize int
	// InterBatchDelay paces consecutive batches. Batches run strictly
	// sequentially; the delay keeps the provider's rate limit happy.
	InterBatchDelay time.Duration
	// BackoffBase scales the linear retry backoff: the n-th retry of a
	// batch waits n*BackoffBase.
	BackoffBase time.Duration
	// MaxRetries is the attempt budget per batch for rate-limit failures.
	MaxRetries int
	// WarmupDelay precedes the first batch, letting a previously tripped
	// rate limit fully reset.
	WarmupDelay time.Duration
}

// Checkpoint is invoked after every successfully embedded batch with the
// offset of the batch within the input and its vectors, before the next
// batch starts. A crash mid-run therefore loses at most one batch.
type Checkpoint func(offset int, vecs [][]float32)

// Coordinator obtains vectors for an ordered list of texts while respecting
// the provider's rate limits. Batches are never fanned out concurrently.
type Coordinator struct {
	provider provider.Provider
	cfg      Config
	pacer    *rate.Limiter
}

func New(p provider.Provider, cfg Config) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	var pacer *rate.Limiter
	if cfg.InterBatchDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.InterBatchDelay), 1)
	}
	return &Coordinator{provider: p, cfg: cfg, pacer: pacer}
}

// Run embeds all texts in order. On success the result has exactly one
// vector per text. Any failure returns a nil result and a BatchError naming
// the failing batch; batches already passed to checkpoint stay committed.
func (c *Coordinator) Run(ctx context.Context, texts []string, checkpoint Checkpoint) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("provider", c.provider.Name()),
		zap.Int("texts", len(texts)),
		zap.Int("batch_size", c.cfg.BatchSize),
	)
	if c.cfg.WarmupDelay > 0 {
		if err := sleep(ctx, c.cfg.WarmupDelay); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, 0, len(texts))
	batch := 0
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		vecs, err := c.embedWithRetry(ctx, texts[start:end], batch, logger)
		if err != nil {
			return nil, &errs.BatchError{Batch: batch, From: start, To: end - 1, Err: err}
		}
		if len(vecs) != end-start {
			return nil, &errs.BatchError{
				Batch: batch, From: start, To: end - 1,
				Err: &errs.CountMismatchError{Want: end - start, Got: len(vecs)},
			}
		}
		out = append(out, vecs...)
		if checkpoint != nil {
			checkpoint(start, vecs)
		}
		logger.Debug("batch embedded", zap.Int("batch", batch), zap.Int("done", end))
		batch++
	}
	return out, nil
}

func (c *Coordinator) embedWithRetry(ctx context.Context, batch []string, index int, logger *zap.Logger) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*c.cfg.BackoffBase); err != nil {
				return nil, err
			}
		}
		vecs, err := c.provider.EmbedBatch(ctx, batch)
		if err == nil {
			return vecs, nil
		}
		if !errs.IsRateLimit(err) {
			// structural failure: no retry, bubble up immediately
			return nil, err
		}
		lastErr = err
		logger.Warn("rate limited, backing off",
			zap.Int("batch", index),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, &errs.RetryExhaustedError{Attempts: c.cfg.MaxRetries, Err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
