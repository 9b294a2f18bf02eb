package embedbatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errs "github.com/semidx/semidx/internal/pkg/errors"
)

// stubProvider fails the first failures calls with the scripted error, then
// returns index-tagged vectors.
type stubProvider struct {
	failures int
	err      error
	calls    int
	served   int
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }

func (s *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(s.served + i)}
	}
	s.served += len(texts)
	return out, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text-%d", i)
	}
	return out
}

func fastConfig() Config {
	return Config{BatchSize: 4, MaxRetries: 3, BackoffBase: time.Millisecond}
}

func TestRunPreservesOrderAndLength(t *testing.T) {
	stub := &stubProvider{}
	c := New(stub, fastConfig())

	in := texts(10)
	out, err := c.Run(context.Background(), in, nil)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i, v := range out {
		require.Equal(t, []float32{float32(i)}, v)
	}
	require.Equal(t, 3, stub.calls) // 4+4+2
}

func TestRunRetriesRateLimitThenSucceeds(t *testing.T) {
	stub := &stubProvider{failures: 2, err: &errs.RateLimitError{StatusCode: 429}}
	c := New(stub, fastConfig())

	out, err := c.Run(context.Background(), texts(3), nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, 3, stub.calls) // 2 failures + 1 success
}

func TestRunExhaustsRetries(t *testing.T) {
	stub := &stubProvider{failures: 3, err: &errs.RateLimitError{StatusCode: 429}}
	c := New(stub, fastConfig())

	out, err := c.Run(context.Background(), texts(3), nil)
	require.Nil(t, out)
	var be *errs.BatchError
	require.ErrorAs(t, err, &be)
	require.Equal(t, 0, be.Batch)
	var re *errs.RetryExhaustedError
	require.ErrorAs(t, err, &re)
	require.Equal(t, 3, re.Attempts)
	require.Equal(t, 3, stub.calls)
}

func TestRunAbortsOnStructuralFailure(t *testing.T) {
	stub := &stubProvider{failures: 1, err: fmt.Errorf("boom: %w", errs.ErrUnavailable)}
	c := New(stub, fastConfig())

	_, err := c.Run(context.Background(), texts(3), nil)
	require.ErrorIs(t, err, errs.ErrUnavailable)
	require.Equal(t, 1, stub.calls) // no retry on non-rate-limit failures
}

func TestRunFailsBatchAttachingIndex(t *testing.T) {
	// first batch succeeds, second batch hits a hard failure
	stub := &stubProvider{}
	cfg := fastConfig()
	c := New(stub, cfg)

	checkpoints := 0
	in := texts(6)
	// rig the stub so that call 2 fails
	ranOnce := false
	wrapped := providerFunc(func(ctx context.Context, batch []string) ([][]float32, error) {
		if ranOnce {
			return nil, fmt.Errorf("boom: %w", errs.ErrUnavailable)
		}
		ranOnce = true
		return stub.EmbedBatch(ctx, batch)
	})
	c = New(wrapped, cfg)

	_, err := c.Run(context.Background(), in, func(offset int, vecs [][]float32) {
		checkpoints++
		require.Equal(t, 0, offset)
		require.Len(t, vecs, 4)
	})
	var be *errs.BatchError
	require.ErrorAs(t, err, &be)
	require.Equal(t, 1, be.Batch)
	require.Equal(t, 4, be.From)
	require.Equal(t, 5, be.To)
	require.Equal(t, 1, checkpoints) // first batch stays committed
}

func TestRunRejectsCountMismatch(t *testing.T) {
	short := providerFunc(func(_ context.Context, batch []string) ([][]float32, error) {
		return [][]float32{{1}}, nil // always one vector
	})
	c := New(short, fastConfig())

	_, err := c.Run(context.Background(), texts(3), nil)
	var cm *errs.CountMismatchError
	require.ErrorAs(t, err, &cm)
}

func TestRunCancellationBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubProvider{}
	c := New(stub, Config{BatchSize: 2, MaxRetries: 1, InterBatchDelay: 50 * time.Millisecond})

	committed := 0
	_, err := c.Run(ctx, texts(6), func(offset int, vecs [][]float32) {
		committed += len(vecs)
		cancel()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, committed)
}

// providerFunc adapts a function to the provider interface for tests.
type providerFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f providerFunc) Name() string  { return "func" }
func (f providerFunc) Model() string { return "func-model" }

func (f providerFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f providerFunc) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
