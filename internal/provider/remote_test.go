package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semidx/semidx/internal/config"
	errs "github.com/semidx/semidx/internal/pkg/errors"
)

type fakeBackend struct {
	tokenRequests atomic.Int32
	embedStatus   int
	retryAfter    string
	vectorsFor    func(texts []string) [][]float32
}

func (f *fakeBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenRequests.Add(1)
		require.NoError(t, r.ParseForm())
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-123",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.embedStatus != 0 {
			if f.retryAfter != "" {
				w.Header().Set("Retry-After", f.retryAfter)
			}
			w.WriteHeader(f.embedStatus)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]interface{}, 0, len(req.Input))
		for _, vec := range f.vectorsFor(req.Input) {
			data = append(data, map[string]interface{}{"embedding": vec})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRemote(t *testing.T, base string) Provider {
	t.Helper()
	p, err := New(config.ProviderConfig{
		Type:           "remote",
		Model:          "test-model",
		TimeoutSeconds: 5,
		Data: map[string]interface{}{
			"base_url":      base + "/v1",
			"token_url":     base + "/oauth/token",
			"client_id":     "cid",
			"client_secret": "secret",
		},
	})
	require.NoError(t, err)
	return p
}

func TestRemoteEmbedBatchPreservesOrder(t *testing.T) {
	backend := &fakeBackend{vectorsFor: func(texts []string) [][]float32 {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(i), 1}
		}
		return out
	}}
	srv := backend.server(t)
	p := newRemote(t, srv.URL)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		require.Equal(t, []float32{float32(i), 1}, v)
	}
}

func TestRemoteTokenFetchedOnceAndShared(t *testing.T) {
	backend := &fakeBackend{vectorsFor: func(texts []string) [][]float32 {
		return make([][]float32, len(texts))
	}}
	srv := backend.server(t)
	p := newRemote(t, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Embed(context.Background(), "hello")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), backend.tokenRequests.Load())
}

func TestRemoteRateLimitClassification(t *testing.T) {
	backend := &fakeBackend{embedStatus: http.StatusTooManyRequests, retryAfter: "7"}
	srv := backend.server(t)
	p := newRemote(t, srv.URL)

	_, err := p.EmbedBatch(context.Background(), []string{"x"})
	require.True(t, errs.IsRateLimit(err))
	var rl *errs.RateLimitError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, int64(7), int64(rl.RetryAfter.Seconds()))
}

func TestRemoteHardFailureClassification(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   error
	}{
		{http.StatusForbidden, errs.ErrAuth},
		{http.StatusInternalServerError, errs.ErrUnavailable},
		{http.StatusBadRequest, errs.ErrUnavailable},
	} {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			backend := &fakeBackend{embedStatus: tc.status}
			srv := backend.server(t)
			p := newRemote(t, srv.URL)

			_, err := p.EmbedBatch(context.Background(), []string{"x"})
			require.ErrorIs(t, err, tc.want)
			require.False(t, errs.IsRateLimit(err))
		})
	}
}

func TestRemoteCountMismatch(t *testing.T) {
	backend := &fakeBackend{vectorsFor: func(texts []string) [][]float32 {
		return [][]float32{{1}} // always one vector back
	}}
	srv := backend.server(t)
	p := newRemote(t, srv.URL)

	_, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	var cm *errs.CountMismatchError
	require.ErrorAs(t, err, &cm)
	require.Equal(t, 2, cm.Want)
	require.Equal(t, 1, cm.Got)
}

func TestLocalProviderDeterministic(t *testing.T) {
	p, err := New(config.ProviderConfig{Type: "local", Model: "feature-hash"})
	require.NoError(t, err)

	a, err := p.Embed(context.Background(), "use a damp cloth")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "use a damp cloth")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, defaultLocalDims)

	batch, err := p.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.NotEqual(t, batch[0], batch[1])
}
