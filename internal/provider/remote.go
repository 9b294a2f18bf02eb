package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/semidx/semidx/internal/config"
	errs "github.com/semidx/semidx/internal/pkg/errors"
)

type remoteConfig struct {
	BaseURL             string `json:"base_url"`
	TokenURL            string `json:"token_url"`
	ClientID            string `json:"client_id"`
	ClientSecret        string `json:"client_secret"`
	SafetyMarginSeconds int    `json:"safety_margin_seconds"`
}

// remoteProvider calls an HTTP embeddings endpoint authenticated with a
// client-credentials bearer token. One network round trip per batch.
type remoteProvider struct {
	client  *http.Client
	baseURL string
	model   string
	tokens  *tokenSource
}

type remoteEmbedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func init() {
	Register("remote", createRemoteProvider)
}

func createRemoteProvider(cfg config.ProviderConfig) (Provider, error) {
	rc := &remoteConfig{}
	if err := decodeConfig(cfg.Data, rc); err != nil {
		return nil, err
	}
	if rc.BaseURL == "" || rc.TokenURL == "" || rc.ClientID == "" || rc.ClientSecret == "" {
		return nil, fmt.Errorf("remote provider base_url/token_url/client_id/client_secret are required")
	}
	client := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	return &remoteProvider{
		client:  client,
		baseURL: strings.TrimRight(rc.BaseURL, "/"),
		model:   cfg.Model,
		tokens:  newTokenSource(client, rc.TokenURL, rc.ClientID, rc.ClientSecret, time.Duration(rc.SafetyMarginSeconds)*time.Second),
	}, nil
}

func (p *remoteProvider) Name() string {
	return "remote"
}

func (p *remoteProvider) Model() string {
	return p.model
}

func (p *remoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *remoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(remoteEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &errs.RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("embeddings endpoint returned %d: %w", resp.StatusCode, errs.ErrAuth)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(body)), errs.ErrUnavailable)
	}

	var out remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, &errs.CountMismatchError{Want: len(texts), Got: len(out.Data)}
	}
	vecs := make([][]float32, len(texts))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func retryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	secs, err := strconv.Atoi(ra)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}
