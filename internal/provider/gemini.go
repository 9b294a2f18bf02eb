package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/semidx/semidx/internal/config"
	errs "github.com/semidx/semidx/internal/pkg/errors"
)

type geminiConfig struct {
	APIKey   string `json:"api_key"`
	TaskType string `json:"task_type"`
}

type geminiProvider struct {
	client   *genai.Client
	model    string
	taskType string
}

func init() {
	Register("gemini", createGeminiProvider)
}

func createGeminiProvider(cfg config.ProviderConfig) (Provider, error) {
	gc := &geminiConfig{}
	if err := decodeConfig(cfg.Data, gc); err != nil {
		return nil, err
	}
	if strings.TrimSpace(gc.APIKey) == "" {
		return nil, fmt.Errorf("gemini provider api_key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  strings.TrimSpace(gc.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &geminiProvider{client: client, model: cfg.Model, taskType: gc.TaskType}, nil
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Model() string {
	return p.model
}

func (p *geminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *geminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	var cfg *genai.EmbedContentConfig
	if p.taskType != "" {
		cfg = &genai.EmbedContentConfig{TaskType: p.taskType}
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &errs.CountMismatchError{Want: len(texts), Got: len(resp.Embeddings)}
	}
	vecs := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		vecs[i] = emb.Values
	}
	return vecs, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return &errs.RateLimitError{StatusCode: apiErr.Code}
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("gemini: %s: %w", apiErr.Message, errs.ErrAuth)
		}
	}
	return fmt.Errorf("gemini: %v: %w", err, errs.ErrUnavailable)
}
