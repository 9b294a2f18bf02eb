package provider

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/semidx/semidx/internal/config"
)

const defaultLocalDims = 256

type localConfig struct {
	Dimensions int `json:"dimensions"`
}

// localProvider is the locally-resident realization: a deterministic
// feature-hashing model constructed once and amortized across all calls.
// No network, no rate limits.
type localProvider struct {
	model string
	dims  int
}

func init() {
	Register("local", createLocalProvider)
}

func createLocalProvider(cfg config.ProviderConfig) (Provider, error) {
	lc := &localConfig{}
	if cfg.Data != nil {
		if err := decodeConfig(cfg.Data, lc); err != nil {
			return nil, err
		}
	}
	if lc.Dimensions <= 0 {
		lc.Dimensions = defaultLocalDims
	}
	model := cfg.Model
	if model == "" {
		model = "feature-hash"
	}
	return &localProvider{model: model, dims: lc.Dimensions}, nil
}

func (p *localProvider) Name() string {
	return "local"
}

func (p *localProvider) Model() string {
	return p.model
}

func (p *localProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	for _, tok := range hashTokens(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := int(sum % uint32(p.dims))
		// low bit of the hash decides the sign, spreading mass over both halves
		if sum&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (p *localProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func hashTokens(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}
