package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	errs "github.com/semidx/semidx/internal/pkg/errors"
)

// defaultTokenTTL is used when the token endpoint gives no usable expiry.
const defaultTokenTTL = time.Minute

// tokenSource caches a client-credentials bearer token and refreshes it
// before expiry. The mutex is held across the refresh, so concurrent
// callers observing an expired token trigger at most one token request.
type tokenSource struct {
	client       *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	safetyMargin time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func newTokenSource(client *http.Client, tokenURL, clientID, clientSecret string, safetyMargin time.Duration) *tokenSource {
	if safetyMargin <= 0 {
		safetyMargin = 30 * time.Second
	}
	return &tokenSource{
		client:       client,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		safetyMargin: safetyMargin,
	}
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Now().Before(t.expiry) {
		return t.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token endpoint returned %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(body)), errs.ErrAuth)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token: %w", errs.ErrAuth)
	}

	t.token = out.AccessToken
	t.expiry = t.computeExpiry(out)
	return t.token, nil
}

func (t *tokenSource) computeExpiry(out tokenResponse) time.Time {
	if out.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - t.safetyMargin)
	}
	// Some identity providers issue JWT access tokens without expires_in;
	// fall back to the exp claim.
	if exp := jwtExpiry(out.AccessToken); !exp.IsZero() {
		return exp.Add(-t.safetyMargin)
	}
	return time.Now().Add(defaultTokenTTL)
}

func jwtExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
