package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"gamedock/internal/state"
)

// refreshSkew renews the credential this long before its actual expiry, so an
// in-flight request never crosses the expiry line with a stale token.
const refreshSkew = 30 * time.Second

// TokenSource holds the station's bearer credential, persists it across
// restarts, and refreshes it transparently when it is about to expire.
type TokenSource struct {
	mu       sync.Mutex
	token    string
	tokenURL string
	client   *http.Client
	store    state.Store
	logger   *zap.Logger
	now      func() time.Time
}

// NewTokenSource seeds the source from the persisted credential, if any.
// A nil client falls back to a short-timeout default.
func NewTokenSource(tokenURL string, client *http.Client, store state.Store, logger *zap.Logger) *TokenSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	ts := &TokenSource{
		tokenURL: tokenURL,
		client:   client,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
	if store != nil {
		if saved, err := store.Get(context.Background(), state.KeyToken); err == nil {
			ts.token = saved
		}
	}
	return ts
}

// Token returns a credential valid for at least refreshSkew, fetching a fresh
// one when the current credential is missing or near expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.valid(ts.token) {
		return ts.token, nil
	}

	fresh, err := ts.fetch(ctx)
	if err != nil {
		if ts.token != "" {
			// A stale credential beats none; the server is the final judge.
			ts.logger.Warn("token refresh failed, reusing stored credential", zap.Error(err))
			return ts.token, nil
		}
		return "", err
	}

	ts.token = fresh
	if ts.store != nil {
		if err := ts.store.Set(ctx, state.KeyToken, fresh); err != nil {
			ts.logger.Warn("failed to persist token", zap.Error(err))
		}
	}
	return fresh, nil
}

// valid checks the embedded expiry claim without verifying the signature;
// verification is the server's job, the client only needs the deadline.
func (ts *TokenSource) valid(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return ts.now().Before(exp.Time.Add(-refreshSkew))
}

func (ts *TokenSource) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.tokenURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("api: fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("api: token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("api: decode token response: %w", err)
	}
	if payload.Token == "" {
		return "", errors.New("api: token endpoint returned empty token")
	}
	return payload.Token, nil
}
