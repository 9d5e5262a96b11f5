// Package auth manages platform sessions: short-lived access tokens obtained
// by exchanging a long-lived refresh token at the platform's token endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrNoSession indicates no session exists and none could be established.
var ErrNoSession = errors.New("no session available")

// Session is an authenticated platform session.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the session has a non-expired access token.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && time.Now().Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the session expires inside the given buffer.
// A session that already expired also reports true.
func (s *Session) ExpiresWithin(buffer time.Duration) bool {
	if s == nil {
		return true
	}
	return !time.Now().Add(buffer).Before(s.ExpiresAt)
}

// Provider supplies sessions to consumers that never manage credentials themselves.
type Provider interface {
	// CurrentSession returns the cached session, establishing one if needed.
	CurrentSession(ctx context.Context) (*Session, error)

	// Refresh exchanges the refresh token for a fresh session.
	Refresh(ctx context.Context) (*Session, error)
}

// HTTPProvider implements Provider against the platform token endpoint.
type HTTPProvider struct {
	tokenURL   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// refreshMu serializes grant calls. The endpoint rotates refresh
	// tokens on every grant, so two concurrent grants would race on a
	// single-use credential.
	refreshMu sync.Mutex

	mu           sync.Mutex
	refreshToken string
	current      *Session
}

// ProviderOption configures an HTTPProvider.
type ProviderOption func(*HTTPProvider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ProviderOption {
	return func(p *HTTPProvider) {
		p.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *HTTPProvider) {
		p.logger = logger
	}
}

// NewHTTPProvider creates a session provider. refreshToken is the long-lived
// credential issued to this service; access tokens are minted from it on demand.
func NewHTTPProvider(tokenURL, apiKey, refreshToken string, opts ...ProviderOption) *HTTPProvider {
	p := &HTTPProvider{
		tokenURL:     tokenURL,
		apiKey:       apiKey,
		refreshToken: refreshToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CurrentSession returns the cached session, refreshing if none exists.
func (p *HTTPProvider) CurrentSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current != nil {
		return current, nil
	}
	return p.Refresh(ctx)
}

// tokenResponse is the token endpoint's grant response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
	TokenType    string `json:"token_type"`
}

// Refresh exchanges the refresh token for a new session. The endpoint rotates
// refresh tokens, so the returned one replaces the stored credential. Refreshes
// are single-flight: a caller that arrives while another grant is in progress
// gets that grant's session instead of spending a rotated token of its own.
func (p *HTTPProvider) Refresh(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	before := p.current
	p.mu.Unlock()

	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	// Another goroutine may have completed a grant while we waited.
	p.mu.Lock()
	if p.current != before && p.current.Valid() {
		session := p.current
		p.mu.Unlock()
		return session, nil
	}
	refreshToken := p.refreshToken
	p.mu.Unlock()

	if refreshToken == "" {
		return nil, ErrNoSession
	}

	payload, err := json.Marshal(map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.tokenURL+"?grant_type=refresh_token", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh session: status %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parse refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("refresh session: empty access token in response")
	}

	session := &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}

	p.mu.Lock()
	p.current = session
	if tr.RefreshToken != "" {
		p.refreshToken = tr.RefreshToken
	}
	p.mu.Unlock()

	p.logger.Debug("session refreshed", "expires_at", session.ExpiresAt)

	return session, nil
}
