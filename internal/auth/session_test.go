package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Valid(t *testing.T) {
	tests := []struct {
		name    string
		session *Session
		want    bool
	}{
		{"nil session", nil, false},
		{"no token", &Session{ExpiresAt: time.Now().Add(time.Hour)}, false},
		{"expired", &Session{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Minute)}, false},
		{"valid", &Session{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.session.Valid())
		})
	}
}

func TestSession_ExpiresWithin(t *testing.T) {
	var nilSession *Session
	assert.True(t, nilSession.ExpiresWithin(time.Minute))

	soon := &Session{AccessToken: "t", ExpiresAt: time.Now().Add(2 * time.Minute)}
	assert.True(t, soon.ExpiresWithin(5*time.Minute))
	assert.False(t, soon.ExpiresWithin(30*time.Second))

	expired := &Session{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, expired.ExpiresWithin(0))
}

// tokenEndpoint returns a test server speaking the refresh-token grant, and a
// counter of grant requests served.
func tokenEndpoint(t *testing.T, respond func(w http.ResponseWriter, refreshToken string)) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.Header.Get("apikey"); got != "test-api-key" {
			t.Errorf("apikey header = %q", got)
		}

		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		respond(w, body.RefreshToken)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTPProvider_Refresh(t *testing.T) {
	srv, _ := tokenEndpoint(t, func(w http.ResponseWriter, refreshToken string) {
		if refreshToken != "refresh-1" {
			t.Errorf("refresh_token = %q, want refresh-1", refreshToken)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
			"token_type":    "bearer",
		})
	})

	p := NewHTTPProvider(srv.URL, "test-api-key", "refresh-1")

	session, err := p.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "access-1", session.AccessToken)
	assert.Equal(t, "refresh-2", session.RefreshToken)
	assert.True(t, session.Valid())
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)
}

func TestHTTPProvider_RefreshTokenRotation(t *testing.T) {
	var grant atomic.Int64
	srv, _ := tokenEndpoint(t, func(w http.ResponseWriter, refreshToken string) {
		n := grant.Add(1)
		// The endpoint rotates refresh tokens: the second grant must carry
		// the token issued by the first.
		want := "refresh-1"
		if n == 2 {
			want = "refresh-2"
		}
		if refreshToken != want {
			t.Errorf("grant %d refresh_token = %q, want %q", n, refreshToken, want)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	})

	p := NewHTTPProvider(srv.URL, "test-api-key", "refresh-1")

	_, err := p.Refresh(context.Background())
	require.NoError(t, err)
	_, err = p.Refresh(context.Background())
	require.NoError(t, err)
}

func TestHTTPProvider_CurrentSessionCaches(t *testing.T) {
	srv, calls := tokenEndpoint(t, func(w http.ResponseWriter, refreshToken string) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"expires_in":   3600,
		})
	})

	p := NewHTTPProvider(srv.URL, "test-api-key", "refresh-1")

	first, err := p.CurrentSession(context.Background())
	require.NoError(t, err)
	second, err := p.CurrentSession(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), calls.Load(), "cached session must not hit the endpoint again")
}

func TestHTTPProvider_ConcurrentRefreshSingleFlight(t *testing.T) {
	// The endpoint rotates refresh tokens and rejects reuse, the way
	// reuse-detection token endpoints do. Concurrent refreshes must
	// collapse into one grant or the stored credential is burned.
	var mu sync.Mutex
	consumed := map[string]bool{}

	srv, calls := tokenEndpoint(t, func(w http.ResponseWriter, refreshToken string) {
		mu.Lock()
		reused := consumed[refreshToken]
		consumed[refreshToken] = true
		mu.Unlock()

		if reused {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh-" + refreshToken,
			"expires_in":    3600,
		})
	})

	p := NewHTTPProvider(srv.URL, "test-api-key", "refresh-1")

	const n = 8
	sessions := make([]*Session, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = p.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "refresh %d", i)
		require.NotNil(t, sessions[i])
		assert.True(t, sessions[i].Valid())
	}
	assert.Equal(t, int64(1), calls.Load(), "concurrent refreshes must collapse into one grant")
}

func TestHTTPProvider_RefreshRejected(t *testing.T) {
	srv, _ := tokenEndpoint(t, func(w http.ResponseWriter, refreshToken string) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	})

	p := NewHTTPProvider(srv.URL, "test-api-key", "refresh-revoked")

	_, err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPProvider_NoRefreshToken(t *testing.T) {
	p := NewHTTPProvider("http://example.invalid", "test-api-key", "")

	_, err := p.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}
