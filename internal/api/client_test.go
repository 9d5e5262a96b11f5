package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpointhq/liveboard/internal/model"
)

func staticToken(token string) TokenSource {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func TestClient_AuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-123", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		json.NewEncoder(w).Encode(applicationsResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-123", WithTokenSource(staticToken("token-abc")))

	_, err := c.ListApplications(context.Background())
	require.NoError(t, err)
}

func TestClient_ListApplicationsPagination(t *testing.T) {
	first := model.Application{ID: uuid.New(), ApplicantName: "Ada", Stage: "review"}
	second := model.Application{ID: uuid.New(), ApplicantName: "Grace", Stage: "accepted"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/applications", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))

		switch r.URL.Query().Get("cursor") {
		case "":
			json.NewEncoder(w).Encode(applicationsResponse{
				Applications: []model.Application{first},
				Cursor:       "page-2",
			})
		case "page-2":
			json.NewEncoder(w).Encode(applicationsResponse{
				Applications: []model.Application{second},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", WithTokenSource(staticToken("t")))

	apps, err := c.ListApplications(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, first.ID, apps[0].ID)
	assert.Equal(t, second.ID, apps[1].ID)
}

func TestClient_ListMentors(t *testing.T) {
	mentor := model.Mentor{ID: uuid.New(), Name: "Sam", Expertise: []string{"fundraising"}, Active: true}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mentors", r.URL.Path)
		json.NewEncoder(w).Encode(mentorsResponse{Mentors: []model.Mentor{mentor}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", WithTokenSource(staticToken("t")))

	mentors, err := c.ListMentors(context.Background())
	require.NoError(t, err)
	require.Len(t, mentors, 1)
	assert.Equal(t, mentor.Name, mentors[0].Name)
	assert.Equal(t, mentor.Expertise, mentors[0].Expertise)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(applicationsResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key",
		WithTokenSource(staticToken("t")),
		WithRetries(3, 5*time.Millisecond),
	)

	_, err := c.ListApplications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key",
		WithTokenSource(staticToken("t")),
		WithRetries(3, 5*time.Millisecond),
	)

	_, err := c.ListApplications(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "4xx responses must not be retried")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.IsRetryable())
}

func TestClient_RetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key",
		WithTokenSource(staticToken("t")),
		WithRetries(2, 1*time.Millisecond),
	)

	_, err := c.ListApplications(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load(), "initial attempt plus two retries")
}

func TestClient_TokenSourceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server without a token")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key",
		WithTokenSource(func(ctx context.Context) (string, error) {
			return "", fmt.Errorf("session expired")
		}),
		WithRetries(0, time.Millisecond),
	)

	_, err := c.ListApplications(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve token")
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		e := &APIError{StatusCode: tt.status}
		assert.Equal(t, tt.want, e.IsRetryable(), "status %d", tt.status)
	}
}
