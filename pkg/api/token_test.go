package api

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	mu       sync.Mutex
	hits     int
	lastAuth string
	lastQS   string
	status   int
	body     string
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.lastAuth = r.Header.Get("Authorization")
	s.lastQS = r.URL.RawQuery
	if s.status != 0 {
		w.WriteHeader(s.status)
	}
	_, _ = io.WriteString(w, s.body)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTokenCache(t *testing.T, s *tokenServer, authorization string) (*TokenCache, *fakeClock, *int) {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	clock := &fakeClock{now: time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)}
	tc := NewTokenCache(srv.URL, "key", "secret", authorization, srv.Client())
	tc.now = clock.Now
	calls := 0
	tc.onCall = func(n int) { calls += n }
	return tc, clock, &calls
}

func TestTokenCache_ReusedUntilMargin(t *testing.T) {
	s := &tokenServer{body: `{"access_token":"abc","expires_in":60}`}
	tc, clock, calls := newTokenCache(t, s, "")
	ctx := context.Background()

	tok, err := tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, 1, s.hits)

	clock.Advance(20 * time.Second)
	_, err = tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.hits, "token fetched at t0 must be reused at t0+20s")

	clock.Advance(25 * time.Second)
	_, err = tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.hits, "token must be refetched at t0+45s")
	assert.Equal(t, 2, *calls)
}

func TestTokenCache_StringExpiresIn(t *testing.T) {
	s := &tokenServer{body: `{"access_token":"abc","expires_in":"43199"}`}
	tc, clock, _ := newTokenCache(t, s, "")
	ctx := context.Background()

	_, err := tc.Token(ctx)
	require.NoError(t, err)
	clock.Advance(12 * time.Hour)
	_, err = tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.hits)
}

func TestTokenCache_MissingExpiresInNeverExpires(t *testing.T) {
	s := &tokenServer{body: `{"access_token":"forever"}`}
	tc, clock, _ := newTokenCache(t, s, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, err := tc.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "forever", tok)
		clock.Advance(24 * time.Hour)
	}
	assert.Equal(t, 1, s.hits)

	tc.Invalidate()
	_, err := tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.hits)
}

func TestTokenCache_RequestShape(t *testing.T) {
	s := &tokenServer{body: `{"access_token":"abc","expires_in":60}`}
	tc, _, _ := newTokenCache(t, s, "")

	_, err := tc.Token(context.Background())
	require.NoError(t, err)

	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
	assert.Equal(t, expected, s.lastAuth)
	assert.Equal(t, "grant_type=client_credentials", s.lastQS)
}

func TestTokenCache_PreSharedAuthorization(t *testing.T) {
	s := &tokenServer{body: `{"access_token":"abc"}`}
	tc, _, _ := newTokenCache(t, s, "Basic cHJlOnNoYXJlZA==")

	_, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Basic cHJlOnNoYXJlZA==", s.lastAuth)
}

func TestTokenCache_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"missing access token", 0, `{"expires_in":60}`},
		{"malformed body", 0, `not json`},
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid_client"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &tokenServer{status: tt.status, body: tt.body}
			tc, _, _ := newTokenCache(t, s, "")

			_, err := tc.Token(context.Background())
			var authErr *AuthError
			require.True(t, errors.As(err, &authErr), "expected AuthError, got %v", err)
		})
	}
}

func TestTokenCache_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tc := NewTokenCache(url, "key", "secret", "", nil)
	_, err := tc.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestTokenCache_MissingCredentials(t *testing.T) {
	tc := NewTokenCache("http://127.0.0.1:0", "", "", "", nil)
	calls := 0
	tc.onCall = func(n int) { calls += n }

	_, err := tc.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Zero(t, calls, "no round trip is made without credentials")
}
