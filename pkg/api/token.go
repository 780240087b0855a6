package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	tokenPath = "/oauth/client_credential/accesstoken"
	tokenKey  = "access_token"

	// TokenExpiryMargin is subtracted from expires_in so that a token is
	// never sent within its last seconds of validity.
	TokenExpiryMargin = 30 * time.Second
)

// cachedToken is a bearer token and the instant it stops being used. A zero
// expiry means the token endpoint did not send expires_in.
type cachedToken struct {
	Value  string
	Expiry time.Time
}

func (t cachedToken) validAt(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Before(t.Expiry)
}

// TokenCache fetches and caches the OAuth client-credentials bearer token.
// Concurrent misses are not coalesced: both callers fetch and the last
// write wins.
type TokenCache struct {
	baseURL       string
	apiKey        string
	apiSecret     string
	authorization string
	httpClient    *http.Client
	cache         *cache.Cache
	now           func() time.Time
	onCall        func(n int)
}

// NewTokenCache creates a token cache for the given API base URL. When
// authorization is non-empty it is sent verbatim instead of the computed
// Basic credentials.
func NewTokenCache(baseURL, apiKey, apiSecret, authorization string, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &TokenCache{
		baseURL:       baseURL,
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		authorization: authorization,
		httpClient:    httpClient,
		cache:         cache.New(cache.NoExpiration, 0),
		now:           time.Now,
	}
}

// Token returns the cached bearer token, fetching a new one when there is
// none or the cached one has expired.
func (tc *TokenCache) Token(ctx context.Context) (string, error) {
	if item, found := tc.cache.Get(tokenKey); found {
		if tok := item.(cachedToken); tok.validAt(tc.now()) {
			return tok.Value, nil
		}
	}

	tok, err := tc.fetch(ctx)
	if err != nil {
		return "", err
	}

	ttl := cache.NoExpiration
	if !tok.Expiry.IsZero() {
		ttl = tok.Expiry.Sub(tc.now())
	}
	tc.cache.Set(tokenKey, tok, ttl)
	return tok.Value, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (tc *TokenCache) Invalidate() {
	tc.cache.Delete(tokenKey)
}

func (tc *TokenCache) basicAuthHeader() (string, error) {
	if tc.authorization != "" {
		return tc.authorization, nil
	}
	if tc.apiKey == "" || tc.apiSecret == "" {
		return "", &AuthError{Message: "missing api key/secret for token request"}
	}
	raw := tc.apiKey + ":" + tc.apiSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

func (tc *TokenCache) fetch(ctx context.Context) (cachedToken, error) {
	authz, err := tc.basicAuthHeader()
	if err != nil {
		return cachedToken{}, err
	}

	url := tc.baseURL + tokenPath + "?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return cachedToken{}, &AuthError{Message: "error creating token request", Err: err}
	}
	req.Header.Set("Authorization", authz)
	req.Header.Set("Accept", "application/json")

	if tc.onCall != nil {
		tc.onCall(1)
	}
	fetchedAt := tc.now()
	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return cachedToken{}, &AuthError{Message: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachedToken{}, &AuthError{Message: "error reading token response", Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return cachedToken{}, &AuthError{
			Message: fmt.Sprintf("token request failed with status %d", resp.StatusCode),
			Err:     &HTTPError{StatusCode: resp.StatusCode, Endpoint: tokenPath, Body: string(body)},
		}
	}

	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return cachedToken{}, &AuthError{Message: "malformed token response", Err: err}
	}
	if payload.AccessToken == "" {
		return cachedToken{}, &AuthError{Message: "access token missing from response"}
	}

	tok := cachedToken{Value: payload.AccessToken}
	if payload.ExpiresIn.Set && payload.ExpiresIn.Value > 0 {
		tok.Expiry = fetchedAt.Add(time.Duration(payload.ExpiresIn.Value)*time.Second - TokenExpiryMargin)
	}
	return tok, nil
}
