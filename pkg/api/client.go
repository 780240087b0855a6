// Package api provides types and functions to interact with the NSW
// government FuelCheck API: OAuth token handling, price and reference data
// queries, and helpers to join and rank the returned prices.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "https://api.onegov.nsw.gov.au"
	DefaultTimeout = 30 * time.Second

	// TimestampLayout is the dd/MM/yyyy hh:mm:ss a layout used by the API
	// for requesttimestamp and lastupdated values.
	TimestampLayout = "02/01/2006 03:04:05 PM"

	pricesPath    = "/FuelPriceCheck/v1/fuel/prices"
	pricesV2Path  = "/FuelPriceCheck/v2/fuel/prices"
	nearbyPath    = "/FuelPriceCheck/v1/fuel/prices/nearby"
	nearbyV2Path  = "/FuelPriceCheck/v2/fuel/prices/nearby"
	stationPath   = "/FuelPriceCheck/v1/fuel/prices/station/"
	refDataPath   = "/FuelCheckRefData/v1/fuel/lovs"
	refDataV2Path = "/FuelCheckRefData/v2/fuel/lovs"
)

// Client issues authenticated requests against the FuelCheck API.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	tokens        *TokenCache
	now           func() time.Time
	transactionID func() string
	onCall        func(n int)
	log           *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthorization sends a pre-shared Authorization value to the token
// endpoint instead of Basic key:secret.
func WithAuthorization(authorization string) Option {
	return func(c *Client) { c.tokens.authorization = authorization }
}

// WithCallCounter registers a hook invoked once per network round trip,
// token fetches included.
func WithCallCounter(fn func(n int)) Option {
	return func(c *Client) { c.onCall = fn }
}

// WithLogger sets the logger used for request debugging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithClock overrides time.Now for request timestamps and token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new FuelCheck API client.
func NewClient(baseURL, apiKey, apiSecret string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	c := &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		now:           time.Now,
		transactionID: func() string { return uuid.NewString() },
		log:           slog.New(slog.DiscardHandler),
	}
	c.tokens = NewTokenCache(baseURL, apiKey, apiSecret, "", c.httpClient)
	for _, opt := range opts {
		opt(c)
	}

	c.tokens.httpClient = c.httpClient
	c.tokens.now = c.now
	c.tokens.onCall = c.count
	return c
}

func (c *Client) count(n int) {
	if c.onCall != nil {
		c.onCall(n)
	}
}

// UTCTimestamp formats t in UTC using TimestampLayout.
func UTCTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func (c *Client) headers(ctx context.Context) (http.Header, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("apikey", c.apiKey)
	h.Set("transactionid", c.transactionID())
	h.Set("requesttimestamp", UTCTimestamp(c.now()))
	return h, nil
}

// NearbyPrices returns stations and prices for one fuel type around a point.
func (c *Client) NearbyPrices(ctx context.Context, r NearbyRequest) (*PricesPayload, error) {
	return c.nearby(ctx, nearbyPath, r)
}

// NearbyPricesV2 is NearbyPrices against the v2 endpoint, which also covers
// Tasmanian stations.
func (c *Client) NearbyPricesV2(ctx context.Context, r NearbyRequest) (*PricesPayload, error) {
	return c.nearby(ctx, nearbyV2Path, r)
}

func (c *Client) nearby(ctx context.Context, path string, r NearbyRequest) (*PricesPayload, error) {
	if r.Brands == nil {
		r.Brands = []string{}
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("error encoding nearby request: %w", err)
	}
	return c.prices(ctx, http.MethodPost, path, nil, body)
}

// StationPrices returns the current prices of a single station.
func (c *Client) StationPrices(ctx context.Context, stationCode string) (*PricesPayload, error) {
	if stationCode == "" {
		return nil, fmt.Errorf("station code is required")
	}
	return c.prices(ctx, http.MethodGet, stationPath+url.PathEscape(stationCode), nil, nil)
}

// AllPrices returns every current price in NSW.
func (c *Client) AllPrices(ctx context.Context) (*PricesPayload, error) {
	return c.prices(ctx, http.MethodGet, pricesPath, nil, nil)
}

// AllPricesV2 returns every current price in the given states, a pipe
// separated list such as "NSW|TAS". Empty states leaves the choice to the
// API.
func (c *Client) AllPricesV2(ctx context.Context, states string) (*PricesPayload, error) {
	return c.prices(ctx, http.MethodGet, pricesV2Path, statesQuery(states), nil)
}

// ReferenceData returns the lists of values (brands, fuel types, stations,
// sort fields) the other endpoints accept.
func (c *Client) ReferenceData(ctx context.Context) (*ReferenceData, error) {
	return c.referenceData(ctx, refDataPath, nil)
}

// ReferenceDataV2 is ReferenceData for the given states.
func (c *Client) ReferenceDataV2(ctx context.Context, states string) (*ReferenceData, error) {
	return c.referenceData(ctx, refDataV2Path, statesQuery(states))
}

func (c *Client) referenceData(ctx context.Context, path string, query url.Values) (*ReferenceData, error) {
	respBody, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	ref := &ReferenceData{}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return ref, nil
	}
	if err := json.Unmarshal(respBody, ref); err != nil {
		return nil, fmt.Errorf("error unmarshaling JSON: %w", err)
	}
	return ref, nil
}

func statesQuery(states string) url.Values {
	states = strings.TrimSpace(states)
	if states == "" {
		return nil
	}
	return url.Values{"states": []string{states}}
}

func (c *Client) prices(ctx context.Context, method, path string, query url.Values, body []byte) (*PricesPayload, error) {
	respBody, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}

	payload := &PricesPayload{Stations: []Station{}, Prices: []Price{}}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(respBody, payload); err != nil {
		return nil, fmt.Errorf("error unmarshaling JSON: %w", err)
	}
	if payload.Stations == nil {
		payload.Stations = []Station{}
	}
	if payload.Prices == nil {
		payload.Prices = []Price{}
	}
	return payload, nil
}

// do sends one authenticated request and returns the raw response body.
// A 401 drops the cached token so the next call fetches a fresh one.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header = headers

	c.log.Debug("api request", "method", method, "path", path, "transactionid", headers.Get("transactionid"))
	c.count(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching data: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Warn("api rejected access token, dropping it", "path", path)
		c.tokens.Invalidate()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Endpoint: path, Body: string(respBody)}
	}
	return respBody, nil
}
