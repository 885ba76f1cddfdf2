// Package client talks to the Google Map Tiles API: session creation,
// panorama metadata, and tile image fetches. It owns error classification
// (transient vs permanent vs auth/quota) so the fetch layer never inspects
// HTTP internals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the production Map Tiles API endpoint.
	DefaultBaseURL = "https://tile.googleapis.com"

	sessionPath  = "/v1/createSession"
	metadataPath = "/v1/streetview/metadata"
	tilePath     = "/v1/streetview/tiles"

	// maxErrorBody bounds how much of an error response we keep for
	// classification and logging.
	maxErrorBody = 2048
)

// APIError is a non-2xx response from the tile service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tile service returned HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus implements the fetch layer's classification contract.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// QuotaExceeded reports whether the failure is quota exhaustion rather than
// bad credentials. Google signals this with RESOURCE_EXHAUSTED or a quota
// message in the error body.
func (e *APIError) QuotaExceeded() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	body := strings.ToLower(e.Body)
	return strings.Contains(body, "resource_exhausted") || strings.Contains(body, "quota")
}

// Client is an authenticated Map Tiles API client. A session token is
// created lazily on first use and reused for the client's lifetime.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	session string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint (tests).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client with the given API key and per-request timeout.
// System proxy settings are respected.
func New(apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession obtains (or returns the cached) session token for the
// Street View map type.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != "" {
		return c.session, nil
	}

	payload, err := json.Marshal(map[string]string{
		"mapType":  "streetview",
		"language": "en-US",
		"region":   "US",
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s%s?key=%s", c.baseURL, sessionPath, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Session string `json:"session"`
	}
	if err := c.doJSON(req, &result); err != nil {
		return "", fmt.Errorf("failed to create tile session: %w", err)
	}
	if result.Session == "" {
		return "", fmt.Errorf("tile session response missing session token")
	}

	c.session = result.Session
	return c.session, nil
}

// Metadata fetches panorama metadata by ID.
func (c *Client) Metadata(ctx context.Context, panoID string) (*Metadata, error) {
	params := url.Values{}
	params.Set("panoId", panoID)
	return c.metadata(ctx, params)
}

// MetadataByLocation fetches metadata for the panorama nearest to a
// lat/lng, searching within radius meters.
func (c *Client) MetadataByLocation(ctx context.Context, lat, lng float64, radius int) (*Metadata, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lng", fmt.Sprintf("%f", lng))
	params.Set("radius", fmt.Sprintf("%d", radius))
	return c.metadata(ctx, params)
}

func (c *Client) metadata(ctx context.Context, params url.Values) (*Metadata, error) {
	session, err := c.CreateSession(ctx)
	if err != nil {
		return nil, err
	}

	params.Set("session", session)
	params.Set("key", c.apiKey)
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, metadataPath, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata request: %w", err)
	}

	var meta Metadata
	if err := c.doJSON(req, &meta); err != nil {
		return nil, fmt.Errorf("failed to fetch panorama metadata: %w", err)
	}
	if meta.PanoID == "" {
		return nil, fmt.Errorf("metadata response missing panorama ID")
	}
	return &meta, nil
}

// FetchTileBytes downloads one tile image as raw bytes.
func (c *Client) FetchTileBytes(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error) {
	session, err := c.CreateSession(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("session", session)
	params.Set("key", c.apiKey)
	params.Set("panoId", panoID)
	endpoint := fmt.Sprintf("%s%s/%d/%d/%d?%s", c.baseURL, tilePath, zoom, x, y, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// doJSON executes the request and decodes a JSON body, mapping non-2xx
// responses to *APIError.
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
