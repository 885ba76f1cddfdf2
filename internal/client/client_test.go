package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetview-dl/internal/grid"
)

// fakeTileService emulates the Map Tiles API endpoints used by the client.
type fakeTileService struct {
	sessions int32
	tiles    int32

	tileStatus int
	tileBody   []byte
}

func (s *fakeTileService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/createSession", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.sessions, 1)
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Query().Get("key") == "" {
			http.Error(w, `{"error":{"status":"PERMISSION_DENIED"}}`, http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"session": "sess-123"})
	})
	mux.HandleFunc("/v1/streetview/metadata", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("session") != "sess-123" {
			http.Error(w, "no session", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"panoId":      r.URL.Query().Get("panoId"),
			"imageWidth":  16384,
			"imageHeight": 8192,
			"tileWidth":   512,
			"tileHeight":  512,
			"date":        "2023-05",
			"copyright":   "© Google",
		})
	})
	mux.HandleFunc("/v1/streetview/tiles/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.tiles, 1)
		if s.tileStatus != 0 && s.tileStatus != http.StatusOK {
			http.Error(w, string(s.tileBody), s.tileStatus)
			return
		}
		w.Write(s.tileBody)
	})
	return mux
}

func newTestClient(t *testing.T, svc *fakeTileService) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)
	return New("AIzaTestKey000000000000000000000000000", 5*time.Second, WithBaseURL(server.URL)), server
}

func TestSessionIsCreatedOnceAndReused(t *testing.T) {
	svc := &fakeTileService{tileBody: []byte("tile")}
	c, _ := newTestClient(t, svc)

	ctx := context.Background()
	_, err := c.Metadata(ctx, "PANO1")
	require.NoError(t, err)
	_, err = c.FetchTileBytes(ctx, "PANO1", 3, 0, 0)
	require.NoError(t, err)
	_, err = c.FetchTileBytes(ctx, "PANO1", 3, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&svc.sessions), "session must be cached")
}

func TestMetadataFields(t *testing.T) {
	svc := &fakeTileService{}
	c, _ := newTestClient(t, svc)

	meta, err := c.Metadata(context.Background(), "PANO9")
	require.NoError(t, err)

	assert.Equal(t, "PANO9", meta.PanoID)
	assert.Equal(t, 16384, meta.ImageWidth)
	assert.Equal(t, 8192, meta.ImageHeight)
	assert.Equal(t, 512, meta.TileWidth)
	assert.Equal(t, "2023-05", meta.Date)
}

func TestTileErrorClassification(t *testing.T) {
	svc := &fakeTileService{tileStatus: http.StatusForbidden, tileBody: []byte("RESOURCE_EXHAUSTED: daily quota")}
	c, _ := newTestClient(t, svc)

	_, err := c.FetchTileBytes(context.Background(), "P", 3, 0, 0)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.HTTPStatus())
	assert.True(t, apiErr.QuotaExceeded())
}

func TestPlainForbiddenIsNotQuota(t *testing.T) {
	apiErr := &APIError{StatusCode: http.StatusForbidden, Body: "API key invalid"}
	assert.False(t, apiErr.QuotaExceeded())

	tooMany := &APIError{StatusCode: http.StatusTooManyRequests}
	assert.True(t, tooMany.QuotaExceeded())
}

func TestRequesterCacheKey(t *testing.T) {
	svc := &fakeTileService{tileBody: []byte("tile")}
	c, _ := newTestClient(t, svc)

	g := grid.Plan(grid.TierLow)
	r := c.Requester("PANOX", g)

	assert.Equal(t, "PANOX/3/2/1", r.CacheKey(grid.TileCoordinate{Col: 2, Row: 1}))

	data, err := r.FetchTile(context.Background(), grid.TileCoordinate{Col: 0, Row: 0})
	require.NoError(t, err)
	assert.Equal(t, []byte("tile"), data)
}

func TestSidecarOmitsEmptyFields(t *testing.T) {
	meta := &Metadata{PanoID: "P", ImageWidth: 100, ImageHeight: 50, TileWidth: 512, TileHeight: 512}
	data, err := meta.Sidecar()
	require.NoError(t, err)

	assert.Contains(t, string(data), `"panoId": "P"`)
	assert.NotContains(t, string(data), "copyright")
	assert.NotContains(t, string(data), "urlYaw")
}
