package fetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"streetview-dl/internal/assemble"
	"streetview-dl/internal/grid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testGrid() grid.TileGrid {
	return grid.TileGrid{Tier: grid.TierLow, Zoom: 2, Cols: 4, Rows: 2, TileSizePx: 4}
}

// statusError mimics the API client's typed error.
type statusError struct {
	code  int
	quota bool
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

func (e *statusError) HTTPStatus() int { return e.code }

func (e *statusError) QuotaExceeded() bool { return e.quota }

// fakeRequester serves deterministic PNG tiles and lets tests inject
// failures per coordinate or per attempt.
type fakeRequester struct {
	g     grid.TileGrid
	mu    sync.Mutex
	calls map[grid.TileCoordinate]int
	total int32

	// fail returns the error for a given coordinate and attempt number
	// (1-based); nil means success.
	fail func(c grid.TileCoordinate, attempt int) error
	// delay adds scheduling variance.
	delay func() time.Duration
}

func newFakeRequester(g grid.TileGrid) *fakeRequester {
	return &fakeRequester{g: g, calls: make(map[grid.TileCoordinate]int)}
}

func (r *fakeRequester) tileBytes(c grid.TileCoordinate) []byte {
	img := image.NewRGBA(image.Rect(0, 0, r.g.TileSizePx, r.g.TileSizePx))
	fill := color.RGBA{R: uint8(20 + c.Col), G: uint8(20 + c.Row), B: 7, A: 255}
	for y := 0; y < r.g.TileSizePx; y++ {
		for x := 0; x < r.g.TileSizePx; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (r *fakeRequester) FetchTile(ctx context.Context, c grid.TileCoordinate) ([]byte, error) {
	atomic.AddInt32(&r.total, 1)
	r.mu.Lock()
	r.calls[c]++
	attempt := r.calls[c]
	r.mu.Unlock()

	if r.delay != nil {
		select {
		case <-time.After(r.delay()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.fail != nil {
		if err := r.fail(c, attempt); err != nil {
			return nil, err
		}
	}
	return r.tileBytes(c), nil
}

func (r *fakeRequester) CacheKey(c grid.TileCoordinate) string {
	return fmt.Sprintf("test/%d/%d/%d", r.g.Zoom, c.Col, c.Row)
}

func (r *fakeRequester) totalCalls() int {
	return int(atomic.LoadInt32(&r.total))
}

func quickConfig() Config {
	return Config{Workers: 4, Retries: 2, BackoffBase: time.Millisecond}
}

func TestFetchAllCompleteGrid(t *testing.T) {
	g := testGrid()
	req := newFakeRequester(g)

	p, err := FetchAll(context.Background(), g, req, quickConfig())
	require.NoError(t, err)
	require.NotNil(t, p)

	// Exactly one request per coordinate, no duplicates, no omissions.
	assert.Equal(t, g.TileCount(), req.totalCalls())
	for _, c := range g.Coordinates() {
		assert.Equal(t, 1, req.calls[c], "coordinate %s", c)
	}
	assert.Empty(t, p.Failed())
}

func TestFetchAllOrderIndependent(t *testing.T) {
	g := testGrid()

	run := func(seed int64) []uint8 {
		req := newFakeRequester(g)
		rng := rand.New(rand.NewSource(seed))
		var mu sync.Mutex
		req.delay = func() time.Duration {
			mu.Lock()
			defer mu.Unlock()
			return time.Duration(rng.Intn(5)) * time.Millisecond
		}
		p, err := FetchAll(context.Background(), g, req, quickConfig())
		require.NoError(t, err)
		return p.Img.Pix
	}

	reference := run(1)
	for seed := int64(2); seed <= 4; seed++ {
		assert.Equal(t, reference, run(seed), "assembly must not depend on completion order")
	}
}

func TestPermanentFailureBecomesPlaceholder(t *testing.T) {
	g := testGrid()
	bad := grid.TileCoordinate{Col: 2, Row: 1}
	req := newFakeRequester(g)
	req.fail = func(c grid.TileCoordinate, attempt int) error {
		if c == bad {
			return &statusError{code: 404}
		}
		return nil
	}

	p, err := FetchAll(context.Background(), g, req, quickConfig())
	require.NoError(t, err, "a single unavailable tile is not fatal")

	assert.Equal(t, []grid.TileCoordinate{bad}, p.Failed())
	assert.Equal(t, 1, req.calls[bad], "non-retryable failure must not consume retry budget")

	// Neighbors carry real pixels.
	good := grid.TileCoordinate{Col: 1, Row: 1}
	ts := g.TileSizePx
	assert.Equal(t, uint8(21), p.Img.RGBAAt(good.Col*ts, good.Row*ts).R)
}

func TestStrictModeFailsOnMissingTile(t *testing.T) {
	g := testGrid()
	req := newFakeRequester(g)
	req.fail = func(c grid.TileCoordinate, attempt int) error {
		if (c == grid.TileCoordinate{Col: 0, Row: 0}) {
			return &statusError{code: 400}
		}
		return nil
	}

	cfg := quickConfig()
	cfg.Strict = true
	_, err := FetchAll(context.Background(), g, req, cfg)

	var incomplete *assemble.IncompletePanoramaError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []grid.TileCoordinate{{Col: 0, Row: 0}}, incomplete.Missing)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	g := testGrid()
	flaky := grid.TileCoordinate{Col: 3, Row: 0}
	req := newFakeRequester(g)
	req.fail = func(c grid.TileCoordinate, attempt int) error {
		if c == flaky && attempt <= 2 {
			return &statusError{code: 503}
		}
		return nil
	}

	p, err := FetchAll(context.Background(), g, req, quickConfig())
	require.NoError(t, err)

	assert.Equal(t, 3, req.calls[flaky], "two transient failures then success")
	assert.Empty(t, p.Failed())
}

func TestRetryBudgetExhaustion(t *testing.T) {
	g := testGrid()
	dead := grid.TileCoordinate{Col: 0, Row: 1}
	req := newFakeRequester(g)
	req.fail = func(c grid.TileCoordinate, attempt int) error {
		if c == dead {
			return &statusError{code: 500}
		}
		return nil
	}

	cfg := quickConfig()
	cfg.Retries = 2
	p, err := FetchAll(context.Background(), g, req, cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, req.calls[dead], "initial attempt plus two retries")
	assert.Equal(t, []grid.TileCoordinate{dead}, p.Failed())
}

func TestRepeatedForbiddenAbortsBatch(t *testing.T) {
	g := testGrid()
	req := newFakeRequester(g)
	req.fail = func(c grid.TileCoordinate, attempt int) error {
		return &statusError{code: 403}
	}

	cfg := quickConfig()
	cfg.Workers = 1
	_, err := FetchAll(context.Background(), g, req, cfg)

	var authErr *AuthAbortError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 403, authErr.StatusCode)
	assert.Less(t, req.totalCalls(), g.TileCount(), "abort must fire before all tiles are attempted")
}

func TestQuotaAbort(t *testing.T) {
	g := testGrid()
	req := newFakeRequester(g)
	req.fail = func(c grid.TileCoordinate, attempt int) error {
		return &statusError{code: 403, quota: true}
	}

	cfg := quickConfig()
	cfg.Workers = 1
	_, err := FetchAll(context.Background(), g, req, cfg)

	var quotaErr *QuotaAbortError
	require.ErrorAs(t, err, &quotaErr)
}

func TestMalformedTileIsPlaceholderNotRetried(t *testing.T) {
	g := testGrid()
	garbled := grid.TileCoordinate{Col: 1, Row: 0}
	req := newFakeRequester(g)

	wrapped := &garblingRequester{fakeRequester: req, target: garbled}
	p, err := FetchAll(context.Background(), g, wrapped, quickConfig())
	require.NoError(t, err)

	assert.Equal(t, []grid.TileCoordinate{garbled}, p.Failed())
	assert.Equal(t, 1, req.calls[garbled], "malformed body must not be re-fetched")
}

type garblingRequester struct {
	*fakeRequester
	target grid.TileCoordinate
}

func (r *garblingRequester) FetchTile(ctx context.Context, c grid.TileCoordinate) ([]byte, error) {
	data, err := r.fakeRequester.FetchTile(ctx, c)
	if err == nil && c == r.target {
		return []byte("not an image"), nil
	}
	return data, err
}

type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
	adds  int
}

func (c *mapCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.items[key]
	return data, ok
}

func (c *mapCache) Add(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = data
	c.adds++
}

func TestCacheHitSkipsNetwork(t *testing.T) {
	g := testGrid()
	req := newFakeRequester(g)

	cache := &mapCache{items: make(map[string][]byte)}
	for _, c := range g.Coordinates() {
		cache.items[req.CacheKey(c)] = req.tileBytes(c)
	}

	cfg := quickConfig()
	cfg.Cache = cache
	p, err := FetchAll(context.Background(), g, req, cfg)
	require.NoError(t, err)

	assert.Zero(t, req.totalCalls(), "every tile should come from cache")
	assert.Empty(t, p.Failed())
}

func TestProgressCallbackCoversAllTiles(t *testing.T) {
	g := testGrid()
	req := newFakeRequester(g)

	var mu sync.Mutex
	var seen []int
	cfg := quickConfig()
	cfg.OnProgress = func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, g.TileCount(), total)
		seen = append(seen, done)
	}

	_, err := FetchAll(context.Background(), g, req, cfg)
	require.NoError(t, err)
	assert.Len(t, seen, g.TileCount())
	assert.Equal(t, g.TileCount(), seen[len(seen)-1])
}
