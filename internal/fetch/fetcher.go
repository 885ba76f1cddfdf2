// Package fetch downloads a panorama's tile grid over an unreliable network
// with bounded concurrency, per-tile retry with exponential backoff, and a
// hard-abort path for authorization and quota failures.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"streetview-dl/internal/assemble"
	"streetview-dl/internal/grid"
)

// hardFailureThreshold is the number of consecutive 401/403 responses after
// which the batch is aborted instead of burning retry budget per tile.
const hardFailureThreshold = 3

// ErrTileUnavailable marks a tile that exhausted its retry budget. The run
// continues with a placeholder block unless strict mode is set.
var ErrTileUnavailable = errors.New("tile unavailable")

// AuthAbortError cancels the batch when the upstream repeatedly rejects our
// credentials.
type AuthAbortError struct {
	StatusCode int
}

func (e *AuthAbortError) Error() string {
	return fmt.Sprintf("authentication rejected by tile service (HTTP %d): batch aborted", e.StatusCode)
}

// QuotaAbortError cancels the batch when the upstream reports quota
// exhaustion.
type QuotaAbortError struct {
	StatusCode int
}

func (e *QuotaAbortError) Error() string {
	return fmt.Sprintf("tile service quota exhausted (HTTP %d): batch aborted", e.StatusCode)
}

// Requester is the authenticated tile source supplied by the HTTP/auth
// layer. CacheKey must be stable and unique per coordinate.
type Requester interface {
	FetchTile(ctx context.Context, coord grid.TileCoordinate) ([]byte, error)
	CacheKey(coord grid.TileCoordinate) string
}

// TileCache is consulted before any network call so already-successful
// tiles are never re-fetched.
type TileCache interface {
	Get(key string) ([]byte, bool)
	Add(key string, data []byte)
}

// Config carries all fetch tuning as explicit values; nothing is read from
// ambient state.
type Config struct {
	// Workers bounds concurrency. Zero means auto-tune from the grid tier
	// and available parallelism.
	Workers int
	// Retries is the per-tile retry budget for transient failures.
	Retries int
	// BackoffBase is doubled per attempt; zero defaults to 500ms.
	BackoffBase time.Duration
	// Jitter randomizes backoff delays to avoid thundering herds.
	Jitter bool
	// Strict makes any missing tile fatal instead of a placeholder.
	Strict bool

	Cache      TileCache
	OnProgress func(done, total int)
	Logger     *zap.Logger
}

func (c Config) withDefaults(g grid.TileGrid) Config {
	if c.Workers <= 0 {
		c.Workers = grid.AutoWorkers(g)
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type tileResult struct {
	coord grid.TileCoordinate
	data  []byte
	err   error
}

type fetcher struct {
	req    Requester
	cfg    Config
	logger *zap.Logger
	cancel context.CancelFunc
	rng    *rand.Rand
	rngMu  sync.Mutex

	consecHard int32
	abortOnce  sync.Once
	abortErr   atomic.Value
}

// FetchAll downloads every tile in the grid and assembles the panorama.
// Exactly one result is produced per coordinate. Soft per-tile failures
// become placeholder blocks; repeated auth/quota failures cancel all
// in-flight and queued fetches and surface a single terminal error.
func FetchAll(ctx context.Context, g grid.TileGrid, req Requester, cfg Config) (*assemble.Panorama, error) {
	cfg = cfg.withDefaults(g)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f := &fetcher{
		req:    req,
		cfg:    cfg,
		logger: cfg.Logger,
		cancel: cancel,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	coords := g.Coordinates()
	total := len(coords)
	results := make(chan tileResult, total)

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup
	for _, c := range coords {
		wg.Add(1)
		go func(c grid.TileCoordinate) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- tileResult{coord: c, err: err}
				return
			}
			defer sem.Release(1)

			data, err := f.fetchOne(ctx, c)
			results <- tileResult{coord: c, data: data, err: err}
		}(c)
	}

	p := assemble.New(g)
	for done := 1; done <= total; done++ {
		res := <-results
		if res.err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("tile failed, rendering placeholder",
					zap.String("tile", res.coord.String()),
					zap.Error(res.err))
			}
			p.PlaceFailure(res.coord)
		} else if tile, _, err := image.Decode(bytes.NewReader(res.data)); err != nil {
			// Malformed response body: permanent for this tile.
			f.logger.Warn("tile decode failed",
				zap.String("tile", res.coord.String()),
				zap.Error(err))
			p.PlaceFailure(res.coord)
		} else {
			p.Place(res.coord, tile)
		}
		if cfg.OnProgress != nil {
			cfg.OnProgress(done, total)
		}
	}
	wg.Wait()

	if abort := f.abortErr.Load(); abort != nil {
		return nil, abort.(error)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Finalize(cfg.Strict); err != nil {
		return nil, err
	}
	return p, nil
}

// fetchOne runs the per-tile state machine: Pending -> (Success | Retrying
// -> Pending | PermanentFailure), with the attempt count and backoff delay
// as explicit state.
func (f *fetcher) fetchOne(ctx context.Context, c grid.TileCoordinate) ([]byte, error) {
	key := f.req.CacheKey(c)
	if f.cfg.Cache != nil {
		if data, ok := f.cfg.Cache.Get(key); ok {
			return data, nil
		}
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := f.req.FetchTile(ctx, c)
		if err == nil {
			atomic.StoreInt32(&f.consecHard, 0)
			if f.cfg.Cache != nil {
				f.cfg.Cache.Add(key, data)
			}
			return data, nil
		}

		switch classify(err) {
		case classHard:
			f.noteHardFailure(err)
			return nil, err
		case classPermanent:
			return nil, err
		}

		if attempt >= f.cfg.Retries {
			return nil, fmt.Errorf("%w: %s failed after %d attempts: %v", ErrTileUnavailable, c, attempt+1, err)
		}

		delay := f.backoff(attempt)
		f.logger.Debug("transient tile failure, backing off",
			zap.String("tile", c.String()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// noteHardFailure counts consecutive auth/quota rejections and trips the
// batch abort at the threshold.
func (f *fetcher) noteHardFailure(err error) {
	if atomic.AddInt32(&f.consecHard, 1) < hardFailureThreshold {
		return
	}
	f.abortOnce.Do(func() {
		status := statusOf(err)
		var abort error
		if isQuota(err) {
			abort = &QuotaAbortError{StatusCode: status}
		} else {
			abort = &AuthAbortError{StatusCode: status}
		}
		f.abortErr.Store(abort)
		f.logger.Error("aborting batch after repeated hard failures",
			zap.Int("status", status),
			zap.Error(err))
		f.cancel()
	})
}

// backoff computes base * 2^attempt, optionally jittered into the upper
// half of the interval.
func (f *fetcher) backoff(attempt int) time.Duration {
	delay := f.cfg.BackoffBase << uint(attempt)
	if !f.cfg.Jitter {
		return delay
	}
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	half := int64(delay) / 2
	return time.Duration(half + f.rng.Int63n(half+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
