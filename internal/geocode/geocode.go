// Package geocode resolves UK postcodes to coordinates through the
// postcodes.io bulk lookup API, caching every answer (including "unknown
// postcode") for the lifetime of the process and, optionally, across runs.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/metrics"
	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/ratelimit"
)

const (
	// DefaultBaseURL is the public postcodes.io endpoint.
	DefaultBaseURL = "https://api.postcodes.io"
	// MaxBatchSize is the largest bulk lookup the API accepts.
	MaxBatchSize = 100
	// DefaultLimiterKey is the rate-limit bucket for geocoding requests.
	DefaultLimiterKey = "geocoder"
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64
	Lng float64
}

// Entry is a cached lookup outcome. Resolvable is false for postcodes the
// service reported as unknown.
type Entry struct {
	LatLng
	Resolvable bool
}

// Cache persists lookup outcomes between runs.
type Cache interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Store(ctx context.Context, entries map[string]Entry) error
}

// Executor runs an operation under the shared rate limiter with retries.
type Executor interface {
	ExecuteWithRetry(ctx context.Context, key string, p ratelimit.Policy, op func(context.Context) error) error
}

// Config controls the geocoder.
type Config struct {
	BaseURL    string
	BatchSize  int
	LimiterKey string
	Retry      ratelimit.Policy
}

// Result reports what a Resolve call did.
type Result struct {
	// Coords holds every resolvable postcode asked for, keyed by compact form.
	Coords       map[string]LatLng
	Looked       int
	Cached       int
	Resolved     int
	Unresolvable int
	Failed       int
}

// Geocoder looks up postcodes in batches.
type Geocoder struct {
	cfg     Config
	fetcher planning.Fetcher
	limiter Executor
	cache   Cache
	logger  *zap.Logger

	mu   sync.Mutex
	memo map[string]Entry
}

// New builds a Geocoder. cache may be nil.
func New(cfg Config, fetcher planning.Fetcher, limiter Executor, cache Cache, logger *zap.Logger) *Geocoder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.LimiterKey == "" {
		cfg.LimiterKey = DefaultLimiterKey
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = ratelimit.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Geocoder{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		cache:   cache,
		logger:  logger.Named("geocode"),
		memo:    make(map[string]Entry),
	}
}

// Warm loads the persistent cache into memory.
func (g *Geocoder) Warm(ctx context.Context) error {
	if g.cache == nil {
		return nil
	}
	entries, err := g.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("load geocode cache: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, v := range entries {
		g.memo[k] = v
	}
	g.logger.Info("geocode cache warmed", zap.Int("entries", len(entries)))
	return nil
}

// Lookup returns a cached entry for postcode without calling the service.
func (g *Geocoder) Lookup(postcode string) (Entry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.memo[planning.CompactPostcode(postcode)]
	return e, ok
}

// Resolve returns coordinates for the given postcodes. Cached answers are
// served from memory; the rest go to the service in batches, sequentially.
// A batch that fails after retries leaves its postcodes unattempted so a
// later run can try again. Only context cancellation is returned as an error.
func (g *Geocoder) Resolve(ctx context.Context, postcodes []string) (Result, error) {
	res := Result{Coords: make(map[string]LatLng)}

	var pending []string
	seen := make(map[string]struct{}, len(postcodes))
	g.mu.Lock()
	for _, raw := range postcodes {
		pc := planning.CompactPostcode(raw)
		if pc == "" {
			continue
		}
		if _, dup := seen[pc]; dup {
			continue
		}
		seen[pc] = struct{}{}
		res.Looked++
		if e, ok := g.memo[pc]; ok {
			res.Cached++
			if e.Resolvable {
				res.Coords[pc] = e.LatLng
			} else {
				res.Unresolvable++
			}
			continue
		}
		pending = append(pending, pc)
	}
	g.mu.Unlock()

	for start := 0; start < len(pending); start += g.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("geocode: %w", err)
		}
		end := min(start+g.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		found, err := g.lookupBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return res, fmt.Errorf("geocode: %w", err)
			}
			res.Failed += len(batch)
			metrics.ObserveGeocode("failed", len(batch))
			g.logger.Warn("geocode batch failed", zap.Int("size", len(batch)), zap.Error(err))
			continue
		}

		for _, pc := range batch {
			e := found[pc]
			if e.Resolvable {
				res.Coords[pc] = e.LatLng
				res.Resolved++
			} else {
				res.Unresolvable++
			}
		}
		g.remember(ctx, found)
	}

	metrics.ObserveGeocode("cached", res.Cached)
	metrics.ObserveGeocode("resolved", res.Resolved)
	metrics.ObserveGeocode("unresolvable", res.Unresolvable)
	return res, nil
}

// EnrichStats counts what Enrich did to a set of applications.
type EnrichStats struct {
	Geocoded     int
	Unresolvable int
	Failed       int
	NoPostcode   int
}

// Enrich fills coordinates on applications that lack them. Applications it
// cannot place keep null coordinates.
func (g *Geocoder) Enrich(ctx context.Context, apps []planning.Application) (EnrichStats, error) {
	var stats EnrichStats
	var wanted []string
	for _, app := range apps {
		if app.HasCoords() {
			continue
		}
		if app.Postcode == "" {
			stats.NoPostcode++
			continue
		}
		wanted = append(wanted, app.Postcode)
	}
	if len(wanted) == 0 {
		return stats, nil
	}

	res, err := g.Resolve(ctx, wanted)
	for i := range apps {
		if apps[i].HasCoords() || apps[i].Postcode == "" {
			continue
		}
		pc := planning.CompactPostcode(apps[i].Postcode)
		if ll, ok := res.Coords[pc]; ok {
			apps[i].SetCoords(ll.Lat, ll.Lng)
			stats.Geocoded++
			continue
		}
		if e, ok := g.Lookup(pc); ok && !e.Resolvable {
			stats.Unresolvable++
		} else {
			stats.Failed++
		}
	}
	return stats, err
}

type bulkRequest struct {
	Postcodes []string `json:"postcodes"`
}

type bulkResponse struct {
	Status int `json:"status"`
	Result []struct {
		Query  string `json:"query"`
		Result *struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		} `json:"result"`
	} `json:"result"`
}

func (g *Geocoder) lookupBatch(ctx context.Context, batch []string) (map[string]Entry, error) {
	payload, err := json.Marshal(bulkRequest{Postcodes: batch})
	if err != nil {
		return nil, fmt.Errorf("encode bulk request: %w", err)
	}
	req := planning.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(g.cfg.BaseURL, "/") + "/postcodes",
		Body:   payload,
		Header: http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		},
	}

	var body []byte
	err = g.limiter.ExecuteWithRetry(ctx, g.cfg.LimiterKey, g.cfg.Retry, func(ctx context.Context) error {
		resp, err := g.fetcher.Fetch(ctx, req)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}

	var decoded bulkResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	if len(decoded.Result) != len(batch) {
		return nil, fmt.Errorf("bulk response has %d results for %d postcodes", len(decoded.Result), len(batch))
	}

	found := make(map[string]Entry, len(batch))
	for _, pc := range batch {
		found[pc] = Entry{}
	}
	for _, item := range decoded.Result {
		pc := planning.CompactPostcode(item.Query)
		if _, asked := found[pc]; !asked {
			continue
		}
		if item.Result == nil || item.Result.Latitude == nil || item.Result.Longitude == nil {
			continue
		}
		found[pc] = Entry{
			LatLng:     LatLng{Lat: *item.Result.Latitude, Lng: *item.Result.Longitude},
			Resolvable: true,
		}
	}
	return found, nil
}

func (g *Geocoder) remember(ctx context.Context, found map[string]Entry) {
	g.mu.Lock()
	for pc, e := range found {
		g.memo[pc] = e
	}
	g.mu.Unlock()

	if g.cache == nil {
		return
	}
	if err := g.cache.Store(context.WithoutCancel(ctx), found); err != nil {
		g.logger.Warn("persist geocode cache", zap.Error(err))
	}
}
