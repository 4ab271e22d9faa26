// Package supply orchestrates the cache, the sampler, and the seen-id state
// into the core's single pull entry point: give me N unseen listings.
package supply

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/modswipe/modswipe/internal/listing"
	"github.com/modswipe/modswipe/internal/nexus"
	"github.com/modswipe/modswipe/internal/sampler"
)

// Store is the subset of the cache store the supply layer needs.
type Store interface {
	PutAll(catalog string, listings []listing.Listing) error
	GetAll(catalog string) ([]listing.Listing, error)
	Count(catalog string) (int, error)
	CachedIDs(catalog string) (map[int64]bool, error)
	AgeMinutes(catalog string) (int, bool, error)
	Clear(catalog string) error
	MarkSeen(catalog string, ids ...int64) error
	SeenIDs(catalog string) (map[int64]bool, error)
	Approve(catalog string, l listing.Listing) error
	Approved(catalog string) ([]listing.Listing, error)
}

// Sampler abstracts the listing pool sampler.
type Sampler interface {
	Sample(ctx context.Context, catalog string, count int, exclude map[int64]bool) (sampler.Result, error)
}

// Options tune the supply service. Zero values fall back to defaults.
type Options struct {
	LowQueueThreshold int           // unseen-cache floor for the cache-only shortcut (default 20)
	Cooldown          time.Duration // minimum gap between network fetches per catalog (default 60s)
	MaxSplice         int           // cached listings spliced per replenishment (default 50)
}

func (o Options) withDefaults() Options {
	if o.LowQueueThreshold <= 0 {
		o.LowQueueThreshold = 20
	}
	if o.Cooldown == 0 {
		o.Cooldown = 60 * time.Second
	}
	if o.MaxSplice <= 0 {
		o.MaxSplice = 50
	}
	return o
}

// Batch is the result of one RequestBatch call.
type Batch struct {
	Listings  []listing.Listing `json:"listings"`
	RateLimit *nexus.RateLimit  `json:"rate_limit,omitempty"`
	FromCache bool              `json:"from_cache"`
	// Exhausted marks an empty-but-successful result near the end of the
	// candidate pool, distinct from an error.
	Exhausted bool `json:"exhausted"`
}

// CacheStats is the per-catalog cache state shown in the HUD.
type CacheStats struct {
	Count      int  `json:"count"`
	AgeMinutes int  `json:"age_minutes"`
	HasAge     bool `json:"-"`
}

// Service is the core's boundary with the UI. All state is explicit: the
// seen set and catalog are passed through rather than read from globals, so
// every path is deterministic under test.
type Service struct {
	store   Store
	sampler Sampler
	opts    Options
	logger  *slog.Logger

	mu        sync.Mutex
	guards    map[string]*semaphore.Weighted
	lastFetch map[string]time.Time
	active    string
}

// New creates a Service over the given store and sampler.
func New(store Store, smp Sampler, opts Options) *Service {
	return &Service{
		store:     store,
		sampler:   smp,
		opts:      opts.withDefaults(),
		logger:    slog.Default(),
		guards:    make(map[string]*semaphore.Weighted),
		lastFetch: make(map[string]time.Time),
	}
}

// guard returns the catalog's single-permit fetch lock.
func (s *Service) guard(catalog string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[catalog]
	if !ok {
		g = semaphore.NewWeighted(1)
		s.guards[catalog] = g
	}
	return g
}

func (s *Service) setActive(catalog string) {
	s.mu.Lock()
	s.active = catalog
	s.mu.Unlock()
}

func (s *Service) isActive(catalog string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == catalog
}

func (s *Service) markFetched(catalog string) {
	s.mu.Lock()
	s.lastFetch[catalog] = time.Now()
	s.mu.Unlock()
}

func (s *Service) cooldownElapsed(catalog string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastFetch[catalog]
	return !ok || time.Since(last) >= s.opts.Cooldown
}

// RequestBatch returns up to count unseen displayable listings for the
// catalog. The unseen cache subset is served alone when it already meets the
// low-queue threshold; otherwise the network is sampled, new listings are
// persisted best-effort, and cache and network results are merged
// deduplicated and shuffled. extraExclude lets the caller exclude ids
// already in its live queue.
func (s *Service) RequestBatch(ctx context.Context, catalog string, count int, extraExclude []int64) (Batch, error) {
	s.setActive(catalog)

	seen, err := s.store.SeenIDs(catalog)
	if err != nil {
		return Batch{}, fmt.Errorf("loading seen ids: %w", err)
	}
	for _, id := range extraExclude {
		seen[id] = true
	}

	cached, err := s.store.GetAll(catalog)
	if err != nil {
		return Batch{}, fmt.Errorf("reading cache: %w", err)
	}
	unseenCache := listing.FilterUnseen(cached, seen)

	if listing.UseCacheOnly(len(unseenCache), s.opts.LowQueueThreshold) {
		listing.Shuffle(unseenCache)
		if len(unseenCache) > count {
			unseenCache = unseenCache[:count]
		}
		return Batch{Listings: unseenCache, FromCache: true}, nil
	}

	g := s.guard(catalog)
	if !g.TryAcquire(1) {
		// Another fetch is in flight for this catalog: serve what the cache
		// has rather than queue a second fetch.
		listing.Shuffle(unseenCache)
		if len(unseenCache) > count {
			unseenCache = unseenCache[:count]
		}
		return Batch{Listings: unseenCache, FromCache: true}, nil
	}
	defer g.Release(1)

	exclude := make(map[int64]bool, len(seen))
	for id := range seen {
		exclude[id] = true
	}
	cachedIDs, err := s.store.CachedIDs(catalog)
	if err != nil {
		return Batch{}, fmt.Errorf("reading cached ids: %w", err)
	}
	for id := range cachedIDs {
		exclude[id] = true
	}

	trace := uuid.New().String()[:8]
	s.logger.Info("sampling network", "catalog", catalog, "count", count, "trace", trace)

	res, err := s.sampler.Sample(ctx, catalog, count, exclude)
	s.markFetched(catalog)
	if err != nil {
		return Batch{}, fmt.Errorf("sampling listings: %w", err)
	}

	// The catalog may have changed while the fetch ran; stale results are
	// ignored rather than merged.
	if !s.isActive(catalog) {
		s.logger.Info("discarding stale fetch", "catalog", catalog, "trace", trace)
		return Batch{}, nil
	}

	if err := s.store.PutAll(catalog, res.Listings); err != nil {
		// Caching is best-effort: the fetched data is still returned.
		s.logger.Warn("cache write failed", "catalog", catalog, "trace", trace, "error", err)
	}

	networkUnseen := listing.FilterUnseen(res.Listings, seen)
	merged := listing.MergeDeduplicated(unseenCache, networkUnseen)
	listing.Shuffle(merged)
	if len(merged) > count {
		merged = merged[:count]
	}

	return Batch{
		Listings:  merged,
		RateLimit: res.RateLimit,
		Exhausted: len(merged) == 0,
	}, nil
}

// ReportSeen records ids the user has decided on (approved or rejected).
func (s *Service) ReportSeen(catalog string, ids ...int64) error {
	if err := s.store.MarkSeen(catalog, ids...); err != nil {
		return fmt.Errorf("marking seen: %w", err)
	}
	return nil
}

// Approve puts a listing on the catalog's approved list.
func (s *Service) Approve(catalog string, l listing.Listing) error {
	if err := s.store.Approve(catalog, l); err != nil {
		return fmt.Errorf("approving listing: %w", err)
	}
	return nil
}

// Approved returns the catalog's approved list.
func (s *Service) Approved(catalog string) ([]listing.Listing, error) {
	return s.store.Approved(catalog)
}

// Stats returns the catalog's cache count and age.
func (s *Service) Stats(catalog string) (CacheStats, error) {
	count, err := s.store.Count(catalog)
	if err != nil {
		return CacheStats{}, fmt.Errorf("counting cache: %w", err)
	}
	age, ok, err := s.store.AgeMinutes(catalog)
	if err != nil {
		return CacheStats{}, fmt.Errorf("reading cache age: %w", err)
	}
	return CacheStats{Count: count, AgeMinutes: age, HasAge: ok}, nil
}

// ClearCatalog wipes the catalog's cache, metadata, seen set, and approved
// list. Best-effort: failures are logged, never raised.
func (s *Service) ClearCatalog(catalog string) {
	if err := s.store.Clear(catalog); err != nil {
		s.logger.Warn("clearing catalog failed", "catalog", catalog, "error", err)
	}
}
