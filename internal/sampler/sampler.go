// Package sampler turns the remote catalog's index endpoints into a random,
// deduplicated batch of fresh displayable listings.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modswipe/modswipe/internal/listing"
	"github.com/modswipe/modswipe/internal/nexus"
)

// Source abstracts the remote catalog client.
type Source interface {
	FetchIndex(ctx context.Context, catalog string, window nexus.Window) (nexus.IndexResult, error)
	FetchListing(ctx context.Context, catalog string, id int64) (nexus.ListingResult, error)
	FetchCuratedList(ctx context.Context, catalog, name string) (nexus.ListingsResult, error)
}

// Options tune the sampling pipeline. Zero values fall back to defaults.
type Options struct {
	BatchSize     int           // concurrent fetches per batch (default 10)
	BatchPause    time.Duration // pause between batches (default 500ms)
	LowWaterMark  int           // hourly-remaining floor before slowing down (default 25)
	LowWaterPause time.Duration // pause when below the low-water mark (default 5s)
	Windows       []nexus.Window
	CuratedLists  []string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.BatchPause == 0 {
		o.BatchPause = 500 * time.Millisecond
	}
	if o.LowWaterMark <= 0 {
		o.LowWaterMark = 25
	}
	if o.LowWaterPause == 0 {
		o.LowWaterPause = 5 * time.Second
	}
	if o.Windows == nil {
		o.Windows = nexus.Windows
	}
	if o.CuratedLists == nil {
		o.CuratedLists = []string{nexus.ListTrending, nexus.ListLatestAdded}
	}
	return o
}

// Result is one sampling pass: a shuffled, deduplicated set of displayable
// listings and the most recent rate-limit snapshot observed along the way.
type Result struct {
	Listings  []listing.Listing
	RateLimit *nexus.RateLimit
}

// Sampler produces up to count fresh listings per invocation while keeping
// redundant remote calls to a minimum.
type Sampler struct {
	source Source
	opts   Options
	logger *slog.Logger
}

// New creates a Sampler over the given source.
func New(source Source, opts Options) *Sampler {
	return &Sampler{
		source: source,
		opts:   opts.withDefaults(),
		logger: slog.Default(),
	}
}

// Sample fetches up to count displayable listings for the catalog, excluding
// every id in exclude (seen or already cached). Index windows are queried
// concurrently with best-effort semantics; full records are fetched in
// strictly sequential concurrent batches to bound outbound requests.
func (s *Sampler) Sample(ctx context.Context, catalog string, count int, exclude map[int64]bool) (Result, error) {
	candidates, rl, err := s.collectCandidates(ctx, catalog, exclude)
	if err != nil {
		return Result{}, err
	}

	listing.ShuffleIDs(candidates)
	if len(candidates) > count {
		candidates = candidates[:count]
	}

	fetched, fetchRL := s.fetchRecords(ctx, catalog, candidates)
	if fetchRL != nil {
		rl = fetchRL
	}

	taken := make(map[int64]bool, len(fetched))
	var out []listing.Listing
	for _, l := range fetched {
		if exclude[l.ModID] || taken[l.ModID] {
			continue
		}
		taken[l.ModID] = true
		out = append(out, l)
	}

	// Curated lists add baseline variety beyond the recently-updated pool.
	for _, name := range s.opts.CuratedLists {
		res, err := s.source.FetchCuratedList(ctx, catalog, name)
		if res.RateLimit != nil {
			rl = res.RateLimit
		}
		if err != nil {
			s.logger.Warn("curated list fetch failed", "catalog", catalog, "list", name, "error", err)
			continue
		}
		for _, l := range res.Listings {
			if exclude[l.ModID] || taken[l.ModID] {
				continue
			}
			taken[l.ModID] = true
			out = append(out, l)
		}
	}

	// Final shuffle so curated items are not clustered at the end.
	listing.Shuffle(out)

	return Result{Listings: out, RateLimit: rl}, nil
}

// collectCandidates fans out over the recency windows concurrently and
// unions the ids, minus the exclusion set. A failed window reduces yield but
// only aborts the pass when every window failed.
func (s *Sampler) collectCandidates(ctx context.Context, catalog string, exclude map[int64]bool) ([]int64, *nexus.RateLimit, error) {
	windows := s.opts.Windows
	results := make([]nexus.IndexResult, len(windows))
	errs := make([]error, len(windows))

	g, gCtx := errgroup.WithContext(ctx)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			res, err := s.source.FetchIndex(gCtx, catalog, w)
			results[i] = res
			errs[i] = err
			return nil
		})
	}
	g.Wait()

	var rl *nexus.RateLimit
	seen := make(map[int64]bool, len(exclude))
	var candidates []int64
	failures := 0
	// Merge in fixed window order so interleaving stays deterministic.
	for i, w := range windows {
		if errs[i] != nil {
			failures++
			s.logger.Warn("index window failed", "catalog", catalog, "window", w, "error", errs[i])
			continue
		}
		if results[i].RateLimit != nil {
			rl = results[i].RateLimit
		}
		for _, id := range results[i].IDs {
			if exclude[id] || seen[id] {
				continue
			}
			seen[id] = true
			candidates = append(candidates, id)
		}
	}

	if failures == len(windows) {
		for _, err := range errs {
			if err != nil {
				return nil, rl, fmt.Errorf("all index windows failed: %w", err)
			}
		}
	}
	return candidates, rl, nil
}

// fetchRecords pulls full records for ids in sequential batches of concurrent
// requests. Batch n+1 does not start until batch n completes. Individual
// failures are logged and skipped; they only reduce yield.
func (s *Sampler) fetchRecords(ctx context.Context, catalog string, ids []int64) ([]listing.Listing, *nexus.RateLimit) {
	var out []listing.Listing
	var rl *nexus.RateLimit

	for start := 0; start < len(ids); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		results := make([]nexus.ListingResult, len(batch))

		g, gCtx := errgroup.WithContext(ctx)
		for i, id := range batch {
			i, id := i, id
			g.Go(func() error {
				res, err := s.source.FetchListing(gCtx, catalog, id)
				if err != nil {
					s.logger.Warn("listing fetch failed", "catalog", catalog, "mod_id", id, "error", err)
					return nil
				}
				results[i] = res
				return nil
			})
		}
		g.Wait()

		for _, res := range results {
			if res.RateLimit != nil {
				rl = res.RateLimit
			}
			if res.Listing != nil && res.Listing.Displayable() {
				out = append(out, *res.Listing)
			}
		}

		if end == len(ids) {
			break
		}
		pause := s.opts.BatchPause
		if rl != nil && rl.HourlyRemaining < s.opts.LowWaterMark {
			pause = s.opts.LowWaterPause
		}
		select {
		case <-ctx.Done():
			return out, rl
		case <-time.After(pause):
		}
	}

	return out, rl
}
