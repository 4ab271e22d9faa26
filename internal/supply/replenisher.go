package supply

import (
	"context"
	"log/slog"
	"sync"

	"github.com/modswipe/modswipe/internal/listing"
)

// State tags the replenishment machine's position. Tagged states rather than
// a loose boolean so the mutual-exclusion invariant stays checkable.
type State string

const (
	StateIdle            State = "idle"
	StateChecking        State = "checking"
	StateCacheServed     State = "cache_served"
	StateNetworkFetching State = "network_fetching"
)

// Replenishment is the outcome of one Observe or Refresh pass. Took records
// the terminal transition; StateIdle means the pass was a no-op (queue deep
// enough, cooldown active, or a fetch already in flight).
type Replenishment struct {
	Took     State
	Listings []listing.Listing
	Err      error // non-fatal; the machine has already returned to Idle
}

// Replenisher decides, from queue-depth observations, whether to splice
// cached listings into the live queue, trigger a background network fetch,
// or do nothing. It shares the Service's per-catalog single-permit guard, so
// at most one network fetch is ever in flight per catalog.
type Replenisher struct {
	svc    *Service
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]State
}

// NewReplenisher creates a Replenisher over the service.
func NewReplenisher(svc *Service) *Replenisher {
	return &Replenisher{
		svc:    svc,
		logger: slog.Default(),
		states: make(map[string]State),
	}
}

// CurrentState returns the catalog's machine state.
func (r *Replenisher) CurrentState(catalog string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[catalog]; ok {
		return s
	}
	return StateIdle
}

func (r *Replenisher) setState(catalog string, s State) {
	r.mu.Lock()
	r.states[catalog] = s
	r.mu.Unlock()
}

// Observe reacts to a queue-depth reading. Below the low-queue threshold,
// with the cooldown elapsed and no fetch in flight, it transitions to
// Checking and serves from cache or the network; otherwise it is a silent
// no-op.
func (r *Replenisher) Observe(ctx context.Context, catalog string, queueDepth int) Replenishment {
	if queueDepth >= r.svc.opts.LowQueueThreshold {
		return Replenishment{Took: StateIdle}
	}
	if !r.svc.cooldownElapsed(catalog) {
		return Replenishment{Took: StateIdle}
	}
	return r.replenish(ctx, catalog, false)
}

// Refresh forces a network fetch regardless of cooldown and queue depth. A
// fetch already in flight still makes it a no-op: the single-permit
// invariant holds for manual refreshes too.
func (r *Replenisher) Refresh(ctx context.Context, catalog string) Replenishment {
	return r.replenish(ctx, catalog, true)
}

func (r *Replenisher) replenish(ctx context.Context, catalog string, force bool) Replenishment {
	g := r.svc.guard(catalog)
	if !g.TryAcquire(1) {
		// A second trigger while a fetch is in flight is a silent no-op.
		return Replenishment{Took: StateIdle}
	}
	// The guard and the state are restored on every path out, success or
	// failure, so the machine can never stick outside Idle.
	defer func() {
		r.setState(catalog, StateIdle)
		g.Release(1)
	}()

	r.setState(catalog, StateChecking)

	seen, err := r.svc.store.SeenIDs(catalog)
	if err != nil {
		return Replenishment{Took: StateChecking, Err: err}
	}
	cached, err := r.svc.store.GetAll(catalog)
	if err != nil {
		return Replenishment{Took: StateChecking, Err: err}
	}
	unseenCache := listing.FilterUnseen(cached, seen)

	if !force && listing.UseCacheOnly(len(unseenCache), r.svc.opts.LowQueueThreshold) {
		r.setState(catalog, StateCacheServed)
		listing.Shuffle(unseenCache)
		if len(unseenCache) > r.svc.opts.MaxSplice {
			unseenCache = unseenCache[:r.svc.opts.MaxSplice]
		}
		return Replenishment{Took: StateCacheServed, Listings: unseenCache}
	}

	r.setState(catalog, StateNetworkFetching)

	exclude := make(map[int64]bool, len(seen))
	for id := range seen {
		exclude[id] = true
	}
	for _, l := range cached {
		exclude[l.ModID] = true
	}

	res, err := r.svc.sampler.Sample(ctx, catalog, r.svc.opts.MaxSplice, exclude)
	r.svc.markFetched(catalog)
	if err != nil {
		// Caught here, surfaced to the caller as a non-fatal message; the
		// deferred cleanup still returns the machine to Idle.
		r.logger.Warn("background fetch failed", "catalog", catalog, "error", err)
		return Replenishment{Took: StateNetworkFetching, Err: err}
	}

	if err := r.svc.store.PutAll(catalog, res.Listings); err != nil {
		r.logger.Warn("cache write failed", "catalog", catalog, "error", err)
	}

	fresh := listing.FilterUnseen(res.Listings, seen)
	merged := listing.MergeDeduplicated(unseenCache, fresh)
	listing.Shuffle(merged)
	if len(merged) > r.svc.opts.MaxSplice {
		merged = merged[:r.svc.opts.MaxSplice]
	}
	return Replenishment{Took: StateNetworkFetching, Listings: merged}
}
