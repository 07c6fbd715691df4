package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/ecobici-cdmx/dockarchive/config"
	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
)

// ComputeFunc produces the payload for a fingerprint. The context it
// receives is never cancelled by a waiting caller.
type ComputeFunc func(ctx context.Context) (any, error)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	MaxEntries int
	Policy     Policy
	Clock      clockwork.Clock
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// OptionsFromConfig maps the cache config section to Options.
func OptionsFromConfig(cfg config.CacheConfig) Options {
	return Options{
		MaxEntries: cfg.MaxEntries,
		Policy:     PolicyFromConfig(cfg),
	}
}

type entry struct {
	payload    any
	tier       Tier
	producedAt time.Time
}

// flight tracks one running computation. An invalidation while it runs
// marks it stale so its result is handed to waiters but not stored.
type flight struct {
	stale bool
}

// Manager is a bounded, tiered, single-flight cache. It is safe for
// concurrent use.
type Manager struct {
	policy  Policy
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics

	mu       sync.Mutex
	entries  *lru.Cache
	inflight map[string]*flight
	dropping bool // explicit removal in progress, not an eviction

	group singleflight.Group

	// Statistics
	stats counters
}

type counters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	failures     atomic.Int64
	evictions    atomic.Int64
	expirations  atomic.Int64
	detached     atomic.Int64
}

// New creates an empty cache.
func New(opts Options) (*Manager, error) {
	if opts.MaxEntries == 0 {
		opts.MaxEntries = config.DefaultCacheMaxEntries
	}
	if opts.MaxEntries < 0 {
		return nil, errors.NewInvalidArgument("max_entries", opts.MaxEntries, "must be positive")
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Policy.LiveTTL <= 0 || opts.Policy.DerivedTTL <= 0 {
		return nil, errors.NewInvalidArgument("policy", opts.Policy, "TTLs must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("cache")
	}

	m := &Manager{
		policy:   opts.Policy,
		clock:    opts.Clock,
		log:      opts.Logger,
		entries:  lru.New(opts.MaxEntries),
		inflight: make(map[string]*flight),
	}
	m.entries.OnEvicted = m.onEvicted

	var err error
	m.metrics, err = newMetrics(opts.Registerer, func() float64 { return float64(m.Len()) })
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return m, nil
}

// GetOrCompute returns the payload cached under fp, computing it with fn on
// a miss. Concurrent callers with the same fingerprint share one call of
// fn and receive the identical payload. A cancelled caller returns
// ctx.Err() while the computation carries on for the rest.
//
// It fails with ErrTierMismatch when fp is cached, or being computed, under
// a different tier.
func (m *Manager) GetOrCompute(ctx context.Context, fp Fingerprint, tier Tier, fn ComputeFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := fp.String()

	if e, ok := m.lookup(key); ok {
		if e.tier != tier {
			return nil, errors.NewTierMismatch(key, e.tier.String(), tier.String())
		}
		m.stats.hits.Add(1)
		m.metrics.hits.WithLabelValues(tier.String()).Inc()
		return e.payload, nil
	}

	m.stats.misses.Add(1)
	m.metrics.misses.WithLabelValues(tier.String()).Inc()

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		return m.compute(detached, key, tier, fn)
	})

	select {
	case <-ctx.Done():
		m.stats.detached.Add(1)
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		e := res.Val.(*entry)
		if e.tier != tier {
			return nil, errors.NewTierMismatch(key, e.tier.String(), tier.String())
		}
		return e.payload, nil
	}
}

// compute runs fn once for key and stores a successful result.
func (m *Manager) compute(ctx context.Context, key string, tier Tier, fn ComputeFunc) (*entry, error) {
	// A flight that finished between the caller's lookup and DoChan has
	// already stored the answer.
	if e, ok := m.lookup(key); ok {
		return e, nil
	}

	fl := &flight{}
	m.mu.Lock()
	m.inflight[key] = fl
	m.mu.Unlock()

	m.stats.computations.Add(1)
	m.metrics.computations.WithLabelValues(tier.String()).Inc()

	start := m.clock.Now()
	payload, err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight[key] == fl {
		delete(m.inflight, key)
	}

	if err != nil {
		m.stats.failures.Add(1)
		m.metrics.failures.WithLabelValues(tier.String()).Inc()
		m.log.Debug("computation failed", "key", key, "error", err)
		return nil, err
	}

	e := &entry{payload: payload, tier: tier, producedAt: m.clock.Now()}
	if fl.stale {
		m.log.Debug("computation invalidated while running, not stored", "key", key)
		return e, nil
	}
	m.entries.Add(key, e)
	m.log.Debug("computed", "key", key, "tier", tier.String(), "elapsed", m.clock.Since(start))
	return e, nil
}

// lookup returns the live entry for key, dropping it if it has expired.
func (m *Manager) lookup(key string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if m.policy.Expired(e.tier, e.producedAt, m.clock.Now()) {
		m.removeLocked(key)
		m.stats.expirations.Add(1)
		m.metrics.expirations.WithLabelValues(e.tier.String()).Inc()
		return nil, false
	}
	return e, true
}

// Contains reports whether fp holds an unexpired entry.
func (m *Manager) Contains(fp Fingerprint) bool {
	_, ok := m.lookup(fp.String())
	return ok
}

// Invalidate drops fp. A computation already running for fp keeps its
// waiters, including callers arriving after the invalidation, but its
// result is not stored. The first request after it finishes computes
// afresh.
func (m *Manager) Invalidate(fp Fingerprint) {
	key := fp.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
	if fl, ok := m.inflight[key]; ok {
		fl.stale = true
	}
}

// Purge drops every entry and marks running computations stale.
func (m *Manager) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropping = true
	m.entries.Clear()
	m.dropping = false
	for _, fl := range m.inflight {
		fl.stale = true
	}
}

// Len returns the number of cached entries, including expired ones not yet
// looked up.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}

func (m *Manager) removeLocked(key string) {
	m.dropping = true
	m.entries.Remove(key)
	m.dropping = false
}

// onEvicted runs under mu from inside the LRU.
func (m *Manager) onEvicted(key lru.Key, value interface{}) {
	if m.dropping {
		return
	}
	m.stats.evictions.Add(1)
	m.metrics.evictions.Inc()
}

// Stats holds cache statistics.
type Stats struct {
	Entries      int
	InFlight     int
	Hits         int64
	Misses       int64
	Computations int64
	Failures     int64
	Evictions    int64
	Expirations  int64
	Detached     int64
}

// Stats returns cache statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		Entries:  m.entries.Len(),
		InFlight: len(m.inflight),
	}
	m.mu.Unlock()

	st.Hits = m.stats.hits.Load()
	st.Misses = m.stats.misses.Load()
	st.Computations = m.stats.computations.Load()
	st.Failures = m.stats.failures.Load()
	st.Evictions = m.stats.evictions.Load()
	st.Expirations = m.stats.expirations.Load()
	st.Detached = m.stats.detached.Load()
	return st
}

// Get is GetOrCompute with a typed payload.
func Get[T any](ctx context.Context, m *Manager, fp Fingerprint, tier Tier, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := m.GetOrCompute(ctx, fp, tier, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s holds %T, want %T", fp, v, zero)
	}
	return out, nil
}
