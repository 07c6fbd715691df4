package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

var epoch = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, maxEntries int) (*Manager, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	m, err := New(Options{
		MaxEntries: maxEntries,
		Clock:      clock,
		Logger:     logging.Discard(),
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, clock
}

func dayFP(id string) Fingerprint {
	return Fingerprint{Kind: "day", StationID: id, Date: types.LocalDate{Year: 2026, Month: 3, Day: 9}, Params: []string{"sealed"}}
}

// counted returns a ComputeFunc yielding payload and the number of calls.
func counted(payload any) (ComputeFunc, *atomic.Int64) {
	var n atomic.Int64
	return func(ctx context.Context) (any, error) {
		n.Add(1)
		return payload, nil
	}, &n
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewStartsEmpty(t *testing.T) {
	m, _ := newTestManager(t, 0)
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
	if st := m.Stats(); st != (Stats{}) {
		t.Errorf("Stats = %+v, want zero", st)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"negative size", Options{MaxEntries: -1}},
		{"zero live ttl", Options{Policy: Policy{DerivedTTL: time.Hour}}},
		{"negative derived ttl", Options{Policy: Policy{LiveTTL: time.Minute, DerivedTTL: -time.Hour}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = logging.Discard()
			if _, err := New(tt.opts); !errors.IsValidation(err) {
				t.Errorf("New() error = %v, want validation error", err)
			}
		})
	}
}

func TestGetOrComputeCaches(t *testing.T) {
	m, _ := newTestManager(t, 0)
	fn, calls := counted("payload")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := m.GetOrCompute(ctx, dayFP("42"), TierSealed, fn)
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if v != "payload" {
			t.Fatalf("payload = %v", v)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("computations = %d, want 1", calls.Load())
	}
	st := m.Stats()
	if st.Hits != 2 || st.Misses != 1 || st.Computations != 1 || st.Entries != 1 {
		t.Errorf("Stats = %+v", st)
	}
	if got := testutil.ToFloat64(m.metrics.hits.WithLabelValues("sealed")); got != 2 {
		t.Errorf("hits metric = %v, want 2", got)
	}
}

func TestSingleFlight(t *testing.T) {
	m, _ := newTestManager(t, 0)

	release := make(chan struct{})
	var calls atomic.Int64
	type payload struct{ n int }
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return &payload{n: 7}, nil
	}

	const callers = 20
	results := make([]any, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.GetOrCompute(context.Background(), dayFP("42"), TierSealed, fn)
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
				return
			}
			results[i] = v
		}(i)
	}

	waitFor(t, "computation to start", func() bool { return calls.Load() == 1 })
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("computations = %d, want 1", calls.Load())
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different payload", i)
		}
	}
}

func TestCallerCancellationDetaches(t *testing.T) {
	m, _ := newTestManager(t, 0)

	release := make(chan struct{})
	var calls atomic.Int64
	var innerErr atomic.Value
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		innerErr.Store(errString(ctx.Err()))
		return "done", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.GetOrCompute(ctx, dayFP("42"), TierLive, fn)
		errc <- err
	}()

	waitFor(t, "computation to start", func() bool { return calls.Load() == 1 })

	// A second caller joins the same flight and must still get the value
	other := make(chan any, 1)
	go func() {
		v, err := m.GetOrCompute(context.Background(), dayFP("42"), TierLive, fn)
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		other <- v
	}()

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(release)
	if v := <-other; v != "done" {
		t.Errorf("second caller payload = %v, want done", v)
	}

	waitFor(t, "result to be cached", func() bool { return m.Contains(dayFP("42")) })
	if got := innerErr.Load(); got != "" {
		t.Errorf("computation saw cancellation: %v", got)
	}

	v, err := m.GetOrCompute(context.Background(), dayFP("42"), TierLive, fn)
	if err != nil || v != "done" {
		t.Fatalf("after detach: %v, %v", v, err)
	}
	if calls.Load() != 1 {
		t.Errorf("computations = %d, want 1", calls.Load())
	}
	if m.Stats().Detached != 1 {
		t.Errorf("Detached = %d, want 1", m.Stats().Detached)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func TestCancelledBeforeLookup(t *testing.T) {
	m, _ := newTestManager(t, 0)
	fn, calls := counted("x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.GetOrCompute(ctx, dayFP("42"), TierLive, fn); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls.Load() != 0 {
		t.Error("computation ran for a cancelled caller")
	}
}

func TestFailuresNotCached(t *testing.T) {
	m, _ := newTestManager(t, 0)
	boom := errors.New("store unavailable")

	var calls atomic.Int64
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, boom
	}

	for i := 0; i < 2; i++ {
		if _, err := m.GetOrCompute(context.Background(), dayFP("42"), TierLive, fn); !errors.Is(err, boom) {
			t.Fatalf("call %d error = %v, want %v", i, err, boom)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("computations = %d, want 2", calls.Load())
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
	if got := testutil.ToFloat64(m.metrics.failures.WithLabelValues("live")); got != 2 {
		t.Errorf("failures metric = %v, want 2", got)
	}
}

func TestFailureReachesAllWaiters(t *testing.T) {
	m, _ := newTestManager(t, 0)
	boom := errors.New("read failed")

	release := make(chan struct{})
	var calls atomic.Int64
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return nil, boom
	}

	const callers = 5
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := m.GetOrCompute(context.Background(), dayFP("42"), TierLive, fn)
			errs <- err
		}()
	}

	waitFor(t, "computation to start", func() bool { return calls.Load() == 1 })
	waitFor(t, "callers to queue", func() bool { return m.Stats().Misses == callers })
	close(release)

	for i := 0; i < callers; i++ {
		if err := <-errs; !errors.Is(err, boom) {
			t.Errorf("waiter error = %v, want %v", err, boom)
		}
	}
}

func TestTierExpiry(t *testing.T) {
	tests := []struct {
		tier    Tier
		fresh   time.Duration
		expired time.Duration
	}{
		{TierLive, 10*time.Minute - time.Second, 10 * time.Minute},
		{TierDerived, 24*time.Hour - time.Second, 24 * time.Hour},
		{TierSealed, 1000 * time.Hour, -1},
	}

	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			m, clock := newTestManager(t, 0)
			fn, calls := counted("v")
			ctx := context.Background()

			if _, err := m.GetOrCompute(ctx, dayFP("42"), tt.tier, fn); err != nil {
				t.Fatalf("GetOrCompute: %v", err)
			}

			clock.Advance(tt.fresh)
			if _, err := m.GetOrCompute(ctx, dayFP("42"), tt.tier, fn); err != nil {
				t.Fatalf("GetOrCompute: %v", err)
			}
			if calls.Load() != 1 {
				t.Fatalf("recomputed after %s", tt.fresh)
			}

			if tt.expired < 0 {
				return
			}
			clock.Advance(tt.expired - tt.fresh)
			if _, err := m.GetOrCompute(ctx, dayFP("42"), tt.tier, fn); err != nil {
				t.Fatalf("GetOrCompute: %v", err)
			}
			if calls.Load() != 2 {
				t.Errorf("computations = %d after %s, want 2", calls.Load(), tt.expired)
			}
			if m.Stats().Expirations != 1 {
				t.Errorf("Expirations = %d, want 1", m.Stats().Expirations)
			}
		})
	}
}

func TestTierMismatch(t *testing.T) {
	m, _ := newTestManager(t, 0)
	fn, _ := counted("v")
	ctx := context.Background()

	if _, err := m.GetOrCompute(ctx, dayFP("42"), TierSealed, fn); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	_, err := m.GetOrCompute(ctx, dayFP("42"), TierLive, fn)
	if !errors.Is(err, errors.ErrTierMismatch) {
		t.Errorf("error = %v, want ErrTierMismatch", err)
	}
}

func TestLRUBound(t *testing.T) {
	m, _ := newTestManager(t, 2)
	fn, _ := counted("v")
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if _, err := m.GetOrCompute(ctx, dayFP(id), TierSealed, fn); err != nil {
			t.Fatalf("GetOrCompute %s: %v", id, err)
		}
	}

	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
	if m.Contains(dayFP("1")) {
		t.Error("oldest entry survived")
	}
	if !m.Contains(dayFP("3")) {
		t.Error("newest entry missing")
	}
	if got := m.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.metrics.evictions); got != 1 {
		t.Errorf("evictions metric = %v, want 1", got)
	}
}

func TestInvalidateAndPurge(t *testing.T) {
	m, _ := newTestManager(t, 0)
	fn, calls := counted("v")
	ctx := context.Background()

	for _, id := range []string{"1", "2"} {
		if _, err := m.GetOrCompute(ctx, dayFP(id), TierLive, fn); err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
	}

	m.Invalidate(dayFP("1"))
	if m.Contains(dayFP("1")) || !m.Contains(dayFP("2")) {
		t.Fatal("Invalidate removed the wrong entry")
	}
	if _, err := m.GetOrCompute(ctx, dayFP("1"), TierLive, fn); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("computations = %d, want 3", calls.Load())
	}

	m.Purge()
	if m.Len() != 0 {
		t.Errorf("Len after Purge = %d", m.Len())
	}
	if m.Stats().Evictions != 0 {
		t.Errorf("explicit removals counted as evictions: %d", m.Stats().Evictions)
	}
}

func TestInvalidateDuringComputation(t *testing.T) {
	m, _ := newTestManager(t, 0)

	release := make(chan struct{})
	var calls, running, maxRunning atomic.Int64
	fn := func(ctx context.Context) (any, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			cur := maxRunning.Load()
			if n <= cur || maxRunning.CompareAndSwap(cur, n) {
				break
			}
		}
		if calls.Add(1) == 1 {
			<-release
			return "old", nil
		}
		return "new", nil
	}

	var wg sync.WaitGroup
	got := make([]any, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		got[0], _ = m.GetOrCompute(context.Background(), dayFP("42"), TierSealed, fn)
	}()

	waitFor(t, "computation to start", func() bool { return calls.Load() == 1 })
	m.Invalidate(dayFP("42"))

	// A request after the invalidation joins the running computation
	wg.Add(1)
	go func() {
		defer wg.Done()
		got[1], _ = m.GetOrCompute(context.Background(), dayFP("42"), TierSealed, fn)
	}()
	waitFor(t, "second caller to miss", func() bool { return m.Stats().Misses == 2 })
	time.Sleep(20 * time.Millisecond) // miss is counted just before joining the flight

	close(release)
	wg.Wait()

	for i, v := range got {
		if v != "old" {
			t.Errorf("caller %d got %v, want old", i, v)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("computations while in flight = %d, want 1", n)
	}
	if n := maxRunning.Load(); n != 1 {
		t.Errorf("max concurrent computations = %d, want 1", n)
	}

	// The invalidated result was not stored
	if m.Contains(dayFP("42")) {
		t.Fatal("invalidated result was cached")
	}
	v, err := m.GetOrCompute(context.Background(), dayFP("42"), TierSealed, fn)
	if err != nil || v != "new" {
		t.Fatalf("after invalidate: %v, %v; want new", v, err)
	}
	if v, _ := m.GetOrCompute(context.Background(), dayFP("42"), TierSealed, fn); v != "new" {
		t.Errorf("cached value = %v, want new", v)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("computations = %d, want 2", n)
	}
}

func TestPurgeDuringComputation(t *testing.T) {
	m, _ := newTestManager(t, 0)

	release := make(chan struct{})
	var calls atomic.Int64
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			m.GetOrCompute(context.Background(), dayFP("42"), TierLive, fn)
			done <- struct{}{}
		}()
		if i == 0 {
			waitFor(t, "computation to start", func() bool { return calls.Load() == 1 })
			m.Purge()
		}
	}
	waitFor(t, "second caller to miss", func() bool { return m.Stats().Misses == 2 })
	time.Sleep(20 * time.Millisecond) // miss is counted just before joining the flight
	close(release)
	<-done
	<-done

	if n := calls.Load(); n != 1 {
		t.Errorf("computations = %d, want 1", n)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0 after purge", m.Len())
	}
}

func TestGetTyped(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	n, err := Get(ctx, m, dayFP("42"), TierSealed, func(ctx context.Context) (int, error) {
		return 41 + 1, nil
	})
	if err != nil || n != 42 {
		t.Fatalf("Get = %d, %v", n, err)
	}

	_, err = Get(ctx, m, dayFP("42"), TierSealed, func(ctx context.Context) (string, error) {
		return "unused", nil
	})
	if err == nil {
		t.Error("payload type mismatch not reported")
	}
}

func TestFingerprintString(t *testing.T) {
	tests := []struct {
		fp   Fingerprint
		want string
	}{
		{dayFP("42"), "day|42|2026-03-09|sealed"},
		{Fingerprint{Kind: "profile", StationID: "7", Date: types.LocalDate{Year: 2026, Month: 3, Day: 16}, Params: []string{"30", "weekday"}}, "profile|7|2026-03-16|30|weekday"},
		{Fingerprint{Kind: "stations"}, "stations||"},
		{Fingerprint{Kind: "stations", Date: types.LocalDate{Year: 2026, Month: 3, Day: 16}}, "stations||2026-03-16"},
		{Fingerprint{Kind: "day", StationID: `a|b\c`}, `day|a\|b\\c|`},
	}
	for _, tt := range tests {
		if got := tt.fp.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFingerprintNoCollisions(t *testing.T) {
	d := types.LocalDate{Year: 2026, Month: 3, Day: 16}
	fps := []Fingerprint{
		{Kind: "profile", StationID: "7", Date: d, Params: []string{"30|all"}},
		{Kind: "profile", StationID: "7", Date: d, Params: []string{"30", "all"}},
		{Kind: "day", StationID: "7|", Date: d},
		{Kind: "day", StationID: "7", Params: []string{"|2026-03-16"}},
		{Kind: "day", StationID: `7\`, Params: []string{"x"}},
		{Kind: "day", StationID: "7", Params: []string{`\`, "x"}},
	}
	seen := make(map[string]int)
	for i, fp := range fps {
		key := fp.String()
		if j, ok := seen[key]; ok {
			t.Errorf("fingerprints %d and %d share key %q", j, i, key)
		}
		seen[key] = i
	}
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	if ttl, ok := p.TTL(TierLive); !ok || ttl != 10*time.Minute {
		t.Errorf("live TTL = %v, %v", ttl, ok)
	}
	if ttl, ok := p.TTL(TierDerived); !ok || ttl != 24*time.Hour {
		t.Errorf("derived TTL = %v, %v", ttl, ok)
	}
	if _, ok := p.TTL(TierSealed); ok {
		t.Error("sealed tier expires")
	}
	if p.Expired(TierSealed, epoch, epoch.Add(10000*time.Hour)) {
		t.Error("sealed entry expired")
	}
}
