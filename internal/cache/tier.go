package cache

import (
	"strings"
	"time"

	"github.com/ecobici-cdmx/dockarchive/config"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Tier classifies an entry by how long it stays valid.
type Tier int

const (
	TierLive Tier = iota
	TierSealed
	TierDerived
)

// String returns the tier name used in fingerprints and metric labels.
func (t Tier) String() string {
	switch t {
	case TierLive:
		return "live"
	case TierSealed:
		return "sealed"
	case TierDerived:
		return "derived"
	default:
		return "unknown"
	}
}

// Policy holds the TTL of each expiring tier. Sealed entries never expire.
type Policy struct {
	LiveTTL    time.Duration
	DerivedTTL time.Duration
}

// DefaultPolicy returns the default TTL table.
func DefaultPolicy() Policy {
	return Policy{
		LiveTTL:    config.DefaultLiveTTL,
		DerivedTTL: config.DefaultDerivedTTL,
	}
}

// PolicyFromConfig maps the cache config section to a Policy.
func PolicyFromConfig(cfg config.CacheConfig) Policy {
	return Policy{LiveTTL: cfg.LiveTTL, DerivedTTL: cfg.DerivedTTL}
}

// TTL returns the lifetime of entries in t. ok is false when they never
// expire.
func (p Policy) TTL(t Tier) (ttl time.Duration, ok bool) {
	switch t {
	case TierLive:
		return p.LiveTTL, true
	case TierDerived:
		return p.DerivedTTL, true
	default:
		return 0, false
	}
}

// Expired reports whether an entry of tier t produced at producedAt is
// stale at now.
func (p Policy) Expired(t Tier, producedAt, now time.Time) bool {
	ttl, ok := p.TTL(t)
	if !ok {
		return false
	}
	return now.Sub(producedAt) >= ttl
}

// Fingerprint identifies a cached result. Two requests with equal
// fingerprints must be answerable by the same payload.
type Fingerprint struct {
	Kind      string
	StationID string
	Date      types.LocalDate
	Params    []string
}

// String returns the deterministic key form, e.g. "day|42|2026-01-15|sealed".
// Kind, station and date always take a slot, so an empty station reads
// "stations||2026-01-15". A '|' or '\' inside a component is escaped with a
// backslash.
func (f Fingerprint) String() string {
	var b strings.Builder
	b.WriteString(keyEscaper.Replace(f.Kind))
	b.WriteByte('|')
	b.WriteString(keyEscaper.Replace(f.StationID))
	b.WriteByte('|')
	if !f.Date.IsZero() {
		b.WriteString(f.Date.String())
	}
	for _, p := range f.Params {
		b.WriteByte('|')
		b.WriteString(keyEscaper.Replace(p))
	}
	return b.String()
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)
