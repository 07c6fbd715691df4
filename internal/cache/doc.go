// Package cache memoizes derived archive results by fingerprint.
//
// Every entry belongs to a tier that fixes its lifetime: Live entries (days
// still receiving snapshots) expire after a short TTL, Sealed entries (days
// that can no longer change) never expire, and Derived entries (rolling
// profiles) expire after a day. Expiry is measured from when the entry was
// produced.
//
// Concurrent requests for one fingerprint share a single computation. The
// computation does not inherit the caller's cancellation: a caller that
// gives up only stops waiting, and the result is still cached for the
// others. Failed computations reach every waiter and are never stored.
//
// A Manager always starts empty; nothing survives a restart.
package cache
