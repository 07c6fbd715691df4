// Package storage implements the append-only snapshot archive.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Append    │────▶│  WAL (per   │────▶│  Memtable   │  open dates
//	│             │     │    date)    │     │             │
//	└─────────────┘     └─────────────┘     └──────┬──────┘
//	                                               │ seal
//	                                               ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │ Sealed LRU  │◀────│   Parquet   │  finalized dates
//	                    │ (memtables) │     │ (hive tree) │
//	                    └─────────────┘     └─────────────┘
//
// Snapshots are partitioned by local calendar date. A date is open until
// local midnight plus the seal margin; afterwards it is rewritten once into
// a sorted Parquet file and never modified again.
//
// The store provides:
//   - Durable, strict appends (duplicate, ordering and sealed-date checks)
//   - Half-open range reads and bounded-lookback point reads
//   - Crash recovery by WAL replay with torn-tail repair
//   - Sealing, retention and SQL inspection of sealed partitions
package storage
