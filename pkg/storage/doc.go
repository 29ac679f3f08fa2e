// Package storage defines the usage ledger shared by the proxy and the
// supervisor: per-request exchange records written by the engine, and
// probe/restart health events written by the health monitor. Both are
// read back by the diagnostic surfaces (service info, post-mortem
// inspection).
//
// Two implementations exist: memory (bounded, zero-dependency default)
// and postgres (durable, pgx-backed). Stores are safe for concurrent
// use and must never block the request path on ledger writes beyond
// the cost of the write itself.
package storage
