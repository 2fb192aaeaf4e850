// Package store persists card metadata discovered at initialization:
// transport identity, serial and part numbers, last-seen times, and the
// opaque per-card private data region.
//
// The store is a single SQLite database in WAL mode so the CLI and a
// long-running service can share it. Private data is stored as a CBOR
// blob; callers round-trip their own structures through EncodePrivData
// and DecodePrivData.
package store
