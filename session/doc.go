// Package session provides the Redis-backed owner of portal sessions and a
// compact binary session encoding.
//
// # Binary encoding
//
// Sessions are stored in Redis as a compact binary format (schema versions
// v1–v2) with forward migration on read. The encoder is append-only: new
// versions add fields but never reinterpret old ones.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Record] model. It is the single
// writer of session state: patches computed by the engine are applied here,
// atomically, with WATCH/MULTI. It does NOT classify routes or call the token
// service.
//
// # What this package must NOT do
//
//   - Be imported by goPortal (the engine stays free of persistence).
//   - Interpret patches beyond [goPortal.SessionState.Apply].
package session
