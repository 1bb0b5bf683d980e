// Package stores provides Redis-backed, short-lived record stores for the
// verification flows of the portal engine.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with a TTL.
// [PhoneTokenStore] keeps one marker per session recording that a
// verification token was issued, when it was issued and the server cooldown
// that came with it. Claims use SET NX so that concurrent mounts of the
// verification screen on different instances issue at most one token.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// markers. It does NOT call the token service, enforce rate limits, or make
// routing decisions; those belong to the engine.
//
// # What this package must NOT do
//
//   - Import goPortal or any sibling internal package.
//   - Store verification codes or phone numbers.
package stores
