// Package flight provides the in-process concurrency guards of the engine:
// request coalescing keyed by (session id, operation kind) and per-session
// navigation generations used to discard responses of abandoned screens.
//
// # What this package must NOT do
//
//   - Import goPortal or any sibling internal package.
//   - Retain results after a call completes.
package flight
