// Package internal holds the private building blocks of the portal engine.
//
// # Sub-packages
//
//   - flight: request coalescing and per-session navigation generations
//   - limiters: Redis fixed-window throttles (verification code submissions)
//   - stores: short-lived Redis records (issued verification token markers)
//
// # What this package must NOT do
//
//   - Export types that appear in the public goPortal API.
//   - Be imported by any package outside the goPortal module.
package internal
