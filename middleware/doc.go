// Package middleware exposes the HTTP gate of the portal: a chi router whose
// pages are guarded by goPortal.Engine.Evaluate and whose JSON action
// endpoints drive the verification and payment screens.
//
// # Gate
//
//   - [Gate] loads the session from its cookie, resolves the organization
//     policy, evaluates the route and applies the returned patch through the
//     session store before redirecting or serving.
//   - [NewRouter] mounts the page routes behind [Gate] and the action API.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT make
// routing decisions itself; every redirect comes from an Engine decision.
//
// # What this package must NOT do
//
//   - Talk to the token service directly (the Engine owns those calls).
//   - Mutate sessions except by applying Engine patches.
package middleware
