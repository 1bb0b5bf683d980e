// Package limiters throttles verification code submissions per session with
// Redis fixed-window counters.
//
// [PhoneCodeLimiter] counts attempts under "<prefix>:<session id>" and
// expires the counter with the window. A nil or disabled limiter admits
// every attempt.
//
// # What this package must NOT do
//
//   - Import goPortal or any sibling internal package.
//   - Decide what happens after a rejection; the engine maps
//     [ErrPhoneCodeRateLimited] to a user-visible error.
package limiters
