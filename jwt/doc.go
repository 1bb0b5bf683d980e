// Package jwt issues and verifies portal session tokens with configured
// signing keys, and adapts verification to the engine's token validation port.
package jwt
