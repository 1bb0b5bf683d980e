package session

import goPortal "github.com/MrEthical07/goPortal"

// Record is the persisted form of a portal session.
//
// Record instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Record struct {
	State goPortal.SessionState
	Org   string

	SchemaVersion uint8

	CreatedAt int64
	ExpiresAt int64
}
