// Package presence tracks per-user live status across server processes.
// The state machine has four states: absent (no record), online, away, and
// busy. A user enters online on their first authenticated connection, moves
// laterally between online/away/busy only through explicit status updates,
// and returns to absent when the last connection closes or the heartbeat TTL
// lapses. Records live in Redis so every process sees the same view.
package presence

// Status is a user's visible presence status.
type Status string

const (
	StatusOnline Status = "online"
	StatusAway   Status = "away"
	StatusBusy   Status = "busy"

	// StatusOffline is never stored; it is what absent users report as.
	StatusOffline Status = "offline"
)

// ValidUpdate reports whether a client-requested status is a legal lateral
// transition target. Clients cannot set themselves offline; that only
// happens by disconnecting or missing the TTL.
func ValidUpdate(s string) bool {
	switch Status(s) {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	default:
		return false
	}
}
