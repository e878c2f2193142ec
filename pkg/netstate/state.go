// Package netstate tracks whether the origin is reachable, judged purely
// from observed fetch outcomes. The strategy engine reports every same-origin
// transport result; the tracker turns those into an online/offline status and
// fires restore callbacks when connectivity comes back, which is what wakes
// the deferred-sync queue.
package netstate

import (
	"time"
)

// DefaultFailureThreshold is the number of consecutive transport failures
// after which the origin is considered offline. A single success flips the
// status back regardless of the failure count.
const DefaultFailureThreshold = 3

// Status is the tracked connectivity state.
type Status int

const (
	// StatusOnline means the origin answered recently.
	StatusOnline Status = iota

	// StatusOffline means the failure threshold was crossed and no success
	// has been seen since.
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the tracker, shaped for health
// endpoints.
type Snapshot struct {
	// Online is the current status.
	Online bool `json:"online"`

	// ConsecutiveFailures counts transport failures since the last
	// success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// Since is when the current status was entered.
	Since time.Time `json:"since"`
}
