package domain

import "errors"

// PairState is the application state of one remote peer.
type PairState string

const (
	PairIdle        PairState = "idle"        // Nothing in flight.
	PairBuffered    PairState = "buffered"    // Snapshot held until the entity is safe to mutate.
	PairDownloading PairState = "downloading" // Waiting for missing content.
	PairApplying    PairState = "applying"    // Pushing changes to providers.
	PairDisposed    PairState = "disposed"    // Torn down; terminal.
)

var ErrInvalidTransition = errors.New("invalid state transition")

// validPairTransitions defines the adjacency list of allowed state transitions.
// Disposed is reachable from every state and leads nowhere.
var validPairTransitions = map[PairState][]PairState{
	PairIdle:        {PairBuffered, PairDownloading, PairApplying, PairDisposed},
	PairBuffered:    {PairIdle, PairDownloading, PairApplying, PairDisposed},
	PairDownloading: {PairIdle, PairBuffered, PairApplying, PairDisposed},
	PairApplying:    {PairIdle, PairBuffered, PairDownloading, PairDisposed},
	PairDisposed:    {},
}

// CanPairTransition reports whether a transition from one state to another is valid.
func CanPairTransition(from, to PairState) bool {
	for _, t := range validPairTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
