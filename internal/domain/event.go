package domain

import "time"

type EventKind string

const (
	EventApplicationDeferred  EventKind = "application_deferred"
	EventApplicationStarted   EventKind = "application_started"
	EventApplicationApplied   EventKind = "application_applied"
	EventApplicationAborted   EventKind = "application_aborted"
	EventDownloadStarted      EventKind = "download_started"
	EventDownloadExhausted    EventKind = "download_exhausted"
	EventProvidersUnavailable EventKind = "providers_unavailable"
	EventRevertFailed         EventKind = "revert_failed"
	EventSwarmPaused          EventKind = "swarm_paused"
	EventSwarmResumed         EventKind = "swarm_resumed"
	EventSnapshotBuilt        EventKind = "snapshot_built"
	EventSnapshotPushed       EventKind = "snapshot_pushed"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a status signal for the UI layer.
type Event struct {
	Time     time.Time `json:"time"`
	Kind     EventKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Peer     string    `json:"peer,omitempty"`
	Message  string    `json:"message,omitempty"`
}
