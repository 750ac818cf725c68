package domain

import "time"

// MonitoringRun summarizes one scheduler cycle. The scheduler creates it,
// closes it at cycle end, and never mutates it afterward.
type MonitoringRun struct {
	ID                  string    `json:"id"`
	StartedAt           time.Time `json:"startedAt"`
	FinishedAt          time.Time `json:"finishedAt"`
	PublicationsScanned int       `json:"publicationsScanned"`
	ChangesDetected     int       `json:"changesDetected"`
	ActionsExecuted     int       `json:"actionsExecuted"`
	ActionsFailed       int       `json:"actionsFailed"`
	// FeedUnavailable marks a cycle aborted because the source feed could
	// not be fetched. These cycles are retried on a short delay.
	FeedUnavailable bool     `json:"feedUnavailable,omitempty"`
	Errors          []string `json:"errors"`
}
