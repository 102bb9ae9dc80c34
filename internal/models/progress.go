package models

import "time"

// ProgressEventType names a step of a multi-source fetch.
type ProgressEventType string

const (
	EventSourceAttempted ProgressEventType = "source_attempted"
	EventSourceSucceeded ProgressEventType = "source_succeeded"
	EventSourceFailed    ProgressEventType = "source_failed"
	EventMergeCompleted  ProgressEventType = "merge_completed"
)

// ProgressEvent reports one step of a fetch for a subject.
type ProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	SubjectID string            `json:"subject_id"`
	Source    string            `json:"source,omitempty"`
	Tag       SourceTag         `json:"tag,omitempty"`
	Count     int               `json:"count"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}
