package models

import "time"

// EventType distinguishes entries from exits.
type EventType string

const (
	EventTypeIn  EventType = "IN"
	EventTypeOut EventType = "OUT"
)

// Valid returns true when the type is a supported value.
func (t EventType) Valid() bool {
	return t == EventTypeIn || t == EventTypeOut
}

// Flip returns the opposite event type.
func (t EventType) Flip() EventType {
	if t == EventTypeIn {
		return EventTypeOut
	}
	return EventTypeIn
}

// EventStatus captures the submission lifecycle of a queued event.
type EventStatus string

const (
	EventStatusPending     EventStatus = "pending"
	EventStatusInProgress  EventStatus = "in_progress"
	EventStatusSynced      EventStatus = "synced"
	EventStatusPartialSync EventStatus = "partial_sync"
	EventStatusError       EventStatus = "error"
)

// Valid returns true when the status is a supported value.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPending, EventStatusInProgress, EventStatusSynced, EventStatusPartialSync, EventStatusError:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving to next is a legal lifecycle
// step. synced is terminal; partial_sync may only resolve to synced.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	if s == next {
		// Re-marking the current status is treated as idempotent.
		return true
	}
	switch s {
	case EventStatusPending:
		return next == EventStatusInProgress
	case EventStatusInProgress:
		return next == EventStatusSynced || next == EventStatusPartialSync || next == EventStatusError
	case EventStatusError:
		return next == EventStatusInProgress
	case EventStatusPartialSync:
		return next == EventStatusSynced
	default:
		return false
	}
}

// RequiresNetwork reports whether the event still needs a sync pass.
func (s EventStatus) RequiresNetwork() bool {
	return s == EventStatusPending || s == EventStatusInProgress || s == EventStatusPartialSync
}

// QueueEvent is one attendance record pending or already submitted.
// ID and LocalSeq are assigned once at enqueue time and never change;
// LocalSeq is strictly increasing per device, surviving restarts through
// the persisted snapshot counter.
type QueueEvent struct {
	ID       string `json:"id"`
	LocalSeq int64  `json:"local_seq"`

	DeviceID string `json:"device_id"`
	GateID   string `json:"gate_id"`

	StudentID string    `json:"student_id"`
	Type      EventType `json:"type"`
	Ts        time.Time `json:"ts"`
	Source    string    `json:"source"`

	PhotoRef  string `json:"photo_ref,omitempty"`
	PhotoData string `json:"photo_data,omitempty"`
	AudioRef  string `json:"audio_ref,omitempty"`
	AudioData string `json:"audio_data,omitempty"`

	Status       EventStatus `json:"status"`
	Retries      int         `json:"retries"`
	PhotoRetries int         `json:"photo_retries"`

	ServerID   string `json:"server_id,omitempty"`
	FromServer bool   `json:"from_server,omitempty"`
}

// HasEvidence reports whether an evidence payload is attached.
func (e *QueueEvent) HasEvidence() bool {
	return e.PhotoData != "" || e.AudioData != ""
}

// EventDraft is the caller-supplied part of an event; identity, sequence
// and lifecycle fields are stamped by the queue.
type EventDraft struct {
	StudentID string
	Type      EventType
	Ts        time.Time
	Source    string
	PhotoData string
	AudioData string
}
