package loan

import "time"

// EventType names a session event.
type EventType string

const (
	EventStepChanged     EventType = "step_changed"
	EventPending         EventType = "pending"
	EventPendingCanceled EventType = "pending_canceled"
	EventSubmitted       EventType = "submitted"
	EventSubmitFailed    EventType = "submit_failed"
	EventAuthChanged     EventType = "auth_changed"
	EventRestarted       EventType = "restarted"
	EventClosed          EventType = "closed"
)

// Event is pushed to session subscribers.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Step      int       `json:"step"`
	StepID    string    `json:"stepId"`
	Label     string    `json:"label,omitempty"`
	RecordID  string    `json:"recordId,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}
