package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of row change carried by a ChangeEvent.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"

	// EventAll subscribes to every event type on a topic.
	EventAll EventType = "*"
)

// KnownEvent reports whether s is a valid event filter value.
func KnownEvent(s string) bool {
	switch EventType(s) {
	case EventInsert, EventUpdate, EventDelete, EventAll:
		return true
	}
	return false
}

// ChangeEvent is a single row change delivered over a change feed.
// Record holds the new row state (empty for deletes), OldRecord the
// previous state when the service includes it.
type ChangeEvent struct {
	Topic     string          `json:"topic"`
	Event     EventType       `json:"event"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
	CommitTS  time.Time       `json:"commit_ts"`
}

// Topic names for the mirrored tables.
const (
	TopicApplications = "applications"
	TopicMentors      = "mentors"
)

// Application is one program application row.
type Application struct {
	ID            uuid.UUID `json:"id"`
	ApplicantName string    `json:"applicant_name"`
	Email         string    `json:"email"`
	Stage         string    `json:"stage"`  // "idea", "prototype", "launched"
	Status        string    `json:"status"` // "submitted", "in_review", "accepted", "rejected"
	Score         int       `json:"score"`
	SubmittedAt   time.Time `json:"submitted_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Mentor is one mentor sign-up row.
type Mentor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Expertise []string  `json:"expertise"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
