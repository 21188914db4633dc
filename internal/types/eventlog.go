package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Behavior event types accepted by the interpreter. state_snapshot
// entries carry a serialized StudentProfile under event_data.profile_data.
const (
	EventCodeEdit             = "code_edit"
	EventAIHelpRequest        = "ai_help_request"
	EventTestSubmission       = "test_submission"
	EventDomElementSelect     = "dom_element_select"
	EventUserIdle             = "user_idle"
	EventPageFocusChange      = "page_focus_change"
	EventStateSnapshot        = "state_snapshot"
	EventKnowledgeLevelAccess = "knowledge_level_access"
)

var KnownEventTypes = map[string]bool{
	EventCodeEdit:             true,
	EventAIHelpRequest:        true,
	EventTestSubmission:       true,
	EventDomElementSelect:     true,
	EventUserIdle:             true,
	EventPageFocusChange:      true,
	EventStateSnapshot:        true,
	EventKnowledgeLevelAccess: true,
}

// EventLogEntry is one row of the append-only behavior log. It is the
// single source of truth for profile reconstruction.
type EventLogEntry struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID string         `gorm:"column:participant_id;not null;index:idx_event_participant_ts" json:"participant_id"`
	Timestamp     time.Time      `gorm:"column:timestamp;not null;index:idx_event_participant_ts" json:"timestamp"`
	EventType     string         `gorm:"column:event_type;not null;index" json:"event_type"`
	EventData     datatypes.JSON `gorm:"type:jsonb;column:event_data" json:"event_data"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
}

func (EventLogEntry) TableName() string { return "event_log" }

func (e *EventLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}
