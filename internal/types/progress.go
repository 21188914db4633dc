package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserProgress records a passed checkpoint for one topic.
type UserProgress struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID string    `gorm:"column:participant_id;not null;index:idx_progress_participant_topic,unique" json:"participant_id"`
	TopicID       string    `gorm:"column:topic_id;not null;index:idx_progress_participant_topic,unique" json:"topic_id"`
	CompletedAt   time.Time `gorm:"column:completed_at;not null" json:"completed_at"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (UserProgress) TableName() string { return "user_progress" }

func (p *UserProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CompletedAt.IsZero() {
		p.CompletedAt = time.Now().UTC()
	}
	return nil
}

// Submission persists the learner code evaluated by the sandbox.
type Submission struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID string         `gorm:"column:participant_id;not null;index" json:"participant_id"`
	TopicID       string         `gorm:"column:topic_id;not null;index" json:"topic_id"`
	HTML          string         `gorm:"column:html;type:text" json:"html"`
	CSS           string         `gorm:"column:css;type:text" json:"css"`
	JS            string         `gorm:"column:js;type:text" json:"js"`
	Passed        bool           `gorm:"column:passed;not null" json:"passed"`
	Details       datatypes.JSON `gorm:"type:jsonb;column:details" json:"details"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
}

func (Submission) TableName() string { return "submission" }

func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
