package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatHistory stores one turn of the tutor conversation. Assistant rows
// carry the full system prompt so a response can be reproduced later.
type ChatHistory struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID string    `gorm:"column:participant_id;not null;index" json:"participant_id"`
	Role          string    `gorm:"column:role;not null" json:"role"` // user | assistant
	Content       string    `gorm:"column:content;type:text" json:"content"`
	SystemPrompt  string    `gorm:"column:system_prompt;type:text" json:"system_prompt,omitempty"`
	ContentID     string    `gorm:"column:content_id" json:"content_id,omitempty"`
	CreatedAt     time.Time `gorm:"not null;index" json:"created_at"`
}

func (ChatHistory) TableName() string { return "chat_history" }

func (c *ChatHistory) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
