package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Task queues. Each queue has its own worker pool with its own
// dependency set.
const (
	QueueChat     = "chat"
	QueueBehavior = "behavior"
	QueueSubmit   = "submit"
	QueueDBWriter = "db_writer"
)

const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// TaskRun is one durable unit of queued work. The row doubles as the
// task handle returned to the API boundary.
type TaskRun struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Queue         string         `gorm:"column:queue;not null;index:idx_task_queue_status" json:"queue"`
	TaskType      string         `gorm:"column:task_type;not null" json:"task_type"`
	ParticipantID string         `gorm:"column:participant_id;index" json:"participant_id,omitempty"`
	Payload       datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Status        string         `gorm:"column:status;not null;default:'queued';index:idx_task_queue_status" json:"status"`
	Error         string         `gorm:"column:error;type:text" json:"error,omitempty"`
	Result        datatypes.JSON `gorm:"type:jsonb;column:result" json:"result,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
	StartedAt     *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt    *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (TaskRun) TableName() string { return "task_run" }

func (t *TaskRun) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
