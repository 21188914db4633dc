package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/prompts"
	"github.com/openedtech/tutorcore/internal/repos"
	"github.com/openedtech/tutorcore/internal/types"
)

// ErrQueueFull is returned when a queue is at its depth limit. The API
// boundary maps it to a "busy" response; durable writes are never
// silently dropped.
var ErrQueueFull = errors.New("task queue is full")

// Task types per queue.
const (
	TaskChatRequest       = "chat_request"
	TaskInterpretBehavior = "interpret_behavior"
	TaskProcessSubmission = "process_submission"

	TaskWriteEvent      = "write_event"
	TaskWriteSnapshot   = "write_snapshot"
	TaskWriteChat       = "write_chat"
	TaskWriteProgress   = "write_progress"
	TaskWriteSubmission = "write_submission"
	TaskUpdateBKT       = "update_bkt_and_snapshot"
)

type ChatTaskPayload struct {
	ParticipantID       string               `json:"participant_id"`
	UserMessage         string               `json:"user_message"`
	ConversationHistory []prompts.Message    `json:"conversation_history,omitempty"`
	CodeContext         *prompts.CodeContent `json:"code_context,omitempty"`
	Mode                string               `json:"mode,omitempty"`
	ContentID           string               `json:"content_id,omitempty"`
	TestResults         any                  `json:"test_results,omitempty"`
}

type BehaviorTaskPayload struct {
	ParticipantID string         `json:"participant_id"`
	EventType     string         `json:"event_type"`
	EventData     map[string]any `json:"event_data,omitempty"`
	Timestamp     string         `json:"timestamp,omitempty"`
}

type SubmissionTaskPayload struct {
	ParticipantID string              `json:"participant_id"`
	TopicID       string              `json:"topic_id"`
	Code          prompts.CodeContent `json:"code"`
}

type eventWritePayload struct {
	ParticipantID string         `json:"participant_id"`
	EventType     string         `json:"event_type"`
	EventData     map[string]any `json:"event_data,omitempty"`
	Timestamp     string         `json:"timestamp"`
}

type snapshotWritePayload struct {
	ParticipantID string         `json:"participant_id"`
	ProfileData   map[string]any `json:"profile_data"`
}

type chatWritePayload struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
	Content       string `json:"content"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	ContentID     string `json:"content_id,omitempty"`
}

type progressWritePayload struct {
	ParticipantID string `json:"participant_id"`
	TopicID       string `json:"topic_id"`
}

type submissionWritePayload struct {
	ParticipantID string              `json:"participant_id"`
	TopicID       string              `json:"topic_id"`
	Code          prompts.CodeContent `json:"code"`
	Passed        bool                `json:"passed"`
	Details       []string            `json:"details,omitempty"`
}

type bktUpdatePayload struct {
	ParticipantID string `json:"participant_id"`
	TopicID       string `json:"topic_id"`
	Passed        bool   `json:"passed"`
}

type Config struct {
	QueueMaxDepth int64
}

func DefaultConfig() Config {
	return Config{QueueMaxDepth: 1000}
}

// Dispatcher enqueues durable tasks with per-queue backpressure.
type Dispatcher struct {
	repo repos.TaskRunRepo
	cfg  Config
	log  *logger.Logger
}

func NewDispatcher(repo repos.TaskRunRepo, cfg Config, log *logger.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, cfg: cfg, log: log.With("service", "TaskDispatcher")}
}

// Enqueue persists a new task. The returned row is the task handle the
// API can hand back to the caller.
func (d *Dispatcher) Enqueue(ctx context.Context, queue, taskType, participantID string, payload any) (*types.TaskRun, error) {
	pending, err := d.repo.CountPending(ctx, nil, queue)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	if pending >= d.cfg.QueueMaxDepth {
		d.log.Warn("Queue at depth limit, rejecting task", "queue", queue, "depth", pending)
		return nil, ErrQueueFull
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	run := &types.TaskRun{
		Queue:         queue,
		TaskType:      taskType,
		ParticipantID: participantID,
		Payload:       datatypes.JSON(raw),
	}
	if _, err := d.repo.Enqueue(ctx, nil, run); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return run, nil
}
