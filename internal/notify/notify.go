package notify

import (
	"context"
	"time"
)

// Topic is the per-learner notification channel name.
func Topic(participantID string) string {
	return "ws:user:" + participantID
}

// Envelope types pushed to the frontend.
const (
	TypeChatResult       = "chat_result"
	TypeSubmissionResult = "submission_result"
	TypeTaskError        = "task_error"
)

// ErrorInfo is the user-safe error payload. Message must never carry
// stack traces or upstream provider errors.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Envelope struct {
	Type      string     `json:"type"`
	TaskID    string     `json:"taskid"`
	Timestamp string     `json:"timestamp"`
	Message   string     `json:"message,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

func NewResult(envType, taskID, message string) Envelope {
	return Envelope{
		Type:      envType,
		TaskID:    taskID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Message:   message,
	}
}

func NewError(taskID, code, message string) Envelope {
	return Envelope{
		Type:      TypeTaskError,
		TaskID:    taskID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Error:     &ErrorInfo{Code: code, Message: message},
	}
}

// Bus fans notifications out to every subscriber of a learner's topic.
// Per-topic publish order is preserved for each subscriber. Subscribe
// channels close when ctx is canceled.
type Bus interface {
	Publish(ctx context.Context, participantID string, env Envelope) error
	Subscribe(ctx context.Context, participantID string) (<-chan Envelope, error)
	Close() error
}
