package tasks

import (
	"context"
	"time"

	"github.com/openedtech/tutorcore/internal/orchestrator"
	"github.com/openedtech/tutorcore/internal/types"
)

// QueueWriter routes durable writes onto the db_writer queue. It is the
// concrete implementation behind the lifecycle service's and the
// orchestrator's writer interfaces.
type QueueWriter struct {
	dispatcher *Dispatcher
}

func NewQueueWriter(dispatcher *Dispatcher) *QueueWriter {
	return &QueueWriter{dispatcher: dispatcher}
}

func (w *QueueWriter) EnqueueEvent(ctx context.Context, participantID, eventType string, eventData map[string]any, ts time.Time) error {
	_, err := w.dispatcher.Enqueue(ctx, types.QueueDBWriter, TaskWriteEvent, participantID, eventWritePayload{
		ParticipantID: participantID,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     ts.UTC().Format(time.RFC3339Nano),
	})
	return err
}

func (w *QueueWriter) EnqueueSnapshot(ctx context.Context, participantID string, profileData map[string]any) error {
	_, err := w.dispatcher.Enqueue(ctx, types.QueueDBWriter, TaskWriteSnapshot, participantID, snapshotWritePayload{
		ParticipantID: participantID,
		ProfileData:   profileData,
	})
	return err
}

func (w *QueueWriter) EnqueueChat(ctx context.Context, row orchestrator.ChatRow) error {
	_, err := w.dispatcher.Enqueue(ctx, types.QueueDBWriter, TaskWriteChat, row.ParticipantID, chatWritePayload{
		ParticipantID: row.ParticipantID,
		Role:          row.Role,
		Content:       row.Content,
		SystemPrompt:  row.SystemPrompt,
		ContentID:     row.ContentID,
	})
	return err
}

func (w *QueueWriter) EnqueueProgress(ctx context.Context, participantID, topicID string) error {
	_, err := w.dispatcher.Enqueue(ctx, types.QueueDBWriter, TaskWriteProgress, participantID, progressWritePayload{
		ParticipantID: participantID,
		TopicID:       topicID,
	})
	return err
}

func (w *QueueWriter) EnqueueSubmissionWrite(ctx context.Context, payload submissionWritePayload) error {
	_, err := w.dispatcher.Enqueue(ctx, types.QueueDBWriter, TaskWriteSubmission, payload.ParticipantID, payload)
	return err
}

func (w *QueueWriter) EnqueueBKTUpdate(ctx context.Context, participantID, topicID string, passed bool) error {
	_, err := w.dispatcher.Enqueue(ctx, types.QueueDBWriter, TaskUpdateBKT, participantID, bktUpdatePayload{
		ParticipantID: participantID,
		TopicID:       topicID,
		Passed:        passed,
	})
	return err
}
