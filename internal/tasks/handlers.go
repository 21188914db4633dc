package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/openedtech/tutorcore/internal/interpreter"
	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/notify"
	"github.com/openedtech/tutorcore/internal/orchestrator"
	"github.com/openedtech/tutorcore/internal/prompts"
	"github.com/openedtech/tutorcore/internal/repos"
	"github.com/openedtech/tutorcore/internal/types"
	"github.com/openedtech/tutorcore/internal/userstate"
)

// EvalResult is the sandbox verdict for one submission.
type EvalResult struct {
	Passed  bool     `json:"passed"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// Sandbox evaluates learner code against test checkpoints in an
// isolated browser environment.
type Sandbox interface {
	RunEvaluation(ctx context.Context, code prompts.CodeContent, checkpoints []map[string]any) (*EvalResult, error)
}

// TestTask is one test-task definition with its checkpoints.
type TestTask struct {
	Title       string
	Checkpoints []map[string]any
}

type TestTaskLoader interface {
	LoadTestTask(ctx context.Context, topicID string) (*TestTask, error)
}

// ChatHandler serves the chat queue. The orchestrator owns its own
// failure surface (apology plus notification), so the task itself only
// fails on panics.
type ChatHandler struct {
	orch *orchestrator.Orchestrator
	log  *logger.Logger
}

func NewChatHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *ChatHandler {
	return &ChatHandler{orch: orch, log: log.With("handler", "chat")}
}

func (h *ChatHandler) Run(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload ChatTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode chat payload: %w", err)
	}
	resp, err := h.orch.Generate(ctx, orchestrator.Request{
		ParticipantID:       payload.ParticipantID,
		UserMessage:         payload.UserMessage,
		ConversationHistory: payload.ConversationHistory,
		CodeContext:         payload.CodeContext,
		Mode:                payload.Mode,
		ContentID:           payload.ContentID,
		TestResults:         payload.TestResults,
		TaskID:              task.ID.String(),
	})
	if err != nil {
		h.log.Warn("Adaptive response degraded", "task_id", task.ID, "error", err)
	}
	return map[string]any{"ai_response": resp.AIResponse}, nil
}

// BehaviorHandler serves the behavior queue: one event through the
// lifecycle service.
type BehaviorHandler struct {
	userSvc *userstate.Service
	log     *logger.Logger
}

func NewBehaviorHandler(userSvc *userstate.Service, log *logger.Logger) *BehaviorHandler {
	return &BehaviorHandler{userSvc: userSvc, log: log.With("handler", "behavior")}
}

func (h *BehaviorHandler) Run(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload BehaviorTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode behavior payload: %w", err)
	}
	event := interpreter.Event{
		ParticipantID: payload.ParticipantID,
		EventType:     payload.EventType,
		EventData:     payload.EventData,
	}
	if payload.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		if err != nil {
			h.log.Warn("Malformed event timestamp, using now", "task_id", task.ID, "raw", payload.Timestamp)
		} else {
			event.Timestamp = ts.UTC()
		}
	}
	if err := h.userSvc.HandleEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("handle event: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}

// SubmissionHandler serves the submit queue: evaluate code, fan out the
// model update and progress record, notify the learner.
type SubmissionHandler struct {
	sandbox Sandbox
	loader  TestTaskLoader
	writer  *QueueWriter
	bus     notify.Bus
	log     *logger.Logger
}

func NewSubmissionHandler(sandbox Sandbox, loader TestTaskLoader, writer *QueueWriter, bus notify.Bus, log *logger.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		sandbox: sandbox,
		loader:  loader,
		writer:  writer,
		bus:     bus,
		log:     log.With("handler", "submission"),
	}
}

func (h *SubmissionHandler) Run(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload SubmissionTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode submission payload: %w", err)
	}

	testTask, err := h.loader.LoadTestTask(ctx, payload.TopicID)
	if err != nil {
		return nil, fmt.Errorf("test task %q not found: %w", payload.TopicID, err)
	}

	eval, err := h.sandbox.RunEvaluation(ctx, payload.Code, testTask.Checkpoints)
	if err != nil {
		return nil, fmt.Errorf("sandbox evaluation: %w", err)
	}

	if err := h.writer.EnqueueBKTUpdate(ctx, payload.ParticipantID, payload.TopicID, eval.Passed); err != nil {
		h.log.Error("Could not enqueue model update", "task_id", task.ID, "error", err)
	}
	if eval.Passed {
		if err := h.writer.EnqueueProgress(ctx, payload.ParticipantID, payload.TopicID); err != nil {
			h.log.Error("Could not enqueue progress record", "task_id", task.ID, "error", err)
		}
	}
	if err := h.writer.EnqueueSubmissionWrite(ctx, submissionWritePayload{
		ParticipantID: payload.ParticipantID,
		TopicID:       payload.TopicID,
		Code:          payload.Code,
		Passed:        eval.Passed,
		Details:       eval.Details,
	}); err != nil {
		h.log.Error("Could not enqueue submission record", "task_id", task.ID, "error", err)
	}

	if h.bus != nil {
		env := notify.NewResult(notify.TypeSubmissionResult, task.ID.String(), eval.Message)
		if err := h.bus.Publish(ctx, payload.ParticipantID, env); err != nil {
			h.log.Warn("Could not publish submission result", "task_id", task.ID, "error", err)
		}
	}

	return map[string]any{
		"passed":  eval.Passed,
		"message": eval.Message,
		"details": eval.Details,
	}, nil
}

// DBWriterHandler serves the db_writer queue: every durable write plus
// the post-submission model update.
type DBWriterHandler struct {
	events      repos.EventLogRepo
	chats       repos.ChatHistoryRepo
	progress    repos.ProgressRepo
	submissions repos.SubmissionRepo
	userSvc     *userstate.Service
	log         *logger.Logger
}

func NewDBWriterHandler(
	events repos.EventLogRepo,
	chats repos.ChatHistoryRepo,
	progress repos.ProgressRepo,
	submissions repos.SubmissionRepo,
	userSvc *userstate.Service,
	log *logger.Logger,
) *DBWriterHandler {
	return &DBWriterHandler{
		events:      events,
		chats:       chats,
		progress:    progress,
		submissions: submissions,
		userSvc:     userSvc,
		log:         log.With("handler", "db_writer"),
	}
}

// Register binds one handler instance to every db_writer task type.
func (h *DBWriterHandler) Register(registry *Registry) {
	for _, taskType := range []string{
		TaskWriteEvent, TaskWriteSnapshot, TaskWriteChat,
		TaskWriteProgress, TaskWriteSubmission, TaskUpdateBKT,
	} {
		registry.Register(taskType, h)
	}
}

func (h *DBWriterHandler) Run(ctx context.Context, task *types.TaskRun) (any, error) {
	switch task.TaskType {
	case TaskWriteEvent:
		return h.writeEvent(ctx, task)
	case TaskWriteSnapshot:
		return h.writeSnapshot(ctx, task)
	case TaskWriteChat:
		return h.writeChat(ctx, task)
	case TaskWriteProgress:
		return h.writeProgress(ctx, task)
	case TaskWriteSubmission:
		return h.writeSubmission(ctx, task)
	case TaskUpdateBKT:
		return h.updateBKT(ctx, task)
	default:
		return nil, fmt.Errorf("unknown db_writer task_type %q", task.TaskType)
	}
}

func (h *DBWriterHandler) writeEvent(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload eventWritePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode event write: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	data, err := json.Marshal(payload.EventData)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := h.events.Append(ctx, nil, &types.EventLogEntry{
		ParticipantID: payload.ParticipantID,
		EventType:     payload.EventType,
		EventData:     datatypes.JSON(data),
		Timestamp:     ts.UTC(),
	}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}

func (h *DBWriterHandler) writeSnapshot(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload snapshotWritePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode snapshot write: %w", err)
	}
	data, err := json.Marshal(map[string]any{"profile_data": payload.ProfileData})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := h.events.Append(ctx, nil, &types.EventLogEntry{
		ParticipantID: payload.ParticipantID,
		EventType:     types.EventStateSnapshot,
		EventData:     datatypes.JSON(data),
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("append snapshot: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}

func (h *DBWriterHandler) writeChat(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload chatWritePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode chat write: %w", err)
	}
	if _, err := h.chats.Create(ctx, nil, &types.ChatHistory{
		ParticipantID: payload.ParticipantID,
		Role:          payload.Role,
		Content:       payload.Content,
		SystemPrompt:  payload.SystemPrompt,
		ContentID:     payload.ContentID,
	}); err != nil {
		return nil, fmt.Errorf("create chat row: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}

func (h *DBWriterHandler) writeProgress(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload progressWritePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode progress write: %w", err)
	}
	if _, err := h.progress.Upsert(ctx, nil, &types.UserProgress{
		ParticipantID: payload.ParticipantID,
		TopicID:       payload.TopicID,
	}); err != nil {
		return nil, fmt.Errorf("upsert progress: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}

func (h *DBWriterHandler) writeSubmission(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload submissionWritePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode submission write: %w", err)
	}
	details, err := json.Marshal(payload.Details)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}
	if _, err := h.submissions.Create(ctx, nil, &types.Submission{
		ParticipantID: payload.ParticipantID,
		TopicID:       payload.TopicID,
		HTML:          payload.Code.HTML,
		CSS:           payload.Code.CSS,
		JS:            payload.Code.JS,
		Passed:        payload.Passed,
		Details:       datatypes.JSON(details),
	}); err != nil {
		return nil, fmt.Errorf("create submission row: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}

// updateBKT routes the submission outcome through the lifecycle
// service so the cognitive model and snapshot policy both run.
func (h *DBWriterHandler) updateBKT(ctx context.Context, task *types.TaskRun) (any, error) {
	var payload bktUpdatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode bkt update: %w", err)
	}
	if err := h.userSvc.HandleEvent(ctx, interpreter.Event{
		ParticipantID: payload.ParticipantID,
		EventType:     types.EventTestSubmission,
		EventData: map[string]any{
			"topic_id":   payload.TopicID,
			"is_correct": payload.Passed,
		},
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("apply submission outcome: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}
