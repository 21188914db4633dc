package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/notify"
	"github.com/openedtech/tutorcore/internal/repos"
	"github.com/openedtech/tutorcore/internal/types"
)

// userSafeTaskError is what learners see when a task fails for an
// internal reason.
const userSafeTaskError = "The request could not be processed. Please try again."

// Handler executes one claimed task. The returned result is persisted
// on the task row.
type Handler interface {
	Run(ctx context.Context, task *types.TaskRun) (result any, err error)
}

type HandlerFunc func(ctx context.Context, task *types.TaskRun) (any, error)

func (f HandlerFunc) Run(ctx context.Context, task *types.TaskRun) (any, error) { return f(ctx, task) }

// Registry maps task types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

func (r *Registry) Get(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Worker polls one queue with a pool of goroutines. Tasks are
// non-cancellable once running; stopping the context stops claiming
// between tasks.
type Worker struct {
	queue        string
	concurrency  int
	pollInterval time.Duration
	repo         repos.TaskRunRepo
	registry     *Registry
	bus          notify.Bus
	log          *logger.Logger
	group        *errgroup.Group
}

func NewWorker(queue string, concurrency int, repo repos.TaskRunRepo, registry *Registry, bus notify.Bus, baseLog *logger.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:        queue,
		concurrency:  concurrency,
		pollInterval: 250 * time.Millisecond,
		repo:         repo,
		registry:     registry,
		bus:          bus,
		log:          baseLog.With("component", "TaskWorker", "queue", queue),
	}
}

func (w *Worker) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	w.group = g
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			ticker := time.NewTicker(w.pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					task, err := w.repo.ClaimNextRunnable(ctx, nil, w.queue)
					if err != nil {
						w.log.Warn("ClaimNextRunnable failed", "error", err)
						continue
					}
					if task == nil {
						continue
					}
					w.runTask(ctx, task)
				}
			}
		})
	}
}

// Wait blocks until all pool goroutines have stopped.
func (w *Worker) Wait() error {
	if w.group == nil {
		return nil
	}
	return w.group.Wait()
}

func (w *Worker) runTask(ctx context.Context, task *types.TaskRun) {
	h, ok := w.registry.Get(task.TaskType)
	if !ok {
		w.log.Warn("No handler registered for task_type", "task_type", task.TaskType, "task_id", task.ID)
		w.fail(ctx, task, fmt.Errorf("no handler registered for task_type=%s", task.TaskType))
		return
	}

	result, err := w.safeRun(ctx, h, task)
	if err != nil {
		w.log.Error("Task failed", "task_id", task.ID, "task_type", task.TaskType, "error", err)
		w.fail(ctx, task, err)
		return
	}

	raw, merr := json.Marshal(result)
	if merr != nil {
		w.fail(ctx, task, fmt.Errorf("marshal result: %w", merr))
		return
	}
	if err := w.repo.MarkSucceeded(ctx, nil, task.ID, datatypes.JSON(raw)); err != nil {
		w.log.Error("Could not mark task succeeded", "task_id", task.ID, "error", err)
	}
}

// safeRun converts a handler panic into a task failure.
func (w *Worker) safeRun(ctx context.Context, h Handler, task *types.TaskRun) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Task handler panic", "task_id", task.ID, "task_type", task.TaskType, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Run(ctx, task)
}

// fail records the error on the task row and publishes a user-safe
// failure envelope on the learner's channel. Internal detail stays in
// the row and the logs.
func (w *Worker) fail(ctx context.Context, task *types.TaskRun, cause error) {
	if err := w.repo.MarkFailed(ctx, nil, task.ID, cause.Error()); err != nil {
		w.log.Error("Could not mark task failed", "task_id", task.ID, "error", err)
	}
	if w.bus == nil || task.ParticipantID == "" {
		return
	}
	env := notify.NewError(task.ID.String(), "internal", userSafeTaskError)
	if err := w.bus.Publish(ctx, task.ParticipantID, env); err != nil {
		w.log.Warn("Could not publish failure envelope", "task_id", task.ID, "error", err)
	}
}
