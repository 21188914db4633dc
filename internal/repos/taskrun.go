package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/types"
)

// TaskRunRepo backs the durable queues. Claiming is compare-and-swap on
// the status column so concurrent workers never run the same task, and
// behavior tasks stay FIFO per participant: a queued behavior task is
// not claimable while an earlier task for the same participant is
// queued ahead of it or still running.
type TaskRunRepo interface {
	Enqueue(ctx context.Context, tx *gorm.DB, run *types.TaskRun) (*types.TaskRun, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, queue string) (*types.TaskRun, error)
	MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID, result datatypes.JSON) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaskRun, error)
	CountPending(ctx context.Context, tx *gorm.DB, queue string) (int64, error)
}

type taskRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRunRepo(db *gorm.DB, baseLog *logger.Logger) TaskRunRepo {
	return &taskRunRepo{db: db, log: baseLog.With("repo", "TaskRunRepo")}
}

func (r *taskRunRepo) Enqueue(ctx context.Context, tx *gorm.DB, run *types.TaskRun) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	run.Status = types.TaskStatusQueued
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *taskRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, queue string) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var candidates []*types.TaskRun
	if err := transaction.WithContext(ctx).
		Where("queue = ? AND status = ?", queue, types.TaskStatusQueued).
		Order("created_at ASC").
		Limit(20).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		if queue == types.QueueBehavior && candidate.ParticipantID != "" {
			blocked, err := r.participantBusy(ctx, transaction, queue, candidate)
			if err != nil {
				return nil, err
			}
			if blocked {
				continue
			}
		}
		now := time.Now().UTC()
		res := transaction.WithContext(ctx).
			Model(&types.TaskRun{}).
			Where("id = ? AND status = ?", candidate.ID, types.TaskStatusQueued).
			Updates(map[string]any{"status": types.TaskStatusRunning, "started_at": now})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			candidate.Status = types.TaskStatusRunning
			candidate.StartedAt = &now
			return candidate, nil
		}
		// Lost the race to another worker; try the next candidate.
	}
	return nil, nil
}

func (r *taskRunRepo) participantBusy(ctx context.Context, tx *gorm.DB, queue string, candidate *types.TaskRun) (bool, error) {
	var running int64
	if err := tx.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("queue = ? AND participant_id = ? AND status = ?", queue, candidate.ParticipantID, types.TaskStatusRunning).
		Count(&running).Error; err != nil {
		return false, err
	}
	if running > 0 {
		return true, nil
	}
	var earlier int64
	if err := tx.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("queue = ? AND participant_id = ? AND status = ? AND created_at < ?",
			queue, candidate.ParticipantID, types.TaskStatusQueued, candidate.CreatedAt).
		Count(&earlier).Error; err != nil {
		return false, err
	}
	return earlier > 0, nil
}

func (r *taskRunRepo) MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID, result datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      types.TaskStatusSucceeded,
			"result":      result,
			"finished_at": now,
		}).Error
}

func (r *taskRunRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      types.TaskStatusFailed,
			"error":       errMsg,
			"finished_at": now,
		}).Error
}

func (r *taskRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.TaskRun
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *taskRunRepo) CountPending(ctx context.Context, tx *gorm.DB, queue string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("queue = ? AND status IN ?", queue, []string{types.TaskStatusQueued, types.TaskStatusRunning}).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
