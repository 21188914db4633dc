package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/types"
)

// EventLogRepo is the append-only behavior history. Queries are shaped
// for snapshot recovery: latest snapshot plus everything after it.
// There is no delete method; snapshots are permanent.
type EventLogRepo interface {
	Append(ctx context.Context, tx *gorm.DB, entry *types.EventLogEntry) (*types.EventLogEntry, error)
	GetByParticipant(ctx context.Context, tx *gorm.DB, participantID string) ([]*types.EventLogEntry, error)
	GetLatestSnapshot(ctx context.Context, tx *gorm.DB, participantID string) (*types.EventLogEntry, error)
	GetAfterTimestamp(ctx context.Context, tx *gorm.DB, participantID string, ts time.Time) ([]*types.EventLogEntry, error)
	GetCountAfterTimestamp(ctx context.Context, tx *gorm.DB, participantID string, ts time.Time) (int64, error)
	GetCountByParticipant(ctx context.Context, tx *gorm.DB, participantID string) (int64, error)
}

type eventLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventLogRepo(db *gorm.DB, baseLog *logger.Logger) EventLogRepo {
	return &eventLogRepo{db: db, log: baseLog.With("repo", "EventLogRepo")}
}

func (r *eventLogRepo) Append(ctx context.Context, tx *gorm.DB, entry *types.EventLogEntry) (*types.EventLogEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *eventLogRepo) GetByParticipant(ctx context.Context, tx *gorm.DB, participantID string) ([]*types.EventLogEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.EventLogEntry
	if err := transaction.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("timestamp ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *eventLogRepo) GetLatestSnapshot(ctx context.Context, tx *gorm.DB, participantID string) (*types.EventLogEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.EventLogEntry
	err := transaction.WithContext(ctx).
		Where("participant_id = ? AND event_type = ?", participantID, types.EventStateSnapshot).
		Order("timestamp DESC").
		First(&result).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *eventLogRepo) GetAfterTimestamp(ctx context.Context, tx *gorm.DB, participantID string, ts time.Time) ([]*types.EventLogEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.EventLogEntry
	if err := transaction.WithContext(ctx).
		Where("participant_id = ? AND timestamp > ?", participantID, ts).
		Order("timestamp ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *eventLogRepo) GetCountAfterTimestamp(ctx context.Context, tx *gorm.DB, participantID string, ts time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.EventLogEntry{}).
		Where("participant_id = ? AND timestamp > ?", participantID, ts).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *eventLogRepo) GetCountByParticipant(ctx context.Context, tx *gorm.DB, participantID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.EventLogEntry{}).
		Where("participant_id = ?", participantID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
