package repos

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/types"
)

type ProgressRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, row *types.UserProgress) (*types.UserProgress, error)
	GetByParticipant(ctx context.Context, tx *gorm.DB, participantID string) ([]*types.UserProgress, error)
}

type progressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return &progressRepo{db: db, log: baseLog.With("repo", "ProgressRepo")}
}

func (r *progressRepo) Upsert(ctx context.Context, tx *gorm.DB, row *types.UserProgress) (*types.UserProgress, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "topic_id"}},
			DoNothing: true,
		}).
		Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *progressRepo) GetByParticipant(ctx context.Context, tx *gorm.DB, participantID string) ([]*types.UserProgress, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.UserProgress
	if err := transaction.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("completed_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type SubmissionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Submission) (*types.Submission, error)
}

type submissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubmissionRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionRepo {
	return &submissionRepo{db: db, log: baseLog.With("repo", "SubmissionRepo")}
}

func (r *submissionRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Submission) (*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}
