package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/types"
)

type ChatHistoryRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.ChatHistory) (*types.ChatHistory, error)
	GetByParticipant(ctx context.Context, tx *gorm.DB, participantID string, limit int) ([]*types.ChatHistory, error)
}

type chatHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatHistoryRepo(db *gorm.DB, baseLog *logger.Logger) ChatHistoryRepo {
	return &chatHistoryRepo{db: db, log: baseLog.With("repo", "ChatHistoryRepo")}
}

func (r *chatHistoryRepo) Create(ctx context.Context, tx *gorm.DB, row *types.ChatHistory) (*types.ChatHistory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *chatHistoryRepo) GetByParticipant(ctx context.Context, tx *gorm.DB, participantID string, limit int) ([]*types.ChatHistory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ChatHistory
	q := transaction.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
