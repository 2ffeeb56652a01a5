package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/audit/domain"
)

type Repository struct{}

func Provide() domain.Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, log *domain.AuditLog) error {
	return tx.WithContext(ctx).Exec(`
		INSERT INTO audit_logs (id, actor_name, action, target_type, target_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.ActorName, log.Action, log.TargetType, log.TargetID, log.Metadata, log.CreatedAt,
	).Error
}

func (r *Repository) List(ctx context.Context, tx *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	query := `
		SELECT id, actor_name, action, target_type, target_id, metadata, created_at
		FROM audit_logs`
	args := make([]any, 0, 2)
	if filter.TargetType != "" {
		query += ` WHERE target_type = ? AND target_id = ?`
		args = append(args, filter.TargetType, filter.TargetID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var logs []domain.AuditLog
	if err := tx.WithContext(ctx).Raw(query, args...).Scan(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
