package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, log *AuditLog) error
	List(ctx context.Context, tx *gorm.DB, filter ListFilter) ([]AuditLog, error)
}
