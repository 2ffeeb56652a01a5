package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, batch *Batch) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	List(ctx context.Context, db *gorm.DB) ([]Batch, error)
	Update(ctx context.Context, db *gorm.DB, batch *Batch, previousVersion int64) error
	// InsertDelivery records a processed Talpa callback; returns false when
	// the delivery id was already recorded.
	InsertDelivery(ctx context.Context, db *gorm.DB, delivery *TalpaDelivery) (bool, error)
	FindDelivery(ctx context.Context, db *gorm.DB, id uuid.UUID) (*TalpaDelivery, error)
}
