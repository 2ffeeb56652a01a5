package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alteration *Alteration) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Alteration, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Alteration, error)
	FindByApplication(ctx context.Context, db *gorm.DB, applicationID snowflake.ID) ([]Alteration, error)
	// FindOpenByApplication returns alterations in received or handling state.
	FindOpenByApplication(ctx context.Context, db *gorm.DB, applicationID snowflake.ID) ([]Alteration, error)
	Update(ctx context.Context, db *gorm.DB, alteration *Alteration, previousVersion int64) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
