package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, app *Application) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Application, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Application, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Application, error)
	// Update writes the aggregate guarded by its previous version and bumps it.
	// Returns ErrVersionConflict when no row matched.
	Update(ctx context.Context, db *gorm.DB, app *Application, previousVersion int64) error
	InsertRows(ctx context.Context, db *gorm.DB, rows []CalculationRow) error
	FindRows(ctx context.Context, db *gorm.DB, applicationID snowflake.ID) ([]CalculationRow, error)
	// SetBatch attaches or detaches (nil) the weak batch reference.
	SetBatch(ctx context.Context, db *gorm.DB, applicationID snowflake.ID, batchID *snowflake.ID) error
	SetTalpaStatus(ctx context.Context, db *gorm.DB, applicationID snowflake.ID, status TalpaStatus) error
	FindByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]Application, error)
}
