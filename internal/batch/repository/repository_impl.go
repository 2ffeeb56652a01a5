package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/batch/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const batchColumns = `id, ahjo_status, decision_maker_name, decision_maker_title, section_of_law,
	expert_inspector_name, expert_inspector_title, p2p_checker_name,
	registered_at, exported_at, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, batch *domain.Batch) error {
	return db.WithContext(ctx).Create(batch).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := db.WithContext(ctx).Raw(
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := db.WithContext(ctx).Raw(
		`SELECT `+batchColumns+` FROM batches WHERE id = ? FOR UPDATE`, id,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Batch, error) {
	var items []domain.Batch
	err := db.WithContext(ctx).Raw(
		`SELECT ` + batchColumns + ` FROM batches ORDER BY created_at DESC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, batch *domain.Batch, previousVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE batches
		 SET ahjo_status = ?, decision_maker_name = ?, decision_maker_title = ?,
		     section_of_law = ?, expert_inspector_name = ?, expert_inspector_title = ?,
		     p2p_checker_name = ?, registered_at = ?, exported_at = ?,
		     version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		batch.AhjoStatus,
		batch.DecisionMakerName,
		batch.DecisionMakerTitle,
		batch.SectionOfLaw,
		batch.ExpertInspectorName,
		batch.ExpertInspectorTitle,
		batch.P2PCheckerName,
		batch.RegisteredAt,
		batch.ExportedAt,
		batch.Version,
		batch.UpdatedAt,
		batch.ID,
		previousVersion,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, delivery *domain.TalpaDelivery) (bool, error) {
	err := db.WithContext(ctx).Create(delivery).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		// Fall back to a lookup: not every driver maps duplicate-key errors.
		existing, findErr := r.FindDelivery(ctx, db, delivery.ID)
		if findErr == nil && existing != nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) FindDelivery(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.TalpaDelivery, error) {
	var delivery domain.TalpaDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT id, application_id, status, received_at FROM talpa_deliveries WHERE id = ?`, id,
	).Scan(&delivery).Error
	if err != nil {
		return nil, err
	}
	if delivery.ID == uuid.Nil {
		return nil, nil
	}
	return &delivery, nil
}
