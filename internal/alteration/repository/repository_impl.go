package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/alteration/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const alterationColumns = `id, application_id, alteration_type, state, last_day_of_work, resume_date,
	recovery_start_date, recovery_end_date, is_recoverable, calculation_mode,
	recovery_amount, automatic_amount, rows_checksum, calculation_stale, justification,
	contact_person_name, use_einvoice, einvoice_address, einvoice_provider_name,
	einvoice_provider_identifier, handled_at, cancelled_at, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, alteration *domain.Alteration) error {
	return db.WithContext(ctx).Create(alteration).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Alteration, error) {
	var a domain.Alteration
	err := db.WithContext(ctx).Raw(
		`SELECT `+alterationColumns+` FROM application_alterations WHERE id = ?`, id,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Alteration, error) {
	var a domain.Alteration
	err := db.WithContext(ctx).Raw(
		`SELECT `+alterationColumns+` FROM application_alterations WHERE id = ? FOR UPDATE`, id,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) FindByApplication(ctx context.Context, db *gorm.DB, applicationID snowflake.ID) ([]domain.Alteration, error) {
	var items []domain.Alteration
	err := db.WithContext(ctx).Raw(
		`SELECT `+alterationColumns+` FROM application_alterations
		 WHERE application_id = ? ORDER BY created_at ASC`,
		applicationID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindOpenByApplication(ctx context.Context, db *gorm.DB, applicationID snowflake.ID) ([]domain.Alteration, error) {
	var items []domain.Alteration
	err := db.WithContext(ctx).Raw(
		`SELECT `+alterationColumns+` FROM application_alterations
		 WHERE application_id = ? AND state IN (?, ?) ORDER BY created_at ASC`,
		applicationID, domain.StateReceived, domain.StateHandling,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, a *domain.Alteration, previousVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE application_alterations
		 SET state = ?, last_day_of_work = ?, resume_date = ?,
		     recovery_start_date = ?, recovery_end_date = ?, is_recoverable = ?,
		     calculation_mode = ?, recovery_amount = ?, automatic_amount = ?,
		     rows_checksum = ?, calculation_stale = ?, justification = ?,
		     contact_person_name = ?, use_einvoice = ?, einvoice_address = ?,
		     einvoice_provider_name = ?, einvoice_provider_identifier = ?,
		     handled_at = ?, cancelled_at = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		a.State,
		a.LastDayOfWork,
		a.ResumeDate,
		a.RecoveryStartDate,
		a.RecoveryEndDate,
		a.IsRecoverable,
		a.CalculationMode,
		a.RecoveryAmount,
		a.AutomaticAmount,
		a.RowsChecksum,
		a.CalculationStale,
		a.Justification,
		a.ContactPersonName,
		a.UseEInvoice,
		a.EInvoiceAddress,
		a.EInvoiceProviderName,
		a.EInvoiceProviderIdentifier,
		a.HandledAt,
		a.CancelledAt,
		a.Version,
		a.UpdatedAt,
		a.ID,
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

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM application_alterations WHERE id = ?`, id,
	).Error
}
