package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/application/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const applicationColumns = `id, application_number, company_name, employee_first_name, employee_last_name,
	status, subsidy_start_date, subsidy_end_date, batch_id, talpa_status,
	decided_at, archived_at, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, app *domain.Application) error {
	return db.WithContext(ctx).Create(app).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Application, error) {
	var app domain.Application
	err := db.WithContext(ctx).Raw(
		`SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id,
	).Scan(&app).Error
	if err != nil {
		return nil, err
	}
	if app.ID == 0 {
		return nil, nil
	}
	return &app, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Application, error) {
	var app domain.Application
	err := db.WithContext(ctx).Raw(
		`SELECT `+applicationColumns+` FROM applications WHERE id = ? FOR UPDATE`, id,
	).Scan(&app).Error
	if err != nil {
		return nil, err
	}
	if app.ID == 0 {
		return nil, nil
	}
	return &app, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Application, error) {
	query := db.WithContext(ctx).Model(&domain.Application{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.BatchID != nil {
		query = query.Where("batch_id = ?", *filter.BatchID)
	}
	var items []domain.Application
	if err := query.Order("created_at ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, app *domain.Application, previousVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE applications
		 SET company_name = ?, employee_first_name = ?, employee_last_name = ?,
		     status = ?, subsidy_start_date = ?, subsidy_end_date = ?,
		     batch_id = ?, talpa_status = ?, decided_at = ?, archived_at = ?,
		     version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		app.CompanyName,
		app.EmployeeFirstName,
		app.EmployeeLastName,
		app.Status,
		app.SubsidyStartDate,
		app.SubsidyEndDate,
		app.BatchID,
		app.TalpaStatus,
		app.DecidedAt,
		app.ArchivedAt,
		app.Version,
		app.UpdatedAt,
		app.ID,
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

func (r *repo) InsertRows(ctx context.Context, db *gorm.DB, rows []domain.CalculationRow) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}

func (r *repo) FindRows(ctx context.Context, db *gorm.DB, applicationID snowflake.ID) ([]domain.CalculationRow, error) {
	var rows []domain.CalculationRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, application_id, ordinal, start_date, end_date, total_amount, created_at
		 FROM calculation_rows WHERE application_id = ? ORDER BY ordinal ASC`,
		applicationID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) SetBatch(ctx context.Context, db *gorm.DB, applicationID snowflake.ID, batchID *snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE applications SET batch_id = ?, version = version + 1 WHERE id = ?`,
		batchID, applicationID,
	).Error
}

func (r *repo) SetTalpaStatus(ctx context.Context, db *gorm.DB, applicationID snowflake.ID, status domain.TalpaStatus) error {
	return db.WithContext(ctx).Exec(
		`UPDATE applications SET talpa_status = ?, version = version + 1 WHERE id = ?`,
		status, applicationID,
	).Error
}

func (r *repo) FindByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]domain.Application, error) {
	var items []domain.Application
	err := db.WithContext(ctx).Raw(
		`SELECT `+applicationColumns+` FROM applications WHERE batch_id = ? ORDER BY application_number ASC`,
		batchID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
