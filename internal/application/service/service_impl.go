package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/apperror"
	"github.com/tukilabs/benefit/internal/application/domain"
	"github.com/tukilabs/benefit/internal/calculation"
	"github.com/tukilabs/benefit/internal/clock"
	"github.com/tukilabs/benefit/internal/observability"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("application.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Application, error) {
	var fields []apperror.FieldError
	if strings.TrimSpace(req.ApplicationNumber) == "" {
		fields = append(fields, apperror.FieldError{Field: "application_number", Code: "required", Message: "application number is required"})
	}
	if strings.TrimSpace(req.CompanyName) == "" {
		fields = append(fields, apperror.FieldError{Field: "company_name", Code: "required", Message: "company name is required"})
	}
	if req.SubsidyStartDate.IsZero() || req.SubsidyEndDate.IsZero() {
		fields = append(fields, apperror.FieldError{Field: "subsidy_start_date", Code: "required", Message: "subsidy period is required"})
	} else if req.SubsidyEndDate.Before(req.SubsidyStartDate) {
		fields = append(fields, apperror.FieldError{Field: "subsidy_end_date", Code: "invalid_range", Message: "subsidy period ends before it starts"})
	}
	if len(fields) > 0 {
		return nil, apperror.ValidationFields(fields...)
	}

	now := s.clock.Now(ctx)
	app := &domain.Application{
		ID:                s.genID.Generate(),
		ApplicationNumber: strings.TrimSpace(req.ApplicationNumber),
		CompanyName:       strings.TrimSpace(req.CompanyName),
		EmployeeFirstName: strings.TrimSpace(req.EmployeeFirstName),
		EmployeeLastName:  strings.TrimSpace(req.EmployeeLastName),
		Status:            domain.StatusDraft,
		SubsidyStartDate:  req.SubsidyStartDate,
		SubsidyEndDate:    req.SubsidyEndDate,
		TalpaStatus:       domain.TalpaStatusNotSent,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, app); err != nil {
		return nil, err
	}
	s.log.Info("application created",
		zap.String("application_id", app.ID.String()),
		zap.String("application_number", app.ApplicationNumber))
	return app, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Application, error) {
	app, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, domain.ErrApplicationNotFound
	}
	return app, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Application, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateRequest) (*domain.Application, error) {
	var updated *domain.Application
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if app == nil {
			return domain.ErrApplicationNotFound
		}
		if app.Status == domain.StatusArchived {
			return domain.ErrArchivedReadOnly
		}
		if app.Version != req.Version {
			return domain.ErrVersionConflict
		}

		if req.CompanyName != nil {
			app.CompanyName = strings.TrimSpace(*req.CompanyName)
		}
		if req.EmployeeFirstName != nil {
			app.EmployeeFirstName = strings.TrimSpace(*req.EmployeeFirstName)
		}
		if req.EmployeeLastName != nil {
			app.EmployeeLastName = strings.TrimSpace(*req.EmployeeLastName)
		}
		if req.SubsidyStartDate != nil || req.SubsidyEndDate != nil {
			// The subsidy period freezes at acceptance: alterations and
			// calculation rows are validated against it.
			if app.Status == domain.StatusAccepted {
				return apperror.Validation("subsidy_start_date", "immutable", "subsidy period cannot change after acceptance")
			}
			if req.SubsidyStartDate != nil {
				app.SubsidyStartDate = *req.SubsidyStartDate
			}
			if req.SubsidyEndDate != nil {
				app.SubsidyEndDate = *req.SubsidyEndDate
			}
			if app.SubsidyEndDate.Before(app.SubsidyStartDate) {
				return apperror.Validation("subsidy_end_date", "invalid_range", "subsidy period ends before it starts")
			}
		}

		previous := app.Version
		app.Version++
		app.UpdatedAt = s.clock.Now(ctx)
		if err := s.repo.Update(ctx, tx, app, previous); err != nil {
			return err
		}
		updated = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Transition(ctx context.Context, id snowflake.ID, target domain.Status, version int64) (*domain.Application, error) {
	if target == domain.StatusAccepted || target == domain.StatusRejected {
		// Decisions carry rows and a log comment.
		return nil, domain.ErrInvalidTransition
	}
	if !isValidStatus(target) {
		return nil, apperror.Validation("status", "invalid_status", "unknown application status")
	}

	var updated *domain.Application
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if app == nil {
			return domain.ErrApplicationNotFound
		}
		if app.Version != version {
			return domain.ErrVersionConflict
		}
		if app.Status == target {
			updated = app
			return nil
		}
		if !isTransitionAllowed(app.Status, target) {
			observability.RecordRejection("application", "invalid_transition")
			return domain.ErrInvalidTransition
		}

		if target == domain.StatusReceived {
			if err := validateSubmittable(app); err != nil {
				return err
			}
		}

		now := s.clock.Now(ctx)
		from := app.Status
		if target == domain.StatusArchived {
			app.ArchivedAt = &now
		}
		if target == domain.StatusCancelled {
			app.DecidedAt = nil
		}
		app.Status = target
		previous := app.Version
		app.Version++
		app.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, app, previous); err != nil {
			return err
		}

		observability.RecordTransition("application", string(from), string(target))
		s.log.Info("application status changed",
			zap.String("application_id", app.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(target)))
		updated = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Decide(ctx context.Context, id snowflake.ID, req domain.DecideRequest) (*domain.Application, error) {
	if req.Outcome != domain.StatusAccepted && req.Outcome != domain.StatusRejected {
		return nil, apperror.Validation("outcome", "invalid_outcome", "decision outcome must be accepted or rejected")
	}
	if strings.TrimSpace(req.LogEntryComment) == "" {
		return nil, apperror.Validation("log_entry_comment", "required", "a decision log comment is required")
	}

	var updated *domain.Application
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if app == nil {
			return domain.ErrApplicationNotFound
		}
		if app.Version != req.Version {
			return domain.ErrVersionConflict
		}
		if app.Status != domain.StatusHandling {
			observability.RecordRejection("application", "invalid_transition")
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now(ctx)
		if req.Outcome == domain.StatusAccepted {
			rows := make([]calculation.Row, 0, len(req.Rows))
			stored := make([]domain.CalculationRow, 0, len(req.Rows))
			for i, in := range req.Rows {
				rows = append(rows, calculation.Row{StartDate: in.StartDate, EndDate: in.EndDate, TotalAmount: in.TotalAmount})
				stored = append(stored, domain.CalculationRow{
					ID:            s.genID.Generate(),
					ApplicationID: app.ID,
					Ordinal:       i,
					StartDate:     in.StartDate,
					EndDate:       in.EndDate,
					TotalAmount:   in.TotalAmount,
					CreatedAt:     now,
				})
			}
			if len(rows) == 0 {
				return apperror.Validation("rows", "required", "an accepted decision requires calculation rows")
			}
			if err := calculation.ValidateRows(rows, app.SubsidyStartDate, app.SubsidyEndDate); err != nil {
				// Proposed rows are user input here, not persisted state.
				return apperror.Validation("rows", "rows_do_not_cover_period", "calculation rows must cover the subsidy period exactly")
			}
			if err := s.repo.InsertRows(ctx, tx, stored); err != nil {
				return err
			}
		}

		from := app.Status
		app.Status = req.Outcome
		app.DecidedAt = &now
		previous := app.Version
		app.Version++
		app.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, app, previous); err != nil {
			return err
		}

		observability.RecordTransition("application", string(from), string(req.Outcome))
		s.log.Info("application decided",
			zap.String("application_id", app.ID.String()),
			zap.String("outcome", string(req.Outcome)))
		updated = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Rows(ctx context.Context, id snowflake.ID) ([]domain.CalculationRow, error) {
	app, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, domain.ErrApplicationNotFound
	}
	return s.repo.FindRows(ctx, s.db, id)
}

func validateSubmittable(app *domain.Application) error {
	var fields []apperror.FieldError
	if app.CompanyName == "" {
		fields = append(fields, apperror.FieldError{Field: "company_name", Code: "required", Message: "company name is required"})
	}
	if app.EmployeeFirstName == "" || app.EmployeeLastName == "" {
		fields = append(fields, apperror.FieldError{Field: "employee_last_name", Code: "required", Message: "employee name is required"})
	}
	if len(fields) > 0 {
		return apperror.ValidationFields(fields...)
	}
	return nil
}

func isValidStatus(status domain.Status) bool {
	switch status {
	case domain.StatusDraft, domain.StatusReceived, domain.StatusHandling,
		domain.StatusInfoRequested, domain.StatusAccepted, domain.StatusRejected,
		domain.StatusCancelled, domain.StatusArchived:
		return true
	default:
		return false
	}
}

func isTransitionAllowed(current, target domain.Status) bool {
	switch current {
	case domain.StatusDraft:
		return target == domain.StatusReceived || target == domain.StatusCancelled
	case domain.StatusReceived:
		return target == domain.StatusHandling || target == domain.StatusCancelled
	case domain.StatusHandling:
		return target == domain.StatusInfoRequested ||
			target == domain.StatusAccepted ||
			target == domain.StatusRejected ||
			target == domain.StatusCancelled
	case domain.StatusInfoRequested:
		return target == domain.StatusHandling || target == domain.StatusCancelled
	case domain.StatusAccepted, domain.StatusRejected:
		return target == domain.StatusCancelled || target == domain.StatusArchived
	case domain.StatusCancelled:
		return target == domain.StatusArchived
	default:
		return false
	}
}
