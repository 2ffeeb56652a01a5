package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/alteration/domain"
	"github.com/tukilabs/benefit/internal/apperror"
	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	"github.com/tukilabs/benefit/internal/calculation"
	"github.com/tukilabs/benefit/internal/clock"
	"github.com/tukilabs/benefit/internal/config"
	"github.com/tukilabs/benefit/internal/observability"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Redis   *redis.Client `optional:"true"`
	Repo    domain.Repository
	AppRepo appdomain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	warningLimit decimal.Decimal
	cache        *calcCache
	repo         domain.Repository
	appRepo      appdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("alteration.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		warningLimit: p.Cfg.RecoveryWarningLimit(),
		cache:        newCalcCache(p.Redis),
		repo:         p.Repo,
		appRepo:      p.AppRepo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Alteration, error) {
	var created *domain.Alteration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := s.appRepo.FindByIDForUpdate(ctx, tx, req.ApplicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return appdomain.ErrApplicationNotFound
		}
		if app.Status != appdomain.StatusAccepted {
			return domain.ErrApplicationNotAccepted
		}

		if err := validateCreate(req, app); err != nil {
			return err
		}

		open, err := s.repo.FindOpenByApplication(ctx, tx, req.ApplicationID)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return domain.ErrAlterationOpenExists
		}

		siblings, err := s.repo.FindByApplication(ctx, tx, req.ApplicationID)
		if err != nil {
			return err
		}
		if err := checkOverlap(req, app, siblings); err != nil {
			return err
		}

		now := s.clock.Now(ctx)
		alteration := &domain.Alteration{
			ID:                         s.genID.Generate(),
			ApplicationID:              req.ApplicationID,
			Type:                       req.Type,
			State:                      domain.StateReceived,
			LastDayOfWork:              req.LastDayOfWork,
			ResumeDate:                 req.ResumeDate,
			CalculationMode:            domain.ModeAutomatic,
			CalculationStale:           true,
			ContactPersonName:          strings.TrimSpace(req.ContactPersonName),
			UseEInvoice:                req.UseEInvoice,
			EInvoiceAddress:            strings.TrimSpace(req.EInvoiceAddress),
			EInvoiceProviderName:       strings.TrimSpace(req.EInvoiceProviderName),
			EInvoiceProviderIdentifier: strings.TrimSpace(req.EInvoiceProviderIdentifier),
			Version:                    1,
			CreatedAt:                  now,
			UpdatedAt:                  now,
		}
		if err := s.repo.Insert(ctx, tx, alteration); err != nil {
			return err
		}
		s.log.Info("alteration received",
			zap.String("application_id", app.ID.String()),
			zap.String("alteration_id", alteration.ID.String()),
			zap.String("type", string(req.Type)))
		created = alteration
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Alteration, error) {
	alteration, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if alteration == nil {
		return nil, domain.ErrAlterationNotFound
	}
	return alteration, nil
}

func (s *Service) ListByApplication(ctx context.Context, applicationID snowflake.ID) ([]domain.Alteration, error) {
	return s.repo.FindByApplication(ctx, s.db, applicationID)
}

func (s *Service) BeginHandling(ctx context.Context, id snowflake.ID, version int64) (*domain.Alteration, error) {
	var updated *domain.Alteration
	err := s.withAlteration(ctx, id, version, func(tx *gorm.DB, alteration *domain.Alteration, app *appdomain.Application) error {
		if alteration.State != domain.StateReceived {
			return domain.ErrInvalidState
		}
		start, end := alteration.RecoveryWindow(app.SubsidyEndDate)
		alteration.State = domain.StateHandling
		alteration.RecoveryStartDate = &start
		alteration.RecoveryEndDate = &end
		alteration.CalculationStale = true
		observability.RecordTransition("alteration", string(domain.StateReceived), string(domain.StateHandling))
		updated = alteration
		return nil
	})
	return updated, err
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateRequest) (domain.Result, error) {
	var result domain.Result
	err := s.withAlteration(ctx, id, req.Version, func(tx *gorm.DB, alteration *domain.Alteration, app *appdomain.Application) error {
		if alteration.State != domain.StateHandling {
			return domain.ErrInvalidState
		}

		if req.RecoveryStartDate != nil || req.RecoveryEndDate != nil {
			start, end := alteration.RecoveryStartDate, alteration.RecoveryEndDate
			if req.RecoveryStartDate != nil {
				start = req.RecoveryStartDate
			}
			if req.RecoveryEndDate != nil {
				end = req.RecoveryEndDate
			}
			if err := validateRecoveryRange(alteration, app, start, end); err != nil {
				return err
			}
			alteration.RecoveryStartDate = start
			alteration.RecoveryEndDate = end
			// Any date edit invalidates the last calculation.
			alteration.CalculationStale = true
		}

		if req.CalculationMode != nil {
			switch *req.CalculationMode {
			case domain.ModeAutomatic, domain.ModeManual:
				alteration.CalculationMode = *req.CalculationMode
			default:
				return apperror.Validation("calculation_mode", "invalid_mode", "calculation mode must be automatic or manual")
			}
		}

		if req.ManualAmount != nil {
			if alteration.CalculationMode != domain.ModeManual {
				return apperror.Validation("recovery_amount", "not_manual", "manual amounts require manual calculation mode")
			}
			if req.ManualAmount.IsNegative() {
				return apperror.Validation("recovery_amount", "negative", "recovery amount cannot be negative")
			}
			amount := req.ManualAmount.Round(2)
			alteration.RecoveryAmount = &amount
			if s.overLimit(amount) {
				result.Warnings = append(result.Warnings, domain.WarningRecoveryOverLimit)
			}
		}

		if req.Justification != nil {
			alteration.Justification = strings.TrimSpace(*req.Justification)
		}

		result.Alteration = alteration
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}
	return result, nil
}

func (s *Service) Recalculate(ctx context.Context, id snowflake.ID, version int64) (*domain.Alteration, error) {
	var updated *domain.Alteration
	err := s.withAlteration(ctx, id, version, func(tx *gorm.DB, alteration *domain.Alteration, app *appdomain.Application) error {
		if alteration.State != domain.StateHandling {
			return domain.ErrInvalidState
		}
		if alteration.RecoveryStartDate == nil || alteration.RecoveryEndDate == nil {
			return apperror.Validation("recovery_start_date", "required", "recovery period is required")
		}

		rows, checksum, err := s.loadRows(ctx, tx, app)
		if err != nil {
			return err
		}

		// A termination on the subsidy period's last day (or a suspension
		// resumed the very next day) leaves no days to recover; the window
		// is empty and the amount is zero.
		amount := decimal.Zero
		if !alteration.RecoveryEndDate.Before(*alteration.RecoveryStartDate) {
			amount, err = s.calculate(ctx, rows, checksum, *alteration.RecoveryStartDate, *alteration.RecoveryEndDate)
			if err != nil {
				return err
			}
		}

		alteration.AutomaticAmount = &amount
		alteration.RowsChecksum = checksum
		alteration.CalculationStale = false
		if alteration.CalculationMode == domain.ModeAutomatic {
			alteration.RecoveryAmount = &amount
		}
		s.log.Info("recovery amount recalculated",
			zap.String("alteration_id", alteration.ID.String()),
			zap.String("amount", amount.StringFixed(2)))
		updated = alteration
		return nil
	})
	return updated, err
}

func (s *Service) SetRecoverable(ctx context.Context, id snowflake.ID, value bool, version int64) (domain.Result, error) {
	var result domain.Result
	err := s.withAlteration(ctx, id, version, func(tx *gorm.DB, alteration *domain.Alteration, app *appdomain.Application) error {
		if alteration.State != domain.StateHandling {
			return domain.ErrInvalidState
		}
		if value && effectiveAmount(alteration).IsZero() {
			// Zero recovery is modeled as "not recoverable", never as a
			// valid zero-amount recovery.
			return domain.ErrEmptyRecovery
		}
		if !value && alteration.AutomaticAmount != nil && s.overLimit(*alteration.AutomaticAmount) {
			result.Warnings = append(result.Warnings, domain.WarningRecoveryOverLimit)
		}
		alteration.IsRecoverable = &value
		result.Alteration = alteration
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}
	return result, nil
}

func (s *Service) Handle(ctx context.Context, id snowflake.ID, req domain.HandleRequest) (*domain.Alteration, []byte, error) {
	var (
		updated  *domain.Alteration
		artifact []byte
	)
	err := s.withAlteration(ctx, id, req.Version, func(tx *gorm.DB, alteration *domain.Alteration, app *appdomain.Application) error {
		if alteration.State != domain.StateHandling {
			return domain.ErrInvalidState
		}
		justification := strings.TrimSpace(req.Justification)
		if justification == "" && alteration.Justification == "" {
			return apperror.Validation("justification", "required", "a justification is required to handle an alteration")
		}
		if alteration.IsRecoverable == nil {
			return apperror.Validation("is_recoverable", "required", "recoverability must be set before handling")
		}

		_, checksum, err := s.loadRows(ctx, tx, app)
		if err != nil {
			return err
		}
		if alteration.CalculationStale || alteration.RowsChecksum != checksum {
			observability.RecordRejection("alteration", "calculation_out_of_date")
			return domain.ErrCalculationOutOfDate
		}
		if *alteration.IsRecoverable && effectiveAmount(alteration).IsZero() {
			return domain.ErrEmptyRecovery
		}

		now := s.clock.Now(ctx)
		if justification != "" {
			alteration.Justification = justification
		}
		alteration.State = domain.StateHandled
		alteration.HandledAt = &now

		artifact, err = buildArtifactCSV(app, alteration)
		if err != nil {
			return err
		}

		observability.RecordTransition("alteration", string(domain.StateHandling), string(domain.StateHandled))
		s.log.Info("alteration handled",
			zap.String("alteration_id", alteration.ID.String()),
			zap.Bool("recoverable", *alteration.IsRecoverable))
		updated = alteration
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, artifact, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, version int64) (*domain.Alteration, error) {
	var updated *domain.Alteration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		alteration, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if alteration == nil {
			return domain.ErrAlterationNotFound
		}
		if alteration.Version != version {
			return domain.ErrVersionConflict
		}
		// Cancellation is allowed even from handled and on archived
		// applications; the record stays visible with its terminal tag.
		if alteration.State == domain.StateCancelled {
			updated = alteration
			return nil
		}
		now := s.clock.Now(ctx)
		from := alteration.State
		alteration.State = domain.StateCancelled
		alteration.CancelledAt = &now
		previous := alteration.Version
		alteration.Version++
		alteration.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, alteration, previous); err != nil {
			return err
		}
		observability.RecordTransition("alteration", string(from), string(domain.StateCancelled))
		updated = alteration
		return nil
	})
	return updated, err
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		alteration, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if alteration == nil {
			return domain.ErrAlterationNotFound
		}
		if alteration.State == domain.StateHandled {
			return domain.ErrDeleteHandled
		}
		return s.repo.Delete(ctx, tx, id)
	})
}

// withAlteration runs fn inside a transaction with the alteration and its
// owning application locked, handling version checks and the write-back.
func (s *Service) withAlteration(
	ctx context.Context,
	id snowflake.ID,
	version int64,
	fn func(tx *gorm.DB, alteration *domain.Alteration, app *appdomain.Application) error,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		alteration, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if alteration == nil {
			return domain.ErrAlterationNotFound
		}
		if alteration.Version != version {
			return domain.ErrVersionConflict
		}
		app, err := s.appRepo.FindByID(ctx, tx, alteration.ApplicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return appdomain.ErrApplicationNotFound
		}

		if err := fn(tx, alteration, app); err != nil {
			return err
		}

		previous := alteration.Version
		alteration.Version++
		alteration.UpdatedAt = s.clock.Now(ctx)
		return s.repo.Update(ctx, tx, alteration, previous)
	})
}

func (s *Service) loadRows(ctx context.Context, tx *gorm.DB, app *appdomain.Application) ([]calculation.Row, string, error) {
	stored, err := s.appRepo.FindRows(ctx, tx, app.ID)
	if err != nil {
		return nil, "", err
	}
	rows := make([]calculation.Row, 0, len(stored))
	for _, row := range stored {
		rows = append(rows, calculation.Row{
			StartDate:   row.StartDate,
			EndDate:     row.EndDate,
			TotalAmount: row.TotalAmount,
		})
	}
	if err := calculation.ValidateRows(rows, app.SubsidyStartDate, app.SubsidyEndDate); err != nil {
		// Persisted rows failing coverage is corrupt data, not user error.
		s.log.Error("calculation rows failed integrity check",
			zap.String("application_id", app.ID.String()),
			zap.Error(err))
		return nil, "", err
	}
	return rows, calculation.Checksum(rows), nil
}

func (s *Service) calculate(ctx context.Context, rows []calculation.Row, checksum string, start, end time.Time) (decimal.Decimal, error) {
	if amount, ok := s.cache.get(ctx, checksum, start, end); ok {
		observability.RecoveryCalculationsTotal.WithLabelValues("hit").Inc()
		return amount, nil
	}
	amount, err := calculation.Calculate(rows, start, end)
	if err != nil {
		return decimal.Zero, err
	}
	observability.RecoveryCalculationsTotal.WithLabelValues("miss").Inc()
	s.cache.set(ctx, checksum, start, end, amount)
	return amount, nil
}

func (s *Service) overLimit(amount decimal.Decimal) bool {
	return s.warningLimit.IsPositive() && amount.GreaterThan(s.warningLimit)
}

func effectiveAmount(alteration *domain.Alteration) decimal.Decimal {
	if alteration.CalculationMode == domain.ModeManual && alteration.RecoveryAmount != nil {
		return *alteration.RecoveryAmount
	}
	if alteration.AutomaticAmount != nil {
		return *alteration.AutomaticAmount
	}
	return decimal.Zero
}

func validateCreate(req domain.CreateRequest, app *appdomain.Application) error {
	var fields []apperror.FieldError

	switch req.Type {
	case domain.TypeTermination, domain.TypeSuspension:
	default:
		fields = append(fields, apperror.FieldError{Field: "alteration_type", Code: "invalid_type", Message: "alteration type must be termination or suspension"})
	}

	if req.LastDayOfWork.IsZero() {
		fields = append(fields, apperror.FieldError{Field: "last_day_of_work", Code: "required", Message: "last day of work is required"})
	} else if req.LastDayOfWork.Before(app.SubsidyStartDate) || req.LastDayOfWork.After(app.SubsidyEndDate) {
		fields = append(fields, apperror.FieldError{Field: "last_day_of_work", Code: "outside_subsidy_period", Message: "last day of work must fall within the subsidy period"})
	}

	if req.Type == domain.TypeSuspension {
		if req.ResumeDate == nil {
			fields = append(fields, apperror.FieldError{Field: "resume_date", Code: "required", Message: "a suspension requires a resume date"})
		} else {
			if !req.ResumeDate.After(req.LastDayOfWork) {
				fields = append(fields, apperror.FieldError{Field: "resume_date", Code: "before_last_day", Message: "resume date must be after the last day of work"})
			}
			if req.ResumeDate.After(app.SubsidyEndDate) {
				fields = append(fields, apperror.FieldError{Field: "resume_date", Code: "outside_subsidy_period", Message: "resume date must fall within the subsidy period"})
			}
		}
	}

	if req.UseEInvoice {
		if strings.TrimSpace(req.EInvoiceAddress) == "" {
			fields = append(fields, apperror.FieldError{Field: "einvoice_address", Code: "required", Message: "e-invoice address is required"})
		}
		if strings.TrimSpace(req.EInvoiceProviderName) == "" {
			fields = append(fields, apperror.FieldError{Field: "einvoice_provider_name", Code: "required", Message: "e-invoice provider name is required"})
		}
		if strings.TrimSpace(req.EInvoiceProviderIdentifier) == "" {
			fields = append(fields, apperror.FieldError{Field: "einvoice_provider_identifier", Code: "required", Message: "e-invoice provider identifier is required"})
		}
	}

	if len(fields) > 0 {
		return apperror.ValidationFields(fields...)
	}
	return nil
}

// checkOverlap rejects a new alteration whose recovery window intersects a
// non-cancelled sibling's window.
func checkOverlap(req domain.CreateRequest, app *appdomain.Application, siblings []domain.Alteration) error {
	candidate := domain.Alteration{Type: req.Type, LastDayOfWork: req.LastDayOfWork, ResumeDate: req.ResumeDate}
	newStart, newEnd := candidate.RecoveryWindow(app.SubsidyEndDate)
	for _, sibling := range siblings {
		if sibling.State == domain.StateCancelled {
			continue
		}
		start, end := sibling.RecoveryWindow(app.SubsidyEndDate)
		if !newStart.After(end) && !start.After(newEnd) {
			return apperror.Validation("last_day_of_work", "overlapping_alteration", "the date range overlaps an existing alteration")
		}
	}
	return nil
}

func validateRecoveryRange(alteration *domain.Alteration, app *appdomain.Application, start, end *time.Time) error {
	if start == nil || end == nil {
		return apperror.Validation("recovery_start_date", "required", "recovery period is required")
	}
	if end.Before(*start) {
		return apperror.Validation("recovery_end_date", "invalid_range", "recovery end date precedes start date")
	}
	if start.Before(app.SubsidyStartDate) || end.After(app.SubsidyEndDate) {
		return apperror.Validation("recovery_start_date", "outside_subsidy_period", "recovery period must fall within the subsidy period")
	}
	windowStart, windowEnd := alteration.RecoveryWindow(app.SubsidyEndDate)
	if start.Before(windowStart) || end.After(windowEnd) {
		return apperror.Validation("recovery_start_date", "outside_recovery_window", "recovery period must fall within the alteration's recovery window")
	}
	return nil
}
