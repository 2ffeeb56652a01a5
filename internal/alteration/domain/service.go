package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/tukilabs/benefit/internal/apperror"
)

var (
	ErrAlterationNotFound     = apperror.NotFound("alteration")
	ErrInvalidState           = apperror.BusinessRule("invalid_alteration_state", "alteration state does not permit this operation")
	ErrVersionConflict        = apperror.Conflict("version_conflict", "alteration was modified concurrently")
	ErrCalculationOutOfDate   = apperror.BusinessRule("calculation_out_of_date", "recovery amount must be recalculated before handling")
	ErrEmptyRecovery          = apperror.BusinessRule("empty_recovery", "a zero recovery amount cannot be marked recoverable")
	ErrAlterationOpenExists   = apperror.BusinessRule("open_alteration_exists", "another alteration is already open for this application")
	ErrDeleteHandled          = apperror.BusinessRule("alteration_handled", "a handled alteration cannot be deleted")
	ErrApplicationNotAccepted = apperror.BusinessRule("application_not_accepted", "alterations can only be reported on accepted applications")
)

// WarningRecoveryOverLimit is a non-blocking warning code surfaced alongside
// a successful result when an amount exceeds the configured recovery limit.
const WarningRecoveryOverLimit = "recovery_amount_over_limit"

type CreateRequest struct {
	ApplicationID              snowflake.ID
	Type                       Type
	LastDayOfWork              time.Time
	ResumeDate                 *time.Time
	ContactPersonName          string
	UseEInvoice                bool
	EInvoiceAddress            string
	EInvoiceProviderName       string
	EInvoiceProviderIdentifier string
}

// UpdateRequest patches handling-phase fields. Nil pointers leave fields
// untouched. Editing a recovery date marks the calculation stale.
type UpdateRequest struct {
	RecoveryStartDate *time.Time
	RecoveryEndDate   *time.Time
	CalculationMode   *CalculationMode
	ManualAmount      *decimal.Decimal
	Justification     *string
	Version           int64
}

type HandleRequest struct {
	Justification string
	Version       int64
}

// Result pairs an alteration with any non-blocking warnings raised by the
// operation that produced it.
type Result struct {
	Alteration *Alteration
	Warnings   []string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Alteration, error)
	Get(ctx context.Context, id snowflake.ID) (*Alteration, error)
	ListByApplication(ctx context.Context, applicationID snowflake.ID) ([]Alteration, error)
	BeginHandling(ctx context.Context, id snowflake.ID, version int64) (*Alteration, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (Result, error)
	Recalculate(ctx context.Context, id snowflake.ID, version int64) (*Alteration, error)
	SetRecoverable(ctx context.Context, id snowflake.ID, value bool, version int64) (Result, error)
	// Handle finalizes the alteration and returns the CSV artifact produced
	// for the records system.
	Handle(ctx context.Context, id snowflake.ID, req HandleRequest) (*Alteration, []byte, error)
	Cancel(ctx context.Context, id snowflake.ID, version int64) (*Alteration, error)
	Delete(ctx context.Context, id snowflake.ID) error
}
