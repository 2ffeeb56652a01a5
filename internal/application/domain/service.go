package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/tukilabs/benefit/internal/apperror"
)

var (
	ErrApplicationNotFound = apperror.NotFound("application")
	ErrInvalidTransition   = apperror.BusinessRule("invalid_transition", "status transition is not allowed")
	ErrVersionConflict     = apperror.Conflict("version_conflict", "application was modified concurrently")
	ErrArchivedReadOnly    = apperror.BusinessRule("application_archived", "archived applications are read-only")
)

type CreateRequest struct {
	ApplicationNumber string
	CompanyName       string
	EmployeeFirstName string
	EmployeeLastName  string
	SubsidyStartDate  time.Time
	SubsidyEndDate    time.Time
}

// UpdateRequest patches mutable fields. Nil pointers leave fields untouched.
// Version must match the stored aggregate version.
type UpdateRequest struct {
	CompanyName       *string
	EmployeeFirstName *string
	EmployeeLastName  *string
	SubsidyStartDate  *time.Time
	SubsidyEndDate    *time.Time
	Version           int64
}

// RowInput is a proposed calculation row, attached when deciding an application.
type RowInput struct {
	StartDate   time.Time
	EndDate     time.Time
	TotalAmount decimal.Decimal
}

type DecideRequest struct {
	Outcome         Status // StatusAccepted or StatusRejected
	LogEntryComment string
	Rows            []RowInput // required when accepting
	Version         int64
}

type ListFilter struct {
	Status  *Status
	BatchID *snowflake.ID
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Application, error)
	Get(ctx context.Context, id snowflake.ID) (*Application, error)
	List(ctx context.Context, filter ListFilter) ([]Application, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (*Application, error)
	// Transition moves the application along the status state machine.
	// Submit, begin-handling, request-info, resume-handling, cancel and
	// archive all route through here; decide has its own entry point because
	// it carries the calculation rows and the log comment.
	Transition(ctx context.Context, id snowflake.ID, target Status, version int64) (*Application, error)
	Decide(ctx context.Context, id snowflake.ID, req DecideRequest) (*Application, error)
	Rows(ctx context.Context, id snowflake.ID) ([]CalculationRow, error)
}
