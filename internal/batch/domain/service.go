package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/tukilabs/benefit/internal/apperror"
	appdomain "github.com/tukilabs/benefit/internal/application/domain"
)

var (
	ErrBatchNotFound      = apperror.NotFound("batch")
	ErrInvalidTransition  = apperror.BusinessRule("invalid_batch_transition", "batch status transition is not allowed")
	ErrVersionConflict    = apperror.Conflict("version_conflict", "batch was modified concurrently")
	ErrAlreadyBatched     = apperror.Conflict("application_already_batched", "application already belongs to an open batch")
	ErrNotAccepted        = apperror.BusinessRule("application_not_accepted", "only accepted applications can be batched")
	ErrBatchClosed        = apperror.BusinessRule("batch_closed", "a registered batch cannot be modified")
	ErrInvalidTalpaStatus = apperror.BusinessRule("invalid_talpa_transition", "talpa status transition is not allowed")
	ErrNotRegistered      = apperror.BusinessRule("batch_not_registered", "the batch has not been registered to Ahjo")
)

// AhjoClient registers a decided batch into the case-management system.
// Implemented by internal/ahjo.
type AhjoClient interface {
	RegisterBatch(ctx context.Context, batch *Batch, members []appdomain.Application) error
}

// TalpaClient submits registered applications for payment.
// Implemented by internal/talpa.
type TalpaClient interface {
	SubmitPayments(ctx context.Context, batch *Batch, members []appdomain.Application) error
}

// ReportBuilder renders the decision-report artifact exported ahead of Ahjo
// registration. Implemented by internal/ahjo.
type ReportBuilder interface {
	BuildDecisionReport(batch *Batch, members []appdomain.Application) ([]byte, error)
}

type BatchView struct {
	Batch        *Batch                  `json:"batch"`
	Applications []appdomain.Application `json:"applications"`
	DerivedState DerivedState            `json:"derived_state,omitempty"`
}

// TalpaCallback is one payment-outcome notification from Talpa. DeliveryID
// deduplicates redeliveries.
type TalpaCallback struct {
	DeliveryID    uuid.UUID
	ApplicationID snowflake.ID
	Status        appdomain.TalpaStatus
}

type Service interface {
	Create(ctx context.Context) (*Batch, error)
	Get(ctx context.Context, id snowflake.ID) (*BatchView, error)
	List(ctx context.Context) ([]Batch, error)
	AddApplications(ctx context.Context, id snowflake.ID, applicationIDs []snowflake.ID, version int64) (*BatchView, error)
	RemoveApplication(ctx context.Context, id, applicationID snowflake.ID, version int64) (*BatchView, error)
	MarkReadyForAhjo(ctx context.Context, id snowflake.ID, version int64) (*Batch, error)
	// ExportAhjoReport advances ready_for_ahjo to exported_ahjo_report and
	// returns the report artifact.
	ExportAhjoReport(ctx context.Context, id snowflake.ID, version int64) (*Batch, []byte, error)
	RegisterToAhjo(ctx context.Context, id snowflake.ID, metadata DecisionMetadata, version int64) (*Batch, error)
	// MarkToTalpa submits every not-yet-sent member for payment. Members
	// already waiting are skipped; calling twice is a no-op, not an error.
	MarkToTalpa(ctx context.Context, id snowflake.ID, version int64) (*BatchView, error)
	// ApplyTalpaCallback applies a payment outcome idempotently.
	ApplyTalpaCallback(ctx context.Context, callback TalpaCallback) error
	// CorrectTalpaStatus applies a handler correction from rejected_by_talpa
	// to not_sent_to_talpa (retry) or paid (out-of-band confirmation).
	CorrectTalpaStatus(ctx context.Context, applicationID snowflake.ID, target appdomain.TalpaStatus) (*appdomain.Application, error)
}

// Validate reports which required decision fields are missing.
func (m DecisionMetadata) Validate() error {
	var fields []apperror.FieldError
	require := func(field, value string) {
		if value == "" {
			fields = append(fields, apperror.FieldError{Field: field, Code: "required", Message: field + " is required before Ahjo registration"})
		}
	}
	require("decision_maker_name", m.DecisionMakerName)
	require("decision_maker_title", m.DecisionMakerTitle)
	require("section_of_law", m.SectionOfLaw)
	require("expert_inspector_name", m.ExpertInspectorName)
	require("expert_inspector_title", m.ExpertInspectorTitle)
	require("p2p_checker_name", m.P2PCheckerName)
	if len(fields) > 0 {
		return apperror.ValidationFields(fields...)
	}
	return nil
}
