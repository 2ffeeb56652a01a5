package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Type is the alteration variant. Termination ends the employment for good;
// suspension pauses it until ResumeDate. ResumeDate is only meaningful, and
// required, for suspensions.
type Type string

const (
	TypeTermination Type = "termination"
	TypeSuspension  Type = "suspension"
)

type State string

const (
	StateReceived  State = "received"
	StateHandling  State = "handling"
	StateHandled   State = "handled"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateHandled || s == StateCancelled
}

type CalculationMode string

const (
	ModeAutomatic CalculationMode = "automatic"
	ModeManual    CalculationMode = "manual"
)

type Alteration struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	ApplicationID snowflake.ID `json:"application_id" gorm:"not null;index"`
	Type          Type         `json:"alteration_type" gorm:"column:alteration_type;type:text;not null"`
	State         State        `json:"state" gorm:"type:text;not null;index"`

	LastDayOfWork time.Time  `json:"last_day_of_work" gorm:"not null"`
	ResumeDate    *time.Time `json:"resume_date,omitempty"`

	RecoveryStartDate *time.Time `json:"recovery_start_date,omitempty"`
	RecoveryEndDate   *time.Time `json:"recovery_end_date,omitempty"`
	IsRecoverable     *bool      `json:"is_recoverable,omitempty"`

	CalculationMode CalculationMode  `json:"calculation_mode" gorm:"type:text;not null;default:automatic"`
	RecoveryAmount  *decimal.Decimal `json:"recovery_amount,omitempty" gorm:"type:decimal(20,6)"`
	// AutomaticAmount is the live calculator result, kept even in manual mode
	// as a plausibility reference.
	AutomaticAmount  *decimal.Decimal `json:"automatic_amount,omitempty" gorm:"type:decimal(20,6)"`
	RowsChecksum     string           `json:"-" gorm:"type:text;not null;default:''"`
	CalculationStale bool             `json:"calculation_out_of_date" gorm:"column:calculation_stale;not null;default:true"`

	Justification string `json:"justification" gorm:"type:text;not null;default:''"`

	ContactPersonName          string `json:"contact_person_name" gorm:"type:text;not null;default:''"`
	UseEInvoice                bool   `json:"use_einvoice" gorm:"not null;default:false"`
	EInvoiceAddress            string `json:"einvoice_address" gorm:"type:text;not null;default:''"`
	EInvoiceProviderName       string `json:"einvoice_provider_name" gorm:"type:text;not null;default:''"`
	EInvoiceProviderIdentifier string `json:"einvoice_provider_identifier" gorm:"type:text;not null;default:''"`

	HandledAt   *time.Time `json:"handled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Version     int64      `json:"version" gorm:"not null;default:1"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null"`
}

func (Alteration) TableName() string { return "application_alterations" }

// RecoveryWindow is the span recovery dates must stay inside: the day after
// the last day of work up to the day before resumption (suspension) or the
// subsidy period end (termination).
func (a *Alteration) RecoveryWindow(subsidyEnd time.Time) (time.Time, time.Time) {
	start := a.LastDayOfWork.AddDate(0, 0, 1)
	if a.Type == TypeSuspension && a.ResumeDate != nil {
		return start, a.ResumeDate.AddDate(0, 0, -1)
	}
	return start, subsidyEnd
}
