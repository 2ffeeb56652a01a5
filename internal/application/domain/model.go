package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusReceived      Status = "received"
	StatusHandling      Status = "handling"
	StatusInfoRequested Status = "additional_information_needed"
	StatusAccepted      Status = "accepted"
	StatusRejected      Status = "rejected"
	StatusCancelled     Status = "cancelled"
	StatusArchived      Status = "archived"
)

// TalpaStatus tracks the payment-system outcome for a single application once
// its batch has been registered to Ahjo.
type TalpaStatus string

const (
	TalpaStatusNotSent  TalpaStatus = "not_sent_to_talpa"
	TalpaStatusWaiting  TalpaStatus = "waiting"
	TalpaStatusPaid     TalpaStatus = "paid"
	TalpaStatusRejected TalpaStatus = "rejected_by_talpa"
)

type Application struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	ApplicationNumber string        `json:"application_number" gorm:"type:text;not null;uniqueIndex"`
	CompanyName       string        `json:"company_name" gorm:"type:text;not null"`
	EmployeeFirstName string        `json:"employee_first_name" gorm:"type:text;not null"`
	EmployeeLastName  string        `json:"employee_last_name" gorm:"type:text;not null"`
	Status            Status        `json:"status" gorm:"type:text;not null;index"`
	SubsidyStartDate  time.Time     `json:"subsidy_start_date" gorm:"not null"`
	SubsidyEndDate    time.Time     `json:"subsidy_end_date" gorm:"not null"`
	BatchID           *snowflake.ID `json:"batch_id,omitempty" gorm:"index"`
	TalpaStatus       TalpaStatus   `json:"talpa_status" gorm:"type:text;not null;default:not_sent_to_talpa"`
	DecidedAt         *time.Time    `json:"decided_at,omitempty"`
	ArchivedAt        *time.Time    `json:"archived_at,omitempty"`
	Version           int64         `json:"version" gorm:"not null;default:1"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null"`
}

func (Application) TableName() string { return "applications" }

// CalculationRow is one persisted row of the accepted application's benefit
// calculation. Rows are ordered, contiguous and cover exactly the subsidy period.
type CalculationRow struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	ApplicationID snowflake.ID    `json:"application_id" gorm:"not null;index"`
	Ordinal       int             `json:"ordinal" gorm:"not null"`
	StartDate     time.Time       `json:"start_date" gorm:"not null"`
	EndDate       time.Time       `json:"end_date" gorm:"not null"`
	TotalAmount   decimal.Decimal `json:"total_amount" gorm:"type:decimal(20,6);not null"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
}

func (CalculationRow) TableName() string { return "calculation_rows" }

// Terminal reports whether no further status transition is possible.
func (s Status) Terminal() bool {
	return s == StatusArchived
}

// Decided reports whether the application has been adjudicated or withdrawn.
func (s Status) Decided() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusCancelled
}
