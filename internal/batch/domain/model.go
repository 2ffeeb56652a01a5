package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	appdomain "github.com/tukilabs/benefit/internal/application/domain"
)

type AhjoStatus string

const (
	AhjoStatusDraft      AhjoStatus = "draft"
	AhjoStatusReady      AhjoStatus = "ready_for_ahjo"
	AhjoStatusExported   AhjoStatus = "exported_ahjo_report"
	AhjoStatusRegistered AhjoStatus = "registered_to_ahjo"
)

// DerivedState is the read-model batch state reported to handlers once the
// persisted ahjo status has reached its final value.
type DerivedState string

const (
	DerivedStateInPayment DerivedState = "in_payment"
	DerivedStateCompleted DerivedState = "completed"
)

type Batch struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	AhjoStatus AhjoStatus   `json:"ahjo_status" gorm:"type:text;not null;index"`

	DecisionMakerName    string `json:"decision_maker_name" gorm:"type:text;not null;default:''"`
	DecisionMakerTitle   string `json:"decision_maker_title" gorm:"type:text;not null;default:''"`
	SectionOfLaw         string `json:"section_of_law" gorm:"type:text;not null;default:''"`
	ExpertInspectorName  string `json:"expert_inspector_name" gorm:"type:text;not null;default:''"`
	ExpertInspectorTitle string `json:"expert_inspector_title" gorm:"type:text;not null;default:''"`
	P2PCheckerName       string `json:"p2p_checker_name" gorm:"type:text;not null;default:''"`

	RegisteredAt *time.Time `json:"registered_at,omitempty"`
	ExportedAt   *time.Time `json:"exported_at,omitempty"`
	Version      int64      `json:"version" gorm:"not null;default:1"`
	CreatedAt    time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"not null"`
}

func (Batch) TableName() string { return "batches" }

// Open reports whether the batch still accepts membership changes; once
// registered, its composition is fixed and member payment tracking begins.
func (b *Batch) Open() bool {
	return b.AhjoStatus != AhjoStatusRegistered
}

// TalpaDelivery records one processed Talpa callback. The delivery id doubles
// as the idempotency key: a redelivered callback is acknowledged, not reapplied.
type TalpaDelivery struct {
	ID            uuid.UUID             `json:"id" gorm:"type:uuid;primaryKey"`
	ApplicationID snowflake.ID          `json:"application_id" gorm:"not null;index"`
	Status        appdomain.TalpaStatus `json:"status" gorm:"type:text;not null"`
	ReceivedAt    time.Time             `json:"received_at" gorm:"not null"`
}

func (TalpaDelivery) TableName() string { return "talpa_deliveries" }

// DecisionMetadata is the decision-maker block required before registration.
type DecisionMetadata struct {
	DecisionMakerName    string
	DecisionMakerTitle   string
	SectionOfLaw         string
	ExpertInspectorName  string
	ExpertInspectorTitle string
	P2PCheckerName       string
}

// Derived computes the read-model state from a registered batch's members.
// Returns "" while the persisted ahjo status is authoritative.
func Derived(batch *Batch, members []appdomain.Application) DerivedState {
	if batch.AhjoStatus != AhjoStatusRegistered || len(members) == 0 {
		return ""
	}
	completed := true
	for _, member := range members {
		if member.TalpaStatus != appdomain.TalpaStatusPaid {
			completed = false
			break
		}
	}
	if completed {
		return DerivedStateCompleted
	}
	for _, member := range members {
		if member.TalpaStatus == appdomain.TalpaStatusWaiting {
			return DerivedStateInPayment
		}
	}
	return ""
}
