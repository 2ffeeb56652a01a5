package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog is one recorded handler action. Metadata carries
// action-specific detail such as a decision comment or a corrected
// Talpa status.
type AuditLog struct {
	ID         snowflake.ID   `gorm:"column:id;primaryKey" json:"id"`
	ActorName  string         `gorm:"column:actor_name" json:"actor_name"`
	Action     string         `gorm:"column:action" json:"action"`
	TargetType string         `gorm:"column:target_type" json:"target_type"`
	TargetID   snowflake.ID   `gorm:"column:target_id" json:"target_id"`
	Metadata   datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
