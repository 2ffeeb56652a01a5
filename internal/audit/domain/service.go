package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Entry is one action to record. Metadata may be nil.
type Entry struct {
	ActorName  string
	Action     string
	TargetType string
	TargetID   snowflake.ID
	Metadata   map[string]any
}

type ListFilter struct {
	TargetType string
	TargetID   snowflake.ID
}

type Service interface {
	// Record persists one entry. Recording failures are logged and
	// swallowed so an audit hiccup never fails the underlying action.
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, filter ListFilter) ([]AuditLog, error)
	// ExportCSV renders the filtered trail as a CSV artifact.
	ExportCSV(ctx context.Context, filter ListFilter) ([]byte, error)
}
