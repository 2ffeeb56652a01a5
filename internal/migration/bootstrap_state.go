package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const bootstrapStatusActive = "active"

// activateSystemBootstrapState records the applied schema version and the
// migration pack checksum in system_bootstrap_state. The row is a singleton;
// re-running migrate upserts it, so serve can later verify the store it talks
// to was migrated by a matching binary.
func activateSystemBootstrapState(ctx context.Context, db *sql.DB, schemaVersion string, checksum string) error {
	if db == nil {
		return errors.New("bootstrap state requires database handle")
	}

	version := strings.TrimSpace(schemaVersion)
	if version == "" {
		return errors.New("schema version is required for bootstrap state activation")
	}

	var storedChecksum any
	if trimmed := strings.TrimSpace(checksum); trimmed != "" {
		storedChecksum = trimmed
	}

	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO system_bootstrap_state (id, status, schema_version, checksum, activated_at, created_at)
		VALUES (TRUE, $1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    schema_version = EXCLUDED.schema_version,
		    checksum = EXCLUDED.checksum,
		    activated_at = EXCLUDED.activated_at
	`, bootstrapStatusActive, version, storedChecksum, now)
	if err != nil {
		return fmt.Errorf("activate system bootstrap state: %w", err)
	}

	return nil
}
