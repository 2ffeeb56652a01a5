package service

import (
	"bytes"
	"encoding/csv"
	"time"

	"github.com/tukilabs/benefit/internal/alteration/domain"
	appdomain "github.com/tukilabs/benefit/internal/application/domain"
)

// buildArtifactCSV renders the records-system artifact produced when an
// alteration is handled.
func buildArtifactCSV(app *appdomain.Application, alteration *domain.Alteration) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"application_number",
		"company_name",
		"employee_name",
		"alteration_type",
		"last_day_of_work",
		"recovery_start_date",
		"recovery_end_date",
		"is_recoverable",
		"recovery_amount",
		"handled_at",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	row := []string{
		app.ApplicationNumber,
		app.CompanyName,
		app.EmployeeFirstName + " " + app.EmployeeLastName,
		string(alteration.Type),
		formatDate(&alteration.LastDayOfWork),
		formatDate(alteration.RecoveryStartDate),
		formatDate(alteration.RecoveryEndDate),
		formatBool(alteration.IsRecoverable),
		formatAmount(alteration),
		formatTimestamp(alteration.HandledAt),
	}
	if err := w.Write(row); err != nil {
		return nil, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatBool(b *bool) string {
	if b == nil {
		return ""
	}
	if *b {
		return "true"
	}
	return "false"
}

func formatAmount(alteration *domain.Alteration) string {
	if alteration.RecoveryAmount == nil {
		return "0.00"
	}
	return alteration.RecoveryAmount.StringFixed(2)
}
