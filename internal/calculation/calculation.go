// Package calculation holds the benefit calculation rows and the recovery
// amount calculator. Everything here is pure: no I/O, deterministic for a
// given row set and date range.
package calculation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tukilabs/benefit/internal/apperror"
)

// Row is one contiguous slice of the benefit calculation. TotalAmount is the
// benefit accrued over the row's inclusive day span; the per-day rate already
// reflects any fractional subsidy-percentage allocation baked into the row.
type Row struct {
	StartDate   time.Time
	EndDate     time.Time
	TotalAmount decimal.Decimal
}

// Date truncates to a UTC midnight. All row and recovery dates are day-granular.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysInclusive counts days in [a, b], both ends included.
func DaysInclusive(a, b time.Time) int {
	a, b = midnight(a), midnight(b)
	if b.Before(a) {
		return 0
	}
	return int(b.Sub(a).Hours()/24) + 1
}

func (r Row) Days() int {
	return DaysInclusive(r.StartDate, r.EndDate)
}

// DailyRate is TotalAmount spread evenly over the row's day span, unrounded.
func (r Row) DailyRate() decimal.Decimal {
	days := r.Days()
	if days <= 0 {
		return decimal.Zero
	}
	return r.TotalAmount.Div(decimal.NewFromInt(int64(days)))
}

// Calculate computes the amount to recover for [recoveryStart, recoveryEnd].
// Per-row contributions use the unrounded daily rate; rounding to two decimals
// (half up) happens once on the sum so row boundaries do not compound rounding
// error. A range disjoint from every row yields zero.
func Calculate(rows []Row, recoveryStart, recoveryEnd time.Time) (decimal.Decimal, error) {
	recoveryStart, recoveryEnd = midnight(recoveryStart), midnight(recoveryEnd)
	if recoveryEnd.Before(recoveryStart) {
		return decimal.Zero, apperror.Validation("recovery_end_date", "invalid_range", "recovery end date precedes start date")
	}

	sum := decimal.Zero
	for _, row := range rows {
		start := midnight(row.StartDate)
		end := midnight(row.EndDate)
		if recoveryStart.After(start) {
			start = recoveryStart
		}
		if recoveryEnd.Before(end) {
			end = recoveryEnd
		}
		if end.Before(start) {
			continue
		}
		days := decimal.NewFromInt(int64(DaysInclusive(start, end)))
		sum = sum.Add(row.DailyRate().Mul(days))
	}
	return sum.Round(2), nil
}

// ValidateRows checks the stored rows against the subsidy period: ordered,
// contiguous, non-overlapping and covering exactly [periodStart, periodEnd].
// A violation means the persisted calculation is corrupt, not user error.
func ValidateRows(rows []Row, periodStart, periodEnd time.Time) error {
	if len(rows) == 0 {
		return apperror.Integrity("calculation has no rows")
	}
	periodStart, periodEnd = midnight(periodStart), midnight(periodEnd)

	expectedStart := periodStart
	for i, row := range rows {
		start := midnight(row.StartDate)
		end := midnight(row.EndDate)
		if end.Before(start) {
			return apperror.Integrity(fmt.Sprintf("calculation row %d ends before it starts", i))
		}
		if !start.Equal(expectedStart) {
			return apperror.Integrity(fmt.Sprintf("calculation row %d does not start on %s", i, expectedStart.Format("2006-01-02")))
		}
		expectedStart = end.AddDate(0, 0, 1)
	}
	if !expectedStart.Equal(periodEnd.AddDate(0, 0, 1)) {
		return apperror.Integrity("calculation rows do not cover the subsidy period")
	}
	return nil
}

// Checksum fingerprints a row set. Used as the memoization key component and
// as the staleness marker on alterations: if the stored checksum no longer
// matches, the live amount must be recalculated.
func Checksum(rows []Row) string {
	h := sha256.New()
	for _, row := range rows {
		fmt.Fprintf(h, "%s|%s|%s\n",
			midnight(row.StartDate).Format("2006-01-02"),
			midnight(row.EndDate).Format("2006-01-02"),
			row.TotalAmount.String(),
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}
