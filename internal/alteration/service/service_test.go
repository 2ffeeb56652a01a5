package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/alteration/domain"
	"github.com/tukilabs/benefit/internal/apperror"
	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	"github.com/tukilabs/benefit/internal/calculation"
	"github.com/tukilabs/benefit/internal/clock"
	"github.com/tukilabs/benefit/internal/config"
	"github.com/tukilabs/benefit/pkg/db"
)

type memAppRepo struct {
	apps map[snowflake.ID]*appdomain.Application
	rows map[snowflake.ID][]appdomain.CalculationRow
}

func (m *memAppRepo) Insert(ctx context.Context, tx *gorm.DB, app *appdomain.Application) error {
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *memAppRepo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*appdomain.Application, error) {
	app, ok := m.apps[id]
	if !ok {
		return nil, nil
	}
	cp := *app
	return &cp, nil
}

func (m *memAppRepo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*appdomain.Application, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *memAppRepo) List(ctx context.Context, tx *gorm.DB, filter appdomain.ListFilter) ([]appdomain.Application, error) {
	return nil, nil
}

func (m *memAppRepo) Update(ctx context.Context, tx *gorm.DB, app *appdomain.Application, previousVersion int64) error {
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *memAppRepo) InsertRows(ctx context.Context, tx *gorm.DB, rows []appdomain.CalculationRow) error {
	for _, row := range rows {
		m.rows[row.ApplicationID] = append(m.rows[row.ApplicationID], row)
	}
	return nil
}

func (m *memAppRepo) FindRows(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) ([]appdomain.CalculationRow, error) {
	return m.rows[applicationID], nil
}

func (m *memAppRepo) SetBatch(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID, batchID *snowflake.ID) error {
	return nil
}

func (m *memAppRepo) SetTalpaStatus(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID, status appdomain.TalpaStatus) error {
	return nil
}

func (m *memAppRepo) FindByBatch(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) ([]appdomain.Application, error) {
	return nil, nil
}

type memAlterationRepo struct {
	items map[snowflake.ID]*domain.Alteration
}

func (m *memAlterationRepo) Insert(ctx context.Context, tx *gorm.DB, a *domain.Alteration) error {
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAlterationRepo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Alteration, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAlterationRepo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Alteration, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *memAlterationRepo) FindByApplication(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) ([]domain.Alteration, error) {
	var out []domain.Alteration
	for _, a := range m.items {
		if a.ApplicationID == applicationID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memAlterationRepo) FindOpenByApplication(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) ([]domain.Alteration, error) {
	var out []domain.Alteration
	for _, a := range m.items {
		if a.ApplicationID == applicationID && (a.State == domain.StateReceived || a.State == domain.StateHandling) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memAlterationRepo) Update(ctx context.Context, tx *gorm.DB, a *domain.Alteration, previousVersion int64) error {
	stored, ok := m.items[a.ID]
	if !ok || stored.Version != previousVersion {
		return domain.ErrVersionConflict
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAlterationRepo) Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	delete(m.items, id)
	return nil
}

type fixture struct {
	svc     domain.Service
	app     *appdomain.Application
	appRepo *memAppRepo
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newFixture builds an accepted application whose subsidy period runs
// 1.6.–31.8.2024 with June at 3.00/day and July–August at 2.00/day.
func newFixture(t *testing.T, rdb *redis.Client) *fixture {
	t.Helper()
	handle, err := db.OpenMemory()
	require.NoError(t, err)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	appRepo := &memAppRepo{
		apps: map[snowflake.ID]*appdomain.Application{},
		rows: map[snowflake.ID][]appdomain.CalculationRow{},
	}
	app := &appdomain.Application{
		ID:                node.Generate(),
		ApplicationNumber: "125010",
		CompanyName:       "Staria Oyj",
		EmployeeFirstName: "Raven",
		EmployeeLastName:  "Rautalampi",
		Status:            appdomain.StatusAccepted,
		SubsidyStartDate:  calculation.Date(2024, 6, 1),
		SubsidyEndDate:    calculation.Date(2024, 8, 31),
		Version:           3,
	}
	require.NoError(t, appRepo.Insert(context.Background(), nil, app))
	require.NoError(t, appRepo.InsertRows(context.Background(), nil, []appdomain.CalculationRow{
		{ID: node.Generate(), ApplicationID: app.ID, Ordinal: 0, StartDate: calculation.Date(2024, 6, 1), EndDate: calculation.Date(2024, 6, 30), TotalAmount: amount("90.00")},
		{ID: node.Generate(), ApplicationID: app.ID, Ordinal: 1, StartDate: calculation.Date(2024, 7, 1), EndDate: calculation.Date(2024, 7, 31), TotalAmount: amount("62.00")},
		{ID: node.Generate(), ApplicationID: app.ID, Ordinal: 2, StartDate: calculation.Date(2024, 8, 1), EndDate: calculation.Date(2024, 8, 31), TotalAmount: amount("62.00")},
	}))

	svc := New(Params{
		DB:      handle,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.Fixed{At: time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC)},
		Cfg:     config.Config{Recovery: config.RecoveryConfig{WarningLimit: "150.00"}},
		Redis:   rdb,
		Repo:    &memAlterationRepo{items: map[snowflake.ID]*domain.Alteration{}},
		AppRepo: appRepo,
	})
	return &fixture{svc: svc, app: app, appRepo: appRepo}
}

func suspensionRequest(appID snowflake.ID) domain.CreateRequest {
	resume := calculation.Date(2024, 8, 11)
	return domain.CreateRequest{
		ApplicationID:     appID,
		Type:              domain.TypeSuspension,
		LastDayOfWork:     calculation.Date(2024, 6, 24),
		ResumeDate:        &resume,
		ContactPersonName: "Mikki Hiiri",
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	t.Run("resume date not after last day of work", func(t *testing.T) {
		req := suspensionRequest(f.app.ID)
		resume := calculation.Date(2024, 6, 24)
		req.ResumeDate = &resume
		_, err := f.svc.Create(ctx, req)
		require.Error(t, err)
		assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	})

	t.Run("last day of work outside subsidy period", func(t *testing.T) {
		req := suspensionRequest(f.app.ID)
		req.LastDayOfWork = calculation.Date(2024, 5, 20)
		_, err := f.svc.Create(ctx, req)
		require.Error(t, err)
		assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	})

	t.Run("suspension without resume date", func(t *testing.T) {
		req := suspensionRequest(f.app.ID)
		req.ResumeDate = nil
		_, err := f.svc.Create(ctx, req)
		require.Error(t, err)
	})

	t.Run("incomplete einvoice group", func(t *testing.T) {
		req := suspensionRequest(f.app.ID)
		req.UseEInvoice = true
		req.EInvoiceAddress = "003712345678"
		_, err := f.svc.Create(ctx, req)
		require.Error(t, err)
		assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	})
}

func TestCreateBlockedWhileAnotherOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, suspensionRequest(f.app.ID))
	require.NoError(t, err)

	termination := domain.CreateRequest{
		ApplicationID: f.app.ID,
		Type:          domain.TypeTermination,
		LastDayOfWork: calculation.Date(2024, 8, 20),
	}
	_, err = f.svc.Create(ctx, termination)
	require.ErrorIs(t, err, domain.ErrAlterationOpenExists)
}

func TestCreateRequiresAcceptedApplication(t *testing.T) {
	f := newFixture(t, nil)
	f.app.Status = appdomain.StatusHandling
	require.NoError(t, f.appRepo.Update(context.Background(), nil, f.app, f.app.Version))

	_, err := f.svc.Create(context.Background(), suspensionRequest(f.app.ID))
	require.ErrorIs(t, err, domain.ErrApplicationNotAccepted)
}

// TestSuspensionHandlingScenario walks the full handler flow: report a
// suspension 24.6.–11.8.2024, begin handling (range prefilled 25.6.–10.8.),
// narrow to 25.6.–22.7., recalculate to 62.00, override manually to 180.00
// (over the 150.00 limit, warned), and handle.
func TestSuspensionHandlingScenario(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newFixture(t, rdb)
	ctx := context.Background()

	alteration, err := f.svc.Create(ctx, suspensionRequest(f.app.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StateReceived, alteration.State)

	alteration, err = f.svc.BeginHandling(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StateHandling, alteration.State)
	require.NotNil(t, alteration.RecoveryStartDate)
	assert.Equal(t, calculation.Date(2024, 6, 25), *alteration.RecoveryStartDate)
	assert.Equal(t, calculation.Date(2024, 8, 10), *alteration.RecoveryEndDate)

	// handling is blocked until a calculation exists
	_, _, err = f.svc.Handle(ctx, alteration.ID, domain.HandleRequest{Justification: "x", Version: alteration.Version})
	require.Error(t, err)

	newEnd := calculation.Date(2024, 7, 22)
	result, err := f.svc.Update(ctx, alteration.ID, domain.UpdateRequest{
		RecoveryEndDate: &newEnd,
		Version:         alteration.Version,
	})
	require.NoError(t, err)
	alteration = result.Alteration
	assert.True(t, alteration.CalculationStale)

	alteration, err = f.svc.Recalculate(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	assert.False(t, alteration.CalculationStale)
	require.NotNil(t, alteration.RecoveryAmount)
	assert.Equal(t, "62.00", alteration.RecoveryAmount.StringFixed(2))

	// second recalculation over the same inputs is served from the cache
	alteration, err = f.svc.Recalculate(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	assert.Equal(t, "62.00", alteration.RecoveryAmount.StringFixed(2))

	manualMode := domain.ModeManual
	manual := amount("180.00")
	result, err = f.svc.Update(ctx, alteration.ID, domain.UpdateRequest{
		CalculationMode: &manualMode,
		ManualAmount:    &manual,
		Version:         alteration.Version,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Warnings, domain.WarningRecoveryOverLimit)
	alteration = result.Alteration

	result, err = f.svc.SetRecoverable(ctx, alteration.ID, true, alteration.Version)
	require.NoError(t, err)
	alteration = result.Alteration

	handled, artifact, err := f.svc.Handle(ctx, alteration.ID, domain.HandleRequest{
		Justification: "Employment suspended for the summer",
		Version:       alteration.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateHandled, handled.State)
	require.NotNil(t, handled.RecoveryAmount)
	assert.Equal(t, "180.00", handled.RecoveryAmount.StringFixed(2))
	require.NotNil(t, handled.HandledAt)

	lines := strings.Split(strings.TrimSpace(string(artifact)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "recovery_amount")
	assert.Contains(t, lines[1], "125010")
	assert.Contains(t, lines[1], "180.00")
}

func TestTerminationOnLastSubsidyDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alteration, err := f.svc.Create(ctx, domain.CreateRequest{
		ApplicationID: f.app.ID,
		Type:          domain.TypeTermination,
		LastDayOfWork: calculation.Date(2024, 8, 31),
	})
	require.NoError(t, err)

	// the recovery window starts the day after the subsidy period ends,
	// so there is nothing to recover
	alteration, err = f.svc.BeginHandling(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)

	alteration, err = f.svc.Recalculate(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	assert.False(t, alteration.CalculationStale)
	require.NotNil(t, alteration.RecoveryAmount)
	assert.True(t, alteration.RecoveryAmount.IsZero())

	result, err := f.svc.SetRecoverable(ctx, alteration.ID, false, alteration.Version)
	require.NoError(t, err)
	alteration = result.Alteration

	handled, _, err := f.svc.Handle(ctx, alteration.ID, domain.HandleRequest{
		Justification: "Employment ended with the subsidy period",
		Version:       alteration.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateHandled, handled.State)
}

func TestSetRecoverableRejectsZeroAmount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alteration, err := f.svc.Create(ctx, suspensionRequest(f.app.ID))
	require.NoError(t, err)
	alteration, err = f.svc.BeginHandling(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)

	// no calculation yet: effective amount is zero
	_, err = f.svc.SetRecoverable(ctx, alteration.ID, true, alteration.Version)
	require.ErrorIs(t, err, domain.ErrEmptyRecovery)

	_, err = f.svc.SetRecoverable(ctx, alteration.ID, false, alteration.Version)
	require.NoError(t, err)
}

func TestHandleRejectsStaleCalculation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alteration, err := f.svc.Create(ctx, suspensionRequest(f.app.ID))
	require.NoError(t, err)
	alteration, err = f.svc.BeginHandling(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	alteration, err = f.svc.Recalculate(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	result, err := f.svc.SetRecoverable(ctx, alteration.ID, true, alteration.Version)
	require.NoError(t, err)
	alteration = result.Alteration

	// a date edit after recalculation makes the amount stale again
	newEnd := calculation.Date(2024, 7, 31)
	result, err = f.svc.Update(ctx, alteration.ID, domain.UpdateRequest{
		RecoveryEndDate: &newEnd,
		Version:         alteration.Version,
	})
	require.NoError(t, err)
	alteration = result.Alteration

	_, _, err = f.svc.Handle(ctx, alteration.ID, domain.HandleRequest{Justification: "x", Version: alteration.Version})
	require.ErrorIs(t, err, domain.ErrCalculationOutOfDate)

	alteration, err = f.svc.Recalculate(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	_, _, err = f.svc.Handle(ctx, alteration.ID, domain.HandleRequest{Justification: "x", Version: alteration.Version})
	require.NoError(t, err)
}

func TestCancelKeepsRecordVisible(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alteration, err := f.svc.Create(ctx, suspensionRequest(f.app.ID))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, cancelled.State)
	require.NotNil(t, cancelled.CancelledAt)

	// idempotent
	again, err := f.svc.Cancel(ctx, cancelled.ID, cancelled.Version)
	require.NoError(t, err)
	assert.Equal(t, cancelled.Version, again.Version)

	listed, err := f.svc.ListByApplication(ctx, f.app.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, domain.StateCancelled, listed[0].State)
}

func TestDeleteRejectsHandled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alteration, err := f.svc.Create(ctx, suspensionRequest(f.app.ID))
	require.NoError(t, err)
	alteration, err = f.svc.BeginHandling(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	alteration, err = f.svc.Recalculate(ctx, alteration.ID, alteration.Version)
	require.NoError(t, err)
	result, err := f.svc.SetRecoverable(ctx, alteration.ID, true, alteration.Version)
	require.NoError(t, err)
	alteration = result.Alteration
	handled, _, err := f.svc.Handle(ctx, alteration.ID, domain.HandleRequest{Justification: "done", Version: alteration.Version})
	require.NoError(t, err)

	err = f.svc.Delete(ctx, handled.ID)
	require.ErrorIs(t, err, domain.ErrDeleteHandled)
}
