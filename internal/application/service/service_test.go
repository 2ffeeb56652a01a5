package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/apperror"
	"github.com/tukilabs/benefit/internal/application/domain"
	"github.com/tukilabs/benefit/internal/calculation"
	"github.com/tukilabs/benefit/internal/clock"
	"github.com/tukilabs/benefit/pkg/db"
)

// memRepo keeps applications in memory. Transactions degrade to direct calls,
// which is fine for single-writer tests.
type memRepo struct {
	apps map[snowflake.ID]*domain.Application
	rows map[snowflake.ID][]domain.CalculationRow
}

func newMemRepo() *memRepo {
	return &memRepo{
		apps: map[snowflake.ID]*domain.Application{},
		rows: map[snowflake.ID][]domain.CalculationRow{},
	}
}

func (m *memRepo) Insert(ctx context.Context, tx *gorm.DB, app *domain.Application) error {
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *memRepo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Application, error) {
	app, ok := m.apps[id]
	if !ok {
		return nil, nil
	}
	cp := *app
	return &cp, nil
}

func (m *memRepo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Application, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *memRepo) List(ctx context.Context, tx *gorm.DB, filter domain.ListFilter) ([]domain.Application, error) {
	var out []domain.Application
	for _, app := range m.apps {
		if filter.Status != nil && app.Status != *filter.Status {
			continue
		}
		out = append(out, *app)
	}
	return out, nil
}

func (m *memRepo) Update(ctx context.Context, tx *gorm.DB, app *domain.Application, previousVersion int64) error {
	stored, ok := m.apps[app.ID]
	if !ok || stored.Version != previousVersion {
		return domain.ErrVersionConflict
	}
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *memRepo) InsertRows(ctx context.Context, tx *gorm.DB, rows []domain.CalculationRow) error {
	for _, row := range rows {
		m.rows[row.ApplicationID] = append(m.rows[row.ApplicationID], row)
	}
	return nil
}

func (m *memRepo) FindRows(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) ([]domain.CalculationRow, error) {
	return m.rows[applicationID], nil
}

func (m *memRepo) SetBatch(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID, batchID *snowflake.ID) error {
	if app, ok := m.apps[applicationID]; ok {
		app.BatchID = batchID
		app.Version++
	}
	return nil
}

func (m *memRepo) SetTalpaStatus(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID, status domain.TalpaStatus) error {
	if app, ok := m.apps[applicationID]; ok {
		app.TalpaStatus = status
		app.Version++
	}
	return nil
}

func (m *memRepo) FindByBatch(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) ([]domain.Application, error) {
	var out []domain.Application
	for _, app := range m.apps {
		if app.BatchID != nil && *app.BatchID == batchID {
			out = append(out, *app)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, repo domain.Repository) domain.Service {
	t.Helper()
	handle, err := db.OpenMemory()
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{
		DB:    handle,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.Fixed{At: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		Repo:  repo,
	})
}

func createHandled(t *testing.T, svc domain.Service) *domain.Application {
	t.Helper()
	ctx := context.Background()
	app, err := svc.Create(ctx, domain.CreateRequest{
		ApplicationNumber: "125010",
		CompanyName:       "Staria Oyj",
		EmployeeFirstName: "Raven",
		EmployeeLastName:  "Rautalampi",
		SubsidyStartDate:  calculation.Date(2024, 6, 1),
		SubsidyEndDate:    calculation.Date(2024, 8, 31),
	})
	require.NoError(t, err)
	app, err = svc.Transition(ctx, app.ID, domain.StatusReceived, app.Version)
	require.NoError(t, err)
	app, err = svc.Transition(ctx, app.ID, domain.StatusHandling, app.Version)
	require.NoError(t, err)
	return app
}

func TestCreateRequiresMandatoryFields(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	_, err := svc.Create(context.Background(), domain.CreateRequest{})
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestTransitionTable(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	ctx := context.Background()
	app := createHandled(t, svc)

	// handling -> additional_information_needed and back
	app, err := svc.Transition(ctx, app.ID, domain.StatusInfoRequested, app.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInfoRequested, app.Status)
	app, err = svc.Transition(ctx, app.ID, domain.StatusHandling, app.Version)
	require.NoError(t, err)

	// handling -> received is not an edge
	_, err = svc.Transition(ctx, app.ID, domain.StatusReceived, app.Version)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// same-status transition is a no-op
	again, err := svc.Transition(ctx, app.ID, domain.StatusHandling, app.Version)
	require.NoError(t, err)
	assert.Equal(t, app.Version, again.Version)
}

func TestTransitionVersionConflict(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	app := createHandled(t, svc)
	_, err := svc.Transition(context.Background(), app.ID, domain.StatusInfoRequested, app.Version-1)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestDecideAcceptedRequiresCoveringRows(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	ctx := context.Background()
	app := createHandled(t, svc)

	_, err := svc.Decide(ctx, app.ID, domain.DecideRequest{
		Outcome:         domain.StatusAccepted,
		LogEntryComment: "granted",
		Rows: []domain.RowInput{
			{StartDate: calculation.Date(2024, 6, 1), EndDate: calculation.Date(2024, 6, 30), TotalAmount: decimal.RequireFromString("90.00")},
		},
		Version: app.Version,
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	app, err = svc.Decide(ctx, app.ID, domain.DecideRequest{
		Outcome:         domain.StatusAccepted,
		LogEntryComment: "granted",
		Rows: []domain.RowInput{
			{StartDate: calculation.Date(2024, 6, 1), EndDate: calculation.Date(2024, 6, 30), TotalAmount: decimal.RequireFromString("90.00")},
			{StartDate: calculation.Date(2024, 7, 1), EndDate: calculation.Date(2024, 8, 31), TotalAmount: decimal.RequireFromString("124.00")},
		},
		Version: app.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, app.Status)
	require.NotNil(t, app.DecidedAt)

	rows, err := svc.Rows(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestDecideRequiresComment(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	app := createHandled(t, svc)
	_, err := svc.Decide(context.Background(), app.ID, domain.DecideRequest{
		Outcome: domain.StatusRejected,
		Version: app.Version,
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestCancelIsDistinctFromRejected(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	ctx := context.Background()
	app := createHandled(t, svc)

	app, err := svc.Transition(ctx, app.ID, domain.StatusCancelled, app.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, app.Status)
	assert.Nil(t, app.DecidedAt)

	// cancelled -> archived is allowed, archived is read-only
	app, err = svc.Transition(ctx, app.ID, domain.StatusArchived, app.Version)
	require.NoError(t, err)
	name := "New Name Oy"
	_, err = svc.Update(ctx, app.ID, domain.UpdateRequest{CompanyName: &name, Version: app.Version})
	require.ErrorIs(t, err, domain.ErrArchivedReadOnly)
}

func TestDecidedApplicationCanBeCancelled(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	ctx := context.Background()
	app := createHandled(t, svc)

	app, err := svc.Decide(ctx, app.ID, domain.DecideRequest{
		Outcome:         domain.StatusAccepted,
		LogEntryComment: "granted",
		Rows: []domain.RowInput{
			{StartDate: calculation.Date(2024, 6, 1), EndDate: calculation.Date(2024, 8, 31), TotalAmount: decimal.RequireFromString("214.00")},
		},
		Version: app.Version,
	})
	require.NoError(t, err)
	require.NotNil(t, app.DecidedAt)

	// administrative withdrawal after a decision drops the decision timestamp
	app, err = svc.Transition(ctx, app.ID, domain.StatusCancelled, app.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, app.Status)
	assert.Nil(t, app.DecidedAt)

	app, err = svc.Transition(ctx, app.ID, domain.StatusArchived, app.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, app.Status)
}

func TestSubsidyPeriodImmutableAfterAcceptance(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	ctx := context.Background()
	app := createHandled(t, svc)
	app, err := svc.Decide(ctx, app.ID, domain.DecideRequest{
		Outcome:         domain.StatusAccepted,
		LogEntryComment: "granted",
		Rows: []domain.RowInput{
			{StartDate: calculation.Date(2024, 6, 1), EndDate: calculation.Date(2024, 8, 31), TotalAmount: decimal.RequireFromString("214.00")},
		},
		Version: app.Version,
	})
	require.NoError(t, err)

	newEnd := calculation.Date(2024, 9, 30)
	_, err = svc.Update(ctx, app.ID, domain.UpdateRequest{SubsidyEndDate: &newEnd, Version: app.Version})
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}
