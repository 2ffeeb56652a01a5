package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	"github.com/tukilabs/benefit/internal/batch/domain"
	"github.com/tukilabs/benefit/internal/calculation"
	"github.com/tukilabs/benefit/internal/clock"
	"github.com/tukilabs/benefit/pkg/db"
)

type memAppRepo struct {
	apps map[snowflake.ID]*appdomain.Application
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
	return nil
}

func (m *memAppRepo) FindRows(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) ([]appdomain.CalculationRow, error) {
	return nil, nil
}

func (m *memAppRepo) SetBatch(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID, batchID *snowflake.ID) error {
	if app, ok := m.apps[applicationID]; ok {
		app.BatchID = batchID
		app.Version++
	}
	return nil
}

func (m *memAppRepo) SetTalpaStatus(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID, status appdomain.TalpaStatus) error {
	if app, ok := m.apps[applicationID]; ok {
		app.TalpaStatus = status
		app.Version++
	}
	return nil
}

func (m *memAppRepo) FindByBatch(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) ([]appdomain.Application, error) {
	var out []appdomain.Application
	for _, app := range m.apps {
		if app.BatchID != nil && *app.BatchID == batchID {
			out = append(out, *app)
		}
	}
	return out, nil
}

type memBatchRepo struct {
	batches    map[snowflake.ID]*domain.Batch
	deliveries map[uuid.UUID]*domain.TalpaDelivery
}

func (m *memBatchRepo) Insert(ctx context.Context, tx *gorm.DB, batch *domain.Batch) error {
	cp := *batch
	m.batches[batch.ID] = &cp
	return nil
}

func (m *memBatchRepo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	batch, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *batch
	return &cp, nil
}

func (m *memBatchRepo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *memBatchRepo) List(ctx context.Context, tx *gorm.DB) ([]domain.Batch, error) {
	var out []domain.Batch
	for _, batch := range m.batches {
		out = append(out, *batch)
	}
	return out, nil
}

func (m *memBatchRepo) Update(ctx context.Context, tx *gorm.DB, batch *domain.Batch, previousVersion int64) error {
	stored, ok := m.batches[batch.ID]
	if !ok || stored.Version != previousVersion {
		return domain.ErrVersionConflict
	}
	cp := *batch
	m.batches[batch.ID] = &cp
	return nil
}

func (m *memBatchRepo) InsertDelivery(ctx context.Context, tx *gorm.DB, delivery *domain.TalpaDelivery) (bool, error) {
	if _, ok := m.deliveries[delivery.ID]; ok {
		return false, nil
	}
	cp := *delivery
	m.deliveries[delivery.ID] = &cp
	return true, nil
}

func (m *memBatchRepo) FindDelivery(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.TalpaDelivery, error) {
	delivery, ok := m.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *delivery
	return &cp, nil
}

type stubAhjo struct {
	err   error
	calls int
}

func (s *stubAhjo) RegisterBatch(ctx context.Context, batch *domain.Batch, members []appdomain.Application) error {
	s.calls++
	return s.err
}

type stubTalpa struct {
	err       error
	submitted int
}

func (s *stubTalpa) SubmitPayments(ctx context.Context, batch *domain.Batch, members []appdomain.Application) error {
	if s.err != nil {
		return s.err
	}
	s.submitted += len(members)
	return nil
}

type stubReport struct{}

func (stubReport) BuildDecisionReport(batch *domain.Batch, members []appdomain.Application) ([]byte, error) {
	return []byte("%PDF-stub"), nil
}

type fixture struct {
	svc     domain.Service
	appRepo *memAppRepo
	ahjo    *stubAhjo
	talpa   *stubTalpa
	node    *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	handle, err := db.OpenMemory()
	require.NoError(t, err)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	appRepo := &memAppRepo{apps: map[snowflake.ID]*appdomain.Application{}}
	ahjo := &stubAhjo{}
	talpa := &stubTalpa{}
	svc := New(Params{
		DB:      handle,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.Fixed{At: time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)},
		Repo:    &memBatchRepo{batches: map[snowflake.ID]*domain.Batch{}, deliveries: map[uuid.UUID]*domain.TalpaDelivery{}},
		AppRepo: appRepo,
		Ahjo:    ahjo,
		Talpa:   talpa,
		Report:  stubReport{},
	})
	return &fixture{svc: svc, appRepo: appRepo, ahjo: ahjo, talpa: talpa, node: node}
}

func (f *fixture) acceptedApplication(t *testing.T, number string) *appdomain.Application {
	t.Helper()
	app := &appdomain.Application{
		ID:                f.node.Generate(),
		ApplicationNumber: number,
		CompanyName:       "Staria Oyj",
		Status:            appdomain.StatusAccepted,
		SubsidyStartDate:  calculation.Date(2024, 6, 1),
		SubsidyEndDate:    calculation.Date(2024, 8, 31),
		TalpaStatus:       appdomain.TalpaStatusNotSent,
		Version:           1,
	}
	require.NoError(t, f.appRepo.Insert(context.Background(), nil, app))
	return app
}

func metadata() domain.DecisionMetadata {
	return domain.DecisionMetadata{
		DecisionMakerName:    "Pauliina Paatos",
		DecisionMakerTitle:   "Team lead",
		SectionOfLaw:         "Laki 123/2024 § 5",
		ExpertInspectorName:  "Esko Esittelija",
		ExpertInspectorTitle: "Inspector",
		P2PCheckerName:       "Tiina Tarkastaja",
	}
}

// registeredBatch drives a batch through the whole Ahjo pipeline.
func (f *fixture) registeredBatch(t *testing.T, apps ...*appdomain.Application) *domain.Batch {
	t.Helper()
	ctx := context.Background()
	batch, err := f.svc.Create(ctx)
	require.NoError(t, err)

	ids := make([]snowflake.ID, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, app.ID)
	}
	view, err := f.svc.AddApplications(ctx, batch.ID, ids, batch.Version)
	require.NoError(t, err)

	batch, err = f.svc.MarkReadyForAhjo(ctx, batch.ID, view.Batch.Version)
	require.NoError(t, err)
	batch, report, err := f.svc.ExportAhjoReport(ctx, batch.ID, batch.Version)
	require.NoError(t, err)
	require.NotEmpty(t, report)
	batch, err = f.svc.RegisterToAhjo(ctx, batch.ID, metadata(), batch.Version)
	require.NoError(t, err)
	require.Equal(t, domain.AhjoStatusRegistered, batch.AhjoStatus)
	return batch
}

func TestAddApplicationsExclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.acceptedApplication(t, "125010")

	first, err := f.svc.Create(ctx)
	require.NoError(t, err)
	_, err = f.svc.AddApplications(ctx, first.ID, []snowflake.ID{app.ID}, first.Version)
	require.NoError(t, err)

	second, err := f.svc.Create(ctx)
	require.NoError(t, err)
	_, err = f.svc.AddApplications(ctx, second.ID, []snowflake.ID{app.ID}, second.Version)
	require.ErrorIs(t, err, domain.ErrAlreadyBatched)
}

func TestAddApplicationsRequiresAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.acceptedApplication(t, "125011")
	app.Status = appdomain.StatusHandling
	require.NoError(t, f.appRepo.Update(ctx, nil, app, app.Version))

	batch, err := f.svc.Create(ctx)
	require.NoError(t, err)
	_, err = f.svc.AddApplications(ctx, batch.ID, []snowflake.ID{app.ID}, batch.Version)
	require.ErrorIs(t, err, domain.ErrNotAccepted)
}

func TestAhjoPipelineOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.acceptedApplication(t, "125012")

	batch, err := f.svc.Create(ctx)
	require.NoError(t, err)
	view, err := f.svc.AddApplications(ctx, batch.ID, []snowflake.ID{app.ID}, batch.Version)
	require.NoError(t, err)

	// export before ready is rejected
	_, _, err = f.svc.ExportAhjoReport(ctx, batch.ID, view.Batch.Version)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// register before export is rejected
	_, err = f.svc.RegisterToAhjo(ctx, batch.ID, metadata(), view.Batch.Version)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRegisterRequiresDecisionMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.acceptedApplication(t, "125013")

	batch, err := f.svc.Create(ctx)
	require.NoError(t, err)
	view, err := f.svc.AddApplications(ctx, batch.ID, []snowflake.ID{app.ID}, batch.Version)
	require.NoError(t, err)
	batch, err = f.svc.MarkReadyForAhjo(ctx, batch.ID, view.Batch.Version)
	require.NoError(t, err)
	batch, _, err = f.svc.ExportAhjoReport(ctx, batch.ID, batch.Version)
	require.NoError(t, err)

	incomplete := metadata()
	incomplete.P2PCheckerName = ""
	_, err = f.svc.RegisterToAhjo(ctx, batch.ID, incomplete, batch.Version)
	require.Error(t, err)

	// the batch did not advance
	stored, err := f.svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AhjoStatusExported, stored.Batch.AhjoStatus)
}

func TestRegisterAbortsOnAhjoFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.acceptedApplication(t, "125014")

	batch, err := f.svc.Create(ctx)
	require.NoError(t, err)
	view, err := f.svc.AddApplications(ctx, batch.ID, []snowflake.ID{app.ID}, batch.Version)
	require.NoError(t, err)
	batch, err = f.svc.MarkReadyForAhjo(ctx, batch.ID, view.Batch.Version)
	require.NoError(t, err)
	batch, _, err = f.svc.ExportAhjoReport(ctx, batch.ID, batch.Version)
	require.NoError(t, err)

	f.ahjo.err = errors.New("ahjo down")
	_, err = f.svc.RegisterToAhjo(ctx, batch.ID, metadata(), batch.Version)
	require.Error(t, err)

	stored, err := f.svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AhjoStatusExported, stored.Batch.AhjoStatus)
}

func TestMarkToTalpaIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.acceptedApplication(t, "125015")
	batch := f.registeredBatch(t, app)

	view, err := f.svc.MarkToTalpa(ctx, batch.ID, batch.Version)
	require.NoError(t, err)
	require.Len(t, view.Applications, 1)
	assert.Equal(t, appdomain.TalpaStatusWaiting, view.Applications[0].TalpaStatus)
	assert.Equal(t, 1, f.talpa.submitted)
	assert.Equal(t, domain.DerivedStateInPayment, view.DerivedState)

	// second submission skips the already-waiting member
	view, err = f.svc.MarkToTalpa(ctx, batch.ID, view.Batch.Version)
	require.NoError(t, err)
	assert.Equal(t, 1, f.talpa.submitted)
}

func TestTalpaCallbackIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.acceptedApplication(t, "125016")
	batch := f.registeredBatch(t, app)
	_, err := f.svc.MarkToTalpa(ctx, batch.ID, batch.Version)
	require.NoError(t, err)

	delivery := uuid.New()
	callback := domain.TalpaCallback{
		DeliveryID:    delivery,
		ApplicationID: app.ID,
		Status:        appdomain.TalpaStatusRejected,
	}
	require.NoError(t, f.svc.ApplyTalpaCallback(ctx, callback))

	stored, err := f.appRepo.FindByID(ctx, nil, app.ID)
	require.NoError(t, err)
	assert.Equal(t, appdomain.TalpaStatusRejected, stored.TalpaStatus)

	// redelivery of the same delivery id is a no-op
	require.NoError(t, f.svc.ApplyTalpaCallback(ctx, callback))

	// re-applying paid twice yields the same terminal state
	paid := domain.TalpaCallback{DeliveryID: uuid.New(), ApplicationID: app.ID, Status: appdomain.TalpaStatusPaid}
	require.NoError(t, f.svc.ApplyTalpaCallback(ctx, paid))
	require.NoError(t, f.svc.ApplyTalpaCallback(ctx, domain.TalpaCallback{
		DeliveryID: uuid.New(), ApplicationID: app.ID, Status: appdomain.TalpaStatusPaid,
	}))
	stored, err = f.appRepo.FindByID(ctx, nil, app.ID)
	require.NoError(t, err)
	assert.Equal(t, appdomain.TalpaStatusPaid, stored.TalpaStatus)

	// a late rejection does not regress a paid application
	require.NoError(t, f.svc.ApplyTalpaCallback(ctx, domain.TalpaCallback{
		DeliveryID: uuid.New(), ApplicationID: app.ID, Status: appdomain.TalpaStatusRejected,
	}))
	stored, err = f.appRepo.FindByID(ctx, nil, app.ID)
	require.NoError(t, err)
	assert.Equal(t, appdomain.TalpaStatusPaid, stored.TalpaStatus)
}

func TestCorrectTalpaStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.acceptedApplication(t, "125017")
	batch := f.registeredBatch(t, app)
	_, err := f.svc.MarkToTalpa(ctx, batch.ID, batch.Version)
	require.NoError(t, err)

	// corrections require a rejected line item
	_, err = f.svc.CorrectTalpaStatus(ctx, app.ID, appdomain.TalpaStatusPaid)
	require.ErrorIs(t, err, domain.ErrInvalidTalpaStatus)

	require.NoError(t, f.svc.ApplyTalpaCallback(ctx, domain.TalpaCallback{
		DeliveryID: uuid.New(), ApplicationID: app.ID, Status: appdomain.TalpaStatusRejected,
	}))

	// retry path resets to not_sent, after which a resubmission is possible
	corrected, err := f.svc.CorrectTalpaStatus(ctx, app.ID, appdomain.TalpaStatusNotSent)
	require.NoError(t, err)
	assert.Equal(t, appdomain.TalpaStatusNotSent, corrected.TalpaStatus)

	view, err := f.svc.MarkToTalpa(ctx, batch.ID, batch.Version+1)
	require.NoError(t, err)
	assert.Equal(t, appdomain.TalpaStatusWaiting, view.Applications[0].TalpaStatus)
	assert.Equal(t, 2, f.talpa.submitted)

	// manual paid confirmation after a second rejection
	require.NoError(t, f.svc.ApplyTalpaCallback(ctx, domain.TalpaCallback{
		DeliveryID: uuid.New(), ApplicationID: app.ID, Status: appdomain.TalpaStatusRejected,
	}))
	corrected, err = f.svc.CorrectTalpaStatus(ctx, app.ID, appdomain.TalpaStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, appdomain.TalpaStatusPaid, corrected.TalpaStatus)

	batchView, err := f.svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DerivedStateCompleted, batchView.DerivedState)
}
