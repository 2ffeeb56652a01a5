package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/apperror"
	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	"github.com/tukilabs/benefit/internal/batch/domain"
	"github.com/tukilabs/benefit/internal/clock"
	"github.com/tukilabs/benefit/internal/observability"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	AppRepo appdomain.Repository
	Ahjo    domain.AhjoClient
	Talpa   domain.TalpaClient
	Report  domain.ReportBuilder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	appRepo appdomain.Repository
	ahjo    domain.AhjoClient
	talpa   domain.TalpaClient
	report  domain.ReportBuilder
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("batch.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		appRepo: p.AppRepo,
		ahjo:    p.Ahjo,
		talpa:   p.Talpa,
		report:  p.Report,
	}
}

func (s *Service) Create(ctx context.Context) (*domain.Batch, error) {
	now := s.clock.Now(ctx)
	batch := &domain.Batch{
		ID:         s.genID.Generate(),
		AhjoStatus: domain.AhjoStatusDraft,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, batch); err != nil {
		return nil, err
	}
	s.log.Info("batch created", zap.String("batch_id", batch.ID.String()))
	return batch, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.BatchView, error) {
	batch, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	members, err := s.appRepo.FindByBatch(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &domain.BatchView{
		Batch:        batch,
		Applications: members,
		DerivedState: domain.Derived(batch, members),
	}, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Batch, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) AddApplications(ctx context.Context, id snowflake.ID, applicationIDs []snowflake.ID, version int64) (*domain.BatchView, error) {
	var view *domain.BatchView
	err := s.withBatch(ctx, id, version, func(tx *gorm.DB, batch *domain.Batch) error {
		if batch.AhjoStatus != domain.AhjoStatusDraft {
			return domain.ErrBatchClosed
		}
		for _, applicationID := range applicationIDs {
			app, err := s.appRepo.FindByIDForUpdate(ctx, tx, applicationID)
			if err != nil {
				return err
			}
			if app == nil {
				return appdomain.ErrApplicationNotFound
			}
			if app.Status != appdomain.StatusAccepted {
				return domain.ErrNotAccepted
			}
			if app.BatchID != nil && *app.BatchID != batch.ID {
				other, err := s.repo.FindByID(ctx, tx, *app.BatchID)
				if err != nil {
					return err
				}
				if other != nil && other.Open() {
					observability.RecordRejection("batch", "application_already_batched")
					return domain.ErrAlreadyBatched
				}
			}
			if app.BatchID != nil && *app.BatchID == batch.ID {
				continue
			}
			batchID := batch.ID
			if err := s.appRepo.SetBatch(ctx, tx, applicationID, &batchID); err != nil {
				return err
			}
		}
		members, err := s.appRepo.FindByBatch(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		view = &domain.BatchView{Batch: batch, Applications: members}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) RemoveApplication(ctx context.Context, id, applicationID snowflake.ID, version int64) (*domain.BatchView, error) {
	var view *domain.BatchView
	err := s.withBatch(ctx, id, version, func(tx *gorm.DB, batch *domain.Batch) error {
		if batch.AhjoStatus != domain.AhjoStatusDraft {
			return domain.ErrBatchClosed
		}
		app, err := s.appRepo.FindByIDForUpdate(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if app == nil || app.BatchID == nil || *app.BatchID != batch.ID {
			return appdomain.ErrApplicationNotFound
		}
		if err := s.appRepo.SetBatch(ctx, tx, applicationID, nil); err != nil {
			return err
		}
		members, err := s.appRepo.FindByBatch(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		view = &domain.BatchView{Batch: batch, Applications: members}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) MarkReadyForAhjo(ctx context.Context, id snowflake.ID, version int64) (*domain.Batch, error) {
	var updated *domain.Batch
	err := s.withBatch(ctx, id, version, func(tx *gorm.DB, batch *domain.Batch) error {
		if batch.AhjoStatus != domain.AhjoStatusDraft {
			return domain.ErrInvalidTransition
		}
		members, err := s.appRepo.FindByBatch(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return apperror.Validation("applications", "empty_batch", "a batch needs at least one application")
		}
		for _, member := range members {
			if member.Status != appdomain.StatusAccepted {
				return domain.ErrNotAccepted
			}
		}
		s.advance(batch, domain.AhjoStatusReady)
		updated = batch
		return nil
	})
	return updated, err
}

func (s *Service) ExportAhjoReport(ctx context.Context, id snowflake.ID, version int64) (*domain.Batch, []byte, error) {
	var (
		updated  *domain.Batch
		artifact []byte
	)
	err := s.withBatch(ctx, id, version, func(tx *gorm.DB, batch *domain.Batch) error {
		if batch.AhjoStatus != domain.AhjoStatusReady {
			return domain.ErrInvalidTransition
		}
		members, err := s.appRepo.FindByBatch(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		artifact, err = s.report.BuildDecisionReport(batch, members)
		if err != nil {
			return err
		}
		now := s.clock.Now(ctx)
		batch.ExportedAt = &now
		s.advance(batch, domain.AhjoStatusExported)
		updated = batch
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, artifact, nil
}

func (s *Service) RegisterToAhjo(ctx context.Context, id snowflake.ID, metadata domain.DecisionMetadata, version int64) (*domain.Batch, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	var updated *domain.Batch
	err := s.withBatch(ctx, id, version, func(tx *gorm.DB, batch *domain.Batch) error {
		if batch.AhjoStatus != domain.AhjoStatusExported {
			return domain.ErrInvalidTransition
		}
		members, err := s.appRepo.FindByBatch(ctx, tx, batch.ID)
		if err != nil {
			return err
		}

		batch.DecisionMakerName = strings.TrimSpace(metadata.DecisionMakerName)
		batch.DecisionMakerTitle = strings.TrimSpace(metadata.DecisionMakerTitle)
		batch.SectionOfLaw = strings.TrimSpace(metadata.SectionOfLaw)
		batch.ExpertInspectorName = strings.TrimSpace(metadata.ExpertInspectorName)
		batch.ExpertInspectorTitle = strings.TrimSpace(metadata.ExpertInspectorTitle)
		batch.P2PCheckerName = strings.TrimSpace(metadata.P2PCheckerName)

		// The external call happens first: if Ahjo rejects the batch, the
		// transaction rolls back and the batch keeps its previous status.
		if err := s.ahjo.RegisterBatch(ctx, batch, members); err != nil {
			observability.RecordExternalCall("ahjo", err)
			return err
		}
		observability.RecordExternalCall("ahjo", nil)

		for _, member := range members {
			if err := s.appRepo.SetTalpaStatus(ctx, tx, member.ID, appdomain.TalpaStatusNotSent); err != nil {
				return err
			}
		}

		now := s.clock.Now(ctx)
		batch.RegisteredAt = &now
		s.advance(batch, domain.AhjoStatusRegistered)
		s.log.Info("batch registered to ahjo",
			zap.String("batch_id", batch.ID.String()),
			zap.Int("applications", len(members)))
		updated = batch
		return nil
	})
	return updated, err
}

func (s *Service) MarkToTalpa(ctx context.Context, id snowflake.ID, version int64) (*domain.BatchView, error) {
	var view *domain.BatchView
	err := s.withBatch(ctx, id, version, func(tx *gorm.DB, batch *domain.Batch) error {
		if batch.AhjoStatus != domain.AhjoStatusRegistered {
			return domain.ErrNotRegistered
		}
		members, err := s.appRepo.FindByBatch(ctx, tx, batch.ID)
		if err != nil {
			return err
		}

		pending := make([]appdomain.Application, 0, len(members))
		for _, member := range members {
			if member.TalpaStatus == appdomain.TalpaStatusNotSent {
				pending = append(pending, member)
			}
		}

		if len(pending) > 0 {
			if err := s.talpa.SubmitPayments(ctx, batch, pending); err != nil {
				observability.RecordExternalCall("talpa", err)
				return err
			}
			observability.RecordExternalCall("talpa", nil)
			for _, member := range pending {
				if err := s.appRepo.SetTalpaStatus(ctx, tx, member.ID, appdomain.TalpaStatusWaiting); err != nil {
					return err
				}
			}
			s.log.Info("batch submitted to talpa",
				zap.String("batch_id", batch.ID.String()),
				zap.Int("submitted", len(pending)))
		}

		refreshed, err := s.appRepo.FindByBatch(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		view = &domain.BatchView{Batch: batch, Applications: refreshed, DerivedState: domain.Derived(batch, refreshed)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) ApplyTalpaCallback(ctx context.Context, callback domain.TalpaCallback) error {
	if callback.Status != appdomain.TalpaStatusPaid && callback.Status != appdomain.TalpaStatusRejected {
		return apperror.Validation("status", "invalid_status", "callback status must be paid or rejected_by_talpa")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertDelivery(ctx, tx, &domain.TalpaDelivery{
			ID:            callback.DeliveryID,
			ApplicationID: callback.ApplicationID,
			Status:        callback.Status,
			ReceivedAt:    s.clock.Now(ctx),
		})
		if err != nil {
			return err
		}
		if !inserted {
			// Redelivery of an already processed callback.
			return nil
		}

		app, err := s.appRepo.FindByIDForUpdate(ctx, tx, callback.ApplicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return appdomain.ErrApplicationNotFound
		}
		if app.TalpaStatus == callback.Status {
			return nil
		}
		// paid is terminal: a late rejection callback after an out-of-band
		// paid confirmation must not regress the status.
		if app.TalpaStatus == appdomain.TalpaStatusPaid {
			return nil
		}

		observability.RecordTransition("talpa", string(app.TalpaStatus), string(callback.Status))
		return s.appRepo.SetTalpaStatus(ctx, tx, app.ID, callback.Status)
	})
}

func (s *Service) CorrectTalpaStatus(ctx context.Context, applicationID snowflake.ID, target appdomain.TalpaStatus) (*appdomain.Application, error) {
	var updated *appdomain.Application
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := s.appRepo.FindByIDForUpdate(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return appdomain.ErrApplicationNotFound
		}
		if app.TalpaStatus == target {
			updated = app
			return nil
		}
		// Manual corrections exist only for rejected line items.
		if app.TalpaStatus != appdomain.TalpaStatusRejected {
			observability.RecordRejection("talpa", "invalid_talpa_transition")
			return domain.ErrInvalidTalpaStatus
		}
		if target != appdomain.TalpaStatusNotSent && target != appdomain.TalpaStatusPaid {
			return domain.ErrInvalidTalpaStatus
		}
		if err := s.appRepo.SetTalpaStatus(ctx, tx, app.ID, target); err != nil {
			return err
		}
		observability.RecordTransition("talpa", string(appdomain.TalpaStatusRejected), string(target))
		s.log.Info("talpa status corrected",
			zap.String("application_id", app.ID.String()),
			zap.String("target", string(target)))
		app.TalpaStatus = target
		updated = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) withBatch(
	ctx context.Context,
	id snowflake.ID,
	version int64,
	fn func(tx *gorm.DB, batch *domain.Batch) error,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}
		if batch.Version != version {
			return domain.ErrVersionConflict
		}

		from := batch.AhjoStatus
		if err := fn(tx, batch); err != nil {
			return err
		}

		previous := batch.Version
		batch.Version++
		batch.UpdatedAt = s.clock.Now(ctx)
		if err := s.repo.Update(ctx, tx, batch, previous); err != nil {
			return err
		}
		if batch.AhjoStatus != from {
			observability.RecordTransition("batch", string(from), string(batch.AhjoStatus))
		}
		return nil
	})
}

func (s *Service) advance(batch *domain.Batch, target domain.AhjoStatus) {
	s.log.Info("batch status changed",
		zap.String("batch_id", batch.ID.String()),
		zap.String("from", string(batch.AhjoStatus)),
		zap.String("to", string(target)))
	batch.AhjoStatus = target
}
