package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tukilabs/benefit/internal/audit/domain"
	"github.com/tukilabs/benefit/internal/clock"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry domain.Entry) {
	log := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorName:  entry.ActorName,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		CreatedAt:  s.clock.Now(ctx),
	}
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			s.log.Warn("audit metadata not serializable", zap.Error(err))
		} else {
			log.Metadata = raw
		}
	}
	if err := s.repo.Insert(ctx, s.db, log); err != nil {
		s.log.Error("audit record failed",
			zap.String("action", entry.Action),
			zap.String("target_id", entry.TargetID.String()),
			zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) ExportCSV(ctx context.Context, filter domain.ListFilter) ([]byte, error) {
	logs, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "actor_name", "action", "target_type", "target_id", "metadata"}); err != nil {
		return nil, err
	}
	for _, log := range logs {
		row := []string{
			log.CreatedAt.Format(time.RFC3339),
			log.ActorName,
			log.Action,
			log.TargetType,
			log.TargetID.String(),
			string(log.Metadata),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
