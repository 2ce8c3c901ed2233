package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	"github.com/smallbiznis/congregate/internal/clock"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
	"github.com/smallbiznis/congregate/pkg/db/txn"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: c,
	}
}

// AuditLog writes entry on the transaction carried by ctx, if any.
func (s *Service) AuditLog(ctx context.Context, entry auditdomain.Entry) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return orgerr.ErrInvalidOrganization
	}

	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType := auditdomain.ActorTypeSystem
	var actorID *snowflake.ID
	if id, ok := orgcontext.ActorIDFromContext(ctx); ok {
		actorType = auditdomain.ActorTypeMember
		actorID = &id
	}

	payload := map[string]any{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		ActorType:  string(actorType),
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if entry.TargetID != 0 {
		targetID := entry.TargetID
		row.TargetID = &targetID
	}

	err := txn.Scoped(ctx, s.db, func(ctx context.Context, db *gorm.DB) error {
		return s.repo.Insert(ctx, db, &row)
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return auditdomain.ListAuditLogResponse{}, orgerr.ErrInvalidOrganization
	}

	filter := auditdomain.ListFilter{
		OrgID:      orgID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
	}
	page := req.Pagination.Normalize()

	var (
		total int64
		items []*auditdomain.AuditLog
	)
	err := txn.Scoped(ctx, s.db, func(ctx context.Context, db *gorm.DB) error {
		var err error
		if total, err = s.repo.Count(ctx, db, filter); err != nil {
			return err
		}
		items, err = s.repo.List(ctx, db, filter, page)
		return err
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	return auditdomain.ListAuditLogResponse{
		PageInfo:  pagination.BuildPageInfo(page, total),
		AuditLogs: logs,
	}, nil
}

