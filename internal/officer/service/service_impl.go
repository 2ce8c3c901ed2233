package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	"github.com/smallbiznis/congregate/internal/clock"
	"github.com/smallbiznis/congregate/internal/observability/metrics"
	"github.com/smallbiznis/congregate/internal/observability/tracing"
	"github.com/smallbiznis/congregate/internal/officer/domain"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	dbutil "github.com/smallbiznis/congregate/pkg/db"
	"github.com/smallbiznis/congregate/pkg/db/txn"
	"github.com/smallbiznis/congregate/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNameLength = 120

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Clock     clock.Clock
	Audit     auditdomain.Service `optional:"true"`
	Metrics   *metrics.Metrics    `optional:"true"`
	Telemetry *telemetry.Metrics  `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	clock     clock.Clock
	audit     auditdomain.Service
	metrics   *metrics.Metrics
	telemetry *telemetry.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("officer.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		clock:     p.Clock,
		audit:     p.Audit,
		metrics:   p.Metrics,
		telemetry: p.Telemetry,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOfficerRequest) (officer domain.Officer, err error) {
	ctx, done := tracing.Track(ctx, "officer.Create", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Officer{}, orgerr.ErrInvalidOrganization
	}
	name, err := normalizeName(req.Name)
	if err != nil {
		return domain.Officer{}, err
	}

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		exists, err := s.repo.NameExists(ctx, tx, orgID, name, 0)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateName
		}

		now := s.clock.Now().UTC()
		officer = domain.Officer{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			Name:      name,
			SortOrder: req.Order,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.Insert(ctx, tx, &officer); err != nil {
			if dbutil.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateName.Wrap(err)
			}
			return err
		}
		return s.auditLog(ctx, auditdomain.ActionOfficerCreated, officer.ID, map[string]any{"name": name})
	})
	if err != nil {
		s.log.Warn("officer create rejected", zap.String("name", name), zap.Error(err))
		return domain.Officer{}, err
	}

	s.log.Info("officer created", zap.String("org_id", orgID.String()), zap.String("officer_id", officer.ID.String()))
	return officer, nil
}

func (s *Service) Rename(ctx context.Context, id snowflake.ID, newName string) (officer domain.Officer, err error) {
	ctx, done := tracing.Track(ctx, "officer.Rename", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Officer{}, orgerr.ErrInvalidOrganization
	}
	name, err := normalizeName(newName)
	if err != nil {
		return domain.Officer{}, err
	}

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		officer = *current
		if current.Name == name {
			return nil
		}

		exists, err := s.repo.NameExists(ctx, tx, orgID, name, id)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateName
		}

		now := s.clock.Now().UTC()
		if err := s.repo.UpdateName(ctx, tx, orgID, id, name, now); err != nil {
			return err
		}
		previous := officer.Name
		officer.Name = name
		officer.UpdatedAt = now
		return s.auditLog(ctx, auditdomain.ActionOfficerRenamed, id, map[string]any{"from": previous, "to": name})
	})
	if err != nil {
		return domain.Officer{}, err
	}
	return officer, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) (err error) {
	ctx, done := tracing.Track(ctx, "officer.Delete", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return orgerr.ErrInvalidOrganization
	}

	return txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		if current.MemberCount != 0 {
			return domain.ErrHasMembers
		}
		if err := s.repo.SoftDelete(ctx, tx, orgID, id, s.clock.Now().UTC()); err != nil {
			return err
		}
		return s.auditLog(ctx, auditdomain.ActionOfficerDeleted, id, map[string]any{"name": current.Name})
	})
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Officer, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Officer{}, orgerr.ErrInvalidOrganization
	}
	officer, err := txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) (*domain.Officer, error) {
		return s.repo.FindByID(ctx, db, orgID, id)
	})
	if err != nil {
		return domain.Officer{}, err
	}
	if officer == nil {
		return domain.Officer{}, domain.ErrNotFound
	}
	return *officer, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Officer, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	items, err := txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) ([]*domain.Officer, error) {
		return s.repo.List(ctx, db, orgID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Officer, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out, nil
}

// ResolveName returns the title's name, including for deleted titles.
func (s *Service) ResolveName(ctx context.Context, id snowflake.ID) (string, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return "", orgerr.ErrInvalidOrganization
	}
	officer, err := txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) (*domain.Officer, error) {
		return s.repo.FindByIDUnscoped(ctx, db, orgID, id)
	})
	if err != nil {
		return "", err
	}
	if officer == nil {
		return "", domain.ErrNotFound
	}
	return officer.Name, nil
}

func (s *Service) IncrementCount(ctx context.Context, id snowflake.ID, delta int64) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return orgerr.ErrInvalidOrganization
	}
	if delta <= 0 {
		return domain.ErrInvalidDelta
	}
	return txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		rows, err := s.repo.IncrementMemberCount(ctx, tx, orgID, id, delta, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (s *Service) DecrementCount(ctx context.Context, id snowflake.ID, delta int64) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return orgerr.ErrInvalidOrganization
	}
	if delta <= 0 {
		return domain.ErrInvalidDelta
	}
	return txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		rows, err := s.repo.DecrementMemberCount(ctx, tx, orgID, id, delta, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if rows == 1 {
			return nil
		}
		officer, err := s.repo.FindByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if officer == nil {
			return domain.ErrNotFound
		}
		s.metrics.RecordConsistencyViolation(ctx, orgID.String(), "officer_decrement_count")
		s.log.Error("officer member count underflow",
			zap.String("officer_id", id.String()),
			zap.Int64("member_count", officer.MemberCount),
			zap.Int64("delta", delta),
		)
		return domain.ErrCountUnderflow
	})
}

func (s *Service) RecountMembers(ctx context.Context, id snowflake.ID, counter domain.OpenCounter) (domain.CountDrift, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.CountDrift{}, orgerr.ErrInvalidOrganization
	}
	return txn.Do(ctx, s.db, func(ctx context.Context, tx *gorm.DB) (domain.CountDrift, error) {
		officer, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return domain.CountDrift{}, err
		}
		if officer == nil {
			return domain.CountDrift{}, domain.ErrNotFound
		}
		return s.recount(ctx, tx, orgID, officer, counter)
	})
}

func (s *Service) ReconcileCounts(ctx context.Context, counter domain.OpenCounter) ([]domain.CountDrift, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	return txn.Do(ctx, s.db, func(ctx context.Context, tx *gorm.DB) ([]domain.CountDrift, error) {
		officers, err := s.repo.List(ctx, tx, orgID)
		if err != nil {
			return nil, err
		}
		var drifts []domain.CountDrift
		for _, officer := range officers {
			drift, err := s.recount(ctx, tx, orgID, officer, counter)
			if err != nil {
				return nil, err
			}
			if drift.Stored != drift.Actual {
				drifts = append(drifts, drift)
			}
		}
		return drifts, nil
	})
}

func (s *Service) recount(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, officer *domain.Officer, counter domain.OpenCounter) (domain.CountDrift, error) {
	actual, err := counter.CountOpenByRef(ctx, officer.ID)
	if err != nil {
		return domain.CountDrift{}, err
	}
	drift := domain.CountDrift{
		OfficerID: officer.ID,
		Name:      officer.Name,
		Stored:    officer.MemberCount,
		Actual:    actual,
	}
	if drift.Stored == drift.Actual {
		return drift, nil
	}

	if err := s.repo.SetMemberCount(ctx, tx, orgID, officer.ID, actual, s.clock.Now().UTC()); err != nil {
		return domain.CountDrift{}, err
	}
	s.metrics.RecordConsistencyViolation(ctx, orgID.String(), "officer_recount")
	s.log.Warn("officer member count drift corrected",
		zap.String("officer_id", officer.ID.String()),
		zap.Int64("stored", drift.Stored),
		zap.Int64("actual", drift.Actual),
	)
	err = s.auditLog(ctx, auditdomain.ActionOfficerRecounted, officer.ID, map[string]any{
		"stored": drift.Stored,
		"actual": drift.Actual,
	})
	return drift, err
}

func (s *Service) auditLog(ctx context.Context, action string, targetID snowflake.ID, metadata map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.AuditLog(ctx, auditdomain.Entry{
		Action:     action,
		TargetType: auditdomain.TargetOfficer,
		TargetID:   targetID,
		Metadata:   metadata,
	})
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", domain.ErrInvalidName
	}
	return name, nil
}
