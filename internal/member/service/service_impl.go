package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	"github.com/smallbiznis/congregate/internal/audit/masking"
	"github.com/smallbiznis/congregate/internal/clock"
	"github.com/smallbiznis/congregate/internal/member/domain"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
	"github.com/smallbiznis/congregate/pkg/db/txn"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNameLength = 200

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
	Audit auditdomain.Service `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
	audit auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("member.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
		audit: p.Audit,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateMemberRequest) (domain.Member, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Member{}, orgerr.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.FullName)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return domain.Member{}, domain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	member := domain.Member{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		FullName:  name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &member); err != nil {
			return err
		}
		if s.audit == nil {
			return nil
		}
		return s.audit.AuditLog(ctx, auditdomain.Entry{
			Action:     auditdomain.ActionMemberCreated,
			TargetType: auditdomain.TargetMember,
			TargetID:   member.ID,
			Metadata:   map[string]any{"full_name": masking.MaskName(name)},
		})
	})
	if err != nil {
		return domain.Member{}, err
	}

	s.log.Debug("member created", zap.String("org_id", orgID.String()), zap.String("member_id", member.ID.String()))
	return member, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Member, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Member{}, orgerr.ErrInvalidOrganization
	}

	item, err := txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) (*domain.Member, error) {
		return s.repo.FindByID(ctx, db, orgID, id)
	})
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListMemberRequest) (domain.ListMemberResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListMemberResponse{}, orgerr.ErrInvalidOrganization
	}

	filter := domain.ListMemberFilter{
		Name:           strings.TrimSpace(req.Name),
		CurrentGroupID: req.CurrentGroupID,
	}
	page := req.Pagination.Normalize()

	var (
		total int64
		items []*domain.Member
	)
	err := txn.Scoped(ctx, s.db, func(ctx context.Context, db *gorm.DB) error {
		var err error
		if total, err = s.repo.Count(ctx, db, orgID, filter); err != nil {
			return err
		}
		items, err = s.repo.List(ctx, db, orgID, filter, page)
		return err
	})
	if err != nil {
		return domain.ListMemberResponse{}, err
	}

	return domain.ListMemberResponse{
		PageInfo: pagination.BuildPageInfo(page, total),
		Members:  values(items),
	}, nil
}

func (s *Service) ListByIDs(ctx context.Context, ids []snowflake.ID) ([]domain.Member, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	items, err := txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) ([]*domain.Member, error) {
		return s.repo.ListByIDs(ctx, db, orgID, Dedupe(ids))
	})
	if err != nil {
		return nil, err
	}
	return values(items), nil
}

func (s *Service) ExistAll(ctx context.Context, ids []snowflake.ID) error {
	ids = Dedupe(ids)
	if len(ids) == 0 {
		return domain.ErrNoMembers
	}
	found, err := s.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) == len(ids) {
		return nil
	}

	known := make(map[snowflake.ID]struct{}, len(found))
	for _, member := range found {
		known[member.ID] = struct{}{}
	}
	missing := make([]snowflake.ID, 0, len(ids)-len(found))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return domain.ErrNotFound.WithMembers(missing)
}

// Dedupe drops repeated and zero ids, keeping first-seen order.
func Dedupe(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func values(items []*domain.Member) []domain.Member {
	out := make([]domain.Member, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out
}
