package service

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	"github.com/smallbiznis/congregate/internal/cache"
	"github.com/smallbiznis/congregate/internal/clock"
	"github.com/smallbiznis/congregate/internal/config"
	"github.com/smallbiznis/congregate/internal/hierarchy/domain"
	"github.com/smallbiznis/congregate/internal/observability/metrics"
	"github.com/smallbiznis/congregate/internal/observability/tracing"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	dbutil "github.com/smallbiznis/congregate/pkg/db"
	"github.com/smallbiznis/congregate/pkg/db/txn"
	"github.com/smallbiznis/congregate/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
	Config    config.Config
	Audit     auditdomain.Service `optional:"true"`
	Cache     cache.PathCache     `optional:"true"`
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
	cache     cache.PathCache
	metrics   *metrics.Metrics
	telemetry *telemetry.Metrics
	maxDepth  int
	walker    *walker
}

func New(p Params) domain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	pathCache := p.Cache
	if pathCache == nil {
		pathCache = cache.NoopPathCache{}
	}
	maxDepth := p.Config.Hierarchy.MaxDepth
	if maxDepth <= 0 || maxDepth > config.MaxHierarchyDepth {
		maxDepth = config.MaxHierarchyDepth
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("hierarchy.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		clock:     p.Clock,
		audit:     p.Audit,
		cache:     pathCache,
		metrics:   p.Metrics,
		telemetry: p.Telemetry,
		maxDepth:  maxDepth,
		walker:    &walker{repo: p.Repo},
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateGroupRequest) (group domain.Group, err error) {
	ctx, done := tracing.Track(ctx, "hierarchy.Create", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Group{}, orgerr.ErrInvalidOrganization
	}
	name, err := normalizeName(req.Name)
	if err != nil {
		return domain.Group{}, err
	}

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		var parent *domain.Group
		if req.ParentID != nil {
			found, err := s.repo.LockByID(ctx, tx, orgID, *req.ParentID)
			if err != nil {
				return err
			}
			if found == nil {
				return domain.ErrParentNotFound
			}
			parent = found
			depth, err := s.walker.depth(ctx, tx, orgID, parent)
			if err != nil {
				return err
			}
			if depth+1 > s.maxDepth {
				return domain.ErrDepthExceeded.Withf("group %q would sit at depth %d, maximum is %d", name, depth+1, s.maxDepth)
			}
		}

		exists, err := s.repo.SiblingNameExists(ctx, tx, orgID, req.ParentID, name, 0)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateName
		}

		now := s.clock.Now().UTC()
		group = domain.Group{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			ParentID:    req.ParentID,
			Name:        name,
			Slug:        slug.Make(name),
			SortOrder:   req.Order,
			ChildIDs:    datatypes.JSONSlice[snowflake.ID]{},
			MemberCount: 0,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.Insert(ctx, tx, &group); err != nil {
			return mapWriteErr(err)
		}

		if parent != nil {
			children := append(append([]snowflake.ID{}, parent.ChildIDs...), group.ID)
			if err := s.repo.UpdateChildIDs(ctx, tx, orgID, parent.ID, children, now); err != nil {
				return err
			}
		}

		return s.auditLog(ctx, auditdomain.ActionGroupCreated, group.ID, map[string]any{
			"name":      group.Name,
			"parent_id": idString(group.ParentID),
		})
	})
	if err != nil {
		s.logRejected("create", err, zap.String("name", name))
		return domain.Group{}, err
	}

	s.metrics.RecordHierarchyMutation(ctx, orgID.String(), "create")
	s.log.Info("group created",
		zap.String("org_id", orgID.String()),
		zap.String("group_id", group.ID.String()),
		zap.String("parent_id", idString(group.ParentID)),
	)
	return group, nil
}

func (s *Service) Rename(ctx context.Context, id snowflake.ID, newName string) (group domain.Group, err error) {
	ctx, done := tracing.Track(ctx, "hierarchy.Rename", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Group{}, orgerr.ErrInvalidOrganization
	}
	name, err := normalizeName(newName)
	if err != nil {
		return domain.Group{}, err
	}

	var changed bool
	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		group = *current
		if current.Name == name {
			return nil
		}

		exists, err := s.repo.SiblingNameExists(ctx, tx, orgID, current.ParentID, name, current.ID)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateName
		}

		now := s.clock.Now().UTC()
		if err := s.repo.UpdateName(ctx, tx, orgID, id, name, slug.Make(name), now); err != nil {
			return mapWriteErr(err)
		}
		s.cache.InvalidateOrg(ctx, orgID)

		changed = true
		previous := group.Name
		group.Name = name
		group.Slug = slug.Make(name)
		group.UpdatedAt = now

		return s.auditLog(ctx, auditdomain.ActionGroupRenamed, id, map[string]any{
			"from": previous,
			"to":   name,
		})
	})
	if err != nil {
		s.logRejected("rename", err, zap.String("group_id", id.String()))
		return domain.Group{}, err
	}

	if changed {
		s.cache.InvalidateOrg(ctx, orgID)
		s.metrics.RecordHierarchyMutation(ctx, orgID.String(), "rename")
		s.log.Info("group renamed", zap.String("org_id", orgID.String()), zap.String("group_id", id.String()))
	}
	return group, nil
}

func (s *Service) Reorder(ctx context.Context, id snowflake.ID, order int) (group domain.Group, err error) {
	ctx, done := tracing.Track(ctx, "hierarchy.Reorder", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Group{}, orgerr.ErrInvalidOrganization
	}

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		group = *current
		if current.SortOrder == order {
			return nil
		}

		now := s.clock.Now().UTC()
		if err := s.repo.UpdateSortOrder(ctx, tx, orgID, id, order, now); err != nil {
			return err
		}
		group.SortOrder = order
		group.UpdatedAt = now

		return s.auditLog(ctx, auditdomain.ActionGroupReordered, id, map[string]any{"order": order})
	})
	if err != nil {
		return domain.Group{}, err
	}
	return group, nil
}

func (s *Service) Reparent(ctx context.Context, id snowflake.ID, newParentID *snowflake.ID) (group domain.Group, err error) {
	ctx, done := tracing.Track(ctx, "hierarchy.Reparent", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Group{}, orgerr.ErrInvalidOrganization
	}

	var moved bool
	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		node, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if node == nil {
			return domain.ErrNotFound
		}
		group = *node
		if sameParent(node.ParentID, newParentID) {
			return nil
		}

		newDepth := 1
		if newParentID != nil {
			if *newParentID == id {
				return domain.ErrCycleDetected
			}
			parent, err := s.repo.FindByID(ctx, tx, orgID, *newParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return domain.ErrParentNotFound
			}

			descendants, levels, err := s.walker.subtree(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			for _, descendant := range descendants {
				if descendant == *newParentID {
					return domain.ErrCycleDetected.Withf("group %s is a descendant of %s", newParentID.String(), id.String())
				}
			}

			parentDepth, err := s.walker.depth(ctx, tx, orgID, parent)
			if err != nil {
				return err
			}
			newDepth = parentDepth + 1
			if newDepth+levels > s.maxDepth {
				return domain.ErrDepthExceeded.Withf("moving group would reach depth %d, maximum is %d", newDepth+levels, s.maxDepth)
			}
		} else {
			_, levels, err := s.walker.subtree(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			if 1+levels > s.maxDepth {
				return domain.ErrDepthExceeded
			}
		}

		exists, err := s.repo.SiblingNameExists(ctx, tx, orgID, newParentID, node.Name, node.ID)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateName
		}

		now := s.clock.Now().UTC()
		if err := s.relinkParents(ctx, tx, orgID, id, node.ParentID, newParentID, now); err != nil {
			return err
		}
		if err := s.repo.UpdateParent(ctx, tx, orgID, id, newParentID, now); err != nil {
			return mapWriteErr(err)
		}
		s.cache.InvalidateOrg(ctx, orgID)

		moved = true
		previous := group.ParentID
		group.ParentID = newParentID
		group.UpdatedAt = now

		return s.auditLog(ctx, auditdomain.ActionGroupMoved, id, map[string]any{
			"from_parent_id": idString(previous),
			"to_parent_id":   idString(newParentID),
			"depth":          newDepth,
		})
	})
	if err != nil {
		s.logRejected("reparent", err, zap.String("group_id", id.String()), zap.String("new_parent_id", idString(newParentID)))
		return domain.Group{}, err
	}

	if moved {
		s.cache.InvalidateOrg(ctx, orgID)
		s.metrics.RecordHierarchyMutation(ctx, orgID.String(), "reparent")
		s.log.Info("group moved",
			zap.String("org_id", orgID.String()),
			zap.String("group_id", id.String()),
			zap.String("parent_id", idString(newParentID)),
		)
	}
	return group, nil
}

// relinkParents moves id from the old parent's child list to the new parent's. Parents
// are locked in id order so concurrent moves between the same pair cannot deadlock.
func (s *Service) relinkParents(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, oldParentID, newParentID *snowflake.ID, now time.Time) error {
	parents := make([]snowflake.ID, 0, 2)
	if oldParentID != nil {
		parents = append(parents, *oldParentID)
	}
	if newParentID != nil {
		parents = append(parents, *newParentID)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	for _, parentID := range parents {
		parent, err := s.repo.LockByID(ctx, tx, orgID, parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return domain.ErrParentNotFound
		}

		children := []snowflake.ID(parent.ChildIDs)
		switch {
		case oldParentID != nil && parentID == *oldParentID:
			children = without(parent.ChildIDs, id)
		case !parent.HasChild(id):
			children = append(append([]snowflake.ID{}, parent.ChildIDs...), id)
		}
		if err := s.repo.UpdateChildIDs(ctx, tx, orgID, parentID, children, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) (err error) {
	ctx, done := tracing.Track(ctx, "hierarchy.Delete", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return orgerr.ErrInvalidOrganization
	}

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		node, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if node == nil {
			return domain.ErrNotFound
		}

		if len(node.ChildIDs) > 0 {
			return domain.ErrHasChildren
		}
		children, err := s.repo.ListByParentIDs(ctx, tx, orgID, []snowflake.ID{id})
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return domain.ErrHasChildren
		}
		if node.MemberCount != 0 {
			return domain.ErrHasMembers
		}

		now := s.clock.Now().UTC()
		if node.ParentID != nil {
			parent, err := s.repo.LockByID(ctx, tx, orgID, *node.ParentID)
			if err != nil {
				return err
			}
			if parent != nil {
				if err := s.repo.UpdateChildIDs(ctx, tx, orgID, parent.ID, without(parent.ChildIDs, id), now); err != nil {
					return err
				}
			}
		}
		if err := s.repo.SoftDelete(ctx, tx, orgID, id, now); err != nil {
			return err
		}
		s.cache.InvalidateOrg(ctx, orgID)

		return s.auditLog(ctx, auditdomain.ActionGroupDeleted, id, map[string]any{
			"name":      node.Name,
			"parent_id": idString(node.ParentID),
		})
	})
	if err != nil {
		s.logRejected("delete", err, zap.String("group_id", id.String()))
		return err
	}

	s.cache.InvalidateOrg(ctx, orgID)
	s.metrics.RecordHierarchyMutation(ctx, orgID.String(), "delete")
	s.log.Info("group deleted", zap.String("org_id", orgID.String()), zap.String("group_id", id.String()))
	return nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Group, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Group{}, orgerr.ErrInvalidOrganization
	}
	group, err := txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) (*domain.Group, error) {
		return s.repo.FindByID(ctx, db, orgID, id)
	})
	if err != nil {
		return domain.Group{}, err
	}
	if group == nil {
		return domain.Group{}, domain.ErrNotFound
	}
	return *group, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Group, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	items, err := txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) ([]*domain.Group, error) {
		return s.repo.List(ctx, db, orgID)
	})
	if err != nil {
		return nil, err
	}
	return values(items), nil
}

func (s *Service) Roots(ctx context.Context) ([]domain.Group, error) {
	groups, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	roots := make([]domain.Group, 0, len(groups))
	for _, group := range groups {
		if group.ParentID == nil {
			roots = append(roots, group)
		}
	}
	return roots, nil
}

// Tree nests the live groups by their child id lists. Siblings keep the list order
// of sort_order then name.
func (s *Service) Tree(ctx context.Context) ([]domain.TreeNode, error) {
	groups, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[snowflake.ID]domain.Group, len(groups))
	rank := make(map[snowflake.ID]int, len(groups))
	for i, group := range groups {
		byID[group.ID] = group
		rank[group.ID] = i
	}

	var build func(group domain.Group, depth int) domain.TreeNode
	build = func(group domain.Group, depth int) domain.TreeNode {
		node := domain.TreeNode{Group: group, Depth: depth}
		children := make([]domain.Group, 0, len(group.ChildIDs))
		for _, childID := range group.ChildIDs {
			if child, ok := byID[childID]; ok && depth < config.MaxHierarchyDepth {
				children = append(children, child)
			}
		}
		sort.SliceStable(children, func(i, j int) bool {
			return rank[children[i].ID] < rank[children[j].ID]
		})
		for _, child := range children {
			node.Children = append(node.Children, build(child, depth+1))
		}
		return node
	}

	tree := make([]domain.TreeNode, 0)
	for _, group := range groups {
		if group.ParentID == nil {
			tree = append(tree, build(group, 1))
		}
	}
	return tree, nil
}

func (s *Service) Ancestors(ctx context.Context, id snowflake.ID) ([]domain.Group, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	ancestors, err := txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) ([]*domain.Group, error) {
		node, err := s.repo.FindByID(ctx, db, orgID, id)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, domain.ErrNotFound
		}
		return s.walker.ancestors(ctx, db, orgID, node)
	})
	if err != nil {
		return nil, err
	}
	return values(ancestors), nil
}

func (s *Service) Descendants(ctx context.Context, id snowflake.ID) ([]snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	return txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
		node, err := s.repo.FindByID(ctx, db, orgID, id)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, domain.ErrNotFound
		}
		ids, _, err := s.walker.subtree(ctx, db, orgID, id)
		return ids, err
	})
}

func (s *Service) Depth(ctx context.Context, id snowflake.ID) (int, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, orgerr.ErrInvalidOrganization
	}
	return txn.Query(ctx, s.db, func(ctx context.Context, db *gorm.DB) (int, error) {
		node, err := s.repo.FindByID(ctx, db, orgID, id)
		if err != nil {
			return 0, err
		}
		if node == nil {
			return 0, domain.ErrNotFound
		}
		return s.walker.depth(ctx, db, orgID, node)
	})
}

func (s *Service) SetLeader(ctx context.Context, id snowflake.ID, memberID *snowflake.ID) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return orgerr.ErrInvalidOrganization
	}
	return txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		node, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if node == nil {
			return domain.ErrNotFound
		}
		return s.repo.UpdateLeader(ctx, tx, orgID, id, memberID, s.clock.Now().UTC())
	})
}

func (s *Service) auditLog(ctx context.Context, action string, targetID snowflake.ID, metadata map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.AuditLog(ctx, auditdomain.Entry{
		Action:     action,
		TargetType: auditdomain.TargetGroup,
		TargetID:   targetID,
		Metadata:   metadata,
	})
}

func (s *Service) logRejected(operation string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("operation", operation), zap.Error(err))
	if orgerr.IsKind(err, orgerr.KindInternalConsistency) || orgerr.KindOf(err) == "" {
		s.log.Error("hierarchy operation failed", fields...)
		return
	}
	s.log.Warn("hierarchy operation rejected", fields...)
}

func mapWriteErr(err error) error {
	if dbutil.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateName.Wrap(err)
	}
	return err
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", domain.ErrInvalidName
	}
	return name, nil
}

func sameParent(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func without(ids []snowflake.ID, id snowflake.ID) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func values(items []*domain.Group) []domain.Group {
	out := make([]domain.Group, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out
}

func idString(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
