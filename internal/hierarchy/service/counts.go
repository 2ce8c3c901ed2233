package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	"github.com/smallbiznis/congregate/internal/hierarchy/domain"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/pkg/db/txn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IncrementCount adds delta to the group's member counter in a single statement.
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

// DecrementCount subtracts delta in a single guarded statement. A counter that would
// go negative means an earlier step lost track of a member and aborts the transaction.
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

		group, err := s.repo.FindByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if group == nil {
			return domain.ErrNotFound
		}
		s.metrics.RecordConsistencyViolation(ctx, orgID.String(), "decrement_count")
		s.log.Error("member count underflow",
			zap.String("org_id", orgID.String()),
			zap.String("group_id", id.String()),
			zap.Int64("member_count", group.MemberCount),
			zap.Int64("delta", delta),
		)
		return domain.ErrCountUnderflow.Withf("group %s has %d members, cannot remove %d", id.String(), group.MemberCount, delta)
	})
}

// RecountMembers recomputes one group's counter from its open membership rows and
// clears a leader pointer that no longer names a current member.
func (s *Service) RecountMembers(ctx context.Context, id snowflake.ID, counter domain.OpenCounter) (domain.CountDrift, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.CountDrift{}, orgerr.ErrInvalidOrganization
	}

	var drift domain.CountDrift
	err := txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		group, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if group == nil {
			return domain.ErrNotFound
		}
		drift, err = s.recount(ctx, tx, orgID, group, counter)
		return err
	})
	return drift, err
}

// ReconcileCounts recounts every live group and repairs child id lists that drifted
// from parent_id. Only groups that needed a fix are returned.
func (s *Service) ReconcileCounts(ctx context.Context, counter domain.OpenCounter) ([]domain.CountDrift, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}

	var drifts []domain.CountDrift
	err := txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		groups, err := s.repo.List(ctx, tx, orgID)
		if err != nil {
			return err
		}

		children := make(map[snowflake.ID][]snowflake.ID, len(groups))
		for _, group := range groups {
			if group.ParentID != nil {
				children[*group.ParentID] = append(children[*group.ParentID], group.ID)
			}
		}

		now := s.clock.Now().UTC()
		for _, group := range groups {
			drift, err := s.recount(ctx, tx, orgID, group, counter)
			if err != nil {
				return err
			}
			if drift.Stored != drift.Actual || !drift.LeaderOK {
				drifts = append(drifts, drift)
			}

			actual := children[group.ID]
			if !sameSet(group.ChildIDs, actual) {
				repaired := reconcileOrder(group.ChildIDs, actual)
				if err := s.repo.UpdateChildIDs(ctx, tx, orgID, group.ID, repaired, now); err != nil {
					return err
				}
				s.log.Warn("child ids repaired",
					zap.String("org_id", orgID.String()),
					zap.String("group_id", group.ID.String()),
				)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(drifts) > 0 {
		s.cache.InvalidateOrg(ctx, orgID)
	}
	return drifts, nil
}

func (s *Service) recount(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, group *domain.Group, counter domain.OpenCounter) (domain.CountDrift, error) {
	actual, err := counter.CountOpenByRef(ctx, group.ID)
	if err != nil {
		return domain.CountDrift{}, err
	}

	drift := domain.CountDrift{
		GroupID:  group.ID,
		Name:     group.Name,
		Stored:   group.MemberCount,
		Actual:   actual,
		LeaderOK: true,
	}
	if group.LeaderMemberID != nil {
		open, err := counter.IsOpenByRef(ctx, *group.LeaderMemberID, group.ID)
		if err != nil {
			return domain.CountDrift{}, err
		}
		drift.LeaderOK = open
	}
	if drift.Stored == drift.Actual && drift.LeaderOK {
		return drift, nil
	}

	now := s.clock.Now().UTC()
	if drift.Stored != drift.Actual {
		if err := s.repo.SetMemberCount(ctx, tx, orgID, group.ID, actual, now); err != nil {
			return domain.CountDrift{}, err
		}
	}
	if !drift.LeaderOK {
		if err := s.repo.UpdateLeader(ctx, tx, orgID, group.ID, nil, now); err != nil {
			return domain.CountDrift{}, err
		}
	}

	s.metrics.RecordConsistencyViolation(ctx, orgID.String(), "recount")
	s.log.Warn("member count drift corrected",
		zap.String("org_id", orgID.String()),
		zap.String("group_id", group.ID.String()),
		zap.Int64("stored", drift.Stored),
		zap.Int64("actual", drift.Actual),
		zap.Bool("leader_ok", drift.LeaderOK),
	)
	if err := s.auditLog(ctx, auditdomain.ActionGroupRecounted, group.ID, map[string]any{
		"stored":    drift.Stored,
		"actual":    drift.Actual,
		"leader_ok": drift.LeaderOK,
	}); err != nil {
		return domain.CountDrift{}, err
	}
	return drift, nil
}

func sameSet(a, b []snowflake.ID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[snowflake.ID]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}

// reconcileOrder keeps the surviving ids in their stored order and appends newly
// found children in id order.
func reconcileOrder(stored, actual []snowflake.ID) []snowflake.ID {
	live := make(map[snowflake.ID]bool, len(actual))
	for _, id := range actual {
		live[id] = true
	}
	out := make([]snowflake.ID, 0, len(actual))
	for _, id := range stored {
		if live[id] {
			out = append(out, id)
			delete(live, id)
		}
	}
	missing := make([]snowflake.ID, 0, len(live))
	for id := range live {
		missing = append(missing, id)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return append(out, missing...)
}
