package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	"github.com/smallbiznis/congregate/internal/clock"
	hierarchydomain "github.com/smallbiznis/congregate/internal/hierarchy/domain"
	historydomain "github.com/smallbiznis/congregate/internal/history/domain"
	memberdomain "github.com/smallbiznis/congregate/internal/member/domain"
	memberservice "github.com/smallbiznis/congregate/internal/member/service"
	"github.com/smallbiznis/congregate/internal/observability/metrics"
	"github.com/smallbiznis/congregate/internal/observability/tracing"
	officerdomain "github.com/smallbiznis/congregate/internal/officer/domain"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/pkg/db/txn"
	"github.com/smallbiznis/congregate/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	directionIn  = "in"
	directionOut = "out"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Groups    hierarchydomain.Service
	Paths     hierarchydomain.PathResolver
	Ledgers   historydomain.Ledgers
	Members   memberdomain.Service
	Officers  officerdomain.Service
	Audit     auditdomain.Service `optional:"true"`
	Metrics   *metrics.Metrics    `optional:"true"`
	Telemetry *telemetry.Metrics  `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	groups    hierarchydomain.Service
	paths     hierarchydomain.PathResolver
	ledgers   historydomain.Ledgers
	members   memberdomain.Service
	officers  officerdomain.Service
	audit     auditdomain.Service
	metrics   *metrics.Metrics
	telemetry *telemetry.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("assignment.service"),
		clock:     p.Clock,
		groups:    p.Groups,
		paths:     p.Paths,
		ledgers:   p.Ledgers,
		members:   p.Members,
		officers:  p.Officers,
		audit:     p.Audit,
		metrics:   p.Metrics,
		telemetry: p.Telemetry,
	}
}

// BulkAssign closes each member's current group interval, moves the counters and
// opens an interval in the target group. Members already in the target reject the
// whole batch.
func (s *Service) BulkAssign(ctx context.Context, req domain.BulkAssignRequest) (result domain.BulkAssignResult, err error) {
	ctx, done := tracing.Track(ctx, "assignment.BulkAssign", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.BulkAssignResult{}, orgerr.ErrInvalidOrganization
	}
	memberIDs := memberservice.Dedupe(req.MemberIDs)
	if len(memberIDs) == 0 {
		return domain.BulkAssignResult{}, memberdomain.ErrNoMembers
	}
	start := s.day(req.StartDate)

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.members.ExistAll(ctx, memberIDs); err != nil {
			return err
		}
		target, err := s.groups.Get(ctx, req.GroupID)
		if err != nil {
			return err
		}

		current, err := s.ledgers.Group.OpenRows(ctx, memberIDs)
		if err != nil {
			return err
		}
		var already []snowflake.ID
		var order []snowflake.ID
		sources := make(map[snowflake.ID][]snowflake.ID)
		for _, memberID := range memberIDs {
			row, ok := current[memberID]
			if !ok || row.LiveRefID == nil {
				continue
			}
			source := *row.LiveRefID
			if source == target.ID {
				already = append(already, memberID)
				continue
			}
			if _, seen := sources[source]; !seen {
				order = append(order, source)
			}
			sources[source] = append(sources[source], memberID)
		}
		if len(already) > 0 {
			return domain.ErrAlreadyAssigned.WithMembers(already)
		}

		result = domain.BulkAssignResult{GroupID: target.ID}
		for _, source := range order {
			if _, err := s.release(ctx, source, sources[source], start); err != nil {
				return err
			}
			result.Sources = append(result.Sources, domain.SourceMove{GroupID: source, Members: len(sources[source])})
		}

		if err := s.groups.IncrementCount(ctx, target.ID, int64(len(memberIDs))); err != nil {
			return err
		}
		result.Opened, err = s.ledgers.Group.OpenMany(ctx, historydomain.OpenManyRequest{
			MemberIDs: memberIDs,
			LiveRefID: target.ID,
			StartDate: start,
		})
		return err
	})
	if err != nil {
		s.logRejected("bulk_assign", err, zap.String("group_id", req.GroupID.String()), zap.Int("members", len(memberIDs)))
		return domain.BulkAssignResult{}, err
	}

	for _, source := range result.Sources {
		s.telemetry.ObserveMembersMoved(string(historydomain.AxisGroup), directionOut, source.Members)
	}
	s.telemetry.ObserveMembersMoved(string(historydomain.AxisGroup), directionIn, len(memberIDs))
	s.log.Info("members assigned",
		zap.String("org_id", orgID.String()),
		zap.String("group_id", result.GroupID.String()),
		zap.Int("members", len(memberIDs)),
		zap.Int("sources", len(result.Sources)),
	)
	return result, nil
}

// BulkUnassign ends the group interval of members who are all currently in the
// source group.
func (s *Service) BulkUnassign(ctx context.Context, req domain.BulkUnassignRequest) (result domain.BulkUnassignResult, err error) {
	ctx, done := tracing.Track(ctx, "assignment.BulkUnassign", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.BulkUnassignResult{}, orgerr.ErrInvalidOrganization
	}
	memberIDs := memberservice.Dedupe(req.MemberIDs)
	if len(memberIDs) == 0 {
		return domain.BulkUnassignResult{}, memberdomain.ErrNoMembers
	}
	end := s.day(req.EndDate)

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.members.ExistAll(ctx, memberIDs); err != nil {
			return err
		}
		source, err := s.groups.Get(ctx, req.GroupID)
		if err != nil {
			return err
		}

		current, err := s.ledgers.Group.OpenRows(ctx, memberIDs)
		if err != nil {
			return err
		}
		var missing []snowflake.ID
		for _, memberID := range memberIDs {
			row, ok := current[memberID]
			if !ok || row.LiveRefID == nil || *row.LiveRefID != source.ID {
				missing = append(missing, memberID)
			}
		}
		if len(missing) > 0 {
			return domain.ErrNotAssigned.WithMembers(missing)
		}

		closed, err := s.release(ctx, source.ID, memberIDs, end)
		if err != nil {
			return err
		}
		result = domain.BulkUnassignResult{GroupID: source.ID, Closed: closed}
		return nil
	})
	if err != nil {
		s.logRejected("bulk_unassign", err, zap.String("group_id", req.GroupID.String()), zap.Int("members", len(memberIDs)))
		return domain.BulkUnassignResult{}, err
	}

	s.telemetry.ObserveMembersMoved(string(historydomain.AxisGroup), directionOut, int(result.Closed))
	s.log.Info("members unassigned",
		zap.String("org_id", orgID.String()),
		zap.String("group_id", result.GroupID.String()),
		zap.Int64("members", result.Closed),
	)
	return result, nil
}

// PromoteLeader makes a member of the group its leader. The previous leader, if
// any, goes back to being a plain member on the same day.
func (s *Service) PromoteLeader(ctx context.Context, req domain.PromoteLeaderRequest) (row historydomain.History, err error) {
	ctx, done := tracing.Track(ctx, "assignment.PromoteLeader", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return historydomain.History{}, orgerr.ErrInvalidOrganization
	}
	date := s.day(req.Date)

	var previous *snowflake.ID
	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		group, err := s.groups.Get(ctx, req.GroupID)
		if err != nil {
			return err
		}
		membership, err := s.ledgers.Group.Current(ctx, req.MemberID)
		if err != nil {
			if errors.Is(err, historydomain.ErrNotOpen) {
				return domain.ErrNotGroupMember.WithMembers([]snowflake.ID{req.MemberID})
			}
			return err
		}
		if membership.LiveRefID == nil || *membership.LiveRefID != group.ID {
			return domain.ErrNotGroupMember.WithMembers([]snowflake.ID{req.MemberID})
		}
		if group.LeaderMemberID != nil && *group.LeaderMemberID == req.MemberID {
			return domain.ErrAlreadyLeader
		}

		if group.LeaderMemberID != nil {
			previous = group.LeaderMemberID
			snapshot, err := s.paths.PathName(ctx, group.ID)
			if err != nil {
				return err
			}
			if _, err := s.closeLeader(ctx, group.ID, *previous, date, snapshot); err != nil {
				return err
			}
		}

		row, err = s.ledgers.Leader.Open(ctx, historydomain.OpenRequest{
			MemberID:  req.MemberID,
			LiveRefID: group.ID,
			StartDate: date,
			ParentID:  &membership.ID,
		})
		if err != nil {
			return err
		}
		leader := req.MemberID
		if err := s.groups.SetLeader(ctx, group.ID, &leader); err != nil {
			return err
		}
		return s.auditLeaderChange(ctx, group.ID, previous, &leader)
	})
	if err != nil {
		s.logRejected("promote_leader", err, zap.String("group_id", req.GroupID.String()), zap.String("member_id", req.MemberID.String()))
		return historydomain.History{}, err
	}

	s.metrics.RecordHierarchyMutation(ctx, orgID.String(), "promote_leader")
	s.log.Info("leader promoted",
		zap.String("org_id", orgID.String()),
		zap.String("group_id", req.GroupID.String()),
		zap.String("member_id", req.MemberID.String()),
		zap.String("previous_leader_id", idString(previous)),
	)
	return row, nil
}

// DemoteLeader ends the current leader's term without naming a successor.
func (s *Service) DemoteLeader(ctx context.Context, req domain.DemoteLeaderRequest) (row historydomain.History, err error) {
	ctx, done := tracing.Track(ctx, "assignment.DemoteLeader", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return historydomain.History{}, orgerr.ErrInvalidOrganization
	}
	date := s.day(req.Date)

	var leader snowflake.ID
	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		group, err := s.groups.Get(ctx, req.GroupID)
		if err != nil {
			return err
		}
		if group.LeaderMemberID == nil {
			return domain.ErrNoLeader
		}
		leader = *group.LeaderMemberID

		snapshot, err := s.paths.PathName(ctx, group.ID)
		if err != nil {
			return err
		}
		row, err = s.demote(ctx, group, date, snapshot)
		return err
	})
	if err != nil {
		s.logRejected("demote_leader", err, zap.String("group_id", req.GroupID.String()))
		return historydomain.History{}, err
	}

	s.metrics.RecordHierarchyMutation(ctx, orgID.String(), "demote_leader")
	s.log.Info("leader demoted",
		zap.String("org_id", orgID.String()),
		zap.String("group_id", req.GroupID.String()),
		zap.String("member_id", leader.String()),
	)
	return row, nil
}

// AssignOfficer gives a member an officer title, ending the title they held before.
func (s *Service) AssignOfficer(ctx context.Context, req domain.AssignOfficerRequest) (row historydomain.History, err error) {
	ctx, done := tracing.Track(ctx, "assignment.AssignOfficer", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return historydomain.History{}, orgerr.ErrInvalidOrganization
	}
	start := s.day(req.StartDate)

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.members.ExistAll(ctx, []snowflake.ID{req.MemberID}); err != nil {
			return err
		}
		officer, err := s.officers.Get(ctx, req.OfficerID)
		if err != nil {
			return err
		}

		current, err := s.ledgers.Officer.Current(ctx, req.MemberID)
		switch {
		case errors.Is(err, historydomain.ErrNotOpen):
		case err != nil:
			return err
		case current.LiveRefID != nil && *current.LiveRefID == officer.ID:
			return domain.ErrAlreadyAssigned.WithMembers([]snowflake.ID{req.MemberID})
		default:
			if _, err := s.ledgers.Officer.Close(ctx, historydomain.CloseRequest{MemberID: req.MemberID, EndDate: start}); err != nil {
				return err
			}
			if current.LiveRefID != nil {
				if err := s.officers.DecrementCount(ctx, *current.LiveRefID, 1); err != nil {
					return err
				}
			}
		}

		if err := s.officers.IncrementCount(ctx, officer.ID, 1); err != nil {
			return err
		}
		row, err = s.ledgers.Officer.Open(ctx, historydomain.OpenRequest{
			MemberID:  req.MemberID,
			LiveRefID: officer.ID,
			StartDate: start,
		})
		return err
	})
	if err != nil {
		s.logRejected("assign_officer", err, zap.String("officer_id", req.OfficerID.String()), zap.String("member_id", req.MemberID.String()))
		return historydomain.History{}, err
	}

	s.telemetry.ObserveMembersMoved(string(historydomain.AxisOfficer), directionIn, 1)
	s.log.Info("officer assigned",
		zap.String("org_id", orgID.String()),
		zap.String("officer_id", req.OfficerID.String()),
		zap.String("member_id", req.MemberID.String()),
	)
	return row, nil
}

// UnassignOfficer ends the member's current officer title.
func (s *Service) UnassignOfficer(ctx context.Context, req domain.UnassignOfficerRequest) (row historydomain.History, err error) {
	ctx, done := tracing.Track(ctx, "assignment.UnassignOfficer", s.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return historydomain.History{}, orgerr.ErrInvalidOrganization
	}
	end := s.day(req.EndDate)

	err = txn.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.ledgers.Officer.Current(ctx, req.MemberID)
		if err != nil {
			if errors.Is(err, historydomain.ErrNotOpen) {
				return domain.ErrNotAssigned.WithMembers([]snowflake.ID{req.MemberID})
			}
			return err
		}
		row, err = s.ledgers.Officer.Close(ctx, historydomain.CloseRequest{MemberID: req.MemberID, EndDate: end})
		if err != nil {
			return err
		}
		if current.LiveRefID == nil {
			return nil
		}
		return s.officers.DecrementCount(ctx, *current.LiveRefID, 1)
	})
	if err != nil {
		s.logRejected("unassign_officer", err, zap.String("member_id", req.MemberID.String()))
		return historydomain.History{}, err
	}

	s.telemetry.ObserveMembersMoved(string(historydomain.AxisOfficer), directionOut, 1)
	s.log.Info("officer unassigned",
		zap.String("org_id", orgID.String()),
		zap.String("member_id", req.MemberID.String()),
	)
	return row, nil
}

// release takes members out of a source group: the leader steps down first, then
// the group intervals close under one snapshot and the counter drops.
func (s *Service) release(ctx context.Context, sourceID snowflake.ID, memberIDs []snowflake.ID, end time.Time) (int64, error) {
	source, err := s.groups.Get(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	snapshot, err := s.paths.PathName(ctx, source.ID)
	if err != nil {
		return 0, err
	}

	if source.LeaderMemberID != nil && contains(memberIDs, *source.LeaderMemberID) {
		if _, err := s.demote(ctx, source, end, snapshot); err != nil {
			return 0, err
		}
	}

	closed, err := s.ledgers.Group.CloseByRef(ctx, historydomain.BulkCloseRequest{
		LiveRefID: source.ID,
		MemberIDs: memberIDs,
		EndDate:   end,
		Snapshot:  &snapshot,
	})
	if err != nil {
		return 0, err
	}
	if err := s.groups.DecrementCount(ctx, source.ID, int64(len(memberIDs))); err != nil {
		return 0, err
	}
	return closed, nil
}

// demote closes the leader term of the group's leader and clears the pointer.
func (s *Service) demote(ctx context.Context, group hierarchydomain.Group, end time.Time, snapshot string) (historydomain.History, error) {
	leader := *group.LeaderMemberID
	row, err := s.closeLeader(ctx, group.ID, leader, end, snapshot)
	if err != nil {
		return historydomain.History{}, err
	}
	if err := s.groups.SetLeader(ctx, group.ID, nil); err != nil {
		return historydomain.History{}, err
	}
	return row, s.auditLeaderChange(ctx, group.ID, &leader, nil)
}

// closeLeader ends the member's leader term in groupID. A pointer whose member has
// no open term there, or leads another group, is repaired by the caller rewriting
// the pointer; the other group's term is left open.
func (s *Service) closeLeader(ctx context.Context, groupID, memberID snowflake.ID, end time.Time, snapshot string) (historydomain.History, error) {
	current, err := s.ledgers.Leader.Current(ctx, memberID)
	switch {
	case errors.Is(err, historydomain.ErrNotOpen):
		s.log.Warn("leader pointer without open term",
			zap.String("group_id", groupID.String()),
			zap.String("member_id", memberID.String()),
		)
		return historydomain.History{}, nil
	case err != nil:
		return historydomain.History{}, err
	case current.LiveRefID == nil || *current.LiveRefID != groupID:
		s.log.Warn("leader pointer names a member leading another group",
			zap.String("group_id", groupID.String()),
			zap.String("member_id", memberID.String()),
			zap.String("leading_group_id", idString(current.LiveRefID)),
		)
		return historydomain.History{}, nil
	}

	return s.ledgers.Leader.Close(ctx, historydomain.CloseRequest{
		MemberID: memberID,
		EndDate:  end,
		Snapshot: &snapshot,
	})
}

func (s *Service) auditLeaderChange(ctx context.Context, groupID snowflake.ID, previous, next *snowflake.ID) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.AuditLog(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionGroupLeaderChanged,
		TargetType: auditdomain.TargetGroup,
		TargetID:   groupID,
		Metadata: map[string]any{
			"previous_leader_id": idString(previous),
			"leader_id":          idString(next),
		},
	})
}

func (s *Service) day(t time.Time) time.Time {
	if t.IsZero() {
		return clock.Today(s.clock)
	}
	return clock.Day(t)
}

func (s *Service) logRejected(operation string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("operation", operation), zap.Error(err))
	if orgerr.IsKind(err, orgerr.KindInternalConsistency) || orgerr.KindOf(err) == "" {
		s.log.Error("assignment operation failed", fields...)
		return
	}
	s.log.Warn("assignment operation rejected", fields...)
}

func contains(ids []snowflake.ID, id snowflake.ID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func idString(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
