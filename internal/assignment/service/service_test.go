package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	auditrepository "github.com/smallbiznis/congregate/internal/audit/repository"
	auditservice "github.com/smallbiznis/congregate/internal/audit/service"
	"github.com/smallbiznis/congregate/internal/cache"
	"github.com/smallbiznis/congregate/internal/config"
	hierarchydomain "github.com/smallbiznis/congregate/internal/hierarchy/domain"
	hierarchyrepository "github.com/smallbiznis/congregate/internal/hierarchy/repository"
	hierarchyservice "github.com/smallbiznis/congregate/internal/hierarchy/service"
	historydomain "github.com/smallbiznis/congregate/internal/history/domain"
	historyrepository "github.com/smallbiznis/congregate/internal/history/repository"
	historyservice "github.com/smallbiznis/congregate/internal/history/service"
	memberdomain "github.com/smallbiznis/congregate/internal/member/domain"
	memberrepository "github.com/smallbiznis/congregate/internal/member/repository"
	memberservice "github.com/smallbiznis/congregate/internal/member/service"
	officerdomain "github.com/smallbiznis/congregate/internal/officer/domain"
	officerrepository "github.com/smallbiznis/congregate/internal/officer/repository"
	officerservice "github.com/smallbiznis/congregate/internal/officer/service"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc      domain.Service
	groups   hierarchydomain.Service
	officers officerdomain.Service
	members  memberdomain.Service
	ledgers  historydomain.Ledgers
	audit    auditdomain.Service
}

func newFixture(t *testing.T) (*fixture, context.Context) {
	t.Helper()

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	clk := testutil.Clock(2024, 7, 1)
	cfg := config.Default()
	pathCache := cache.NewMemoryPathCache(time.Minute)
	groupRepo := hierarchyrepository.Provide()
	memberRepo := memberrepository.Provide()

	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Repo: auditrepository.Provide(), Clock: clk,
	})
	groups := hierarchyservice.New(hierarchyservice.Params{
		DB: db, Log: log, GenID: node, Repo: groupRepo, Clock: clk, Config: cfg, Audit: audit, Cache: pathCache,
	})
	paths := hierarchyservice.NewPathResolver(hierarchyservice.PathResolverParams{
		DB: db, Repo: groupRepo, Config: cfg, Cache: pathCache,
	})
	officers := officerservice.New(officerservice.Params{
		DB: db, Log: log, GenID: node, Repo: officerrepository.Provide(), Clock: clk, Audit: audit,
	})
	members := memberservice.New(memberservice.Params{
		DB: db, Log: log, GenID: node, Repo: memberRepo, Clock: clk, Audit: audit,
	})
	ledgers, err := historyservice.NewLedgers(historyservice.Params{
		DB: db, Log: log, GenID: node, Repo: historyrepository.Provide(), Members: memberRepo, Clock: clk, Audit: audit,
	}, historyservice.Resolvers{Groups: paths, Officers: officers})
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		Groups:   groups,
		Paths:    paths,
		Ledgers:  ledgers,
		Members:  members,
		Officers: officers,
		Audit:    audit,
	})

	ctx, _ := testutil.OrgContext(t, node)
	ctx = orgcontext.WithActorID(ctx, node.Generate().Int64())
	return &fixture{svc: svc, groups: groups, officers: officers, members: members, ledgers: ledgers, audit: audit}, ctx
}

func (f *fixture) group(t *testing.T, ctx context.Context, parent *hierarchydomain.Group, name string) hierarchydomain.Group {
	t.Helper()
	req := hierarchydomain.CreateGroupRequest{Name: name}
	if parent != nil {
		req.ParentID = &parent.ID
	}
	group, err := f.groups.Create(ctx, req)
	require.NoError(t, err)
	return group
}

func (f *fixture) member(t *testing.T, ctx context.Context, name string) snowflake.ID {
	t.Helper()
	m, err := f.members.Create(ctx, memberdomain.CreateMemberRequest{FullName: name})
	require.NoError(t, err)
	return m.ID
}

func (f *fixture) count(t *testing.T, ctx context.Context, id snowflake.ID) int64 {
	t.Helper()
	group, err := f.groups.Get(ctx, id)
	require.NoError(t, err)
	return group.MemberCount
}

func (f *fixture) leader(t *testing.T, ctx context.Context, id snowflake.ID) *snowflake.ID {
	t.Helper()
	group, err := f.groups.Get(ctx, id)
	require.NoError(t, err)
	return group.LeaderMemberID
}

func day(year int, month time.Month, d int) time.Time {
	return testutil.Date(year, month, d)
}

func TestAssignAndUnassignSnapshotsPath(t *testing.T) {
	f, ctx := newFixture(t)

	adults := f.group(t, ctx, nil, "Adults")
	fellowship := f.group(t, ctx, &adults, "Men's Fellowship")
	depth, err := f.groups.Depth(ctx, fellowship.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	m1 := f.member(t, ctx, "M1")
	_, err = f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m1}, GroupID: fellowship.ID, StartDate: day(2024, 1, 10)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.count(t, ctx, fellowship.ID))

	result, err := f.svc.BulkUnassign(ctx, domain.BulkUnassignRequest{MemberIDs: []snowflake.ID{m1}, GroupID: fellowship.ID, EndDate: day(2024, 6, 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Closed)
	assert.Equal(t, int64(0), f.count(t, ctx, fellowship.ID))

	page, err := f.ledgers.Group.Paginate(ctx, historydomain.PageRequest{MemberID: m1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	row := page.Items[0]
	require.NotNil(t, row.Snapshot)
	assert.Equal(t, "Adults__Men's Fellowship", *row.Snapshot)
	assert.Nil(t, row.LiveRefID)
	require.NotNil(t, row.EndDate)
	assert.True(t, row.EndDate.Equal(day(2024, 6, 1)))

	err = f.groups.Delete(ctx, adults.ID)
	assert.ErrorIs(t, err, hierarchydomain.ErrHasChildren)
	assert.True(t, orgerr.IsKind(err, orgerr.KindConflict))

	_, err = f.groups.Rename(ctx, fellowship.ID, "Brotherhood")
	require.NoError(t, err)
	require.NoError(t, f.groups.Delete(ctx, fellowship.ID))

	got, err := f.ledgers.Group.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "Adults__Men's Fellowship", *got.Snapshot)

	m, err := f.members.Get(ctx, m1)
	require.NoError(t, err)
	assert.Nil(t, m.CurrentGroupID)
}

func TestBulkAssignMovesCounters(t *testing.T) {
	f, ctx := newFixture(t)

	choir := f.group(t, ctx, nil, "Choir")
	band := f.group(t, ctx, nil, "Band")
	ushers := f.group(t, ctx, nil, "Ushers")

	m1 := f.member(t, ctx, "M1")
	m2 := f.member(t, ctx, "M2")
	m3 := f.member(t, ctx, "M3")
	m4 := f.member(t, ctx, "M4")

	_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m1, m2}, GroupID: choir.ID, StartDate: day(2024, 1, 1)})
	require.NoError(t, err)
	_, err = f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m3}, GroupID: band.ID, StartDate: day(2024, 1, 1)})
	require.NoError(t, err)

	result, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{
		MemberIDs: []snowflake.ID{m1, m2, m3, m4, m1},
		GroupID:   ushers.ID,
		StartDate: day(2024, 3, 1),
	})
	require.NoError(t, err)
	assert.Len(t, result.Opened, 4)
	assert.ElementsMatch(t, []domain.SourceMove{
		{GroupID: choir.ID, Members: 2},
		{GroupID: band.ID, Members: 1},
	}, result.Sources)

	assert.Equal(t, int64(4), f.count(t, ctx, ushers.ID))
	assert.Equal(t, int64(0), f.count(t, ctx, choir.ID))
	assert.Equal(t, int64(0), f.count(t, ctx, band.ID))

	m, err := f.members.Get(ctx, m1)
	require.NoError(t, err)
	require.NotNil(t, m.CurrentGroupID)
	assert.Equal(t, ushers.ID, *m.CurrentGroupID)

	page, err := f.ledgers.Group.Paginate(ctx, historydomain.PageRequest{MemberID: m1})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Choir", *page.Items[0].Snapshot)
	assert.True(t, page.Items[0].EndDate.Equal(day(2024, 3, 1)))
	assert.True(t, page.Items[1].Open())
}

func TestBulkAssignRejectsWholeBatch(t *testing.T) {
	f, ctx := newFixture(t)

	choir := f.group(t, ctx, nil, "Choir")
	band := f.group(t, ctx, nil, "Band")
	m1 := f.member(t, ctx, "M1")
	m2 := f.member(t, ctx, "M2")

	_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m1}, GroupID: choir.ID, StartDate: day(2024, 2, 1)})
	require.NoError(t, err)

	t.Run("already at target", func(t *testing.T) {
		_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m2, m1}, GroupID: choir.ID, StartDate: day(2024, 3, 1)})
		assert.ErrorIs(t, err, domain.ErrAlreadyAssigned)
		assert.True(t, orgerr.IsKind(err, orgerr.KindConflict))
		assert.Equal(t, []snowflake.ID{m1}, orgerr.MembersOf(err))
		assert.Equal(t, int64(1), f.count(t, ctx, choir.ID))
	})

	t.Run("unknown member", func(t *testing.T) {
		ghost := snowflake.ID(42)
		_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m2, ghost}, GroupID: band.ID, StartDate: day(2024, 3, 1)})
		assert.ErrorIs(t, err, memberdomain.ErrNotFound)
		assert.Equal(t, []snowflake.ID{ghost}, orgerr.MembersOf(err))
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m2}, GroupID: snowflake.ID(7), StartDate: day(2024, 3, 1)})
		assert.ErrorIs(t, err, hierarchydomain.ErrNotFound)
	})

	t.Run("move before current start rolls back", func(t *testing.T) {
		_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m2, m1}, GroupID: band.ID, StartDate: day(2024, 1, 15)})
		assert.ErrorIs(t, err, historydomain.ErrInvalidInterval)
		assert.Equal(t, []snowflake.ID{m1}, orgerr.MembersOf(err))

		assert.Equal(t, int64(1), f.count(t, ctx, choir.ID))
		assert.Equal(t, int64(0), f.count(t, ctx, band.ID))
		_, err = f.ledgers.Group.Current(ctx, m2)
		assert.ErrorIs(t, err, historydomain.ErrNotOpen)
	})

	t.Run("empty batch", func(t *testing.T) {
		_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{GroupID: band.ID})
		assert.ErrorIs(t, err, memberdomain.ErrNoMembers)
	})
}

func TestBulkUnassignRequiresMembership(t *testing.T) {
	f, ctx := newFixture(t)

	choir := f.group(t, ctx, nil, "Choir")
	band := f.group(t, ctx, nil, "Band")
	m1 := f.member(t, ctx, "M1")
	m2 := f.member(t, ctx, "M2")
	m3 := f.member(t, ctx, "M3")

	_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m1}, GroupID: choir.ID, StartDate: day(2024, 1, 1)})
	require.NoError(t, err)
	_, err = f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m2}, GroupID: band.ID, StartDate: day(2024, 1, 1)})
	require.NoError(t, err)

	_, err = f.svc.BulkUnassign(ctx, domain.BulkUnassignRequest{MemberIDs: []snowflake.ID{m1, m2, m3}, GroupID: choir.ID, EndDate: day(2024, 2, 1)})
	assert.ErrorIs(t, err, domain.ErrNotAssigned)
	assert.Equal(t, []snowflake.ID{m2, m3}, orgerr.MembersOf(err))
	assert.Equal(t, int64(1), f.count(t, ctx, choir.ID))

	_, err = f.svc.BulkUnassign(ctx, domain.BulkUnassignRequest{MemberIDs: []snowflake.ID{m1}, GroupID: choir.ID, EndDate: day(2024, 8, 1)})
	assert.ErrorIs(t, err, historydomain.ErrFutureDate)
}

func TestLeaderLifecycle(t *testing.T) {
	f, ctx := newFixture(t)

	adults := f.group(t, ctx, nil, "Adults")
	choir := f.group(t, ctx, &adults, "Choir")
	band := f.group(t, ctx, nil, "Band")
	m1 := f.member(t, ctx, "M1")
	m2 := f.member(t, ctx, "M2")
	m3 := f.member(t, ctx, "M3")

	_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m1, m2}, GroupID: choir.ID, StartDate: day(2024, 1, 1)})
	require.NoError(t, err)

	_, err = f.svc.PromoteLeader(ctx, domain.PromoteLeaderRequest{GroupID: choir.ID, MemberID: m3, Date: day(2024, 2, 1)})
	assert.ErrorIs(t, err, domain.ErrNotGroupMember)

	_, err = f.svc.DemoteLeader(ctx, domain.DemoteLeaderRequest{GroupID: choir.ID, Date: day(2024, 2, 1)})
	assert.ErrorIs(t, err, domain.ErrNoLeader)

	first, err := f.svc.PromoteLeader(ctx, domain.PromoteLeaderRequest{GroupID: choir.ID, MemberID: m1, Date: day(2024, 2, 1)})
	require.NoError(t, err)
	assert.Equal(t, historydomain.AxisLeader, first.Axis)
	require.NotNil(t, first.ParentID)
	require.NotNil(t, f.leader(t, ctx, choir.ID))
	assert.Equal(t, m1, *f.leader(t, ctx, choir.ID))

	_, err = f.svc.PromoteLeader(ctx, domain.PromoteLeaderRequest{GroupID: choir.ID, MemberID: m1, Date: day(2024, 3, 1)})
	assert.ErrorIs(t, err, domain.ErrAlreadyLeader)

	_, err = f.svc.PromoteLeader(ctx, domain.PromoteLeaderRequest{GroupID: choir.ID, MemberID: m2, Date: day(2024, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, m2, *f.leader(t, ctx, choir.ID))

	previous, err := f.ledgers.Leader.Get(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, previous.Snapshot)
	assert.Equal(t, "Adults__Choir", *previous.Snapshot)
	assert.True(t, previous.EndDate.Equal(day(2024, 3, 1)))

	// Moving the leader out of the group ends their term first.
	_, err = f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m2}, GroupID: band.ID, StartDate: day(2024, 4, 1)})
	require.NoError(t, err)
	assert.Nil(t, f.leader(t, ctx, choir.ID))
	_, err = f.ledgers.Leader.Current(ctx, m2)
	assert.ErrorIs(t, err, historydomain.ErrNotOpen)
	assert.Equal(t, int64(1), f.count(t, ctx, choir.ID))

	logs, err := f.audit.List(ctx, auditdomain.ListAuditLogRequest{
		Action:   auditdomain.ActionGroupLeaderChanged,
		TargetID: choir.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), logs.Total)
	for _, entry := range logs.AuditLogs {
		assert.NotNil(t, entry.ActorID)
	}
}

func TestDemoteLeader(t *testing.T) {
	f, ctx := newFixture(t)

	choir := f.group(t, ctx, nil, "Choir")
	m1 := f.member(t, ctx, "M1")

	_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{m1}, GroupID: choir.ID, StartDate: day(2024, 1, 1)})
	require.NoError(t, err)
	_, err = f.svc.PromoteLeader(ctx, domain.PromoteLeaderRequest{GroupID: choir.ID, MemberID: m1, Date: day(2024, 1, 1)})
	require.NoError(t, err)

	row, err := f.svc.DemoteLeader(ctx, domain.DemoteLeaderRequest{GroupID: choir.ID, Date: day(2024, 5, 1)})
	require.NoError(t, err)
	assert.Equal(t, "Choir", *row.Snapshot)
	assert.Nil(t, f.leader(t, ctx, choir.ID))

	open, err := f.ledgers.Group.IsOpenByRef(ctx, m1, choir.ID)
	require.NoError(t, err)
	assert.True(t, open, "demotion keeps the membership")
}

func TestStaleLeaderPointerKeepsOtherGroupTerm(t *testing.T) {
	// X led A, lost the membership behind the coordinator's back and now leads B,
	// while A's pointer still names X.
	setup := func(t *testing.T) (*fixture, context.Context, hierarchydomain.Group, hierarchydomain.Group, snowflake.ID, snowflake.ID) {
		f, ctx := newFixture(t)
		a := f.group(t, ctx, nil, "A")
		b := f.group(t, ctx, nil, "B")
		x := f.member(t, ctx, "X")
		y := f.member(t, ctx, "Y")

		_, err := f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{x, y}, GroupID: a.ID, StartDate: day(2024, 1, 1)})
		require.NoError(t, err)
		_, err = f.svc.PromoteLeader(ctx, domain.PromoteLeaderRequest{GroupID: a.ID, MemberID: x, Date: day(2024, 2, 1)})
		require.NoError(t, err)
		_, err = f.ledgers.Group.Close(ctx, historydomain.CloseRequest{MemberID: x, EndDate: day(2024, 3, 1)})
		require.NoError(t, err)
		_, err = f.svc.BulkAssign(ctx, domain.BulkAssignRequest{MemberIDs: []snowflake.ID{x}, GroupID: b.ID, StartDate: day(2024, 3, 1)})
		require.NoError(t, err)
		_, err = f.svc.PromoteLeader(ctx, domain.PromoteLeaderRequest{GroupID: b.ID, MemberID: x, Date: day(2024, 4, 1)})
		require.NoError(t, err)

		require.NotNil(t, f.leader(t, ctx, a.ID))
		require.Equal(t, x, *f.leader(t, ctx, a.ID))
		return f, ctx, a, b, x, y
	}

	assertStillLeadsB := func(t *testing.T, f *fixture, ctx context.Context, b hierarchydomain.Group, x snowflake.ID) {
		t.Helper()
		term, err := f.ledgers.Leader.Current(ctx, x)
		require.NoError(t, err)
		require.NotNil(t, term.LiveRefID)
		assert.Equal(t, b.ID, *term.LiveRefID)
		assert.Nil(t, term.EndDate)
		require.NotNil(t, f.leader(t, ctx, b.ID))
		assert.Equal(t, x, *f.leader(t, ctx, b.ID))
	}

	t.Run("promote in A", func(t *testing.T) {
		f, ctx, a, b, x, y := setup(t)

		_, err := f.svc.PromoteLeader(ctx, domain.PromoteLeaderRequest{GroupID: a.ID, MemberID: y, Date: day(2024, 5, 1)})
		require.NoError(t, err)

		require.NotNil(t, f.leader(t, ctx, a.ID))
		assert.Equal(t, y, *f.leader(t, ctx, a.ID))
		term, err := f.ledgers.Leader.Current(ctx, y)
		require.NoError(t, err)
		assert.Equal(t, a.ID, *term.LiveRefID)
		assertStillLeadsB(t, f, ctx, b, x)
	})

	t.Run("demote in A", func(t *testing.T) {
		f, ctx, a, b, x, _ := setup(t)

		_, err := f.svc.DemoteLeader(ctx, domain.DemoteLeaderRequest{GroupID: a.ID, Date: day(2024, 5, 1)})
		require.NoError(t, err)

		assert.Nil(t, f.leader(t, ctx, a.ID))
		assertStillLeadsB(t, f, ctx, b, x)
	})
}

func TestOfficerAssignment(t *testing.T) {
	f, ctx := newFixture(t)

	treasurer, err := f.officers.Create(ctx, officerdomain.CreateOfficerRequest{Name: "Treasurer"})
	require.NoError(t, err)
	secretary, err := f.officers.Create(ctx, officerdomain.CreateOfficerRequest{Name: "Secretary"})
	require.NoError(t, err)
	m1 := f.member(t, ctx, "M1")

	_, err = f.svc.UnassignOfficer(ctx, domain.UnassignOfficerRequest{MemberID: m1, EndDate: day(2024, 2, 1)})
	assert.ErrorIs(t, err, domain.ErrNotAssigned)

	_, err = f.svc.AssignOfficer(ctx, domain.AssignOfficerRequest{MemberID: m1, OfficerID: treasurer.ID, StartDate: day(2024, 1, 1)})
	require.NoError(t, err)

	_, err = f.svc.AssignOfficer(ctx, domain.AssignOfficerRequest{MemberID: m1, OfficerID: treasurer.ID, StartDate: day(2024, 2, 1)})
	assert.ErrorIs(t, err, domain.ErrAlreadyAssigned)

	_, err = f.svc.AssignOfficer(ctx, domain.AssignOfficerRequest{MemberID: m1, OfficerID: secretary.ID, StartDate: day(2024, 3, 1)})
	require.NoError(t, err)

	got, err := f.officers.Get(ctx, treasurer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.MemberCount)
	got, err = f.officers.Get(ctx, secretary.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MemberCount)

	m, err := f.members.Get(ctx, m1)
	require.NoError(t, err)
	require.NotNil(t, m.CurrentOfficerID)
	assert.Equal(t, secretary.ID, *m.CurrentOfficerID)

	closed, err := f.svc.UnassignOfficer(ctx, domain.UnassignOfficerRequest{MemberID: m1, EndDate: day(2024, 6, 1)})
	require.NoError(t, err)
	assert.Equal(t, "Secretary", *closed.Snapshot)

	got, err = f.officers.Get(ctx, secretary.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.MemberCount)

	page, err := f.ledgers.Officer.Paginate(ctx, historydomain.PageRequest{MemberID: m1})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Treasurer", *page.Items[0].Snapshot)
}
