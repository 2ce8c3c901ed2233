package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	auditrepository "github.com/smallbiznis/congregate/internal/audit/repository"
	auditservice "github.com/smallbiznis/congregate/internal/audit/service"
	"github.com/smallbiznis/congregate/internal/cache"
	"github.com/smallbiznis/congregate/internal/config"
	"github.com/smallbiznis/congregate/internal/hierarchy/domain"
	"github.com/smallbiznis/congregate/internal/hierarchy/repository"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	svc      *Service
	resolver *PathResolver
	cache    cache.PathCache
}

func newFixture(t *testing.T) (*fixture, context.Context) {
	t.Helper()

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	clk := testutil.Clock(2024, 3, 1)
	repo := repository.Provide()
	pathCache := cache.NewMemoryPathCache(0)

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: clk,
	})
	svc := newService(Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Repo:   repo,
		Clock:  clk,
		Config: config.Default(),
		Audit:  audit,
		Cache:  pathCache,
	})
	resolver := NewPathResolver(PathResolverParams{
		DB:     db,
		Repo:   repo,
		Config: config.Default(),
		Cache:  pathCache,
	})

	ctx, _ := testutil.OrgContext(t, node)
	return &fixture{db: db, node: node, svc: svc, resolver: resolver, cache: pathCache}, ctx
}

func mustGroup(t *testing.T, ctx context.Context, svc *Service, parent *domain.Group, name string) domain.Group {
	t.Helper()
	req := domain.CreateGroupRequest{Name: name}
	if parent != nil {
		req.ParentID = &parent.ID
	}
	group, err := svc.Create(ctx, req)
	require.NoError(t, err)
	return group
}

// chain builds root > g2 > ... > gN and returns them outermost first.
func chain(t *testing.T, ctx context.Context, svc *Service, names ...string) []domain.Group {
	t.Helper()
	groups := make([]domain.Group, 0, len(names))
	var parent *domain.Group
	for _, name := range names {
		group := mustGroup(t, ctx, svc, parent, name)
		groups = append(groups, group)
		parent = &groups[len(groups)-1]
	}
	return groups
}

type stubCounter struct {
	counts  map[snowflake.ID]int64
	leaders map[snowflake.ID]bool
}

func (s stubCounter) CountOpenByRef(_ context.Context, refID snowflake.ID) (int64, error) {
	return s.counts[refID], nil
}

func (s stubCounter) IsOpenByRef(_ context.Context, memberID, _ snowflake.ID) (bool, error) {
	return s.leaders[memberID], nil
}

func TestCreateMaintainsChildIDs(t *testing.T) {
	f, ctx := newFixture(t)

	adults := mustGroup(t, ctx, f.svc, nil, "Adults")
	men := mustGroup(t, ctx, f.svc, &adults, "Men's Fellowship")
	women := mustGroup(t, ctx, f.svc, &adults, "Women's Fellowship")

	parent, err := f.svc.Get(ctx, adults.ID)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{men.ID, women.ID}, []snowflake.ID(parent.ChildIDs))
	assert.Equal(t, "adults", adults.Slug)
	assert.Zero(t, men.MemberCount)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f, ctx := newFixture(t)

	_, err := f.svc.Create(ctx, domain.CreateGroupRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	missing := f.node.Generate()
	_, err = f.svc.Create(ctx, domain.CreateGroupRequest{ParentID: &missing, Name: "Youth"})
	assert.ErrorIs(t, err, domain.ErrParentNotFound)

	_, err = f.svc.Create(context.Background(), domain.CreateGroupRequest{Name: "Youth"})
	assert.ErrorIs(t, err, orgerr.ErrInvalidOrganization)
}

func TestCreateRejectsDuplicateSiblingName(t *testing.T) {
	f, ctx := newFixture(t)

	adults := mustGroup(t, ctx, f.svc, nil, "Adults")
	mustGroup(t, ctx, f.svc, &adults, "Choir")

	_, err := f.svc.Create(ctx, domain.CreateGroupRequest{ParentID: &adults.ID, Name: "choir"})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
	assert.True(t, orgerr.IsKind(err, orgerr.KindConflict))

	// The same name under another parent is fine.
	youth := mustGroup(t, ctx, f.svc, nil, "Youth")
	mustGroup(t, ctx, f.svc, &youth, "Choir")
}

func TestCreateEnforcesMaxDepth(t *testing.T) {
	f, ctx := newFixture(t)

	groups := chain(t, ctx, f.svc, "L1", "L2", "L3", "L4", "L5")

	depth, err := f.svc.Depth(ctx, groups[4].ID)
	require.NoError(t, err)
	assert.Equal(t, 5, depth)

	_, err = f.svc.Create(ctx, domain.CreateGroupRequest{ParentID: &groups[4].ID, Name: "L6"})
	assert.ErrorIs(t, err, domain.ErrDepthExceeded)
	assert.True(t, orgerr.IsKind(err, orgerr.KindDepthExceeded))

	parent, err := f.svc.Get(ctx, groups[4].ID)
	require.NoError(t, err)
	assert.Empty(t, parent.ChildIDs)
}

func TestRename(t *testing.T) {
	f, ctx := newFixture(t)

	adults := mustGroup(t, ctx, f.svc, nil, "Adults")
	mustGroup(t, ctx, f.svc, &adults, "Choir")
	band := mustGroup(t, ctx, f.svc, &adults, "Band")

	_, err := f.svc.Rename(ctx, band.ID, "CHOIR")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	renamed, err := f.svc.Rename(ctx, band.ID, "Worship Team")
	require.NoError(t, err)
	assert.Equal(t, "Worship Team", renamed.Name)
	assert.Equal(t, "worship-team", renamed.Slug)

	name, err := f.resolver.PathName(ctx, band.ID)
	require.NoError(t, err)
	assert.Equal(t, "Adults__Worship Team", name)

	_, err = f.svc.Rename(ctx, f.node.Generate(), "Nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReorderChangesTreeOrder(t *testing.T) {
	f, ctx := newFixture(t)

	adults := mustGroup(t, ctx, f.svc, nil, "Adults")
	alpha := mustGroup(t, ctx, f.svc, &adults, "Alpha")
	beta := mustGroup(t, ctx, f.svc, &adults, "Beta")

	_, err := f.svc.Reorder(ctx, beta.ID, -1)
	require.NoError(t, err)

	tree, err := f.svc.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, beta.ID, tree[0].Children[0].Group.ID)
	assert.Equal(t, alpha.ID, tree[0].Children[1].Group.ID)
	assert.Equal(t, 2, tree[0].Children[0].Depth)
}

func TestReparentMovesBetweenParents(t *testing.T) {
	f, ctx := newFixture(t)

	adults := mustGroup(t, ctx, f.svc, nil, "Adults")
	youth := mustGroup(t, ctx, f.svc, nil, "Youth")
	choir := mustGroup(t, ctx, f.svc, &adults, "Choir")

	moved, err := f.svc.Reparent(ctx, choir.ID, &youth.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, youth.ID, *moved.ParentID)

	oldParent, err := f.svc.Get(ctx, adults.ID)
	require.NoError(t, err)
	assert.Empty(t, oldParent.ChildIDs)

	newParent, err := f.svc.Get(ctx, youth.ID)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{choir.ID}, []snowflake.ID(newParent.ChildIDs))

	name, err := f.resolver.PathName(ctx, choir.ID)
	require.NoError(t, err)
	assert.Equal(t, "Youth__Choir", name)

	// Promote to root.
	root, err := f.svc.Reparent(ctx, choir.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, root.ParentID)

	roots, err := f.svc.Roots(ctx)
	require.NoError(t, err)
	assert.Len(t, roots, 3)
}

func TestReparentRejectsCycle(t *testing.T) {
	f, ctx := newFixture(t)

	groups := chain(t, ctx, f.svc, "A", "B", "C")

	_, err := f.svc.Reparent(ctx, groups[0].ID, &groups[2].ID)
	assert.ErrorIs(t, err, domain.ErrCycleDetected)

	_, err = f.svc.Reparent(ctx, groups[1].ID, &groups[1].ID)
	assert.ErrorIs(t, err, domain.ErrCycleDetected)

	ancestors, err := f.svc.Ancestors(ctx, groups[2].ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, groups[0].ID, ancestors[0].ID)
	assert.Equal(t, groups[1].ID, ancestors[1].ID)
}

func TestReparentEnforcesDepthOfSubtree(t *testing.T) {
	f, ctx := newFixture(t)

	deep := chain(t, ctx, f.svc, "D1", "D2", "D3")
	sub := chain(t, ctx, f.svc, "S1", "S2", "S3")

	// S1 would land at depth 4 and S3 at depth 6.
	_, err := f.svc.Reparent(ctx, sub[0].ID, &deep[2].ID)
	assert.ErrorIs(t, err, domain.ErrDepthExceeded)

	// Depth 3 plus two levels below fits exactly.
	_, err = f.svc.Reparent(ctx, sub[0].ID, &deep[1].ID)
	require.NoError(t, err)

	depth, err := f.svc.Depth(ctx, sub[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 5, depth)

	descendants, err := f.svc.Descendants(ctx, deep[0].ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []snowflake.ID{deep[1].ID, deep[2].ID, sub[0].ID, sub[1].ID, sub[2].ID}, descendants)
}

// assertForest walks every group to its root and checks that both sides of each
// parent link agree.
func assertForest(t *testing.T, ctx context.Context, svc *Service) {
	t.Helper()
	groups, err := svc.List(ctx)
	require.NoError(t, err)

	byID := make(map[snowflake.ID]domain.Group, len(groups))
	for _, group := range groups {
		byID[group.ID] = group
	}
	for _, group := range groups {
		depth := 1
		for cur := group; cur.ParentID != nil; depth++ {
			require.LessOrEqual(t, depth, len(groups), "cycle through %s", group.Name)
			parent, ok := byID[*cur.ParentID]
			require.True(t, ok, "%s points at a missing parent", cur.Name)
			assert.True(t, parent.HasChild(cur.ID), "%s does not list %s", parent.Name, cur.Name)
			cur = parent
		}
		assert.LessOrEqual(t, depth, config.MaxHierarchyDepth, "%s is too deep", group.Name)
		for _, childID := range group.ChildIDs {
			child, ok := byID[childID]
			require.True(t, ok, "%s lists a missing child", group.Name)
			require.NotNil(t, child.ParentID)
			assert.Equal(t, group.ID, *child.ParentID)
		}
	}
}

func TestReparentSequenceKeepsForestValid(t *testing.T) {
	f, ctx := newFixture(t)

	abc := chain(t, ctx, f.svc, "A", "B", "C")
	de := chain(t, ctx, f.svc, "D", "E")
	root := mustGroup(t, ctx, f.svc, nil, "F")
	ids := map[string]snowflake.ID{
		"A": abc[0].ID, "B": abc[1].ID, "C": abc[2].ID,
		"D": de[0].ID, "E": de[1].ID, "F": root.ID,
	}

	steps := []struct {
		group   string
		parent  string
		wantErr error
	}{
		{group: "D", parent: "C"},
		{group: "F", parent: "E", wantErr: domain.ErrDepthExceeded},
		{group: "A", parent: "E", wantErr: domain.ErrCycleDetected},
		{group: "C", parent: "F"},
		{group: "A", parent: "E", wantErr: domain.ErrDepthExceeded},
		{group: "B", parent: ""},
		{group: "A", parent: "E"},
		{group: "F", parent: "A", wantErr: domain.ErrCycleDetected},
		{group: "E", parent: "B"},
		{group: "D", parent: "D", wantErr: domain.ErrCycleDetected},
		{group: "B", parent: "A", wantErr: domain.ErrCycleDetected},
		{group: "F", parent: "A", wantErr: domain.ErrDepthExceeded},
		{group: "D", parent: ""},
		{group: "F", parent: "A"},
	}

	for i, step := range steps {
		var parentID *snowflake.ID
		if step.parent != "" {
			id := ids[step.parent]
			parentID = &id
		}

		moved, err := f.svc.Reparent(ctx, ids[step.group], parentID)
		if step.wantErr != nil {
			require.ErrorIs(t, err, step.wantErr, "step %d: %s under %s", i, step.group, step.parent)
		} else {
			require.NoError(t, err, "step %d: %s under %s", i, step.group, step.parent)
			assert.Equal(t, parentID, moved.ParentID)
		}
		assertForest(t, ctx, f.svc)
	}

	// Final shape: D alone, B > E > A > F > C.
	ancestors, err := f.svc.Ancestors(ctx, ids["C"])
	require.NoError(t, err)
	names := make([]string, 0, len(ancestors))
	for _, group := range ancestors {
		names = append(names, group.Name)
	}
	assert.Equal(t, []string{"B", "E", "A", "F"}, names)

	depth, err := f.svc.Depth(ctx, ids["C"])
	require.NoError(t, err)
	assert.Equal(t, 5, depth)
}

func TestReparentRejectsDuplicateNameUnderNewParent(t *testing.T) {
	f, ctx := newFixture(t)

	adults := mustGroup(t, ctx, f.svc, nil, "Adults")
	youth := mustGroup(t, ctx, f.svc, nil, "Youth")
	mustGroup(t, ctx, f.svc, &adults, "Choir")
	youthChoir := mustGroup(t, ctx, f.svc, &youth, "Choir")

	_, err := f.svc.Reparent(ctx, youthChoir.ID, &adults.ID)
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	parent, err := f.svc.Get(ctx, youth.ID)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{youthChoir.ID}, []snowflake.ID(parent.ChildIDs))
}

func TestDelete(t *testing.T) {
	f, ctx := newFixture(t)

	adults := mustGroup(t, ctx, f.svc, nil, "Adults")
	choir := mustGroup(t, ctx, f.svc, &adults, "Choir")

	err := f.svc.Delete(ctx, adults.ID)
	assert.ErrorIs(t, err, domain.ErrHasChildren)

	require.NoError(t, f.svc.IncrementCount(ctx, choir.ID, 1))
	err = f.svc.Delete(ctx, choir.ID)
	assert.ErrorIs(t, err, domain.ErrHasMembers)

	require.NoError(t, f.svc.DecrementCount(ctx, choir.ID, 1))
	require.NoError(t, f.svc.Delete(ctx, choir.ID))

	_, err = f.svc.Get(ctx, choir.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	parent, err := f.svc.Get(ctx, adults.ID)
	require.NoError(t, err)
	assert.Empty(t, parent.ChildIDs)

	// Deleted groups still render for snapshots.
	name, err := f.resolver.PathName(ctx, choir.ID)
	require.NoError(t, err)
	assert.Equal(t, "Adults__Choir", name)

	// The name is free again.
	mustGroup(t, ctx, f.svc, &adults, "Choir")
	assert.ErrorIs(t, f.svc.Delete(ctx, adults.ID), domain.ErrHasChildren)
}
