package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/orgerr"
)

type CreateGroupRequest struct {
	ParentID *snowflake.ID
	Name     string
	Order    int
}

// OpenCounter reports how many open assignment rows point at a group. It lets the
// store recount members without depending on the ledger.
type OpenCounter interface {
	CountOpenByRef(ctx context.Context, refID snowflake.ID) (int64, error)
	IsOpenByRef(ctx context.Context, memberID, refID snowflake.ID) (bool, error)
}

type Service interface {
	Create(ctx context.Context, req CreateGroupRequest) (Group, error)
	Rename(ctx context.Context, id snowflake.ID, name string) (Group, error)
	Reorder(ctx context.Context, id snowflake.ID, order int) (Group, error)
	Reparent(ctx context.Context, id snowflake.ID, newParentID *snowflake.ID) (Group, error)
	Delete(ctx context.Context, id snowflake.ID) error

	Get(ctx context.Context, id snowflake.ID) (Group, error)
	List(ctx context.Context) ([]Group, error)
	Roots(ctx context.Context) ([]Group, error)
	Tree(ctx context.Context) ([]TreeNode, error)

	Ancestors(ctx context.Context, id snowflake.ID) ([]Group, error)
	Descendants(ctx context.Context, id snowflake.ID) ([]snowflake.ID, error)
	Depth(ctx context.Context, id snowflake.ID) (int, error)

	IncrementCount(ctx context.Context, id snowflake.ID, delta int64) error
	DecrementCount(ctx context.Context, id snowflake.ID, delta int64) error
	RecountMembers(ctx context.Context, id snowflake.ID, counter OpenCounter) (CountDrift, error)
	ReconcileCounts(ctx context.Context, counter OpenCounter) ([]CountDrift, error)

	SetLeader(ctx context.Context, id snowflake.ID, memberID *snowflake.ID) error
}

// PathResolver renders a group's position in the tree as text.
type PathResolver interface {
	Path(ctx context.Context, id snowflake.ID) ([]Group, error)
	PathName(ctx context.Context, id snowflake.ID) (string, error)
	PathSlug(ctx context.Context, id snowflake.ID) (string, error)
	ResolveName(ctx context.Context, id snowflake.ID) (string, error)
}

var (
	ErrNotFound       = orgerr.New(orgerr.KindNotFound, "group_not_found", "group not found")
	ErrParentNotFound = orgerr.New(orgerr.KindNotFound, "parent_group_not_found", "parent group not found")
	ErrInvalidName    = orgerr.New(orgerr.KindInvalidArgument, "invalid_name", "group name must be 1 to 120 characters")
	ErrInvalidDelta   = orgerr.New(orgerr.KindInvalidArgument, "invalid_delta", "count delta must be positive")
	ErrDuplicateName  = orgerr.New(orgerr.KindConflict, "duplicate_name", "a sibling group already uses this name")
	ErrHasChildren    = orgerr.New(orgerr.KindConflict, "group_has_children", "group still has child groups")
	ErrHasMembers     = orgerr.New(orgerr.KindConflict, "group_has_members", "group still has members")
	ErrDepthExceeded  = orgerr.New(orgerr.KindDepthExceeded, "depth_exceeded", "group tree would exceed the maximum depth")
	ErrCycleDetected  = orgerr.New(orgerr.KindCycleDetected, "cycle_detected", "group cannot be moved under itself or its descendants")
	ErrCountUnderflow = orgerr.New(orgerr.KindInternalConsistency, "member_count_underflow", "member count would drop below zero")
	ErrCorruptedTree  = orgerr.New(orgerr.KindInternalConsistency, "corrupted_tree", "parent chain exceeds the maximum depth")
)
