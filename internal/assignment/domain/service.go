package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	historydomain "github.com/smallbiznis/congregate/internal/history/domain"
	"github.com/smallbiznis/congregate/internal/orgerr"
)

// BulkAssignRequest moves members into a group. A zero StartDate means today.
type BulkAssignRequest struct {
	MemberIDs []snowflake.ID
	GroupID   snowflake.ID
	StartDate time.Time
}

type BulkUnassignRequest struct {
	MemberIDs []snowflake.ID
	GroupID   snowflake.ID
	EndDate   time.Time
}

type PromoteLeaderRequest struct {
	GroupID  snowflake.ID
	MemberID snowflake.ID
	Date     time.Time
}

type DemoteLeaderRequest struct {
	GroupID snowflake.ID
	Date    time.Time
}

type AssignOfficerRequest struct {
	MemberID  snowflake.ID
	OfficerID snowflake.ID
	StartDate time.Time
}

type UnassignOfficerRequest struct {
	MemberID snowflake.ID
	EndDate  time.Time
}

// SourceMove counts the members a bulk assignment took out of one group.
type SourceMove struct {
	GroupID snowflake.ID `json:"group_id"`
	Members int          `json:"members"`
}

type BulkAssignResult struct {
	GroupID snowflake.ID            `json:"group_id"`
	Sources []SourceMove            `json:"sources"`
	Opened  []historydomain.History `json:"opened"`
}

type BulkUnassignResult struct {
	GroupID snowflake.ID `json:"group_id"`
	Closed  int64        `json:"closed"`
}

// Service coordinates the ledgers and counters of a move so that every step
// commits or rolls back together.
type Service interface {
	BulkAssign(ctx context.Context, req BulkAssignRequest) (BulkAssignResult, error)
	BulkUnassign(ctx context.Context, req BulkUnassignRequest) (BulkUnassignResult, error)
	PromoteLeader(ctx context.Context, req PromoteLeaderRequest) (historydomain.History, error)
	DemoteLeader(ctx context.Context, req DemoteLeaderRequest) (historydomain.History, error)
	AssignOfficer(ctx context.Context, req AssignOfficerRequest) (historydomain.History, error)
	UnassignOfficer(ctx context.Context, req UnassignOfficerRequest) (historydomain.History, error)
}

var (
	ErrAlreadyAssigned = orgerr.New(orgerr.KindConflict, "already_assigned", "members are already assigned to the target")
	ErrNotAssigned     = orgerr.New(orgerr.KindConflict, "not_assigned", "members are not assigned to the source")
	ErrNotGroupMember  = orgerr.New(orgerr.KindConflict, "not_group_member", "member does not belong to the group")
	ErrAlreadyLeader   = orgerr.New(orgerr.KindConflict, "already_leader", "member already leads the group")
	ErrNoLeader        = orgerr.New(orgerr.KindNotFound, "leader_not_found", "group has no leader")
)
