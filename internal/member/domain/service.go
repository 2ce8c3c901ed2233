package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
)

type CreateMemberRequest struct {
	FullName string
}

type ListMemberRequest struct {
	pagination.Pagination
	Name           string
	CurrentGroupID *snowflake.ID
}

type ListMemberFilter struct {
	Name           string
	CurrentGroupID *snowflake.ID
}

type ListMemberResponse struct {
	pagination.PageInfo
	Members []Member `json:"members"`
}

type Service interface {
	Create(ctx context.Context, req CreateMemberRequest) (Member, error)
	Get(ctx context.Context, id snowflake.ID) (Member, error)
	List(ctx context.Context, req ListMemberRequest) (ListMemberResponse, error)
	ListByIDs(ctx context.Context, ids []snowflake.ID) ([]Member, error)

	// ExistAll fails with ErrNotFound listing the unknown ids when any member is
	// missing from the organization.
	ExistAll(ctx context.Context, ids []snowflake.ID) error
}

var (
	ErrNotFound       = orgerr.New(orgerr.KindNotFound, "member_not_found", "member not found")
	ErrInvalidName    = orgerr.New(orgerr.KindInvalidArgument, "invalid_name", "member name must be 1 to 200 characters")
	ErrNoMembers      = orgerr.New(orgerr.KindInvalidArgument, "no_members", "at least one member is required")
	ErrInvalidPointer = orgerr.New(orgerr.KindInvalidArgument, "invalid_pointer", "unknown member pointer column")
)
