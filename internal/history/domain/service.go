package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	memberdomain "github.com/smallbiznis/congregate/internal/member/domain"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
)

// NameResolver renders the text snapshot of a live reference when an interval closes.
type NameResolver interface {
	ResolveName(ctx context.Context, refID snowflake.ID) (string, error)
}

// NameResolverFunc adapts a function to NameResolver.
type NameResolverFunc func(ctx context.Context, refID snowflake.ID) (string, error)

func (f NameResolverFunc) ResolveName(ctx context.Context, refID snowflake.ID) (string, error) {
	return f(ctx, refID)
}

// AxisConfig parameterizes a ledger. Parent is set for detail axes whose rows nest
// inside a row of the parent axis. Pointer names the member column the axis keeps
// in sync with its open row, or PointerNone.
type AxisConfig struct {
	Axis     Axis
	Parent   Axis
	Resolver NameResolver
	Pointer  memberdomain.Pointer
}

// Detail reports whether rows of this axis nest inside a parent row.
func (c AxisConfig) Detail() bool {
	return c.Parent != ""
}

type OpenRequest struct {
	MemberID  snowflake.ID
	LiveRefID snowflake.ID
	StartDate time.Time
	// ParentID is the enclosing parent-axis row, required on detail axes.
	ParentID *snowflake.ID
}

type OpenManyRequest struct {
	MemberIDs []snowflake.ID
	LiveRefID snowflake.ID
	StartDate time.Time
}

type CloseRequest struct {
	MemberID snowflake.ID
	EndDate  time.Time
	// Snapshot overrides the resolved name when set.
	Snapshot *string
}

type BulkCloseRequest struct {
	LiveRefID snowflake.ID
	MemberIDs []snowflake.ID
	EndDate   time.Time
	Snapshot  *string
}

type UpdateRequest struct {
	ID        snowflake.ID
	StartDate *time.Time
	EndDate   *time.Time
}

type PageRequest struct {
	pagination.Pagination
	MemberID  snowflake.ID
	Direction pagination.Direction
}

type Page struct {
	pagination.PageInfo
	Items []History `json:"items"`
}

// Ledger keeps the interval history of one axis.
type Ledger interface {
	Axis() Axis

	Open(ctx context.Context, req OpenRequest) (History, error)
	OpenMany(ctx context.Context, req OpenManyRequest) ([]History, error)
	Close(ctx context.Context, req CloseRequest) (History, error)
	CloseByRef(ctx context.Context, req BulkCloseRequest) (int64, error)
	Update(ctx context.Context, req UpdateRequest) (History, error)
	Delete(ctx context.Context, id snowflake.ID) error

	Get(ctx context.Context, id snowflake.ID) (History, error)
	Paginate(ctx context.Context, req PageRequest) (Page, error)
	Current(ctx context.Context, memberID snowflake.ID) (History, error)
	OpenRows(ctx context.Context, memberIDs []snowflake.ID) (map[snowflake.ID]History, error)
	ListOpenByRef(ctx context.Context, refID snowflake.ID) ([]History, error)
	CountOpenByRef(ctx context.Context, refID snowflake.ID) (int64, error)
	IsOpenByRef(ctx context.Context, memberID, refID snowflake.ID) (bool, error)
}

// Ledgers holds one ledger per axis.
type Ledgers struct {
	Group   Ledger
	Officer Ledger
	Leader  Ledger
}

// For returns the ledger of axis.
func (l Ledgers) For(axis Axis) (Ledger, error) {
	var ledger Ledger
	switch axis {
	case AxisGroup:
		ledger = l.Group
	case AxisOfficer:
		ledger = l.Officer
	case AxisLeader:
		ledger = l.Leader
	}
	if ledger == nil {
		return nil, ErrInvalidAxis
	}
	return ledger, nil
}

var (
	ErrNotFound            = orgerr.New(orgerr.KindNotFound, "history_not_found", "history row not found")
	ErrNotOpen             = orgerr.New(orgerr.KindNotFound, "history_not_open", "member has no open interval on this axis")
	ErrParentNotFound      = orgerr.New(orgerr.KindNotFound, "parent_history_not_found", "enclosing history row not found")
	ErrAlreadyOpen         = orgerr.New(orgerr.KindConflict, "history_already_open", "member already has an open interval on this axis")
	ErrCannotUpdateEndDate = orgerr.New(orgerr.KindConflict, "CANNOT_UPDATE_END_DATE", "an open interval can only be ended by closing it")
	ErrCannotDelete        = orgerr.New(orgerr.KindConflict, "CANNOT_DELETE", "only closed intervals can be deleted")
	ErrInvalidInterval     = orgerr.New(orgerr.KindInvalidInterval, "invalid_interval", "start date must not be after end date")
	ErrFutureDate          = orgerr.New(orgerr.KindInvalidInterval, "future_date", "dates cannot be in the future")
	ErrOverlap             = orgerr.New(orgerr.KindInvalidInterval, "interval_overlap", "interval overlaps another interval of the member")
	ErrOutsideParent       = orgerr.New(orgerr.KindInvalidInterval, "outside_parent_interval", "detail interval must fall within its parent interval")
	ErrStrandsDetail       = orgerr.New(orgerr.KindInvalidInterval, "strands_detail_interval", "change would leave a detail interval outside its parent")
	ErrInvalidAxis         = orgerr.New(orgerr.KindInvalidArgument, "invalid_axis", "unknown history axis")
	ErrInvalidReference    = orgerr.New(orgerr.KindInvalidArgument, "invalid_reference", "live reference is required")
)
