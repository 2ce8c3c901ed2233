package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/orgerr"
)

type CreateOfficerRequest struct {
	Name  string
	Order int
}

// OpenCounter reports how many members currently hold a title.
type OpenCounter interface {
	CountOpenByRef(ctx context.Context, refID snowflake.ID) (int64, error)
}

type Service interface {
	Create(ctx context.Context, req CreateOfficerRequest) (Officer, error)
	Rename(ctx context.Context, id snowflake.ID, name string) (Officer, error)
	Delete(ctx context.Context, id snowflake.ID) error
	Get(ctx context.Context, id snowflake.ID) (Officer, error)
	List(ctx context.Context) ([]Officer, error)

	IncrementCount(ctx context.Context, id snowflake.ID, delta int64) error
	DecrementCount(ctx context.Context, id snowflake.ID, delta int64) error
	RecountMembers(ctx context.Context, id snowflake.ID, counter OpenCounter) (CountDrift, error)
	ReconcileCounts(ctx context.Context, counter OpenCounter) ([]CountDrift, error)

	// ResolveName is the snapshot text stored when a title interval closes.
	ResolveName(ctx context.Context, id snowflake.ID) (string, error)
}

var (
	ErrNotFound       = orgerr.New(orgerr.KindNotFound, "officer_not_found", "officer not found")
	ErrInvalidName    = orgerr.New(orgerr.KindInvalidArgument, "invalid_name", "officer name must be 1 to 120 characters")
	ErrInvalidDelta   = orgerr.New(orgerr.KindInvalidArgument, "invalid_delta", "count delta must be positive")
	ErrDuplicateName  = orgerr.New(orgerr.KindConflict, "duplicate_name", "another officer already uses this name")
	ErrHasMembers     = orgerr.New(orgerr.KindConflict, "officer_has_members", "officer title is still held by members")
	ErrCountUnderflow = orgerr.New(orgerr.KindInternalConsistency, "member_count_underflow", "member count would drop below zero")
)
