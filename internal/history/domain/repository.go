package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, row *History) error
	InsertBatch(ctx context.Context, db *gorm.DB, rows []*History) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*History, error)
	LockByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*History, error)
	LockOpen(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis Axis, memberID snowflake.ID) (*History, error)

	// ListByMembers returns every live row of the members on axis, oldest first.
	ListByMembers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis Axis, memberIDs []snowflake.ID) ([]*History, error)
	ListOpenByMembers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis Axis, memberIDs []snowflake.ID) ([]*History, error)
	ListOpenByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis Axis, refID snowflake.ID) ([]*History, error)
	CountOpenByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis Axis, refID snowflake.ID) (int64, error)
	ListByParents(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis Axis, parentIDs []snowflake.ID, openOnly bool) ([]*History, error)

	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*History, error)
	Count(ctx context.Context, db *gorm.DB, filter ListFilter) (int64, error)

	// Close and CloseByRef return the number of rows closed.
	Close(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, endDate time.Time, snapshot string, now time.Time) (int64, error)
	CloseByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis Axis, refID snowflake.ID, memberIDs []snowflake.ID, endDate time.Time, snapshot string, now time.Time) (int64, error)
	UpdateDates(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, startDate time.Time, endDate *time.Time, now time.Time) error
	SoftDelete(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID, now time.Time) (int64, error)
}

type ListFilter struct {
	OrgID     snowflake.ID
	Axis      Axis
	MemberID  snowflake.ID
	Direction pagination.Direction
}
