package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Member, error)
	ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*Member, error)
	// LockByIDs row-locks the members in id order where the dialect supports it.
	LockByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*Member, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListMemberFilter, page pagination.Pagination) ([]*Member, error)
	Count(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListMemberFilter) (int64, error)

	// SetPointer writes value into the named pointer column of every listed member
	// and returns the number of rows updated.
	SetPointer(ctx context.Context, db *gorm.DB, orgID snowflake.ID, column Pointer, memberIDs []snowflake.ID, value *snowflake.ID, now time.Time) (int64, error)
}
