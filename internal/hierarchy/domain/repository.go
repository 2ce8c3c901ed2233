package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, group *Group) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Group, error)
	FindByIDUnscoped(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Group, error)
	LockByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Group, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Group, error)
	ListByParentIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, parentIDs []snowflake.ID) ([]*Group, error)
	SiblingNameExists(ctx context.Context, db *gorm.DB, orgID snowflake.ID, parentID *snowflake.ID, name string, excludeID snowflake.ID) (bool, error)

	UpdateName(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, name, slug string, now time.Time) error
	UpdateSortOrder(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, order int, now time.Time) error
	UpdateParent(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, parentID *snowflake.ID, now time.Time) error
	UpdateChildIDs(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, childIDs []snowflake.ID, now time.Time) error
	UpdateLeader(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, leaderID *snowflake.ID, now time.Time) error
	SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) error

	// IncrementMemberCount and DecrementMemberCount return the number of rows updated.
	IncrementMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64, now time.Time) (int64, error)
	DecrementMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64, now time.Time) (int64, error)
	SetMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, count int64, now time.Time) error
}
