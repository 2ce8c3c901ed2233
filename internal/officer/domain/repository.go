package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, officer *Officer) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Officer, error)
	FindByIDUnscoped(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Officer, error)
	LockByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Officer, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Officer, error)
	NameExists(ctx context.Context, db *gorm.DB, orgID snowflake.ID, name string, excludeID snowflake.ID) (bool, error)

	UpdateName(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, name string, now time.Time) error
	SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) error

	IncrementMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64, now time.Time) (int64, error)
	DecrementMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64, now time.Time) (int64, error)
	SetMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, count int64, now time.Time) error
}
