package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/hierarchy/domain"
	dbutil "github.com/smallbiznis/congregate/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, group *domain.Group) error {
	if group.ChildIDs == nil {
		group.ChildIDs = datatypes.JSONSlice[snowflake.ID]{}
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO org_groups (id, org_id, parent_id, name, slug, sort_order, child_ids, member_count, leader_member_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID,
		group.OrgID,
		group.ParentID,
		group.Name,
		group.Slug,
		group.SortOrder,
		group.ChildIDs,
		group.MemberCount,
		group.LeaderMemberID,
		group.CreatedAt,
		group.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Group, error) {
	return r.findOne(db.WithContext(ctx), orgID, id)
}

func (r *repo) FindByIDUnscoped(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Group, error) {
	return r.findOne(db.WithContext(ctx).Unscoped(), orgID, id)
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Group, error) {
	return r.findOne(dbutil.ForUpdate(db.WithContext(ctx)), orgID, id)
}

func (r *repo) findOne(stmt *gorm.DB, orgID, id snowflake.ID) (*domain.Group, error) {
	var group domain.Group
	res := stmt.Model(&domain.Group{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&group)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &group, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.Group, error) {
	var groups []*domain.Group
	err := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("org_id = ?", orgID).
		Order("sort_order asc, name asc, id asc").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repo) ListByParentIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, parentIDs []snowflake.ID) ([]*domain.Group, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var groups []*domain.Group
	err := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("org_id = ? AND parent_id IN ?", orgID, parentIDs).
		Order("sort_order asc, name asc, id asc").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repo) SiblingNameExists(ctx context.Context, db *gorm.DB, orgID snowflake.ID, parentID *snowflake.ID, name string, excludeID snowflake.ID) (bool, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("org_id = ? AND lower(name) = lower(?)", orgID, name)
	if parentID == nil {
		stmt = stmt.Where("parent_id IS NULL")
	} else {
		stmt = stmt.Where("parent_id = ?", *parentID)
	}
	if excludeID != 0 {
		stmt = stmt.Where("id <> ?", excludeID)
	}
	var count int64
	if err := stmt.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpdateName(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, name, slug string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE org_groups SET name = ?, slug = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		name, slug, now, orgID, id,
	).Error
}

func (r *repo) UpdateSortOrder(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, order int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE org_groups SET sort_order = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		order, now, orgID, id,
	).Error
}

func (r *repo) UpdateParent(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, parentID *snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE org_groups SET parent_id = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		parentID, now, orgID, id,
	).Error
}

func (r *repo) UpdateChildIDs(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, childIDs []snowflake.ID, now time.Time) error {
	if childIDs == nil {
		childIDs = []snowflake.ID{}
	}
	return db.WithContext(ctx).Exec(
		`UPDATE org_groups SET child_ids = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		datatypes.JSONSlice[snowflake.ID](childIDs), now, orgID, id,
	).Error
}

func (r *repo) UpdateLeader(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, leaderID *snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE org_groups SET leader_member_id = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		leaderID, now, orgID, id,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE org_groups SET deleted_at = ?, leader_member_id = NULL, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		now, now, orgID, id,
	).Error
}

func (r *repo) IncrementMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Updates(map[string]any{
			"member_count": gorm.Expr("member_count + ?", delta),
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) DecrementMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("org_id = ? AND id = ? AND member_count >= ?", orgID, id, delta).
		Updates(map[string]any{
			"member_count": gorm.Expr("member_count - ?", delta),
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) SetMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, count int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE org_groups SET member_count = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		count, now, orgID, id,
	).Error
}
