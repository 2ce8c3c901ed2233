package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/officer/domain"
	dbutil "github.com/smallbiznis/congregate/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, officer *domain.Officer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO officers (id, org_id, name, sort_order, member_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		officer.ID,
		officer.OrgID,
		officer.Name,
		officer.SortOrder,
		officer.MemberCount,
		officer.CreatedAt,
		officer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Officer, error) {
	return r.findOne(db.WithContext(ctx), orgID, id)
}

func (r *repo) FindByIDUnscoped(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Officer, error) {
	return r.findOne(db.WithContext(ctx).Unscoped(), orgID, id)
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Officer, error) {
	return r.findOne(dbutil.ForUpdate(db.WithContext(ctx)), orgID, id)
}

func (r *repo) findOne(stmt *gorm.DB, orgID, id snowflake.ID) (*domain.Officer, error) {
	var officer domain.Officer
	res := stmt.Model(&domain.Officer{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&officer)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &officer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.Officer, error) {
	var officers []*domain.Officer
	err := db.WithContext(ctx).
		Model(&domain.Officer{}).
		Where("org_id = ?", orgID).
		Order("sort_order asc, name asc, id asc").
		Find(&officers).Error
	if err != nil {
		return nil, err
	}
	return officers, nil
}

func (r *repo) NameExists(ctx context.Context, db *gorm.DB, orgID snowflake.ID, name string, excludeID snowflake.ID) (bool, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Officer{}).
		Where("org_id = ? AND lower(name) = lower(?)", orgID, name)
	if excludeID != 0 {
		stmt = stmt.Where("id <> ?", excludeID)
	}
	var count int64
	if err := stmt.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpdateName(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, name string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE officers SET name = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		name, now, orgID, id,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE officers SET deleted_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		now, now, orgID, id,
	).Error
}

func (r *repo) IncrementMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Officer{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Updates(map[string]any{
			"member_count": gorm.Expr("member_count + ?", delta),
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) DecrementMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Officer{}).
		Where("org_id = ? AND id = ? AND member_count >= ?", orgID, id, delta).
		Updates(map[string]any{
			"member_count": gorm.Expr("member_count - ?", delta),
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) SetMemberCount(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, count int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE officers SET member_count = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		count, now, orgID, id,
	).Error
}
