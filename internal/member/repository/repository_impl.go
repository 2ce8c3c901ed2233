package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/member/domain"
	dbutil "github.com/smallbiznis/congregate/pkg/db"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO members (id, org_id, full_name, current_group_id, current_officer_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		member.ID,
		member.OrgID,
		member.FullName,
		member.CurrentGroupID,
		member.CurrentOfficerID,
		member.CreatedAt,
		member.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, full_name, current_group_id, current_officer_id, created_at, updated_at
		 FROM members WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*domain.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var members []*domain.Member
	err := db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Order("id asc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) LockByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*domain.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var members []*domain.Member
	err := dbutil.ForUpdate(db.WithContext(ctx)).
		Model(&domain.Member{}).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Order("id asc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListMemberFilter, page pagination.Pagination) ([]*domain.Member, error) {
	var members []*domain.Member
	page = page.Normalize()
	err := r.filtered(db.WithContext(ctx), orgID, filter).
		Order("full_name asc, id asc").
		Limit(page.PageSize).
		Offset(page.Offset()).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListMemberFilter) (int64, error) {
	var total int64
	err := r.filtered(db.WithContext(ctx), orgID, filter).Count(&total).Error
	return total, err
}

func (r *repo) filtered(db *gorm.DB, orgID snowflake.ID, filter domain.ListMemberFilter) *gorm.DB {
	stmt := db.Model(&domain.Member{}).Where("org_id = ?", orgID)
	if filter.Name != "" {
		stmt = stmt.Where("lower(full_name) LIKE lower(?)", "%"+filter.Name+"%")
	}
	if filter.CurrentGroupID != nil {
		stmt = stmt.Where("current_group_id = ?", *filter.CurrentGroupID)
	}
	return stmt
}

func (r *repo) SetPointer(ctx context.Context, db *gorm.DB, orgID snowflake.ID, column domain.Pointer, memberIDs []snowflake.ID, value *snowflake.ID, now time.Time) (int64, error) {
	if !column.Valid() {
		return 0, domain.ErrInvalidPointer
	}
	if len(memberIDs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("org_id = ? AND id IN ?", orgID, memberIDs).
		Updates(map[string]any{
			string(column): value,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}
