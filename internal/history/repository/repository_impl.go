package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/history/domain"
	dbutil "github.com/smallbiznis/congregate/pkg/db"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, row *domain.History) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO assignment_histories (id, org_id, axis, member_id, live_ref_id, snapshot, parent_id, start_date, end_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.OrgID,
		row.Axis,
		row.MemberID,
		row.LiveRefID,
		row.Snapshot,
		row.ParentID,
		row.StartDate,
		row.EndDate,
		row.CreatedAt,
		row.UpdatedAt,
	).Error
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, rows []*domain.History) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.History, error) {
	return r.findOne(db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id))
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.History, error) {
	return r.findOne(dbutil.ForUpdate(db.WithContext(ctx)).Where("org_id = ? AND id = ?", orgID, id))
}

func (r *repo) LockOpen(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis domain.Axis, memberID snowflake.ID) (*domain.History, error) {
	return r.findOne(dbutil.ForUpdate(db.WithContext(ctx)).
		Where("org_id = ? AND axis = ? AND member_id = ? AND end_date IS NULL", orgID, axis, memberID))
}

func (r *repo) findOne(stmt *gorm.DB) (*domain.History, error) {
	var row domain.History
	res := stmt.Model(&domain.History{}).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) ListByMembers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis domain.Axis, memberIDs []snowflake.ID) ([]*domain.History, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	return r.list(db.WithContext(ctx).
		Where("org_id = ? AND axis = ? AND member_id IN ?", orgID, axis, memberIDs).
		Order("start_date asc, id asc"))
}

func (r *repo) ListOpenByMembers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis domain.Axis, memberIDs []snowflake.ID) ([]*domain.History, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	return r.list(db.WithContext(ctx).
		Where("org_id = ? AND axis = ? AND member_id IN ? AND end_date IS NULL", orgID, axis, memberIDs).
		Order("member_id asc"))
}

func (r *repo) ListOpenByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis domain.Axis, refID snowflake.ID) ([]*domain.History, error) {
	return r.list(db.WithContext(ctx).
		Where("org_id = ? AND axis = ? AND live_ref_id = ? AND end_date IS NULL", orgID, axis, refID).
		Order("start_date asc, id asc"))
}

func (r *repo) CountOpenByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis domain.Axis, refID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.History{}).
		Where("org_id = ? AND axis = ? AND live_ref_id = ? AND end_date IS NULL", orgID, axis, refID).
		Count(&count).Error
	return count, err
}

func (r *repo) ListByParents(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis domain.Axis, parentIDs []snowflake.ID, openOnly bool) ([]*domain.History, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	stmt := db.WithContext(ctx).Where("org_id = ? AND axis = ? AND parent_id IN ?", orgID, axis, parentIDs)
	if openOnly {
		stmt = stmt.Where("end_date IS NULL")
	}
	return r.list(stmt.Order("start_date asc, id asc"))
}

func (r *repo) list(stmt *gorm.DB) ([]*domain.History, error) {
	var rows []*domain.History
	if err := stmt.Model(&domain.History{}).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// List orders by end date with open rows after every closed row, then start date and id.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.History, error) {
	page = page.Normalize()
	dir := "ASC"
	if filter.Direction == pagination.Desc {
		dir = "DESC"
	}
	order := fmt.Sprintf("CASE WHEN end_date IS NULL THEN 1 ELSE 0 END %[1]s, end_date %[1]s, start_date %[1]s, id %[1]s", dir)

	return r.list(r.filtered(db.WithContext(ctx), filter).
		Order(order).
		Limit(page.PageSize).
		Offset(page.Offset()))
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, filter domain.ListFilter) (int64, error) {
	var total int64
	err := r.filtered(db.WithContext(ctx), filter).Model(&domain.History{}).Count(&total).Error
	return total, err
}

func (r *repo) filtered(db *gorm.DB, filter domain.ListFilter) *gorm.DB {
	stmt := db.Where("org_id = ? AND axis = ?", filter.OrgID, filter.Axis)
	if filter.MemberID != 0 {
		stmt = stmt.Where("member_id = ?", filter.MemberID)
	}
	return stmt
}

func (r *repo) Close(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, endDate time.Time, snapshot string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE assignment_histories
		 SET end_date = ?, snapshot = ?, live_ref_id = NULL, updated_at = ?
		 WHERE org_id = ? AND id = ? AND end_date IS NULL AND deleted_at IS NULL`,
		endDate, snapshot, now, orgID, id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) CloseByRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, axis domain.Axis, refID snowflake.ID, memberIDs []snowflake.ID, endDate time.Time, snapshot string, now time.Time) (int64, error) {
	if len(memberIDs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE assignment_histories
		 SET end_date = ?, snapshot = ?, live_ref_id = NULL, updated_at = ?
		 WHERE org_id = ? AND axis = ? AND live_ref_id = ? AND member_id IN ?
		   AND end_date IS NULL AND deleted_at IS NULL`,
		endDate, snapshot, now, orgID, axis, refID, memberIDs,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateDates(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, startDate time.Time, endDate *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE assignment_histories SET start_date = ?, end_date = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		startDate, endDate, now, orgID, id,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE assignment_histories SET deleted_at = ?, updated_at = ?
		 WHERE org_id = ? AND id IN ? AND deleted_at IS NULL`,
		now, now, orgID, ids,
	)
	return res.RowsAffected, res.Error
}
