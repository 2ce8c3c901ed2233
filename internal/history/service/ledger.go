package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	"github.com/smallbiznis/congregate/internal/clock"
	"github.com/smallbiznis/congregate/internal/history/domain"
	memberdomain "github.com/smallbiznis/congregate/internal/member/domain"
	"github.com/smallbiznis/congregate/internal/observability/metrics"
	"github.com/smallbiznis/congregate/internal/observability/tracing"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	dbutil "github.com/smallbiznis/congregate/pkg/db"
	"github.com/smallbiznis/congregate/pkg/db/pagination"
	"github.com/smallbiznis/congregate/pkg/db/txn"
	"github.com/smallbiznis/congregate/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Members   memberdomain.Repository
	Clock     clock.Clock
	Audit     auditdomain.Service `optional:"true"`
	Metrics   *metrics.Metrics    `optional:"true"`
	Telemetry *telemetry.Metrics  `optional:"true"`
}

// Ledger is the interval store of a single axis. Every axis shares this type; what
// differs is carried by its AxisConfig.
type Ledger struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	members   memberdomain.Repository
	clock     clock.Clock
	audit     auditdomain.Service
	metrics   *metrics.Metrics
	telemetry *telemetry.Metrics
	cfg       domain.AxisConfig
	details   []*Ledger
}

func NewLedger(p Params, cfg domain.AxisConfig) (*Ledger, error) {
	if !cfg.Axis.Valid() || (cfg.Detail() && !cfg.Parent.Valid()) {
		return nil, domain.ErrInvalidAxis
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("history ledger %s: name resolver is required", cfg.Axis)
	}
	if cfg.Pointer != memberdomain.PointerNone && !cfg.Pointer.Valid() {
		return nil, memberdomain.ErrInvalidPointer
	}
	return &Ledger{
		db:        p.DB,
		log:       p.Log.Named("history.ledger").With(zap.String("axis", string(cfg.Axis))),
		genID:     p.GenID,
		repo:      p.Repo,
		members:   p.Members,
		clock:     p.Clock,
		audit:     p.Audit,
		metrics:   p.Metrics,
		telemetry: p.Telemetry,
		cfg:       cfg,
	}, nil
}

// attachDetail makes Close and Delete on this ledger cascade to the detail ledger.
func (l *Ledger) attachDetail(detail *Ledger) {
	l.details = append(l.details, detail)
}

func (l *Ledger) Axis() domain.Axis {
	return l.cfg.Axis
}

func (l *Ledger) Open(ctx context.Context, req domain.OpenRequest) (row domain.History, err error) {
	ctx, done := tracing.Track(ctx, "history.Open", l.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.History{}, orgerr.ErrInvalidOrganization
	}
	if req.MemberID == 0 || req.LiveRefID == 0 {
		return domain.History{}, domain.ErrInvalidReference
	}
	start := clock.Day(req.StartDate)
	if start.After(clock.Today(l.clock)) {
		return domain.History{}, domain.ErrFutureDate
	}

	err = txn.Run(ctx, l.db, func(ctx context.Context, tx *gorm.DB) error {
		if _, err := l.members.LockByIDs(ctx, tx, orgID, []snowflake.ID{req.MemberID}); err != nil {
			return err
		}
		existing, err := l.repo.ListByMembers(ctx, tx, orgID, l.cfg.Axis, []snowflake.ID{req.MemberID})
		if err != nil {
			return err
		}
		if err := checkStart(existing, start); err != nil {
			return err
		}

		var parentID *snowflake.ID
		if l.cfg.Detail() {
			if req.ParentID == nil {
				return domain.ErrParentNotFound
			}
			parent, err := l.parentRow(ctx, tx, orgID, *req.ParentID, req.MemberID)
			if err != nil {
				return err
			}
			if parent.EndDate != nil || start.Before(clock.Day(parent.StartDate)) {
				return domain.ErrOutsideParent
			}
			parentID = &parent.ID
		}

		now := l.clock.Now().UTC()
		liveRef := req.LiveRefID
		row = domain.History{
			ID:        l.genID.Generate(),
			OrgID:     orgID,
			Axis:      l.cfg.Axis,
			MemberID:  req.MemberID,
			LiveRefID: &liveRef,
			ParentID:  parentID,
			StartDate: start,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := l.repo.Insert(ctx, tx, &row); err != nil {
			return mapInsertErr(err)
		}
		return l.setPointer(ctx, tx, orgID, []snowflake.ID{req.MemberID}, &liveRef, now)
	})
	if err != nil {
		l.logRejected("open", err, zap.String("member_id", req.MemberID.String()))
		return domain.History{}, err
	}

	l.metrics.RecordAssignmentsOpened(ctx, orgID.String(), string(l.cfg.Axis), 1)
	l.log.Info("interval opened",
		zap.String("org_id", orgID.String()),
		zap.String("member_id", req.MemberID.String()),
		zap.String("live_ref_id", req.LiveRefID.String()),
	)
	return row, nil
}

// OpenMany opens one interval per member against the same reference. The whole batch
// is rejected when any member already has an open or overlapping interval.
func (l *Ledger) OpenMany(ctx context.Context, req domain.OpenManyRequest) (rows []domain.History, err error) {
	ctx, done := tracing.Track(ctx, "history.OpenMany", l.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	if l.cfg.Detail() {
		return nil, domain.ErrInvalidAxis.Withf("detail axis %s cannot open in bulk", l.cfg.Axis)
	}
	if req.LiveRefID == 0 {
		return nil, domain.ErrInvalidReference
	}
	memberIDs := dedupe(req.MemberIDs)
	if len(memberIDs) == 0 {
		return nil, nil
	}
	start := clock.Day(req.StartDate)
	if start.After(clock.Today(l.clock)) {
		return nil, domain.ErrFutureDate
	}

	err = txn.Run(ctx, l.db, func(ctx context.Context, tx *gorm.DB) error {
		if _, err := l.members.LockByIDs(ctx, tx, orgID, memberIDs); err != nil {
			return err
		}
		existing, err := l.repo.ListByMembers(ctx, tx, orgID, l.cfg.Axis, memberIDs)
		if err != nil {
			return err
		}
		var open, overlapping []snowflake.ID
		for memberID, memberRows := range byMember(existing) {
			switch err := checkStart(memberRows, start); {
			case err == nil:
			case orgerr.IsKind(err, orgerr.KindConflict):
				open = append(open, memberID)
			default:
				overlapping = append(overlapping, memberID)
			}
		}
		if len(open) > 0 {
			return domain.ErrAlreadyOpen.WithMembers(sortIDs(open))
		}
		if len(overlapping) > 0 {
			return domain.ErrOverlap.WithMembers(sortIDs(overlapping))
		}

		now := l.clock.Now().UTC()
		liveRef := req.LiveRefID
		batch := make([]*domain.History, 0, len(memberIDs))
		for _, memberID := range memberIDs {
			ref := liveRef
			batch = append(batch, &domain.History{
				ID:        l.genID.Generate(),
				OrgID:     orgID,
				Axis:      l.cfg.Axis,
				MemberID:  memberID,
				LiveRefID: &ref,
				StartDate: start,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		if err := l.repo.InsertBatch(ctx, tx, batch); err != nil {
			return mapInsertErr(err)
		}
		rows = values(batch)
		return l.setPointer(ctx, tx, orgID, memberIDs, &liveRef, now)
	})
	if err != nil {
		l.logRejected("open_many", err, zap.Int("members", len(memberIDs)))
		return nil, err
	}

	l.metrics.RecordAssignmentsOpened(ctx, orgID.String(), string(l.cfg.Axis), len(rows))
	l.log.Info("intervals opened",
		zap.String("org_id", orgID.String()),
		zap.String("live_ref_id", req.LiveRefID.String()),
		zap.Int("members", len(rows)),
	)
	return rows, nil
}

func (l *Ledger) Close(ctx context.Context, req domain.CloseRequest) (row domain.History, err error) {
	ctx, done := tracing.Track(ctx, "history.Close", l.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.History{}, orgerr.ErrInvalidOrganization
	}
	end := clock.Day(req.EndDate)
	if end.After(clock.Today(l.clock)) {
		return domain.History{}, domain.ErrFutureDate
	}

	err = txn.Run(ctx, l.db, func(ctx context.Context, tx *gorm.DB) error {
		open, err := l.repo.LockOpen(ctx, tx, orgID, l.cfg.Axis, req.MemberID)
		if err != nil {
			return err
		}
		if open == nil {
			return domain.ErrNotOpen
		}
		if end.Before(clock.Day(open.StartDate)) {
			return domain.ErrInvalidInterval.Withf("end date %s is before start date %s", formatDay(end), formatDay(open.StartDate))
		}
		if l.cfg.Detail() && open.ParentID != nil {
			parent, err := l.repo.FindByID(ctx, tx, orgID, *open.ParentID)
			if err != nil {
				return err
			}
			if parent != nil && parent.EndDate != nil && end.After(clock.Day(*parent.EndDate)) {
				return domain.ErrOutsideParent
			}
		}

		snapshot, err := l.snapshot(ctx, req.Snapshot, open.LiveRefID)
		if err != nil {
			return err
		}

		now := l.clock.Now().UTC()
		if err := l.closeDetails(ctx, tx, orgID, []snowflake.ID{open.ID}, end, now); err != nil {
			return err
		}
		affected, err := l.repo.Close(ctx, tx, orgID, open.ID, end, snapshot, now)
		if err != nil {
			return err
		}
		if affected != 1 {
			return l.tripwire(ctx, orgID, "close", 1, affected)
		}
		if err := l.setPointer(ctx, tx, orgID, []snowflake.ID{req.MemberID}, nil, now); err != nil {
			return err
		}

		row = *open
		row.EndDate = &end
		row.Snapshot = &snapshot
		row.LiveRefID = nil
		row.UpdatedAt = now
		return nil
	})
	if err != nil {
		l.logRejected("close", err, zap.String("member_id", req.MemberID.String()))
		return domain.History{}, err
	}

	l.metrics.RecordAssignmentsClosed(ctx, orgID.String(), string(l.cfg.Axis), 1)
	l.log.Info("interval closed",
		zap.String("org_id", orgID.String()),
		zap.String("member_id", req.MemberID.String()),
		zap.String("history_id", row.ID.String()),
	)
	return row, nil
}

// CloseByRef closes the open intervals of the listed members at one reference in a
// single statement. Closing fewer rows than members means a concurrent writer moved
// one of them, and the transaction is aborted.
func (l *Ledger) CloseByRef(ctx context.Context, req domain.BulkCloseRequest) (affected int64, err error) {
	ctx, done := tracing.Track(ctx, "history.CloseByRef", l.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, orgerr.ErrInvalidOrganization
	}
	if req.LiveRefID == 0 {
		return 0, domain.ErrInvalidReference
	}
	memberIDs := dedupe(req.MemberIDs)
	if len(memberIDs) == 0 {
		return 0, nil
	}
	end := clock.Day(req.EndDate)
	if end.After(clock.Today(l.clock)) {
		return 0, domain.ErrFutureDate
	}

	err = txn.Run(ctx, l.db, func(ctx context.Context, tx *gorm.DB) error {
		open, err := l.repo.ListOpenByMembers(ctx, tx, orgID, l.cfg.Axis, memberIDs)
		if err != nil {
			return err
		}
		var late []snowflake.ID
		closing := make([]snowflake.ID, 0, len(open))
		for _, row := range open {
			if row.LiveRefID == nil || *row.LiveRefID != req.LiveRefID {
				continue
			}
			closing = append(closing, row.ID)
			if end.Before(clock.Day(row.StartDate)) {
				late = append(late, row.MemberID)
			}
		}
		if len(late) > 0 {
			return domain.ErrInvalidInterval.WithMembers(sortIDs(late))
		}

		liveRef := req.LiveRefID
		snapshot, err := l.snapshot(ctx, req.Snapshot, &liveRef)
		if err != nil {
			return err
		}

		now := l.clock.Now().UTC()
		if err := l.closeDetails(ctx, tx, orgID, closing, end, now); err != nil {
			return err
		}
		affected, err = l.repo.CloseByRef(ctx, tx, orgID, l.cfg.Axis, req.LiveRefID, memberIDs, end, snapshot, now)
		if err != nil {
			return err
		}
		if affected != int64(len(memberIDs)) {
			return l.tripwire(ctx, orgID, "close_by_ref", int64(len(memberIDs)), affected)
		}
		return l.setPointer(ctx, tx, orgID, memberIDs, nil, now)
	})
	if err != nil {
		l.logRejected("close_by_ref", err, zap.String("live_ref_id", req.LiveRefID.String()))
		return 0, err
	}

	l.metrics.RecordAssignmentsClosed(ctx, orgID.String(), string(l.cfg.Axis), int(affected))
	l.log.Info("intervals closed",
		zap.String("org_id", orgID.String()),
		zap.String("live_ref_id", req.LiveRefID.String()),
		zap.Int64("members", affected),
	)
	return affected, nil
}

// Update edits the dates of a row. An open row keeps its open end: ending it goes
// through Close.
func (l *Ledger) Update(ctx context.Context, req domain.UpdateRequest) (row domain.History, err error) {
	ctx, done := tracing.Track(ctx, "history.Update", l.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.History{}, orgerr.ErrInvalidOrganization
	}
	today := clock.Today(l.clock)

	err = txn.Run(ctx, l.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := l.repo.LockByID(ctx, tx, orgID, req.ID)
		if err != nil {
			return err
		}
		if current == nil || current.Axis != l.cfg.Axis {
			return domain.ErrNotFound
		}
		row = *current
		if req.StartDate == nil && req.EndDate == nil {
			return nil
		}
		if current.Open() && req.EndDate != nil {
			return domain.ErrCannotUpdateEndDate
		}

		start := clock.Day(current.StartDate)
		if req.StartDate != nil {
			start = clock.Day(*req.StartDate)
		}
		end := current.EndDate
		if req.EndDate != nil {
			day := clock.Day(*req.EndDate)
			end = &day
		}
		if start.After(today) || (end != nil && end.After(today)) {
			return domain.ErrFutureDate
		}
		if end != nil && start.After(*end) {
			return domain.ErrInvalidInterval.Withf("start date %s is after end date %s", formatDay(start), formatDay(*end))
		}

		siblings, err := l.repo.ListByMembers(ctx, tx, orgID, l.cfg.Axis, []snowflake.ID{current.MemberID})
		if err != nil {
			return err
		}
		for _, sibling := range siblings {
			if sibling.ID != current.ID && overlaps(start, end, sibling.StartDate, sibling.EndDate) {
				return domain.ErrOverlap.Withf("interval overlaps history %s", sibling.ID.String())
			}
		}

		if l.cfg.Detail() && current.ParentID != nil {
			parent, err := l.parentRow(ctx, tx, orgID, *current.ParentID, current.MemberID)
			if err != nil {
				return err
			}
			if !within(domain.History{StartDate: start, EndDate: end}, *parent, today) {
				return domain.ErrOutsideParent
			}
		}
		for _, detail := range l.details {
			children, err := l.repo.ListByParents(ctx, tx, orgID, detail.cfg.Axis, []snowflake.ID{current.ID}, false)
			if err != nil {
				return err
			}
			for _, child := range children {
				if !within(*child, domain.History{StartDate: start, EndDate: end}, today) {
					return domain.ErrStrandsDetail.Withf("detail history %s would fall outside the interval", child.ID.String())
				}
			}
		}

		now := l.clock.Now().UTC()
		if err := l.repo.UpdateDates(ctx, tx, orgID, current.ID, start, end, now); err != nil {
			return err
		}
		row.StartDate = start
		row.EndDate = end
		row.UpdatedAt = now

		return l.auditLog(ctx, auditdomain.ActionHistoryUpdated, current.ID, map[string]any{
			"axis":       string(l.cfg.Axis),
			"member_id":  current.MemberID.String(),
			"start_date": formatDay(start),
			"end_date":   formatDayPtr(end),
		})
	})
	if err != nil {
		l.logRejected("update", err, zap.String("history_id", req.ID.String()))
		return domain.History{}, err
	}
	return row, nil
}

// Delete soft-deletes a closed row together with its detail rows.
func (l *Ledger) Delete(ctx context.Context, id snowflake.ID) (err error) {
	ctx, done := tracing.Track(ctx, "history.Delete", l.telemetry)
	defer func() { done(err) }()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return orgerr.ErrInvalidOrganization
	}

	err = txn.Run(ctx, l.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := l.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil || current.Axis != l.cfg.Axis {
			return domain.ErrNotFound
		}
		if current.Open() {
			return domain.ErrCannotDelete
		}

		ids := []snowflake.ID{current.ID}
		for _, detail := range l.details {
			children, err := l.repo.ListByParents(ctx, tx, orgID, detail.cfg.Axis, []snowflake.ID{current.ID}, false)
			if err != nil {
				return err
			}
			for _, child := range children {
				if child.Open() {
					return domain.ErrCannotDelete.Withf("detail history %s is still open", child.ID.String())
				}
				ids = append(ids, child.ID)
			}
		}
		if _, err := l.repo.SoftDelete(ctx, tx, orgID, ids, l.clock.Now().UTC()); err != nil {
			return err
		}
		return l.auditLog(ctx, auditdomain.ActionHistoryDeleted, current.ID, map[string]any{
			"axis":      string(l.cfg.Axis),
			"member_id": current.MemberID.String(),
			"cascaded":  len(ids) - 1,
		})
	})
	if err != nil {
		l.logRejected("delete", err, zap.String("history_id", id.String()))
	}
	return err
}

func (l *Ledger) Get(ctx context.Context, id snowflake.ID) (domain.History, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.History{}, orgerr.ErrInvalidOrganization
	}
	row, err := txn.Query(ctx, l.db, func(ctx context.Context, db *gorm.DB) (*domain.History, error) {
		return l.repo.FindByID(ctx, db, orgID, id)
	})
	if err != nil {
		return domain.History{}, err
	}
	if row == nil || row.Axis != l.cfg.Axis {
		return domain.History{}, domain.ErrNotFound
	}
	return *row, nil
}

func (l *Ledger) Paginate(ctx context.Context, req domain.PageRequest) (domain.Page, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Page{}, orgerr.ErrInvalidOrganization
	}
	filter := domain.ListFilter{
		OrgID:     orgID,
		Axis:      l.cfg.Axis,
		MemberID:  req.MemberID,
		Direction: req.Direction,
	}
	page := req.Pagination.Normalize()

	var (
		total int64
		items []*domain.History
	)
	err := txn.Scoped(ctx, l.db, func(ctx context.Context, db *gorm.DB) error {
		var err error
		if total, err = l.repo.Count(ctx, db, filter); err != nil {
			return err
		}
		items, err = l.repo.List(ctx, db, filter, page)
		return err
	})
	if err != nil {
		return domain.Page{}, err
	}
	return domain.Page{
		PageInfo: pagination.BuildPageInfo(page, total),
		Items:    values(items),
	}, nil
}

func (l *Ledger) Current(ctx context.Context, memberID snowflake.ID) (domain.History, error) {
	rows, err := l.OpenRows(ctx, []snowflake.ID{memberID})
	if err != nil {
		return domain.History{}, err
	}
	row, ok := rows[memberID]
	if !ok {
		return domain.History{}, domain.ErrNotOpen
	}
	return row, nil
}

func (l *Ledger) OpenRows(ctx context.Context, memberIDs []snowflake.ID) (map[snowflake.ID]domain.History, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	rows, err := txn.Query(ctx, l.db, func(ctx context.Context, db *gorm.DB) ([]*domain.History, error) {
		return l.repo.ListOpenByMembers(ctx, db, orgID, l.cfg.Axis, dedupe(memberIDs))
	})
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]domain.History, len(rows))
	for _, row := range rows {
		if _, dup := out[row.MemberID]; dup {
			l.metrics.RecordConsistencyViolation(ctx, orgID.String(), "open_rows")
			return nil, orgerr.New(orgerr.KindInternalConsistency, "multiple_open_intervals", "member has more than one open interval").
				WithMembers([]snowflake.ID{row.MemberID})
		}
		out[row.MemberID] = *row
	}
	return out, nil
}

func (l *Ledger) ListOpenByRef(ctx context.Context, refID snowflake.ID) ([]domain.History, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	rows, err := txn.Query(ctx, l.db, func(ctx context.Context, db *gorm.DB) ([]*domain.History, error) {
		return l.repo.ListOpenByRef(ctx, db, orgID, l.cfg.Axis, refID)
	})
	if err != nil {
		return nil, err
	}
	return values(rows), nil
}

func (l *Ledger) CountOpenByRef(ctx context.Context, refID snowflake.ID) (int64, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, orgerr.ErrInvalidOrganization
	}
	return txn.Query(ctx, l.db, func(ctx context.Context, db *gorm.DB) (int64, error) {
		return l.repo.CountOpenByRef(ctx, db, orgID, l.cfg.Axis, refID)
	})
}

func (l *Ledger) IsOpenByRef(ctx context.Context, memberID, refID snowflake.ID) (bool, error) {
	row, err := l.Current(ctx, memberID)
	if err != nil {
		if orgerr.IsKind(err, orgerr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return row.LiveRefID != nil && *row.LiveRefID == refID, nil
}

// closeDetails closes the open detail rows under the given parent rows on end.
func (l *Ledger) closeDetails(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, parentIDs []snowflake.ID, end, now time.Time) error {
	if len(parentIDs) == 0 {
		return nil
	}
	for _, detail := range l.details {
		children, err := l.repo.ListByParents(ctx, tx, orgID, detail.cfg.Axis, parentIDs, true)
		if err != nil {
			return err
		}
		snapshots := make(map[snowflake.ID]string)
		for _, child := range children {
			if end.Before(clock.Day(child.StartDate)) {
				return domain.ErrStrandsDetail.WithMembers([]snowflake.ID{child.MemberID})
			}
			var snapshot string
			if child.LiveRefID != nil {
				cached, ok := snapshots[*child.LiveRefID]
				if !ok {
					if cached, err = detail.cfg.Resolver.ResolveName(ctx, *child.LiveRefID); err != nil {
						return err
					}
					snapshots[*child.LiveRefID] = cached
				}
				snapshot = cached
			}
			affected, err := l.repo.Close(ctx, tx, orgID, child.ID, end, snapshot, now)
			if err != nil {
				return err
			}
			if affected != 1 {
				return detail.tripwire(ctx, orgID, "close_detail", 1, affected)
			}
			if err := detail.setPointer(ctx, tx, orgID, []snowflake.ID{child.MemberID}, nil, now); err != nil {
				return err
			}
		}
		if len(children) > 0 {
			detail.metrics.RecordAssignmentsClosed(ctx, orgID.String(), string(detail.cfg.Axis), len(children))
		}
	}
	return nil
}

// parentRow loads the enclosing row of a detail row and checks it belongs to the
// same member on the parent axis.
func (l *Ledger) parentRow(ctx context.Context, tx *gorm.DB, orgID, parentID, memberID snowflake.ID) (*domain.History, error) {
	parent, err := l.repo.FindByID(ctx, tx, orgID, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.Axis != l.cfg.Parent || parent.MemberID != memberID {
		return nil, domain.ErrParentNotFound
	}
	return parent, nil
}

func (l *Ledger) snapshot(ctx context.Context, override *string, refID *snowflake.ID) (string, error) {
	if override != nil {
		return *override, nil
	}
	if refID == nil {
		return "", nil
	}
	return l.cfg.Resolver.ResolveName(ctx, *refID)
}

func (l *Ledger) setPointer(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, memberIDs []snowflake.ID, value *snowflake.ID, now time.Time) error {
	if l.cfg.Pointer == memberdomain.PointerNone {
		return nil
	}
	_, err := l.members.SetPointer(ctx, tx, orgID, l.cfg.Pointer, memberIDs, value, now)
	return err
}

func (l *Ledger) tripwire(ctx context.Context, orgID snowflake.ID, operation string, expected, affected int64) error {
	l.metrics.RecordConsistencyViolation(ctx, orgID.String(), operation)
	l.log.Error("affected rows mismatch",
		zap.String("org_id", orgID.String()),
		zap.String("operation", operation),
		zap.Int64("expected", expected),
		zap.Int64("affected", affected),
	)
	return orgerr.ErrAffectedRows.Withf("%s on %s closed %d rows, expected %d", operation, l.cfg.Axis, affected, expected)
}

func (l *Ledger) auditLog(ctx context.Context, action string, targetID snowflake.ID, metadata map[string]any) error {
	if l.audit == nil {
		return nil
	}
	return l.audit.AuditLog(ctx, auditdomain.Entry{
		Action:     action,
		TargetType: auditdomain.TargetHistory,
		TargetID:   targetID,
		Metadata:   metadata,
	})
}

func (l *Ledger) logRejected(operation string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("operation", operation), zap.Error(err))
	if orgerr.IsKind(err, orgerr.KindInternalConsistency) || orgerr.KindOf(err) == "" {
		l.log.Error("history operation failed", fields...)
		return
	}
	l.log.Warn("history operation rejected", fields...)
}

// mapInsertErr turns a violation of the one-open-interval index into a conflict.
func mapInsertErr(err error) error {
	if dbutil.IsDuplicateKeyErr(err) {
		return domain.ErrAlreadyOpen.Wrap(err)
	}
	return err
}

var _ domain.Ledger = (*Ledger)(nil)
