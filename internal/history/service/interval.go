package service

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/clock"
	"github.com/smallbiznis/congregate/internal/history/domain"
)

const dayLayout = "2006-01-02"

// overlaps treats intervals as half-open [start, end) with a nil end running forever,
// so one interval may end on the day the next one starts.
func overlaps(aStart time.Time, aEnd *time.Time, bStart time.Time, bEnd *time.Time) bool {
	aStart, bStart = clock.Day(aStart), clock.Day(bStart)
	startsBeforeBEnds := bEnd == nil || aStart.Before(clock.Day(*bEnd))
	bStartsBeforeAEnds := aEnd == nil || bStart.Before(clock.Day(*aEnd))
	return startsBeforeBEnds && bStartsBeforeAEnds
}

// within reports whether inner's window lies inside outer's. Open rows run to today.
func within(inner, outer domain.History, today time.Time) bool {
	return !clock.Day(inner.StartDate).Before(clock.Day(outer.StartDate)) &&
		!clock.Day(inner.WindowEnd(today)).After(clock.Day(outer.WindowEnd(today)))
}

// checkStart validates a new open interval starting on start against the member's
// existing rows on the axis.
func checkStart(existing []*domain.History, start time.Time) error {
	for _, row := range existing {
		if row.Open() {
			return domain.ErrAlreadyOpen
		}
	}
	for _, row := range existing {
		if overlaps(start, nil, row.StartDate, row.EndDate) {
			return domain.ErrOverlap.Withf("interval would overlap history %s ending %s", row.ID.String(), formatDayPtr(row.EndDate))
		}
	}
	return nil
}

func byMember(rows []*domain.History) map[snowflake.ID][]*domain.History {
	out := make(map[snowflake.ID][]*domain.History)
	for _, row := range rows {
		out[row.MemberID] = append(out[row.MemberID], row)
	}
	return out
}

func dedupe(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortIDs(ids []snowflake.ID) []snowflake.ID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func values(rows []*domain.History) []domain.History {
	out := make([]domain.History, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			out = append(out, *row)
		}
	}
	return out
}

func formatDay(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

func formatDayPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDay(*t)
}
