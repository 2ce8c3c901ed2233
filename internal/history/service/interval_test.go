package service

import (
	"testing"
	"time"

	"github.com/smallbiznis/congregate/internal/history/domain"
	"github.com/smallbiznis/congregate/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func window(start time.Time, end *time.Time) domain.History {
	return domain.History{StartDate: start, EndDate: end}
}

func TestWithin(t *testing.T) {
	today := testutil.Date(2024, 7, 1)
	jan, mar, may := testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 1), testutil.Date(2024, 5, 1)

	assert.True(t, within(window(mar, &may), window(jan, nil), today))
	assert.True(t, within(window(jan, &may), window(jan, &may), today), "equal windows nest")
	assert.False(t, within(window(jan, &may), window(mar, nil), today), "starts before the outer window")
	assert.False(t, within(window(mar, nil), window(jan, &may), today), "open inner runs to today")
	assert.True(t, within(window(mar, nil), window(jan, nil), today))
}

func TestOverlapsIsHalfOpen(t *testing.T) {
	jan, mar, may := testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 1), testutil.Date(2024, 5, 1)

	assert.False(t, overlaps(jan, &mar, mar, &may), "touching intervals do not overlap")
	assert.True(t, overlaps(jan, &may, mar, nil))
	assert.True(t, overlaps(mar, nil, jan, nil))
}
