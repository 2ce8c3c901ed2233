package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/congregate/internal/clock"
	"github.com/smallbiznis/congregate/internal/migration"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a migrated in-memory sqlite database private to the test.
// The pool holds a single connection, so every statement of a transaction must
// run on the transaction handle.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(conn))
	return conn
}

// Node returns a snowflake node for test ids.
func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// OrgContext scopes ctx to a fresh organization id.
func OrgContext(t *testing.T, node *snowflake.Node) (context.Context, snowflake.ID) {
	t.Helper()
	orgID := node.Generate()
	return orgcontext.WithOrgID(context.Background(), orgID.Int64()), orgID
}

// Clock is a fake clock fixed at midday so that day arithmetic stays on the
// given date.
func Clock(year int, month time.Month, day int) *clock.FakeClock {
	return clock.NewFakeClock(time.Date(year, month, day, 12, 0, 0, 0, time.UTC))
}

// Date is a UTC midnight date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
