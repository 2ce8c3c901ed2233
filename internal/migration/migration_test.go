package migration

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.down.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestMigrateSqliteCreatesTables(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Migrate(conn))
	for _, table := range []string{"members", "org_groups", "officers", "assignment_histories", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestMigrateSqliteEnforcesOneOpenRow(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn), "migrating twice is a no-op")

	insert := func(id int64, endDate any) error {
		return conn.Exec(
			`INSERT INTO assignment_histories (id, org_id, axis, member_id, live_ref_id, start_date, end_date, created_at, updated_at)
			 VALUES (?, 1, 'group', 7, 3, ?, ?, ?, ?)`,
			id, "2024-01-01", endDate, "2024-01-01", "2024-01-01",
		).Error
	}
	require.NoError(t, insert(1, "2024-02-01"))
	require.NoError(t, insert(2, nil))
	assert.Error(t, insert(3, nil), "second open row for the same member and axis")

	sibling := func(id int64, name string) error {
		return conn.Exec(
			`INSERT INTO org_groups (id, org_id, name, slug, sort_order, child_ids, member_count, created_at, updated_at)
			 VALUES (?, 1, ?, 'choir', 0, '[]', 0, ?, ?)`,
			id, name, "2024-01-01", "2024-01-01",
		).Error
	}
	require.NoError(t, sibling(10, "Choir"))
	assert.Error(t, sibling(11, "choir"), "sibling names are unique without case")
}

func TestMigrateRequiresConnection(t *testing.T) {
	assert.Error(t, Migrate(nil))
	assert.Error(t, RunMigrations(nil))
}
