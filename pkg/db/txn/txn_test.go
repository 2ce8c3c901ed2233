package txn

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type counter struct {
	ID    int64 `gorm:"primaryKey"`
	Value int64
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&counter{}))
	require.NoError(t, conn.Create(&counter{ID: 1}).Error)
	return conn
}

func value(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var c counter
	require.NoError(t, conn.First(&c, 1).Error)
	return c.Value
}

func bump(ctx context.Context, tx *gorm.DB) error {
	return tx.Model(&counter{}).Where("id = ?", 1).Update("value", gorm.Expr("value + 1")).Error
}

func TestRunCommits(t *testing.T) {
	conn := setupDB(t)
	err := Run(context.Background(), conn, bump)
	require.NoError(t, err)
	require.Equal(t, int64(1), value(t, conn))
}

func TestRunRollsBackOnError(t *testing.T) {
	conn := setupDB(t)
	boom := errors.New("boom")
	err := Run(context.Background(), conn, func(ctx context.Context, tx *gorm.DB) error {
		require.NoError(t, bump(ctx, tx))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(0), value(t, conn))
}

func TestNestedRunJoinsOuterTransaction(t *testing.T) {
	conn := setupDB(t)
	boom := errors.New("outer failure")
	err := Run(context.Background(), conn, func(ctx context.Context, tx *gorm.DB) error {
		_, ok := FromContext(ctx)
		require.True(t, ok)
		require.NoError(t, Run(ctx, conn, bump))
		require.NoError(t, Run(ctx, conn, bump))
		require.Equal(t, int64(2), value(t, DB(ctx, conn)))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(0), value(t, conn))
}

func TestDoReturnsValue(t *testing.T) {
	conn := setupDB(t)
	got, err := Do(context.Background(), conn, func(ctx context.Context, tx *gorm.DB) (int64, error) {
		if err := bump(ctx, tx); err != nil {
			return 0, err
		}
		return value(t, tx), nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), got)
}

// postgresNamed reports the postgres dialect while executing on sqlite, so tenant
// scoping is attempted and fails on the missing set_config function.
type postgresNamed struct {
	gorm.Dialector
}

func (postgresNamed) Name() string { return "postgres" }

func setupPostgresNamed(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_pg?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(postgresNamed{sqlite.Open(dsn)}, &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.Exec("CREATE TABLE counters (id integer primary key, value integer)").Error)
	require.NoError(t, conn.Exec("INSERT INTO counters (id, value) VALUES (1, 7)").Error)
	return conn
}

func read(ctx context.Context, db *gorm.DB) (int64, error) {
	var c counter
	err := db.First(&c, 1).Error
	return c.Value, err
}

func TestQueryReadsWithoutTransaction(t *testing.T) {
	conn := setupDB(t)
	ctx := orgcontext.WithOrgID(context.Background(), 42)

	got, err := Query(ctx, conn, read)
	require.NoError(t, err)
	require.Equal(t, int64(0), got)
}

func TestQueryAppliesTenantOnPostgres(t *testing.T) {
	conn := setupPostgresNamed(t)

	t.Run("org scoped read opens a tenant transaction", func(t *testing.T) {
		ctx := orgcontext.WithOrgID(context.Background(), 42)
		_, err := Query(ctx, conn, read)
		require.Error(t, err)
		require.Contains(t, err.Error(), "set_config")
	})

	t.Run("no organization reads directly", func(t *testing.T) {
		got, err := Query(context.Background(), conn, read)
		require.NoError(t, err)
		require.Equal(t, int64(7), got)
	})

	t.Run("ambient transaction is reused", func(t *testing.T) {
		ctx := orgcontext.WithOrgID(context.Background(), 42)
		ctx = WithTx(ctx, conn)
		got, err := Query(ctx, conn, read)
		require.NoError(t, err)
		require.Equal(t, int64(7), got)
	})
}

func TestScopedJoinsOuterTransaction(t *testing.T) {
	conn := setupDB(t)
	boom := errors.New("outer failure")
	err := Run(context.Background(), conn, func(ctx context.Context, tx *gorm.DB) error {
		require.NoError(t, Scoped(ctx, conn, bump))
		got, err := Query(ctx, conn, read)
		require.NoError(t, err)
		require.Equal(t, int64(1), got)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(0), value(t, conn))
}
