package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/congregate/internal/audit/domain"
	hierarchydomain "github.com/smallbiznis/congregate/internal/hierarchy/domain"
	historydomain "github.com/smallbiznis/congregate/internal/history/domain"
	memberdomain "github.com/smallbiznis/congregate/internal/member/domain"
	officerdomain "github.com/smallbiznis/congregate/internal/officer/domain"
	"gorm.io/gorm"
)

// Migrate brings the schema up to date for the connected dialect. Postgres uses the
// embedded SQL migrations; other dialects are created from the gorm models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// sqliteIndexes mirror the partial unique indexes of the postgres migrations. MySQL has
// no partial indexes; there the ledger's member row locks keep one open row per axis.
var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_org_groups_sibling_name
		ON org_groups (org_id, COALESCE(parent_id, 0), lower(name))
		WHERE deleted_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_officers_name
		ON officers (org_id, lower(name))
		WHERE deleted_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_assignment_histories_open
		ON assignment_histories (org_id, member_id, axis)
		WHERE end_date IS NULL AND deleted_at IS NULL`,
}

// AutoMigrate creates the schema from the gorm models. Used for sqlite, mysql and tests.
func AutoMigrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&memberdomain.Member{},
		&hierarchydomain.Group{},
		&officerdomain.Officer{},
		&historydomain.History{},
		&auditdomain.AuditLog{},
	)
	if err != nil {
		return err
	}
	if conn.Dialector.Name() != "sqlite" {
		return nil
	}
	for _, stmt := range sqliteIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
