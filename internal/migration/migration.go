// Package migration creates the service schema on startup.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	operatorkeydomain "github.com/smallbiznis/dashvault/internal/operatorkey/domain"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	webhookdomain "github.com/smallbiznis/dashvault/internal/webhook/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&submissiondomain.Submission{},
		&scenariodomain.Scenario{},
		&earningsdomain.Earning{},
		&earningsdomain.DriverEarnings{},
		&webhookdomain.WebhookLog{},
		&auditdomain.AuditLog{},
		&operatorkeydomain.OperatorKey{},
	}
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
	// Closing the migrator would close the shared *sql.DB.

	return nil
}

// Migrate picks the schema path for the connected dialect. Non-postgres
// stores are local development only and use AutoMigrate.
func Migrate(conn *gorm.DB) error {
	if conn.Dialector.Name() != "postgres" {
		return conn.AutoMigrate(Models()...)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
