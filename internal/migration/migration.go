package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"gorm.io/gorm"
)

// migrationsTable keeps the version row apart from any other tool sharing the
// database.
const migrationsTable = "etimsbridge_schema_migrations"

// SchemaVersion is the schema state after RunMigrations.
type SchemaVersion struct {
	Version uint
	Applied bool
}

// RunMigrations applies the embedded postgres migrations and reports the
// resulting version. A dirty schema is returned as an error and needs manual
// repair before the service can start.
func RunMigrations(db *sql.DB) (SchemaVersion, error) {
	if db == nil {
		return SchemaVersion{}, errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return SchemaVersion{}, err
	}
	// migrator.Close would close the shared *sql.DB.

	applied := true
	if err := migrator.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return SchemaVersion{}, fmt.Errorf("apply compliance migrations: %w", err)
		}
		applied = false
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return SchemaVersion{Version: version}, fmt.Errorf("schema version %d is dirty", version)
	}
	return SchemaVersion{Version: version, Applied: applied}, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}

// AutoMigrate creates the compliance tables through gorm. It serves sqlite and
// mysql deployments and tests, where the postgres migrations do not apply.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func models() []any {
	return []any{
		&domain.ComplianceItem{},
		&domain.ComplianceConnection{},
		&domain.ComplianceDocument{},
		&domain.ComplianceLine{},
		&domain.ComplianceEvent{},
	}
}
