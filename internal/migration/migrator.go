package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// DatabaseType identifies the dialect being migrated.
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// MigrationStatus is the per-migration view returned by Status.
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo summarizes the current migration state.
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config holds the migrator configuration.
type Config struct {
	// DatabaseType is the dialect (postgres, mysql, sqlite).
	DatabaseType DatabaseType
	// DatabaseURL is the driver connection string.
	DatabaseURL string
	// TableName is the migrations bookkeeping table (default
	// schema_migrations).
	TableName string
	// LockTimeout bounds the migration lock acquisition.
	LockTimeout time.Duration
}

// Migrator applies and rolls back the run-store schema.
type Migrator struct {
	config   *Config
	migrate  *migrate.Migrate
	db       *sql.DB
	dbDriver database.Driver
}

// NewMigrator opens the database and prepares the embedded migrations for
// its dialect.
func NewMigrator(cfg *Config) (*Migrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	m := &Migrator{config: cfg}
	if err := m.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return m, nil
}

func (m *Migrator) init() error {
	var err error
	m.db, err = m.openDatabase()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	m.dbDriver, err = m.createDatabaseDriver()
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	sourceDriver, err := m.createSourceDriver()
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}
	m.migrate, err = migrate.NewWithInstance("iofs", sourceDriver, string(m.config.DatabaseType), m.dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return nil
}

func (m *Migrator) openDatabase() (*sql.DB, error) {
	var driverName string
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		driverName = "postgres"
	case DatabaseTypeMySQL:
		driverName = "mysql"
	case DatabaseTypeSQLite:
		driverName = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", m.config.DatabaseType)
	}

	db, err := sql.Open(driverName, m.config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (m *Migrator) createDatabaseDriver() (database.Driver, error) {
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: m.config.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(m.db, &mysql.Config{MigrationsTable: m.config.TableName})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(m.db, &sqlite3.Config{MigrationsTable: m.config.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", m.config.DatabaseType)
	}
}

func (m *Migrator) createSourceDriver() (source.Driver, error) {
	fsys, path, err := m.migrationFS()
	if err != nil {
		return nil, err
	}
	return iofs.New(fsys, path)
}

func (m *Migrator) migrationFS() (fs.FS, string, error) {
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		return postgresFS, "migrations/postgres", nil
	case DatabaseTypeMySQL:
		return mysqlFS, "migrations/mysql", nil
	case DatabaseTypeSQLite:
		return sqliteFS, "migrations/sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", m.config.DatabaseType)
	}
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down rolls back the last migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// DownAll rolls back every migration.
func (m *Migrator) DownAll(ctx context.Context) error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

// Steps applies (positive n) or rolls back (negative n) n migrations.
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Version returns the current migration version and dirty flag.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status returns the per-migration applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	migrations, err := m.availableMigrations()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		statuses = append(statuses, MigrationStatus{
			Version: mig.version,
			Name:    mig.name,
			Applied: mig.version <= currentVersion,
			Dirty:   dirty && mig.version == currentVersion,
		})
	}
	return statuses, nil
}

// Info summarizes the migration state.
func (m *Migrator) Info(ctx context.Context) (*MigrationInfo, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	migrations, err := m.availableMigrations()
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, mig := range migrations {
		if mig.version <= currentVersion {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    currentVersion,
		Dirty:             dirty,
		TotalMigrations:   len(migrations),
		AppliedMigrations: applied,
		PendingMigrations: len(migrations) - applied,
	}, nil
}

// Close releases the migrate instance and the database connection.
func (m *Migrator) Close() error {
	var errs []error
	if m.migrate != nil {
		sourceErr, dbErr := m.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, sourceErr)
		}
		if dbErr != nil {
			errs = append(errs, dbErr)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close migrator: %v", errs)
	}
	return nil
}

type migrationFile struct {
	version uint
	name    string
}

func (m *Migrator) availableMigrations() ([]migrationFile, error) {
	fsys, path, err := m.migrationFS()
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[uint]bool)
	var migrations []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil || seen[uint(version)] {
			continue
		}
		seen[uint(version)] = true
		migrations = append(migrations, migrationFile{
			version: uint(version),
			name:    strings.TrimSuffix(parts[1], ".up.sql"),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

// ParseDatabaseType parses a dialect string, accepting common aliases.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// BuildDatabaseURL builds a driver connection string from components.
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			username, password, host, port, database, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			username, password, host, port, database)
	case DatabaseTypeSQLite:
		return fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on", database)
	default:
		return ""
	}
}
