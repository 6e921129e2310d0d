package migration

import (
	"fmt"
	"strings"

	appconfig "github.com/BaSui01/flowkit/config"
)

// NewMigratorFromSQLConfig creates a migrator from the run-store SQL
// configuration. The DSN is used as-is; the dialect is parsed from the
// configured driver.
func NewMigratorFromSQLConfig(cfg appconfig.SQLConfig) (*Migrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	dbURL := cfg.DSN
	// Bare sqlite file paths become file: URLs; full DSNs pass through.
	if dbType == DatabaseTypeSQLite && !strings.HasPrefix(dbURL, "file:") {
		dbURL = BuildDatabaseURL(dbType, "", 0, cfg.DSN, "", "", "")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL creates a migrator from a dialect name and URL.
func NewMigratorFromURL(dbType, dbURL string) (*Migrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
