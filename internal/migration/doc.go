// Package migration manages the run-store SQL schema with embedded,
// versioned migrations for PostgreSQL, MySQL, and SQLite.
package migration
