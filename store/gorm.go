package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/flowkit/hub"
	"github.com/BaSui01/flowkit/types"
)

// SQLConfig configures the GORM-backed run store.
type SQLConfig struct {
	// Driver is one of "sqlite", "mysql", "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string; for sqlite, a file path
	// or ":memory:".
	DSN string `yaml:"dsn" json:"dsn"`
	// MaxOpenConns bounds the connection pool; zero keeps the driver default.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
	// MaxIdleConns bounds idle connections; zero keeps the driver default.
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
}

// runEvent is one row of the append-only run event log. Seq is assigned by
// the database, so LoadEvents can page by sequence number.
type runEvent struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	RunID     string    `gorm:"index;size:64;not null"`
	EventID   string    `gorm:"size:64"`
	EventType string    `gorm:"size:64"`
	Payload   []byte    `gorm:"type:blob"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (runEvent) TableName() string { return "run_events" }

// runSnapshot holds at most one resumable snapshot per run.
type runSnapshot struct {
	RunID     string    `gorm:"primaryKey;size:64"`
	Payload   []byte    `gorm:"type:blob"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (runSnapshot) TableName() string { return "run_snapshots" }

// SQLStore is a RunStore over any GORM-supported database.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens the configured database, applies the pool settings, and
// migrates the run tables.
func NewSQLStore(config SQLConfig) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(config.Driver) {
	case "sqlite", "":
		dialector = sqlite.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	default:
		return nil, types.NewError(types.ErrValidation, fmt.Sprintf("unsupported sql driver %q", config.Driver))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if config.MaxOpenConns > 0 || config.MaxIdleConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if config.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		}
	}
	return NewSQLStoreWithDB(db)
}

// NewSQLStoreWithDB wraps an already-open GORM handle and migrates the run
// tables.
func NewSQLStoreWithDB(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&runEvent{}, &runSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run tables: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) AppendEvent(ctx context.Context, runID string, event hub.EnrichedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	row := runEvent{
		RunID:     runID,
		EventID:   event.ID,
		EventType: event.Type(),
		Payload:   payload,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLStore) LoadEvents(ctx context.Context, runID string, afterSeq int) ([]hub.EnrichedEvent, error) {
	query := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("seq ASC")
	if afterSeq >= 0 {
		// Sequence numbers are positional within the run, matching the
		// in-memory store's slice offsets.
		query = query.Offset(afterSeq + 1)
	}

	var rows []runEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]hub.EnrichedEvent, 0, len(rows))
	for _, row := range rows {
		var ev hub.EnrichedEvent
		if err := json.Unmarshal(row.Payload, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *SQLStore) SaveSnapshot(ctx context.Context, runID string, snapshot *types.SessionState) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	row := runSnapshot{RunID: runID, Payload: payload}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLStore) LoadSnapshot(ctx context.Context, runID string) (*types.SessionState, error) {
	var row runSnapshot
	err := s.db.WithContext(ctx).First(&row, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state types.SessionState
	if err := json.Unmarshal(row.Payload, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *SQLStore) DeleteSnapshot(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Delete(&runSnapshot{RunID: runID}).Error
}

var _ RunStore = (*SQLStore)(nil)
