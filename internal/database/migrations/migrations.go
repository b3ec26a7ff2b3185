// Package migrations upgrades the storyloom SQLite stores in place. Each
// store carries a schema_migrations table; opening a store created by an
// older release applies whatever is missing, so operators never run a
// separate migrate step.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is one versioned schema change. Up runs inside a transaction
// together with the bookkeeping insert; Down may be nil for changes SQLite
// cannot reverse.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// MigrationRecord is one row of the bookkeeping table.
type MigrationRecord struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

func (MigrationRecord) TableName() string { return "schema_migrations" }

// MigrationStatus pairs a registered migration with its applied state.
type MigrationStatus struct {
	Version     string
	Description string
	Applied     bool
	AppliedAt   *time.Time
}

// Migrator applies a registry of migrations to one store.
type Migrator struct {
	db       *gorm.DB
	logger   *slog.Logger
	registry []Migration
}

// NewMigrator creates a migrator for the given store.
func NewMigrator(db *gorm.DB, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, logger: logger}
}

// RegisterAll adds migrations to the registry.
func (m *Migrator) RegisterAll(migrations []Migration) {
	m.registry = append(m.registry, migrations...)
}

// Up applies every registered migration not yet recorded, in version order.
func (m *Migrator) Up(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.sorted() {
		if _, ok := applied[mig.Version]; ok {
			continue
		}

		m.logger.InfoContext(ctx, "applying migration",
			"version", mig.Version, "description", mig.Description)

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := mig.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:     mig.Version,
				Description: mig.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", mig.Version, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration. A store with no
// applied migrations is a no-op.
func (m *Migrator) Down(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}

	var last MigrationRecord
	if err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error; err != nil {
		return fmt.Errorf("finding last migration: %w", err)
	}

	mig, ok := m.lookup(last.Version)
	if !ok {
		return fmt.Errorf("no registered migration for applied version %s", last.Version)
	}
	if mig.Down == nil {
		return fmt.Errorf("migration %s cannot be rolled back", last.Version)
	}

	m.logger.InfoContext(ctx, "rolling back migration",
		"version", mig.Version, "description", mig.Description)

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mig.Down(tx); err != nil {
			return err
		}
		return tx.Where("version = ?", mig.Version).Delete(&MigrationRecord{}).Error
	})
	if err != nil {
		return fmt.Errorf("rolling back migration %s: %w", mig.Version, err)
	}
	return nil
}

// Status reports every registered migration with its applied timestamp.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	sorted := m.sorted()
	statuses := make([]MigrationStatus, 0, len(sorted))
	for _, mig := range sorted {
		status := MigrationStatus{Version: mig.Version, Description: mig.Description}
		if record, ok := applied[mig.Version]; ok {
			status.Applied = true
			at := record.AppliedAt
			status.AppliedAt = &at
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// applied ensures the bookkeeping table exists and loads its rows.
func (m *Migrator) applied(ctx context.Context) (map[string]MigrationRecord, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&MigrationRecord{}); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	var records []MigrationRecord
	if err := db.Find(&records).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return map[string]MigrationRecord{}, nil
		}
		return nil, fmt.Errorf("loading applied migrations: %w", err)
	}

	applied := make(map[string]MigrationRecord, len(records))
	for _, r := range records {
		applied[r.Version] = r
	}
	return applied, nil
}

// sorted returns the registry in ascending version order without mutating it.
func (m *Migrator) sorted() []Migration {
	out := make([]Migration, len(m.registry))
	copy(out, m.registry)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (m *Migrator) lookup(version string) (Migration, bool) {
	for _, mig := range m.registry {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}
