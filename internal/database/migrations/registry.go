// Package migrations provides schema migration management for the storyloom
// SQLite stores.
package migrations

import (
	"github.com/storyloom/storyloom/internal/models"
	"gorm.io/gorm"
)

// JobStoreMigrations returns the migrations for the job store database
// (assets/jobs/jobs.db) in order:
//   - 001: Create jobs, job_payloads and job_cancel_flags tables
//   - 002: Add image_source_report_json column to jobs
func JobStoreMigrations() []Migration {
	return []Migration{
		jobStore001Schema(),
		jobStore002ImageSourceReport(),
	}
}

// SceneCacheMigrations returns the migrations for the scene cache database
// (assets/scene_cache/scene_cache.db) in order:
//   - 001: Create scene_entries and scene_ref_bindings tables
func SceneCacheMigrations() []Migration {
	return []Migration{
		sceneCache001Schema(),
	}
}

// jobStore001Schema creates the job store tables using GORM AutoMigrate.
func jobStore001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create jobs, job_payloads and job_cancel_flags tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Job{},
				&models.JobPayload{},
				&models.JobCancelFlag{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"job_cancel_flags",
				"job_payloads",
				"jobs",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// jobStore002ImageSourceReport adds the image_source_report_json column to
// the jobs table. Databases created before the per-job provenance report
// lack it; the column is additive so older rows keep working with an empty
// report.
func jobStore002ImageSourceReport() Migration {
	return Migration{
		Version:     "002",
		Description: "Add image_source_report_json column to jobs table",
		Up: func(tx *gorm.DB) error {
			if !tx.Migrator().HasColumn("jobs", "image_source_report_json") {
				if err := tx.Exec("ALTER TABLE jobs ADD COLUMN image_source_report_json TEXT DEFAULT ''").Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			// SQLite cannot drop columns without recreating the table; the
			// column staying behind is harmless for older releases.
			return nil
		},
	}
}

// sceneCache001Schema creates the scene cache tables using GORM AutoMigrate.
// The reference bindings side table is created here but populated lazily:
// the cache backfills it from stored match profiles on open when it is empty
// while entries exist.
func sceneCache001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create scene_entries and scene_ref_bindings tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.SceneEntry{},
				&models.SceneRefBinding{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"scene_ref_bindings",
				"scene_entries",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
