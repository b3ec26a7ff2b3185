package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/storyloom/storyloom/internal/models"
	"gorm.io/gorm"
)

// sceneCacheRepo implements SceneCacheRepository using GORM. It carries no
// mutex: the cache layer serializes every call.
type sceneCacheRepo struct {
	db *gorm.DB
}

// NewSceneCacheRepository creates a new SceneCacheRepository.
func NewSceneCacheRepository(db *gorm.DB) *sceneCacheRepo {
	return &sceneCacheRepo{db: db}
}

// Insert stores a new entry and its reference bindings in one transaction.
func (r *sceneCacheRepo) Insert(ctx context.Context, entry *models.SceneEntry, bindings []models.SceneRefBinding) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if len(bindings) == 0 {
			return nil
		}
		for i := range bindings {
			bindings[i].EntryID = entry.ID
		}
		return tx.Create(&bindings).Error
	})
	if err != nil {
		return fmt.Errorf("inserting scene entry: %w", err)
	}
	return nil
}

// Get retrieves one entry by id.
func (r *sceneCacheRepo) Get(ctx context.Context, id int64) (*models.SceneEntry, error) {
	var entry models.SceneEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting scene entry: %w", err)
	}
	return &entry, nil
}

// ListRecent retrieves up to limit entries, newest first.
func (r *sceneCacheRepo) ListRecent(ctx context.Context, limit int) ([]*models.SceneEntry, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []*models.SceneEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing scene entries: %w", err)
	}
	return entries, nil
}

// ListByRefImageIDs retrieves entries bound to any of the reference image
// ids, newest first.
func (r *sceneCacheRepo) ListByRefImageIDs(ctx context.Context, refIDs []string) ([]*models.SceneEntry, error) {
	if len(refIDs) == 0 {
		return nil, nil
	}

	sub := r.db.Model(&models.SceneRefBinding{}).
		Select("entry_id").
		Where("ref_image_id IN ?", refIDs)

	var entries []*models.SceneEntry
	err := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("created_at DESC, id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing entries by ref image id: %w", err)
	}
	return entries, nil
}

// ListByRefPaths retrieves entries bound to any of the reference paths,
// newest first.
func (r *sceneCacheRepo) ListByRefPaths(ctx context.Context, refPaths []string) ([]*models.SceneEntry, error) {
	if len(refPaths) == 0 {
		return nil, nil
	}

	sub := r.db.Model(&models.SceneRefBinding{}).
		Select("entry_id").
		Where("ref_path IN ?", refPaths)

	var entries []*models.SceneEntry
	err := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("created_at DESC, id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing entries by ref path: %w", err)
	}
	return entries, nil
}

// ListByCharacter retrieves entries whose indexed character name or
// reference path matches, newest first.
func (r *sceneCacheRepo) ListByCharacter(ctx context.Context, name, refPath string) ([]*models.SceneEntry, error) {
	if name == "" && refPath == "" {
		return nil, nil
	}

	query := r.db.WithContext(ctx)
	switch {
	case name != "" && refPath != "":
		query = query.Where("character_name = ? OR reference_image_path = ?", name, refPath)
	case name != "":
		query = query.Where("character_name = ?", name)
	default:
		query = query.Where("reference_image_path = ?", refPath)
	}

	var entries []*models.SceneEntry
	if err := query.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing entries by character: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries.
func (r *sceneCacheRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SceneEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting scene entries: %w", err)
	}
	return count, nil
}

// CountBindings returns the number of binding rows.
func (r *sceneCacheRepo) CountBindings(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SceneRefBinding{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting scene ref bindings: %w", err)
	}
	return count, nil
}

// InsertBindings stores binding rows.
func (r *sceneCacheRepo) InsertBindings(ctx context.Context, bindings []models.SceneRefBinding) error {
	if len(bindings) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&bindings).Error; err != nil {
		return fmt.Errorf("inserting scene ref bindings: %w", err)
	}
	return nil
}

// ReplaceBindings swaps an entry's bindings in one transaction.
func (r *sceneCacheRepo) ReplaceBindings(ctx context.Context, entryID int64, bindings []models.SceneRefBinding) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entry_id = ?", entryID).Delete(&models.SceneRefBinding{}).Error; err != nil {
			return err
		}
		if len(bindings) == 0 {
			return nil
		}
		for i := range bindings {
			bindings[i].EntryID = entryID
			bindings[i].ID = 0
		}
		return tx.Create(&bindings).Error
	})
	if err != nil {
		return fmt.Errorf("replacing scene ref bindings: %w", err)
	}
	return nil
}

// DeleteByIDs removes entries and their bindings.
func (r *sceneCacheRepo) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entry_id IN ?", ids).Delete(&models.SceneRefBinding{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&models.SceneEntry{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting scene entries: %w", err)
	}
	return removed, nil
}

// Prune keeps only the newest keep entries and drops orphaned bindings.
func (r *sceneCacheRepo) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}

	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(`
			DELETE FROM scene_entries
			WHERE id IN (
				SELECT id FROM scene_entries
				ORDER BY created_at DESC, id DESC
				LIMIT -1 OFFSET ?
			)`, keep)
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		if removed == 0 {
			return nil
		}
		return tx.Exec(`
			DELETE FROM scene_ref_bindings
			WHERE entry_id NOT IN (SELECT id FROM scene_entries)`).Error
	})
	if err != nil {
		return 0, fmt.Errorf("pruning scene entries: %w", err)
	}
	return removed, nil
}
