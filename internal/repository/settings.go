package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/blockedby/tg-forwarder/internal/dedup"
	"github.com/blockedby/tg-forwarder/internal/models"
)

// SettingsRepository handles the singleton dedup settings row.
type SettingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the global dedup settings, creating the row with defaults
// on first access.
func (r *SettingsRepository) Get(ctx context.Context) (*models.DedupSettings, error) {
	var s models.DedupSettings
	err := r.db.WithContext(ctx).First(&s).Error
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get dedup settings: %w", err)
	}

	def := dedup.DefaultConfig()
	s = models.DedupSettings{
		EnableTimeWindow:        def.EnableTimeWindow,
		TimeWindowHours:         def.TimeWindowHours,
		EnableContentHash:       def.EnableContentHash,
		SimilarityThreshold:     def.SimilarityThreshold,
		EnableVideoFileIDCheck:  def.EnableVideoFileIDCheck,
		AlbumDuplicateThreshold: def.AlbumDuplicateThreshold,
		EnablePersistentCache:   def.EnablePersistentCache,
		CacheCleanupIntervalSec: def.CacheCleanupIntervalSec,
	}
	if err := r.db.WithContext(ctx).Create(&s).Error; err != nil {
		return nil, fmt.Errorf("create default dedup settings: %w", err)
	}
	return &s, nil
}

// Save persists the settings row.
func (r *SettingsRepository) Save(ctx context.Context, s *models.DedupSettings) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return fmt.Errorf("save dedup settings: %w", err)
	}
	return nil
}

// EffectiveDedupConfig merges rule-level overrides onto the global
// settings. A nil override inherits the global value; a rule with
// EnableDedup=false disables every check.
func EffectiveDedupConfig(global *models.DedupSettings, rule *models.ForwardRule) dedup.Config {
	cfg := dedup.Config{
		EnableTimeWindow:        global.EnableTimeWindow,
		TimeWindowHours:         global.TimeWindowHours,
		EnableContentHash:       global.EnableContentHash,
		EnableSmartSimilarity:   global.EnableSmartSimilarity,
		SimilarityThreshold:     global.SimilarityThreshold,
		EnableVideoFileIDCheck:  global.EnableVideoFileIDCheck,
		EnableVideoPartialHash:  global.EnableVideoPartialHash,
		EnableStickerFilter:     global.EnableStickerFilter,
		StickerStrictMode:       global.StickerStrictMode,
		EnableGlobalSearch:      global.EnableGlobalSearch,
		EnableAlbumDedup:        global.EnableAlbumDedup,
		AlbumDuplicateThreshold: global.AlbumDuplicateThreshold,
		EnablePersistentCache:   global.EnablePersistentCache,
		CacheCleanupIntervalSec: global.CacheCleanupIntervalSec,
	}
	if rule == nil {
		return cfg
	}

	if rule.EnableDedup != nil && !*rule.EnableDedup {
		return dedup.Config{CacheCleanupIntervalSec: cfg.CacheCleanupIntervalSec}
	}

	overrideBool(&cfg.EnableTimeWindow, rule.EnableTimeWindow)
	overrideInt(&cfg.TimeWindowHours, rule.TimeWindowHours)
	overrideBool(&cfg.EnableContentHash, rule.EnableContentHash)
	overrideBool(&cfg.EnableSmartSimilarity, rule.EnableSmartSimilarity)
	overrideFloat(&cfg.SimilarityThreshold, rule.SimilarityThreshold)
	overrideBool(&cfg.EnableVideoFileIDCheck, rule.EnableVideoFileIDCheck)
	overrideBool(&cfg.EnableVideoPartialHash, rule.EnableVideoPartialHash)
	overrideBool(&cfg.EnableStickerFilter, rule.EnableStickerFilter)
	overrideBool(&cfg.StickerStrictMode, rule.StickerStrictMode)
	overrideBool(&cfg.EnableGlobalSearch, rule.EnableGlobalSearch)
	overrideBool(&cfg.EnableAlbumDedup, rule.EnableAlbumDedup)
	overrideFloat(&cfg.AlbumDuplicateThreshold, rule.AlbumDuplicateThreshold)
	return cfg
}

func overrideBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func overrideInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func overrideFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
