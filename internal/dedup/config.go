package dedup

// Config is the effective deduplication configuration for one rule.
// It is produced by merging rule-level overrides onto the global settings.
type Config struct {
	EnableTimeWindow bool
	// TimeWindowHours <= 0 means the window never expires.
	TimeWindowHours int

	EnableContentHash     bool
	EnableSmartSimilarity bool
	// SimilarityThreshold is clamped to [0.5, 1.0].
	SimilarityThreshold float64

	EnableVideoFileIDCheck bool
	EnableVideoPartialHash bool

	EnableStickerFilter bool
	StickerStrictMode   bool

	// EnableGlobalSearch makes dedup cross-chat: all signatures share one index.
	EnableGlobalSearch bool

	EnableAlbumDedup        bool
	AlbumDuplicateThreshold float64

	EnablePersistentCache   bool
	CacheCleanupIntervalSec int
}

// DefaultConfig returns the configuration used when no settings row exists.
func DefaultConfig() Config {
	return Config{
		EnableTimeWindow:        true,
		TimeWindowHours:         24,
		EnableContentHash:       true,
		SimilarityThreshold:     0.85,
		EnableVideoFileIDCheck:  true,
		AlbumDuplicateThreshold: 0.6,
		EnablePersistentCache:   true,
		CacheCleanupIntervalSec: 3600,
	}
}
