// Package models defines the persisted entities for forward rules and settings.
package models

import (
	"time"
)

// Chat represents a known telegram chat (source or target of a rule).
type Chat struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	TelegramChatID int64     `json:"telegram_chat_id" gorm:"uniqueIndex"`
	AccessHash     int64     `json:"access_hash"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// KeywordMode selects how a keyword is matched against message text.
type KeywordMode string

// Keyword matching modes.
const (
	KeywordModePlain KeywordMode = "PLAIN"
	KeywordModeRegex KeywordMode = "REGEX"
)

// Keyword is a per-rule include/exclude keyword.
type Keyword struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	RuleID    uint        `json:"rule_id" gorm:"index"`
	Word      string      `json:"word"`
	Mode      KeywordMode `json:"mode"`
	Exclude   bool        `json:"exclude"`
	CreatedAt time.Time   `json:"created_at"`
}

// ReplaceRule is a per-rule regex replacement applied to forwarded text.
type ReplaceRule struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	RuleID      uint      `json:"rule_id" gorm:"index"`
	Pattern     string    `json:"pattern"`
	Replacement string    `json:"replacement"`
	CreatedAt   time.Time `json:"created_at"`
}

// PushChannel is an additional push destination (apprise-format URL).
type PushChannel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	RuleID    uint      `json:"rule_id" gorm:"index"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// ForwardRule maps a source chat to a target chat with filters and overrides.
//
// Dedup override fields are pointers: nil means "inherit from global settings".
type ForwardRule struct {
	ID      uint `json:"id" gorm:"primaryKey"`
	Enabled bool `json:"enabled" gorm:"default:true"`

	SourceChatID uint  `json:"source_chat_id"`
	TargetChatID uint  `json:"target_chat_id"`
	SourceChat   *Chat `json:"source_chat,omitempty" gorm:"foreignKey:SourceChatID"`
	TargetChat   *Chat `json:"target_chat,omitempty" gorm:"foreignKey:TargetChatID"`

	Keywords     []Keyword     `json:"keywords,omitempty" gorm:"foreignKey:RuleID"`
	ReplaceRules []ReplaceRule `json:"replace_rules,omitempty" gorm:"foreignKey:RuleID"`
	PushChannels []PushChannel `json:"push_channels,omitempty" gorm:"foreignKey:RuleID"`

	// media filter settings
	AllowedMediaTypes string `json:"allowed_media_types"` // comma-separated, empty = all
	MinSizeBytes      int64  `json:"min_size_bytes"`
	MaxSizeBytes      int64  `json:"max_size_bytes"` // 0 = unbounded
	MinDurationSec    int    `json:"min_duration_sec"`
	MaxDurationSec    int    `json:"max_duration_sec"` // 0 = unbounded
	MinWidth          int    `json:"min_width"`
	MinHeight         int    `json:"min_height"`
	MaxWidth          int    `json:"max_width"`
	MaxHeight         int    `json:"max_height"`
	BlockedExtensions string `json:"blocked_extensions"` // comma-separated

	// ai augmentation
	AIEnabled     bool   `json:"ai_enabled"`
	AIPrompt      string `json:"ai_prompt"`
	SummaryPrompt string `json:"summary_prompt"`

	// dedup overrides (nil = inherit global)
	EnableDedup               *bool    `json:"enable_dedup,omitempty"`
	EnableTimeWindow          *bool    `json:"enable_time_window,omitempty"`
	TimeWindowHours           *int     `json:"time_window_hours,omitempty"`
	EnableContentHash         *bool    `json:"enable_content_hash,omitempty"`
	EnableSmartSimilarity     *bool    `json:"enable_smart_similarity,omitempty"`
	SimilarityThreshold       *float64 `json:"similarity_threshold,omitempty"`
	EnableVideoFileIDCheck    *bool    `json:"enable_video_file_id_check,omitempty"`
	EnableVideoPartialHash    *bool    `json:"enable_video_partial_hash,omitempty"`
	EnableStickerFilter       *bool    `json:"enable_sticker_filter,omitempty"`
	StickerStrictMode         *bool    `json:"sticker_strict_mode,omitempty"`
	EnableGlobalSearch        *bool    `json:"enable_global_search,omitempty"`
	EnableAlbumDedup          *bool    `json:"enable_album_dedup,omitempty"`
	AlbumDuplicateThreshold   *float64 `json:"album_duplicate_threshold,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupSettings holds the global deduplication configuration (single row).
type DedupSettings struct {
	ID uint `json:"id" gorm:"primaryKey"`

	EnableTimeWindow        bool    `json:"enable_time_window" gorm:"default:true"`
	TimeWindowHours         int     `json:"time_window_hours" gorm:"default:24"`
	EnableContentHash       bool    `json:"enable_content_hash" gorm:"default:true"`
	EnableSmartSimilarity   bool    `json:"enable_smart_similarity"`
	SimilarityThreshold     float64 `json:"similarity_threshold" gorm:"default:0.85"`
	EnableVideoFileIDCheck  bool    `json:"enable_video_file_id_check" gorm:"default:true"`
	EnableVideoPartialHash  bool    `json:"enable_video_partial_hash"`
	EnableStickerFilter     bool    `json:"enable_sticker_filter"`
	StickerStrictMode       bool    `json:"sticker_strict_mode"`
	EnableGlobalSearch      bool    `json:"enable_global_search"`
	EnableAlbumDedup        bool    `json:"enable_album_dedup"`
	AlbumDuplicateThreshold float64 `json:"album_duplicate_threshold" gorm:"default:0.6"`
	EnablePersistentCache   bool    `json:"enable_persistent_cache" gorm:"default:true"`
	CacheCleanupIntervalSec int     `json:"cache_cleanup_interval_sec" gorm:"default:3600"`

	UpdatedAt time.Time `json:"updated_at"`
}
