// Package policy holds the reusable replay helpers: media gating,
// retry with backoff, and queue backpressure.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blockedby/tg-forwarder/internal/telegram"
)

// MediaConfig configures the media gate. Zero values disable a check.
type MediaConfig struct {
	// AllowedTypes restricts media kinds; empty allows all.
	AllowedTypes []telegram.MediaKind

	MinSizeBytes int64
	MaxSizeBytes int64 // 0 = unbounded

	MinDurationSec int
	MaxDurationSec int // 0 = unbounded

	// BlockedExtensions are lowercase without dot.
	BlockedExtensions []string

	MinWidth  int
	MinHeight int
	MaxWidth  int // 0 = unbounded
	MaxHeight int // 0 = unbounded
}

// MediaFilter gates messages by media attributes. Checks short-circuit
// on the first rejection; text-only messages always pass.
type MediaFilter struct {
	cfg MediaConfig

	mu       sync.Mutex
	passed   int
	rejected map[string]int
}

// NewMediaFilter creates a media filter.
func NewMediaFilter(cfg MediaConfig) *MediaFilter {
	return &MediaFilter{cfg: cfg, rejected: make(map[string]int)}
}

// ShouldProcess reports whether the message passes all enabled gates,
// with the rejection reason when it does not.
func (f *MediaFilter) ShouldProcess(msg *telegram.Message) (bool, string) {
	ok, reason := f.check(msg)
	f.mu.Lock()
	if ok {
		f.passed++
	} else {
		f.rejected[reason]++
	}
	f.mu.Unlock()
	return ok, reason
}

func (f *MediaFilter) check(msg *telegram.Message) (bool, string) {
	media := msg.Media
	if media == nil {
		return true, "pass"
	}

	if len(f.cfg.AllowedTypes) > 0 && !containsKind(f.cfg.AllowedTypes, media.Kind) {
		return false, fmt.Sprintf("type %s not allowed", media.Kind)
	}

	if f.cfg.MinSizeBytes > 0 && media.SizeBytes < f.cfg.MinSizeBytes {
		return false, fmt.Sprintf("size %d below minimum", media.SizeBytes)
	}
	if f.cfg.MaxSizeBytes > 0 && media.SizeBytes > f.cfg.MaxSizeBytes {
		return false, fmt.Sprintf("size %d above maximum", media.SizeBytes)
	}

	if f.cfg.MinDurationSec > 0 && media.DurationSec < f.cfg.MinDurationSec {
		return false, fmt.Sprintf("duration %ds below minimum", media.DurationSec)
	}
	if f.cfg.MaxDurationSec > 0 && media.DurationSec > f.cfg.MaxDurationSec {
		return false, fmt.Sprintf("duration %ds above maximum", media.DurationSec)
	}

	if ext := strings.ToLower(media.Extension); ext != "" {
		for _, blocked := range f.cfg.BlockedExtensions {
			if ext == strings.ToLower(blocked) {
				return false, fmt.Sprintf("extension %s blocked", ext)
			}
		}
	}

	if media.Width > 0 || media.Height > 0 {
		if f.cfg.MinWidth > 0 && media.Width < f.cfg.MinWidth {
			return false, fmt.Sprintf("width %d below minimum", media.Width)
		}
		if f.cfg.MinHeight > 0 && media.Height < f.cfg.MinHeight {
			return false, fmt.Sprintf("height %d below minimum", media.Height)
		}
		if f.cfg.MaxWidth > 0 && media.Width > f.cfg.MaxWidth {
			return false, fmt.Sprintf("width %d above maximum", media.Width)
		}
		if f.cfg.MaxHeight > 0 && media.Height > f.cfg.MaxHeight {
			return false, fmt.Sprintf("height %d above maximum", media.Height)
		}
	}

	return true, "pass"
}

// Statistics returns pass/reject counters keyed by reason.
func (f *MediaFilter) Statistics() (passed int, rejected map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.rejected))
	for k, v := range f.rejected {
		out[k] = v
	}
	return f.passed, out
}

func containsKind(kinds []telegram.MediaKind, k telegram.MediaKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
