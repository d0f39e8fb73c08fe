package policy

import (
	"strings"

	"github.com/blockedby/tg-forwarder/internal/models"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

// MediaConfigFromRule converts a rule's stored media settings into a
// filter config. Comma-separated lists tolerate spaces.
func MediaConfigFromRule(rule *models.ForwardRule) MediaConfig {
	cfg := MediaConfig{
		MinSizeBytes:   rule.MinSizeBytes,
		MaxSizeBytes:   rule.MaxSizeBytes,
		MinDurationSec: rule.MinDurationSec,
		MaxDurationSec: rule.MaxDurationSec,
		MinWidth:       rule.MinWidth,
		MinHeight:      rule.MinHeight,
		MaxWidth:       rule.MaxWidth,
		MaxHeight:      rule.MaxHeight,
	}
	for _, t := range splitList(rule.AllowedMediaTypes) {
		cfg.AllowedTypes = append(cfg.AllowedTypes, telegram.MediaKind(t))
	}
	cfg.BlockedExtensions = splitList(rule.BlockedExtensions)
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
