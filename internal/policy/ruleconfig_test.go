package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockedby/tg-forwarder/internal/models"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

func TestMediaConfigFromRule(t *testing.T) {
	rule := &models.ForwardRule{
		AllowedMediaTypes: "photo, video",
		BlockedExtensions: "exe,  bat, ",
		MinSizeBytes:      1024,
		MaxSizeBytes:      50 << 20,
		MaxDurationSec:    600,
	}

	cfg := MediaConfigFromRule(rule)

	assert.Equal(t, []telegram.MediaKind{telegram.MediaPhoto, telegram.MediaVideo}, cfg.AllowedTypes)
	assert.Equal(t, []string{"exe", "bat"}, cfg.BlockedExtensions)
	assert.Equal(t, int64(1024), cfg.MinSizeBytes)
	assert.Equal(t, int64(50<<20), cfg.MaxSizeBytes)
	assert.Equal(t, 600, cfg.MaxDurationSec)
}

func TestMediaConfigFromRule_EmptyLists(t *testing.T) {
	cfg := MediaConfigFromRule(&models.ForwardRule{})

	assert.Nil(t, cfg.AllowedTypes)
	assert.Nil(t, cfg.BlockedExtensions)
}
