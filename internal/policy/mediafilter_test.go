package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockedby/tg-forwarder/internal/telegram"
)

func videoMsg(size int64, duration, w, h int, ext string) *telegram.Message {
	return &telegram.Message{
		ID:     1,
		ChatID: 100,
		Media: &telegram.Media{
			Kind:        telegram.MediaVideo,
			SizeBytes:   size,
			DurationSec: duration,
			Width:       w,
			Height:      h,
			Extension:   ext,
		},
	}
}

func TestMediaFilter_TextAlwaysPasses(t *testing.T) {
	f := NewMediaFilter(MediaConfig{AllowedTypes: []telegram.MediaKind{telegram.MediaPhoto}})
	ok, reason := f.ShouldProcess(&telegram.Message{ID: 1, Text: "hello"})
	assert.True(t, ok)
	assert.Equal(t, "pass", reason)
}

func TestMediaFilter_Gates(t *testing.T) {
	tests := []struct {
		name   string
		cfg    MediaConfig
		msg    *telegram.Message
		wantOK bool
	}{
		{
			name:   "type allowed",
			cfg:    MediaConfig{AllowedTypes: []telegram.MediaKind{telegram.MediaVideo}},
			msg:    videoMsg(1000, 10, 1280, 720, "mp4"),
			wantOK: true,
		},
		{
			name:   "type rejected",
			cfg:    MediaConfig{AllowedTypes: []telegram.MediaKind{telegram.MediaPhoto}},
			msg:    videoMsg(1000, 10, 1280, 720, "mp4"),
			wantOK: false,
		},
		{
			name:   "too small",
			cfg:    MediaConfig{MinSizeBytes: 2048},
			msg:    videoMsg(1000, 10, 1280, 720, "mp4"),
			wantOK: false,
		},
		{
			name:   "too large",
			cfg:    MediaConfig{MaxSizeBytes: 500},
			msg:    videoMsg(1000, 10, 1280, 720, "mp4"),
			wantOK: false,
		},
		{
			name:   "too short",
			cfg:    MediaConfig{MinDurationSec: 30},
			msg:    videoMsg(1000, 10, 1280, 720, "mp4"),
			wantOK: false,
		},
		{
			name:   "blocked extension case insensitive",
			cfg:    MediaConfig{BlockedExtensions: []string{"MP4"}},
			msg:    videoMsg(1000, 10, 1280, 720, "mp4"),
			wantOK: false,
		},
		{
			name:   "resolution below minimum",
			cfg:    MediaConfig{MinWidth: 1920},
			msg:    videoMsg(1000, 10, 1280, 720, "mp4"),
			wantOK: false,
		},
		{
			name:   "no gates pass anything",
			cfg:    MediaConfig{},
			msg:    videoMsg(1, 1, 1, 1, "exe"),
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewMediaFilter(tt.cfg)
			ok, reason := f.ShouldProcess(tt.msg)
			assert.Equal(t, tt.wantOK, ok, reason)
		})
	}
}

func TestMediaFilter_Statistics(t *testing.T) {
	f := NewMediaFilter(MediaConfig{MinSizeBytes: 2048})
	f.ShouldProcess(videoMsg(4096, 10, 0, 0, ""))
	f.ShouldProcess(videoMsg(100, 10, 0, 0, ""))
	f.ShouldProcess(videoMsg(200, 10, 0, 0, ""))

	passed, rejected := f.Statistics()
	assert.Equal(t, 1, passed)

	total := 0
	for _, n := range rejected {
		total += n
	}
	assert.Equal(t, 2, total)
}
