package telegram

import (
	"time"
)

// MediaKind classifies message media for filtering and dedup.
type MediaKind string

// Media kinds.
const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaVoice    MediaKind = "voice"
	MediaAudio    MediaKind = "audio"
	MediaSticker  MediaKind = "sticker"
	MediaGif      MediaKind = "gif"
	MediaRound    MediaKind = "round_video"
)

// Media holds the media attributes of a message that matter for
// filtering and content signatures.
type Media struct {
	Kind        MediaKind
	SizeBytes   int64
	DurationSec int
	Width       int
	Height      int
	Extension   string // lowercase, without dot
	FileID      string
	DocumentID  int64
	AccessHash  int64
	// FileReference is required by download requests and goes stale;
	// re-fetch the message to refresh it.
	FileReference []byte

	// sticker fields
	StickerID    int64
	StickerSetID int64
	StickerEmoji string

	// smallest cached thumbnail, if telegram sent one inline
	ThumbBytes []byte
}

// Message represents a parsed telegram message.
type Message struct {
	ID        int       // message id (unique within chat)
	ChatID    int64     // chat id
	Text      string    // message text or media caption
	Date      time.Time // message creation timestamp
	GroupedID int64     // album group id, 0 if not grouped
	Media     *Media    // nil for text-only messages

	// Album holds the other messages of the same album when the caller
	// resolved the full group. Empty for standalone messages.
	Album []*Message
}

// HasMedia reports whether the message carries any media.
func (m *Message) HasMedia() bool {
	return m.Media != nil
}

// IsVideo reports whether the message media is a video (round videos count).
func (m *Message) IsVideo() bool {
	return m.Media != nil && (m.Media.Kind == MediaVideo || m.Media.Kind == MediaRound)
}

// IsSticker reports whether the message media is a sticker.
func (m *Message) IsSticker() bool {
	return m.Media != nil && m.Media.Kind == MediaSticker
}

// Chat represents resolved telegram chat info.
type Chat struct {
	ID         int64  // chat id
	AccessHash int64  // access hash for api calls
	Title      string // chat title
	Username   string // username (without @), may be empty
}
