// Package dedup implements content signatures and the duplicate
// suppression engine for forwarded telegram messages.
package dedup

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/blockedby/tg-forwarder/internal/telegram"
)

// ErrExtractorIO indicates a network failure while computing an I/O backed
// signature (video partial hash). Callers skip that signature and keep the
// rest of the bundle.
var ErrExtractorIO = errors.New("signature extraction io failed")

// Kind tags a signature with the content aspect it fingerprints.
type Kind string

// Signature kinds.
const (
	KindSticker        Kind = "sticker"
	KindVideoFileID    Kind = "video-fileid"
	KindVideoPartial   Kind = "video-partial"
	KindPhotoComposite Kind = "photo-composite"
	KindDocument       Kind = "document"
	KindAlbum          Kind = "album"
	KindTextHash       Kind = "text-hash"
	KindTextSimhash    Kind = "text-simhash"
)

// Signature is a typed content fingerprint of a message.
type Signature struct {
	Kind    Kind
	Payload string

	// fp is set for text-simhash signatures and used for hamming matching.
	fp uint64
}

// String renders the canonical "{kind}:{payload}" form.
func (s Signature) String() string {
	return string(s.Kind) + ":" + s.Payload
}

// Fingerprint returns the 64-bit simhash for text-simhash signatures, 0 otherwise.
func (s Signature) Fingerprint() uint64 {
	return s.fp
}

// IsContentHash reports whether the signature identifies media content
// (as opposed to text) and belongs in the content-hash index.
func (s Signature) IsContentHash() bool {
	switch s.Kind {
	case KindSticker, KindVideoFileID, KindVideoPartial, KindPhotoComposite, KindDocument, KindAlbum:
		return true
	}
	return false
}

// partialHashChunk is how many bytes are read from each end of a video
// for the partial content hash.
const partialHashChunk = 64 * 1024

// PartialDownloader fetches a byte range of a message's media.
type PartialDownloader interface {
	DownloadPartial(ctx context.Context, msg *telegram.Message, offset int64, limit int) ([]byte, error)
}

// Extractor builds signature bundles from messages. It is stateless; the
// only I/O it can perform is the video partial download.
type Extractor struct {
	dl PartialDownloader // nil disables video-partial signatures
}

// NewExtractor creates an extractor. dl may be nil when partial hashing
// is not available.
func NewExtractor(dl PartialDownloader) *Extractor {
	return &Extractor{dl: dl}
}

// Bundle returns the ordered signature bundle for a message. The first
// signature is the primary one. A non-nil error is always ErrExtractorIO
// based and means only the video-partial signature is missing; the rest
// of the bundle is still valid.
func (e *Extractor) Bundle(ctx context.Context, msg *telegram.Message, cfg Config) ([]Signature, error) {
	var sigs []Signature
	var ioErr error

	media := msg.Media

	if msg.IsSticker() && cfg.EnableStickerFilter {
		if cfg.StickerStrictMode {
			sigs = append(sigs, Signature{Kind: KindSticker, Payload: fmt.Sprintf("%d", media.StickerID)})
		} else {
			sigs = append(sigs, Signature{Kind: KindSticker, Payload: fmt.Sprintf("%d:%s", media.StickerSetID, media.StickerEmoji)})
		}
	}

	if msg.IsVideo() && cfg.EnableVideoFileIDCheck {
		sigs = append(sigs, Signature{Kind: KindVideoFileID, Payload: fmt.Sprintf("%d", media.DocumentID)})
	}

	if msg.IsVideo() && cfg.EnableVideoPartialHash && e.dl != nil {
		sig, err := e.videoPartial(ctx, msg)
		if err != nil {
			ioErr = err
		} else {
			sigs = append(sigs, sig)
		}
	}

	if media != nil && media.Kind == telegram.MediaPhoto {
		sigs = append(sigs, Signature{Kind: KindPhotoComposite, Payload: photoComposite(media)})
	}

	if media != nil && !msg.IsVideo() && !msg.IsSticker() && media.Kind != telegram.MediaPhoto {
		sigs = append(sigs, Signature{Kind: KindDocument, Payload: fmt.Sprintf("%d", media.DocumentID)})
	}

	if msg.GroupedID != 0 && len(msg.Album) > 0 && cfg.EnableAlbumDedup {
		if sig, ok := e.albumSignature(ctx, msg, cfg); ok {
			sigs = append(sigs, sig)
		}
	}

	normalized := NormalizeText(msg.Text)
	if normalized != "" {
		sigs = append(sigs, Signature{
			Kind:    KindTextHash,
			Payload: fmt.Sprintf("%016x", xxhash.Sum64String(normalized)),
		})
		if cfg.EnableSmartSimilarity {
			fp := Simhash64(normalized)
			sigs = append(sigs, Signature{
				Kind:    KindTextSimhash,
				Payload: fmt.Sprintf("%016x", fp),
				fp:      fp,
			})
		}
	}

	return sigs, ioErr
}

// videoPartial hashes the first and last 64 KiB of the video content.
func (e *Extractor) videoPartial(ctx context.Context, msg *telegram.Message) (Signature, error) {
	size := msg.Media.SizeBytes

	head, err := e.dl.DownloadPartial(ctx, msg, 0, partialHashChunk)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: head: %v", ErrExtractorIO, err)
	}

	var tail []byte
	if size > partialHashChunk {
		offset := size - partialHashChunk
		tail, err = e.dl.DownloadPartial(ctx, msg, offset, partialHashChunk)
		if err != nil {
			return Signature{}, fmt.Errorf("%w: tail: %v", ErrExtractorIO, err)
		}
	}

	sum := md5.Sum(append(head, tail...))
	return Signature{Kind: KindVideoPartial, Payload: fmt.Sprintf("%x", sum)}, nil
}

// albumSignature combines the content signatures of every album item into
// one order-independent fingerprint.
func (e *Extractor) albumSignature(ctx context.Context, msg *telegram.Message, cfg Config) (Signature, bool) {
	itemCfg := cfg
	itemCfg.EnableAlbumDedup = false // no recursion
	itemCfg.EnableVideoPartialHash = false

	items := append([]*telegram.Message{msg}, msg.Album...)
	var parts []string
	for _, item := range items {
		bundle, _ := e.Bundle(ctx, item, itemCfg)
		if len(bundle) > 0 {
			parts = append(parts, bundle[0].String())
		}
	}
	if len(parts) < 2 {
		return Signature{}, false
	}
	sort.Strings(parts)
	return Signature{Kind: KindAlbum, Payload: strings.Join(parts, ",")}, true
}

func photoComposite(media *telegram.Media) string {
	thumb := "0"
	if len(media.ThumbBytes) > 0 {
		thumb = fmt.Sprintf("%016x", xxhash.Sum64(media.ThumbBytes))
	}
	return fmt.Sprintf("%dx%d:%d:%s", media.Width, media.Height, media.SizeBytes, thumb)
}

var (
	reURL     = regexp.MustCompile(`http[s]?://\S+`)
	reMention = regexp.MustCompile(`@\w+`)
	reSpace   = regexp.MustCompile(`\s+`)
)

// NormalizeText lowercases the text and strips URLs, mentions, emoji and
// redundant whitespace so that trivially restyled copies hash identically.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	s := strings.ToLower(text)
	s = reURL.ReplaceAllString(s, " ")
	s = reMention.ReplaceAllString(s, " ")
	s = stripEmoji(s)
	s = reSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func stripEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isEmoji(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, transport
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, zero-width joiner
		return true
	}
	return false
}

// ShortID returns the first 8 hex characters of the MD5 of the full
// signature string. Used as compact callback tokens (64-byte UI limit).
func ShortID(signature string) string {
	sum := md5.Sum([]byte(signature))
	return fmt.Sprintf("%x", sum)[:8]
}
