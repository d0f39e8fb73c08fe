// Package telegram provides the MTProto client wrapper: history
// iteration, message parsing, deletion, forwarding and partial media
// downloads.
package telegram

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-forwarder/internal/logger"
)

const historyBatchSize = 100

// Client wraps the gotgproto client with rate limiting and message
// parsing. It goes through the Manager so a QR re-login swaps the
// underlying protocol client without restarting consumers.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger
}

// NewClient creates a telegram client wrapper using the Manager.
func NewClient(manager *Manager) *Client {
	return &Client{
		manager:     manager,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get(),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

// StartQR starts the QR login flow, proxying to the manager.
func (c *Client) StartQR(ctx context.Context, onQRCode func(url string)) error {
	return c.manager.StartQR(ctx, onQRCode)
}

// IsQRInProgress returns true if a QR login flow is currently in progress.
func (c *Client) IsQRInProgress() bool {
	return c.manager.IsQRInProgress()
}

// CancelQR cancels any ongoing QR login flow.
func (c *Client) CancelQR() {
	c.manager.CancelQR()
}

func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, fmt.Errorf("telegram client not authorized")
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// inputPeer resolves a chat id to an input peer via the peer storage
// that gotgproto fills as updates and resolves come in.
func (c *Client) inputPeer(chatID int64) (tg.InputPeerClass, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	peer := proto.PeerStorage.GetInputPeerById(chatID)
	if _, empty := peer.(*tg.InputPeerEmpty); empty {
		return nil, fmt.Errorf("unknown chat %d, no peer info stored", chatID)
	}
	return peer, nil
}

// GetChat resolves chat info by id.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	peer, err := c.inputPeer(chatID)
	if err != nil {
		return nil, err
	}
	ch, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return &Chat{ID: chatID}, nil
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get channel %d: %w", chatID, err)
	}
	for _, raw := range res.GetChats() {
		if channel, ok := raw.(*tg.Channel); ok {
			return &Chat{
				ID:         chatID,
				AccessHash: channel.AccessHash,
				Title:      channel.Title,
				Username:   channel.Username,
			}, nil
		}
	}
	return nil, fmt.Errorf("channel %d not in response", chatID)
}

// ResolveChat resolves a username (with or without @) to chat info.
func (c *Client) ResolveChat(ctx context.Context, username string) (*Chat, error) {
	username = strings.TrimPrefix(username, "@")

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("resolve username %s: %w", username, err)
	}
	if len(resolved.Chats) == 0 {
		return nil, fmt.Errorf("chat not found: %s", username)
	}
	ch, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return nil, fmt.Errorf("not a channel: %s", username)
	}
	return &Chat{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Title:      ch.Title,
		Username:   username,
	}, nil
}

// GetMessages fetches up to opts.Limit messages. With opts.Reverse the
// oldest messages come first; opts.OffsetDate bounds the window.
func (c *Client) GetMessages(ctx context.Context, chatID int64, opts IterOptions) ([]*Message, error) {
	limit := opts.Limit
	if limit <= 0 || limit > historyBatchSize {
		limit = historyBatchSize
	}

	peer, err := c.inputPeer(chatID)
	if err != nil {
		return nil, err
	}

	req := &tg.MessagesGetHistoryRequest{Peer: peer, Limit: limit}
	if !opts.OffsetDate.IsZero() {
		req.OffsetDate = int(opts.OffsetDate.Unix())
	}
	if opts.Reverse {
		// ascend from the boundary: request the window just above it
		offsetID, err := c.boundaryID(ctx, peer, opts.OffsetDate)
		if err != nil {
			return nil, err
		}
		req.OffsetID = offsetID
		req.OffsetDate = 0
		req.AddOffset = -limit
	}

	batch, err := c.history(ctx, chatID, req)
	if err != nil {
		return nil, err
	}
	if opts.Reverse {
		reverseMessages(batch)
	}
	return batch, nil
}

// IterMessages returns a lazy cursor over the chat history. With
// Reverse it yields oldest-to-newest starting at OffsetDate.
func (c *Client) IterMessages(chatID int64, opts IterOptions) Iterator {
	return &historyIter{client: c, chatID: chatID, opts: opts}
}

// GetMessagesByID fetches specific messages. Missing ids are silently
// absent from the result.
func (c *Client) GetMessagesByID(ctx context.Context, chatID int64, ids []int) ([]*Message, error) {
	peer, err := c.inputPeer(chatID)
	if err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	inputIDs := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		inputIDs[i] = &tg.InputMessageID{ID: id}
	}

	var res tg.MessagesMessagesClass
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      inputIDs,
		})
	} else {
		res, err = api.MessagesGetMessages(ctx, inputIDs)
	}
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get messages by id in chat %d: %w", chatID, err)
	}

	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	default:
		return nil, fmt.Errorf("unexpected messages response %T", res)
	}

	var out []*Message
	for _, m := range raw {
		if parsed := parseMessage(m, chatID); parsed != nil {
			out = append(out, parsed)
		}
	}
	return out, nil
}

// DeleteMessages removes messages for everyone.
func (c *Client) DeleteMessages(ctx context.Context, chatID int64, ids []int) error {
	peer, err := c.inputPeer(chatID)
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	api, err := c.API()
	if err != nil {
		return err
	}

	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		_, err = api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
	} else {
		_, err = api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
			Revoke: true,
			ID:     ids,
		})
	}
	if err != nil {
		c.noteFloodWait(err)
		return fmt.Errorf("delete %d messages in chat %d: %w", len(ids), chatID, err)
	}
	return nil
}

// ForwardMessages forwards messages between chats preserving media.
func (c *Client) ForwardMessages(ctx context.Context, fromChatID, toChatID int64, ids []int) error {
	from, err := c.inputPeer(fromChatID)
	if err != nil {
		return err
	}
	to, err := c.inputPeer(toChatID)
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	api, err := c.API()
	if err != nil {
		return err
	}

	randomIDs := make([]int64, len(ids))
	for i := range randomIDs {
		randomIDs[i] = time.Now().UnixNano() + int64(i)
	}
	_, err = api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: from,
		ToPeer:   to,
		ID:       ids,
		RandomID: randomIDs,
	})
	if err != nil {
		c.noteFloodWait(err)
		return fmt.Errorf("forward messages %d -> %d: %w", fromChatID, toChatID, err)
	}
	return nil
}

// SendMessage sends a plain text message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	peer, err := c.inputPeer(chatID)
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	api, err := c.API()
	if err != nil {
		return err
	}
	_, err = api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: time.Now().UnixNano(),
	})
	if err != nil {
		c.noteFloodWait(err)
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// DownloadPartial fetches length bytes of a message's document starting
// at offset. Used for partial content hashing of videos.
func (c *Client) DownloadPartial(ctx context.Context, msg *Message, offset int64, length int) ([]byte, error) {
	if msg.Media == nil || msg.Media.DocumentID == 0 {
		return nil, fmt.Errorf("message %d has no downloadable document", msg.ID)
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	res, err := api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: &tg.InputDocumentFileLocation{
			ID:            msg.Media.DocumentID,
			AccessHash:    msg.Media.AccessHash,
			FileReference: msg.Media.FileReference,
		},
		Offset: offset,
		Limit:  length,
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("download partial of message %d: %w", msg.ID, err)
	}
	file, ok := res.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("unexpected upload response %T", res)
	}
	return file.Bytes, nil
}

// boundaryID finds the newest message id strictly before the given
// date, the starting point for ascending iteration. Zero date means
// start from the beginning of the chat.
func (c *Client) boundaryID(ctx context.Context, peer tg.InputPeerClass, date time.Time) (int, error) {
	if date.IsZero() {
		return 0, nil
	}
	batch, err := c.history(ctx, 0, &tg.MessagesGetHistoryRequest{
		Peer:       peer,
		OffsetDate: int(date.Unix()),
		Limit:      1,
	})
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	return batch[0].ID, nil
}

// history performs one MessagesGetHistory call and parses the result.
func (c *Client) history(ctx context.Context, chatID int64, req *tg.MessagesGetHistoryRequest) ([]*Message, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	res, err := api.MessagesGetHistory(ctx, req)
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get history: %w", err)
	}

	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	default:
		return nil, fmt.Errorf("unexpected history response %T", res)
	}

	var out []*Message
	for _, m := range raw {
		if parsed := parseMessage(m, chatID); parsed != nil {
			out = append(out, parsed)
		}
	}
	return out, nil
}

// noteFloodWait feeds a FLOOD_WAIT hint into the rate limiter.
func (c *Client) noteFloodWait(err error) {
	if wait := checkFloodWait(err); wait > 0 {
		c.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT detected, backing off")
		c.rateLimiter.SetFloodWait(wait)
	}
}

// checkFloodWait extracts the wait seconds from a FLOOD_WAIT error.
func checkFloodWait(err error) int {
	if err == nil {
		return 0
	}
	str := err.Error()
	parts := strings.Split(str, "FLOOD_WAIT_")
	if len(parts) < 2 {
		return 0
	}
	var seconds int
	_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds)
	return seconds
}

// historyIter pages through chat history oldest-to-newest (or
// newest-to-oldest when opts.Reverse is false).
type historyIter struct {
	client  *Client
	chatID  int64
	opts    IterOptions
	started bool
	lastID  int
	buf     []*Message
	cur     *Message
	yielded int
	err     error
	done    bool
}

// Next advances the cursor. It returns false at the end of history, on
// error, or when the context is canceled.
func (it *historyIter) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	if ctx.Err() != nil {
		it.err = ctx.Err()
		return false
	}
	if it.opts.Limit > 0 && it.yielded >= it.opts.Limit {
		it.done = true
		return false
	}

	if len(it.buf) == 0 {
		if err := it.fill(ctx); err != nil {
			it.err = err
			return false
		}
		if len(it.buf) == 0 {
			it.done = true
			return false
		}
	}

	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	it.lastID = it.cur.ID
	it.yielded++
	return true
}

// Value returns the current message.
func (it *historyIter) Value() *Message { return it.cur }

// Err returns the terminal error, nil on clean end of history.
func (it *historyIter) Err() error { return it.err }

func (it *historyIter) fill(ctx context.Context) error {
	peer, err := it.client.inputPeer(it.chatID)
	if err != nil {
		return err
	}

	if !it.started {
		it.started = true
		if it.opts.Reverse {
			boundary, err := it.client.boundaryID(ctx, peer, it.opts.OffsetDate)
			if err != nil {
				return err
			}
			it.lastID = boundary
		} else if !it.opts.OffsetDate.IsZero() {
			// descending from a date: OffsetDate alone positions the window
			batch, err := it.client.history(ctx, it.chatID, &tg.MessagesGetHistoryRequest{
				Peer:       peer,
				OffsetDate: int(it.opts.OffsetDate.Unix()),
				Limit:      historyBatchSize,
			})
			if err != nil {
				return err
			}
			it.buf = batch
			if len(batch) > 0 {
				it.lastID = batch[len(batch)-1].ID
			}
			return nil
		}
	}

	req := &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		OffsetID: it.lastID,
		Limit:    historyBatchSize,
	}
	if it.opts.Reverse {
		// window strictly above lastID, ascending after local reverse
		req.AddOffset = -historyBatchSize
	}

	batch, err := it.client.history(ctx, it.chatID, req)
	if err != nil {
		return err
	}
	if it.opts.Reverse {
		reverseMessages(batch)
		// the window may include lastID itself, drop already-seen ids
		for len(batch) > 0 && batch[0].ID <= it.lastID {
			batch = batch[1:]
		}
	}
	it.buf = batch
	return nil
}

func reverseMessages(msgs []*Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// parseMessage converts a raw telegram message into the internal type.
// Service messages and empty entries parse to nil.
func parseMessage(msg tg.MessageClass, chatID int64) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	out := &Message{
		ID:     m.ID,
		ChatID: chatID,
		Text:   m.Message,
		Date:   time.Unix(int64(m.Date), 0).UTC(),
	}
	if gid, ok := m.GetGroupedID(); ok {
		out.GroupedID = gid
	}
	if m.Media != nil {
		out.Media = parseMedia(m.Media)
	}
	return out
}

func parseMedia(media tg.MessageMediaClass) *Media {
	switch mm := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := mm.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		out := &Media{
			Kind:          MediaPhoto,
			FileID:        strconv.FormatInt(photo.ID, 10),
			DocumentID:    photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		}
		for _, s := range photo.Sizes {
			switch size := s.(type) {
			case *tg.PhotoSize:
				if size.W > out.Width {
					out.Width, out.Height = size.W, size.H
					out.SizeBytes = int64(size.Size)
				}
			case *tg.PhotoStrippedSize:
				out.ThumbBytes = size.Bytes
			}
		}
		return out

	case *tg.MessageMediaDocument:
		doc, ok := mm.Document.(*tg.Document)
		if !ok {
			return nil
		}
		out := &Media{
			Kind:          MediaDocument,
			SizeBytes:     doc.Size,
			FileID:        strconv.FormatInt(doc.ID, 10),
			DocumentID:    doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
			Extension:     extensionFromMime(doc.MimeType),
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				out.Kind = MediaVideo
				if a.RoundMessage {
					out.Kind = MediaRound
				}
				out.DurationSec = int(a.Duration)
				out.Width, out.Height = a.W, a.H
			case *tg.DocumentAttributeAudio:
				out.Kind = MediaAudio
				if a.Voice {
					out.Kind = MediaVoice
				}
				out.DurationSec = a.Duration
			case *tg.DocumentAttributeSticker:
				out.Kind = MediaSticker
				out.StickerID = doc.ID
				out.StickerEmoji = a.Alt
				if set, ok := a.Stickerset.(*tg.InputStickerSetID); ok {
					out.StickerSetID = set.ID
				}
			case *tg.DocumentAttributeAnimated:
				out.Kind = MediaGif
			case *tg.DocumentAttributeFilename:
				if ext := strings.TrimPrefix(path.Ext(a.FileName), "."); ext != "" {
					out.Extension = strings.ToLower(ext)
				}
			case *tg.DocumentAttributeImageSize:
				if out.Width == 0 {
					out.Width, out.Height = a.W, a.H
				}
			}
		}
		return out

	default:
		return nil
	}
}

func extensionFromMime(mime string) string {
	if idx := strings.LastIndex(mime, "/"); idx >= 0 && idx < len(mime)-1 {
		ext := mime[idx+1:]
		// mime subtypes like "x-matroska" or "quicktime" are not extensions
		if !strings.ContainsAny(ext, "-+.") && len(ext) <= 4 {
			return strings.ToLower(ext)
		}
	}
	return ""
}
