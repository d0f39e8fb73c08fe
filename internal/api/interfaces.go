package api

import (
	"context"

	"github.com/blockedby/tg-forwarder/internal/dedup"
	"github.com/blockedby/tg-forwarder/internal/history"
	"github.com/blockedby/tg-forwarder/internal/models"
	"github.com/blockedby/tg-forwarder/internal/pipeline"
	"github.com/blockedby/tg-forwarder/internal/scan"
	"github.com/blockedby/tg-forwarder/internal/telegram"
	"github.com/blockedby/tg-forwarder/internal/timerange"
)

// TelegramClient exposes client status and the QR login flow.
type TelegramClient interface {
	GetStatus() telegram.Status
	IsQRInProgress() bool
	StartQR(ctx context.Context, onQRCode func(url string)) error
	CancelQR()
}

// HistoryService runs history replays.
type HistoryService interface {
	Start(ctx context.Context, userID int64, ruleID uint, tr timerange.Range, dryRun bool) error
	Stop(userID int64) bool
	Stats(ctx context.Context, ruleID uint, tr timerange.Range) (*history.QuickStats, error)
}

// ScanService scans chats for duplicates and runs batch deletes.
type ScanService interface {
	Scan(ctx context.Context, userID, chatID int64, tr timerange.Range, cfg dedup.Config, progress scan.ProgressFunc) (map[string][]int, error)
	Delete(ctx context.Context, userID, chatID int64, mode string) (int, error)
	StopDelete(userID int64) bool
}

// DedupEngine exposes index statistics.
type DedupEngine interface {
	Statistics() dedup.Stats
}

// TaskQueue exposes queue health for the status endpoint.
type TaskQueue interface {
	PendingDepth(ctx context.Context) (int, error)
	IsConnected() bool
}

// PipelineStats exposes forwarding counters.
type PipelineStats interface {
	Statistics() pipeline.Stats
}

// FlowMachine routes free text through the conversational state machine.
type FlowMachine interface {
	HandleText(ctx context.Context, userID, chatID int64, text string) (handled bool, reply string, err error)
}

// Freezer snapshots runtime state to disk.
type Freezer interface {
	Freeze() error
}

// SettingsSource loads the global dedup settings.
type SettingsSource interface {
	Get(ctx context.Context) (*models.DedupSettings, error)
}

// RuleSource loads forward rules with chats preloaded.
type RuleSource interface {
	GetByID(ctx context.Context, id uint) (*models.ForwardRule, error)
}

// MessageSource fetches recent messages for the digest endpoint.
type MessageSource interface {
	GetMessages(ctx context.Context, chatID int64, opts telegram.IterOptions) ([]*telegram.Message, error)
}

// Summarizer condenses a batch of messages into one digest text.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, texts []string) (string, error)
}
