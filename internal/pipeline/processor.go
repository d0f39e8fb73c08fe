// Package pipeline consumes queued forward tasks: it filters, dedups
// and optionally rewrites each message before sending it on.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/tg-forwarder/internal/dedup"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/models"
	"github.com/blockedby/tg-forwarder/internal/policy"
	"github.com/blockedby/tg-forwarder/internal/queue"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

// ChatClient is the slice of the telegram client the processor needs.
type ChatClient interface {
	GetMessagesByID(ctx context.Context, chatID int64, ids []int) ([]*telegram.Message, error)
	ForwardMessages(ctx context.Context, fromChatID, toChatID int64, ids []int) error
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Rewriter reworks message text through an LLM.
type Rewriter interface {
	Rewrite(ctx context.Context, prompt, text string) (string, error)
}

// RuleSource loads forward rules with relations preloaded.
type RuleSource interface {
	GetByID(ctx context.Context, id uint) (*models.ForwardRule, error)
}

// SettingsSource loads the global dedup settings.
type SettingsSource interface {
	Get(ctx context.Context) (*models.DedupSettings, error)
}

// Deduper checks a message against the recorded signature indices.
type Deduper interface {
	CheckAndRecord(ctx context.Context, msg *telegram.Message, chatID int64, cfg dedup.Config) dedup.Verdict
}

// EffectiveConfigFunc merges global settings with per-rule overrides.
type EffectiveConfigFunc func(global *models.DedupSettings, rule *models.ForwardRule) dedup.Config

// Stats counts processing outcomes since start.
type Stats struct {
	Forwarded  int `json:"forwarded"`
	Duplicates int `json:"duplicates"`
	Filtered   int `json:"filtered"`
	Dropped    int `json:"dropped"`
	Failed     int `json:"failed"`
}

// Processor handles process_message tasks from the queue.
type Processor struct {
	client    ChatClient
	rules     RuleSource
	settings  SettingsSource
	engine    Deduper
	rewriter  Rewriter
	effective EffectiveConfigFunc
	httpc     *http.Client
	log       zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a processor. rewriter may be nil when AI rewrite is not
// configured; rules with AIEnabled then forward unmodified.
func New(client ChatClient, rules RuleSource, settings SettingsSource, engine Deduper, rewriter Rewriter, effective EffectiveConfigFunc) *Processor {
	return &Processor{
		client:    client,
		rules:     rules,
		settings:  settings,
		engine:    engine,
		rewriter:  rewriter,
		effective: effective,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		log:       logger.Get().With().Str("component", "pipeline").Logger(),
	}
}

// Run consumes process_message tasks until the context is canceled.
func (p *Processor) Run(ctx context.Context, q *queue.Queue) error {
	return q.Consume(ctx, queue.KindProcessMessage, "pipeline", func(data []byte) error {
		return p.Process(ctx, data)
	})
}

// Process handles one queued payload. A nil return acks the message;
// transient telegram errors are returned so the queue redelivers.
func (p *Processor) Process(ctx context.Context, data []byte) error {
	var payload queue.ForwardPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		p.log.Warn().Err(err).Msg("malformed payload, dropping")
		p.count(func(s *Stats) { s.Dropped++ })
		return nil
	}

	rule, err := p.rules.GetByID(ctx, payload.RuleID)
	if err != nil {
		return fmt.Errorf("load rule %d: %w", payload.RuleID, err)
	}
	if rule == nil || !rule.Enabled {
		p.log.Debug().Uint("rule_id", payload.RuleID).Msg("rule gone or disabled, dropping")
		p.count(func(s *Stats) { s.Dropped++ })
		return nil
	}

	targetID := payload.TargetChatID
	if targetID == 0 && rule.TargetChat != nil {
		targetID = rule.TargetChat.TelegramChatID
	}
	if targetID == 0 {
		p.log.Warn().Uint("rule_id", rule.ID).Msg("rule has no target chat, dropping")
		p.count(func(s *Stats) { s.Dropped++ })
		return nil
	}

	msgs, err := p.client.GetMessagesByID(ctx, payload.ChatID, []int{payload.MessageID})
	if err != nil {
		return fmt.Errorf("fetch message %d: %w", payload.MessageID, err)
	}
	if len(msgs) == 0 {
		// deleted since it was queued
		p.count(func(s *Stats) { s.Dropped++ })
		return nil
	}
	msg := msgs[0]

	if reason, ok := p.passesFilters(rule, msg); !ok {
		p.log.Debug().Int("message_id", msg.ID).Str("reason", reason).Msg("message filtered")
		p.count(func(s *Stats) { s.Filtered++ })
		return nil
	}

	global, err := p.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load dedup settings: %w", err)
	}
	verdict := p.engine.CheckAndRecord(ctx, msg, targetID, p.effective(global, rule))
	if verdict.Duplicate {
		p.log.Info().Int("message_id", msg.ID).Str("reason", string(verdict.Reason)).
			Str("matched", verdict.Matched).Msg("duplicate dropped")
		p.count(func(s *Stats) { s.Duplicates++ })
		return nil
	}

	text, err := p.transformText(ctx, rule, msg.Text)
	if err != nil {
		p.log.Warn().Err(err).Int("message_id", msg.ID).Msg("text transform failed, forwarding original")
		text = msg.Text
	}

	if err := p.send(ctx, payload.ChatID, targetID, msg, text); err != nil {
		p.count(func(s *Stats) { s.Failed++ })
		return err
	}
	p.count(func(s *Stats) { s.Forwarded++ })

	p.notifyPushChannels(ctx, rule, msg, text)
	return nil
}

// passesFilters applies the keyword and media gates.
func (p *Processor) passesFilters(rule *models.ForwardRule, msg *telegram.Message) (string, bool) {
	if reason, ok := matchKeywords(rule.Keywords, msg.Text); !ok {
		return reason, false
	}
	filter := policy.NewMediaFilter(policy.MediaConfigFromRule(rule))
	if ok, reason := filter.ShouldProcess(msg); !ok {
		return reason, false
	}
	return "", true
}

// transformText applies replace rules and then the AI rewrite.
func (p *Processor) transformText(ctx context.Context, rule *models.ForwardRule, text string) (string, error) {
	out := applyReplaceRules(rule.ReplaceRules, text)
	if rule.AIEnabled && p.rewriter != nil && strings.TrimSpace(out) != "" {
		rewritten, err := p.rewriter.Rewrite(ctx, rule.AIPrompt, out)
		if err != nil {
			return out, err
		}
		out = rewritten
	}
	return out, nil
}

// send delivers the message: modified text-only messages are sent
// fresh, everything else is forwarded so media survives.
func (p *Processor) send(ctx context.Context, sourceID, targetID int64, msg *telegram.Message, text string) error {
	if !msg.HasMedia() && text != msg.Text {
		return p.client.SendMessage(ctx, targetID, text)
	}
	return p.client.ForwardMessages(ctx, sourceID, targetID, []int{msg.ID})
}

// notifyPushChannels posts a JSON webhook to each configured http(s)
// push channel. Failures are logged, never retried.
func (p *Processor) notifyPushChannels(ctx context.Context, rule *models.ForwardRule, msg *telegram.Message, text string) {
	for _, ch := range rule.PushChannels {
		if !strings.HasPrefix(ch.URL, "http://") && !strings.HasPrefix(ch.URL, "https://") {
			continue
		}
		body, _ := json.Marshal(map[string]any{
			"rule_id":    rule.ID,
			"chat_id":    msg.ChatID,
			"message_id": msg.ID,
			"text":       text,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.httpc.Do(req)
		if err != nil {
			p.log.Warn().Err(err).Str("url", ch.URL).Msg("push channel notify failed")
			continue
		}
		resp.Body.Close()
	}
}

// Statistics returns a snapshot of processing counters.
func (p *Processor) Statistics() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Processor) count(fn func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.stats)
}

// matchKeywords applies exclude keywords first, then requires a hit on
// at least one include keyword when any exist.
func matchKeywords(keywords []models.Keyword, text string) (string, bool) {
	lower := strings.ToLower(text)

	hasIncludes := false
	includeHit := false
	for _, kw := range keywords {
		matched := keywordMatches(kw, text, lower)
		if kw.Exclude {
			if matched {
				return fmt.Sprintf("excluded by keyword %q", kw.Word), false
			}
			continue
		}
		hasIncludes = true
		if matched {
			includeHit = true
		}
	}
	if hasIncludes && !includeHit {
		return "no include keyword matched", false
	}
	return "", true
}

func keywordMatches(kw models.Keyword, text, lower string) bool {
	if kw.Mode == models.KeywordModeRegex {
		re, err := regexp.Compile(kw.Word)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}
	return strings.Contains(lower, strings.ToLower(kw.Word))
}

// applyReplaceRules runs each regex replacement in order. Invalid
// patterns are skipped; they should not survive input validation.
func applyReplaceRules(rules []models.ReplaceRule, text string) string {
	for _, rr := range rules {
		re, err := regexp.Compile(rr.Pattern)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, rr.Replacement)
	}
	return text
}
