// Package repository provides typed access to forward rules, chats and
// the global deduplication settings.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/blockedby/tg-forwarder/internal/models"
)

// RulesRepository handles forward_rules and related tables.
type RulesRepository struct {
	db *gorm.DB
}

// NewRulesRepository creates a new rules repository.
func NewRulesRepository(db *gorm.DB) *RulesRepository {
	return &RulesRepository{db: db}
}

// GetByID returns a rule with its chats, keywords, replacements and push
// channels preloaded, or nil when no such rule exists.
func (r *RulesRepository) GetByID(ctx context.Context, id uint) (*models.ForwardRule, error) {
	var rule models.ForwardRule
	err := r.db.WithContext(ctx).
		Preload("SourceChat").
		Preload("TargetChat").
		Preload("Keywords").
		Preload("ReplaceRules").
		Preload("PushChannels").
		First(&rule, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rule by id: %w", err)
	}
	return &rule, nil
}

// ListEnabled returns all enabled rules with chats preloaded.
func (r *RulesRepository) ListEnabled(ctx context.Context) ([]models.ForwardRule, error) {
	var rules []models.ForwardRule
	err := r.db.WithContext(ctx).
		Preload("SourceChat").
		Preload("TargetChat").
		Where("enabled = ?", true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	return rules, nil
}

// ListBySourceChat returns enabled rules whose source is the given
// telegram chat.
func (r *RulesRepository) ListBySourceChat(ctx context.Context, telegramChatID int64) ([]models.ForwardRule, error) {
	var rules []models.ForwardRule
	err := r.db.WithContext(ctx).
		Preload("SourceChat").
		Preload("TargetChat").
		Preload("Keywords").
		Preload("ReplaceRules").
		Joins("JOIN chats ON chats.id = forward_rules.source_chat_id").
		Where("chats.telegram_chat_id = ? AND forward_rules.enabled = ?", telegramChatID, true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("list rules by source chat: %w", err)
	}
	return rules, nil
}

// FindBySourceTarget returns the rule connecting two chats (by chat
// table pk), or nil when none exists. Used by the seed loader to stay
// idempotent.
func (r *RulesRepository) FindBySourceTarget(ctx context.Context, sourceChatID, targetChatID uint) (*models.ForwardRule, error) {
	var rule models.ForwardRule
	err := r.db.WithContext(ctx).
		Where("source_chat_id = ? AND target_chat_id = ?", sourceChatID, targetChatID).
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find rule by chats: %w", err)
	}
	return &rule, nil
}

// Create inserts a rule.
func (r *RulesRepository) Create(ctx context.Context, rule *models.ForwardRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// Save persists all fields of a rule.
func (r *RulesRepository) Save(ctx context.Context, rule *models.ForwardRule) error {
	if err := r.db.WithContext(ctx).Save(rule).Error; err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

// SetEnabled toggles a rule.
func (r *RulesRepository) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	err := r.db.WithContext(ctx).Model(&models.ForwardRule{}).
		Where("id = ?", id).
		Update("enabled", enabled).Error
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	return nil
}

// AddKeyword appends a keyword to a rule.
func (r *RulesRepository) AddKeyword(ctx context.Context, kw *models.Keyword) error {
	if err := r.db.WithContext(ctx).Create(kw).Error; err != nil {
		return fmt.Errorf("add keyword: %w", err)
	}
	return nil
}

// DeleteKeywords removes keywords by index position within the rule's
// ordered keyword list. Indices are 1-based as shown to the user.
func (r *RulesRepository) DeleteKeywords(ctx context.Context, ruleID uint, indices []int) (int, error) {
	var keywords []models.Keyword
	err := r.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("id").
		Find(&keywords).Error
	if err != nil {
		return 0, fmt.Errorf("load keywords: %w", err)
	}

	var ids []uint
	for _, idx := range indices {
		if idx >= 1 && idx <= len(keywords) {
			ids = append(ids, keywords[idx-1].ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).Delete(&models.Keyword{}, ids)
	if res.Error != nil {
		return 0, fmt.Errorf("delete keywords: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// AddReplaceRule appends a replacement to a rule.
func (r *RulesRepository) AddReplaceRule(ctx context.Context, rr *models.ReplaceRule) error {
	if err := r.db.WithContext(ctx).Create(rr).Error; err != nil {
		return fmt.Errorf("add replace rule: %w", err)
	}
	return nil
}

// DeleteReplaceRules removes replacements by 1-based index position
// within the rule's ordered replacement list.
func (r *RulesRepository) DeleteReplaceRules(ctx context.Context, ruleID uint, indices []int) (int, error) {
	var rules []models.ReplaceRule
	err := r.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("id").
		Find(&rules).Error
	if err != nil {
		return 0, fmt.Errorf("load replace rules: %w", err)
	}

	var ids []uint
	for _, idx := range indices {
		if idx >= 1 && idx <= len(rules) {
			ids = append(ids, rules[idx-1].ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).Delete(&models.ReplaceRule{}, ids)
	if res.Error != nil {
		return 0, fmt.Errorf("delete replace rules: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// AddPushChannel appends a push destination to a rule.
func (r *RulesRepository) AddPushChannel(ctx context.Context, pc *models.PushChannel) error {
	if err := r.db.WithContext(ctx).Create(pc).Error; err != nil {
		return fmt.Errorf("add push channel: %w", err)
	}
	return nil
}

// ClearReplaceRules removes all replacements of a rule.
func (r *RulesRepository) ClearReplaceRules(ctx context.Context, ruleID uint) error {
	err := r.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Delete(&models.ReplaceRule{}).Error
	if err != nil {
		return fmt.Errorf("clear replace rules: %w", err)
	}
	return nil
}

// UpsertChat finds or creates a chat record by its telegram id.
func (r *RulesRepository) UpsertChat(ctx context.Context, telegramChatID, accessHash int64, name string) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Where("telegram_chat_id = ?", telegramChatID).
		First(&chat).Error
	switch {
	case err == nil:
		chat.AccessHash = accessHash
		if name != "" {
			chat.Name = name
		}
		if err := r.db.WithContext(ctx).Save(&chat).Error; err != nil {
			return nil, fmt.Errorf("update chat: %w", err)
		}
		return &chat, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		chat = models.Chat{TelegramChatID: telegramChatID, AccessHash: accessHash, Name: name}
		if err := r.db.WithContext(ctx).Create(&chat).Error; err != nil {
			return nil, fmt.Errorf("create chat: %w", err)
		}
		return &chat, nil
	default:
		return nil, fmt.Errorf("find chat: %w", err)
	}
}
