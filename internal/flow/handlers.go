package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/blockedby/tg-forwarder/internal/models"
)

// RuleWriter is the slice of the rules repository the handlers mutate.
type RuleWriter interface {
	GetByID(ctx context.Context, id uint) (*models.ForwardRule, error)
	Save(ctx context.Context, rule *models.ForwardRule) error
	AddKeyword(ctx context.Context, kw *models.Keyword) error
	DeleteKeywords(ctx context.Context, ruleID uint, indices []int) (int, error)
	AddReplaceRule(ctx context.Context, rr *models.ReplaceRule) error
	DeleteReplaceRules(ctx context.Context, ruleID uint, indices []int) (int, error)
	AddPushChannel(ctx context.Context, pc *models.PushChannel) error
}

// RuleSelector resolves the rule a user is currently working on.
type RuleSelector interface {
	SelectedRule(userID int64) (uint, bool)
}

// RegisterRuleHandlers wires the rule-editing flows into the machine.
func RegisterRuleHandlers(m *Machine, rules RuleWriter, sel RuleSelector) {
	m.Handle("kw_add", func(ctx context.Context, _ int64, args []string, text string) (string, error) {
		ruleID, err := ruleArg(args)
		if err != nil {
			return "", err
		}
		kws, err := ParseKeywords(text)
		if err != nil {
			return "", err
		}
		exclude := len(args) > 1 && args[1] == "exclude"
		for _, kw := range kws {
			err := rules.AddKeyword(ctx, &models.Keyword{
				RuleID:  ruleID,
				Word:    kw.Word,
				Mode:    kw.Mode,
				Exclude: exclude,
			})
			if err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("已添加 %d 个关键词", len(kws)), nil
	})

	m.Handle("kw_delete", func(ctx context.Context, _ int64, args []string, text string) (string, error) {
		ruleID, err := ruleArg(args)
		if err != nil {
			return "", err
		}
		indices, err := ParseIndices(text)
		if err != nil {
			return "", err
		}
		n, err := rules.DeleteKeywords(ctx, ruleID, indices)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("已删除 %d 个关键词", n), nil
	})

	m.Handle("rr_add", func(ctx context.Context, _ int64, args []string, text string) (string, error) {
		ruleID, err := ruleArg(args)
		if err != nil {
			return "", err
		}
		rrs, err := ParseReplaceRules(text)
		if err != nil {
			return "", err
		}
		for _, rr := range rrs {
			err := rules.AddReplaceRule(ctx, &models.ReplaceRule{
				RuleID:      ruleID,
				Pattern:     rr.Pattern,
				Replacement: rr.Replacement,
			})
			if err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("已添加 %d 条替换规则", len(rrs)), nil
	})

	m.Handle("rr_delete", func(ctx context.Context, _ int64, args []string, text string) (string, error) {
		ruleID, err := ruleArg(args)
		if err != nil {
			return "", err
		}
		indices, err := ParseIndices(text)
		if err != nil {
			return "", err
		}
		n, err := rules.DeleteReplaceRules(ctx, ruleID, indices)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("已删除 %d 条替换规则", n), nil
	})

	m.Handle("waiting_file_size_range", func(ctx context.Context, userID int64, _ []string, text string) (string, error) {
		return updateSelected(ctx, rules, sel, userID, func(rule *models.ForwardRule) error {
			min, max, err := ParseSizeRange(text)
			if err != nil {
				return err
			}
			rule.MinSizeBytes, rule.MaxSizeBytes = min, max
			return nil
		}, "文件大小过滤已更新")
	})

	m.Handle("waiting_duration_range", func(ctx context.Context, userID int64, _ []string, text string) (string, error) {
		return updateSelected(ctx, rules, sel, userID, func(rule *models.ForwardRule) error {
			min, max, err := ParseDurationRange(text)
			if err != nil {
				return err
			}
			rule.MinDurationSec, rule.MaxDurationSec = min, max
			return nil
		}, "时长过滤已更新")
	})

	m.Handle("waiting_resolution_range", func(ctx context.Context, userID int64, _ []string, text string) (string, error) {
		return updateSelected(ctx, rules, sel, userID, func(rule *models.ForwardRule) error {
			minW, minH, maxW, maxH, err := ParseResolutionRange(text)
			if err != nil {
				return err
			}
			rule.MinWidth, rule.MinHeight = minW, minH
			rule.MaxWidth, rule.MaxHeight = maxW, maxH
			return nil
		}, "分辨率过滤已更新")
	})

	m.Handle("set_val", func(ctx context.Context, _ int64, args []string, text string) (string, error) {
		ruleID, err := ruleArg(args)
		if err != nil {
			return "", err
		}
		if len(args) < 2 {
			return "", fmt.Errorf("%w: missing field name", ErrBadInput)
		}
		rule, err := loadRule(ctx, rules, ruleID)
		if err != nil {
			return "", err
		}
		if err := setRuleField(rule, args[1], strings.TrimSpace(text)); err != nil {
			return "", err
		}
		if err := rules.Save(ctx, rule); err != nil {
			return "", err
		}
		return "设置已保存", nil
	})

	m.Handle("set_ai_prompt", func(ctx context.Context, _ int64, args []string, text string) (string, error) {
		ruleID, err := ruleArg(args)
		if err != nil {
			return "", err
		}
		rule, err := loadRule(ctx, rules, ruleID)
		if err != nil {
			return "", err
		}
		rule.AIPrompt = strings.TrimSpace(text)
		if err := rules.Save(ctx, rule); err != nil {
			return "", err
		}
		return "AI 提示词已保存", nil
	})

	m.Handle("set_summary_prompt", func(ctx context.Context, _ int64, args []string, text string) (string, error) {
		ruleID, err := ruleArg(args)
		if err != nil {
			return "", err
		}
		rule, err := loadRule(ctx, rules, ruleID)
		if err != nil {
			return "", err
		}
		rule.SummaryPrompt = strings.TrimSpace(text)
		if err := rules.Save(ctx, rule); err != nil {
			return "", err
		}
		return "总结提示词已保存", nil
	})

	m.Handle("add_push_channel", func(ctx context.Context, _ int64, args []string, text string) (string, error) {
		ruleID, err := ruleArg(args)
		if err != nil {
			return "", err
		}
		url := strings.TrimSpace(text)
		if !strings.Contains(url, "://") {
			return "", fmt.Errorf("%w: %q is not a push channel url", ErrBadInput, url)
		}
		err = rules.AddPushChannel(ctx, &models.PushChannel{RuleID: ruleID, URL: url})
		if err != nil {
			return "", err
		}
		return "推送通道已添加", nil
	})
}

func ruleArg(args []string) (uint, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: missing rule id", ErrBadInput)
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad rule id %q", ErrBadInput, args[0])
	}
	return uint(id), nil
}

func loadRule(ctx context.Context, rules RuleWriter, id uint) (*models.ForwardRule, error) {
	rule, err := rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("rule %d not found", id)
	}
	return rule, nil
}

func updateSelected(
	ctx context.Context,
	rules RuleWriter,
	sel RuleSelector,
	userID int64,
	mutate func(*models.ForwardRule) error,
	reply string,
) (string, error) {
	ruleID, ok := sel.SelectedRule(userID)
	if !ok {
		return "", fmt.Errorf("no rule selected")
	}
	rule, err := loadRule(ctx, rules, ruleID)
	if err != nil {
		return "", err
	}
	if err := mutate(rule); err != nil {
		return "", err
	}
	if err := rules.Save(ctx, rule); err != nil {
		return "", err
	}
	return reply, nil
}

func setRuleField(rule *models.ForwardRule, field, value string) error {
	switch field {
	case "allowed_media_types":
		rule.AllowedMediaTypes = value
	case "blocked_extensions":
		rule.BlockedExtensions = value
	default:
		return fmt.Errorf("%w: unknown field %q", ErrBadInput, field)
	}
	return nil
}
