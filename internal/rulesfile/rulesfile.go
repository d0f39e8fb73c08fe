// Package rulesfile loads forwarding rule definitions from a YAML seed
// file and upserts them on boot.
package rulesfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blockedby/tg-forwarder/internal/flow"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/models"
)

// validation errors
var (
	ErrNoRules         = errors.New("rules file contains no rules")
	ErrChatRequired    = errors.New("source and target chat ids are required")
	ErrSameChat        = errors.New("source and target must differ")
	ErrBadKeywordRegex = errors.New("invalid keyword regex")
	ErrBadReplace      = errors.New("invalid replace entry, want \"pattern => replacement\"")
	ErrBadSize         = errors.New("invalid size value")
)

// RuleDef is one rule definition in the seed file.
type RuleDef struct {
	// Source and Target are telegram chat ids.
	Source     int64  `yaml:"source"`
	SourceName string `yaml:"source_name,omitempty"`
	Target     int64  `yaml:"target"`
	TargetName string `yaml:"target_name,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Keywords use the "re:" prefix for regex mode.
	Keywords        []string `yaml:"keywords,omitempty"`
	ExcludeKeywords []string `yaml:"exclude_keywords,omitempty"`

	// Replace entries use the "pattern => replacement" form.
	Replace []string `yaml:"replace,omitempty"`

	AllowedMediaTypes []string `yaml:"allowed_media_types,omitempty"`
	BlockedExtensions []string `yaml:"blocked_extensions,omitempty"`
	MinSize           string   `yaml:"min_size,omitempty"` // e.g. "500K", "10M"
	MaxSize           string   `yaml:"max_size,omitempty"`
	MinDurationSec    int      `yaml:"min_duration_sec,omitempty"`
	MaxDurationSec    int      `yaml:"max_duration_sec,omitempty"`

	AIEnabled     bool   `yaml:"ai_enabled,omitempty"`
	AIPrompt      string `yaml:"ai_prompt,omitempty"`
	SummaryPrompt string `yaml:"summary_prompt,omitempty"`

	EnableDedup *bool `yaml:"enable_dedup,omitempty"`
}

// File is the parsed rules seed.
type File struct {
	Rules []RuleDef `yaml:"rules"`
}

// Load reads and validates a rules seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every rule definition. The first problem found is
// returned with the rule's position.
func (f *File) Validate() error {
	if len(f.Rules) == 0 {
		return ErrNoRules
	}
	for i := range f.Rules {
		if err := f.Rules[i].validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
	}
	return nil
}

func (d *RuleDef) validate() error {
	if d.Source == 0 || d.Target == 0 {
		return ErrChatRequired
	}
	if d.Source == d.Target {
		return ErrSameChat
	}
	for _, kw := range append(append([]string{}, d.Keywords...), d.ExcludeKeywords...) {
		if pattern, ok := strings.CutPrefix(kw, "re:"); ok {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("%w: %q", ErrBadKeywordRegex, pattern)
			}
		}
	}
	for _, entry := range d.Replace {
		pattern, _, ok := strings.Cut(entry, "=>")
		if !ok {
			return fmt.Errorf("%w: %q", ErrBadReplace, entry)
		}
		if _, err := regexp.Compile(strings.TrimSpace(pattern)); err != nil {
			return fmt.Errorf("%w: %q", ErrBadReplace, entry)
		}
	}
	for _, size := range []string{d.MinSize, d.MaxSize} {
		if size == "" {
			continue
		}
		if _, err := flow.ParseSize(size); err != nil {
			return fmt.Errorf("%w: %q", ErrBadSize, size)
		}
	}
	return nil
}

// Store is the slice of the rules repository the seeder needs.
type Store interface {
	UpsertChat(ctx context.Context, telegramChatID, accessHash int64, name string) (*models.Chat, error)
	FindBySourceTarget(ctx context.Context, sourceChatID, targetChatID uint) (*models.ForwardRule, error)
	Create(ctx context.Context, rule *models.ForwardRule) error
}

// Seed upserts the file's rules. Existing source/target pairs are left
// untouched so user edits survive restarts. Returns the number of
// rules created.
func Seed(ctx context.Context, store Store, f *File) (int, error) {
	log := logger.Get().With().Str("component", "rulesfile").Logger()

	created := 0
	for i := range f.Rules {
		def := &f.Rules[i]

		source, err := store.UpsertChat(ctx, def.Source, 0, def.SourceName)
		if err != nil {
			return created, fmt.Errorf("upsert source chat %d: %w", def.Source, err)
		}
		target, err := store.UpsertChat(ctx, def.Target, 0, def.TargetName)
		if err != nil {
			return created, fmt.Errorf("upsert target chat %d: %w", def.Target, err)
		}

		existing, err := store.FindBySourceTarget(ctx, source.ID, target.ID)
		if err != nil {
			return created, err
		}
		if existing != nil {
			log.Debug().Int64("source", def.Source).Int64("target", def.Target).
				Msg("rule already exists, skipping")
			continue
		}

		rule, err := def.toModel(source.ID, target.ID)
		if err != nil {
			return created, fmt.Errorf("rule %d: %w", i+1, err)
		}
		if err := store.Create(ctx, rule); err != nil {
			return created, err
		}
		created++
		log.Info().Int64("source", def.Source).Int64("target", def.Target).
			Uint("rule_id", rule.ID).Msg("seeded forward rule")
	}
	return created, nil
}

func (d *RuleDef) toModel(sourceChatID, targetChatID uint) (*models.ForwardRule, error) {
	rule := &models.ForwardRule{
		Enabled:           d.Enabled == nil || *d.Enabled,
		SourceChatID:      sourceChatID,
		TargetChatID:      targetChatID,
		AllowedMediaTypes: strings.Join(d.AllowedMediaTypes, ","),
		BlockedExtensions: strings.Join(d.BlockedExtensions, ","),
		MinDurationSec:    d.MinDurationSec,
		MaxDurationSec:    d.MaxDurationSec,
		AIEnabled:         d.AIEnabled,
		AIPrompt:          d.AIPrompt,
		SummaryPrompt:     d.SummaryPrompt,
		EnableDedup:       d.EnableDedup,
	}

	if d.MinSize != "" {
		n, err := flow.ParseSize(d.MinSize)
		if err != nil {
			return nil, err
		}
		rule.MinSizeBytes = n
	}
	if d.MaxSize != "" {
		n, err := flow.ParseSize(d.MaxSize)
		if err != nil {
			return nil, err
		}
		rule.MaxSizeBytes = n
	}

	for _, kw := range d.Keywords {
		rule.Keywords = append(rule.Keywords, keywordModel(kw, false))
	}
	for _, kw := range d.ExcludeKeywords {
		rule.Keywords = append(rule.Keywords, keywordModel(kw, true))
	}
	for _, entry := range d.Replace {
		pattern, replacement, _ := strings.Cut(entry, "=>")
		rule.ReplaceRules = append(rule.ReplaceRules, models.ReplaceRule{
			Pattern:     strings.TrimSpace(pattern),
			Replacement: strings.TrimSpace(replacement),
		})
	}
	return rule, nil
}

func keywordModel(word string, exclude bool) models.Keyword {
	mode := models.KeywordModePlain
	if pattern, ok := strings.CutPrefix(word, "re:"); ok {
		mode = models.KeywordModeRegex
		word = pattern
	}
	return models.Keyword{Word: word, Mode: mode, Exclude: exclude}
}
