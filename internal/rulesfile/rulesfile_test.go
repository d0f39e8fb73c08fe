package rulesfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-forwarder/internal/database"
	"github.com/blockedby/tg-forwarder/internal/models"
	"github.com/blockedby/tg-forwarder/internal/repository"
)

const sampleYAML = `
rules:
  - source: -1001111
    source_name: "源频道"
    target: -1002222
    target_name: "目标频道"
    keywords:
      - golang
      - "re:(?i)remote"
    exclude_keywords:
      - 广告
    replace:
      - "https?://\\S+ => "
    allowed_media_types: [photo, video]
    blocked_extensions: [exe, apk]
    max_size: "50M"
    ai_enabled: true
    ai_prompt: "rewrite"
  - source: -1003333
    target: -1004444
    enabled: false
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newSeedRepo(t *testing.T) *repository.RulesRepository {
	t.Helper()
	db, err := database.New(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(db.Close)
	return repository.NewRulesRepository(db.GORM)
}

func TestLoad_Valid(t *testing.T) {
	f, err := Load(writeTemp(t, sampleYAML))

	require.NoError(t, err)
	require.Len(t, f.Rules, 2)
	assert.Equal(t, int64(-1001111), f.Rules[0].Source)
	assert.Equal(t, "50M", f.Rules[0].MaxSize)
	assert.Len(t, f.Rules[0].Keywords, 2)
	require.NotNil(t, f.Rules[1].Enabled)
	assert.False(t, *f.Rules[1].Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{"empty file", "rules: []", ErrNoRules},
		{"missing chats", "rules:\n  - source: 0\n    target: -2", ErrChatRequired},
		{"same chat", "rules:\n  - source: -1\n    target: -1", ErrSameChat},
		{"bad keyword regex", "rules:\n  - source: -1\n    target: -2\n    keywords: [\"re:[unclosed\"]", ErrBadKeywordRegex},
		{"bad replace", "rules:\n  - source: -1\n    target: -2\n    replace: [\"no arrow here\"]", ErrBadReplace},
		{"bad size", "rules:\n  - source: -1\n    target: -2\n    max_size: \"huge\"", ErrBadSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.yaml))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSeed_CreatesRulesOnce(t *testing.T) {
	ctx := context.Background()
	repo := newSeedRepo(t)

	f, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	created, err := Seed(ctx, repo, f)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// second run is a no-op
	created, err = Seed(ctx, repo, f)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	rules, err := repo.ListBySourceChat(ctx, -1001111)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	rule := rules[0]
	assert.Equal(t, "photo,video", rule.AllowedMediaTypes)
	assert.Equal(t, "exe,apk", rule.BlockedExtensions)
	assert.Equal(t, int64(50*1024*1024), rule.MaxSizeBytes)
	assert.True(t, rule.AIEnabled)
	require.Len(t, rule.Keywords, 3)

	var excludes, regexes int
	for _, kw := range rule.Keywords {
		if kw.Exclude {
			excludes++
		}
		if kw.Mode == models.KeywordModeRegex {
			regexes++
			assert.Equal(t, "(?i)remote", kw.Word)
		}
	}
	assert.Equal(t, 1, excludes)
	assert.Equal(t, 1, regexes)
	require.Len(t, rule.ReplaceRules, 1)
	assert.Equal(t, `https?://\S+`, rule.ReplaceRules[0].Pattern)
	assert.Equal(t, "", rule.ReplaceRules[0].Replacement)
}

func TestSeed_DisabledRuleStaysDisabled(t *testing.T) {
	ctx := context.Background()
	repo := newSeedRepo(t)

	f, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)
	_, err = Seed(ctx, repo, f)
	require.NoError(t, err)

	// ListBySourceChat filters enabled, so the disabled rule is invisible
	rules, err := repo.ListBySourceChat(ctx, -1003333)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
