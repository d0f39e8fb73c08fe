package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-forwarder/internal/models"
)

func TestParseKeywords(t *testing.T) {
	kws, err := ParseKeywords("golang\nre:^job.*remote$\n\n  rust  ")
	require.NoError(t, err)
	require.Len(t, kws, 3)
	assert.Equal(t, KeywordInput{Word: "golang", Mode: models.KeywordModePlain}, kws[0])
	assert.Equal(t, KeywordInput{Word: "^job.*remote$", Mode: models.KeywordModeRegex}, kws[1])
	assert.Equal(t, KeywordInput{Word: "rust", Mode: models.KeywordModePlain}, kws[2])

	_, err = ParseKeywords("re:[unclosed")
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = ParseKeywords("   \n  ")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestParseReplaceRules(t *testing.T) {
	rrs, err := ParseReplaceRules("foo => bar\nhttps://\\S+ =>")
	require.NoError(t, err)
	require.Len(t, rrs, 2)
	assert.Equal(t, ReplaceInput{Pattern: "foo", Replacement: "bar"}, rrs[0])
	assert.Equal(t, ReplaceInput{Pattern: `https://\S+`, Replacement: ""}, rrs[1])

	_, err = ParseReplaceRules("no arrow here")
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = ParseReplaceRules("[bad => x")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestParseIndices(t *testing.T) {
	got, err := ParseIndices("1, 3 5，7")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5, 7}, got)

	_, err = ParseIndices("0")
	assert.ErrorIs(t, err, ErrBadInput)
	_, err = ParseIndices("abc")
	assert.ErrorIs(t, err, ErrBadInput)
	_, err = ParseIndices("")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"100", 100},
		{"10K", 10 * 1024},
		{"10k", 10 * 1024},
		{"5M", 5 * 1024 * 1024},
		{"1.5G", 1536 * 1024 * 1024},
		{"200B", 200},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSize("-5M")
	assert.ErrorIs(t, err, ErrBadInput)
	_, err = ParseSize("huge")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestParseSizeRange(t *testing.T) {
	min, max, err := ParseSizeRange("1M 100M")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), min)
	assert.Equal(t, int64(100<<20), max)

	min, max, err = ParseSizeRange("512K")
	require.NoError(t, err)
	assert.Equal(t, int64(512<<10), min)
	assert.Zero(t, max)

	_, _, err = ParseSizeRange("100M 1M")
	assert.ErrorIs(t, err, ErrBadInput)
	_, _, err = ParseSizeRange("1 2 3")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestParseDurationRange(t *testing.T) {
	min, max, err := ParseDurationRange("30 600")
	require.NoError(t, err)
	assert.Equal(t, 30, min)
	assert.Equal(t, 600, max)

	_, _, err = ParseDurationRange("600 30")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestParseResolutionRange(t *testing.T) {
	minW, minH, maxW, maxH, err := ParseResolutionRange("640 480 1920 1080")
	require.NoError(t, err)
	assert.Equal(t, [4]int{640, 480, 1920, 1080}, [4]int{minW, minH, maxW, maxH})

	minW, minH, maxW, maxH, err = ParseResolutionRange("640 480")
	require.NoError(t, err)
	assert.Equal(t, [4]int{640, 480, 0, 0}, [4]int{minW, minH, maxW, maxH})

	_, _, _, _, err = ParseResolutionRange("640")
	assert.ErrorIs(t, err, ErrBadInput)
}
