package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/blockedby/tg-forwarder/internal/models"
)

// KeywordInput is one parsed keyword line.
type KeywordInput struct {
	Word string
	Mode models.KeywordMode
}

// ParseKeywords parses one keyword per line. A "re:" prefix marks a
// regex keyword, which must compile.
func ParseKeywords(text string) ([]KeywordInput, error) {
	var out []KeywordInput
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "re:"); ok {
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return nil, fmt.Errorf("%w: empty regex keyword", ErrBadInput)
			}
			if _, err := regexp.Compile(rest); err != nil {
				return nil, fmt.Errorf("%w: invalid regex %q: %v", ErrBadInput, rest, err)
			}
			out = append(out, KeywordInput{Word: rest, Mode: models.KeywordModeRegex})
			continue
		}
		out = append(out, KeywordInput{Word: line, Mode: models.KeywordModePlain})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no keywords given", ErrBadInput)
	}
	return out, nil
}

// ReplaceInput is one parsed "pattern => replacement" line. An omitted
// replacement deletes the matched text.
type ReplaceInput struct {
	Pattern     string
	Replacement string
}

// ParseReplaceRules parses "pattern => replacement" lines. Patterns
// must be valid regexes.
func ParseReplaceRules(text string) ([]ReplaceInput, error) {
	var out []ReplaceInput
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pattern, replacement, found := strings.Cut(line, "=>")
		if !found {
			return nil, fmt.Errorf("%w: expected \"pattern => replacement\", got %q", ErrBadInput, line)
		}
		pattern = strings.TrimSpace(pattern)
		replacement = strings.TrimSpace(replacement)
		if pattern == "" {
			return nil, fmt.Errorf("%w: empty pattern in %q", ErrBadInput, line)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q: %v", ErrBadInput, pattern, err)
		}
		out = append(out, ReplaceInput{Pattern: pattern, Replacement: replacement})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no replace rules given", ErrBadInput)
	}
	return out, nil
}

// ParseIndices parses space or comma separated 1-based indices.
func ParseIndices(text string) ([]int, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '，'
	})
	var out []int
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: %q is not a positive index", ErrBadInput, f)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no indices given", ErrBadInput)
	}
	return out, nil
}

// ParseSize parses a size with an optional K/M/G suffix into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty size", ErrBadInput)
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 'B':
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: cannot parse size %q", ErrBadInput, s)
	}
	return int64(n * float64(mult)), nil
}

// ParseSizeRange parses "min" or "min max" with K/M/G suffixes.
func ParseSizeRange(text string) (min, max int64, err error) {
	fields := strings.Fields(text)
	switch len(fields) {
	case 1:
		min, err = ParseSize(fields[0])
		return min, 0, err
	case 2:
		if min, err = ParseSize(fields[0]); err != nil {
			return 0, 0, err
		}
		if max, err = ParseSize(fields[1]); err != nil {
			return 0, 0, err
		}
		if max > 0 && min > max {
			return 0, 0, fmt.Errorf("%w: min size exceeds max", ErrBadInput)
		}
		return min, max, nil
	default:
		return 0, 0, fmt.Errorf("%w: expected \"min\" or \"min max\"", ErrBadInput)
	}
}

// ParseDurationRange parses "min" or "min max" in seconds.
func ParseDurationRange(text string) (min, max int, err error) {
	fields := strings.Fields(text)
	if len(fields) < 1 || len(fields) > 2 {
		return 0, 0, fmt.Errorf("%w: expected \"min\" or \"min max\" seconds", ErrBadInput)
	}
	min, err = strconv.Atoi(fields[0])
	if err != nil || min < 0 {
		return 0, 0, fmt.Errorf("%w: bad duration %q", ErrBadInput, fields[0])
	}
	if len(fields) == 2 {
		max, err = strconv.Atoi(fields[1])
		if err != nil || max < 0 {
			return 0, 0, fmt.Errorf("%w: bad duration %q", ErrBadInput, fields[1])
		}
		if max > 0 && min > max {
			return 0, 0, fmt.Errorf("%w: min duration exceeds max", ErrBadInput)
		}
	}
	return min, max, nil
}

// ParseResolutionRange parses "minW minH" or "minW minH maxW maxH".
func ParseResolutionRange(text string) (minW, minH, maxW, maxH int, err error) {
	fields := strings.Fields(text)
	if len(fields) != 2 && len(fields) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: expected \"minW minH [maxW maxH]\"", ErrBadInput)
	}
	vals := make([]int, len(fields))
	for i, f := range fields {
		vals[i], err = strconv.Atoi(f)
		if err != nil || vals[i] < 0 {
			return 0, 0, 0, 0, fmt.Errorf("%w: bad dimension %q", ErrBadInput, f)
		}
	}
	minW, minH = vals[0], vals[1]
	if len(vals) == 4 {
		maxW, maxH = vals[2], vals[3]
	}
	return minW, minH, maxW, maxH, nil
}
