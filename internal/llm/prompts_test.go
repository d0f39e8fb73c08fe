package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPrompt(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		content    string
		wantSystem string
		wantUser   string
	}{
		{
			name:       "plain prompt becomes system message",
			template:   "translate to english",
			content:    "привет",
			wantSystem: "translate to english",
			wantUser:   "привет",
		},
		{
			name:       "template substitutes content",
			template:   "Rewrite: {{CONTENT}} (keep links)",
			content:    "hello",
			wantSystem: "",
			wantUser:   "Rewrite: hello (keep links)",
		},
		{
			name:       "multiple placeholders all substituted",
			template:   "{{CONTENT}} | {{CONTENT}}",
			content:    "x",
			wantSystem: "",
			wantUser:   "x | x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, user := SplitPrompt(tt.template, tt.content)
			assert.Equal(t, tt.wantSystem, system)
			assert.Equal(t, tt.wantUser, user)
		})
	}
}

func TestDefaultPromptsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, DefaultRewritePrompt)
	assert.NotEmpty(t, DefaultSummaryPrompt)
}
