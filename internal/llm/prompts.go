package llm

import "strings"

// contentPlaceholder marks where the message text goes inside a custom
// prompt template. Prompts without the placeholder get the content
// appended after a blank line.
const contentPlaceholder = "{{CONTENT}}"

// DefaultRewritePrompt is used when a rule enables AI rewriting without
// a custom prompt.
const DefaultRewritePrompt = `Rewrite the following message preserving its meaning and language. Keep links, mentions and hashtags intact. Output only the rewritten text with no commentary.`

// DefaultSummaryPrompt is used for digest generation when the rule has
// no summary prompt configured.
const DefaultSummaryPrompt = `Summarize the following messages into a short digest in the same language as the source. One bullet per distinct topic. Output only the digest.`

// SplitPrompt maps a prompt template and content onto system and user
// messages. Templates with {{CONTENT}} become a single user message
// with the content substituted in; plain prompts become the system
// message with the content as the user message.
func SplitPrompt(template, content string) (system, user string) {
	if strings.Contains(template, contentPlaceholder) {
		return "", strings.ReplaceAll(template, contentPlaceholder, content)
	}
	return template, content
}
