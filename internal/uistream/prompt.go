package uistream

import "strings"

// BuildPrompt flattens a conversation into the agent prompt. Each message
// becomes "Human: ..." (user) or "Assistant: ..." (any other role) with its
// text parts concatenated; messages without text are dropped and the rest
// are joined by a blank line.
func BuildPrompt(messages []UIMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		var text strings.Builder
		for _, p := range m.Parts {
			if p.Type == "text" {
				text.WriteString(p.Text)
			}
		}
		if text.Len() == 0 {
			continue
		}
		role := "Assistant"
		if m.Role == "user" {
			role = "Human"
		}
		lines = append(lines, role+": "+text.String())
	}
	return strings.Join(lines, "\n\n")
}
