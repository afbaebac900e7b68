package chat

import (
	"fmt"
	"strings"
)

// BuildPrompt combines the persona description, the allowed-topic hint list,
// and the raw user message into a single generation prompt. Topic framing is
// advisory only; no filtering is enforced on the reply.
func BuildPrompt(persona string, allowedTopics []string, messageText string) string {
	var sb strings.Builder

	sb.WriteString(persona)
	sb.WriteString("\n\n")

	if len(allowedTopics) > 0 {
		sb.WriteString(fmt.Sprintf("Stick to the allowed topics: %s.\n\n", strings.Join(allowedTopics, ", ")))
	}

	sb.WriteString("The user's message is:\n")
	sb.WriteString(messageText)
	sb.WriteString("\n\nRespond to the user's message in a concise and informative way.")

	return sb.String()
}
