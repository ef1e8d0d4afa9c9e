package llm

import "github.com/haasonsaas/conduit/internal/convo"

// mappedMessage is a ChatMessage translated into the user/assistant
// vocabulary every provider's chat API expects, with role=tool and
// role=system entries already folded away.
type mappedMessage struct {
	Role string // "user" | "assistant"
	Text string
}

// mapHistory performs the role mapping spec.md requires "exclusively in
// the adapter": tool-role messages become user-role text carrying a
// "Result for tool '<name>':" prefix, and a synthetic user/assistant
// priming pair is inserted ahead of the first real message whenever the
// history doesn't already open on a user turn — several providers (notably
// Anthropic) reject a message list that doesn't start with role=user or
// that has two consecutive same-role turns.
func mapHistory(history []convo.ChatMessage) []mappedMessage {
	out := make([]mappedMessage, 0, len(history)+2)

	for _, msg := range history {
		var role, text string
		switch msg.Role {
		case convo.RoleUser:
			role = "user"
			text = contentOf(msg)
		case convo.RoleAssistant:
			role = "assistant"
			text = contentOf(msg)
		case convo.RoleSystem:
			// System content is carried in PromptBundle.System, not history;
			// defensively fold it in as a user note if it ever appears here.
			role = "user"
			text = contentOf(msg)
		case convo.RoleTool:
			role = "user"
			text = rolePrefixedToolResult(msg.ToolName, msg.Data)
		default:
			continue
		}
		out = append(out, mappedMessage{Role: role, Text: text})
	}

	// Collapse consecutive same-role entries (can happen after tool-result
	// folding) by merging text, since most providers reject repeats.
	merged := make([]mappedMessage, 0, len(out))
	for _, m := range out {
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Text += "\n\n" + m.Text
			continue
		}
		merged = append(merged, m)
	}

	if len(merged) == 0 || merged[0].Role != "user" {
		primed := []mappedMessage{
			{Role: "user", Text: "(conversation begins)"},
			{Role: "assistant", Text: "Understood."},
		}
		merged = append(primed, merged...)
	}

	return merged
}

func contentOf(msg convo.ChatMessage) string {
	if msg.Content != nil {
		return *msg.Content
	}
	return ""
}
