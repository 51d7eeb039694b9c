package chat

import (
	"encoding/json"
	"strings"

	"github.com/kalambet/chatcommerce/internal/llm"
)

// Part is one piece of a UI message. Only text parts carry content the
// model sees.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InMessage is a message as the chat client sends it: either a plain
// content string, a content array of parts, or a parts array.
type InMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Parts   []Part          `json:"parts,omitempty"`
}

// Text returns the message text. Text parts are joined with a space.
func (m InMessage) Text() string {
	if len(m.Content) > 0 {
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var parts []Part
		if err := json.Unmarshal(m.Content, &parts); err == nil {
			return joinText(parts)
		}
	}
	return joinText(m.Parts)
}

func joinText(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " ")
}

// Normalize converts client messages into model messages. Roles other than
// user, assistant and system are ignored, as are messages without text.
func Normalize(in []InMessage) []llm.Message {
	out := make([]llm.Message, 0, len(in))
	for _, m := range in {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
		default:
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: text})
	}
	return out
}

// LastUserText returns the content of the last user message, or "".
func LastUserText(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// Window keeps the first keepFirst and the last keepRecent messages when the
// history is longer than both together.
func Window(msgs []llm.Message, keepFirst, keepRecent int) []llm.Message {
	keepFirst, keepRecent = max(keepFirst, 0), max(keepRecent, 0)
	if len(msgs) <= keepFirst+keepRecent {
		return msgs
	}
	out := make([]llm.Message, 0, keepFirst+keepRecent)
	out = append(out, msgs[:keepFirst]...)
	return append(out, msgs[len(msgs)-keepRecent:]...)
}
