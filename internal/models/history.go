package models

import "strings"

// ParseHistory normalizes the heterogeneous conversation-history shapes that
// callers send (plain strings, objects with varying key names, nested lists)
// into a flat []Message. Unrecognizable items are dropped. Downstream code
// must never see anything but Message.
func ParseHistory(raw []any) []Message {
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		out = append(out, parseHistoryItem(item)...)
	}
	return out
}

func parseHistoryItem(item any) []Message {
	switch v := item.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []Message{{Role: RoleUser, Content: s}}
		}
	case Message:
		if v.Content != "" {
			return []Message{normalizeMessage(v)}
		}
	case map[string]any:
		if m, ok := messageFromMap(v); ok {
			return []Message{m}
		}
	case []any:
		// Some clients send [user, assistant] pairs as nested lists.
		var out []Message
		for _, nested := range v {
			out = append(out, parseHistoryItem(nested)...)
		}
		return out
	}
	return nil
}

func messageFromMap(m map[string]any) (Message, bool) {
	role := stringField(m, "role", "speaker", "type")
	content := stringField(m, "content", "text", "message")

	// {"user": "...", "assistant": "..."} style objects carry the role as key.
	if content == "" {
		if u := stringField(m, "user", "human"); u != "" {
			return Message{Role: RoleUser, Content: u}, true
		}
		if a := stringField(m, "assistant", "bot", "ai"); a != "" {
			return Message{Role: RoleAssistant, Content: a}, true
		}
		return Message{}, false
	}

	return normalizeMessage(Message{Role: role, Content: content}), true
}

func normalizeMessage(m Message) Message {
	switch strings.ToLower(strings.TrimSpace(m.Role)) {
	case RoleAssistant, "bot", "ai", "chatbot", "system":
		m.Role = RoleAssistant
	default:
		m.Role = RoleUser
	}
	m.Content = strings.TrimSpace(m.Content)
	return m
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
