// Package messages converts between chat UI messages and agent history
// messages.
package messages

import (
	"encoding/json"
	"fmt"

	"goa.design/chatui/runtime/chatui/parts"
)

type (
	// Role is the author of a UI message.
	Role string

	// UIMessage is a complete message as rendered by the chat UI. Content is
	// the plain text body sent by clients that do not use parts.
	UIMessage struct {
		ID      string       `json:"id"`
		Role    Role         `json:"role"`
		Content string       `json:"content,omitempty"`
		Parts   []parts.Part `json:"parts"`
	}
)

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UnmarshalJSON decodes the message parts into their concrete types. Parts of
// unknown types decode to parts.Any.
func (m *UIMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string            `json:"id"`
		Role    Role              `json:"role"`
		Content string            `json:"content"`
		Parts   []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.Role = raw.Role
	m.Content = raw.Content
	m.Parts = make([]parts.Part, 0, len(raw.Parts))
	for i, rp := range raw.Parts {
		p, err := parts.Decode(rp)
		if err != nil {
			return fmt.Errorf("parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, p)
	}
	return nil
}
