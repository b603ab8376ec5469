package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Part kind discriminators used by the JSON encoding of messages.
const (
	partKindText       = "text"
	partKindToolUse    = "tool_use"
	partKindToolResult = "tool_result"
	partKindRetry      = "retry"
)

type (
	jsonMessage struct {
		Role      ConversationRole  `json:"role"`
		Parts     []json.RawMessage `json:"parts"`
		Timestamp time.Time         `json:"timestamp,omitzero"`
		Meta      map[string]any    `json:"meta,omitempty"`
	}

	jsonPart struct {
		Kind      string `json:"kind"`
		Text      string `json:"text,omitempty"`
		ID        string `json:"id,omitempty"`
		Name      string `json:"name,omitempty"`
		Input     any    `json:"input,omitempty"`
		ToolUseID string `json:"tool_use_id,omitempty"`
		Content   any    `json:"content,omitempty"`
		IsError   bool   `json:"is_error,omitempty"`
	}
)

// MarshalJSON encodes the message with a "kind" discriminator on each part so
// UnmarshalJSON can recover the concrete part types.
func (m *Message) MarshalJSON() ([]byte, error) {
	out := jsonMessage{
		Role:      m.Role,
		Parts:     make([]json.RawMessage, 0, len(m.Parts)),
		Timestamp: m.Timestamp,
		Meta:      m.Meta,
	}
	for i, p := range m.Parts {
		var jp jsonPart
		switch v := p.(type) {
		case TextPart:
			jp = jsonPart{Kind: partKindText, Text: v.Text}
		case ToolUsePart:
			jp = jsonPart{Kind: partKindToolUse, ID: v.ID, Name: v.Name, Input: v.Input}
		case ToolResultPart:
			jp = jsonPart{Kind: partKindToolResult, ToolUseID: v.ToolUseID, Name: v.Name, Content: v.Content, IsError: v.IsError}
		case RetryPart:
			jp = jsonPart{Kind: partKindRetry, ToolUseID: v.ToolUseID, Name: v.ToolName, Content: v.Content}
		default:
			return nil, fmt.Errorf("encode parts[%d]: unsupported part %T", i, p)
		}
		raw, err := json.Marshal(jp)
		if err != nil {
			return nil, fmt.Errorf("encode parts[%d]: %w", i, err)
		}
		out.Parts = append(out.Parts, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a message encoded by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in jsonMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Role = in.Role
	m.Timestamp = in.Timestamp
	m.Meta = in.Meta
	m.Parts = nil
	if len(in.Parts) == 0 {
		return nil
	}
	m.Parts = make([]Part, 0, len(in.Parts))
	for i, raw := range in.Parts {
		part, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func decodePart(raw json.RawMessage) (Part, error) {
	var jp jsonPart
	if err := json.Unmarshal(raw, &jp); err != nil {
		return nil, fmt.Errorf("decode part object: %w", err)
	}
	switch jp.Kind {
	case partKindText:
		return TextPart{Text: jp.Text}, nil
	case partKindToolUse:
		if jp.Name == "" {
			return nil, errors.New("tool_use part requires name")
		}
		return ToolUsePart{ID: jp.ID, Name: jp.Name, Input: jp.Input}, nil
	case partKindToolResult:
		if jp.ToolUseID == "" {
			return nil, errors.New("tool_result part requires tool_use_id")
		}
		return ToolResultPart{ToolUseID: jp.ToolUseID, Name: jp.Name, Content: jp.Content, IsError: jp.IsError}, nil
	case partKindRetry:
		content, _ := jp.Content.(string)
		return RetryPart{ToolUseID: jp.ToolUseID, ToolName: jp.Name, Content: content}, nil
	case "":
		return nil, errors.New("missing part kind")
	default:
		return nil, fmt.Errorf("unknown part kind %q", jp.Kind)
	}
}
