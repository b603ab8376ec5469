package model

import (
	"strings"
	"time"
)

type (
	// ConversationRole is the direction of a history message.
	ConversationRole string

	// Message is one entry of a conversation history. User (and system)
	// messages are requests sent to the model; assistant messages are model
	// responses.
	Message struct {
		// Role is the message role.
		Role ConversationRole
		// Parts is the ordered message content.
		Parts []Part
		// Timestamp records when the message was produced.
		Timestamp time.Time
		// Meta carries provider-specific metadata.
		Meta map[string]any
	}

	// Part is one element of a message. Implementations are TextPart,
	// ToolUsePart, ToolResultPart and RetryPart.
	Part interface {
		isPart()
	}

	// TextPart is plain text: a user prompt, a system prompt or assistant
	// output depending on the message role.
	TextPart struct {
		Text string
	}

	// ToolUsePart is a tool call made by the model.
	ToolUsePart struct {
		// ID is the tool call identifier.
		ID string
		// Name is the tool name.
		Name string
		// Input holds the decoded call arguments.
		Input any
	}

	// ToolResultPart is the value returned by a tool, sent back to the model.
	ToolResultPart struct {
		// ToolUseID correlates the result with its ToolUsePart.
		ToolUseID string
		// Name is the tool name.
		Name string
		// Content is the tool output.
		Content any
		// IsError marks results describing a tool failure.
		IsError bool
	}

	// RetryPart asks the model to try again. ToolName is set when the retry
	// was caused by a tool call and empty when it concerns the model's final
	// answer.
	RetryPart struct {
		ToolUseID string
		ToolName  string
		Content   string
	}
)

// Conversation roles.
const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}
func (RetryPart) isPart()      {}

// IsRequest reports whether the message was sent to the model as opposed to
// produced by it.
func (m *Message) IsRequest() bool {
	return m.Role != RoleAssistant
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// NewUserMessage returns a user message holding a single text part.
func NewUserMessage(text string) *Message {
	return &Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}, Timestamp: time.Now().UTC()}
}
