package messages

import (
	"strings"

	"github.com/google/uuid"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/chatui/parts"
	"goa.design/chatui/runtime/chatui/toolmsg"
)

// promptSeparator joins the text parts of a multi-part prompt.
const promptSeparator = "\n\n"

// ToPromptContent returns the prompt sent to the agent for a user message: the
// text parts joined by a blank line. A message without text parts falls back
// to its content, which may be "". Other part types are ignored. ok is false
// when msg is not a user message.
func ToPromptContent(msg UIMessage) (prompt string, ok bool) {
	if msg.Role != RoleUser {
		return "", false
	}
	var texts []string
	for _, p := range msg.Parts {
		if t, isText := p.(parts.Text); isText {
			texts = append(texts, t.Text)
		}
	}
	if len(texts) == 0 {
		return msg.Content, true
	}
	return strings.Join(texts, promptSeparator), true
}

// ToFullMessage converts a history message into the UI message used to replay
// a transcript. Tool calls, results and retries become data-event parts with
// titles resolved from msgs. A message without any convertible part yields a
// single empty text part.
func ToFullMessage(msg *model.Message, msgs toolmsg.Messages) (UIMessage, error) {
	out := UIMessage{ID: uuid.NewString(), Role: uiRole(msg.Role)}
	resolve := msgs.Resolver()
	for _, p := range msg.Parts {
		part, ok, err := fullPart(msg, p, resolve)
		if err != nil {
			return UIMessage{}, err
		}
		if ok {
			out.Parts = append(out.Parts, part)
		}
	}
	if len(out.Parts) == 0 {
		out.Parts = []parts.Part{parts.Text{ID: uuid.NewString()}}
	}
	return out, nil
}

// ToFullMessages converts a whole history.
func ToFullMessages(history []*model.Message, msgs toolmsg.Messages) ([]UIMessage, error) {
	out := make([]UIMessage, 0, len(history))
	for _, m := range history {
		ui, err := ToFullMessage(m, msgs)
		if err != nil {
			return nil, err
		}
		out = append(out, ui)
	}
	return out, nil
}

func fullPart(msg *model.Message, p model.Part, resolve titleResolver) (parts.Part, bool, error) {
	switch v := p.(type) {
	case model.TextPart:
		return parts.Text{ID: uuid.NewString(), Text: v.Text}, true, nil
	case model.ToolResultPart:
		ev, err := event(v.ToolUseID, v.Name, parts.StatusSuccess, resolve)
		return ev, err == nil, err
	case model.RetryPart:
		if !msg.IsRequest() || v.ToolName == "" {
			return nil, false, nil
		}
		ev, err := event(uuid.NewString(), v.ToolName, parts.StatusError, resolve)
		return ev, err == nil, err
	case model.ToolUsePart:
		if msg.IsRequest() {
			return nil, false, nil
		}
		ev, err := event(v.ID, v.Name, parts.StatusPending, resolve)
		return ev, err == nil, err
	default:
		return nil, false, nil
	}
}

// titleResolver returns the title of a tool call in the given status.
type titleResolver = func(tool string, status parts.Status) (string, error)

func event(id, tool string, status parts.Status, resolve titleResolver) (parts.Part, error) {
	title, err := resolve(tool, status)
	if err != nil {
		return nil, err
	}
	return parts.DataEvent{ID: id, Data: parts.ChatEvent{Title: title, Status: status}}, nil
}

func uiRole(r model.ConversationRole) Role {
	switch r {
	case model.RoleAssistant:
		return RoleAssistant
	case model.RoleSystem:
		return RoleSystem
	default:
		return RoleUser
	}
}
