package messages

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/chatui/parts"
	"goa.design/chatui/runtime/chatui/toolmsg"
)

// noise returns non-text parts that must not affect the prompt.
func noise(n int) []parts.Part {
	all := []parts.Part{
		parts.DataFile{ID: "f", Data: parts.FileData{Name: "a.txt", URL: "https://x/a.txt", Type: "text/plain", Size: 3}},
		parts.DataEvent{ID: "e", Data: parts.ChatEvent{Title: "t", Status: parts.StatusSuccess}},
		parts.DataSources{ID: "s", Data: parts.SourceData{Sources: []map[string]any{{"url": "https://x"}}}},
		parts.DataSuggestions{ID: "q", Data: parts.SuggestedQuestionsData{Questions: []string{"more?"}}},
	}
	return all[:n%(len(all)+1)]
}

// interleave builds a user message alternating texts with noise parts.
func interleave(texts []string, n int) UIMessage {
	msg := UIMessage{ID: "m", Role: RoleUser}
	msg.Parts = append(msg.Parts, noise(n)...)
	for _, t := range texts {
		msg.Parts = append(msg.Parts, parts.Text{Text: t})
		msg.Parts = append(msg.Parts, noise(n)...)
	}
	return msg
}

func TestToPromptContentProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("non-user roles are not applicable", prop.ForAll(
		func(texts []string, useSystem bool) bool {
			msg := interleave(texts, 2)
			msg.Role = RoleAssistant
			if useSystem {
				msg.Role = RoleSystem
			}
			_, ok := ToPromptContent(msg)
			return !ok
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Bool(),
	))

	properties.Property("no text parts yields one empty prompt", prop.ForAll(
		func(n int) bool {
			got, ok := ToPromptContent(interleave(nil, n))
			return ok && got == ""
		},
		gen.IntRange(0, 4),
	))

	properties.Property("a single text part is returned verbatim", prop.ForAll(
		func(text string, n int) bool {
			got, ok := ToPromptContent(interleave([]string{text}, n))
			return ok && got == text
		},
		gen.AnyString(),
		gen.IntRange(0, 4),
	))

	properties.Property("text parts are joined in order", prop.ForAll(
		func(texts []string, n int) bool {
			if len(texts) < 2 {
				return true
			}
			got, ok := ToPromptContent(interleave(texts, n))
			return ok && got == strings.Join(texts, "\n\n")
		},
		gen.SliceOfN(4, gen.AlphaString()),
		gen.IntRange(0, 4),
	))

	properties.Property("idempotent and non-mutating", prop.ForAll(
		func(texts []string, n int) bool {
			msg := interleave(texts, n)
			before := len(msg.Parts)
			first, _ := ToPromptContent(msg)
			second, _ := ToPromptContent(msg)
			return first == second && len(msg.Parts) == before
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

func TestToFullMessageEmptyResponse(t *testing.T) {
	ui, err := ToFullMessage(&model.Message{Role: model.RoleAssistant}, nil)
	require.NoError(t, err)
	require.Equal(t, RoleAssistant, ui.Role)
	require.NotEmpty(t, ui.ID)
	require.Len(t, ui.Parts, 1)
	text, ok := ui.Parts[0].(parts.Text)
	require.True(t, ok)
	require.Empty(t, text.Text)
}

func TestToFullMessageToolLifecycle(t *testing.T) {
	msgs := toolmsg.Messages{"weather": map[string]string{"pending": "Checking the sky", "success": "Sky checked"}}
	call := &model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.TextPart{Text: "Let me check."},
		model.ToolUsePart{ID: "tc1", Name: "weather", Input: map[string]any{"city": "Paris"}},
	}}
	result := &model.Message{Role: model.RoleUser, Parts: []model.Part{
		model.ToolResultPart{ToolUseID: "tc1", Name: "weather", Content: "sunny"},
	}}

	uis, err := ToFullMessages([]*model.Message{call, result}, msgs)
	require.NoError(t, err)
	require.Len(t, uis, 2)

	require.Equal(t, RoleAssistant, uis[0].Role)
	require.Len(t, uis[0].Parts, 2)
	require.Equal(t, "Let me check.", uis[0].Parts[0].(parts.Text).Text)
	require.Equal(t, parts.DataEvent{ID: "tc1", Data: parts.ChatEvent{Title: "Checking the sky", Status: parts.StatusPending}}, uis[0].Parts[1])

	require.Equal(t, RoleUser, uis[1].Role)
	require.Equal(t, []parts.Part{parts.DataEvent{ID: "tc1", Data: parts.ChatEvent{Title: "Sky checked", Status: parts.StatusSuccess}}}, uis[1].Parts)
}

func TestToFullMessageRetryPrompts(t *testing.T) {
	msg := &model.Message{Role: model.RoleUser, Parts: []model.Part{
		model.RetryPart{ToolUseID: "tc1", ToolName: "lookup", Content: "bad id"},
		model.RetryPart{Content: "answer in French"},
	}}
	ui, err := ToFullMessage(msg, toolmsg.Messages{"lookup": map[parts.Status]string{parts.StatusError: "Oops"}})
	require.NoError(t, err)
	require.Len(t, ui.Parts, 1)
	ev := ui.Parts[0].(parts.DataEvent)
	require.NotEqual(t, "tc1", ev.ID)
	require.NotEmpty(t, ev.ID)
	require.Equal(t, parts.ChatEvent{Title: "Oops", Status: parts.StatusError}, ev.Data)
}

func TestToFullMessageUserPrompt(t *testing.T) {
	ui, err := ToFullMessage(model.NewUserMessage("hello"), nil)
	require.NoError(t, err)
	require.Equal(t, RoleUser, ui.Role)
	require.Equal(t, "hello", ui.Parts[0].(parts.Text).Text)
}

func TestToFullMessageResolverFailure(t *testing.T) {
	msg := &model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "tc1", Name: "x"}}}
	_, err := ToFullMessage(msg, toolmsg.Messages{"x": map[string]string{"error": "only errors"}})
	require.ErrorIs(t, err, toolmsg.ErrMissingStatus)
}
