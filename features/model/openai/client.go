// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates requests into ChatCompletion calls using
// github.com/openai/openai-go and maps responses back to the generic model
// structures. The adapter does not stream: Stream reports
// model.ErrStreamingUnsupported and callers fall back to Complete.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/tools"
)

const providerName = "openai"

// ChatClient captures the subset of the openai-go client used by the adapter.
// It is satisfied by *sdk.ChatCompletionService.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &c.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages, err := encodeMessages(req.System, req.Messages)
	if err != nil {
		return model.Response{}, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
		Tools:    encodeTools(req.Tools),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return model.Response{}, providerError(err)
	}
	return translateResponse(resp), nil
}

// Stream reports that streaming is not supported by this adapter. Callers
// fall back to Complete.
func (c *Client) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func encodeMessages(system string, msgs []*model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, sdk.SystemMessage(system))
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			if text := m.Text(); text != "" {
				out = append(out, sdk.SystemMessage(text))
			}
		case model.RoleAssistant:
			if msg, ok := assistantMessage(m); ok {
				out = append(out, msg)
			}
		case model.RoleUser:
			// Tool results become tool messages, text becomes a user message.
			var text []string
			for _, p := range m.Parts {
				switch v := p.(type) {
				case model.TextPart:
					if v.Text != "" {
						text = append(text, v.Text)
					}
				case model.ToolResultPart:
					out = append(out, sdk.ToolMessage(resultContent(v.Content), v.ToolUseID))
				case model.RetryPart:
					out = append(out, sdk.ToolMessage(v.Content+"\n\nFix the errors and try again.", v.ToolUseID))
				}
			}
			if len(text) > 0 {
				out = append(out, sdk.UserMessage(strings.Join(text, "\n\n")))
			}
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func assistantMessage(m *model.Message) (sdk.ChatCompletionMessageParamUnion, bool) {
	var msg sdk.ChatCompletionAssistantMessageParam
	text := m.Text()
	if text != "" {
		msg.Content.OfString = sdk.String(text)
	}
	for _, p := range m.Parts {
		use, ok := p.(model.ToolUsePart)
		if !ok {
			continue
		}
		args, err := json.Marshal(use.Input)
		if err != nil || use.Input == nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
			ID: use.ID,
			Function: sdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      tools.Ident(use.Name).Sanitize().String(),
				Arguments: string(args),
			},
		})
	}
	if text == "" && len(msg.ToolCalls) == 0 {
		return sdk.ChatCompletionMessageParamUnion{}, false
	}
	return sdk.ChatCompletionMessageParamUnion{OfAssistant: &msg}, true
}

func resultContent(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(data)
	}
}

func encodeTools(defs []*model.ToolDefinition) []sdk.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		fn := shared.FunctionDefinitionParam{
			Name:       tools.Ident(def.Name).Sanitize().String(),
			Parameters: schemaParameters(def.InputSchema),
		}
		if def.Description != "" {
			fn.Description = sdk.String(def.Description)
		}
		out = append(out, sdk.ChatCompletionToolParam{Function: fn})
	}
	return out
}

// schemaParameters converts a JSON schema of any shape to the map form the
// SDK expects. Schemas that do not encode to a JSON object yield an empty
// object schema.
func schemaParameters(schema any) shared.FunctionParameters {
	params := shared.FunctionParameters{"type": "object"}
	if schema == nil {
		return params
	}
	raw, ok := schema.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(schema)
		if err != nil {
			return params
		}
		raw = data
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return params
	}
	return shared.FunctionParameters(m)
}

func translateResponse(resp *sdk.ChatCompletion) model.Response {
	var out model.Response
	if resp == nil {
		return out
	}
	for _, choice := range resp.Choices {
		msg := choice.Message
		if msg.Content != "" {
			out.Content = append(out.Content, model.Message{
				Role:  model.RoleAssistant,
				Parts: []model.Part{model.TextPart{Text: msg.Content}},
			})
		}
		for _, call := range msg.ToolCalls {
			payload := json.RawMessage(call.Function.Arguments)
			if len(payload) == 0 || !json.Valid(payload) {
				payload = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:      call.ID,
				Name:    tools.Ident(call.Function.Name),
				Payload: payload,
			})
		}
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	if len(resp.Choices) > 0 {
		out.StopReason = resp.Choices[0].FinishReason
	}
	return out
}

func providerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &model.ProviderError{
		Provider:  providerName,
		Operation: "chat.completions.new",
		Kind:      model.ProviderErrorKindUnknown,
		Cause:     err,
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pe.HTTPStatus = apiErr.StatusCode
		pe.Kind = model.KindFromHTTPStatus(apiErr.StatusCode)
		pe.Message = apiErr.Message
		if apiErr.Response != nil {
			pe.RequestID = apiErr.Response.Header.Get("x-request-id")
		}
	}
	return pe
}
