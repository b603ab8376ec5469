// Package model provides the provider-agnostic contract between agent loops
// and large language model clients, and the message types that make up a
// conversation history. Provider adapters (Anthropic, OpenAI, ...) translate
// these normalized types to and from their SDKs.
package model

import (
	"context"
	"encoding/json"
	"errors"

	"goa.design/chatui/runtime/agent/tools"
)

type (
	// Client defines the contract agent loops use to invoke a model. Clients
	// must be safe for concurrent use.
	Client interface {
		// Complete sends a request and returns the full response.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a request and returns a Streamer yielding incremental
		// chunks. Callers must close the returned Streamer. Providers that do
		// not support streaming return ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return chunks until io.EOF. Streamers are used from a single goroutine.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close releases the underlying connection.
		Close() error
		// Metadata returns provider-defined metadata such as "provider",
		// "model" or "request_id".
		Metadata() map[string]any
	}

	// Request captures the normalized parameters of a model invocation.
	Request struct {
		// Model is the provider model identifier.
		Model string
		// System is the system prompt, if any.
		System string
		// Messages is the ordered conversation history.
		Messages []*Message
		// Tools lists the tools the model may call.
		Tools []*ToolDefinition
		// Temperature controls sampling. Zero uses the provider default.
		Temperature float32
		// MaxTokens caps completion tokens. Zero uses the provider default.
		MaxTokens int
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		// Content holds the assistant text messages.
		Content []Message
		// ToolCalls lists the tool invocations requested by the model.
		ToolCalls []ToolCall
		// Usage reports token counts when the provider returns them.
		Usage TokenUsage
		// StopReason is the provider stop reason, e.g. "end_turn" or
		// "tool_use".
		StopReason string
	}

	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		// Name is the tool identifier presented to the model.
		Name string
		// Description documents the tool for the model.
		Description string
		// InputSchema is the JSON schema of the tool arguments.
		InputSchema any
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		// ID correlates the call with its result.
		ID string
		// Name identifies the tool.
		Name tools.Ident
		// Payload carries the raw JSON arguments.
		Payload json.RawMessage
	}

	// ToolCallDelta is an incremental fragment of a tool call's arguments.
	ToolCallDelta struct {
		// ID is the tool call identifier.
		ID string
		// Name identifies the tool. Providers may only set it on the first
		// fragment.
		Name tools.Ident
		// Delta is a fragment of the JSON arguments.
		Delta string
	}

	// Chunk is one streaming event. Type determines which field is set:
	//
	//   - "text":            Text holds a text delta.
	//   - "tool_call_delta": ToolCallDelta holds an argument fragment.
	//   - "tool_call":       ToolCall holds the complete tool call.
	//   - "usage":           UsageDelta reports token usage.
	//   - "stop":            StopReason explains termination.
	Chunk struct {
		Type          string
		Text          string
		ToolCallDelta *ToolCallDelta
		ToolCall      *ToolCall
		UsageDelta    *TokenUsage
		StopReason    string
	}

	// TokenUsage records prompt and completion token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// Chunk types.
const (
	ChunkTypeText          = "text"
	ChunkTypeToolCallDelta = "tool_call_delta"
	ChunkTypeToolCall      = "tool_call"
	ChunkTypeUsage         = "usage"
	ChunkTypeStop          = "stop"
)

// ErrStreamingUnsupported indicates the provider does not implement streaming
// for the requested model.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
