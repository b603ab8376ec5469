package run

import "encoding/json"

type (
	// Event is emitted by a StreamNode.
	Event interface {
		isEvent()
	}

	// TextStartEvent starts a text part in a model response. Content holds
	// text already available when the part starts.
	TextStartEvent struct {
		Index   int
		Content string
	}

	// TextDeltaEvent appends text to the part at Index.
	TextDeltaEvent struct {
		Index int
		Delta string
	}

	// ToolCallStartEvent starts a tool call part in a model response.
	ToolCallStartEvent struct {
		Index      int
		ToolCallID string
		ToolName   string
	}

	// ToolCallDeltaEvent appends argument JSON to the tool call at Index.
	ToolCallDeltaEvent struct {
		Index      int
		ToolCallID string
		ArgsDelta  string
	}

	// FinalResultEvent marks that the model response produced the final
	// result, possibly through the named output tool.
	FinalResultEvent struct {
		ToolName   string
		ToolCallID string
	}

	// ToolCallEvent reports a function tool about to be executed.
	ToolCallEvent struct {
		ToolCallID string
		ToolName   string
		Args       json.RawMessage
	}

	// ToolResultEvent reports the result of a function tool. Retry is set
	// when the tool asked the model to try again.
	ToolResultEvent struct {
		ToolCallID string
		ToolName   string
		Result     any
		Retry      bool
	}
)

func (TextStartEvent) isEvent()     {}
func (TextDeltaEvent) isEvent()     {}
func (ToolCallStartEvent) isEvent() {}
func (ToolCallDeltaEvent) isEvent() {}
func (FinalResultEvent) isEvent()   {}
func (ToolCallEvent) isEvent()      {}
func (ToolResultEvent) isEvent()    {}
