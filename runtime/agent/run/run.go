// Package run defines the contract between an agent and the components that
// observe it while it runs.
//
// An Agent starts a Run from a prompt and a history. A Run yields lifecycle
// nodes in order: a user-prompt node, then alternating model-request and
// call-tools nodes, and finally an end node carrying the final result.
// Model-request and call-tools nodes are StreamNodes: opening their stream
// executes the step and yields its finer-grained events. A StreamNode must be
// fully consumed (or its stream closed) before the next call to Run.Next.
//
//	r, err := agent.Start(ctx, run.Input{Prompt: "hi"})
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//	for {
//		node, err := r.Next(ctx)
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		...
//	}
package run

import (
	"context"

	"goa.design/chatui/runtime/agent/model"
)

type (
	// Agent starts runs.
	Agent interface {
		// Start begins a run. The returned Run must be closed.
		Start(ctx context.Context, in Input) (Run, error)
	}

	// Input is the input of a run.
	Input struct {
		// Prompt is the user prompt.
		Prompt string
		// Deps is passed unchanged to tool handlers.
		Deps any
		// History is the prior conversation.
		History []*model.Message
	}

	// Run is an in-flight agent run.
	Run interface {
		// Next returns the next lifecycle node, or io.EOF after the end node.
		Next(ctx context.Context) (Node, error)
		// NewMessages returns the history messages created by the run, in
		// order. It is complete once Next has returned io.EOF.
		NewMessages() []*model.Message
		// Close releases the run. Closing a run that did not complete
		// cancels it.
		Close() error
	}

	// NodeKind classifies lifecycle nodes.
	NodeKind string

	// Node is a lifecycle node.
	Node interface {
		Kind() NodeKind
	}

	// StreamNode is a node whose execution is observed through a stream of
	// events.
	StreamNode interface {
		Node
		// Stream executes the step. The returned Events must be closed.
		Stream(ctx context.Context) (Events, error)
	}

	// Events is the event stream of a StreamNode. Recv returns events until
	// io.EOF.
	Events interface {
		Recv() (Event, error)
		Close() error
	}

	// UserPromptNode starts the run with the user prompt.
	UserPromptNode struct {
		Prompt string
	}

	// EndNode terminates the run.
	EndNode struct {
		Result FinalResult
	}

	// FinalResult is the outcome of a run.
	FinalResult struct {
		// Output is the final output: a string for plain text answers, or a
		// structured value produced by an output tool.
		Output any
		// ToolName and ToolCallID identify the output tool call that produced
		// Output, when there is one.
		ToolName   string
		ToolCallID string
	}
)

// Node kinds.
const (
	KindUserPrompt   NodeKind = "user-prompt"
	KindModelRequest NodeKind = "model-request"
	KindCallTools    NodeKind = "call-tools"
	KindEnd          NodeKind = "end"
)

func (*UserPromptNode) Kind() NodeKind { return KindUserPrompt }
func (*EndNode) Kind() NodeKind        { return KindEnd }
