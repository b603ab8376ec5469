package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/run"
	"goa.design/chatui/runtime/agent/toolerrors"
	"goa.design/chatui/runtime/agent/tools"
)

// finalResultProcessed is returned to the model for an accepted output call.
const finalResultProcessed = "Final result processed."

type (
	// toolsNode executes the tool calls of the last model response.
	toolsNode struct {
		r    *loopRun
		open bool
		done bool
	}

	// toolEvents executes one function tool per pair of events: the call
	// event is returned first, the handler runs on the following Recv.
	toolEvents struct {
		ctx     context.Context
		node    *toolsNode
		pending []model.ToolCall
		running *model.ToolCall
		results []model.Part
		err     error
	}
)

func toolIdent(name string) tools.Ident { return tools.Ident(name) }

func (n *toolsNode) Kind() run.NodeKind { return run.KindCallTools }
func (n *toolsNode) opened() bool       { return n.open }
func (n *toolsNode) finished() bool     { return n.done }

func (n *toolsNode) Stream(ctx context.Context) (run.Events, error) {
	if n.open {
		return nil, errors.New("loop: tool calls already streamed")
	}
	n.open = true
	r := n.r
	var function []model.ToolCall
	for _, c := range r.calls {
		if r.agent.output == nil || c.Name.String() != r.agent.output.Name {
			function = append(function, c)
		}
	}
	return &toolEvents{ctx: ctx, node: n, pending: function}, nil
}

func (e *toolEvents) Recv() (run.Event, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.running != nil {
		call := *e.running
		e.running = nil
		ev, err := e.execute(call)
		if err != nil {
			e.err = err
			return nil, err
		}
		return ev, nil
	}
	if len(e.pending) > 0 {
		call := e.pending[0]
		e.pending = e.pending[1:]
		e.running = &call
		return run.ToolCallEvent{ToolCallID: call.ID, ToolName: call.Name.String(), Args: call.Payload}, nil
	}
	if !e.node.done {
		if err := e.finish(); err != nil {
			e.err = err
			return nil, err
		}
	}
	return nil, io.EOF
}

func (e *toolEvents) Close() error { return nil }

// execute runs one function tool.
func (e *toolEvents) execute(call model.ToolCall) (run.Event, error) {
	r := e.node.r
	name := call.Name.String()
	tool, ok := r.agent.tools[name]
	if !ok {
		if err := e.retry(call, fmt.Sprintf("Unknown tool name: %q", name)); err != nil {
			return nil, err
		}
		return run.ToolResultEvent{ToolCallID: call.ID, ToolName: name, Retry: true}, nil
	}
	start := time.Now()
	result, err := tool.Handler(e.ctx, r.input.Deps, call.Payload)
	r.agent.logger.Debug(e.ctx, "tool executed", "tool", name, "tool_call_id", call.ID, "duration", time.Since(start).String(), "failed", err != nil)
	if msg, isRetry := toolerrors.RetryMessage(err); isRetry {
		if err := e.retry(call, msg); err != nil {
			return nil, err
		}
		return run.ToolResultEvent{ToolCallID: call.ID, ToolName: name, Result: msg, Retry: true}, nil
	}
	if err != nil {
		return nil, toolerrors.Wrap(name, err)
	}
	e.results = append(e.results, model.ToolResultPart{ToolUseID: call.ID, Name: name, Content: result})
	return run.ToolResultEvent{ToolCallID: call.ID, ToolName: name, Result: result}, nil
}

// retry records a retry prompt for call, failing once the tool exhausted its
// retry budget.
func (e *toolEvents) retry(call model.ToolCall, msg string) error {
	r := e.node.r
	name := call.Name.String()
	r.retries[name]++
	if r.retries[name] > r.agent.maxRetries {
		return fmt.Errorf("tool %q exceeded max retries count of %d", name, r.agent.maxRetries)
	}
	e.results = append(e.results, model.RetryPart{ToolUseID: call.ID, ToolName: name, Content: msg})
	return nil
}

// finish processes the output call, if any, records the tool results and
// decides whether the run ends.
func (e *toolEvents) finish() error {
	n := e.node
	r := n.r
	var final *run.FinalResult
	if out := r.agent.output; out != nil {
		for _, c := range r.calls {
			if c.Name.String() != out.Name {
				continue
			}
			value, err := out.Decode(c.Payload)
			if err != nil {
				if rerr := e.retry(c, err.Error()); rerr != nil {
					return rerr
				}
				continue
			}
			e.results = append(e.results, model.ToolResultPart{ToolUseID: c.ID, Name: out.Name, Content: finalResultProcessed})
			final = &run.FinalResult{Output: value, ToolName: out.Name, ToolCallID: c.ID}
			break
		}
	}
	if final == nil && len(r.calls) == 0 {
		final = &run.FinalResult{Output: r.response.Text()}
	}
	if len(e.results) > 0 {
		r.append(&model.Message{Role: model.RoleUser, Parts: e.results, Timestamp: time.Now().UTC()})
	}
	if final != nil {
		r.final = final
		r.phase = phaseEnd
	}
	n.done = true
	return nil
}
