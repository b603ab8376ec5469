// Package runtest provides a scripted run.Agent for tests and demos.
package runtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/run"
)

type (
	// Step is one scripted lifecycle node.
	Step struct {
		// Kind is the node kind.
		Kind run.NodeKind
		// Prompt overrides the run prompt for user-prompt nodes.
		Prompt string
		// Events are yielded by model-request and call-tools streams.
		Events []run.Event
		// Err, if set, is returned by Recv after Events are exhausted
		// (stream nodes) or by Next instead of the node (other kinds).
		Err error
		// Result is carried by end nodes.
		Result run.FinalResult
	}

	// Agent replays Steps for every run it starts.
	Agent struct {
		// Steps is the node script.
		Steps []Step
		// Messages is returned by NewMessages once the script completes.
		Messages []*model.Message
		// StartErr, if set, is returned by Start.
		StartErr error

		mu   sync.Mutex
		runs []*Run
	}

	// Run is a scripted run. Its fields record how it was driven.
	Run struct {
		Input run.Input

		agent   *Agent
		pos     int
		done    bool
		closed  bool
		opened  int
		release int
		mu      sync.Mutex
	}

	streamNode struct {
		step Step
		run  *Run
	}

	events struct {
		step   Step
		pos    int
		run    *Run
		closed bool
	}
)

// ErrClosed is returned when a closed run is driven.
var ErrClosed = errors.New("runtest: run closed")

// UserPrompt returns a user-prompt step.
func UserPrompt() Step { return Step{Kind: run.KindUserPrompt} }

// ModelRequest returns a model-request step yielding evs.
func ModelRequest(evs ...run.Event) Step { return Step{Kind: run.KindModelRequest, Events: evs} }

// CallTools returns a call-tools step yielding evs.
func CallTools(evs ...run.Event) Step { return Step{Kind: run.KindCallTools, Events: evs} }

// End returns an end step carrying output.
func End(output any) Step {
	return Step{Kind: run.KindEnd, Result: run.FinalResult{Output: output}}
}

// EndWithTool returns an end step whose output was produced by an output tool.
func EndWithTool(output any, toolName, toolCallID string) Step {
	return Step{Kind: run.KindEnd, Result: run.FinalResult{Output: output, ToolName: toolName, ToolCallID: toolCallID}}
}

// Fail returns s with its error set to err.
func (s Step) Fail(err error) Step {
	s.Err = err
	return s
}

// Start implements run.Agent.
func (a *Agent) Start(_ context.Context, in run.Input) (run.Run, error) {
	if a.StartErr != nil {
		return nil, a.StartErr
	}
	r := &Run{Input: in, agent: a}
	a.mu.Lock()
	a.runs = append(a.runs, r)
	a.mu.Unlock()
	return r, nil
}

// Runs returns the runs started so far.
func (a *Agent) Runs() []*Run {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Run(nil), a.runs...)
}

// Next implements run.Run.
func (r *Run) Next(ctx context.Context) (run.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.pos >= len(r.agent.Steps) {
		r.done = true
		return nil, io.EOF
	}
	step := r.agent.Steps[r.pos]
	r.pos++
	switch step.Kind {
	case run.KindModelRequest, run.KindCallTools:
		return &streamNode{step: step, run: r}, nil
	}
	if step.Err != nil {
		return nil, step.Err
	}
	switch step.Kind {
	case run.KindUserPrompt:
		prompt := step.Prompt
		if prompt == "" {
			prompt = r.Input.Prompt
		}
		return &run.UserPromptNode{Prompt: prompt}, nil
	default:
		return &run.EndNode{Result: step.Result}, nil
	}
}

// NewMessages implements run.Run.
func (r *Run) NewMessages() []*model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return nil
	}
	return r.agent.Messages
}

// Close implements run.Run.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Run) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Completed reports whether the whole script was consumed.
func (r *Run) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// OpenStreams returns the number of node streams opened and not closed.
func (r *Run) OpenStreams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened - r.release
}

func (n *streamNode) Kind() run.NodeKind { return n.step.Kind }

func (n *streamNode) Stream(ctx context.Context) (run.Events, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.run.mu.Lock()
	n.run.opened++
	n.run.mu.Unlock()
	return &events{step: n.step, run: n.run}, nil
}

func (e *events) Recv() (run.Event, error) {
	if e.pos < len(e.step.Events) {
		ev := e.step.Events[e.pos]
		e.pos++
		return ev, nil
	}
	if e.step.Err != nil {
		return nil, e.step.Err
	}
	return nil, io.EOF
}

func (e *events) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.run.mu.Lock()
	e.run.release++
	e.run.mu.Unlock()
	return nil
}
