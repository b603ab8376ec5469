package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/run"
)

type phase int

const (
	phasePrompt phase = iota
	phaseRequest
	phaseTools
	phaseEnd
	phaseDone
)

// loopRun is the run.Run of an Agent.
type loopRun struct {
	agent  *Agent
	ctx    context.Context
	cancel context.CancelFunc
	input  run.Input

	mu      sync.Mutex
	phase   phase
	steps   int
	history []*model.Message
	created []*model.Message
	// current is the stream node returned by the last call to Next.
	current streamStep
	// response is the last model response and calls its tool calls.
	response *model.Message
	calls    []model.ToolCall
	final    *run.FinalResult
	retries  map[string]int
	closed   bool
}

// streamStep is implemented by the model-request and call-tools nodes.
type streamStep interface {
	run.StreamNode
	opened() bool
	finished() bool
}

var errRunClosed = errors.New("loop: run closed")

func (r *loopRun) Next(ctx context.Context) (run.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errRunClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.current != nil && !r.current.finished() {
		if r.current.opened() {
			return nil, fmt.Errorf("loop: %s node was closed before completion", r.current.Kind())
		}
		if err := drain(ctx, r.current); err != nil {
			return nil, err
		}
	}
	r.current = nil

	switch r.phase {
	case phasePrompt:
		r.append(model.NewUserMessage(r.input.Prompt))
		r.phase = phaseRequest
		return &run.UserPromptNode{Prompt: r.input.Prompt}, nil
	case phaseRequest:
		if r.steps >= r.agent.maxSteps {
			return nil, fmt.Errorf("%w (%d)", ErrMaxSteps, r.agent.maxSteps)
		}
		r.steps++
		r.phase = phaseTools
		r.current = &requestNode{r: r}
		return r.current, nil
	case phaseTools:
		r.phase = phaseRequest
		r.current = &toolsNode{r: r}
		return r.current, nil
	case phaseEnd:
		r.phase = phaseDone
		return &run.EndNode{Result: *r.final}, nil
	default:
		return nil, io.EOF
	}
}

func (r *loopRun) NewMessages() []*model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Message(nil), r.created...)
}

func (r *loopRun) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cancel()
	return nil
}

func (r *loopRun) append(m *model.Message) {
	r.history = append(r.history, m)
	r.created = append(r.created, m)
}

// drain executes a node its caller did not consume.
func drain(ctx context.Context, n run.StreamNode) error {
	events, err := n.Stream(ctx)
	if err != nil {
		return err
	}
	defer events.Close()
	for {
		if _, err := events.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
