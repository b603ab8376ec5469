package loop

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/run"
)

type (
	// requestNode sends the history to the model.
	requestNode struct {
		r    *loopRun
		open bool
		done bool
	}

	// responseBuilder accumulates a model response and the events it
	// produces.
	responseBuilder struct {
		node    *requestNode
		text    strings.Builder
		started bool
		parts   int
		calls   []*callBuilder
		byID    map[string]*callBuilder
		usage   model.TokenUsage
		queue   []run.Event
	}

	callBuilder struct {
		id    string
		name  string
		args  strings.Builder
		final json.RawMessage
	}

	// streamEvents maps streamed chunks to run events.
	streamEvents struct {
		b        *responseBuilder
		streamer model.Streamer
		eof      bool
	}

	// queuedEvents replays events computed from a complete response.
	queuedEvents struct {
		queue []run.Event
	}
)

func (n *requestNode) Kind() run.NodeKind { return run.KindModelRequest }
func (n *requestNode) opened() bool       { return n.open }
func (n *requestNode) finished() bool     { return n.done }

// Stream sends the request, streaming when the client supports it.
func (n *requestNode) Stream(ctx context.Context) (run.Events, error) {
	if n.open {
		return nil, errors.New("loop: model request already streamed")
	}
	n.open = true
	a := n.r.agent
	req := a.request(n.r.history)
	b := &responseBuilder{node: n, byID: make(map[string]*callBuilder)}

	streamer, err := a.client.Stream(ctx, req)
	if err == nil {
		return &streamEvents{b: b, streamer: streamer}, nil
	}
	if !errors.Is(err, model.ErrStreamingUnsupported) {
		return nil, err
	}
	a.logger.Debug(ctx, "model does not stream, falling back to complete", "model", a.model)
	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	// Text is not evented here: the final output carries it.
	for _, m := range resp.Content {
		b.text.WriteString(m.Text())
	}
	for _, call := range resp.ToolCalls {
		b.call(call.ID, call.Name.String()).final = call.Payload
	}
	b.usage = resp.Usage
	b.finish()
	return &queuedEvents{queue: b.queue}, nil
}

func (e *streamEvents) Recv() (run.Event, error) {
	for len(e.b.queue) == 0 {
		if e.eof {
			return nil, io.EOF
		}
		chunk, err := e.streamer.Recv()
		if errors.Is(err, io.EOF) {
			e.eof = true
			e.b.finish()
			continue
		}
		if err != nil {
			return nil, err
		}
		e.b.chunk(chunk)
	}
	ev := e.b.queue[0]
	e.b.queue = e.b.queue[1:]
	return ev, nil
}

func (e *streamEvents) Close() error {
	return e.streamer.Close()
}

func (e *queuedEvents) Recv() (run.Event, error) {
	if len(e.queue) == 0 {
		return nil, io.EOF
	}
	ev := e.queue[0]
	e.queue = e.queue[1:]
	return ev, nil
}

func (e *queuedEvents) Close() error { return nil }

func (b *responseBuilder) chunk(c model.Chunk) {
	switch c.Type {
	case model.ChunkTypeText:
		if c.Text == "" {
			return
		}
		if !b.started {
			b.started = true
			b.queue = append(b.queue, run.TextStartEvent{Index: b.nextIndex()})
		}
		b.text.WriteString(c.Text)
		b.queue = append(b.queue, run.TextDeltaEvent{Delta: c.Text})
	case model.ChunkTypeToolCallDelta:
		if d := c.ToolCallDelta; d != nil {
			cb := b.call(d.ID, d.Name.String())
			cb.args.WriteString(d.Delta)
			b.queue = append(b.queue, run.ToolCallDeltaEvent{ToolCallID: cb.id, ArgsDelta: d.Delta})
		}
	case model.ChunkTypeToolCall:
		if tc := c.ToolCall; tc != nil {
			b.call(tc.ID, tc.Name.String()).final = tc.Payload
		}
	case model.ChunkTypeUsage:
		if c.UsageDelta != nil {
			b.usage.Add(*c.UsageDelta)
		}
	}
}

// call returns the builder of tool call id, registering it (and queuing its
// start event) on first sight.
func (b *responseBuilder) call(id, name string) *callBuilder {
	if cb, ok := b.byID[id]; ok && id != "" {
		if cb.name == "" {
			cb.name = name
		}
		return cb
	}
	if id == "" {
		id = newToolCallID()
	}
	cb := &callBuilder{id: id, name: name}
	b.byID[id] = cb
	b.calls = append(b.calls, cb)
	b.queue = append(b.queue, run.ToolCallStartEvent{Index: b.nextIndex(), ToolCallID: id, ToolName: name})
	return cb
}

func (b *responseBuilder) nextIndex() int {
	i := b.parts
	b.parts++
	return i
}

// finish records the response in the run history.
func (b *responseBuilder) finish() {
	n := b.node
	r := n.r
	msg := &model.Message{Role: model.RoleAssistant, Timestamp: time.Now().UTC()}
	if b.text.Len() > 0 {
		msg.Parts = append(msg.Parts, model.TextPart{Text: b.text.String()})
	}
	calls := make([]model.ToolCall, 0, len(b.calls))
	outputCall := ""
	for _, cb := range b.calls {
		payload := cb.final
		if len(payload) == 0 {
			payload = json.RawMessage(cb.args.String())
		}
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		var input any
		if err := json.Unmarshal(payload, &input); err != nil {
			input = string(payload)
		}
		msg.Parts = append(msg.Parts, model.ToolUsePart{ID: cb.id, Name: cb.name, Input: input})
		calls = append(calls, model.ToolCall{ID: cb.id, Name: toolIdent(cb.name), Payload: payload})
		if r.agent.output != nil && cb.name == r.agent.output.Name && outputCall == "" {
			outputCall = cb.id
		}
	}
	if b.usage.TotalTokens > 0 {
		msg.Meta = map[string]any{"usage": b.usage}
	}
	r.append(msg)
	r.response = msg
	r.calls = calls
	switch {
	case outputCall != "":
		b.queue = append(b.queue, run.FinalResultEvent{ToolName: r.agent.output.Name, ToolCallID: outputCall})
	case len(calls) == 0:
		b.queue = append(b.queue, run.FinalResultEvent{})
	}
	n.done = true
}
