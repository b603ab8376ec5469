package stream

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/codes"

	"goa.design/chatui/runtime/agent/run"
	"goa.design/chatui/runtime/agent/telemetry"
	"goa.design/chatui/runtime/chatui/parts"
	"goa.design/chatui/runtime/chatui/toolmsg"
)

type (
	// state is the per-call translation state.
	state struct {
		t     *Translator
		span  telemetry.Span
		yield func(parts.Part) bool

		// messageID identifies the current assistant turn.
		messageID string
		// open is set between TextStart and TextEnd.
		open bool
		// streamed is set once a TextDelta was emitted in the open span.
		streamed bool
		// closed is set once a span of messageID was ended. Opening another
		// span starts a new turn with a new id.
		closed bool
		// active holds the pending tool calls.
		active *toolSet
	}

	// toolSet maps pending tool call ids to tool names, remembering
	// insertion order.
	toolSet struct {
		names map[string]string
		order []string
	}
)

func newToolSet() *toolSet {
	return &toolSet{names: make(map[string]string)}
}

func (ts *toolSet) add(id, name string) {
	if _, ok := ts.names[id]; ok {
		return
	}
	ts.names[id] = name
	ts.order = append(ts.order, id)
}

func (ts *toolSet) remove(id string) {
	if _, ok := ts.names[id]; !ok {
		return
	}
	delete(ts.names, id)
	for i, o := range ts.order {
		if o == id {
			ts.order = append(ts.order[:i], ts.order[i+1:]...)
			return
		}
	}
}

func (ts *toolSet) len() int { return len(ts.names) }

// drain removes and returns every pending call in insertion order.
func (ts *toolSet) drain() [][2]string {
	out := make([][2]string, 0, len(ts.order))
	for _, id := range ts.order {
		out = append(out, [2]string{id, ts.names[id]})
	}
	ts.names = make(map[string]string)
	ts.order = nil
	return out
}

func (s *state) emit(p parts.Part) error {
	s.t.metrics.IncCounter("chatui.stream.frames", 1, "type", string(p.PartType()))
	if !s.yield(p) {
		return errStopped
	}
	return nil
}

func (s *state) openText(context.Context) error {
	if s.open {
		return nil
	}
	if s.closed {
		s.messageID = s.t.newID()
		s.closed = false
	}
	s.open = true
	return s.emit(parts.TextStart{ID: s.messageID})
}

func (s *state) delta(_ context.Context, text string) error {
	s.streamed = true
	return s.emit(parts.TextDelta{ID: s.messageID, Delta: text})
}

func (s *state) closeText(ctx context.Context) error {
	if n := s.active.len(); n > 0 {
		s.t.logger.Warn(ctx, "turn ended with pending tool calls", "count", n)
		s.active.drain()
	}
	s.open = false
	s.streamed = false
	s.closed = true
	return s.emit(parts.TextEnd{ID: s.messageID})
}

func (s *state) pending(_ context.Context, id, name string) error {
	if _, ok := s.active.names[id]; ok {
		return nil
	}
	title, err := s.t.title(name, parts.StatusPending)
	if err != nil {
		return err
	}
	s.active.add(id, name)
	s.span.AddEvent("tool.pending", "tool_call_id", id, "tool", name)
	return s.emit(toolEvent(id, title, parts.StatusPending))
}

// success settles the tool call id. The title is resolved before the call
// leaves the pending set so a resolution failure still reports it as failed.
func (s *state) success(_ context.Context, id, name string) error {
	if name == "" {
		name = s.active.names[id]
	}
	title, err := s.t.title(name, parts.StatusSuccess)
	if err != nil {
		return err
	}
	s.active.remove(id)
	s.span.AddEvent("tool.success", "tool_call_id", id, "tool", name)
	return s.emit(toolEvent(id, title, parts.StatusSuccess))
}

func toolEvent(id, title string, status parts.Status) parts.Part {
	return parts.DataEvent{ID: id, Data: parts.ChatEvent{Title: title, Status: status}}
}

// end handles the end node: it settles the output tool call, makes sure a
// text span is open, emits the final output and closes the span.
func (s *state) end(ctx context.Context, res run.FinalResult) error {
	if _, ok := s.active.names[res.ToolCallID]; ok && res.ToolCallID != "" {
		if err := s.success(ctx, res.ToolCallID, res.ToolName); err != nil {
			return err
		}
	}
	if !s.open {
		if err := s.openText(ctx); err != nil {
			return err
		}
	}
	if err := s.output(ctx, res); err != nil {
		return err
	}
	return s.closeText(ctx)
}

func (s *state) output(ctx context.Context, res run.FinalResult) error {
	switch out := res.Output.(type) {
	case string:
		if s.streamed {
			return nil
		}
		return s.delta(ctx, strings.TrimLeftFunc(out, unicode.IsSpace))
	case parts.CodeArtifactData:
		return s.artifact(res.ToolCallID, parts.NewCodeArtifact(out, s.t.now()))
	case *parts.CodeArtifactData:
		if out == nil {
			return nil
		}
		return s.artifact(res.ToolCallID, parts.NewCodeArtifact(*out, s.t.now()))
	case parts.DocumentArtifactData:
		return s.artifact(res.ToolCallID, parts.NewDocumentArtifact(out, s.t.now()))
	case *parts.DocumentArtifactData:
		if out == nil {
			return nil
		}
		return s.artifact(res.ToolCallID, parts.NewDocumentArtifact(*out, s.t.now()))
	case parts.Artifact:
		if out.CreatedAt == 0 {
			out.CreatedAt = s.t.now().UnixMilli()
		}
		return s.artifact(res.ToolCallID, out)
	case nil:
		return nil
	default:
		s.t.logger.Debug(ctx, "final output has no wire representation", "output", fmt.Sprintf("%T", out))
		return nil
	}
}

func (s *state) artifact(id string, a parts.Artifact) error {
	if id == "" {
		id = s.t.newID()
	}
	return s.emit(parts.DataArtifact{ID: id, Data: a})
}

// fail emits an error event for every pending tool call followed by a single
// error part. It returns errStopped if the consumer stops, nil otherwise.
func (s *state) fail(ctx context.Context, cause error) error {
	s.t.logger.Error(ctx, "agent run failed", "err", cause, "message_id", s.messageID, "pending_tools", s.active.len())
	s.t.metrics.IncCounter("chatui.stream.failures", 1)
	s.span.RecordError(cause)
	s.span.SetStatus(codes.Error, cause.Error())
	for _, call := range s.active.drain() {
		id, name := call[0], call[1]
		title, err := s.t.title(name, parts.StatusError)
		if err != nil {
			s.t.logger.Warn(ctx, "falling back to default tool title", "tool", name, "err", err)
			title, _ = toolmsg.Default(name, parts.StatusError)
		}
		if err := s.emit(toolEvent(id, title, parts.StatusError)); err != nil {
			return err
		}
	}
	return s.emit(parts.Error{ErrorText: cause.Error()})
}
