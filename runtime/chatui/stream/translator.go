// Package stream translates an agent run into the ordered sequence of wire
// parts consumed by the chat UI.
//
// The translator drives the run node by node, opening the event stream of
// each model-request and call-tools node, and maps every event to zero or more
// parts: text spans (start, deltas, end), tool call status events (pending,
// success, error) and artifacts. A run failure is turned into error events
// for every tool still pending followed by a single error part, so the UI
// always receives a terminated sequence.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/google/uuid"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/run"
	"goa.design/chatui/runtime/agent/telemetry"
	"goa.design/chatui/runtime/chatui/messages"
	"goa.design/chatui/runtime/chatui/parts"
	"goa.design/chatui/runtime/chatui/toolmsg"
)

type (
	// Options configures a Translator.
	Options struct {
		// Agent starts the runs being translated. Required.
		Agent run.Agent
		// ToolMessages overrides the tool status titles. Optional.
		ToolMessages toolmsg.Messages
		// StoreHistory, if set, is called once per new history message, in
		// order, after a run completes normally.
		StoreHistory func(ctx context.Context, msg *model.Message) error
		// Logger, Metrics and Tracer default to no-op implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// NewID generates message identifiers. Defaults to UUIDs.
		NewID func() string
		// Now returns the artifact creation time. Defaults to time.Now.
		Now func() time.Time
	}

	// Translator turns agent runs into wire parts. A Translator is safe for
	// concurrent use; each call owns its own state.
	Translator struct {
		agent   run.Agent
		title   func(tool string, status parts.Status) (string, error)
		store   func(context.Context, *model.Message) error
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		newID   func() string
		now     func() time.Time
	}

	// Request is one user turn.
	Request struct {
		// Message is the user message. Its text parts form the prompt.
		Message messages.UIMessage
		// Deps is handed to the agent tools.
		Deps any
		// History is the prior conversation.
		History []*model.Message
	}
)

// ErrNotUserMessage is returned when the request message is not authored by
// the user.
var ErrNotUserMessage = errors.New("stream: request message is not a user message")

// errStopped unwinds the translation when the consumer stops pulling parts.
var errStopped = errors.New("stream: consumer stopped")

// New returns a Translator. It fails if opts.Agent is nil or if
// opts.ToolMessages contains an unsupported override.
func New(opts Options) (*Translator, error) {
	if opts.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if err := opts.ToolMessages.Validate(); err != nil {
		return nil, err
	}
	t := &Translator{
		agent:   opts.Agent,
		title:   opts.ToolMessages.Resolver(),
		store:   opts.StoreHistory,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		newID:   opts.NewID,
		now:     opts.Now,
	}
	if t.logger == nil {
		t.logger = telemetry.NewNoopLogger()
	}
	if t.metrics == nil {
		t.metrics = telemetry.NewNoopMetrics()
	}
	if t.tracer == nil {
		t.tracer = telemetry.NewNoopTracer()
	}
	if t.newID == nil {
		t.newID = uuid.NewString
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

// Parts runs the agent for req and yields the resulting wire parts. The
// sequence can be consumed once. Breaking out of the loop cancels the run.
//
// A run failure does not surface as an error: it ends the sequence with an
// error part. Errors are only yielded (with a nil part, as the last element)
// when the request is not a user message or when storing the history fails.
func (t *Translator) Parts(ctx context.Context, req Request) iter.Seq2[parts.Part, error] {
	return func(yield func(parts.Part, error) bool) {
		emit := func(p parts.Part) bool { return yield(p, nil) }
		if err := t.translate(ctx, req, emit); err != nil && !errors.Is(err, errStopped) {
			yield(nil, err)
		}
	}
}

// Frames is Parts with each part encoded as a server-sent-event frame.
func (t *Translator) Frames(ctx context.Context, req Request) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for p, err := range t.Parts(ctx, req) {
			if err != nil {
				yield(nil, err)
				return
			}
			frame, err := parts.Frame(p)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}

// Pump translates req and sends every part to sink. It returns the first sink
// error, which also cancels the run. Pump does not close sink.
func (t *Translator) Pump(ctx context.Context, req Request, sink Sink) error {
	for p, err := range t.Parts(ctx, req) {
		if err != nil {
			return err
		}
		if err := sink.Send(ctx, p); err != nil {
			return fmt.Errorf("send %s part: %w", p.PartType(), err)
		}
	}
	return nil
}

func (t *Translator) translate(ctx context.Context, req Request, yield func(parts.Part) bool) error {
	prompt, ok := messages.ToPromptContent(req.Message)
	if !ok {
		return ErrNotUserMessage
	}
	ctx, span := t.tracer.Start(ctx, "chatui.stream")
	defer span.End()
	start := time.Now()
	defer func() { t.metrics.RecordTimer("chatui.stream.duration", time.Since(start)) }()

	s := &state{t: t, span: span, yield: yield, active: newToolSet()}
	s.messageID = t.newID()

	r, err := t.agent.Start(ctx, run.Input{Prompt: prompt, Deps: req.Deps, History: req.History})
	if err != nil {
		return s.fail(ctx, fmt.Errorf("start run: %w", err))
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			t.logger.Warn(ctx, "close agent run", "err", cerr)
		}
	}()

	if err := s.drive(ctx, r); err != nil {
		if errors.Is(err, errStopped) {
			t.logger.Debug(ctx, "consumer stopped reading parts", "message_id", s.messageID)
			return err
		}
		return s.fail(ctx, err)
	}

	if t.store == nil {
		return nil
	}
	for i, msg := range r.NewMessages() {
		if err := t.store(ctx, msg); err != nil {
			span.RecordError(err)
			return fmt.Errorf("store history message %d: %w", i, err)
		}
	}
	return nil
}

// drive consumes every node of r.
func (s *state) drive(ctx context.Context, r run.Run) error {
	for {
		node, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch node.Kind() {
		case run.KindUserPrompt:
		case run.KindModelRequest, run.KindCallTools:
			sn, ok := node.(run.StreamNode)
			if !ok {
				return fmt.Errorf("%s node %T has no event stream", node.Kind(), node)
			}
			if err := s.consume(ctx, sn); err != nil {
				return err
			}
		case run.KindEnd:
			end, ok := node.(*run.EndNode)
			if !ok {
				return fmt.Errorf("unexpected end node %T", node)
			}
			if err := s.end(ctx, end.Result); err != nil {
				return err
			}
		default:
			s.t.logger.Debug(ctx, "ignoring unknown node", "kind", string(node.Kind()))
		}
	}
	if s.open {
		return s.closeText(ctx)
	}
	return nil
}

// consume opens the node stream and handles its events. The stream is closed
// on every exit path.
func (s *state) consume(ctx context.Context, node run.StreamNode) (err error) {
	events, err := node.Stream(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := events.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for {
		ev, err := events.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.handle(ctx, ev); err != nil {
			return err
		}
	}
}

func (s *state) handle(ctx context.Context, ev run.Event) error {
	switch e := ev.(type) {
	case run.TextStartEvent:
		if err := s.openText(ctx); err != nil {
			return err
		}
		if e.Content != "" {
			return s.delta(ctx, e.Content)
		}
	case run.TextDeltaEvent:
		if !s.open {
			if err := s.openText(ctx); err != nil {
				return err
			}
		}
		if e.Delta != "" {
			return s.delta(ctx, e.Delta)
		}
	case run.ToolCallStartEvent:
		return s.pending(ctx, e.ToolCallID, e.ToolName)
	case run.ToolCallEvent:
		return s.pending(ctx, e.ToolCallID, e.ToolName)
	case run.ToolResultEvent:
		return s.success(ctx, e.ToolCallID, e.ToolName)
	case run.ToolCallDeltaEvent, run.FinalResultEvent:
	default:
		s.t.logger.Debug(ctx, "ignoring unknown event", "event", fmt.Sprintf("%T", ev))
	}
	return nil
}
