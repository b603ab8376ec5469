package loop

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/run"
	"goa.design/chatui/runtime/agent/toolerrors"
	"goa.design/chatui/runtime/chatui/parts"
)

// fakeClient replays scripted chunk sequences, one per request.
type fakeClient struct {
	turns     [][]model.Chunk
	noStream  bool
	requests  []model.Request
	streamErr error
	closed    int
}

type fakeStreamer struct {
	chunks []model.Chunk
	c      *fakeClient
}

func (c *fakeClient) next(req model.Request) []model.Chunk {
	c.requests = append(c.requests, req)
	if len(c.turns) == 0 {
		return []model.Chunk{{Type: model.ChunkTypeText, Text: "out of script"}}
	}
	t := c.turns[0]
	c.turns = c.turns[1:]
	return t
}

func (c *fakeClient) Stream(_ context.Context, req model.Request) (model.Streamer, error) {
	if c.noStream {
		return nil, model.ErrStreamingUnsupported
	}
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	return &fakeStreamer{chunks: c.next(req), c: c}, nil
}

func (c *fakeClient) Complete(_ context.Context, req model.Request) (model.Response, error) {
	var resp model.Response
	for _, ch := range c.next(req) {
		switch ch.Type {
		case model.ChunkTypeText:
			resp.Content = append(resp.Content, model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: ch.Text}}})
		case model.ChunkTypeToolCall:
			resp.ToolCalls = append(resp.ToolCalls, *ch.ToolCall)
		}
	}
	return resp, nil
}

func (s *fakeStreamer) Recv() (model.Chunk, error) {
	if len(s.chunks) == 0 {
		return model.Chunk{}, io.EOF
	}
	ch := s.chunks[0]
	s.chunks = s.chunks[1:]
	return ch, nil
}

func (s *fakeStreamer) Close() error             { s.c.closed++; return nil }
func (s *fakeStreamer) Metadata() map[string]any { return nil }

func text(s string) model.Chunk { return model.Chunk{Type: model.ChunkTypeText, Text: s} }

func toolCall(id, name, args string) model.Chunk {
	return model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: id, Name: toolIdent(name), Payload: json.RawMessage(args)}}
}

type step struct {
	kind   run.NodeKind
	events []run.Event
	result *run.FinalResult
}

// drive consumes a run and records every node and event.
func drive(t *testing.T, r run.Run) ([]step, error) {
	t.Helper()
	ctx := context.Background()
	var steps []step
	for {
		node, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return steps, nil
		}
		if err != nil {
			return steps, err
		}
		st := step{kind: node.Kind()}
		if end, ok := node.(*run.EndNode); ok {
			res := end.Result
			st.result = &res
		}
		if sn, ok := node.(run.StreamNode); ok {
			events, err := sn.Stream(ctx)
			if err != nil {
				return steps, err
			}
			for {
				ev, err := events.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					require.NoError(t, events.Close())
					steps = append(steps, st)
					return steps, err
				}
				st.events = append(st.events, ev)
			}
			require.NoError(t, events.Close())
		}
		steps = append(steps, st)
	}
}

func kinds(steps []step) []run.NodeKind {
	out := make([]run.NodeKind, len(steps))
	for i, s := range steps {
		out[i] = s.kind
	}
	return out
}

func weatherTool(calls *int) Tool {
	return Tool{
		Name:        "weather",
		Description: "Current weather",
		Schema:      map[string]any{"type": "object"},
		Handler: func(_ context.Context, deps any, args json.RawMessage) (any, error) {
			*calls++
			var in struct{ City string }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			if in.City == "" {
				return nil, toolerrors.Retry("city is required")
			}
			return map[string]any{"city": in.City, "sky": deps}, nil
		},
	}
}

func TestTextOnlyRun(t *testing.T) {
	client := &fakeClient{turns: [][]model.Chunk{{text("Hel"), text("lo")}}}
	agent, err := New(Options{Client: client, Model: "m", System: "be nice"})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "hi", History: []*model.Message{model.NewUserMessage("earlier")}})
	require.NoError(t, err)
	defer r.Close()

	steps, err := drive(t, r)
	require.NoError(t, err)
	require.Equal(t, []run.NodeKind{run.KindUserPrompt, run.KindModelRequest, run.KindCallTools, run.KindEnd}, kinds(steps))
	require.Equal(t, []run.Event{
		run.TextStartEvent{Index: 0},
		run.TextDeltaEvent{Delta: "Hel"},
		run.TextDeltaEvent{Delta: "lo"},
		run.FinalResultEvent{},
	}, steps[1].events)
	require.Equal(t, &run.FinalResult{Output: "Hello"}, steps[3].result)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	require.Equal(t, "be nice", req.System)
	require.Len(t, req.Messages, 2)
	require.Equal(t, 1, client.closed)

	created := r.NewMessages()
	require.Len(t, created, 2)
	require.Equal(t, model.RoleUser, created[0].Role)
	require.Equal(t, "Hello", created[1].Text())
}

func TestToolRun(t *testing.T) {
	client := &fakeClient{turns: [][]model.Chunk{
		{
			{Type: model.ChunkTypeToolCallDelta, ToolCallDelta: &model.ToolCallDelta{ID: "tc1", Name: "weather", Delta: `{"City":`}},
			{Type: model.ChunkTypeToolCallDelta, ToolCallDelta: &model.ToolCallDelta{ID: "tc1", Delta: `"Paris"}`}},
		},
		{text("Sunny in Paris")},
	}}
	calls := 0
	agent, err := New(Options{Client: client, Tools: []Tool{weatherTool(&calls)}})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "weather?", Deps: "clear"})
	require.NoError(t, err)
	defer r.Close()

	steps, err := drive(t, r)
	require.NoError(t, err)
	require.Equal(t, []run.NodeKind{
		run.KindUserPrompt, run.KindModelRequest, run.KindCallTools,
		run.KindModelRequest, run.KindCallTools, run.KindEnd,
	}, kinds(steps))
	require.Equal(t, []run.Event{
		run.ToolCallStartEvent{Index: 0, ToolCallID: "tc1", ToolName: "weather"},
		run.ToolCallDeltaEvent{ToolCallID: "tc1", ArgsDelta: `{"City":`},
		run.ToolCallDeltaEvent{ToolCallID: "tc1", ArgsDelta: `"Paris"}`},
	}, steps[1].events)
	require.Equal(t, []run.Event{
		run.ToolCallEvent{ToolCallID: "tc1", ToolName: "weather", Args: json.RawMessage(`{"City":"Paris"}`)},
		run.ToolResultEvent{ToolCallID: "tc1", ToolName: "weather", Result: map[string]any{"city": "Paris", "sky": "clear"}},
	}, steps[2].events)
	require.Equal(t, "Sunny in Paris", steps[5].result.Output)
	require.Equal(t, 1, calls)

	created := r.NewMessages()
	require.Len(t, created, 4)
	require.Equal(t, []model.Part{model.ToolUsePart{ID: "tc1", Name: "weather", Input: map[string]any{"City": "Paris"}}}, created[1].Parts)
	require.Equal(t, []model.Part{model.ToolResultPart{ToolUseID: "tc1", Name: "weather", Content: map[string]any{"city": "Paris", "sky": "clear"}}}, created[2].Parts)
}

func TestToolRetryThenFailure(t *testing.T) {
	client := &fakeClient{turns: [][]model.Chunk{
		{toolCall("tc1", "weather", `{}`)},
		{toolCall("tc2", "weather", `{}`)},
		{toolCall("tc3", "weather", `{}`)},
	}}
	calls := 0
	agent, err := New(Options{Client: client, Tools: []Tool{weatherTool(&calls)}, MaxRetries: 2})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "weather?"})
	require.NoError(t, err)
	defer r.Close()

	steps, err := drive(t, r)
	require.EqualError(t, err, `tool "weather" exceeded max retries count of 2`)
	require.Equal(t, 3, calls)
	require.Equal(t, run.ToolResultEvent{ToolCallID: "tc1", ToolName: "weather", Result: "city is required", Retry: true}, steps[2].events[1])

	created := r.NewMessages()
	require.Equal(t, []model.Part{model.RetryPart{ToolUseID: "tc1", ToolName: "weather", Content: "city is required"}}, created[2].Parts)
}

func TestToolErrorAbortsRun(t *testing.T) {
	client := &fakeClient{turns: [][]model.Chunk{{toolCall("tc1", "broken", `{}`)}}}
	agent, err := New(Options{Client: client, Tools: []Tool{{
		Name:    "broken",
		Handler: func(context.Context, any, json.RawMessage) (any, error) { return nil, errors.New("backend down") },
	}}})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "go"})
	require.NoError(t, err)
	defer r.Close()

	_, err = drive(t, r)
	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "broken", te.Tool)
	require.EqualError(t, err, "backend down")
}

func TestOutputToolRun(t *testing.T) {
	client := &fakeClient{noStream: true, turns: [][]model.Chunk{
		{toolCall("out1", "final_result", `{"file_name":"a.go","code":"package a","language":"go"}`)},
	}}
	agent, err := New(Options{
		Client: client,
		Output: NewOutputTool[parts.CodeArtifactData]("final_result", "Return code", map[string]any{"type": "object"}),
	})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "code"})
	require.NoError(t, err)
	defer r.Close()

	steps, err := drive(t, r)
	require.NoError(t, err)
	require.Equal(t, []run.NodeKind{run.KindUserPrompt, run.KindModelRequest, run.KindCallTools, run.KindEnd}, kinds(steps))
	require.Equal(t, []run.Event{
		run.ToolCallStartEvent{Index: 0, ToolCallID: "out1", ToolName: "final_result"},
		run.FinalResultEvent{ToolName: "final_result", ToolCallID: "out1"},
	}, steps[1].events)
	require.Empty(t, steps[2].events)
	require.Equal(t, &run.FinalResult{
		Output:     parts.CodeArtifactData{FileName: "a.go", Code: "package a", Language: "go"},
		ToolName:   "final_result",
		ToolCallID: "out1",
	}, steps[3].result)
	require.Len(t, client.requests[0].Tools, 1)
}

func TestInvalidOutputIsRetried(t *testing.T) {
	client := &fakeClient{noStream: true, turns: [][]model.Chunk{
		{toolCall("out1", "final_result", `{"code": 3}`)},
		{text("I give up")},
	}}
	agent, err := New(Options{Client: client, Output: NewOutputTool[parts.CodeArtifactData]("final_result", "", nil)})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "code"})
	require.NoError(t, err)
	defer r.Close()

	steps, err := drive(t, r)
	require.NoError(t, err)
	require.Equal(t, "I give up", steps[len(steps)-1].result.Output)
	retry, ok := r.NewMessages()[2].Parts[0].(model.RetryPart)
	require.True(t, ok)
	require.Equal(t, "final_result", retry.ToolName)
}

func TestUnknownToolIsRetried(t *testing.T) {
	client := &fakeClient{turns: [][]model.Chunk{{toolCall("tc1", "ghost", `{}`)}, {text("ok")}}}
	agent, err := New(Options{Client: client})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "x"})
	require.NoError(t, err)
	defer r.Close()

	steps, err := drive(t, r)
	require.NoError(t, err)
	require.Equal(t, run.ToolResultEvent{ToolCallID: "tc1", ToolName: "ghost", Retry: true}, steps[2].events[1])
}

func TestMaxSteps(t *testing.T) {
	client := &fakeClient{turns: [][]model.Chunk{{toolCall("a", "ghost", `{}`)}, {toolCall("b", "other", `{}`)}}}
	agent, err := New(Options{Client: client, MaxSteps: 2})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "x"})
	require.NoError(t, err)
	defer r.Close()

	_, err = drive(t, r)
	require.ErrorIs(t, err, ErrMaxSteps)
}

func TestUnconsumedNodesAreExecuted(t *testing.T) {
	client := &fakeClient{turns: [][]model.Chunk{{text("done")}}}
	agent, err := New(Options{Client: client})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "x"})
	require.NoError(t, err)
	defer r.Close()

	var last run.Node
	for {
		node, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		last = node
	}
	require.Equal(t, "done", last.(*run.EndNode).Result.Output)
}

func TestClosedRun(t *testing.T) {
	agent, err := New(Options{Client: &fakeClient{}})
	require.NoError(t, err)
	r, err := agent.Start(context.Background(), run.Input{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	_, err = r.Next(context.Background())
	require.Error(t, err)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "model client is required")
	_, err = New(Options{Client: &fakeClient{}, Tools: []Tool{{Name: "a"}}})
	require.EqualError(t, err, `tool "a": handler is required`)
	h := func(context.Context, any, json.RawMessage) (any, error) { return nil, nil }
	_, err = New(Options{Client: &fakeClient{}, Tools: []Tool{{Name: "a", Handler: h}, {Name: "a", Handler: h}}})
	require.EqualError(t, err, `duplicate tool "a"`)
	_, err = New(Options{Client: &fakeClient{}, Tools: []Tool{{Name: "a", Handler: h}}, Output: NewOutputTool[string]("a", "", nil)})
	require.Error(t, err)
}
