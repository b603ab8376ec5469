package stream

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/chatui/runtime/agent/loop"
	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/toolerrors"
	"goa.design/chatui/runtime/agent/tools"
	"goa.design/chatui/runtime/chatui/parts"
)

// scriptedClient answers each model request with the next scripted turn.
type scriptedClient struct {
	turns    [][]model.Chunk
	noStream bool
}

type scriptedStreamer struct{ chunks []model.Chunk }

func (c *scriptedClient) pop() []model.Chunk {
	if len(c.turns) == 0 {
		return nil
	}
	t := c.turns[0]
	c.turns = c.turns[1:]
	return t
}

func (c *scriptedClient) Stream(context.Context, model.Request) (model.Streamer, error) {
	if c.noStream {
		return nil, model.ErrStreamingUnsupported
	}
	return &scriptedStreamer{chunks: c.pop()}, nil
}

func (c *scriptedClient) Complete(context.Context, model.Request) (model.Response, error) {
	var resp model.Response
	for _, ch := range c.pop() {
		switch ch.Type {
		case model.ChunkTypeText:
			resp.Content = append(resp.Content, model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: ch.Text}}})
		case model.ChunkTypeToolCall:
			resp.ToolCalls = append(resp.ToolCalls, *ch.ToolCall)
		}
	}
	return resp, nil
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if len(s.chunks) == 0 {
		return model.Chunk{}, io.EOF
	}
	ch := s.chunks[0]
	s.chunks = s.chunks[1:]
	return ch, nil
}

func (s *scriptedStreamer) Close() error             { return nil }
func (s *scriptedStreamer) Metadata() map[string]any { return nil }

func textChunk(s string) model.Chunk { return model.Chunk{Type: model.ChunkTypeText, Text: s} }

func callChunk(id, name, args string) model.Chunk {
	return model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: id, Name: tools.Ident(name), Payload: json.RawMessage(args)}}
}

func weather(_ context.Context, _ any, args json.RawMessage) (any, error) {
	var in struct{ City string }
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if in.City == "" {
		return nil, toolerrors.Retry("city is required")
	}
	return "sunny", nil
}

func TestLoopAgentToolTurn(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{callChunk("tc1", "weather", `{"City":"Paris"}`)},
		{textChunk("It is"), textChunk(" sunny.")},
	}}
	agent, err := loop.New(loop.Options{
		Client: client,
		Tools:  []loop.Tool{{Name: "weather", Handler: weather}},
	})
	require.NoError(t, err)

	var stored []*model.Message
	tr := newTranslator(t, agent, func(o *Options) {
		o.StoreHistory = func(_ context.Context, m *model.Message) error {
			stored = append(stored, m)
			return nil
		}
	})
	got, err := collect(t, tr, userRequest("weather?"))
	require.NoError(t, err)
	require.Equal(t, []parts.Part{
		pending("tc1", "weather"),
		succeeded("tc1", "weather"),
		parts.TextStart{ID: "msg-1"},
		parts.TextDelta{ID: "msg-1", Delta: "It is"},
		parts.TextDelta{ID: "msg-1", Delta: " sunny."},
		parts.TextEnd{ID: "msg-1"},
	}, got)

	require.Len(t, stored, 4)
	require.Equal(t, "weather?", stored[0].Text())
	require.Equal(t, "It is sunny.", stored[3].Text())
}

func TestLoopAgentCompleteOnlyText(t *testing.T) {
	client := &scriptedClient{noStream: true, turns: [][]model.Chunk{{textChunk("  Hello there")}}}
	agent, err := loop.New(loop.Options{Client: client})
	require.NoError(t, err)

	got, err := collect(t, newTranslator(t, agent), userRequest("hi"))
	require.NoError(t, err)
	require.Equal(t, []parts.Part{
		parts.TextStart{ID: "msg-1"},
		parts.TextDelta{ID: "msg-1", Delta: "Hello there"},
		parts.TextEnd{ID: "msg-1"},
	}, got)
}

func TestLoopAgentCodeArtifact(t *testing.T) {
	client := &scriptedClient{noStream: true, turns: [][]model.Chunk{
		{callChunk("out1", "final_result", `{"file_name":"main.go","code":"package main","language":"go"}`)},
	}}
	agent, err := loop.New(loop.Options{
		Client: client,
		Output: loop.NewOutputTool[parts.CodeArtifactData]("final_result", "Return the code", nil),
	})
	require.NoError(t, err)

	got, err := collect(t, newTranslator(t, agent), userRequest("write code"))
	require.NoError(t, err)
	code := parts.CodeArtifactData{FileName: "main.go", Code: "package main", Language: "go"}
	require.Equal(t, []parts.Part{
		pending("out1", "final_result"),
		succeeded("out1", "final_result"),
		parts.TextStart{ID: "msg-1"},
		parts.DataArtifact{ID: "out1", Data: parts.Artifact{Type: parts.ArtifactCode, Data: code, CreatedAt: fixedNow.UnixMilli()}},
		parts.TextEnd{ID: "msg-1"},
	}, got)
}

func TestLoopAgentRetryExhaustion(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{callChunk("tc1", "weather", `{}`)},
		{callChunk("tc2", "weather", `{}`)},
	}}
	agent, err := loop.New(loop.Options{
		Client:     client,
		Tools:      []loop.Tool{{Name: "weather", Handler: weather}},
		MaxRetries: 1,
	})
	require.NoError(t, err)

	got, err := collect(t, newTranslator(t, agent), userRequest("weather?"))
	require.NoError(t, err)
	require.Equal(t, []parts.Part{
		pending("tc1", "weather"),
		succeeded("tc1", "weather"),
		pending("tc2", "weather"),
		failed("tc2", "weather"),
		parts.Error{ErrorText: `tool "weather" exceeded max retries count of 1`},
	}, got)
}
