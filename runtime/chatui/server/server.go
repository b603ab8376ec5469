// Package server exposes the chat translator over HTTP.
//
// POST /api/chat accepts a chat request, runs the agent on its last user
// message and streams the resulting parts as server-sent events. The new
// history messages are appended to the chat history once the run completes.
// GET /api/chat/{id}/messages replays a stored chat as full UI messages.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	goahttp "goa.design/goa/v3/http"

	"goa.design/chatui/runtime/agent/run"
	"goa.design/chatui/runtime/agent/telemetry"
	"goa.design/chatui/runtime/chatui/history"
	"goa.design/chatui/runtime/chatui/messages"
	"goa.design/chatui/runtime/chatui/parts"
	"goa.design/chatui/runtime/chatui/stream"
	"goa.design/chatui/runtime/chatui/toolmsg"
)

type (
	// Options configures a Server.
	Options struct {
		// Agent runs the chat turns. Required.
		Agent run.Agent
		// History stores chat histories. Required.
		History history.Store
		// ToolMessages overrides the tool status titles.
		ToolMessages toolmsg.Messages
		// Mirror, if set, returns an additional sink receiving every part
		// of chatID, e.g. a Pulse stream. Mirror failures are logged and
		// never interrupt the HTTP response.
		Mirror func(ctx context.Context, chatID string) (stream.Sink, error)
		// Deps builds the dependencies handed to the agent tools.
		Deps func(r *http.Request, chatID string) any
		// MaxBodyBytes caps the request body size. Defaults to 4 MiB.
		MaxBodyBytes int64
		// Logger, Metrics and Tracer default to no-op implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Server implements the chat HTTP endpoints.
	Server struct {
		agent    run.Agent
		history  history.Store
		msgs     toolmsg.Messages
		mirror   func(context.Context, string) (stream.Sink, error)
		deps     func(*http.Request, string) any
		maxBytes int64
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
	}

	// errorBody is the JSON body of non-streaming error responses.
	errorBody struct {
		Error string `json:"error"`
	}

	// mirrorSink forwards parts to a secondary sink until it fails once.
	mirrorSink struct {
		mu     sync.Mutex
		sink   stream.Sink
		failed bool
		logger telemetry.Logger
		chatID string
	}
)

// Routes.
const (
	ChatPath     = "/api/chat"
	MessagesPath = "/api/chat/{id}/messages"
)

const defaultMaxBodyBytes = 4 << 20

// New returns a Server. It fails when a required option is missing or when
// opts.ToolMessages holds an unsupported override.
func New(opts Options) (*Server, error) {
	if opts.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if opts.History == nil {
		return nil, errors.New("history store is required")
	}
	if err := opts.ToolMessages.Validate(); err != nil {
		return nil, fmt.Errorf("tool messages: %w", err)
	}
	s := &Server{
		agent:    opts.Agent,
		history:  opts.History,
		msgs:     opts.ToolMessages,
		mirror:   opts.Mirror,
		deps:     opts.Deps,
		maxBytes: opts.MaxBodyBytes,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxBodyBytes
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewNoopMetrics()
	}
	if s.tracer == nil {
		s.tracer = telemetry.NewNoopTracer()
	}
	return s, nil
}

// Mount registers the chat endpoints on mux.
func (s *Server) Mount(mux goahttp.Muxer) {
	mux.Handle(http.MethodPost, ChatPath, s.HandleChat)
	mux.Handle(http.MethodGet, MessagesPath, func(w http.ResponseWriter, r *http.Request) {
		s.HandleMessages(w, r, mux.Vars(r)["id"])
	})
}

// HandleChat streams the answer to the last message of a chat request.
//
// Validation and history loading failures are reported with a JSON error
// body. Once the first frame is written, failures are part of the stream: a
// run failure becomes an error part and a history persistence failure is
// logged.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := messages.DecodeChatRequest(http.MaxBytesReader(w, r.Body, s.maxBytes))
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	last, err := req.Last()
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	if last.Role != messages.RoleUser {
		s.writeError(ctx, w, http.StatusBadRequest, stream.ErrNotUserMessage)
		return
	}
	if req.ID == "" {
		s.writeError(ctx, w, http.StatusBadRequest, history.ErrChatIDRequired)
		return
	}
	prior, err := s.history.Load(ctx, req.ID)
	if err != nil {
		s.logger.Error(ctx, "load chat history", "chat_id", req.ID, "err", err)
		s.writeError(ctx, w, http.StatusInternalServerError, errors.New("failed to load chat history"))
		return
	}

	tr, err := stream.New(stream.Options{
		Agent:        s.agent,
		ToolMessages: s.msgs,
		StoreHistory: history.Recorder(s.history, req.ID),
		Logger:       s.logger,
		Metrics:      s.metrics,
		Tracer:       s.tracer,
	})
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}

	var deps any
	if s.deps != nil {
		deps = s.deps(r, req.ID)
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	sink := s.sink(ctx, w, req.ID)
	defer func() {
		if err := sink.Close(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn(ctx, "close chat sink", "chat_id", req.ID, "err", err)
		}
	}()

	err = tr.Pump(ctx, stream.Request{Message: last, Deps: deps, History: prior}, sink)
	if err != nil {
		s.logger.Error(ctx, "chat turn", "chat_id", req.ID, "err", err)
	}
}

// HandleMessages writes the stored history of chatID as full UI messages.
// Unknown chats yield an empty list.
func (s *Server) HandleMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	ctx := r.Context()
	if chatID == "" {
		s.writeError(ctx, w, http.StatusBadRequest, history.ErrChatIDRequired)
		return
	}
	msgs, err := s.history.Load(ctx, chatID)
	if err != nil {
		s.logger.Error(ctx, "load chat history", "chat_id", chatID, "err", err)
		s.writeError(ctx, w, http.StatusInternalServerError, errors.New("failed to load chat history"))
		return
	}
	full, err := messages.ToFullMessages(msgs, s.msgs)
	if err != nil {
		s.logger.Error(ctx, "convert chat history", "chat_id", chatID, "err", err)
		s.writeError(ctx, w, http.StatusInternalServerError, errors.New("failed to convert chat history"))
		return
	}
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(http.StatusOK)
	if err := enc.Encode(full); err != nil {
		s.logger.Warn(ctx, "encode chat history", "chat_id", chatID, "err", err)
	}
}

// sink returns the sink of a chat turn: the response writer, teed with the
// mirror when one is configured and can be opened.
func (s *Server) sink(ctx context.Context, w http.ResponseWriter, chatID string) stream.Sink {
	primary := stream.NewWriterSink(w)
	if s.mirror == nil {
		return primary
	}
	m, err := s.mirror(ctx, chatID)
	if err != nil {
		s.logger.Warn(ctx, "open chat mirror", "chat_id", chatID, "err", err)
		return primary
	}
	return stream.Tee(primary, &mirrorSink{sink: m, logger: s.logger, chatID: chatID})
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	s.metrics.IncCounter("chatui.server.errors", 1, "status", http.StatusText(status))
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if eerr := enc.Encode(errorBody{Error: err.Error()}); eerr != nil {
		s.logger.Warn(ctx, "encode error response", "err", eerr)
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
}

func (m *mirrorSink) Send(ctx context.Context, p parts.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return nil
	}
	if err := m.sink.Send(ctx, p); err != nil {
		m.failed = true
		m.logger.Warn(ctx, "mirror chat part, disabling mirror", "chat_id", m.chatID, "part", string(p.PartType()), "err", err)
	}
	return nil
}

func (m *mirrorSink) Close(ctx context.Context) error {
	return m.sink.Close(ctx)
}
