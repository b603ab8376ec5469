// Package pulse mirrors chat UI parts to goa.design/pulse streams so other
// processes can follow a chat while it is being answered. The Sink publishes
// the parts of one chat turn; the Subscriber reads them back as parts.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	clientspulse "goa.design/chatui/features/stream/pulse/clients/pulse"
	"goa.design/chatui/runtime/chatui/parts"
	"goa.design/chatui/runtime/chatui/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish parts. Required.
		Client clientspulse.Client
		// ChatID identifies the chat the parts belong to. Required.
		ChatID string
		// StreamID derives the target Pulse stream from the chat id. Defaults
		// to the client chat stream.
		StreamID func(chatID string) string
		// MarshalEnvelope allows overriding the envelope serialization (primarily for tests).
		MarshalEnvelope func(envelope) ([]byte, error)
	}

	// Sink publishes the parts of a chat into a Pulse stream. Each part is
	// added as an event named after the part type.
	// Thread-safe for concurrent Send operations.
	Sink struct {
		client   clientspulse.Client
		chatID   string
		streamID string
		marshal  func(envelope) ([]byte, error)

		mu     sync.Mutex
		handle clientspulse.Stream
		closed bool
	}

	// envelope wraps parts for transmission over Pulse streams.
	envelope struct {
		// Type is the part type (e.g., "text-delta", "data-event").
		Type string `json:"type"`
		// ChatID links the part to its chat.
		ChatID string `json:"chat_id"`
		// Timestamp records when the part was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload is the JSON wire form of the part.
		Payload json.RawMessage `json:"payload"`
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink constructs a Pulse-backed sink for one chat.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.ChatID == "" {
		return nil, errors.New("chat id is required")
	}
	var streamID string
	if opts.StreamID != nil {
		streamID = opts.StreamID(opts.ChatID)
	}
	marshal := defaultMarshal
	if opts.MarshalEnvelope != nil {
		marshal = opts.MarshalEnvelope
	}
	return &Sink{
		client:   opts.Client,
		chatID:   opts.ChatID,
		streamID: streamID,
		marshal:  marshal,
	}, nil
}

// Send publishes p to the chat stream.
func (s *Sink) Send(ctx context.Context, p parts.Part) error {
	h, err := s.stream()
	if err != nil {
		return err
	}
	body, err := p.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %s part: %w", p.PartType(), err)
	}
	env := envelope{
		Type:      string(p.PartType()),
		ChatID:    s.chatID,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}
	payload, err := s.marshal(env)
	if err != nil {
		return err
	}
	_, err = h.Add(ctx, env.Type, payload)
	return err
}

// Close stops publishing. Further sends fail with stream.ErrSinkClosed. The
// Pulse client is shared and stays open.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// stream opens the Pulse stream on first use.
func (s *Sink) stream() (clientspulse.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, stream.ErrSinkClosed
	}
	if s.handle == nil {
		var (
			h   clientspulse.Stream
			err error
		)
		if s.streamID == "" {
			h, err = s.client.ChatStream(s.chatID)
		} else {
			h, err = s.client.Stream(s.streamID)
		}
		if err != nil {
			return nil, err
		}
		s.handle = h
	}
	return s.handle, nil
}

func defaultMarshal(env envelope) ([]byte, error) {
	return json.Marshal(env)
}
