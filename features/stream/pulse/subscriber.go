package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/chatui/features/stream/pulse/clients/pulse"
	"goa.design/chatui/runtime/chatui/parts"
)

type (
	// Event is a part read back from a chat stream.
	Event struct {
		// ID is the Pulse event id.
		ID string
		// ChatID is the chat the part belongs to.
		ChatID string
		// Timestamp is the publication time.
		Timestamp time.Time
		// Part is the decoded part. Unknown part types decode to parts.Any.
		Part parts.Part
	}

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to "chatui_subscriber".
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to 64.
		Buffer int
		// StreamID derives the Pulse stream from the chat id. Defaults to the
		// client chat stream.
		StreamID func(chatID string) string
	}

	// Subscriber consumes chat streams and emits the parts they carry.
	Subscriber struct {
		client   clientspulse.Client
		buffer   int
		name     string
		streamID func(chatID string) string
	}
)

// NewSubscriber constructs a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "chatui_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscriber{client: opts.Client, buffer: buffer, name: name, streamID: opts.StreamID}, nil
}

// Subscribe opens a Pulse sink on the stream of chatID and returns channels
// for events and errors. The returned cancel function stops consumption,
// closes the sink and, once the consuming goroutine exits, both channels.
//
//	events, errs, cancel, err := sub.Subscribe(ctx, "chat-1")
//	defer cancel()
//	for ev := range events {
//	    // ev.Part
//	}
func (s *Subscriber) Subscribe(ctx context.Context, chatID string, opts ...streamopts.Sink) (<-chan Event, <-chan error, context.CancelFunc, error) {
	if chatID == "" {
		return nil, nil, nil, errors.New("chat id is required")
	}
	str, err := s.open(chatID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	return events, errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func (s *Subscriber) open(chatID string) (clientspulse.Stream, error) {
	if s.streamID == nil {
		return s.client.ChatStream(chatID)
	}
	return s.client.Stream(s.streamID(chatID))
}

// consume decodes the sink events, acking each one after it is delivered. It
// stops at the first decoding or ack error.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := decodeEnvelope(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			decoded.ID = evt.ID
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}

func decodeEnvelope(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, err
	}
	p, err := parts.Decode(env.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ChatID: env.ChatID, Timestamp: env.Timestamp, Part: p}, nil
}
