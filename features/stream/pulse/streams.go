package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/chatui/features/stream/pulse/clients/pulse"
	"goa.design/chatui/runtime/chatui/stream"
)

// ChatStreams shares one Pulse client between the per-chat publishing sinks
// and the subscribers following them.
type ChatStreams struct {
	client   clientspulse.Client
	streamID func(chatID string) string
}

// ChatStreamsOptions configures the helper returned by NewChatStreams.
type ChatStreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing.
	// Required.
	Client clientspulse.Client
	// StreamID overrides the chat stream naming. Optional.
	StreamID func(chatID string) string
}

// NewChatStreams constructs helpers for publishing chat parts to Pulse and
// subscribing to the resulting streams.
func NewChatStreams(opts ChatStreamsOptions) (*ChatStreams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	return &ChatStreams{client: opts.Client, streamID: opts.StreamID}, nil
}

// Sink returns a sink publishing the parts of chatID.
func (c *ChatStreams) Sink(chatID string) (stream.Sink, error) {
	s, err := NewSink(Options{Client: c.client, ChatID: chatID, StreamID: c.streamID})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewSubscriber constructs a subscriber that reuses the helper's client.
func (c *ChatStreams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = c.client
	if opts.StreamID == nil {
		opts.StreamID = c.streamID
	}
	return NewSubscriber(opts)
}

// Close closes the underlying Pulse client. Call it during service shutdown
// after all subscribers have been canceled.
func (c *ChatStreams) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}
