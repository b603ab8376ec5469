// Package pulse opens the Pulse streams that mirror chat turns. Each chat
// owns one stream named `<prefix>/<chat id>`; stream handles are opened once
// per process and reused by every turn of the chat.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis backs the Pulse streams. Required. The caller owns the
		// connection.
		Redis *redis.Client
		// Prefix namespaces chat stream names. Defaults to "chat".
		Prefix string
		// StreamMaxLen caps the entries kept per chat stream. Zero uses the
		// Pulse default.
		StreamMaxLen int
		// OperationTimeout bounds each publish. Zero means no timeout.
		OperationTimeout time.Duration
	}

	// Client hands out chat streams.
	Client interface {
		// ChatStream returns the stream mirroring chatID.
		ChatStream(chatID string) (Stream, error)
		// Stream returns the stream with the given name. Options only apply
		// when the stream is first opened.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close forgets the cached streams. Later calls fail with ErrClosed.
		Close(ctx context.Context) error
	}

	// Stream publishes chat parts and opens consumer groups.
	Stream interface {
		// Add publishes payload as an event named event and returns the
		// Redis entry id.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group reading the stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and its entries.
		Destroy(ctx context.Context) error
	}

	// Sink is the subset of a Pulse sink used to replay a chat.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(context.Context, *streaming.Event) error
		Close(context.Context)
	}
)

// ErrClosed is returned by a closed client.
var ErrClosed = errors.New("pulse client closed")

// DefaultPrefix is the chat stream name prefix used when Options.Prefix is
// empty.
const DefaultPrefix = "chat"

type (
	client struct {
		redis     *redis.Client
		prefix    string
		maxLen    int
		timeout   time.Duration
		newStream func(name string, rdb *redis.Client, opts ...streamopts.Stream) (*streaming.Stream, error)

		mu      sync.Mutex
		streams map[string]*chatStream
		closed  bool
	}

	chatStream struct {
		c       *client
		name    string
		stream  *streaming.Stream
		timeout time.Duration
	}

	sinkAdapter struct {
		*streaming.Sink
	}
)

// New returns a client backed by opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return newClient(opts, streaming.NewStream), nil
}

// ChatStreamName returns the name of the stream mirroring chatID.
func ChatStreamName(prefix, chatID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "/" + chatID
}

func newClient(opts Options, newStream func(string, *redis.Client, ...streamopts.Stream) (*streaming.Stream, error)) *client {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &client{
		redis:     opts.Redis,
		prefix:    prefix,
		maxLen:    opts.StreamMaxLen,
		timeout:   opts.OperationTimeout,
		newStream: newStream,
		streams:   make(map[string]*chatStream),
	}
}

func (c *client) ChatStream(chatID string) (Stream, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}
	return c.Stream(ChatStreamName(c.prefix, chatID))
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if s, ok := c.streams[name]; ok {
		return s, nil
	}
	var sopts []streamopts.Stream
	if c.maxLen > 0 {
		sopts = append(sopts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	sopts = append(sopts, opts...)
	str, err := c.newStream(name, c.redis, sopts...)
	if err != nil {
		return nil, fmt.Errorf("open pulse stream %q: %w", name, err)
	}
	s := &chatStream{c: c, name: name, stream: str, timeout: c.timeout}
	c.streams[name] = s
	return s, nil
}

func (c *client) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	clear(c.streams)
	return nil
}

func (c *client) forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, name)
}

func (s *chatStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	id, err := s.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", s.name, err)
	}
	return id, nil
}

func (s *chatStream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := s.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("open sink %q on %s: %w", name, s.name, err)
	}
	return sinkAdapter{Sink: sink}, nil
}

// Destroy deletes the stream. The next ChatStream call for the same chat
// opens a fresh stream.
func (s *chatStream) Destroy(ctx context.Context) error {
	s.c.forget(s.name)
	return s.stream.Destroy(ctx)
}

func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
