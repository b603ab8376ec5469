package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"goa.design/chatui/runtime/chatui/parts"
)

type (
	// Sink delivers wire parts to a transport (an HTTP response, a Pulse
	// stream, ...). Implementations must be safe for concurrent use.
	Sink interface {
		// Send delivers one part. An error stops the translation that feeds
		// the sink.
		Send(ctx context.Context, p parts.Part) error
		// Close releases the sink. Close is idempotent.
		Close(ctx context.Context) error
	}

	// WriterSink writes server-sent-event frames to an io.Writer, flushing
	// after each frame when the writer is an http.Flusher.
	WriterSink struct {
		mu     sync.Mutex
		w      io.Writer
		closed bool
	}

	teeSink []Sink
)

// ErrSinkClosed is returned by Send after Close.
var ErrSinkClosed = errors.New("stream: sink closed")

// NewWriterSink returns a sink writing frames to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Send writes the frame of p.
func (s *WriterSink) Send(_ context.Context, p parts.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if err := parts.WriteFrame(s.w, p); err != nil {
		return err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Close marks the sink closed. The underlying writer is left open.
func (s *WriterSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Tee returns a sink sending every part to each of sinks in order. Send stops
// at the first error.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

func (t teeSink) Send(ctx context.Context, p parts.Part) error {
	for _, s := range t {
		if err := s.Send(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (t teeSink) Close(ctx context.Context) error {
	var errs []error
	for _, s := range t {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
