package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Callbacks receive the progress of one stream. OnChunk may fire many times;
// exactly one of OnComplete and OnError fires at the end, unless the stream
// was superseded by a newer one, in which case nothing fires after that point.
// Any of them may be nil.
type Callbacks struct {
	OnChunk    func(text string)
	OnComplete func()
	OnError    func(err error)
}

// Consumer runs at most one stream at a time. Starting a stream cancels the
// previous one and waits until it has released its connection.
// Callbacks must not start a new stream on the same Consumer.
type Consumer struct {
	client *Client

	mu     sync.Mutex
	active *activeStream
}

type activeStream struct {
	ctx        context.Context
	cancel     context.CancelFunc
	aborted    atomic.Bool
	superseded atomic.Bool
	done       chan struct{}
}

func (s *activeStream) halted() bool {
	return s.aborted.Load() || s.superseded.Load()
}

// NewConsumer creates a stream consumer on top of client.
func NewConsumer(client *Client) *Consumer {
	return &Consumer{client: client}
}

// Stream sends req and blocks until the answer is complete, failed, cancelled
// or superseded. It returns the error handed to OnError, ErrStreamAborted for a
// superseded stream, or nil after OnComplete.
func (c *Consumer) Stream(ctx context.Context, req Request, cb Callbacks) error {
	s := c.begin(ctx)
	defer c.end(s)

	err := c.consume(s, req, cb.OnChunk)
	if s.superseded.Load() {
		return ErrStreamAborted
	}
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}
	if cb.OnComplete != nil {
		cb.OnComplete()
	}
	return nil
}

// Cancel aborts the active stream, which then reports ErrStreamAborted.
// It does nothing when no stream is running.
func (c *Consumer) Cancel() {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	if s != nil {
		s.aborted.Store(true)
		s.cancel()
	}
}

func (c *Consumer) begin(parent context.Context) *activeStream {
	ctx, cancel := context.WithCancel(parent)
	s := &activeStream{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	prev := c.active
	c.active = s
	c.mu.Unlock()

	if prev != nil {
		prev.superseded.Store(true)
		prev.cancel()
		<-prev.done
	}
	return s
}

func (c *Consumer) end(s *activeStream) {
	s.cancel()
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
	close(s.done)
}

// consume reads the body until EOF or a done chunk. The cancellation flags are
// checked once per read and before every callback.
func (c *Consumer) consume(s *activeStream, req Request, onChunk func(string)) error {
	body, err := c.client.StreamMessage(s.ctx, req)
	if err != nil {
		if s.halted() {
			return ErrStreamAborted
		}
		return err
	}
	defer body.Close()

	// emit reports true once a done chunk was seen.
	emit := func(segment []byte) (bool, error) {
		chunk, ok, err := parseFrame(segment)
		if err != nil {
			slog.Warn("failed to parse stream chunk", "error", err)
			return false, nil
		}
		if !ok {
			return false, nil
		}
		if s.halted() {
			return false, ErrStreamAborted
		}
		if chunk.Chunk != "" && onChunk != nil {
			onChunk(chunk.Chunk)
		}
		return chunk.Done, nil
	}

	var frames frameSplitter
	buf := make([]byte, 4096)
	for {
		if s.halted() {
			return ErrStreamAborted
		}

		n, readErr := body.Read(buf)
		for _, segment := range frames.Feed(buf[:n]) {
			done, err := emit(segment)
			if err != nil || done {
				return err
			}
		}

		if errors.Is(readErr, io.EOF) {
			_, err := emit(frames.Rest())
			return err
		}
		if readErr != nil {
			if s.halted() {
				return ErrStreamAborted
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}
