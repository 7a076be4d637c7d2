package exchange

import (
	"sync"

	"tradecore/models"
)

// BookStream is a live order-book subscription. Updates are pushed into a
// bounded channel; when the consumer falls behind, updates are dropped
// rather than blocking the network reader. Close is idempotent and causes
// Updates to be closed once the reader has unwound.
type BookStream interface {
	// Updates yields normalized depth snapshots until the stream ends.
	Updates() <-chan models.OrderBook
	// Err returns the terminal error after Updates has been closed, or nil
	// for a clean shutdown.
	Err() error
	// Close terminates the stream.
	Close() error
}

// ChannelStream is the reusable BookStream backing implementation. Adapters
// run their own reader goroutine and publish into it.
type ChannelStream struct {
	updates chan models.OrderBook

	mu     sync.Mutex
	err    error
	closed bool
	done   chan struct{}

	dropped int64
}

// NewChannelStream creates a stream with the given update buffer.
func NewChannelStream(buffer int) *ChannelStream {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelStream{
		updates: make(chan models.OrderBook, buffer),
		done:    make(chan struct{}),
	}
}

func (s *ChannelStream) Updates() <-chan models.OrderBook { return s.updates }

func (s *ChannelStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close signals the producing goroutine to stop. The updates channel is
// closed by Finish once the producer has unwound.
func (s *ChannelStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Done exposes the close signal to the producing goroutine.
func (s *ChannelStream) Done() <-chan struct{} { return s.done }

// Publish offers one update without blocking; a full buffer drops the
// update and reports false.
func (s *ChannelStream) Publish(book models.OrderBook) bool {
	select {
	case s.updates <- book:
		return true
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return false
	}
}

// Dropped returns how many updates were discarded due to backpressure.
func (s *ChannelStream) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Finish records the terminal error and closes the updates channel. It must
// be called exactly once by the producing goroutine.
func (s *ChannelStream) Finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.updates)
}
