// Package stream fans validation log activity out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"idcheck.org/internal/validationlog"
)

// Kind names what happened to a record.
type Kind string

const (
	KindChecked   Kind = "checked"
	KindCorrected Kind = "corrected"
)

// Event describes one appended or corrected validation log record.
type Event struct {
	Kind      Kind                 `json:"kind"`
	Record    validationlog.Record `json:"record"`
	Timestamp time.Time            `json:"timestamp"`
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Stream fans events out to every active subscriber (SSE clients).
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	buffer  int
	dropped atomic.Uint64
}

// New returns an empty stream. buffer <= 0 means DefaultBuffer.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to every subscriber. Slow subscribers miss events
// rather than block the publisher.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber's
// queue was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
