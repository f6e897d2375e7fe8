// Package stream fans newly written labels out to live subscribers.
//
// A Publisher is created once at process start and injected into every
// component that emits or attaches. Publish never blocks: each subscriber
// owns a bounded queue, and a subscriber whose queue is full is detached
// with ErrLagged instead of slowing the writer or its peers.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

var (
	// ErrLagged is reported by a subscription dropped for falling behind.
	ErrLagged = errors.New("stream: subscriber lagged")
	// ErrClosed is reported once the subscription or publisher is closed.
	ErrClosed = errors.New("stream: closed")
)

// Event is one publish call: a sequence number and the labels written
// under it. Events are shared by all subscribers and must not be mutated.
type Event struct {
	Seq    int64
	Labels []label.Label

	once  sync.Once
	frame []byte
	err   error
}

// Frame returns the encoded wire frame, computed once per event.
func (e *Event) Frame() ([]byte, error) {
	e.once.Do(func() {
		e.frame, e.err = EncodeFrame(e.Seq, e.Labels)
	})
	return e.frame, e.err
}

// Subscription is a live attachment to a Publisher.
type Subscription struct {
	// ID only correlates log lines for one session.
	ID string

	ch  chan *Event
	p   *Publisher
	mu  sync.Mutex
	err error
}

// Events delivers events in publish order. The channel is closed when the
// subscription is detached; Err then reports why.
func (s *Subscription) Events() <-chan *Event { return s.ch }

// Err returns nil while attached, otherwise ErrLagged or ErrClosed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.p.detach(s, ErrClosed)
}

// Publisher is the process-wide broadcast bus.
type Publisher struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

// NewPublisher creates a Publisher whose subscribers queue up to buffer
// events. buffer <= 0 selects DefaultBuffer.
func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe attaches a new subscriber. It only receives events published
// after Subscribe returns.
func (p *Publisher) Subscribe() (*Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	s := &Subscription{
		ID: uuid.NewString(),
		ch: make(chan *Event, p.buffer),
		p:  p,
	}
	p.subs[s] = struct{}{}
	p.logger.Debug("subscriber attached", "subscriber", s.ID, "subscribers", len(p.subs))
	return s, nil
}

// Publish delivers one event to every attached subscriber and returns how
// many received it. It never blocks; with no subscribers it is a no-op.
func (p *Publisher) Publish(seq int64, labels ...label.Label) int {
	ev := &Event{Seq: seq, Labels: labels}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	delivered := 0
	for s := range p.subs {
		select {
		case s.ch <- ev:
			delivered++
		default:
			p.detachLocked(s, ErrLagged)
			p.logger.Warn("subscriber dropped: queue full", "subscriber", s.ID, "seq", seq, "buffer", p.buffer)
		}
	}
	return delivered
}

// SubscriberCount returns the number of attached subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// WaitForSubscribers polls every poll interval until at least one
// subscriber is attached, timeout elapses or ctx is done. It reports
// whether a subscriber was present.
func (p *Publisher) WaitForSubscribers(ctx context.Context, poll, timeout time.Duration) bool {
	if p.SubscriberCount() > 0 {
		return true
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return p.SubscriberCount() > 0
		case <-ticker.C:
			if p.SubscriberCount() > 0 {
				return true
			}
		}
	}
}

// Close detaches every subscriber with ErrClosed and rejects new ones.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for s := range p.subs {
		p.detachLocked(s, ErrClosed)
	}
}

func (p *Publisher) detach(s *Subscription, reason error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detachLocked(s, reason)
}

func (p *Publisher) detachLocked(s *Subscription, reason error) {
	if _, ok := p.subs[s]; !ok {
		return
	}
	delete(p.subs, s)
	s.mu.Lock()
	s.err = reason
	s.mu.Unlock()
	close(s.ch)
}
