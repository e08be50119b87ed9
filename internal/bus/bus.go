// Package bus abstracts the publish/subscribe channel that carries command
// and state frames between the controller and the robot. The wire transport
// is interchangeable; subscribers that cannot keep up lose frames rather
// than delay the publisher, since a stale state frame is worth less than a
// late command frame is harmful.
package bus

import (
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/robotctl/internal/errors"
)

// Topic names mirror the robot firmware's channel layout.
const (
	TopicCommand = "rt/lowcmd"
	TopicState   = "rt/lowstate"
)

const (
	ErrClosed            = errors.ErrorCode("bus_closed")
	ErrSubscriberExists  = errors.ErrorCode("bus_subscriber_exists")
	ErrUnknownSubscriber = errors.ErrorCode("bus_unknown_subscriber")
	ErrNilChannel        = errors.ErrorCode("bus_nil_channel")
)

// Bus distributes frames to subscribers without ever blocking a publisher.
type Bus interface {
	// Publish delivers a frame to every subscriber of the topic. Frames
	// are dropped for subscribers whose channels are full.
	Publish(topic string, data []byte) error

	// Subscribe registers a channel to receive frames on a topic.
	Subscribe(topic, id string, ch chan<- []byte) error

	// Unsubscribe removes a subscriber from a topic.
	Unsubscribe(topic, id string) error

	// Stats returns a snapshot of distribution counters.
	Stats() Stats

	// Close stops the bus; later operations fail with ErrClosed.
	Close() error
}

// Stats holds distribution counters for the lifetime of the bus.
type Stats struct {
	Published uint64
	Sent      uint64
	Dropped   uint64
}

type subscriber struct {
	id string
	ch chan<- []byte
}

// Loopback is an in-process Bus. It backs simulation and tests, and serves
// as the reference implementation for real transports.
type Loopback struct {
	mu     sync.Mutex
	topics map[string][]subscriber
	closed bool

	published atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// NewLoopback creates an in-process bus.
func NewLoopback() *Loopback {
	return &Loopback{
		topics: make(map[string][]subscriber),
	}
}

func (b *Loopback) Publish(topic string, data []byte) error {
	errFactory := errors.New()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errFactory.New(ErrClosed)
	}
	// Copy under the lock: Unsubscribe shifts the shared backing array in
	// place, so iterating the live slice after unlocking races with it.
	subs := append([]subscriber(nil), b.topics[topic]...)
	b.mu.Unlock()

	b.published.Add(1)
	for _, s := range subs {
		select {
		case s.ch <- data:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}

	return nil
}

func (b *Loopback) Subscribe(topic, id string, ch chan<- []byte) error {
	errFactory := errors.New()

	if ch == nil {
		return errFactory.New(ErrNilChannel)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errFactory.New(ErrClosed)
	}
	for _, s := range b.topics[topic] {
		if s.id == id {
			return errFactory.WithData(ErrSubscriberExists, id)
		}
	}
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, ch: ch})

	return nil
}

func (b *Loopback) Unsubscribe(topic, id string) error {
	errFactory := errors.New()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errFactory.New(ErrClosed)
	}
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}

	return errFactory.WithData(ErrUnknownSubscriber, id)
}

func (b *Loopback) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Sent:      b.sent.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *Loopback) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.topics = make(map[string][]subscriber)

	return nil
}
