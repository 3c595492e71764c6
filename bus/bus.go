package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/agentbus/logging"
)

// Common errors.
var (
	// ErrInvalidMessage indicates a malformed envelope rejected at publish.
	ErrInvalidMessage = errors.New("invalid message envelope")

	// ErrExpired indicates the message's TTL elapsed before dispatch.
	ErrExpired = errors.New("message expired before dispatch")

	// ErrClosed indicates the bus has been closed.
	ErrClosed = errors.New("bus closed")

	// ErrQueueFull is surfaced by the blocking publish variant when the
	// context expires while waiting for queue capacity.
	ErrQueueFull = errors.New("subscriber queue full")

	// ErrSubscriptionClosed is returned by Receive once a subscription has
	// ended and its queue is drained.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrInvalidSubscriber indicates an empty subscriber id.
	ErrInvalidSubscriber = errors.New("invalid subscriber id")
)

// Sink consumes messages the dispatcher forwards after delivery. The
// coordination and workflow trackers implement it.
type Sink interface {
	// Consume processes a forwarded message. Errors are logged by the bus,
	// never propagated to the publisher.
	Consume(msg *Message) error
}

// PublishOutcome reports per-subscriber delivery results for one publish.
type PublishOutcome struct {
	// Delivered is the number of subscriber queues that accepted a clone.
	Delivered int

	// Dropped is the number of subscribers skipped because their queue was
	// at capacity.
	Dropped int
}

// Config holds bus configuration.
type Config struct {
	// QueueCapacity bounds each subscriber's delivery queue.
	// Default: 1024
	QueueCapacity int

	// CompactEvery triggers a sweep for abandoned subscriptions after this
	// many publishes. Zero disables compaction.
	// Default: 256
	CompactEvery int

	// Logger receives bus activity. Nil means silent.
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 1024,
		CompactEvery:  256,
	}
}

// subscription maps one subscriber to its topic set and delivery queue.
type subscription struct {
	id        string
	topics    map[string]struct{}
	queue     *deliveryQueue
	createdAt time.Time
}

func (s *subscription) matches(topic string) bool {
	_, ok := s.topics[topic]
	return ok
}

// Bus is an in-process publish/subscribe message bus with priority-aware
// per-subscriber delivery, TTL enforcement, and tracker forwarding. All
// methods are safe for concurrent use.
type Bus struct {
	config Config
	logger *logging.Logger
	stats  *busStats

	mu   sync.RWMutex
	subs map[string]*subscription

	sinkMu       sync.RWMutex
	coordSink    Sink
	workflowSink Sink

	publishSeq atomic.Uint64
	closed     atomic.Bool
}

// New creates a bus with the given configuration.
func New(cfg Config) *Bus {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.CompactEvery < 0 {
		cfg.CompactEvery = 0
	}

	return &Bus{
		config: cfg,
		logger: cfg.Logger.WithComponent("bus"),
		stats:  newBusStats(),
		subs:   make(map[string]*subscription),
	}
}

// AttachCoordinationSink registers the consumer for coordination results.
func (b *Bus) AttachCoordinationSink(s Sink) {
	b.sinkMu.Lock()
	b.coordSink = s
	b.sinkMu.Unlock()
}

// AttachWorkflowSink registers the consumer for workflow step events.
func (b *Bus) AttachWorkflowSink(s Sink) {
	b.sinkMu.Lock()
	b.workflowSink = s
	b.sinkMu.Unlock()
}

// Subscribe registers a subscriber for a set of topics and returns the
// consuming end of a fresh bounded queue. A subscriber has at most one
// subscription: re-subscribing atomically replaces the topic set, and the
// prior receiver observes end-of-stream after draining.
func (b *Bus) Subscribe(id string, topics []string) (*Receiver, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if id == "" {
		return nil, ErrInvalidSubscriber
	}

	topicSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if t != "" {
			topicSet[t] = struct{}{}
		}
	}
	if len(topicSet) == 0 {
		return nil, ErrInvalidSubscriber
	}

	q := newDeliveryQueue(b.config.QueueCapacity)
	now := time.Now()

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		old.queue.close()
	}
	b.subs[id] = &subscription{
		id:        id,
		topics:    topicSet,
		queue:     q,
		createdAt: now,
	}
	b.mu.Unlock()

	return &Receiver{subscriberID: id, createdAt: now, q: q}, nil
}

// Unsubscribe removes a subscription. The consumer observes end-of-stream
// after draining its queue. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.queue.close()
	}
}

// Stats returns a snapshot of bus statistics.
func (b *Bus) Stats() Statistics {
	b.mu.RLock()
	active := 0
	for _, sub := range b.subs {
		if !sub.queue.isClosed() {
			active++
		}
	}
	b.mu.RUnlock()

	return b.stats.snapshot(active)
}

// OverflowCount returns the number of messages dropped for one subscriber
// because its queue was full.
func (b *Bus) OverflowCount(subscriberID string) uint64 {
	return b.stats.overflowCount(subscriberID)
}

// Close shuts the bus down. All subscriptions end; queued messages remain
// drainable by their receivers.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	for _, sub := range b.subs {
		sub.queue.close()
	}
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	return nil
}

// matching snapshots the subscriptions a message should reach. Directed
// messages narrow to the single addressed subscriber.
func (b *Bus) matching(msg *Message) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if msg.ToAgent != "" {
		sub, ok := b.subs[msg.ToAgent]
		if ok && sub.matches(msg.Topic) {
			return []*subscription{sub}
		}
		return nil
	}

	var out []*subscription
	for _, sub := range b.subs {
		if sub.matches(msg.Topic) {
			out = append(out, sub)
		}
	}
	return out
}

// evict removes subscriptions whose receivers were abandoned.
func (b *Bus) evict(ids []string) {
	if len(ids) == 0 {
		return
	}

	b.mu.Lock()
	for _, id := range ids {
		if sub, ok := b.subs[id]; ok && sub.queue.isClosed() {
			delete(b.subs, id)
			b.logger.SubscriberEvicted(id)
		}
	}
	b.mu.Unlock()
}

// maybeCompact sweeps abandoned subscriptions every CompactEvery publishes.
func (b *Bus) maybeCompact() {
	if b.config.CompactEvery == 0 {
		return
	}
	if b.publishSeq.Add(1)%uint64(b.config.CompactEvery) != 0 {
		return
	}

	b.mu.Lock()
	for id, sub := range b.subs {
		if sub.queue.isClosed() {
			delete(b.subs, id)
			b.logger.SubscriberEvicted(id)
		}
	}
	b.mu.Unlock()
}
