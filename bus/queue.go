package bus

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// pushResult reports the outcome of a non-blocking enqueue.
type pushResult int

const (
	pushOK pushResult = iota
	pushFull
	pushClosed
)

// queueItem pairs a message with its per-queue arrival sequence so equal
// priorities preserve publish order.
type queueItem struct {
	msg *Message
	seq uint64
}

// msgHeap orders items by (priority desc, seq asc).
type msgHeap []queueItem

func (h msgHeap) Len() int { return len(h) }

func (h msgHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *msgHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *msgHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

// deliveryQueue is the bounded priority queue behind one subscription.
// Enqueue never blocks; consumption happens through the owning Receiver.
type deliveryQueue struct {
	mu       sync.Mutex
	items    msgHeap
	capacity int
	nextSeq  uint64
	closed   bool

	notify chan struct{} // signals item available, capacity 1
	space  chan struct{} // signals capacity available, capacity 1
	done   chan struct{} // closed when the queue closes
}

func newDeliveryQueue(capacity int) *deliveryQueue {
	return &deliveryQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// push enqueues a message without blocking.
func (q *deliveryQueue) push(msg *Message) pushResult {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return pushClosed
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return pushFull
	}
	q.nextSeq++
	heap.Push(&q.items, queueItem{msg: msg, seq: q.nextSeq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return pushOK
}

// pushWait enqueues a message, waiting for capacity until ctx expires.
func (q *deliveryQueue) pushWait(ctx context.Context, msg *Message) (pushResult, error) {
	for {
		switch res := q.push(msg); res {
		case pushOK, pushClosed:
			return res, nil
		case pushFull:
		}

		select {
		case <-q.space:
		case <-q.done:
			return pushClosed, nil
		case <-ctx.Done():
			return pushFull, ctx.Err()
		}
	}
}

// pop removes the highest-priority item, if any.
func (q *deliveryQueue) pop() (*Message, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	item := heap.Pop(&q.items).(queueItem)
	q.mu.Unlock()

	select {
	case q.space <- struct{}{}:
	default:
	}
	return item.msg, true
}

func (q *deliveryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *deliveryQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close stops further enqueues. Already-queued messages remain consumable
// so the receiver observes end-of-stream only after draining.
func (q *deliveryQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// discard closes the queue and drops anything still in flight.
func (q *deliveryQueue) discard() {
	q.mu.Lock()
	if q.closed {
		q.items = nil
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.done)
}

// Receiver is the consuming end of a subscription. Messages arrive in
// (priority desc, publish order asc) order. A Receiver is owned by a single
// consumer; concurrent Receive calls are safe but contend for messages.
type Receiver struct {
	subscriberID string
	createdAt    time.Time
	q            *deliveryQueue
}

// SubscriberID returns the identity this receiver was created for.
func (r *Receiver) SubscriberID() string {
	return r.subscriberID
}

// CreatedAt returns when the subscription was established.
func (r *Receiver) CreatedAt() time.Time {
	return r.createdAt
}

// Receive blocks until the next message is available, the subscription
// ends, or ctx expires. After the subscription closes, queued messages are
// still drained; once empty, Receive returns ErrSubscriptionClosed.
func (r *Receiver) Receive(ctx context.Context) (*Message, error) {
	for {
		if msg, ok := r.q.pop(); ok {
			return msg, nil
		}
		if r.q.isClosed() {
			return nil, ErrSubscriptionClosed
		}

		select {
		case <-r.q.notify:
		case <-r.q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReceive returns the next message without blocking.
func (r *Receiver) TryReceive() (*Message, bool) {
	return r.q.pop()
}

// Len returns the number of queued messages.
func (r *Receiver) Len() int {
	return r.q.len()
}

// Closed reports whether the subscription has ended. Queued messages may
// still be drained after it returns true.
func (r *Receiver) Closed() bool {
	return r.q.isClosed()
}

// Close abandons the subscription and discards any queued messages. The
// registry evicts the subscription lazily on the next dispatch attempt.
func (r *Receiver) Close() {
	r.q.discard()
}
