package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agentbus/telemetry"
)

// Publish validates the message, assigns its id, and dispatches a clone to
// every matching subscriber. A full subscriber queue drops the message for
// that subscriber only; other subscribers still receive it. Publish never
// blocks on slow consumers.
//
// The message is normalized in place: ID is always reassigned, a zero
// Timestamp becomes the publish time, and Priority is clamped into range.
func (b *Bus) Publish(msg *Message) (PublishOutcome, error) {
	return b.publish(context.Background(), msg, false)
}

// PublishWait is the blocking publish variant: when a subscriber queue is
// full it waits for capacity instead of dropping. If ctx expires while
// waiting, remaining subscribers are skipped and ErrQueueFull is returned
// alongside the partial outcome.
func (b *Bus) PublishWait(ctx context.Context, msg *Message) (PublishOutcome, error) {
	return b.publish(ctx, msg, true)
}

func (b *Bus) publish(ctx context.Context, msg *Message, wait bool) (out PublishOutcome, err error) {
	if b.closed.Load() {
		return out, ErrClosed
	}
	if verr := msg.Validate(); verr != nil {
		return out, verr
	}

	start := time.Now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = start
	}
	msg.ID = uuid.NewString()
	msg.Priority = ClampPriority(msg.Priority)

	spanCtx, span := telemetry.GetTracer().StartPublishSpan(ctx, msg.Topic)
	defer func() {
		telemetry.GetTracer().EndPublishSpan(span, telemetry.PublishSpanOptions{
			Topic:     msg.Topic,
			Kind:      msg.Kind.String(),
			From:      msg.FromAgent,
			To:        msg.ToAgent,
			Priority:  msg.Priority,
			Delivered: out.Delivered,
			Dropped:   out.Dropped,
		}, err)
	}()

	if msg.Expired(start) {
		b.stats.recordExpired()
		b.logger.MessageExpired(msg.Topic, start.Sub(msg.Timestamp))
		return out, ErrExpired
	}

	var evict []string
	var blocked error

	for _, sub := range b.matching(msg) {
		clone := msg.Clone()

		var res pushResult
		if wait {
			var werr error
			res, werr = sub.queue.pushWait(spanCtx, clone)
			if werr != nil {
				blocked = ErrQueueFull
			}
		} else {
			res = sub.queue.push(clone)
		}

		switch res {
		case pushOK:
			out.Delivered++
			b.stats.recordDelivery(sub.id)
		case pushFull:
			out.Dropped++
			b.stats.recordDrop(sub.id)
			b.logger.MessageDropped(sub.id, msg.Topic, "queue_full")
		case pushClosed:
			evict = append(evict, sub.id)
		}
	}

	b.evict(evict)
	b.stats.recordPublish(msg.Topic, time.Since(start))
	b.logger.MessagePublished(msg.Topic, msg.Kind.String(), out.Delivered, out.Dropped)
	b.maybeCompact()

	b.forward(msg)

	return out, blocked
}

// forward hands tracker-bound messages to the attached sinks after normal
// delivery. Sink errors are logged, never returned to the publisher.
func (b *Bus) forward(msg *Message) {
	tag := msg.EventTag()
	if tag == "" {
		return
	}

	b.sinkMu.RLock()
	coord := b.coordSink
	workflow := b.workflowSink
	b.sinkMu.RUnlock()

	switch {
	case msg.Kind == KindCoordination && tag == EventCoordinationResult && coord != nil:
		if err := coord.Consume(msg.Clone()); err != nil {
			b.logger.Warn("coordination_forward_failed", map[string]interface{}{
				"topic": msg.Topic,
				"error": err.Error(),
			})
		}
	case msg.Kind == KindEvent && tag == EventWorkflowStepCompleted && workflow != nil:
		if err := workflow.Consume(msg.Clone()); err != nil {
			b.logger.Warn("workflow_forward_failed", map[string]interface{}{
				"topic": msg.Topic,
				"error": err.Error(),
			})
		}
	}
}
