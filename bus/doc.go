// Package bus provides an in-process publish/subscribe message bus for
// agent-to-agent communication.
//
// # Overview
//
// Agents exchange Message envelopes by topic. Each subscriber owns a bounded
// priority-aware delivery queue; publishing fans a clone of the envelope out
// to every matching queue without ever blocking on a slow consumer. The bus
// tracks per-topic and per-subscriber statistics and forwards coordination
// results and workflow step events to attached trackers.
//
// # Subscriptions
//
// A subscriber has at most one subscription. Re-subscribing atomically
// replaces the topic set and returns a fresh Receiver; the previous receiver
// drains whatever was queued and then observes end-of-stream:
//
//	rx, _ := b.Subscribe("worker-1", []string{"tasks", "alerts"})
//	for {
//	    msg, err := rx.Receive(ctx)
//	    if err != nil {
//	        break // context canceled or subscription closed
//	    }
//	    // Handle message
//	}
//
// # Delivery Order
//
// Within one subscriber's queue, messages are delivered ordered by
// (priority desc, publish order asc). No order is guaranteed across
// subscribers.
//
// # Back-pressure
//
// The default Publish drops the message for any subscriber whose queue is
// full, counts it in PublishOutcome and the overflow statistics, and keeps
// delivering to everyone else. PublishWait is the blocking variant; it is
// the only path that surfaces ErrQueueFull.
//
// # Directed Messages and TTL
//
// Setting ToAgent restricts delivery to that single subscriber (it must
// still be subscribed to the topic). Setting TTLSeconds drops the message
// at dispatch time once its timestamp is too old; expired publishes return
// ErrExpired without touching any queue.
package bus
