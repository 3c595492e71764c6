// Package coordination tracks multi-agent coordination tasks issued over
// the message bus.
//
// # Overview
//
// A coordinator starts a task naming an action and a set of participants.
// The tracker fans a Coordination envelope out to each participant and then
// gathers their Results. When every participant has reported, or the
// deadline passes first, the tracker computes the aggregate Status and
// publishes a single completion event on the "coordination_completed"
// topic.
//
// # Aggregate Status
//
// The aggregate is Success when every participant succeeded,
// PartialSuccess when at least one succeeded and none timed out, TimedOut
// when the deadline fired with results still missing, and Failed otherwise
// (including cancellation).
//
// # Usage
//
//	tracker := coordination.NewTracker(b, coordination.DefaultConfig())
//	b.AttachCoordinationSink(tracker)
//
//	task, err := tracker.StartTask("planner", "", "rebalance-shards",
//	    []string{"worker-1", "worker-2"}, time.Now().Add(30*time.Second))
//
// Participants report either directly through RecordResult or by publishing
// a result envelope on the bus; the dispatcher forwards tagged coordination
// results to the attached tracker.
//
// Terminal tasks move to a bounded history and stay queryable through Get
// and History until evicted.
package coordination
