// Package agent is the convenience surface agent code builds against: a
// Runtime that owns the bus and its trackers and exposes the operations
// agents actually call.
//
// # Overview
//
// A Runtime wires a fresh bus to a coordination tracker and a workflow
// tracker, with tagged result envelopes forwarded automatically. Agent
// code subscribes, receives in a loop, and uses the façade operations to
// broadcast, send directed requests, start coordination tasks, and drive
// workflows.
//
//	rt := agent.New(agent.DefaultConfig())
//	defer rt.Close()
//
//	rx, _ := rt.Subscribe("worker-1", []string{"tasks"})
//	go func() {
//	    for {
//	        msg, err := rx.Receive(ctx)
//	        if err != nil {
//	            return
//	        }
//	        // Handle message
//	    }
//	}()
//
// # Request/Response
//
// SendToAgent publishes a Request with a fresh correlation id and returns
// it; Reply answers a request; Await blocks until the matching Response
// arrives. Request combines the three for the common blocking exchange.
//
// # Lifecycle
//
// Run executes a set of agent loops concurrently and shuts the runtime
// down once they return. Close stops the trackers first and the bus last,
// so pending completion events still reach subscribers.
package agent
