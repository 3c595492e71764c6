// Package workflow tracks sequential multi-step workflows executed by
// agents over the message bus.
//
// # Overview
//
// A workflow is an ordered list of steps, each naming the agent that
// executes it. The tracker emits each step's trigger as an event on the
// "workflow" topic addressed to that agent, and advances only when the
// agent reports a successful StepResult for the current step. Any
// non-success result fails the workflow.
//
// # Advancement
//
// Completing the current step with success moves the index forward and
// automatically triggers the next step, carrying the recorded output as the
// trigger payload. A result may name its successor in NextStep; when set it
// must equal the next declared step, otherwise the workflow does not
// advance. Once the last step succeeds, the workflow completes and an event
// is published on "workflow_completed".
//
// # Usage
//
//	tracker := workflow.NewTracker(b, workflow.DefaultConfig())
//	b.AttachWorkflowSink(tracker)
//
//	w, err := tracker.Register("planner", "deploy-42", []workflow.Step{
//	    {Name: "plan", AgentID: "planner"},
//	    {Name: "exec", AgentID: "executor"},
//	})
//	_ = tracker.TriggerNext(w.WorkflowID, nil)
//
// Terminal workflows move to a bounded history and stay queryable through
// Get and History until evicted.
package workflow
