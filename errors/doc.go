// Package errors provides a structured error taxonomy for the agentbus
// message bus and its coordination trackers. It defines error codes and
// categories that enable consistent error handling across agents sharing
// the bus.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed
//   - Permanent: Failures where retry will not help (malformed envelope, unknown workflow, etc.)
//   - Resource: Resource exhaustion issues (delivery queue at capacity)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Error Codes
//
// Each error has a specific code that identifies the type of failure:
//
//   - INVALID_MESSAGE: Malformed envelope rejected at publish time
//   - EXPIRED: TTL elapsed before dispatch
//   - DUPLICATE_TASK / DUPLICATE_WORKFLOW: Tracker ID collisions
//   - STEP_MISMATCH / UNKNOWN_NEXT_STEP: Workflow advancement errors
//   - QUEUE_FULL: Subscriber delivery queue at capacity
//   - And more...
//
// # Usage
//
// Create a new error:
//
//	err := errors.InvalidMessage("publish: missing from_agent")
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "recording coordination result")
//
// Check a specific code anywhere in the chain:
//
//	if errors.Is(err, errors.ErrCodeStepMismatch) {
//	    // reject and re-trigger the step
//	}
//
// # JSON Serialization
//
// All errors support JSON serialization for cross-agent communication:
//
//	data, err := json.Marshal(agentErr)
//
// Errors can be deserialized back:
//
//	var agentErr errors.Error
//	json.Unmarshal(data, &agentErr)
package errors
