package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: subscriber queue full, coordination deadline pressure.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed envelope, unknown workflow, step mismatch.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or capacity issues.
	// Examples: bounded delivery queue at capacity.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: assertion failures, corrupted tracker state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for bus and tracker failure scenarios.
const (
	// Envelope and dispatch errors
	ErrCodeInvalidMessage ErrorCode = "INVALID_MESSAGE" // Malformed envelope at publish time
	ErrCodeExpired        ErrorCode = "EXPIRED"         // TTL elapsed before dispatch
	ErrCodeQueueFull      ErrorCode = "QUEUE_FULL"      // Subscriber delivery queue at capacity
	ErrCodeClosed         ErrorCode = "CLOSED"          // Bus or subscription closed

	// Coordination tracker errors
	ErrCodeDuplicateTask ErrorCode = "DUPLICATE_TASK" // Coordination task ID already tracked
	ErrCodeUnknownTask   ErrorCode = "UNKNOWN_TASK"   // Operation on a missing task ID
	ErrCodeTaskTerminal  ErrorCode = "TASK_TERMINAL"  // Task already reached a terminal state

	// Workflow tracker errors
	ErrCodeDuplicateWorkflow ErrorCode = "DUPLICATE_WORKFLOW" // Workflow ID already registered
	ErrCodeUnknownWorkflow   ErrorCode = "UNKNOWN_WORKFLOW"   // Operation on a missing workflow ID
	ErrCodeStepMismatch      ErrorCode = "STEP_MISMATCH"      // Result does not match the current step
	ErrCodeUnknownNextStep   ErrorCode = "UNKNOWN_NEXT_STEP"  // next_step refers to no declared step
	ErrCodeWorkflowTerminal  ErrorCode = "WORKFLOW_TERMINAL"  // Workflow already completed or failed

	// General errors
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Operation timed out
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed or invalid input
	ErrCodeInternal     ErrorCode = "INTERNAL"      // Unexpected internal error
	ErrCodePanic        ErrorCode = "PANIC"         // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	// Transient
	case ErrCodeTimeout:
		return CategoryTransient

	// Resource
	case ErrCodeQueueFull:
		return CategoryResource

	// Permanent
	case ErrCodeInvalidMessage, ErrCodeExpired, ErrCodeClosed,
		ErrCodeDuplicateTask, ErrCodeUnknownTask, ErrCodeTaskTerminal,
		ErrCodeDuplicateWorkflow, ErrCodeUnknownWorkflow, ErrCodeStepMismatch,
		ErrCodeUnknownNextStep, ErrCodeWorkflowTerminal,
		ErrCodeCanceled, ErrCodeInvalidInput:
		return CategoryPermanent

	// Internal
	case ErrCodeInternal, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeInvalidMessage:    "malformed message envelope",
	ErrCodeExpired:           "message expired before dispatch",
	ErrCodeQueueFull:         "subscriber queue at capacity",
	ErrCodeClosed:            "bus or subscription closed",
	ErrCodeDuplicateTask:     "coordination task already exists",
	ErrCodeUnknownTask:       "coordination task not found",
	ErrCodeTaskTerminal:      "coordination task already terminal",
	ErrCodeDuplicateWorkflow: "workflow already registered",
	ErrCodeUnknownWorkflow:   "workflow not found",
	ErrCodeStepMismatch:      "result does not match current workflow step",
	ErrCodeUnknownNextStep:   "next step does not match declared order",
	ErrCodeWorkflowTerminal:  "workflow already completed or failed",
	ErrCodeTimeout:           "operation timed out",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeInvalidInput:      "invalid input provided",
	ErrCodeInternal:          "internal error",
	ErrCodePanic:             "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
