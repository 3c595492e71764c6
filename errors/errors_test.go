package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// ============================================================================
// 1. Error creation with different codes/categories
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		message      string
		wantCategory ErrorCategory
	}{
		{"timeout", ErrCodeTimeout, "operation timed out", CategoryTransient},
		{"queue_full", ErrCodeQueueFull, "queue at capacity", CategoryResource},
		{"invalid_message", ErrCodeInvalidMessage, "missing from_agent", CategoryPermanent},
		{"unknown_task", ErrCodeUnknownTask, "task not found", CategoryPermanent},
		{"step_mismatch", ErrCodeStepMismatch, "wrong step", CategoryPermanent},
		{"internal", ErrCodeInternal, "internal error", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Error() != tt.message {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.message)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrCodeUnknownWorkflow, "workflow %s not found", "W-1")
	want := "workflow W-1 not found"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeExpired)
	if err.Code() != ErrCodeExpired {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeExpired)
	}
	if err.Error() != ErrCodeExpired.Description() {
		t.Errorf("Error() = %v, want description", err.Error())
	}
}

// ============================================================================
// 2. Retry semantics
// ============================================================================

func TestRetryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrCodeTimeout, true},
		{ErrCodeQueueFull, true},
		{ErrCodeInvalidMessage, false},
		{ErrCodeDuplicateTask, false},
		{ErrCodeWorkflowTerminal, false},
		{ErrCodeInternal, false},
	}

	for _, tt := range tests {
		err := New(tt.code, "test")
		if err.Retryable() != tt.want {
			t.Errorf("%s: Retryable() = %v, want %v", tt.code, err.Retryable(), tt.want)
		}
	}
}

func TestWithRetryable(t *testing.T) {
	err := New(ErrCodeTimeout, "timeout", WithRetryable(false))
	if err.Retryable() {
		t.Error("WithRetryable(false) should override the default")
	}
}

// ============================================================================
// 3. Domain constructors
// ============================================================================

func TestDomainConstructors(t *testing.T) {
	if err := QueueFull("worker-1"); err.Code() != ErrCodeQueueFull || err.AgentID() != "worker-1" {
		t.Errorf("QueueFull = %+v", err)
	}
	if err := DuplicateTask("t1"); err.Code() != ErrCodeDuplicateTask || err.TaskID() != "t1" {
		t.Errorf("DuplicateTask = %+v", err)
	}
	if err := UnknownTask("t1"); err.Code() != ErrCodeUnknownTask || err.TaskID() != "t1" {
		t.Errorf("UnknownTask = %+v", err)
	}
	if err := DuplicateWorkflow("w1"); err.Code() != ErrCodeDuplicateWorkflow || err.WorkflowID() != "w1" {
		t.Errorf("DuplicateWorkflow = %+v", err)
	}
	if err := StepMismatch("w1", "plan"); err.Code() != ErrCodeStepMismatch || err.Metadata()["step"] != "plan" {
		t.Errorf("StepMismatch = %+v", err)
	}
	if err := UnknownNextStep("w1", "bogus"); err.Code() != ErrCodeUnknownNextStep || err.Metadata()["next_step"] != "bogus" {
		t.Errorf("UnknownNextStep = %+v", err)
	}
}

// ============================================================================
// 4. Cause chains and errors.Is interop
// ============================================================================

func TestWithCause(t *testing.T) {
	sentinel := errors.New("underlying")
	err := UnknownTask("t1", WithCause(sentinel))

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should find the cause")
	}
	if Cause(err) != sentinel {
		t.Errorf("Cause() = %v, want sentinel", Cause(err))
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("disk error")
	err := Wrap(inner, "recording result")

	if !errors.Is(err, inner) {
		t.Error("wrapped error should unwrap to inner")
	}
	if err.Error() == "" {
		t.Error("wrapped error should have a message")
	}
}

func TestWrap_PreservesAgentError(t *testing.T) {
	original := StepMismatch("w1", "plan", WithAgentID("executor"))
	wrapped := Wrap(original, "completing step")

	if wrapped.Code() != ErrCodeStepMismatch {
		t.Errorf("Code() = %v, want preserved code", wrapped.Code())
	}
	if wrapped.AgentID() != "executor" {
		t.Errorf("AgentID() = %v, want preserved", wrapped.AgentID())
	}
	if wrapped.WorkflowID() != "w1" {
		t.Errorf("WorkflowID() = %v, want preserved", wrapped.WorkflowID())
	}
}

func TestIs(t *testing.T) {
	err := UnknownWorkflow("w1")
	if !Is(err, ErrCodeUnknownWorkflow) {
		t.Error("Is should match the code")
	}
	if Is(err, ErrCodeUnknownTask) {
		t.Error("Is should not match a different code")
	}
	if Is(fmt.Errorf("plain"), ErrCodeUnknownWorkflow) {
		t.Error("Is should not match a non-agent error")
	}
}

func TestIsCategory(t *testing.T) {
	if !IsCategory(New(ErrCodeTimeout, "t"), CategoryTransient) {
		t.Error("expected transient category")
	}
	if !IsResource(QueueFull("a")) {
		t.Error("expected resource category")
	}
	if !IsPermanent(DuplicateTask("t1")) {
		t.Error("expected permanent category")
	}
}

// ============================================================================
// 5. JSON round trip
// ============================================================================

func TestJSONRoundTrip(t *testing.T) {
	original := New(ErrCodeQueueFull, "queue full for subscriber worker-1",
		WithAgentID("worker-1"),
		WithTaskID("t1"),
		WithMetadata("topic", "tasks"),
		WithTimestamp(time.Now().UTC().Truncate(time.Second)),
	)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Error
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.Code() != original.Code() {
		t.Errorf("Code = %v, want %v", decoded.Code(), original.Code())
	}
	if decoded.AgentID() != "worker-1" || decoded.TaskID() != "t1" {
		t.Errorf("ids = %q/%q", decoded.AgentID(), decoded.TaskID())
	}
	if decoded.Metadata()["topic"] != "tasks" {
		t.Errorf("metadata = %v", decoded.Metadata())
	}
}

// ============================================================================
// 6. Panic recovery
// ============================================================================

func TestRecoverPanic(t *testing.T) {
	err := RecoverPanic("boom")
	if err.Code() != ErrCodePanic {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodePanic)
	}
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should be nil")
	}
}
