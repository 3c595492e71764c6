package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	// Info should pass
	logger.Info("info message")
	if buf.Len() == 0 {
		t.Error("info message should be logged")
	}

	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("bus")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[bus]") {
		t.Errorf("expected component 'bus' in log, got: %s", output)
	}
}

func TestLogger_WithAgentID(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithAgentID("worker-1")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "agent=worker-1") {
		t.Errorf("expected agent id in log, got: %s", output)
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("message_published", map[string]interface{}{
		"topic":     "tasks",
		"delivered": 3,
	})

	output := buf.String()
	if !strings.Contains(output, "topic=tasks") {
		t.Errorf("expected topic field in log, got: %s", output)
	}
	if !strings.Contains(output, "delivered=3") {
		t.Errorf("expected delivered field in log, got: %s", output)
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var logger *Logger

	// None of these may panic.
	logger.Info("ignored")
	logger.Warn("ignored")
	logger.MessagePublished("t", "event", 1, 0)
	logger.CoordinationStarted("t1", "act", 2)
	logger.WorkflowCompleted("w1", "completed", time.Second)

	derived := logger.WithComponent("bus")
	if derived != nil {
		t.Error("deriving from a nil logger should stay nil")
	}
	derived.Info("still ignored")
}

func TestLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("coordination")
	logger.SetOutput(&buf)

	logger.CoordinationStarted("t1", "reindex", 3)
	logger.CoordinationCompleted("t1", "success", 3)
	logger.LateResult("t1", "w1", false)

	output := buf.String()
	if !strings.Contains(output, "coordination_started") {
		t.Errorf("missing coordination_started: %s", output)
	}
	if !strings.Contains(output, "status=success") {
		t.Errorf("missing status field: %s", output)
	}
	if !strings.Contains(output, "late_result") || !strings.Contains(output, "accepted=false") {
		t.Errorf("missing late_result warning: %s", output)
	}
}

func TestLogger_DebugHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("bus")
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.MessageDropped("w1", "tasks", "queue_full")
	logger.MessageExpired("tasks", 90*time.Second)

	output := buf.String()
	if !strings.Contains(output, "message_dropped") || !strings.Contains(output, "reason=queue_full") {
		t.Errorf("missing drop entry: %s", output)
	}
	if !strings.Contains(output, "message_expired") {
		t.Errorf("missing expiry entry: %s", output)
	}
}
