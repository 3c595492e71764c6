// Package logging provides real-time structured log output for bus activity.
// The bus itself is the coordination record; this package provides optional
// console output for monitoring message flow and tracker state transitions.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
// A nil *Logger is safe to use and discards everything.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	agentID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		agentID:   l.agentID,
	}
}

// WithAgentID returns a new logger tagged with an agent identity.
func (l *Logger) WithAgentID(agentID string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		agentID:   agentID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil {
		return
	}
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		if l.agentID != "" {
			fields[0]["agent"] = l.agentID
		}
		fieldStr = formatFields(fields[0])
	} else if l.agentID != "" {
		fieldStr = " agent=" + l.agentID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Event-derived logging methods ---
// These are called by the dispatcher and trackers on state transitions.

// MessagePublished logs a successful dispatch (real-time output).
func (l *Logger) MessagePublished(topic, kind string, delivered, dropped int) {
	l.Debug("message_published", map[string]interface{}{
		"topic":     topic,
		"kind":      kind,
		"delivered": delivered,
		"dropped":   dropped,
	})
}

// MessageDropped logs a per-subscriber delivery drop.
func (l *Logger) MessageDropped(subscriberID, topic, reason string) {
	l.Debug("message_dropped", map[string]interface{}{
		"subscriber": subscriberID,
		"topic":      topic,
		"reason":     reason,
	})
}

// MessageExpired logs a TTL drop at dispatch time.
func (l *Logger) MessageExpired(topic string, age time.Duration) {
	l.Debug("message_expired", map[string]interface{}{
		"topic": topic,
		"age":   age.String(),
	})
}

// SubscriberEvicted logs a lazy eviction of a closed subscription.
func (l *Logger) SubscriberEvicted(subscriberID string) {
	l.Debug("subscriber_evicted", map[string]interface{}{
		"subscriber": subscriberID,
	})
}

// CoordinationStarted logs the creation of a coordination task.
func (l *Logger) CoordinationStarted(taskID, action string, participants int) {
	l.Info("coordination_started", map[string]interface{}{
		"task":         taskID,
		"action":       action,
		"participants": participants,
	})
}

// CoordinationCompleted logs a terminal coordination transition.
func (l *Logger) CoordinationCompleted(taskID, status string, results int) {
	l.Info("coordination_completed", map[string]interface{}{
		"task":    taskID,
		"status":  status,
		"results": results,
	})
}

// LateResult logs a duplicate coordination result from the same agent.
func (l *Logger) LateResult(taskID, agentID string, accepted bool) {
	l.Warn("late_result", map[string]interface{}{
		"task":     taskID,
		"from":     agentID,
		"accepted": accepted,
	})
}

// WorkflowRegistered logs workflow registration.
func (l *Logger) WorkflowRegistered(workflowID string, steps int) {
	l.Info("workflow_registered", map[string]interface{}{
		"workflow": workflowID,
		"steps":    steps,
	})
}

// WorkflowAdvanced logs a successful step completion.
func (l *Logger) WorkflowAdvanced(workflowID, step string, index int) {
	l.Debug("workflow_advanced", map[string]interface{}{
		"workflow": workflowID,
		"step":     step,
		"index":    index,
	})
}

// WorkflowCompleted logs a workflow reaching a terminal state.
func (l *Logger) WorkflowCompleted(workflowID, state string, duration time.Duration) {
	l.Info("workflow_completed", map[string]interface{}{
		"workflow": workflowID,
		"state":    state,
		"duration": duration.String(),
	})
}

// StepRejected logs a workflow advancement error.
func (l *Logger) StepRejected(workflowID, step string, err error) {
	fields := map[string]interface{}{
		"workflow": workflowID,
		"step":     step,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("step_rejected", fields)
}
