package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/agentbus/bus"
	agenterrors "github.com/vinayprograms/agentbus/errors"
	"github.com/vinayprograms/agentbus/logging"
	"github.com/vinayprograms/agentbus/telemetry"
)

// TrackerAgentID is the sender identity on envelopes the tracker emits.
const TrackerAgentID = "coordination-tracker"

// Publisher publishes envelopes on behalf of the tracker. *bus.Bus
// satisfies it.
type Publisher interface {
	Publish(msg *bus.Message) (bus.PublishOutcome, error)
}

// Config holds tracker configuration.
type Config struct {
	// HistorySize bounds the buffer of terminal tasks kept for queries.
	// Default: 1024
	HistorySize int

	// Logger receives tracker activity. Nil means silent.
	Logger *logging.Logger

	// Exporter receives task state transitions. Nil means discard.
	Exporter telemetry.Exporter
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize: 1024,
	}
}

// entry pairs an active task with its deadline timer and trace span.
type entry struct {
	task *Task
	stop chan struct{} // closed to cancel the deadline timer
	span trace.Span
}

// Tracker manages coordination tasks: fan-out, result gathering, deadline
// timers, and aggregate completion. All state transitions are serialized
// per tracker; completion events are published outside the lock.
type Tracker struct {
	pub      Publisher
	logger   *logging.Logger
	exporter telemetry.Exporter

	mu      sync.Mutex
	active  map[string]*entry
	history *lru.Cache[string, *Task]

	closed atomic.Bool
}

// NewTracker creates a coordination tracker publishing through pub.
func NewTracker(pub Publisher, cfg Config) *Tracker {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}

	if cfg.Exporter == nil {
		cfg.Exporter = telemetry.NewNoopExporter()
	}

	history, _ := lru.New[string, *Task](cfg.HistorySize)

	return &Tracker{
		pub:      pub,
		logger:   cfg.Logger.WithComponent("coordination"),
		exporter: cfg.Exporter,
		active:   make(map[string]*entry),
		history:  history,
	}
}

// Consume implements bus.Sink: the dispatcher forwards tagged coordination
// result envelopes here after normal delivery.
func (t *Tracker) Consume(msg *bus.Message) error {
	res, err := ResultFromPayload(msg.Payload)
	if err != nil {
		return err
	}
	return t.RecordResult(*res)
}

// StartTask creates a tracker entry and fans a Coordination envelope out to
// every participant. An empty taskID is assigned a generated one. Fan-out
// failures do not abort the task; missing participants surface at the
// deadline. Returns a snapshot of the created task.
func (t *Tracker) StartTask(from, taskID, action string, participants []string, deadline time.Time) (*Task, error) {
	if t.closed.Load() {
		return nil, ErrTrackerClosed
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	for _, p := range participants {
		if p == "" {
			return nil, ErrNoParticipants
		}
	}
	if taskID == "" {
		taskID = uuid.NewString()
	}

	task := &Task{
		TaskID:       taskID,
		Action:       action,
		Participants: append([]string(nil), participants...),
		IssuedBy:     from,
		IssuedAt:     time.Now(),
		Deadline:     deadline,
		Results:      make(map[string]Result, len(participants)),
		Status:       StatusPending,
	}

	_, span := telemetry.GetTracer().StartCoordinationSpan(context.Background(), taskID)
	e := &entry{task: task, stop: make(chan struct{}), span: span}

	t.mu.Lock()
	if _, ok := t.active[taskID]; ok {
		t.mu.Unlock()
		span.End()
		return nil, agenterrors.DuplicateTask(taskID, agenterrors.WithCause(ErrDuplicateTask))
	}
	if _, ok := t.history.Get(taskID); ok {
		t.mu.Unlock()
		span.End()
		return nil, agenterrors.DuplicateTask(taskID, agenterrors.WithCause(ErrDuplicateTask))
	}
	t.active[taskID] = e
	t.mu.Unlock()

	if !deadline.IsZero() {
		go t.runDeadline(taskID, deadline, e.stop)
	}

	t.logger.CoordinationStarted(taskID, action, len(participants))

	for _, p := range participants {
		msg := bus.NewMessage(from, bus.TopicCoordination, bus.KindCoordination, bus.Payload{
			bus.KeyTaskID: taskID,
			bus.KeyAction: action,
		})
		msg.ToAgent = p
		if _, err := t.pub.Publish(msg); err != nil {
			t.logger.Warn("coordination_fanout_failed", map[string]interface{}{
				"task":        taskID,
				"participant": p,
				"error":       err.Error(),
			})
		}
	}

	return task.Clone(), nil
}

// RecordResult stores one participant's result. Recording is idempotent:
// a second result from the same agent replaces the first only when its
// CompletedAt is newer, and either way logs a late-result warning. When the
// last participant reports, the task completes and the aggregate event is
// published on "coordination_completed".
func (t *Tracker) RecordResult(res Result) error {
	if t.closed.Load() {
		return ErrTrackerClosed
	}
	if err := res.Validate(); err != nil {
		return err
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}

	t.mu.Lock()
	e, ok := t.active[res.TaskID]
	if !ok {
		_, inHistory := t.history.Get(res.TaskID)
		t.mu.Unlock()
		if inHistory {
			t.logger.LateResult(res.TaskID, res.AgentID, false)
			return agenterrors.New(agenterrors.ErrCodeTaskTerminal, "result for completed task",
				agenterrors.WithTaskID(res.TaskID), agenterrors.WithAgentID(res.AgentID),
				agenterrors.WithCause(ErrTaskTerminal))
		}
		return agenterrors.UnknownTask(res.TaskID, agenterrors.WithCause(ErrUnknownTask))
	}

	if !isParticipant(e.task.Participants, res.AgentID) {
		t.mu.Unlock()
		return agenterrors.New(agenterrors.ErrCodeInvalidInput, "agent is not a task participant",
			agenterrors.WithTaskID(res.TaskID), agenterrors.WithAgentID(res.AgentID),
			agenterrors.WithCause(ErrUnknownParticipant))
	}

	if prior, dup := e.task.Results[res.AgentID]; dup {
		accepted := res.CompletedAt.After(prior.CompletedAt)
		if accepted {
			e.task.Results[res.AgentID] = res
		}
		done := len(e.task.Results) == len(e.task.Participants)
		var finished *Task
		if done {
			finished = t.finishLocked(e, e.task.aggregate(false))
		}
		t.mu.Unlock()

		t.logger.LateResult(res.TaskID, res.AgentID, accepted)
		if finished != nil {
			t.publishCompletion(finished)
		}
		return nil
	}

	e.task.Results[res.AgentID] = res

	var finished *Task
	if len(e.task.Results) == len(e.task.Participants) {
		finished = t.finishLocked(e, e.task.aggregate(false))
	}
	t.mu.Unlock()

	if finished != nil {
		t.publishCompletion(finished)
	}
	return nil
}

// Cancel transitions a pending task to Failed and publishes the completion
// event.
func (t *Tracker) Cancel(taskID string) error {
	t.mu.Lock()
	e, ok := t.active[taskID]
	if !ok {
		_, inHistory := t.history.Get(taskID)
		t.mu.Unlock()
		if inHistory {
			return agenterrors.New(agenterrors.ErrCodeTaskTerminal, "cancel of completed task",
				agenterrors.WithTaskID(taskID), agenterrors.WithCause(ErrTaskTerminal))
		}
		return agenterrors.UnknownTask(taskID, agenterrors.WithCause(ErrUnknownTask))
	}
	finished := t.finishLocked(e, StatusFailed)
	t.mu.Unlock()

	t.publishCompletion(finished)
	return nil
}

// Get returns a snapshot of a task, active or from history.
func (t *Tracker) Get(taskID string) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.active[taskID]; ok {
		return e.task.Clone(), nil
	}
	if task, ok := t.history.Get(taskID); ok {
		return task.Clone(), nil
	}
	return nil, agenterrors.UnknownTask(taskID, agenterrors.WithCause(ErrUnknownTask))
}

// Active returns snapshots of all pending tasks.
func (t *Tracker) Active() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Task, 0, len(t.active))
	for _, e := range t.active {
		out = append(out, e.task.Clone())
	}
	return out
}

// History returns snapshots of terminal tasks, oldest first.
func (t *Tracker) History() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	values := t.history.Values()
	out := make([]*Task, 0, len(values))
	for _, task := range values {
		out = append(out, task.Clone())
	}
	return out
}

// Close stops all deadline timers. Pending tasks stay queryable but no
// further results are accepted.
func (t *Tracker) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.active {
		close(e.stop)
		e.span.End()
	}
	return nil
}

// runDeadline is the per-task timer. It fires once unless the task
// completes first.
func (t *Tracker) runDeadline(taskID string, deadline time.Time, stop chan struct{}) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-timer.C:
		t.expire(taskID)
	case <-stop:
	}
}

// expire transitions a task whose deadline passed before all participants
// reported.
func (t *Tracker) expire(taskID string) {
	t.mu.Lock()
	e, ok := t.active[taskID]
	if !ok {
		t.mu.Unlock()
		return
	}
	finished := t.finishLocked(e, e.task.aggregate(true))
	t.mu.Unlock()

	t.publishCompletion(finished)
}

// finishLocked moves a task to its terminal state and into history.
// Callers hold t.mu and publish the completion event after unlocking.
func (t *Tracker) finishLocked(e *entry, status Status) *Task {
	e.task.Status = status
	e.task.CompletedAt = time.Now()
	delete(t.active, e.task.TaskID)
	t.history.Add(e.task.TaskID, e.task)

	select {
	case <-e.stop:
	default:
		close(e.stop)
	}

	telemetry.GetTracer().EndCoordinationSpan(e.span, telemetry.CoordinationSpanOptions{
		TaskID:       e.task.TaskID,
		Action:       e.task.Action,
		Participants: len(e.task.Participants),
		Results:      len(e.task.Results),
		Status:       status.String(),
	}, nil)

	return e.task.Clone()
}

// publishCompletion emits the aggregate outcome on "coordination_completed".
func (t *Tracker) publishCompletion(task *Task) {
	t.logger.CoordinationCompleted(task.TaskID, task.Status.String(), len(task.Results))
	t.exporter.LogTransition(telemetry.Transition{
		Component: "coordination",
		TaskID:    task.TaskID,
		Status:    task.Status.String(),
		Duration:  task.CompletedAt.Sub(task.IssuedAt),
		Extra: map[string]interface{}{
			"participants": len(task.Participants),
			"results":      len(task.Results),
		},
	})

	statuses := make(map[string]any, len(task.Results))
	for agentID, r := range task.Results {
		statuses[agentID] = r.Status.String()
	}

	payload := bus.Payload{
		bus.KeyTaskID: task.TaskID,
		bus.KeyAction: task.Action,
		bus.KeyStatus: task.Status.String(),
		"results":     statuses,
	}
	if missing := task.Missing(); len(missing) > 0 {
		vals := make([]any, len(missing))
		for i, m := range missing {
			vals[i] = m
		}
		payload["missing"] = vals
	}

	msg := bus.NewMessage(TrackerAgentID, bus.TopicCoordinationCompleted, bus.KindEvent, payload)
	if _, err := t.pub.Publish(msg); err != nil {
		t.logger.Warn("completion_publish_failed", map[string]interface{}{
			"task":  task.TaskID,
			"error": err.Error(),
		})
	}
}

func isParticipant(participants []string, agentID string) bool {
	for _, p := range participants {
		if p == agentID {
			return true
		}
	}
	return false
}
