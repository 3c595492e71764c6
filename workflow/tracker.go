package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vinayprograms/agentbus/bus"
	agenterrors "github.com/vinayprograms/agentbus/errors"
	"github.com/vinayprograms/agentbus/logging"
	"github.com/vinayprograms/agentbus/telemetry"
)

// TrackerAgentID is the sender identity on envelopes the tracker emits.
const TrackerAgentID = "workflow-tracker"

// Publisher publishes envelopes on behalf of the tracker. *bus.Bus
// satisfies it.
type Publisher interface {
	Publish(msg *bus.Message) (bus.PublishOutcome, error)
}

// Config holds tracker configuration.
type Config struct {
	// HistorySize bounds the buffer of terminal workflows kept for
	// queries. Default: 1024
	HistorySize int

	// Logger receives tracker activity. Nil means silent.
	Logger *logging.Logger

	// Exporter receives workflow state transitions. Nil means discard.
	Exporter telemetry.Exporter
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize: 1024,
	}
}

// Tracker manages sequential workflows: registration, step triggers, and
// advancement on step results. All state transitions are serialized per
// tracker; triggers and completion events are published outside the lock.
type Tracker struct {
	pub      Publisher
	logger   *logging.Logger
	exporter telemetry.Exporter

	mu      sync.Mutex
	active  map[string]*Workflow
	history *lru.Cache[string, *Workflow]

	closed atomic.Bool
}

// NewTracker creates a workflow tracker publishing through pub.
func NewTracker(pub Publisher, cfg Config) *Tracker {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}

	if cfg.Exporter == nil {
		cfg.Exporter = telemetry.NewNoopExporter()
	}

	history, _ := lru.New[string, *Workflow](cfg.HistorySize)

	return &Tracker{
		pub:      pub,
		logger:   cfg.Logger.WithComponent("workflow"),
		exporter: cfg.Exporter,
		active:   make(map[string]*Workflow),
		history:  history,
	}
}

// Consume implements bus.Sink: the dispatcher forwards tagged step
// completion envelopes here after normal delivery.
func (t *Tracker) Consume(msg *bus.Message) error {
	res, err := StepResultFromPayload(msg.Payload)
	if err != nil {
		return err
	}
	return t.CompleteStep(*res)
}

// Register creates a workflow in the Running state at step zero. An empty
// workflowID is assigned a generated one. Step names must be unique within
// the workflow. Returns a snapshot of the registered workflow.
func (t *Tracker) Register(from, workflowID string, steps []Step) (*Workflow, error) {
	if t.closed.Load() {
		return nil, ErrTrackerClosed
	}
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	names := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.Name == "" || s.AgentID == "" {
			return nil, ErrInvalidStep
		}
		if names[s.Name] {
			return nil, ErrDuplicateStep
		}
		names[s.Name] = true
	}
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	w := &Workflow{
		WorkflowID:   workflowID,
		Steps:        append([]Step(nil), steps...),
		CurrentIndex: 0,
		StepOutputs:  make(map[string]bus.Payload, len(steps)),
		State:        StateRunning,
		RegisteredBy: from,
		RegisteredAt: time.Now(),
	}

	t.mu.Lock()
	if _, ok := t.active[workflowID]; ok {
		t.mu.Unlock()
		return nil, agenterrors.DuplicateWorkflow(workflowID, agenterrors.WithCause(ErrDuplicateWorkflow))
	}
	if _, ok := t.history.Get(workflowID); ok {
		t.mu.Unlock()
		return nil, agenterrors.DuplicateWorkflow(workflowID, agenterrors.WithCause(ErrDuplicateWorkflow))
	}
	t.active[workflowID] = w
	t.mu.Unlock()

	t.logger.WorkflowRegistered(workflowID, len(steps))
	return w.Clone(), nil
}

// TriggerNext emits the current step's trigger envelope to its target
// agent on the "workflow" topic. The caller's payload is merged with the
// workflow id and step name.
func (t *Tracker) TriggerNext(workflowID string, payload bus.Payload) error {
	if t.closed.Load() {
		return ErrTrackerClosed
	}

	t.mu.Lock()
	w, ok := t.active[workflowID]
	if !ok {
		_, inHistory := t.history.Get(workflowID)
		t.mu.Unlock()
		if inHistory {
			return agenterrors.New(agenterrors.ErrCodeWorkflowTerminal, "trigger on terminal workflow",
				agenterrors.WithWorkflowID(workflowID), agenterrors.WithCause(ErrWorkflowTerminal))
		}
		return agenterrors.UnknownWorkflow(workflowID, agenterrors.WithCause(ErrUnknownWorkflow))
	}
	step, ok := w.CurrentStep()
	t.mu.Unlock()
	if !ok {
		return agenterrors.New(agenterrors.ErrCodeWorkflowTerminal, "no step left to trigger",
			agenterrors.WithWorkflowID(workflowID), agenterrors.WithCause(ErrWorkflowTerminal))
	}

	t.publishTrigger(workflowID, step, payload)
	return nil
}

// CompleteStep records one step's result and advances the workflow. The
// result must name the current step and its target agent. On success the
// index advances and, unless the workflow just completed, the next step's
// trigger is published with the recorded output as payload. Any
// non-success status fails the workflow.
func (t *Tracker) CompleteStep(res StepResult) error {
	if t.closed.Load() {
		return ErrTrackerClosed
	}
	if err := res.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	w, ok := t.active[res.WorkflowID]
	if !ok {
		_, inHistory := t.history.Get(res.WorkflowID)
		t.mu.Unlock()
		if inHistory {
			return agenterrors.New(agenterrors.ErrCodeWorkflowTerminal, "step result for terminal workflow",
				agenterrors.WithWorkflowID(res.WorkflowID), agenterrors.WithCause(ErrWorkflowTerminal))
		}
		return agenterrors.UnknownWorkflow(res.WorkflowID, agenterrors.WithCause(ErrUnknownWorkflow))
	}

	step, ok := w.CurrentStep()
	if !ok || step.Name != res.Step || step.AgentID != res.AgentID {
		t.mu.Unlock()
		err := agenterrors.StepMismatch(res.WorkflowID, res.Step, agenterrors.WithCause(ErrStepMismatch))
		t.logger.StepRejected(res.WorkflowID, res.Step, err)
		return err
	}

	w.StepOutputs[res.Step] = res.Output.Clone()

	if res.Status != StatusSuccess {
		finished := t.finishLocked(w, StateFailed)
		t.mu.Unlock()
		t.recordStepSpan(res)
		t.publishCompletion(finished)
		return nil
	}

	if res.NextStep != "" {
		next := w.CurrentIndex + 1
		if next >= len(w.Steps) || w.Steps[next].Name != res.NextStep {
			t.mu.Unlock()
			err := agenterrors.UnknownNextStep(res.WorkflowID, res.NextStep, agenterrors.WithCause(ErrUnknownNextStep))
			t.logger.StepRejected(res.WorkflowID, res.Step, err)
			return err
		}
	}

	w.CurrentIndex++

	if w.CurrentIndex == len(w.Steps) {
		finished := t.finishLocked(w, StateCompleted)
		t.mu.Unlock()
		t.recordStepSpan(res)
		t.publishCompletion(finished)
		return nil
	}

	next := w.Steps[w.CurrentIndex]
	index := w.CurrentIndex
	t.mu.Unlock()

	t.recordStepSpan(res)
	t.logger.WorkflowAdvanced(res.WorkflowID, res.Step, index)
	t.publishTrigger(res.WorkflowID, next, res.Output)
	return nil
}

// Cancel transitions a running workflow to Failed and publishes the
// completion event.
func (t *Tracker) Cancel(workflowID string) error {
	t.mu.Lock()
	w, ok := t.active[workflowID]
	if !ok {
		_, inHistory := t.history.Get(workflowID)
		t.mu.Unlock()
		if inHistory {
			return agenterrors.New(agenterrors.ErrCodeWorkflowTerminal, "cancel of terminal workflow",
				agenterrors.WithWorkflowID(workflowID), agenterrors.WithCause(ErrWorkflowTerminal))
		}
		return agenterrors.UnknownWorkflow(workflowID, agenterrors.WithCause(ErrUnknownWorkflow))
	}
	finished := t.finishLocked(w, StateFailed)
	t.mu.Unlock()

	t.publishCompletion(finished)
	return nil
}

// Get returns a snapshot of a workflow, active or from history.
func (t *Tracker) Get(workflowID string) (*Workflow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if w, ok := t.active[workflowID]; ok {
		return w.Clone(), nil
	}
	if w, ok := t.history.Get(workflowID); ok {
		return w.Clone(), nil
	}
	return nil, agenterrors.UnknownWorkflow(workflowID, agenterrors.WithCause(ErrUnknownWorkflow))
}

// Active returns snapshots of all running workflows.
func (t *Tracker) Active() []*Workflow {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Workflow, 0, len(t.active))
	for _, w := range t.active {
		out = append(out, w.Clone())
	}
	return out
}

// History returns snapshots of terminal workflows, oldest first.
func (t *Tracker) History() []*Workflow {
	t.mu.Lock()
	defer t.mu.Unlock()

	values := t.history.Values()
	out := make([]*Workflow, 0, len(values))
	for _, w := range values {
		out = append(out, w.Clone())
	}
	return out
}

// Close stops the tracker. Running workflows stay queryable but no further
// advancement is accepted.
func (t *Tracker) Close() error {
	t.closed.Store(true)
	return nil
}

// finishLocked moves a workflow to its terminal state and into history.
// Callers hold t.mu and publish the completion event after unlocking.
func (t *Tracker) finishLocked(w *Workflow, state State) *Workflow {
	w.State = state
	w.CompletedAt = time.Now()
	delete(t.active, w.WorkflowID)
	t.history.Add(w.WorkflowID, w)
	return w.Clone()
}

// publishTrigger emits a step's trigger envelope on the "workflow" topic.
func (t *Tracker) publishTrigger(workflowID string, step Step, payload bus.Payload) {
	merged := payload.Clone()
	if merged == nil {
		merged = bus.Payload{}
	}
	merged[bus.KeyWorkflowID] = workflowID
	merged[bus.KeyStep] = step.Name

	msg := bus.NewMessage(TrackerAgentID, bus.TopicWorkflow, bus.KindEvent, merged)
	msg.ToAgent = step.AgentID
	if _, err := t.pub.Publish(msg); err != nil {
		t.logger.Warn("step_trigger_failed", map[string]interface{}{
			"workflow": workflowID,
			"step":     step.Name,
			"error":    err.Error(),
		})
	}
}

// publishCompletion emits the terminal outcome on "workflow_completed".
func (t *Tracker) publishCompletion(w *Workflow) {
	t.logger.WorkflowCompleted(w.WorkflowID, w.State.String(), w.CompletedAt.Sub(w.RegisteredAt))
	t.exporter.LogTransition(telemetry.Transition{
		Component:  "workflow",
		WorkflowID: w.WorkflowID,
		Status:     w.State.String(),
		Duration:   w.CompletedAt.Sub(w.RegisteredAt),
		Extra: map[string]interface{}{
			"steps":           len(w.Steps),
			"completed_steps": w.CurrentIndex,
		},
	})

	msg := bus.NewMessage(TrackerAgentID, bus.TopicWorkflowCompleted, bus.KindEvent, bus.Payload{
		bus.KeyWorkflowID: w.WorkflowID,
		bus.KeyStatus:     w.State.String(),
		"steps":           float64(len(w.Steps)),
		"completed_steps": float64(w.CurrentIndex),
	})
	if _, err := t.pub.Publish(msg); err != nil {
		t.logger.Warn("completion_publish_failed", map[string]interface{}{
			"workflow": w.WorkflowID,
			"error":    err.Error(),
		})
	}
}

// recordStepSpan emits a point span for one step completion.
func (t *Tracker) recordStepSpan(res StepResult) {
	var duration time.Duration
	if !res.ExecutedAt.IsZero() {
		duration = time.Since(res.ExecutedAt)
	}
	_, span := telemetry.GetTracer().StartWorkflowSpan(context.Background(), res.WorkflowID, res.Step)
	telemetry.GetTracer().EndWorkflowSpan(span, telemetry.WorkflowSpanOptions{
		WorkflowID: res.WorkflowID,
		Step:       res.Step,
		Agent:      res.AgentID,
		Status:     string(res.Status),
		Duration:   duration,
	}, nil)
	t.exporter.LogTransition(telemetry.Transition{
		Component:  "workflow",
		WorkflowID: res.WorkflowID,
		Step:       res.Step,
		AgentID:    res.AgentID,
		Status:     string(res.Status),
		Duration:   duration,
	})
}
