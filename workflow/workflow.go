package workflow

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vinayprograms/agentbus/bus"
)

var (
	// ErrDuplicateWorkflow indicates the workflow ID is already registered.
	ErrDuplicateWorkflow = errors.New("workflow already registered")

	// ErrUnknownWorkflow indicates the workflow ID is not registered.
	ErrUnknownWorkflow = errors.New("workflow not found")

	// ErrWorkflowTerminal indicates the workflow already completed or failed.
	ErrWorkflowTerminal = errors.New("workflow already terminal")

	// ErrStepMismatch indicates a result for a step other than the current
	// one, or from an agent other than the step's target.
	ErrStepMismatch = errors.New("result does not match current step")

	// ErrUnknownNextStep indicates a next_step that is not the declared
	// successor of the current step.
	ErrUnknownNextStep = errors.New("next step is not the declared successor")

	// ErrNoSteps indicates a workflow registered without steps.
	ErrNoSteps = errors.New("workflow needs at least one step")

	// ErrInvalidStep indicates a step missing its name or target agent.
	ErrInvalidStep = errors.New("step needs a name and a target agent")

	// ErrDuplicateStep indicates two steps share a name.
	ErrDuplicateStep = errors.New("step names must be unique")

	// ErrInvalidResult indicates a step result missing required fields.
	ErrInvalidResult = errors.New("step result is missing required fields")

	// ErrTrackerClosed indicates the tracker has been closed.
	ErrTrackerClosed = errors.New("workflow tracker closed")
)

// State is a workflow's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// String returns the state as a string.
func (s State) String() string { return string(s) }

// IsTerminal returns true once the workflow can no longer advance.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is a step execution outcome. Anything other than StatusSuccess
// fails the workflow.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Step is one stage of a workflow, executed by a named agent.
type Step struct {
	// Name identifies the step within its workflow.
	Name string `json:"step_name"`

	// AgentID is the subscriber expected to execute the step.
	AgentID string `json:"target_agent_id"`
}

// StepResult is an agent's report that it executed a workflow step.
type StepResult struct {
	// WorkflowID identifies the workflow.
	WorkflowID string `json:"workflow_id"`

	// Step is the name of the executed step. It must match the workflow's
	// current step.
	Step string `json:"step"`

	// AgentID is the reporting agent. It must match the step's target.
	AgentID string `json:"agent_id"`

	// Status is the execution outcome.
	Status Status `json:"status"`

	// Output is the step's product, recorded on the workflow and carried
	// into the next step's trigger payload.
	Output bus.Payload `json:"output,omitempty"`

	// NextStep optionally names the successor. When set it must equal the
	// next declared step.
	NextStep string `json:"next_step,omitempty"`

	// ExecutedAt is when the agent finished the step.
	ExecutedAt time.Time `json:"executed_at"`
}

// Validate checks that the result has its required fields.
func (r *StepResult) Validate() error {
	if r == nil || r.WorkflowID == "" || r.Step == "" || r.AgentID == "" {
		return ErrInvalidResult
	}
	if !r.Status.Valid() {
		return ErrInvalidResult
	}
	return nil
}

// ToPayload encodes the result as a bus payload tagged for the dispatcher.
func (r *StepResult) ToPayload() (bus.Payload, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var p bus.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	p[bus.KeyEvent] = bus.EventWorkflowStepCompleted
	return p, nil
}

// StepResultFromPayload decodes a step result from a bus payload.
func StepResultFromPayload(p bus.Payload) (*StepResult, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var r StepResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Workflow is an ordered sequence of steps advanced by successful step
// results.
type Workflow struct {
	// WorkflowID uniquely identifies the workflow.
	WorkflowID string `json:"workflow_id"`

	// Steps is the declared order of execution.
	Steps []Step `json:"steps"`

	// CurrentIndex is the step awaiting execution. Equal to len(Steps)
	// once every step succeeded.
	CurrentIndex int `json:"current_index"`

	// StepOutputs maps step name to its last recorded output.
	StepOutputs map[string]bus.Payload `json:"step_outputs"`

	// State is Running until the workflow completes or fails.
	State State `json:"state"`

	// RegisteredBy is the agent that registered the workflow.
	RegisteredBy string `json:"registered_by"`

	// RegisteredAt is when the workflow was registered.
	RegisteredAt time.Time `json:"registered_at"`

	// CompletedAt is when the workflow reached a terminal state.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// CurrentStep returns the step awaiting execution, if any.
func (w *Workflow) CurrentStep() (Step, bool) {
	if w.CurrentIndex < 0 || w.CurrentIndex >= len(w.Steps) {
		return Step{}, false
	}
	return w.Steps[w.CurrentIndex], true
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	clone := &Workflow{
		WorkflowID:   w.WorkflowID,
		CurrentIndex: w.CurrentIndex,
		State:        w.State,
		RegisteredBy: w.RegisteredBy,
		RegisteredAt: w.RegisteredAt,
		CompletedAt:  w.CompletedAt,
	}

	if w.Steps != nil {
		clone.Steps = make([]Step, len(w.Steps))
		copy(clone.Steps, w.Steps)
	}

	if w.StepOutputs != nil {
		clone.StepOutputs = make(map[string]bus.Payload, len(w.StepOutputs))
		for k, v := range w.StepOutputs {
			clone.StepOutputs[k] = v.Clone()
		}
	}

	return clone
}
