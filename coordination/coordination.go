package coordination

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vinayprograms/agentbus/bus"
)

// Common errors.
var (
	// ErrDuplicateTask indicates the task ID is already tracked.
	ErrDuplicateTask = errors.New("coordination task already exists")

	// ErrUnknownTask indicates the task ID is not tracked.
	ErrUnknownTask = errors.New("coordination task not found")

	// ErrTaskTerminal indicates the task already reached a terminal state.
	ErrTaskTerminal = errors.New("coordination task already terminal")

	// ErrNoParticipants indicates a task was started without participants.
	ErrNoParticipants = errors.New("coordination task needs at least one participant")

	// ErrUnknownParticipant indicates a result from an agent that is not a
	// participant of the task.
	ErrUnknownParticipant = errors.New("agent is not a task participant")

	// ErrInvalidResult indicates a result missing required fields.
	ErrInvalidResult = errors.New("invalid coordination result")

	// ErrTrackerClosed indicates the tracker has been closed.
	ErrTrackerClosed = errors.New("coordination tracker closed")
)

// Status represents the state of a coordination task or a single result.
type Status string

const (
	// StatusPending indicates the task is still gathering results.
	StatusPending Status = "pending"

	// StatusSuccess indicates every participant reported success.
	StatusSuccess Status = "success"

	// StatusPartialSuccess indicates a mix of success and failure.
	StatusPartialSuccess Status = "partial_success"

	// StatusFailed indicates no participant succeeded, or the task was
	// canceled.
	StatusFailed Status = "failed"

	// StatusTimedOut indicates the deadline passed with participants missing.
	StatusTimedOut Status = "timed_out"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusPartialSuccess, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s != StatusPending && s != ""
}

// Result is one participant's answer to a coordination task.
type Result struct {
	// TaskID identifies the coordination task.
	TaskID string `json:"task_id"`

	// AgentID is the reporting participant.
	AgentID string `json:"agent_id"`

	// Status is the participant's outcome.
	Status Status `json:"status"`

	// Result carries the participant's output.
	Result bus.Payload `json:"result,omitempty"`

	// ProcessingTimeMs is how long the participant worked on the task.
	ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`

	// NextSteps are optional advisories for the originator.
	NextSteps []string `json:"next_steps,omitempty"`

	// CompletedAt is when the participant finished. Newer values win when
	// the same agent reports twice.
	CompletedAt time.Time `json:"completed_at"`
}

// Validate checks that the result has its required fields.
func (r *Result) Validate() error {
	if r == nil || r.TaskID == "" || r.AgentID == "" {
		return ErrInvalidResult
	}
	if !r.Status.Valid() || r.Status == StatusPending {
		return ErrInvalidResult
	}
	return nil
}

// ToPayload encodes the result as a bus payload tagged for the dispatcher.
func (r *Result) ToPayload() (bus.Payload, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var p bus.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	p[bus.KeyEvent] = bus.EventCoordinationResult
	return p, nil
}

// ResultFromPayload decodes a result from a bus payload.
func ResultFromPayload(p bus.Payload) (*Result, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Task is a one-to-many coordination request and its gathered results.
type Task struct {
	// TaskID uniquely identifies the task.
	TaskID string `json:"task_id"`

	// Action is the opaque action tag fanned out to participants.
	Action string `json:"action"`

	// Participants are the subscriber ids expected to report.
	Participants []string `json:"participants"`

	// IssuedBy is the originating agent.
	IssuedBy string `json:"issued_by"`

	// IssuedAt is when the task was started.
	IssuedAt time.Time `json:"issued_at"`

	// Deadline bounds result gathering. Zero means no deadline.
	Deadline time.Time `json:"deadline,omitempty"`

	// Results maps participant id to its reported result.
	Results map[string]Result `json:"results"`

	// Status is the aggregate outcome. Pending until terminal.
	Status Status `json:"status"`

	// CompletedAt is when the task reached a terminal state.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	clone := &Task{
		TaskID:      t.TaskID,
		Action:      t.Action,
		IssuedBy:    t.IssuedBy,
		IssuedAt:    t.IssuedAt,
		Deadline:    t.Deadline,
		Status:      t.Status,
		CompletedAt: t.CompletedAt,
	}

	if t.Participants != nil {
		clone.Participants = make([]string, len(t.Participants))
		copy(clone.Participants, t.Participants)
	}

	if t.Results != nil {
		clone.Results = make(map[string]Result, len(t.Results))
		for k, v := range t.Results {
			v.Result = v.Result.Clone()
			if v.NextSteps != nil {
				steps := make([]string, len(v.NextSteps))
				copy(steps, v.NextSteps)
				v.NextSteps = steps
			}
			clone.Results[k] = v
		}
	}

	return clone
}

// Missing returns the participants that have not reported yet.
func (t *Task) Missing() []string {
	var missing []string
	for _, p := range t.Participants {
		if _, ok := t.Results[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// aggregate computes the terminal status from the gathered results.
// The rule: Success iff every participant succeeded; PartialSuccess when
// successes mix with failures but nothing timed out; TimedOut when a
// participant is missing at the deadline; otherwise Failed.
func (t *Task) aggregate(atDeadline bool) Status {
	if atDeadline && len(t.Results) < len(t.Participants) {
		return StatusTimedOut
	}

	successes := 0
	timedOut := 0
	for _, r := range t.Results {
		switch r.Status {
		case StatusSuccess:
			successes++
		case StatusTimedOut:
			timedOut++
		}
	}

	switch {
	case successes == len(t.Participants):
		return StatusSuccess
	case successes > 0 && timedOut == 0:
		return StatusPartialSuccess
	default:
		return StatusFailed
	}
}
