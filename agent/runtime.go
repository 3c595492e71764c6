package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/agentbus/bus"
	"github.com/vinayprograms/agentbus/coordination"
	"github.com/vinayprograms/agentbus/logging"
	"github.com/vinayprograms/agentbus/shutdown"
	"github.com/vinayprograms/agentbus/telemetry"
	"github.com/vinayprograms/agentbus/workflow"
)

var (
	// ErrRuntimeClosed indicates the runtime has been shut down.
	ErrRuntimeClosed = errors.New("agent runtime closed")

	// ErrNoReceiver indicates a nil receiver was passed to a helper that
	// needs one.
	ErrNoReceiver = errors.New("receiver is required")
)

// Config holds runtime configuration.
type Config struct {
	// QueueCapacity bounds each subscriber's delivery queue.
	// Default: 1024
	QueueCapacity int

	// HistorySize bounds each tracker's terminal history.
	// Default: 1024
	HistorySize int

	// ShutdownTimeout bounds Close. Default: 30 seconds
	ShutdownTimeout time.Duration

	// Logger receives runtime, bus, and tracker activity. Nil means
	// silent.
	Logger *logging.Logger

	// Exporter receives tracker state transitions. Nil means discard.
	// The runtime closes it after the bus during shutdown.
	Exporter telemetry.Exporter
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   1024,
		HistorySize:     1024,
		ShutdownTimeout: 30 * time.Second,
	}
}

// AgentFunc is one agent's lifetime: a loop that subscribes, receives, and
// publishes until its context is canceled.
type AgentFunc func(ctx context.Context, rt *Runtime) error

// Runtime wires a bus to its coordination and workflow trackers and
// exposes the convenience operations agent code actually uses.
type Runtime struct {
	bus    *bus.Bus
	coord  *coordination.Tracker
	wf     *workflow.Tracker
	logger *logging.Logger
	shut   *shutdown.Coordinator

	closed atomic.Bool
}

// New creates a runtime with a fresh bus and attached trackers.
func New(cfg Config) *Runtime {
	def := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	b := bus.New(bus.Config{
		QueueCapacity: cfg.QueueCapacity,
		CompactEvery:  bus.DefaultConfig().CompactEvery,
		Logger:        cfg.Logger,
	})
	coord := coordination.NewTracker(b, coordination.Config{
		HistorySize: cfg.HistorySize,
		Logger:      cfg.Logger,
		Exporter:    cfg.Exporter,
	})
	wf := workflow.NewTracker(b, workflow.Config{
		HistorySize: cfg.HistorySize,
		Logger:      cfg.Logger,
		Exporter:    cfg.Exporter,
	})
	b.AttachCoordinationSink(coord)
	b.AttachWorkflowSink(wf)

	// Trackers stop before the bus so completion events drain first.
	shut := shutdown.New(shutdown.Config{
		Timeout: cfg.ShutdownTimeout,
		Logger:  cfg.Logger.WithComponent("shutdown"),
	})
	shut.Register("coordination-tracker", 10, func(context.Context) error {
		return coord.Close()
	})
	shut.Register("workflow-tracker", 10, func(context.Context) error {
		return wf.Close()
	})
	shut.Register("bus", 20, func(context.Context) error {
		return b.Close()
	})
	if cfg.Exporter != nil {
		shut.Register("telemetry", 30, func(context.Context) error {
			return cfg.Exporter.Close()
		})
	}

	return &Runtime{
		bus:    b,
		coord:  coord,
		wf:     wf,
		logger: cfg.Logger.WithComponent("runtime"),
		shut:   shut,
	}
}

// Bus returns the underlying message bus.
func (r *Runtime) Bus() *bus.Bus { return r.bus }

// Coordination returns the coordination tracker.
func (r *Runtime) Coordination() *coordination.Tracker { return r.coord }

// Workflow returns the workflow tracker.
func (r *Runtime) Workflow() *workflow.Tracker { return r.wf }

// Subscribe registers id for the given topics, replacing any prior
// subscription.
func (r *Runtime) Subscribe(id string, topics []string) (*bus.Receiver, error) {
	if r.closed.Load() {
		return nil, ErrRuntimeClosed
	}
	return r.bus.Subscribe(id, topics)
}

// Unsubscribe removes id's subscription.
func (r *Runtime) Unsubscribe(id string) {
	r.bus.Unsubscribe(id)
}

// Publish sends a fully formed envelope.
func (r *Runtime) Publish(msg *bus.Message) (bus.PublishOutcome, error) {
	return r.bus.Publish(msg)
}

// Broadcast publishes to every subscriber of a topic.
func (r *Runtime) Broadcast(from, topic string, kind bus.Kind, payload bus.Payload) (bus.PublishOutcome, error) {
	return r.bus.Publish(bus.NewMessage(from, topic, kind, payload))
}

// SendToAgent publishes a Request addressed to one agent with a fresh
// correlation id and requires_ack set. Returns the correlation id so the
// caller can await the matching Response.
func (r *Runtime) SendToAgent(from, to, topic string, payload bus.Payload) (string, error) {
	correlationID := uuid.NewString()

	p := payload.Clone()
	if p == nil {
		p = bus.Payload{}
	}
	p[bus.KeyCorrelationID] = correlationID
	p[bus.KeyReplyTo] = from

	msg := bus.NewMessage(from, topic, bus.KindRequest, p)
	msg.ToAgent = to
	msg.RequiresAck = true

	if _, err := r.bus.Publish(msg); err != nil {
		return "", err
	}
	return correlationID, nil
}

// Reply publishes a Response to the sender of a Request, carrying its
// correlation id.
func (r *Runtime) Reply(from string, req *bus.Message, payload bus.Payload) error {
	p := payload.Clone()
	if p == nil {
		p = bus.Payload{}
	}
	if id := req.CorrelationID(); id != "" {
		p[bus.KeyCorrelationID] = id
	}

	msg := bus.NewMessage(from, req.Topic, bus.KindResponse, p)
	msg.ToAgent = req.FromAgent

	_, err := r.bus.Publish(msg)
	return err
}

// Await receives from rx until a Response with the given correlation id
// arrives. Other messages received in the meantime are discarded, so Await
// is meant for receivers dedicated to a request/response exchange.
func (r *Runtime) Await(ctx context.Context, rx *bus.Receiver, correlationID string) (*bus.Message, error) {
	if rx == nil {
		return nil, ErrNoReceiver
	}
	for {
		msg, err := rx.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Kind == bus.KindResponse && msg.CorrelationID() == correlationID {
			return msg, nil
		}
	}
}

// Request sends a Request to one agent and blocks until its Response
// arrives on rx or the context ends.
func (r *Runtime) Request(ctx context.Context, rx *bus.Receiver, from, to, topic string, payload bus.Payload) (*bus.Message, error) {
	correlationID, err := r.SendToAgent(from, to, topic, payload)
	if err != nil {
		return nil, err
	}
	return r.Await(ctx, rx, correlationID)
}

// Coordinate starts a coordination task fanned out to the participants.
// A zero deadline means the task waits for every participant indefinitely.
func (r *Runtime) Coordinate(from, taskID, action string, participants []string, deadline time.Time) (*coordination.Task, error) {
	return r.coord.StartTask(from, taskID, action, participants, deadline)
}

// SendCoordinationResult publishes a participant's result envelope; the
// dispatcher feeds it to the coordination tracker after delivery.
func (r *Runtime) SendCoordinationResult(from string, res coordination.Result) error {
	payload, err := res.ToPayload()
	if err != nil {
		return err
	}
	msg := bus.NewMessage(from, bus.TopicCoordination, bus.KindCoordination, payload)
	_, err = r.bus.Publish(msg)
	return err
}

// CancelTask transitions a pending coordination task to Failed.
func (r *Runtime) CancelTask(taskID string) error {
	return r.coord.Cancel(taskID)
}

// RegisterWorkflow registers a sequential workflow.
func (r *Runtime) RegisterWorkflow(from, workflowID string, steps []workflow.Step) (*workflow.Workflow, error) {
	return r.wf.Register(from, workflowID, steps)
}

// TriggerWorkflow emits the current step's trigger to its target agent.
func (r *Runtime) TriggerWorkflow(workflowID string, payload bus.Payload) error {
	return r.wf.TriggerNext(workflowID, payload)
}

// CompleteWorkflowStep records a step result and advances the workflow.
func (r *Runtime) CompleteWorkflowStep(res workflow.StepResult) error {
	return r.wf.CompleteStep(res)
}

// CancelWorkflow transitions a running workflow to Failed.
func (r *Runtime) CancelWorkflow(workflowID string) error {
	return r.wf.Cancel(workflowID)
}

// SendAlert broadcasts an Alert with the given priority.
func (r *Runtime) SendAlert(from, topic, text string, priority int) error {
	msg := bus.NewMessage(from, topic, bus.KindAlert, bus.Payload{
		"message": text,
	})
	msg.Priority = priority

	_, err := r.bus.Publish(msg)
	return err
}

// Stats returns a snapshot of bus statistics.
func (r *Runtime) Stats() bus.Statistics {
	return r.bus.Stats()
}

// Run executes the agents concurrently and shuts the runtime down once
// they all return or the first one fails.
func (r *Runtime) Run(ctx context.Context, agents ...AgentFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		a := a
		g.Go(func() error {
			return a(ctx, r)
		})
	}

	err := g.Wait()
	closeErr := r.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// Close shuts down the trackers and then the bus. Safe to call more than
// once.
func (r *Runtime) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.logger.Info("runtime_shutdown")
	return r.shut.ShutdownWithTimeout(0)
}
