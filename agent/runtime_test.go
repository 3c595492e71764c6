package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vinayprograms/agentbus/bus"
	"github.com/vinayprograms/agentbus/coordination"
	"github.com/vinayprograms/agentbus/workflow"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func payloadString(p bus.Payload, key string) string {
	s, _ := p.String(key)
	return s
}

func TestRuntime_Broadcast(t *testing.T) {
	rt := New(DefaultConfig())
	defer rt.Close()
	ctx := testContext(t)

	rx1, _ := rt.Subscribe("a1", []string{"news"})
	rx2, _ := rt.Subscribe("a2", []string{"news"})

	out, err := rt.Broadcast("sender", "news", bus.KindEvent, bus.Payload{"body": "hello"})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if out.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", out.Delivered)
	}

	for _, rx := range []*bus.Receiver{rx1, rx2} {
		msg, err := rx.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive error: %v", err)
		}
		if payloadString(msg.Payload, "body") != "hello" {
			t.Errorf("payload = %v", msg.Payload)
		}
	}
}

func TestRuntime_SendToAgent(t *testing.T) {
	rt := New(DefaultConfig())
	defer rt.Close()
	ctx := testContext(t)

	rxTo, _ := rt.Subscribe("worker", []string{"jobs"})
	rxOther, _ := rt.Subscribe("bystander", []string{"jobs"})

	correlationID, err := rt.SendToAgent("boss", "worker", "jobs", bus.Payload{"job": "compact"})
	if err != nil {
		t.Fatalf("SendToAgent error: %v", err)
	}
	if correlationID == "" {
		t.Fatal("expected a correlation id")
	}

	msg, err := rxTo.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if msg.Kind != bus.KindRequest || !msg.RequiresAck {
		t.Errorf("msg = %+v, want ack-requiring request", msg)
	}
	if msg.CorrelationID() != correlationID {
		t.Errorf("correlation id = %q, want %q", msg.CorrelationID(), correlationID)
	}

	// Directed delivery skips other subscribers of the topic.
	if stray, ok := rxOther.TryReceive(); ok {
		t.Errorf("bystander received directed message %+v", stray)
	}
}

func TestRuntime_RequestReply(t *testing.T) {
	rt := New(DefaultConfig())
	defer rt.Close()
	ctx := testContext(t)

	rxWorker, _ := rt.Subscribe("worker", []string{"jobs"})
	rxBoss, _ := rt.Subscribe("boss", []string{"jobs"})

	go func() {
		req, err := rxWorker.Receive(ctx)
		if err != nil {
			return
		}
		rt.Reply("worker", req, bus.Payload{"done": "yes"})
	}()

	resp, err := rt.Request(ctx, rxBoss, "boss", "worker", "jobs", bus.Payload{"job": "compact"})
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.Kind != bus.KindResponse || resp.FromAgent != "worker" {
		t.Errorf("response = %+v", resp)
	}
	if payloadString(resp.Payload, "done") != "yes" {
		t.Errorf("payload = %v", resp.Payload)
	}
}

// Scenario: a coordinator fans a task out to two workers; both report
// through the bus; the originator observes the aggregate completion event.
func TestRuntime_CoordinationRoundTrip(t *testing.T) {
	rt := New(DefaultConfig())
	defer rt.Close()
	ctx := testContext(t)

	rxW1, _ := rt.Subscribe("w1", []string{bus.TopicCoordination})
	rxW2, _ := rt.Subscribe("w2", []string{bus.TopicCoordination})
	rxBoss, _ := rt.Subscribe("boss", []string{bus.TopicCoordinationCompleted})

	task, err := rt.Coordinate("boss", "t1", "reindex", []string{"w1", "w2"}, time.Time{})
	if err != nil {
		t.Fatalf("Coordinate error: %v", err)
	}

	for _, w := range []struct {
		id string
		rx *bus.Receiver
	}{{"w1", rxW1}, {"w2", rxW2}} {
		msg, err := w.rx.Receive(ctx)
		if err != nil {
			t.Fatalf("%s Receive error: %v", w.id, err)
		}
		if payloadString(msg.Payload, bus.KeyAction) != "reindex" {
			t.Errorf("%s fan-out payload = %v", w.id, msg.Payload)
		}
		err = rt.SendCoordinationResult(w.id, coordination.Result{
			TaskID:      task.TaskID,
			AgentID:     w.id,
			Status:      coordination.StatusSuccess,
			CompletedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("%s SendCoordinationResult error: %v", w.id, err)
		}
	}

	done, err := rxBoss.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive completion error: %v", err)
	}
	if payloadString(done.Payload, bus.KeyTaskID) != task.TaskID {
		t.Errorf("completion task id = %q", payloadString(done.Payload, bus.KeyTaskID))
	}
	if payloadString(done.Payload, bus.KeyStatus) != string(coordination.StatusSuccess) {
		t.Errorf("aggregate = %q, want success", payloadString(done.Payload, bus.KeyStatus))
	}

	got, err := rt.Coordination().Get(task.TaskID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != coordination.StatusSuccess {
		t.Errorf("task status = %q, want success", got.Status)
	}
}

// Scenario: a two-step workflow driven over the bus. Each agent receives
// its step trigger and completes the step; the final completion event is
// published.
func TestRuntime_WorkflowRoundTrip(t *testing.T) {
	rt := New(DefaultConfig())
	defer rt.Close()
	ctx := testContext(t)

	rxPlanner, _ := rt.Subscribe("planner", []string{bus.TopicWorkflow})
	rxExecutor, _ := rt.Subscribe("executor", []string{bus.TopicWorkflow})
	rxBoss, _ := rt.Subscribe("boss", []string{bus.TopicWorkflowCompleted})

	w, err := rt.RegisterWorkflow("boss", "W", []workflow.Step{
		{Name: "plan", AgentID: "planner"},
		{Name: "exec", AgentID: "executor"},
	})
	if err != nil {
		t.Fatalf("RegisterWorkflow error: %v", err)
	}
	if err := rt.TriggerWorkflow(w.WorkflowID, nil); err != nil {
		t.Fatalf("TriggerWorkflow error: %v", err)
	}

	trigger, err := rxPlanner.Receive(ctx)
	if err != nil {
		t.Fatalf("planner Receive error: %v", err)
	}
	if payloadString(trigger.Payload, bus.KeyStep) != "plan" {
		t.Errorf("trigger step = %q, want plan", payloadString(trigger.Payload, bus.KeyStep))
	}

	err = rt.CompleteWorkflowStep(workflow.StepResult{
		WorkflowID: w.WorkflowID,
		Step:       "plan",
		AgentID:    "planner",
		Status:     workflow.StatusSuccess,
		Output:     bus.Payload{"artifact": "plan.json"},
		ExecutedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CompleteWorkflowStep error: %v", err)
	}

	trigger, err = rxExecutor.Receive(ctx)
	if err != nil {
		t.Fatalf("executor Receive error: %v", err)
	}
	if payloadString(trigger.Payload, bus.KeyStep) != "exec" {
		t.Errorf("trigger step = %q, want exec", payloadString(trigger.Payload, bus.KeyStep))
	}
	if payloadString(trigger.Payload, "artifact") != "plan.json" {
		t.Errorf("prior output missing from trigger: %v", trigger.Payload)
	}

	err = rt.CompleteWorkflowStep(workflow.StepResult{
		WorkflowID: w.WorkflowID,
		Step:       "exec",
		AgentID:    "executor",
		Status:     workflow.StatusSuccess,
		ExecutedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CompleteWorkflowStep error: %v", err)
	}

	done, err := rxBoss.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive completion error: %v", err)
	}
	if payloadString(done.Payload, bus.KeyStatus) != string(workflow.StateCompleted) {
		t.Errorf("completion status = %q", payloadString(done.Payload, bus.KeyStatus))
	}

	got, _ := rt.Workflow().Get(w.WorkflowID)
	if got.State != workflow.StateCompleted {
		t.Errorf("state = %q, want completed", got.State)
	}
}

func TestRuntime_SendAlert(t *testing.T) {
	rt := New(DefaultConfig())
	defer rt.Close()
	ctx := testContext(t)

	rx, _ := rt.Subscribe("ops", []string{"alerts"})

	if err := rt.SendAlert("watchdog", "alerts", "disk nearly full", 99); err != nil {
		t.Fatalf("SendAlert error: %v", err)
	}

	msg, err := rx.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if msg.Kind != bus.KindAlert {
		t.Errorf("kind = %q, want alert", msg.Kind)
	}
	if msg.Priority != bus.MaxPriority {
		t.Errorf("priority = %d, want clamped to %d", msg.Priority, bus.MaxPriority)
	}
	if payloadString(msg.Payload, "message") != "disk nearly full" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestRuntime_Run(t *testing.T) {
	rt := New(DefaultConfig())

	var pings int
	err := rt.Run(context.Background(),
		func(ctx context.Context, rt *Runtime) error {
			rx, err := rt.Subscribe("listener", []string{"ping"})
			if err != nil {
				return err
			}
			msg, err := rx.Receive(ctx)
			if err != nil {
				return err
			}
			if payloadString(msg.Payload, "n") == "1" {
				pings++
			}
			return nil
		},
		func(ctx context.Context, rt *Runtime) error {
			// Retry until the listener's subscription is in place.
			for {
				out, err := rt.Broadcast("pinger", "ping", bus.KindEvent, bus.Payload{"n": "1"})
				if err != nil {
					return err
				}
				if out.Delivered > 0 {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Millisecond):
				}
			}
		},
	)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if pings != 1 {
		t.Errorf("pings = %d, want 1", pings)
	}
}

func TestRuntime_Run_PropagatesError(t *testing.T) {
	rt := New(DefaultConfig())

	boom := errors.New("boom")
	err := rt.Run(context.Background(), func(ctx context.Context, rt *Runtime) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v, want %v", err, boom)
	}
}

func TestRuntime_Close(t *testing.T) {
	rt := New(DefaultConfig())

	if err := rt.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
	if _, err := rt.Subscribe("late", []string{"x"}); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("expected ErrRuntimeClosed, got %v", err)
	}
}
