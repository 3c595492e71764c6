package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewExporter(t *testing.T) {
	tests := []struct {
		protocol string
		wantErr  bool
	}{
		{"noop", false},
		{"", false},
		{"http", false},
		{"grpc", true},
		{"bogus", true},
	}

	for _, tt := range tests {
		exp, err := NewExporter(tt.protocol, "localhost:9999")
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewExporter(%q) error = nil, want error", tt.protocol)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewExporter(%q) error = %v", tt.protocol, err)
			continue
		}
		exp.Close()
	}
}

func TestFileExporter_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	exp, err := NewFileExporter(path)
	if err != nil {
		t.Fatalf("NewFileExporter() error = %v", err)
	}

	exp.LogEvent("bus_started", map[string]interface{}{"capacity": 1024})
	exp.LogTransition(Transition{
		Component: "coordination",
		TaskID:    "t1",
		Status:    "success",
		Duration:  250 * time.Millisecond,
	})
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening output: %v", err)
	}
	defer f.Close()

	var lines []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	if lines[0]["name"] != "bus_started" {
		t.Errorf("event name = %v, want bus_started", lines[0]["name"])
	}
	if lines[1]["component"] != "coordination" || lines[1]["task_id"] != "t1" {
		t.Errorf("transition = %v, want coordination/t1", lines[1])
	}
	if lines[1]["timestamp"] == nil {
		t.Error("transition timestamp not stamped")
	}
}

func TestNoopExporter(t *testing.T) {
	exp := NewNoopExporter()
	exp.LogEvent("ignored", nil)
	exp.LogTransition(Transition{Component: "workflow"})
	if err := exp.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMapCarrier(t *testing.T) {
	c := MapCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get() = %q", got)
	}
	if got := c.Get("missing"); got != "" {
		t.Errorf("Get(missing) = %q, want empty", got)
	}
	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "traceparent" {
		t.Errorf("Keys() = %v", keys)
	}
}
