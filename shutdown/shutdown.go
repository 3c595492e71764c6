// Package shutdown sequences teardown of bus components.
//
// # Overview
//
// A Coordinator holds named hooks grouped into phases. On shutdown it runs
// phases in ascending order; hooks within a phase run concurrently. This
// lets trackers drain their completion events into the bus before the bus
// itself closes.
//
// # Usage
//
//	coord := shutdown.New(shutdown.Config{Logger: logger})
//	coord.Register("workflow-tracker", 10, func(context.Context) error { return wf.Close() })
//	coord.Register("bus", 20, func(context.Context) error { return b.Close() })
//	coord.HandleSignals()
//
//	<-coord.Done()
package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyShutdown is returned when Shutdown is invoked more than once.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout is returned when teardown does not finish within the
	// shutdown context's deadline.
	ErrTimeout = errors.New("shutdown timeout exceeded")
)

// Hook tears down one component. The context is canceled when the shutdown
// deadline passes; hooks should stop accepting work, drain what they can,
// and release resources.
type Hook func(ctx context.Context) error

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout when the caller passes zero.
	// Default: 30 seconds
	Timeout time.Duration

	// DefaultPhase is assigned by RegisterLast.
	// Default: 100
	DefaultPhase int

	// HaltOnError stops the phase sequence at the first failing phase.
	// By default later phases still run and failures are joined.
	HaltOnError bool

	// Logger, when set, records each hook's completion.
	Logger Observer
}

// Observer receives hook completion notices. *logging.Logger satisfies it.
type Observer interface {
	Info(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
}

// DefaultConfig returns a Config with the default timeout and phase.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		DefaultPhase: 100,
	}
}

// hookEntry is one registered hook.
type hookEntry struct {
	name  string
	phase int
	fn    Hook
}
