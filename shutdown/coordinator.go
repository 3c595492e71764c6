package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Coordinator runs registered hooks in phase order, exactly once.
type Coordinator struct {
	cfg Config

	mu    sync.Mutex
	hooks []hookEntry

	once sync.Once
	done chan struct{}
	err  error

	sig chan os.Signal
}

// New returns a Coordinator. Zero config fields take their defaults.
func New(cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DefaultPhase == 0 {
		cfg.DefaultPhase = def.DefaultPhase
	}
	return &Coordinator{
		cfg:  cfg,
		done: make(chan struct{}),
		sig:  make(chan os.Signal, 1),
	}
}

// Register adds a named hook to the given phase. Lower phases run first;
// hooks sharing a phase run concurrently. Registration after shutdown has
// begun is ignored.
func (c *Coordinator) Register(name string, phase int, fn Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hookEntry{name: name, phase: phase, fn: fn})
}

// RegisterLast adds a hook to the default (final) phase.
func (c *Coordinator) RegisterLast(name string, fn Hook) {
	c.Register(name, c.cfg.DefaultPhase, fn)
}

// Shutdown runs every hook once, phase by phase. A second call returns
// ErrAlreadyShutdown; callers that only care about the outcome can use
// Done and Err instead.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.run(ctx)
		close(c.done)
	})
	if first {
		return c.err
	}
	select {
	case <-c.done:
		return c.err
	default:
		return ErrAlreadyShutdown
	}
}

// ShutdownWithTimeout runs Shutdown under a deadline. A zero timeout uses
// the configured default.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.sig
		_ = c.ShutdownWithTimeout(0)
	}()
}

// Trigger injects a synthetic termination signal.
func (c *Coordinator) Trigger() {
	select {
	case c.sig <- syscall.SIGTERM:
	default:
	}
}

// Done is closed once shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err reports the shutdown outcome. It is nil until Done is closed and nil
// afterwards when every hook succeeded.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	hooks := make([]hookEntry, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].phase < hooks[j].phase
	})

	var failures []error
	for start := 0; start < len(hooks); {
		end := start
		for end < len(hooks) && hooks[end].phase == hooks[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			return errors.Join(append(failures, ErrTimeout)...)
		default:
		}

		phaseErrs := c.runPhase(ctx, hooks[start:end])
		failures = append(failures, phaseErrs...)
		if len(phaseErrs) > 0 && c.cfg.HaltOnError {
			break
		}
		start = end
	}
	return errors.Join(failures...)
}

// runPhase runs one phase's hooks concurrently and collects failures.
func (c *Coordinator) runPhase(ctx context.Context, hooks []hookEntry) []error {
	errs := make([]error, len(hooks))
	var wg sync.WaitGroup
	for i, h := range hooks {
		wg.Add(1)
		go func(i int, h hookEntry) {
			defer wg.Done()
			start := time.Now()
			err := h.fn(ctx)
			c.observe(h, time.Since(start), err)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", h.name, err)
			}
		}(i, h)
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return failed
}

func (c *Coordinator) observe(h hookEntry, elapsed time.Duration, err error) {
	if c.cfg.Logger == nil {
		return
	}
	fields := map[string]interface{}{
		"hook":       h.name,
		"phase":      h.phase,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		c.cfg.Logger.Error("shutdown_hook_failed", fields)
		return
	}
	c.cfg.Logger.Info("shutdown_hook_done", fields)
}
