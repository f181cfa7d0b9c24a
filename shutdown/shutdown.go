package shutdown

import (
	"context"
	"strings"
	"time"

	"github.com/vinayprograms/aclmts/errors"
)

// Phases used by the agent platform. Lower phases run first; handlers in
// one phase run concurrently.
const (
	// PhaseListeners stops accepting inbound connections.
	PhaseListeners = 10

	// PhaseAgents removes agents: addresses, mailboxes, directory entries.
	PhaseAgents = 20

	// PhaseHandlers closes transfer handlers and their buses.
	PhaseHandlers = 30

	// PhaseDirectory closes the directory.
	PhaseDirectory = 40

	// PhaseConnections closes bus connections shared by handlers and the
	// directory.
	PhaseConnections = 45

	// PhaseTelemetry flushes exporters and tracing last.
	PhaseTelemetry = 50
)

// Handler is implemented by components that take part in shutdown.
type Handler interface {
	// OnShutdown releases the component. ctx ends at the shutdown deadline.
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is nil when every handler succeeded in time.
	Err error
}

// Failed returns true if any handler failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

func (r *Result) failure() error {
	failed := r.FailedHandlers()
	if len(failed) == 0 {
		return nil
	}
	var cause error
	for _, hr := range r.Results {
		if hr.Err != nil {
			cause = hr.Err
			break
		}
	}
	return errors.New(errors.ErrCodeInternal, "shutdown handlers failed: "+strings.Join(failed, ", "),
		errors.WithCause(cause), errors.WithMetadata("failed", strings.Join(failed, ",")))
}

// Config configures the coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout(0) and signal-triggered shutdown.
	// Default: 30 seconds
	Timeout time.Duration

	// DefaultPhase is assigned by Register. Default: 100
	DefaultPhase int

	// StopOnError skips later phases once a handler fails.
	StopOnError bool

	// OnProgress is called as each handler completes.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "shutdown timeout must not be negative")
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		DefaultPhase: 100,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
