package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/logging"
)

// Coordinator runs registered handlers phase by phase, once.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool
	once     sync.Once
	done     chan struct{}
	result   *Result

	signals chan os.Signal
}

// NewCoordinator creates a coordinator. A nil logger discards output.
func NewCoordinator(config Config, logger *logging.Logger) *Coordinator {
	defaults := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = defaults.DefaultPhase
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Coordinator{
		config:  config,
		logger:  logger,
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, handler Handler) error {
	return c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler to phase. Registration fails once
// shutdown has begun.
func (c *Coordinator) RegisterWithPhase(name string, handler Handler, phase int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New(errors.ErrCodeInvalidState, "shutdown already started",
			errors.WithMetadata("handler", name))
	}
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
	return nil
}

// RegisterFunc registers fn in phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) error {
	return c.RegisterWithPhase(name, Func(fn), phase)
}

// Shutdown runs every handler. Only the first call does work; later calls
// wait for it and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.started = true
		handlers := append([]registration(nil), c.handlers...)
		c.mu.Unlock()

		c.result = c.run(ctx, handlers)
		close(c.done)
	})

	<-c.done
	return c.result.Err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout (the configured
// timeout when zero).
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(c.signals)
		select {
		case sig := <-c.signals:
			c.logger.Info("signal_received", map[string]interface{}{"signal": sig.String()})
			c.ShutdownWithTimeout(0)
		case <-c.done:
		}
	}()
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context, handlers []registration) *Result {
	start := time.Now()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	finish := func(err error) *Result {
		result.TotalDuration = time.Since(start)
		if err == nil {
			err = result.failure()
		}
		result.Err = err
		if err != nil {
			c.logger.Error("shutdown_failed", map[string]interface{}{"error": err.Error()})
		} else {
			c.logger.Info("shutdown_complete", map[string]interface{}{"duration_ms": result.TotalDuration.Milliseconds()})
		}
		return result
	}

	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			return finish(errors.Wrap(ctx.Err(), "shutdown deadline exceeded"))
		}

		failed := false
		for _, hr := range c.runPhase(ctx, group) {
			result.Results = append(result.Results, hr)
			failed = failed || hr.Err != nil
		}
		if failed && c.config.StopOnError {
			return finish(nil)
		}
	}
	return finish(nil)
}

// runPhase runs one phase's handlers concurrently.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			hr := HandlerResult{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}
			results[idx] = hr

			fields := map[string]interface{}{
				"handler":     r.name,
				"phase":       r.phase,
				"duration_ms": hr.Duration.Milliseconds(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Warn("shutdown_handler_failed", fields)
			} else {
				c.logger.Debug("shutdown_handler_done", fields)
			}
			if c.config.OnProgress != nil {
				c.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits phase-sorted handlers into runs of equal phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
