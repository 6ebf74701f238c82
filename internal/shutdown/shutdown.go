package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Shutdownable is an interface for components that can be shut down gracefully
type Shutdownable interface {
	Close() error
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(ctx context.Context) error

// Priorities for the serve command's components. Lower shuts down first.
const (
	PriorityHTTPServer = 10 // Stop accepting new writes first
	PriorityMQTT       = 20 // Then stop consuming broker messages
	PriorityCollector  = 30 // Stop metric sampling
	PrioritySink       = 40 // Flush and close the output last
)

// Coordinator manages graceful shutdown of all components
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

// step is either a component or a hook.
type step struct {
	name      string
	component Shutdownable
	hook      ShutdownFunc
	priority  int
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register registers a component for graceful shutdown.
// Priority determines shutdown order (lower = shutdown first).
func (c *Coordinator) Register(name string, component Shutdownable, priority int) {
	c.add(step{name: name, component: component, priority: priority})
}

// RegisterHook registers a shutdown hook function. Hooks and components
// share one ordering; at equal priority they run in registration order.
func (c *Coordinator) RegisterHook(name string, hook ShutdownFunc, priority int) {
	c.add(step{name: name, hook: hook, priority: priority})
}

func (c *Coordinator) add(s step) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, s)

	c.logger.Debug().
		Str("name", s.name).
		Int("priority", s.priority).
		Msg("Registered for shutdown")
}

// Done is closed once shutdown has been triggered.
func (c *Coordinator) Done() <-chan struct{} {
	return c.shutdownCh
}

// WaitForSignal blocks until a shutdown signal is received, shutdown is
// triggered programmatically or ctx ends.
func (c *Coordinator) WaitForSignal(ctx context.Context) os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	case <-ctx.Done():
		return syscall.SIGTERM
	}
}

// Shutdown performs graceful shutdown of all registered components. Only
// the first call does any work.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() {
			close(c.shutdownCh)
		})

		c.mu.Lock()
		steps := make([]step, len(c.steps))
		copy(steps, c.steps)
		c.mu.Unlock()

		sort.SliceStable(steps, func(i, j int) bool { return steps[i].priority < steps[j].priority })

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("steps", len(steps)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()

		for _, s := range steps {
			select {
			case <-ctx.Done():
				c.logger.Warn().
					Str("name", s.name).
					Msg("Shutdown timeout reached, skipping remaining steps")
				shutdownErr = ctx.Err()
				return
			default:
			}

			c.logger.Debug().
				Str("name", s.name).
				Int("priority", s.priority).
				Msg("Shutting down")

			var err error
			if s.hook != nil {
				err = s.hook(ctx)
			} else {
				err = s.component.Close()
			}
			if err != nil {
				c.logger.Error().
					Err(err).
					Str("name", s.name).
					Msg("Shutdown step failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		c.logger.Info().
			Dur("duration", time.Since(start)).
			Msg("Graceful shutdown complete")
	})

	return shutdownErr
}

// TriggerShutdown triggers a shutdown programmatically.
// This is safe to call from multiple goroutines concurrently.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}
