package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/epoch-keeper/pkg/logging"
)

// Manager runs cleanup hooks once the process is asked to stop
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	logger        *logging.Logger
	once          sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown function. Functions run in reverse order.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. An in-flight
// pass sees the cancellation and stops at its next ledger call.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)
}

// Shutdown executes all registered functions once, and reports the first error
func (m *Manager) Shutdown() error {
	var firstErr error
	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
			f := m.shutdownFuncs[i]
			if err := f.fn(ctx); err != nil {
				m.logger.Warn("Shutdown step failed", map[string]interface{}{"step": f.name, "error": err.Error()})
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", f.name, err)
				}
				continue
			}
			m.logger.Debug("Shutdown step complete", map[string]interface{}{"step": f.name})
		}
	})
	return firstErr
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
