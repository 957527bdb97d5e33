package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gameforge/gfops/internal/logging"
)

const (
	// DefaultQueueSize is the maximum number of events that can be queued.
	DefaultQueueSize = 100

	// sendTimeout bounds one provider delivery.
	sendTimeout = 10 * time.Second

	// drainTimeout bounds delivery of one queued event during shutdown.
	drainTimeout = 5 * time.Second
)

// Manager coordinates delivery across the configured providers. A single
// worker goroutine drains a bounded queue so Publish never blocks the
// operation that produced the event.
type Manager struct {
	providers []Provider
	queue     chan Event
	logger    *logging.Logger
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	done      chan struct{}

	droppedCount int64
	droppedMu    sync.Mutex
}

// NewManager creates a notification manager. A queueSize of 0 uses
// DefaultQueueSize.
func NewManager(queueSize int, logger *logging.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		providers: make([]Provider, 0),
		queue:     make(chan Event, queueSize),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Providers returns a copy of the registered providers.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	return providers
}

// Start launches the background delivery worker. It must be called
// before events are published.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.worker(ctx)
}

// Stop shuts the manager down, draining queued events first.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// Publish queues an event for delivery. When the queue is full the event
// is dropped and counted; the caller is never blocked. Publishing on a
// manager that was never started, or a nil manager, is a no-op.
func (m *Manager) Publish(event Event) {
	if m == nil {
		return
	}
	m.mu.RLock()
	if !m.running {
		m.mu.RUnlock()
		return
	}
	m.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case m.queue <- event:
	default:
		m.droppedMu.Lock()
		m.droppedCount++
		dropped := m.droppedCount
		m.droppedMu.Unlock()

		if m.logger != nil {
			m.logger.Warn("Notification queue full, dropped %s event (%d dropped total)", event.Type, dropped)
		}
	}
}

// DroppedCount returns the number of events dropped due to queue overflow.
func (m *Manager) DroppedCount() int64 {
	m.droppedMu.Lock()
	defer m.droppedMu.Unlock()
	return m.droppedCount
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.drainQueue()
			return
		case <-m.done:
			m.drainQueue()
			return
		case event, ok := <-m.queue:
			if !ok {
				return
			}
			m.dispatch(ctx, event)
		}
	}
}

// drainQueue delivers whatever is still queued, each with a short
// timeout so shutdown cannot hang on a dead endpoint.
func (m *Manager) drainQueue() {
	for {
		select {
		case event, ok := <-m.queue:
			if !ok {
				return
			}
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			m.dispatch(drainCtx, event)
			cancel()
		default:
			return
		}
	}
}

// dispatch sends an event to every provider that supports it. Provider
// errors are logged, never propagated.
func (m *Manager) dispatch(ctx context.Context, event Event) {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	for _, provider := range providers {
		if !provider.Supports(event.Type) {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := provider.Send(sendCtx, event)
		cancel()

		if err != nil && m.logger != nil {
			m.logger.Warn("Notification via %s failed: %v", provider.Name(), err)
		}
	}
}
