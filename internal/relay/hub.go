package relay

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/metrics"
)

const defaultQueueSize = 64

// Event is one push to observers. Data is marshalled as JSON.
type Event struct {
	Name string
	Data any
}

// Observer is one connected receiver of events.
//
// Send is never closed by the hub, so a concurrent Publish cannot panic;
// done signals the observer's goroutines to stop.
type Observer struct {
	ID   string
	Send chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func NewObserver(queueSize int) *Observer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Observer{
		ID:   uuid.NewString(),
		Send: make(chan Event, queueSize),
		done: make(chan struct{}),
	}
}

// Done is closed when the observer is shutting down.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// Close is idempotent.
func (o *Observer) Close() {
	o.closeOnce.Do(func() {
		close(o.done)
	})
}

// Hub fans events out to registered observers without blocking: an
// observer whose queue is full misses the event.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	observers map[string]*Observer
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		log:       logger,
		metrics:   m,
		observers: make(map[string]*Observer),
	}
}

func (h *Hub) Register(o *Observer) {
	h.mu.Lock()
	_, exists := h.observers[o.ID]
	h.observers[o.ID] = o
	h.mu.Unlock()

	if !exists {
		h.metrics.Observers(1)
	}
	h.log.Debug("observer registered", zap.String("id", o.ID))
}

func (h *Hub) Unregister(o *Observer) {
	h.mu.Lock()
	_, exists := h.observers[o.ID]
	delete(h.observers, o.ID)
	h.mu.Unlock()

	if exists {
		h.metrics.Observers(-1)
		h.log.Debug("observer unregistered", zap.String("id", o.ID))
	}
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Publish offers ev to every observer and returns how many accepted it.
func (h *Hub) Publish(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, o := range h.observers {
		select {
		case o.Send <- ev:
			delivered++
			h.metrics.EventPublished()
		default:
			h.metrics.EventDropped()
			h.log.Debug("observer queue full, event dropped",
				zap.String("id", o.ID),
				zap.String("event", ev.Name),
			)
		}
	}
	return delivered
}
