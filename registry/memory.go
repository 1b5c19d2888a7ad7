package registry

import (
	"sync"
	"time"
)

// MemoryRegistry is an in-memory implementation of Registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	workers  map[string]WorkerInfo
	watchers []chan Event
	closed   bool
	stop     chan struct{}

	// ttl for stale entry detection. Zero means no expiry.
	ttl time.Duration
}

// MemoryConfig configures the in-memory registry.
type MemoryConfig struct {
	// TTL specifies how long before a worker is considered stale.
	// Zero means entries never expire.
	TTL time.Duration
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry(cfg MemoryConfig) *MemoryRegistry {
	r := &MemoryRegistry{
		workers: make(map[string]WorkerInfo),
		stop:    make(chan struct{}),
		ttl:     cfg.TTL,
	}

	if cfg.TTL > 0 {
		go r.cleanupLoop()
	}

	return r
}

// Register adds or updates a worker.
func (r *MemoryRegistry) Register(info WorkerInfo) error {
	if err := ValidateWorkerInfo(info); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	info.LastSeen = time.Now()

	_, exists := r.workers[info.ID]
	r.workers[info.ID] = info

	eventType := EventAdded
	if exists {
		eventType = EventUpdated
	}
	r.notifyWatchers(Event{Type: eventType, Worker: info})

	return nil
}

// Deregister removes a worker.
func (r *MemoryRegistry) Deregister(id string) error {
	if id == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	info, exists := r.workers[id]
	if !exists {
		return ErrNotFound
	}

	delete(r.workers, id)
	r.notifyWatchers(Event{Type: EventRemoved, Worker: info})

	return nil
}

// Get retrieves a specific worker by ID.
func (r *MemoryRegistry) Get(id string) (*WorkerInfo, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	info, exists := r.workers[id]
	if !exists || r.stale(info, time.Now()) {
		return nil, ErrNotFound
	}

	return &info, nil
}

// List returns all live workers matching the filter, ordered by Index.
func (r *MemoryRegistry) List(filter *Filter) ([]WorkerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	result := make([]WorkerInfo, 0, len(r.workers))
	now := time.Now()

	for _, info := range r.workers {
		if r.stale(info, now) {
			continue
		}
		if MatchesFilter(info, filter) {
			result = append(result, info)
		}
	}

	sortWorkers(result)
	return result, nil
}

// Watch returns a channel of registry events.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)

	return ch, nil
}

// Close shuts down the registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	close(r.stop)

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil

	return nil
}

func (r *MemoryRegistry) stale(info WorkerInfo, now time.Time) bool {
	return r.ttl > 0 && now.Sub(info.LastSeen) > r.ttl
}

// notifyWatchers sends an event to all watchers.
// Must be called with lock held.
func (r *MemoryRegistry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}

// cleanupLoop periodically removes stale entries.
func (r *MemoryRegistry) cleanupLoop() {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		now := time.Now()
		for id, info := range r.workers {
			if r.stale(info, now) {
				delete(r.workers, id)
				r.notifyWatchers(Event{Type: EventRemoved, Worker: info})
			}
		}
		r.mu.Unlock()
	}
}
