package heartbeat

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/dunitkit/bus"
)

// BusMonitor tracks heartbeats published on a message bus.
type BusMonitor struct {
	bus           bus.MessageBus
	checkInterval time.Duration

	tracker

	running atomic.Bool
	sub     bus.Subscription
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ Monitor = (*BusMonitor)(nil)

// NewBusMonitor creates a new heartbeat monitor. Call Start to subscribe.
func NewBusMonitor(cfg MonitorConfig) (*BusMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMonitorConfig().Timeout
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultMonitorConfig().CheckInterval
	}

	m := &BusMonitor{
		bus:           cfg.Bus,
		checkInterval: checkInterval,
	}
	m.tracker.init(timeout)
	return m, nil
}

// Start subscribes to every worker's heartbeats and begins dead detection.
func (m *BusMonitor) Start() error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}

	sub, err := m.bus.Subscribe(SubjectPrefix + "*")
	if err != nil {
		m.running.Store(false)
		return err
	}
	m.sub = sub
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run()
	return nil
}

func (m *BusMonitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case msg, ok := <-m.sub.Messages():
			if !ok {
				return
			}
			m.process(msg)
		case <-ticker.C:
			m.checkDead(time.Now())
		}
	}
}

func (m *BusMonitor) process(msg *bus.Message) {
	hb, err := Unmarshal(msg.Data)
	if err != nil {
		return
	}
	if hb.WorkerID == "" && strings.HasPrefix(msg.Subject, SubjectPrefix) {
		hb.WorkerID = strings.TrimPrefix(msg.Subject, SubjectPrefix)
	}
	m.receive(hb)
}

// Stop unsubscribes and stops dead detection.
func (m *BusMonitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}

	m.sub.Unsubscribe()
	close(m.stopCh)
	<-m.doneCh
	return nil
}

// MemoryMonitor is a Monitor fed by hand, for tests.
type MemoryMonitor struct {
	tracker
}

var _ Monitor = (*MemoryMonitor)(nil)

// NewMemoryMonitor creates a monitor for testing.
func NewMemoryMonitor(timeout time.Duration) *MemoryMonitor {
	if timeout <= 0 {
		timeout = DefaultMonitorConfig().Timeout
	}
	m := &MemoryMonitor{}
	m.tracker.init(timeout)
	return m
}

// Receive records a heartbeat.
func (m *MemoryMonitor) Receive(hb *Heartbeat) {
	m.receive(hb)
}

// CheckDead reports workers silent for longer than the timeout.
func (m *MemoryMonitor) CheckDead() {
	m.checkDead(time.Now())
}

// Stop is a no-op.
func (m *MemoryMonitor) Stop() error {
	return nil
}

// tracker is the liveness state shared by both monitors.
type tracker struct {
	timeout time.Duration

	mu       sync.RWMutex
	lastSeen map[string]*Heartbeat
	reported map[string]bool
	deadCBs  []func(string)
}

func (t *tracker) init(timeout time.Duration) {
	t.timeout = timeout
	t.lastSeen = make(map[string]*Heartbeat)
	t.reported = make(map[string]bool)
}

func (t *tracker) receive(hb *Heartbeat) {
	t.mu.Lock()
	t.lastSeen[hb.WorkerID] = hb
	delete(t.reported, hb.WorkerID)
	t.mu.Unlock()
}

// checkDead invokes OnDead callbacks once per silent worker until it beats
// again.
func (t *tracker) checkDead(now time.Time) {
	var dead []string

	t.mu.Lock()
	for id, hb := range t.lastSeen {
		if now.Sub(hb.Timestamp) > t.timeout && !t.reported[id] {
			t.reported[id] = true
			dead = append(dead, id)
		}
	}
	callbacks := make([]func(string), len(t.deadCBs))
	copy(callbacks, t.deadCBs)
	t.mu.Unlock()

	for _, id := range dead {
		for _, cb := range callbacks {
			cb(id)
		}
	}
}

// IsAlive reports whether a worker sent a heartbeat within timeout.
func (t *tracker) IsAlive(workerID string, timeout time.Duration) bool {
	t.mu.RLock()
	hb, ok := t.lastSeen[workerID]
	t.mu.RUnlock()

	if !ok {
		return false
	}
	return time.Since(hb.Timestamp) <= timeout
}

// LastHeartbeat returns the last heartbeat from a worker.
func (t *tracker) LastHeartbeat(workerID string) *Heartbeat {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeen[workerID]
}

// OnDead registers a callback for when a worker is presumed dead.
func (t *tracker) OnDead(callback func(workerID string)) {
	t.mu.Lock()
	t.deadCBs = append(t.deadCBs, callback)
	t.mu.Unlock()
}
