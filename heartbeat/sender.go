package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/dunitkit/bus"
)

// BusSender sends heartbeats over a message bus.
type BusSender struct {
	bus      bus.MessageBus
	workerID string
	index    int
	interval time.Duration
	routines func() []string

	mu       sync.RWMutex
	status   string
	metadata map[string]string

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ Sender = (*BusSender)(nil)

// NewBusSender creates a new heartbeat sender.
func NewBusSender(cfg SenderConfig) (*BusSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSenderConfig().Interval
	}

	status := cfg.InitialStatus
	if status == "" {
		status = DefaultSenderConfig().InitialStatus
	}

	return &BusSender{
		bus:      cfg.Bus,
		workerID: cfg.WorkerID,
		index:    cfg.Index,
		interval: interval,
		routines: cfg.Routines,
		status:   status,
		metadata: make(map[string]string),
	}, nil
}

// Start begins sending heartbeats at the configured interval.
func (s *BusSender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

func (s *BusSender) run(ctx context.Context) {
	defer close(s.doneCh)

	// First beat goes out immediately.
	s.send()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.send()
		}
	}
}

func (s *BusSender) send() error {
	hb := s.build()
	data, err := hb.Marshal()
	if err != nil {
		return err
	}
	return s.bus.Publish(hb.Subject(), data)
}

func (s *BusSender) build() *Heartbeat {
	var routines []string
	if s.routines != nil {
		routines = s.routines()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Heartbeat{
		WorkerID:  s.workerID,
		Index:     s.index,
		Timestamp: time.Now(),
		Status:    s.status,
		Routines:  routines,
		Metadata:  copyMetadata(s.metadata),
	}
}

// SetStatus updates the status included in heartbeats.
func (s *BusSender) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// SetMetadata updates a metadata field.
func (s *BusSender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Stop stops sending heartbeats. When the start context already ended the
// loop, Stop returns ErrNotStarted.
func (s *BusSender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// WorkerID returns the sender's worker ID.
func (s *BusSender) WorkerID() string {
	return s.workerID
}
