package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSRegistry implements Registry on a NATS JetStream KV bucket so every
// worker process sees the same worker set.
type NATSRegistry struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	config NATSRegistryConfig

	mu       sync.RWMutex
	watchers []chan Event
	closed   bool
	cancel   context.CancelFunc
}

// NATSRegistryConfig configures the NATS registry.
type NATSRegistryConfig struct {
	// BucketName is the KV bucket name. Default: "dunit-workers"
	BucketName string

	// TTL for worker entries. Zero means no expiry.
	TTL time.Duration

	// Replicas for the KV store (1-5). Default: 1
	Replicas int

	// OpTimeout bounds every KV call. Default: 5s
	OpTimeout time.Duration
}

// DefaultNATSRegistryConfig returns configuration with sensible defaults.
func DefaultNATSRegistryConfig() NATSRegistryConfig {
	return NATSRegistryConfig{
		BucketName: "dunit-workers",
		TTL:        30 * time.Second,
		Replicas:   1,
		OpTimeout:  5 * time.Second,
	}
}

// NewNATSRegistry creates a NATS registry from an existing connection.
func NewNATSRegistry(conn *nats.Conn, cfg NATSRegistryConfig) (*NATSRegistry, error) {
	if conn == nil {
		return nil, fmt.Errorf("nil connection")
	}

	def := DefaultNATSRegistryConfig()
	if cfg.BucketName == "" {
		cfg.BucketName = def.BucketName
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = def.Replicas
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()

	kvCfg := jetstream.KeyValueConfig{
		Bucket:   cfg.BucketName,
		Replicas: cfg.Replicas,
	}
	if cfg.TTL > 0 {
		kvCfg.TTL = cfg.TTL
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, kvCfg)
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())

	r := &NATSRegistry{
		conn:   conn,
		kv:     kv,
		config: cfg,
		cancel: watchCancel,
	}

	go r.watchKV(watchCtx)

	return r, nil
}

func (r *NATSRegistry) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.config.OpTimeout)
}

func (r *NATSRegistry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Register adds or updates a worker.
func (r *NATSRegistry) Register(info WorkerInfo) error {
	if err := ValidateWorkerInfo(info); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}

	info.LastSeen = time.Now()

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal worker info: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if _, err := r.kv.Put(ctx, info.ID, data); err != nil {
		return fmt.Errorf("put to kv: %w", err)
	}
	return nil
}

// Deregister removes a worker.
func (r *NATSRegistry) Deregister(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if r.isClosed() {
		return ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if _, err := r.kv.Get(ctx, id); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get from kv: %w", err)
	}

	if err := r.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete from kv: %w", err)
	}
	return nil
}

// Get retrieves a specific worker by ID.
func (r *NATSRegistry) Get(id string) (*WorkerInfo, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	entry, err := r.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get from kv: %w", err)
	}

	var info WorkerInfo
	if err := json.Unmarshal(entry.Value(), &info); err != nil {
		return nil, fmt.Errorf("unmarshal worker info: %w", err)
	}
	return &info, nil
}

// List returns all workers matching the filter, ordered by Index.
func (r *NATSRegistry) List(filter *Filter) ([]WorkerInfo, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	keys, err := r.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []WorkerInfo{}, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	result := make([]WorkerInfo, 0, len(keys))
	for _, key := range keys {
		entry, err := r.kv.Get(ctx, key)
		if err != nil {
			continue // deleted between Keys and Get
		}

		var info WorkerInfo
		if err := json.Unmarshal(entry.Value(), &info); err != nil {
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
func (r *NATSRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close shuts down the registry. The NATS connection stays open.
func (r *NATSRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	r.cancel()

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// watchKV turns KV updates into registry events.
func (r *NATSRegistry) watchKV(ctx context.Context) {
	watcher, err := r.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			event, ok := toEvent(entry)
			if !ok {
				continue
			}

			r.mu.RLock()
			if r.closed {
				r.mu.RUnlock()
				return
			}
			for _, ch := range r.watchers {
				select {
				case ch <- event:
				default:
				}
			}
			r.mu.RUnlock()
		}
	}
}

func toEvent(entry jetstream.KeyValueEntry) (Event, bool) {
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		var info WorkerInfo
		if err := json.Unmarshal(entry.Value(), &info); err != nil {
			return Event{}, false
		}
		if entry.Revision() == 1 {
			return Event{Type: EventAdded, Worker: info}, true
		}
		return Event{Type: EventUpdated, Worker: info}, true
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return Event{Type: EventRemoved, Worker: WorkerInfo{ID: entry.Key()}}, true
	default:
		return Event{}, false
	}
}

// Conn returns the underlying NATS connection.
func (r *NATSRegistry) Conn() *nats.Conn {
	return r.conn
}
