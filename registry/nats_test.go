package registry

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// getNATSConn returns a NATS connection for testing, or skips the test.
func getNATSConn(t *testing.T) *nats.Conn {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	conn, err := nats.Connect(url,
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(0),
	)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}

	return conn
}

// uniqueBucket generates a unique bucket name for test isolation.
func uniqueBucket() string {
	return fmt.Sprintf("test-workers-%d", time.Now().UnixNano())
}

func newTestNATSRegistry(t *testing.T) *NATSRegistry {
	conn := getNATSConn(t)
	t.Cleanup(conn.Close)

	cfg := DefaultNATSRegistryConfig()
	cfg.BucketName = uniqueBucket()
	cfg.TTL = 0

	r, err := NewNATSRegistry(conn, cfg)
	if err != nil {
		t.Skipf("skipping: JetStream not available: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNATSRegistry_RegisterGet(t *testing.T) {
	r := newTestNATSRegistry(t)

	if err := r.Register(WorkerInfo{ID: "vm-0", Index: 0, Status: StatusReady}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	got, err := r.Get("vm-0")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != StatusReady {
		t.Errorf("Status = %v, want %v", got.Status, StatusReady)
	}
	if _, err := r.Get("vm-9"); err != ErrNotFound {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestNATSRegistry_ListOrdered(t *testing.T) {
	r := newTestNATSRegistry(t)

	if got, err := r.List(nil); err != nil || len(got) != 0 {
		t.Fatalf("List on empty bucket = %v, %v", got, err)
	}

	r.Register(WorkerInfo{ID: "vm-1", Index: 1})
	r.Register(WorkerInfo{ID: "controller", Index: -1, Controller: true})
	r.Register(WorkerInfo{ID: "vm-0", Index: 0})

	got, err := WorkerSet(r)
	if err != nil {
		t.Fatalf("WorkerSet error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "vm-0" || got[1].ID != "vm-1" {
		t.Errorf("WorkerSet = %v, want [vm-0 vm-1]", got)
	}
}

func TestNATSRegistry_Deregister(t *testing.T) {
	r := newTestNATSRegistry(t)

	r.Register(WorkerInfo{ID: "vm-0", Index: 0})
	if err := r.Deregister("vm-0"); err != nil {
		t.Fatalf("Deregister error: %v", err)
	}
	if _, err := r.Get("vm-0"); err != ErrNotFound {
		t.Errorf("Get after deregister = %v, want ErrNotFound", err)
	}
}

func TestNATSRegistry_Watch(t *testing.T) {
	r := newTestNATSRegistry(t)

	events, err := r.Watch()
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	// Give the KV watcher a moment to attach.
	time.Sleep(100 * time.Millisecond)

	r.Register(WorkerInfo{ID: "vm-0", Index: 0})

	select {
	case ev := <-events:
		if ev.Type != EventAdded || ev.Worker.ID != "vm-0" {
			t.Errorf("event = %+v, want added vm-0", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
