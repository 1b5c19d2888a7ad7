package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/vinayprograms/dunitkit/bus"
)

func TestHeartbeat_Marshal(t *testing.T) {
	hb := &Heartbeat{
		WorkerID:  "vm-1",
		Index:     1,
		Timestamp: time.Now().Truncate(time.Millisecond),
		Status:    "ready",
		Metadata:  map[string]string{"pid": "99"},
	}

	data, err := hb.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got.WorkerID != "vm-1" || got.Index != 1 || got.Status != "ready" {
		t.Errorf("got %+v", got)
	}
	if !got.Timestamp.Equal(hb.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, hb.Timestamp)
	}
	if got.Metadata["pid"] != "99" {
		t.Errorf("Metadata[pid] = %q, want 99", got.Metadata["pid"])
	}
}

func TestHeartbeat_Subject(t *testing.T) {
	hb := &Heartbeat{WorkerID: "vm-3"}
	if got := hb.Subject(); got != "heartbeat.vm-3" {
		t.Errorf("Subject() = %q, want heartbeat.vm-3", got)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestSenderConfig_Validate(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	tests := []struct {
		name    string
		cfg     SenderConfig
		wantErr bool
	}{
		{"valid", SenderConfig{Bus: b, WorkerID: "vm-0"}, false},
		{"missing bus", SenderConfig{WorkerID: "vm-0"}, true},
		{"missing worker id", SenderConfig{Bus: b}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func receive(t *testing.T, sub bus.Subscription) *Heartbeat {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		hb, err := Unmarshal(msg.Data)
		if err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		return hb
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat")
		return nil
	}
}

func TestBusSender_StartStop(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe("heartbeat.vm-0")
	defer sub.Unsubscribe()

	sender, err := NewBusSender(SenderConfig{Bus: b, WorkerID: "vm-0", Index: 0, Interval: time.Hour})
	if err != nil {
		t.Fatalf("NewBusSender error: %v", err)
	}
	if err := sender.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	hb := receive(t, sub)
	if hb.WorkerID != "vm-0" || hb.Status != "starting" {
		t.Errorf("first heartbeat = %+v", hb)
	}

	if err := sender.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestBusSender_DoubleStart(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sender, _ := NewBusSender(SenderConfig{Bus: b, WorkerID: "vm-0", Interval: time.Hour})
	sender.Start(context.Background())
	defer sender.Stop()

	if err := sender.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestBusSender_StopBeforeStart(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sender, _ := NewBusSender(SenderConfig{Bus: b, WorkerID: "vm-0"})
	if err := sender.Stop(); err != ErrNotStarted {
		t.Errorf("Stop = %v, want ErrNotStarted", err)
	}
}

func TestBusSender_StatusAndMetadata(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe("heartbeat.vm-2")
	defer sub.Unsubscribe()

	sender, _ := NewBusSender(SenderConfig{Bus: b, WorkerID: "vm-2", Index: 2, Interval: 20 * time.Millisecond})
	sender.SetStatus("ready")
	sender.SetMetadata("version", "1.0")
	sender.Start(context.Background())
	defer sender.Stop()

	hb := receive(t, sub)
	if hb.Status != "ready" {
		t.Errorf("Status = %q, want ready", hb.Status)
	}
	if hb.Index != 2 {
		t.Errorf("Index = %d, want 2", hb.Index)
	}
	if hb.Metadata["version"] != "1.0" {
		t.Errorf("Metadata[version] = %q, want 1.0", hb.Metadata["version"])
	}
}

func TestBusSender_Routines(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe("heartbeat.vm-1")
	defer sub.Unsubscribe()

	names := []string{"dunit.reference"}
	sender, _ := NewBusSender(SenderConfig{
		Bus:      b,
		WorkerID: "vm-1",
		Index:    1,
		Interval: 20 * time.Millisecond,
		Routines: func() []string { return names },
	})
	sender.Start(context.Background())
	defer sender.Stop()

	hb := receive(t, sub)
	if len(hb.Routines) != 1 || hb.Routines[0] != "dunit.reference" {
		t.Errorf("Routines = %v, want [dunit.reference]", hb.Routines)
	}
}

func TestBusSender_ContextCancel(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sender, _ := NewBusSender(SenderConfig{Bus: b, WorkerID: "vm-0", Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	sender.Start(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for sender.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("sender still running after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBusSender_Repeats(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe("heartbeat.vm-0")
	defer sub.Unsubscribe()

	sender, _ := NewBusSender(SenderConfig{Bus: b, WorkerID: "vm-0", Interval: 10 * time.Millisecond})
	sender.Start(context.Background())
	defer sender.Stop()

	for i := 0; i < 3; i++ {
		receive(t, sub)
	}
}

func BenchmarkHeartbeat_Marshal(b *testing.B) {
	hb := &Heartbeat{WorkerID: "vm-0", Timestamp: time.Now(), Status: "ready"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hb.Marshal()
	}
}
