// Package registry provides worker registration and discovery.
//
// # Implementations
//
//   - MemoryRegistry: in-process, for tests and single-host runs
//   - NATSRegistry: JetStream KV bucket shared across processes
//
// # Usage
//
// A worker registers on start:
//
//	reg.Register(registry.WorkerInfo{ID: "vm-1", Index: 1, Status: registry.StatusReady})
//	defer reg.Deregister("vm-1")
//
// The controller reads the ordered set:
//
//	workers, _ := registry.WorkerSet(reg)
//	for _, w := range workers {
//	    // w.Index is 0, 1, 2, ...
//	}
//
// Entries older than the configured TTL are treated as gone.
package registry
