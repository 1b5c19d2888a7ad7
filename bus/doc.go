// Package bus provides the message transport between the controller and its
// workers.
//
// # Available Implementations
//
//   - NATSBus: multi-process deployments using NATS
//   - MemoryBus: in-memory implementation for tests and single-process runs
//
// # Patterns
//
// Request/Reply carries routine invocations; each worker listens on its own
// subject:
//
//	sub, _ := b.Subscribe("dunit.invoke.vm-1")
//	for msg := range sub.Messages() {
//	    b.Publish(msg.Reply, response)
//	}
//
//	reply, err := b.Request(ctx, "dunit.invoke.vm-1", request)
//
// Pub/Sub with wildcards carries heartbeats:
//
//	sub, _ := b.Subscribe("heartbeat.*")
package bus
