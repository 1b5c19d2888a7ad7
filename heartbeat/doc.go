// Package heartbeat provides worker liveness detection.
//
// Every worker process publishes a heartbeat on heartbeat.<worker-id> at a
// fixed interval. The controller runs a monitor subscribed to heartbeat.*
// and consults it before broadcasting teardown, so that a worker which has
// already died is reported as offline instead of timing out.
//
//	sender, _ := heartbeat.NewBusSender(heartbeat.SenderConfig{
//	    Bus:      b,
//	    WorkerID: "vm-0",
//	    Index:    0,
//	    Interval: 5 * time.Second,
//	})
//	sender.Start(ctx)
//	sender.SetStatus("ready")
//
//	monitor, _ := heartbeat.NewBusMonitor(heartbeat.MonitorConfig{
//	    Bus:     b,
//	    Timeout: 15 * time.Second,
//	})
//	monitor.OnDead(func(id string) { log.Printf("worker %s presumed dead", id) })
//	monitor.Start()
//
// Set the timeout to 2-3x the heartbeat interval and handle OnDead
// callbacks idempotently.
package heartbeat
