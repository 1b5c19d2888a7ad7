// Package shutdown orders the exit of a worker process.
//
// A worker holds resources other workers and the controller do not know
// about. When it is told to exit, it stops serving invoke requests first,
// then releases what it still holds, stops its heartbeat, leaves the worker
// set, and finally closes its transport:
//
//	coord := shutdown.NewCoordinator(shutdown.Config{Logger: logger})
//	coord.RegisterWithPhase("agent", agent, shutdown.PhaseStopServing)
//	coord.RegisterFuncWithPhase("teardown", host.RunAll, shutdown.PhaseTeardown)
//	coord.RegisterFuncWithPhase("heartbeat", stopHeartbeat, shutdown.PhaseHeartbeat)
//	coord.RegisterFuncWithPhase("deregister", leave, shutdown.PhaseDeregister)
//	coord.RegisterFuncWithPhase("bus", closeBus, shutdown.PhaseTransport)
//	coord.HandleSignals()
//	<-coord.Done()
//
// Handlers in the same phase run concurrently. A failing handler does not
// stop later phases unless Config.StopOnError is set; every failure is
// joined into the returned error alongside ErrHandlerFailed.
package shutdown
