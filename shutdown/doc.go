// Package shutdown tears a platform down in ordered phases.
//
// Handlers register under a phase number; phases run in ascending order and
// handlers sharing a phase run concurrently. The platform uses:
//
//	PhaseListeners  stop the WebSocket listener
//	PhaseAgents     remove every agent (addresses, mailboxes, directory)
//	PhaseHandlers   close transfer handlers and the bus
//	PhaseDirectory  close the directory
//	PhaseTelemetry  flush exporters and traces
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
//	coord.RegisterFunc("ws-listener", shutdown.PhaseListeners, srv.Shutdown)
//	coord.HandleSignals()
//	<-coord.Done()
//
// Shutdown runs once; later calls wait for the first and share its error.
// A deadline that passes between phases fails the shutdown with TIMEOUT and
// skips the remaining phases.
package shutdown
