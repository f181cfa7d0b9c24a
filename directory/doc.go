// Package directory is the agent management service's white pages: a
// registry of agent descriptions keyed by full agent name.
//
// The platform registers every agent it creates, with the addresses the
// transport system handed out, and deregisters it on removal. Resolve turns
// a bare name into a routable AID.
//
// Two implementations exist:
//
//   - MemoryDirectory: one process, used by single-platform deployments
//   - NATSDirectory: a JetStream KV bucket shared by every platform on a
//     NATS cluster
//
// Watch streams added/updated/removed events; slow watchers miss events
// rather than block writers.
package directory
