// Package shutdown coordinates graceful shutdown of cloudlock-server.
//
// A Handler waits for SIGINT, SIGTERM or an explicit Trigger (for example
// when a listener fails), then runs the registered hooks in reverse order
// of registration under a shared timeout. Components are registered in
// start order, so they stop in the reverse of it.
package shutdown
