// Package engine runs watch sessions: it routes file events through each
// project's processor chain.
//
// ARCHITECTURE:
//
// One Dispatcher per project:
// Each project has its own FIFO queue and a single goroutine draining it,
// so hooks for one project never run concurrently and never race on its
// output directory. Different projects dispatch in parallel; they own
// disjoint outputs.
//
// Dispatch:
//  1. The monitor (or a propagation hook) enqueues a FileEvent.
//  2. Run dequeues it and walks the chain in order.
//  3. Every processor whose Accept is true gets the hook for the event
//     kind. Failures are logged and journaled; the walk continues.
//  4. An event no processor accepted is logged at debug level as a no-op.
//
// Reactor propagation:
// A contributor's chain ends with a propagation stage. It copies the
// contributor's final artifact into the target's libs directory and
// enqueues a synthetic event on the target dispatcher. The copy has
// completed before the event exists, and propagation stages are never
// added to the target, so the cascade is exactly one hop.
//
// Session lifecycle:
//
//	New -> Start (chains, monitors, cold pass, dispatchers, server)
//	    -> Run (block until interrupted) -> Stop (idempotent)
//
// Setup failures are per project (SetupError); the session continues with
// the projects that did start.
package engine
