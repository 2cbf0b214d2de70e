// Package updater issues LSP update requests against the controller's
// RESTCONF API at a fixed concurrency.
//
// A run covers every LSP of every simulated PCC. The jobs are split
// statically across the workers (job i goes to worker i mod workers) and
// each outcome is counted in a Tally that is safe for concurrent use.
// Individual request failures are tallied, not returned; only a canceled
// or timed out run makes Run fail.
package updater
