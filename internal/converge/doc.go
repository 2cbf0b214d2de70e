// Package converge implements the polling primitives every test step is
// built from: retry a probe until its value passes a validator, and wait
// until a probe's value stays unchanged for a number of consecutive samples.
//
// The engine is synchronous. Probe invocations happen strictly one after
// another on the calling goroutine, and the waits between them are plain
// blocking sleeps. Concurrency in a test run comes from the external
// processes being observed, not from the engine.
//
// Two error channels are kept apart. A probe error is transient: it is
// logged and the next attempt runs. An error wrapped with Fatal aborts the
// loop at once and is returned unchanged, so a leaked or crashed process is
// never absorbed by a generic retry.
package converge
