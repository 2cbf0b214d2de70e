// Package procsup launches, observes and terminates external processes
// for test steps.
//
// Foreground commands run to completion with Run and report their exit
// code rather than failing. Background commands started with Start run in
// their own process group, so a stop signal reaches the worker and every
// child it spawned. Stop sends the signal and confirms death through the
// converge engine; a process that survives the confirmation window is a
// fatal error, never a silent success.
package procsup
