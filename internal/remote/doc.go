// Package remote runs and supervises commands on a remote host over SSH.
//
// Every operation opens its own connection and releases it on all exit
// paths. Background processes started with Start hold their connection
// until the remote command ends or is stopped, and implement
// procsup.Handle so they are stopped and verified like local processes.
package remote
