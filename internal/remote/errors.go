package remote

import "errors"

// Sentinel errors.
var (
	// ErrDial indicates the SSH connection or authentication failed.
	ErrDial = errors.New("ssh dial failed")

	// ErrSession indicates a session could not be opened or the command
	// could not be started on it.
	ErrSession = errors.New("ssh session failed")
)
