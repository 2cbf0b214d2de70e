//go:build !unix

package procsup

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcAttr(*exec.Cmd) {}

// signalGroup has no process groups to work with here; both modes kill
// the process itself.
func signalGroup(pid int, _ bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// signalLeftovers has no group to reach once the process exited.
func signalLeftovers(int, bool) {}
