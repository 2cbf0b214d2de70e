package procsup

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultShell runs Shell command lines.
const DefaultShell = "/bin/sh"

// shellMeta marks command lines that are not a single simple command.
const shellMeta = ";&|()<>`$\n"

// exitCodeNotFound is the POSIX shell status for an unknown command.
const exitCodeNotFound = 127

// Command describes an external command. Exactly one of Args and Shell
// should be set: Args is executed directly, Shell is passed to /bin/sh -c.
type Command struct {
	Args  []string
	Shell string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is appended to the current environment.
	Env []string

	// Timeout bounds a foreground Run. Zero means no timeout. Background
	// processes ignore it.
	Timeout time.Duration
}

// Exec returns a Command that runs name directly.
func Exec(name string, args ...string) Command {
	return Command{Args: append([]string{name}, args...)}
}

// Shell returns a Command that runs line through the shell.
func Shell(line string) Command {
	return Command{Shell: line}
}

// String renders the command for logs.
func (c Command) String() string {
	if c.Shell != "" {
		return c.Shell
	}
	return strings.Join(c.Args, " ")
}

func (c Command) empty() bool {
	return strings.TrimSpace(c.Shell) == "" && len(c.Args) == 0
}

// argv returns the program and arguments. A simple background shell
// command is prefixed with exec so the shell is replaced by the worker
// process. Compound lines keep the shell as group leader.
func (c Command) argv(background bool) []string {
	if c.Shell == "" {
		return c.Args
	}
	line := c.Shell
	if background && !strings.ContainsAny(line, shellMeta) {
		line = "exec " + line
	}
	return []string{DefaultShell, "-c", line}
}

func (c Command) build(ctx context.Context, background bool) *exec.Cmd {
	argv := c.argv(background)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	configureProcAttr(cmd)
	return cmd
}

// Result is the outcome of a foreground command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited with status 0.
func (r Result) Success() bool { return r.ExitCode == 0 }
