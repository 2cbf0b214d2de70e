package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/dantte-lp/gocsit/internal/procsup"
)

// exitCodeNotFound is the POSIX shell status for an unknown command.
const exitCodeNotFound = 127

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|()<>*?[]#~=%!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// commandLine renders cmd as one remote shell line. Dir and Env are
// applied with cd and env since SSH sessions rarely accept setenv.
func commandLine(cmd procsup.Command) string {
	line := cmd.Shell
	if line == "" {
		quoted := make([]string, len(cmd.Args))
		for i, a := range cmd.Args {
			quoted[i] = Quote(a)
		}
		line = strings.Join(quoted, " ")
	}
	if len(cmd.Env) > 0 {
		quoted := make([]string, len(cmd.Env))
		for i, kv := range cmd.Env {
			quoted[i] = Quote(kv)
		}
		line = "env " + strings.Join(quoted, " ") + " " + line
	}
	if cmd.Dir != "" {
		line = "cd " + Quote(cmd.Dir) + " && " + line
	}
	return line
}

// exitStatus extracts the remote exit code from a session Wait/Run error.
// ok is false when err is not about the exit status.
func exitStatus(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, true
	}
	return -1, false
}

// Run executes cmd on the remote host and waits for it. Like
// procsup.Supervisor.Run, a non-zero exit is reported in the result, not
// as an error. cmd.Timeout and ctx both bound the wait; on expiry the
// remote command is sent SIGKILL and the session is closed.
func (r *Runner) Run(ctx context.Context, cmd procsup.Command) (procsup.Result, error) {
	res := procsup.Result{ExitCode: -1}
	if len(cmd.Args) == 0 && strings.TrimSpace(cmd.Shell) == "" {
		return res, procsup.ErrEmptyCommand
	}
	line := commandLine(cmd)

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	r.logger.Info("running remote command", slog.String("command", line))
	start := time.Now()
	err := r.WithClient(runCtx, func(c *ssh.Client) error {
		sess, err := c.NewSession()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSession, err)
		}
		defer sess.Close()

		var stdout, stderr bytes.Buffer
		sess.Stdout = &stdout
		sess.Stderr = &stderr
		if err := sess.Start(line); err != nil {
			return fmt.Errorf("%w: start %q: %w", ErrSession, line, err)
		}

		done := make(chan error, 1)
		go func() { done <- sess.Wait() }()

		var waitErr error
		select {
		case waitErr = <-done:
		case <-runCtx.Done():
			_ = sess.Signal(ssh.SIGKILL)
			_ = sess.Close()
			<-done
			res.Stdout, res.Stderr = stdout.String(), stderr.String()
			return runCtx.Err()
		}

		res.Stdout, res.Stderr = stdout.String(), stderr.String()
		code, ok := exitStatus(waitErr)
		if !ok {
			return fmt.Errorf("%w: wait %q: %w", ErrSession, line, waitErr)
		}
		res.ExitCode = code
		return nil
	})
	res.Duration = time.Since(start)

	switch {
	case err == nil:
	case cmd.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return res, fmt.Errorf("run %s on %s: %w after %v", line, r.target.Addr(), procsup.ErrCommandTimeout, cmd.Timeout)
	default:
		return res, fmt.Errorf("run %s on %s: %w", line, r.target.Addr(), err)
	}

	if res.ExitCode == exitCodeNotFound {
		return res, fmt.Errorf("run %s on %s: %w", line, r.target.Addr(), procsup.ErrCommandNotFound)
	}
	if res.ExitCode != 0 {
		r.logger.Warn("remote command exited with non-zero status",
			slog.String("command", line),
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", res.Stderr),
		)
	}
	return res, nil
}

// PutFile copies the local file at src to dst on the remote host, keeping
// its permission bits. The remote directory must exist.
func (r *Runner) PutFile(ctx context.Context, src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("put %s: %w", src, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("put %s: %w", src, err)
	}

	line := fmt.Sprintf("cat > %s && chmod %o %s", Quote(dst), info.Mode().Perm(), Quote(dst))
	r.logger.Info("copying file",
		slog.String("src", src),
		slog.String("dst", dst),
		slog.Int64("bytes", info.Size()),
	)
	return r.WithClient(ctx, func(c *ssh.Client) error {
		sess, err := c.NewSession()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSession, err)
		}
		defer sess.Close()

		var stderr bytes.Buffer
		sess.Stderr = &stderr
		stdin, err := sess.StdinPipe()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSession, err)
		}
		if err := sess.Start(line); err != nil {
			return fmt.Errorf("%w: start copy: %w", ErrSession, err)
		}
		if _, err := io.Copy(stdin, f); err != nil {
			return fmt.Errorf("put %s to %s: %w", src, path.Clean(dst), err)
		}
		if err := stdin.Close(); err != nil {
			return fmt.Errorf("put %s to %s: %w", src, dst, err)
		}
		if err := sess.Wait(); err != nil {
			return fmt.Errorf("put %s to %s: %w: %s", src, dst, err, strings.TrimSpace(stderr.String()))
		}
		return nil
	})
}
