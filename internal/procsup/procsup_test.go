//go:build unix

package procsup_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gocsit/internal/converge"
	"github.com/dantte-lp/gocsit/internal/procsup"
)

type recordingObserver struct {
	mu     sync.Mutex
	starts []bool
	stops  []string
}

func (o *recordingObserver) ObserveStart(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, ok)
}

func (o *recordingObserver) ObserveStop(graceful, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	mode := "forceful"
	if graceful {
		mode = "graceful"
	}
	if ok {
		o.stops = append(o.stops, mode+"/ok")
	} else {
		o.stops = append(o.stops, mode+"/failed")
	}
}

func newSupervisor(t *testing.T, opts ...procsup.Option) *procsup.Supervisor {
	t.Helper()
	return procsup.New(slog.New(slog.DiscardHandler), opts...)
}

// processGone reports whether pid no longer exists or is a zombie waiting
// for a reaper.
func processGone(pid int) bool {
	if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
		return true
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	i := strings.LastIndexByte(string(stat), ')')
	return i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}

// fastStop keeps stop confirmation short in tests.
func fastStop(graceful bool) procsup.StopOptions {
	return procsup.StopOptions{
		Graceful:       graceful,
		ConfirmTimeout: 500 * time.Millisecond,
		Interval:       50 * time.Millisecond,
	}
}

// startOrFail starts cmd and registers a forceful cleanup.
func startOrFail(t *testing.T, sup *procsup.Supervisor, cmd procsup.Command) *procsup.Process {
	t.Helper()
	p, err := sup.Start(t.Context(), cmd)
	if err != nil {
		t.Fatalf("Start(%s): %v", cmd, err)
	}
	t.Cleanup(func() {
		if p.Alive() {
			_ = sup.Stop(context.Background(), p, fastStop(false))
		}
	})
	return p
}

func TestRunExitCodes(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	tests := []struct {
		name       string
		cmd        procsup.Command
		wantCode   int
		wantStdout string
	}{
		{name: "success", cmd: procsup.Shell("echo hello"), wantCode: 0, wantStdout: "hello\n"},
		{name: "non-zero exit is not an error", cmd: procsup.Shell("echo partial; exit 3"), wantCode: 3, wantStdout: "partial\n"},
		{name: "direct exec", cmd: procsup.Exec("/bin/sh", "-c", "printf abc"), wantCode: 0, wantStdout: "abc"},
		{name: "working directory", cmd: procsup.Command{Shell: "pwd", Dir: "/"}, wantCode: 0, wantStdout: "/\n"},
		{name: "extra env", cmd: procsup.Command{Shell: "echo $GOCSIT_TEST_VALUE", Env: []string{"GOCSIT_TEST_VALUE=42"}}, wantCode: 0, wantStdout: "42\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := sup.Run(t.Context(), tt.cmd)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantCode)
			}
			if res.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", res.Stdout, tt.wantStdout)
			}
		})
	}
}

func TestRunCommandNotFound(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	for _, cmd := range []procsup.Command{
		procsup.Exec("gocsit-no-such-binary"),
		procsup.Shell("gocsit-no-such-binary --flag"),
	} {
		_, err := sup.Run(t.Context(), cmd)
		if !errors.Is(err, procsup.ErrCommandNotFound) {
			t.Errorf("Run(%s) error = %v, want ErrCommandNotFound", cmd, err)
		}
	}

	if _, err := sup.Run(t.Context(), procsup.Command{}); !errors.Is(err, procsup.ErrEmptyCommand) {
		t.Errorf("empty command error = %v, want ErrEmptyCommand", err)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	start := time.Now()
	_, err := sup.Run(t.Context(), procsup.Command{Shell: "sleep 30", Timeout: 200 * time.Millisecond})
	if !errors.Is(err, procsup.ErrCommandTimeout) {
		t.Fatalf("error = %v, want ErrCommandTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestRunUntilSuccess(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	marker := filepath.Join(t.TempDir(), "attempts")
	// Fails twice, then succeeds.
	cmd := procsup.Shell("echo x >> " + marker + "; test $(wc -l < " + marker + ") -ge 3 && echo done")

	res, err := sup.RunUntilSuccess(t.Context(), cmd, converge.RetryPolicy{MaxAttempts: 5, Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("RunUntilSuccess: %v", err)
	}
	if res.Stdout != "done\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}

	_, err = sup.RunUntilSuccess(t.Context(), procsup.Exec("gocsit-no-such-binary"),
		converge.RetryPolicy{MaxAttempts: 5, Interval: time.Second})
	if !converge.IsFatal(err) || !errors.Is(err, procsup.ErrCommandNotFound) {
		t.Errorf("missing command error = %v, want fatal ErrCommandNotFound", err)
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	sup := newSupervisor(t, procsup.WithObserver(obs))
	p := startOrFail(t, sup, procsup.Shell("sleep 30"))

	if !p.Alive() {
		t.Fatal("long-running process reported dead right after start")
	}
	if p.PID() <= 0 || p.ID() == "" {
		t.Errorf("PID = %d, ID = %q", p.PID(), p.ID())
	}

	verify := converge.RetryPolicy{MaxAttempts: 3, Interval: 50 * time.Millisecond}
	if err := sup.VerifyStarted(t.Context(), p, verify); err != nil {
		t.Fatalf("VerifyStarted: %v", err)
	}
	if err := sup.Stop(t.Context(), p, fastStop(true)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.Alive() {
		t.Error("process alive after confirmed stop")
	}

	want := []string{"graceful/ok"}
	if diff := cmp.Diff(want, obs.stops); diff != "" {
		t.Errorf("observed stops mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true}, obs.starts); diff != "" {
		t.Errorf("observed starts mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifyStartedDetectsEarlyExit(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	p := startOrFail(t, sup, procsup.Shell("echo boom; exit 1"))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if p.Alive() {
		t.Error("exited process reported alive")
	}
	if code, ok := p.ExitCode(); !ok || code != 1 {
		t.Errorf("ExitCode() = %d, %v, want 1, true", code, ok)
	}

	start := time.Now()
	err := sup.VerifyStarted(t.Context(), p, converge.RetryPolicy{MaxAttempts: 10, Interval: time.Second})
	if !errors.Is(err, procsup.ErrProcessStart) || !converge.IsFatal(err) {
		t.Fatalf("error = %v, want fatal ErrProcessStart", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("VerifyStarted took %v, want a fast failure", elapsed)
	}

	var startErr *procsup.StartError
	if !errors.As(err, &startErr) || !strings.Contains(startErr.Output, "boom") {
		t.Errorf("StartError output = %+v", startErr)
	}
}

func TestStopGracefulIgnoredFails(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	sup := newSupervisor(t, procsup.WithObserver(obs))
	p := startOrFail(t, sup, procsup.Shell(`trap "" TERM; echo ready; while :; do sleep 0.1; done`))
	if _, err := sup.WaitForOutput(t.Context(), p, "ready", converge.RetryPolicy{MaxAttempts: 50, Interval: 20 * time.Millisecond}); err != nil {
		t.Fatalf("WaitForOutput: %v", err)
	}

	err := sup.Stop(t.Context(), p, fastStop(true))
	if !errors.Is(err, procsup.ErrProcessStop) {
		t.Fatalf("graceful stop error = %v, want ErrProcessStop", err)
	}
	if !converge.IsFatal(err) {
		t.Error("stop failure must be fatal")
	}
	if !p.Alive() {
		t.Fatal("process died although it ignores SIGTERM")
	}
	var stopErr *procsup.StopError
	if !errors.As(err, &stopErr) || stopErr.Elapsed < fastStop(true).ConfirmTimeout {
		t.Errorf("StopError = %+v, want Elapsed of at least the confirm timeout", stopErr)
	}

	if err := sup.Stop(t.Context(), p, fastStop(false)); err != nil {
		t.Fatalf("forceful stop: %v", err)
	}

	want := []string{"graceful/failed", "forceful/ok"}
	if diff := cmp.Diff(want, obs.stops); diff != "" {
		t.Errorf("observed stops mismatch (-want +got):\n%s", diff)
	}
}

func TestStopWaitsWholeConfirmTimeout(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	// Exits 0.9s after SIGTERM, inside a 1s window polled every 250ms.
	p := startOrFail(t, sup, procsup.Shell(`trap "sleep 0.9; exit 0" TERM; echo ready; while :; do sleep 0.1; done`))
	if _, err := sup.WaitForOutput(t.Context(), p, "ready", converge.RetryPolicy{MaxAttempts: 50, Interval: 20 * time.Millisecond}); err != nil {
		t.Fatalf("WaitForOutput: %v", err)
	}

	opts := procsup.StopOptions{Graceful: true, ConfirmTimeout: time.Second, Interval: 250 * time.Millisecond}
	if err := sup.Stop(t.Context(), p, opts); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.Alive() {
		t.Error("process alive after confirmed stop")
	}
}

func TestStopConfirmTimeoutBelowInterval(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	p := startOrFail(t, sup, procsup.Shell(`trap "" TERM; echo ready; while :; do sleep 0.1; done`))
	if _, err := sup.WaitForOutput(t.Context(), p, "ready", converge.RetryPolicy{MaxAttempts: 50, Interval: 20 * time.Millisecond}); err != nil {
		t.Fatalf("WaitForOutput: %v", err)
	}

	opts := procsup.StopOptions{Graceful: true, ConfirmTimeout: 300 * time.Millisecond, Interval: 5 * time.Second}
	start := time.Now()
	err := sup.Stop(t.Context(), p, opts)
	elapsed := time.Since(start)

	var stopErr *procsup.StopError
	if !errors.As(err, &stopErr) {
		t.Fatalf("error = %v, want *StopError", err)
	}
	if elapsed < opts.ConfirmTimeout || elapsed > 3*time.Second {
		t.Errorf("Stop returned after %v, want about %v", elapsed, opts.ConfirmTimeout)
	}
	if stopErr.Elapsed < opts.ConfirmTimeout || stopErr.Timeout != opts.ConfirmTimeout {
		t.Errorf("StopError Elapsed = %v, Timeout = %v", stopErr.Elapsed, stopErr.Timeout)
	}
}

func TestExitSeenWhileChildHoldsOutput(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	p := startOrFail(t, sup, procsup.Shell("echo boom; sleep 3 & exit 1"))

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("exit not observed while a background child keeps the output open")
	}
	if code, ok := p.ExitCode(); !ok || code != 1 {
		t.Errorf("ExitCode() = %d, %v, want 1, true", code, ok)
	}

	err := sup.VerifyStarted(t.Context(), p, converge.RetryPolicy{MaxAttempts: 5, Interval: 50 * time.Millisecond})
	if !errors.Is(err, procsup.ErrProcessStart) || !converge.IsFatal(err) {
		t.Fatalf("error = %v, want fatal ErrProcessStart", err)
	}
	var startErr *procsup.StartError
	if !errors.As(err, &startErr) || !strings.Contains(startErr.Output, "boom") {
		t.Errorf("StartError output = %+v", startErr)
	}

	// Reaches the child left behind in the group.
	if err := sup.Stop(t.Context(), p, fastStop(false)); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestStopLeaderWithDetachedChild(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not available")
	}
	sup := newSupervisor(t)
	p := startOrFail(t, sup, procsup.Shell("setsid sleep 2 & exit 1"))

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("exit not observed while a detached child keeps the output open")
	}
	if p.Alive() {
		t.Error("exited process reported alive")
	}
	if err := sup.Stop(t.Context(), p, fastStop(false)); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestStopKillsProcessGroup(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	p := startOrFail(t, sup, procsup.Shell("sh -c 'sleep 30 & echo $! > "+pidFile+"; wait'"))

	var childPID string
	_, err := converge.Pass(t.Context(), sup.Engine(), converge.RetryPolicy{MaxAttempts: 50, Interval: 20 * time.Millisecond},
		converge.NewProbe("pidfile", func(context.Context) (string, error) {
			data, err := os.ReadFile(pidFile)
			if err != nil || len(strings.TrimSpace(string(data))) == 0 {
				return "", errors.New("pid file not written")
			}
			childPID = strings.TrimSpace(string(data))
			return childPID, nil
		}))
	if err != nil {
		t.Fatalf("child pid: %v", err)
	}

	if err := sup.Stop(t.Context(), p, fastStop(false)); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	pid, err := strconv.Atoi(childPID)
	if err != nil {
		t.Fatal(err)
	}
	_, err = converge.UntilEquals(t.Context(), sup.Engine(), converge.RetryPolicy{MaxAttempts: 50, Interval: 20 * time.Millisecond}, true,
		converge.NewProbe("gone", func(context.Context) (bool, error) { return processGone(pid), nil }, pid))
	if err != nil {
		t.Errorf("grandchild %d survived the group kill: %v", pid, err)
	}
}

func TestStopAlreadyExited(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	p := startOrFail(t, sup, procsup.Shell("true"))
	<-p.Done()

	if err := sup.Stop(t.Context(), p, fastStop(true)); err != nil {
		t.Errorf("Stop on exited process: %v", err)
	}
}

func TestStartErrors(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	sup := newSupervisor(t, procsup.WithObserver(obs))

	_, err := sup.Start(t.Context(), procsup.Exec("gocsit-no-such-binary"))
	if !errors.Is(err, procsup.ErrProcessStart) || !errors.Is(err, procsup.ErrCommandNotFound) {
		t.Errorf("error = %v, want ErrProcessStart and ErrCommandNotFound", err)
	}
	if !converge.IsFatal(err) {
		t.Error("start failure must be fatal")
	}

	if _, err := sup.Start(t.Context(), procsup.Command{}); !errors.Is(err, procsup.ErrEmptyCommand) {
		t.Errorf("empty command error = %v", err)
	}
	if diff := cmp.Diff([]bool{false, false}, obs.starts); diff != "" {
		t.Errorf("observed starts mismatch (-want +got):\n%s", diff)
	}
}

func TestWaitForOutput(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	p := startOrFail(t, sup, procsup.Shell("echo starting; sleep 0.2; echo 'peer 10.0.0.1 connected'; sleep 30"))

	line, err := sup.WaitForOutput(t.Context(), p, "connected", converge.RetryPolicy{MaxAttempts: 100, Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitForOutput: %v", err)
	}
	if line != "peer 10.0.0.1 connected" {
		t.Errorf("line = %q", line)
	}

	_, err = sup.WaitForOutput(t.Context(), p, "never printed", converge.RetryPolicy{MaxAttempts: 3, Interval: 10 * time.Millisecond})
	if !errors.Is(err, procsup.ErrOutputNotFound) {
		t.Fatalf("error = %v, want ErrOutputNotFound", err)
	}
	if !strings.Contains(err.Error(), "starting") {
		t.Errorf("error does not carry captured output: %v", err)
	}
}

func TestWaitForOutputExitedProcess(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	p := startOrFail(t, sup, procsup.Shell("echo bye"))
	<-p.Done()

	start := time.Now()
	_, err := sup.WaitForOutput(t.Context(), p, "hello", converge.RetryPolicy{MaxAttempts: 10, Interval: time.Second})
	if !converge.IsFatal(err) {
		t.Errorf("error = %v, want fatal", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("WaitForOutput kept polling an exited process")
	}
}

func TestCountOccurrences(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pcc.log")
	content := "session up\nreport lsp-1\nreport lsp-2\nsession down\nreport"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := procsup.CountOccurrences(path, "report")
	if err != nil {
		t.Fatalf("CountOccurrences: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	if _, err := procsup.CountOccurrences(filepath.Join(t.TempDir(), "missing"), "x"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestWaitForOccurrences(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	path := filepath.Join(t.TempDir(), "speaker.log")
	startOrFail(t, sup, procsup.Shell("for i in 1 2 3 4; do echo update >> "+path+"; sleep 0.05; done; sleep 30"))

	n, err := sup.WaitForOccurrences(t.Context(), path, "update", 4, converge.RetryPolicy{MaxAttempts: 100, Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitForOccurrences: %v", err)
	}
	if n < 4 {
		t.Errorf("count = %d, want >= 4", n)
	}
}

func TestGroupStopAll(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	sup := newSupervisor(t, procsup.WithObserver(obs))
	g := sup.NewGroup(fastStop(true))
	t.Cleanup(func() { _ = g.StopAll(context.Background()) })

	a, err := g.Start(t.Context(), procsup.Shell("sleep 30"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Start(t.Context(), procsup.Shell(`trap "" TERM; echo ready; while :; do sleep 0.1; done`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sup.WaitForOutput(t.Context(), b, "ready", converge.RetryPolicy{MaxAttempts: 50, Interval: 20 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if g.Len() != 2 {
		t.Fatalf("Len = %d, want 2", g.Len())
	}

	err = g.StopAll(t.Context())
	if !errors.Is(err, procsup.ErrProcessStop) {
		t.Errorf("StopAll error = %v, want the graceful failure reported", err)
	}
	if a.Alive() || b.Alive() {
		t.Error("processes alive after StopAll")
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d after StopAll", g.Len())
	}

	// Newest first; b ignores SIGTERM and is escalated.
	want := []string{"graceful/failed", "forceful/ok", "graceful/ok"}
	if diff := cmp.Diff(want, obs.stops); diff != "" {
		t.Errorf("observed stops mismatch (-want +got):\n%s", diff)
	}

	if err := g.StopAll(t.Context()); err != nil {
		t.Errorf("second StopAll: %v", err)
	}
}

func TestGroupStopEscalates(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	sup := newSupervisor(t, procsup.WithObserver(obs))
	g := sup.NewGroup(fastStop(true))
	t.Cleanup(func() { _ = g.StopAll(context.Background()) })

	p, err := g.Start(t.Context(), procsup.Shell(`trap "" TERM; echo ready; while :; do sleep 0.1; done`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sup.WaitForOutput(t.Context(), p, "ready", converge.RetryPolicy{MaxAttempts: 50, Interval: 20 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}

	err = g.Stop(t.Context(), p, fastStop(true))
	if !errors.Is(err, procsup.ErrProcessStop) {
		t.Errorf("Stop error = %v, want the graceful failure reported", err)
	}
	if p.Alive() {
		t.Fatal("process survived Group.Stop")
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d, want 0", g.Len())
	}
	want := []string{"graceful/failed", "forceful/ok"}
	if diff := cmp.Diff(want, obs.stops); diff != "" {
		t.Errorf("observed stops mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupStopReleases(t *testing.T) {
	t.Parallel()

	sup := newSupervisor(t)
	g := sup.NewGroup(fastStop(true))
	p, err := g.Start(t.Context(), procsup.Shell("sleep 30"))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Stop(t.Context(), p, fastStop(false)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d, want 0", g.Len())
	}
	if err := g.Stop(t.Context(), p, fastStop(false)); err != nil {
		t.Errorf("second Stop of released handle: %v", err)
	}
}
