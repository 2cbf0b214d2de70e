//go:build unix

package remote_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"
)

const (
	testUser     = "csit"
	testPassword = "s3cret"
)

// testServer is an SSH server that runs exec requests with the local
// /bin/sh. With a pty requested, an interrupt byte on stdin becomes SIGINT
// for the command's process group, as a terminal line discipline would do.
type testServer struct {
	addr   string
	signer ssh.Signer
	active atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return nil, nil
			}
			return nil, errors.New("login error")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &testServer{addr: ln.Addr().String(), signer: signer}

	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.serveConn(conn, cfg)
			}()
		}
	}()
	return s
}

func (s *testServer) serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	s.active.Add(1)
	defer s.active.Add(-1)
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			(&serverSession{ch: ch}).serve(chReqs)
		}()
	}
	wg.Wait()
	_ = sconn.Close()
}

type serverSession struct {
	ch  ssh.Channel
	pty bool

	mu  sync.Mutex
	pid int
}

func (s *serverSession) signal(sig unix.Signal) {
	s.mu.Lock()
	pid := s.pid
	s.mu.Unlock()
	if pid > 0 {
		_ = unix.Kill(-pid, sig)
	}
}

func (s *serverSession) serve(reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			s.pty = true
			_ = req.Reply(true, nil)
		case "exec":
			var msg struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go s.exec(msg.Command)
		case "signal":
			var msg struct{ Signal string }
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil && msg.Signal == string(ssh.SIGKILL) {
				s.signal(unix.SIGKILL)
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
	// The client closed the channel.
	s.signal(unix.SIGKILL)
}

func (s *serverSession) exec(line string) {
	cmd := exec.Command("/bin/sh", "-c", line)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Stdout = s.ch
	if s.pty {
		cmd.Stderr = s.ch
	} else {
		cmd.Stderr = s.ch.Stderr()
	}
	stdin, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		s.exit(127)
		return
	}
	s.mu.Lock()
	s.pid = cmd.Process.Pid
	s.mu.Unlock()

	go s.pumpStdin(stdin)

	_ = cmd.Wait()
	code := cmd.ProcessState.ExitCode()
	if ws, ok := cmd.ProcessState.Sys().(unix.WaitStatus); ok && ws.Signaled() {
		code = 128 + int(ws.Signal())
	}
	s.exit(code)
}

func (s *serverSession) pumpStdin(stdin io.WriteCloser) {
	defer stdin.Close()
	buf := make([]byte, 1024)
	for {
		n, err := s.ch.Read(buf)
		for _, b := range buf[:n] {
			if s.pty && b == 0x03 {
				s.signal(unix.SIGINT)
				continue
			}
			if _, werr := stdin.Write([]byte{b}); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *serverSession) exit(code int) {
	_, _ = s.ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
	_ = s.ch.Close()
}
