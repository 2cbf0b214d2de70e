package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is the SSH port used when Target.Port is zero.
const DefaultPort = 22

// defaultDialTimeout bounds connection setup when Target.DialTimeout is zero.
const defaultDialTimeout = 10 * time.Second

// Target identifies the remote host and credentials.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string

	// KnownHostsFile verifies the host key. Empty disables verification,
	// which is the norm for disposable lab hosts.
	KnownHostsFile string

	DialTimeout time.Duration
}

// Addr returns host:port.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t Target) clientConfig() (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User: t.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(t.Password),
			ssh.KeyboardInteractive(interactive(t.Password)),
		},
		Timeout: t.dialTimeout(),
	}
	if t.KnownHostsFile == "" {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
		return cfg, nil
	}
	cb, err := knownhosts.New(os.ExpandEnv(t.KnownHostsFile))
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", t.KnownHostsFile, err)
	}
	cfg.HostKeyCallback = cb
	return cfg, nil
}

func (t Target) dialTimeout() time.Duration {
	if t.DialTimeout > 0 {
		return t.DialTimeout
	}
	return defaultDialTimeout
}

// interactive answers every keyboard-interactive question with the password.
func interactive(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

// Runner executes commands on one Target.
type Runner struct {
	target Target
	logger *slog.Logger
	limit  int
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutputLimit caps the bytes of output retained per background process.
func WithOutputLimit(n int) Option {
	return func(r *Runner) { r.limit = n }
}

// New creates a Runner for target. A nil logger discards logs.
func New(logger *slog.Logger, target Target, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Runner{
		target: target,
		logger: logger.With(slog.String("component", "remote"), slog.String("host", target.Addr())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Target returns the runner's target.
func (r *Runner) Target() Target { return r.target }

// dial opens an authenticated connection, honoring ctx during setup.
func (r *Runner) dial(ctx context.Context) (*ssh.Client, error) {
	cfg, err := r.target.clientConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.target.dialTimeout())
	defer cancel()

	addr := r.target.Addr()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// WithClient opens a connection, calls fn and closes the connection
// whether fn succeeds, fails or panics.
func (r *Runner) WithClient(ctx context.Context, fn func(*ssh.Client) error) error {
	client, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			r.logger.Debug("closing ssh client", slog.String("error", cerr.Error()))
		}
	}()
	return fn(client)
}
