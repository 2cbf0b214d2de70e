// Package config manages csitctl configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/gocsit/internal/converge"
	"github.com/dantte-lp/gocsit/internal/procsup"
	"github.com/dantte-lp/gocsit/internal/remote"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete configuration of one test run.
type Config struct {
	Controller ControllerConfig `koanf:"controller"`
	Tools      ToolsConfig      `koanf:"tools"`
	SSH        SSHConfig        `koanf:"ssh"`
	GoBGP      GoBGPConfig      `koanf:"gobgp"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Policy     PolicyConfig     `koanf:"policy"`

	// DurationMultiplier scales every timeout and attempt budget, for slow
	// lab environments. Must be > 0.
	DurationMultiplier float64 `koanf:"duration_multiplier"`
}

// ControllerConfig locates the RESTCONF API of the controller under test.
type ControllerConfig struct {
	Scheme   string `koanf:"scheme"`
	Addr     string `koanf:"addr"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Timeout bounds a single RESTCONF request.
	Timeout time.Duration `koanf:"timeout"`
}

// ToolsConfig locates the host running simulators and the BGP tool.
type ToolsConfig struct {
	IP      string `koanf:"ip"`
	BGPPort int    `koanf:"bgp_port"`
}

// SSHConfig holds the remote execution target. An empty Host means the
// tools host.
type SSHConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	User        string        `koanf:"user"`
	Password    string        `koanf:"password"`
	KnownHosts  string        `koanf:"known_hosts"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// GoBGPConfig locates the GoBGP gRPC API.
type GoBGPConfig struct {
	Addr        string        `koanf:"addr"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address. Empty disables the endpoint.
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// PolicyConfig holds the default wait policies.
type PolicyConfig struct {
	Retry     RetryConfig     `koanf:"retry"`
	Stability StabilityConfig `koanf:"stability"`
	Start     StartConfig     `koanf:"start"`
	Stop      StopConfig      `koanf:"stop"`
}

// RetryConfig is the default retry-until-condition policy.
type RetryConfig struct {
	Attempts       int           `koanf:"attempts"`
	Interval       time.Duration `koanf:"interval"`
	SkipFinalSleep bool          `koanf:"skip_final_sleep"`
}

// StabilityConfig is the default retry-until-stable policy.
type StabilityConfig struct {
	Timeout     time.Duration `koanf:"timeout"`
	Interval    time.Duration `koanf:"interval"`
	Repetitions int           `koanf:"repetitions"`
}

// StartConfig controls how long a started process must stay alive.
type StartConfig struct {
	Checks   int           `koanf:"checks"`
	Interval time.Duration `koanf:"interval"`
}

// StopConfig controls how long a stopped process may take to exit.
type StopConfig struct {
	ConfirmTimeout time.Duration `koanf:"confirm_timeout"`
	Interval       time.Duration `koanf:"interval"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with defaults matching a
// single-node lab: controller and tools on the loopback, admin/admin
// RESTCONF credentials, stop confirmation over five one-second checks.
func DefaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			Scheme:   "http",
			Addr:     "127.0.0.1",
			Port:     8181,
			User:     "admin",
			Password: "admin",
			Timeout:  30 * time.Second,
		},
		Tools: ToolsConfig{
			IP:      "127.0.0.1",
			BGPPort: 17900,
		},
		SSH: SSHConfig{
			Port:        22,
			DialTimeout: 10 * time.Second,
		},
		GoBGP: GoBGPConfig{
			Addr:        "127.0.0.1:50051",
			DialTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Policy: PolicyConfig{
			Retry: RetryConfig{
				Attempts: 30,
				Interval: time.Second,
			},
			Stability: StabilityConfig{
				Timeout:     60 * time.Second,
				Interval:    5 * time.Second,
				Repetitions: 3,
			},
			Start: StartConfig{
				Checks:   3,
				Interval: time.Second,
			},
			Stop: StopConfig{
				ConfirmTimeout: procsup.DefaultConfirmTimeout,
				Interval:       procsup.DefaultConfirmPoll,
			},
		},
		DurationMultiplier: 1,
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for csitctl configuration.
// Variables are named GOCSIT_<section>_<key>, e.g., GOCSIT_SSH_KNOWN_HOSTS.
const envPrefix = "GOCSIT_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOCSIT_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults. An empty path skips the file layer.
//
// Environment variable mapping:
//
//	GOCSIT_CONTROLLER_ADDR            -> controller.addr
//	GOCSIT_SSH_KNOWN_HOSTS            -> ssh.known_hosts
//	GOCSIT_POLICY_RETRY_ATTEMPTS      -> policy.retry.attempts
//	GOCSIT_DURATION_MULTIPLIER        -> duration_multiplier
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// Load environment variable overrides on top of YAML.
	mapper := envKeyMapper(k.Keys())
	if err := k.Load(env.Provider(envPrefix, ".", mapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %q: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper returns a mapper turning GOCSIT_SSH_KNOWN_HOSTS into
// ssh.known_hosts. Key names contain underscores themselves, so the
// variable is matched against the known keys first; unknown variables
// fall back to replacing every _ with a dot.
func envKeyMapper(known []string) func(string) string {
	byEnv := make(map[string]string, len(known))
	for _, key := range known {
		byEnv[strings.ReplaceAll(key, ".", "_")] = key
	}
	return func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if key, ok := byEnv[s]; ok {
			return key
		}
		return strings.ReplaceAll(s, "_", ".")
	}
}

// loadDefaults sets the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaultMap := map[string]any{
		"controller.scheme":             d.Controller.Scheme,
		"controller.addr":               d.Controller.Addr,
		"controller.port":               d.Controller.Port,
		"controller.user":               d.Controller.User,
		"controller.password":           d.Controller.Password,
		"controller.timeout":            d.Controller.Timeout.String(),
		"tools.ip":                      d.Tools.IP,
		"tools.bgp_port":                d.Tools.BGPPort,
		"ssh.host":                      d.SSH.Host,
		"ssh.port":                      d.SSH.Port,
		"ssh.user":                      d.SSH.User,
		"ssh.password":                  d.SSH.Password,
		"ssh.known_hosts":               d.SSH.KnownHosts,
		"ssh.dial_timeout":              d.SSH.DialTimeout.String(),
		"gobgp.addr":                    d.GoBGP.Addr,
		"gobgp.dial_timeout":            d.GoBGP.DialTimeout.String(),
		"log.level":                     d.Log.Level,
		"log.format":                    d.Log.Format,
		"metrics.addr":                  d.Metrics.Addr,
		"metrics.path":                  d.Metrics.Path,
		"policy.retry.attempts":         d.Policy.Retry.Attempts,
		"policy.retry.interval":         d.Policy.Retry.Interval.String(),
		"policy.retry.skip_final_sleep": d.Policy.Retry.SkipFinalSleep,
		"policy.stability.timeout":      d.Policy.Stability.Timeout.String(),
		"policy.stability.interval":     d.Policy.Stability.Interval.String(),
		"policy.stability.repetitions":  d.Policy.Stability.Repetitions,
		"policy.start.checks":           d.Policy.Start.Checks,
		"policy.start.interval":         d.Policy.Start.Interval.String(),
		"policy.stop.confirm_timeout":   d.Policy.Stop.ConfirmTimeout.String(),
		"policy.stop.interval":          d.Policy.Stop.Interval.String(),
		"duration_multiplier":           d.DurationMultiplier,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidScheme indicates a controller scheme other than http or https.
	ErrInvalidScheme = errors.New("controller.scheme must be http or https")

	// ErrEmptyControllerAddr indicates the controller address is empty.
	ErrEmptyControllerAddr = errors.New("controller.addr must not be empty")

	// ErrInvalidPort indicates a port outside 1-65535.
	ErrInvalidPort = errors.New("port must be in 1-65535")

	// ErrInvalidTimeout indicates a zero or negative timeout.
	ErrInvalidTimeout = errors.New("timeout must be > 0")

	// ErrInvalidRetryAttempts indicates a retry budget below one attempt.
	ErrInvalidRetryAttempts = errors.New("policy.retry.attempts must be >= 1")

	// ErrInvalidInterval indicates a negative polling interval.
	ErrInvalidInterval = errors.New("interval must be >= 0")

	// ErrInvalidRepetitions indicates a stability policy needing no samples.
	ErrInvalidRepetitions = errors.New("policy.stability.repetitions must be >= 1")

	// ErrInvalidStartChecks indicates a start policy with no liveness checks.
	ErrInvalidStartChecks = errors.New("policy.start.checks must be >= 1")

	// ErrInvalidMultiplier indicates a zero or negative duration multiplier.
	ErrInvalidMultiplier = errors.New("duration_multiplier must be > 0")

	// ErrInvalidLogFormat indicates a log format other than json or text.
	ErrInvalidLogFormat = errors.New("log.format must be json or text")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if !slices.Contains([]string{"http", "https"}, cfg.Controller.Scheme) {
		return fmt.Errorf("%w: %q", ErrInvalidScheme, cfg.Controller.Scheme)
	}
	if cfg.Controller.Addr == "" {
		return ErrEmptyControllerAddr
	}

	ports := []struct {
		key  string
		port int
	}{
		{"controller.port", cfg.Controller.Port},
		{"tools.bgp_port", cfg.Tools.BGPPort},
		{"ssh.port", cfg.SSH.Port},
	}
	for _, p := range ports {
		if p.port < 1 || p.port > math.MaxUint16 {
			return fmt.Errorf("%s %d: %w", p.key, p.port, ErrInvalidPort)
		}
	}

	timeouts := []struct {
		key string
		d   time.Duration
	}{
		{"controller.timeout", cfg.Controller.Timeout},
		{"ssh.dial_timeout", cfg.SSH.DialTimeout},
		{"gobgp.dial_timeout", cfg.GoBGP.DialTimeout},
		{"policy.stability.timeout", cfg.Policy.Stability.Timeout},
		{"policy.stop.confirm_timeout", cfg.Policy.Stop.ConfirmTimeout},
	}
	for _, to := range timeouts {
		if to.d <= 0 {
			return fmt.Errorf("%s %v: %w", to.key, to.d, ErrInvalidTimeout)
		}
	}

	intervals := []struct {
		key string
		d   time.Duration
	}{
		{"policy.retry.interval", cfg.Policy.Retry.Interval},
		{"policy.stability.interval", cfg.Policy.Stability.Interval},
		{"policy.start.interval", cfg.Policy.Start.Interval},
		{"policy.stop.interval", cfg.Policy.Stop.Interval},
	}
	for _, iv := range intervals {
		if iv.d < 0 {
			return fmt.Errorf("%s %v: %w", iv.key, iv.d, ErrInvalidInterval)
		}
	}

	if cfg.Policy.Retry.Attempts < 1 {
		return ErrInvalidRetryAttempts
	}
	if cfg.Policy.Stability.Repetitions < 1 {
		return ErrInvalidRepetitions
	}
	if cfg.Policy.Start.Checks < 1 {
		return ErrInvalidStartChecks
	}
	if cfg.DurationMultiplier <= 0 {
		return ErrInvalidMultiplier
	}
	if !slices.Contains([]string{"json", "text"}, cfg.Log.Format) {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, cfg.Log.Format)
	}

	return nil
}

// -------------------------------------------------------------------------
// Derived values
// -------------------------------------------------------------------------

// Scale multiplies d by the duration multiplier.
func (c *Config) Scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) * c.multiplier())
}

func (c *Config) multiplier() float64 {
	if c.DurationMultiplier <= 0 {
		return 1
	}
	return c.DurationMultiplier
}

// RestconfURL returns the RESTCONF base URL of the controller.
func (c *Config) RestconfURL() string {
	return c.Controller.Scheme + "://" + net.JoinHostPort(c.Controller.Addr, strconv.Itoa(c.Controller.Port))
}

// RetryPolicy returns the default retry policy with the attempt budget
// scaled by the duration multiplier.
func (c *Config) RetryPolicy() converge.RetryPolicy {
	attempts := int(math.Ceil(float64(c.Policy.Retry.Attempts) * c.multiplier()))
	return converge.RetryPolicy{
		MaxAttempts:    max(attempts, 1),
		Interval:       c.Policy.Retry.Interval,
		SkipFinalSleep: c.Policy.Retry.SkipFinalSleep,
	}
}

// StabilityPolicy returns the default stability policy for values of type
// T with the timeout scaled by the duration multiplier.
func StabilityPolicy[T comparable](c *Config) converge.StabilityPolicy[T] {
	s := c.Policy.Stability
	return converge.Stability[T](c.Scale(s.Timeout), s.Interval, s.Repetitions)
}

// StartPolicy returns the policy a started process must survive. It is
// not scaled: a slower lab does not make an early crash acceptable.
func (c *Config) StartPolicy() converge.RetryPolicy {
	return converge.RetryPolicy{
		MaxAttempts: c.Policy.Start.Checks,
		Interval:    c.Policy.Start.Interval,
	}
}

// StopOptions returns graceful stop options with the confirmation window
// scaled by the duration multiplier.
func (c *Config) StopOptions() procsup.StopOptions {
	return procsup.StopOptions{
		Graceful:       true,
		ConfirmTimeout: c.Scale(c.Policy.Stop.ConfirmTimeout),
		Interval:       c.Policy.Stop.Interval,
	}
}

// SSHTarget returns the remote execution target. The tools host is used
// when ssh.host is empty.
func (c *Config) SSHTarget() remote.Target {
	host := c.SSH.Host
	if host == "" {
		host = c.Tools.IP
	}
	return remote.Target{
		Host:           host,
		Port:           c.SSH.Port,
		User:           c.SSH.User,
		Password:       c.SSH.Password,
		KnownHostsFile: c.SSH.KnownHosts,
		DialTimeout:    c.Scale(c.SSH.DialTimeout),
	}
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
