// Package config defines the runtime configuration for relaychat and
// provides helpers for parsing SSH gateway specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "relaychat/internal/errors"
)

// Config holds every tuneable for one relaychat process, whether it is
// serving the room or joining one.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	BindAddress    string
	ChatPort       int
	StatusPort     int // 0 disables the status server
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	QueueSize      int
	MaxLineLength  int
	AllowedOrigins []string
	GracePeriod    time.Duration

	// ── Join ─────────────────────────────────────────────────────────
	Join        bool
	Host        string
	Port        int
	Username    string
	DialRetries int
	DialTimeout time.Duration

	// ── SSH ──────────────────────────────────────────────────────────
	// PublishSpec exposes the chat port on an SSH gateway (serve);
	// TunnelSpec dials the room through one (join).
	PublishSpec       string
	PublishEnabled    bool
	PublishUser       string
	PublishHost       string
	PublishPort       int
	RemoteBindAddress string
	RemotePort        int
	KeepAliveInterval int // seconds
	AutoReconnect     bool

	TunnelSpec    string
	TunnelEnabled bool
	TunnelUser    string
	TunnelHost    string
	TunnelPort    int

	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// New returns a Config populated from defaults.go.
func New() *Config {
	return &Config{
		BindAddress:       DefaultBindAddress,
		ChatPort:          DefaultChatPort,
		StatusPort:        DefaultStatusPort,
		WriteTimeout:      DefaultWriteTimeout,
		QueueSize:         DefaultQueueSize,
		MaxLineLength:     DefaultMaxLineLength,
		GracePeriod:       DefaultGracePeriod,
		Port:              DefaultChatPort,
		DialRetries:       DefaultDialRetries,
		DialTimeout:       DefaultConnTimeout,
		RemoteBindAddress: DefaultRemoteBindAddress,
		KeepAliveInterval: DefaultKeepAliveInterval,
	}
}

// ChatAddr is the host:port the chat listener binds.
func (c *Config) ChatAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.ChatPort)
}

// StatusAddr is the host:port the status server binds.
func (c *Config) StatusAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.StatusPort)
}

// ── Gateway-spec parser ──────────────────────────────────────────────

// gatewayRe matches [user@]host[:port].
var gatewayRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := gatewayRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ResolveSpecs parses PublishSpec and TunnelSpec into their component
// fields.  Empty specs leave the matching feature disabled.
func (c *Config) ResolveSpecs() error {
	if c.PublishSpec != "" {
		user, host, port, err := ParseTunnelSpec(c.PublishSpec)
		if err != nil {
			return &ncerr.ConfigError{Field: "publish", Value: c.PublishSpec, Message: err.Error(),
				Hint: "use --publish user@host[:port]"}
		}
		c.PublishEnabled = true
		c.PublishUser, c.PublishHost, c.PublishPort = user, host, port
	}
	if c.TunnelSpec != "" {
		user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
		if err != nil {
			return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error(),
				Hint: "use --tunnel user@host[:port]"}
		}
		c.TunnelEnabled = true
		c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	}
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Failures are *errors.ConfigError values carrying a hint.
func (c *Config) Validate() error {
	if c.Join {
		return c.validateJoin()
	}
	return c.validateServe()
}

func (c *Config) validateServe() error {
	if err := checkPort("port", c.ChatPort, false); err != nil {
		return err
	}
	if err := checkPort("status-port", c.StatusPort, true); err != nil {
		return err
	}
	if c.StatusPort != 0 && c.StatusPort == c.ChatPort {
		return &ncerr.ConfigError{
			Field:   "status-port",
			Value:   strconv.Itoa(c.StatusPort),
			Message: "chat and status servers cannot share a port",
			Hint:    "pick distinct values for --port and --status-port",
		}
	}
	if c.QueueSize < 1 {
		return &ncerr.ConfigError{Field: "queue-size", Value: strconv.Itoa(c.QueueSize),
			Message: "must be at least 1"}
	}
	if c.MaxLineLength < 1 {
		return &ncerr.ConfigError{Field: "max-line", Value: strconv.Itoa(c.MaxLineLength),
			Message: "must be at least 1"}
	}
	if c.IdleTimeout < 0 || c.WriteTimeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Message: "timeouts cannot be negative"}
	}
	if c.TunnelEnabled {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: "--tunnel only applies to join",
			Hint:    "use --publish to expose the server through an SSH gateway",
		}
	}
	if c.PublishEnabled {
		if c.PublishHost == "" {
			return &ncerr.ConfigError{Field: "publish", Message: "gateway host is required"}
		}
		if c.RemotePort < 0 || c.RemotePort > 65535 {
			return &ncerr.ConfigError{
				Field:   "remote-port",
				Value:   strconv.Itoa(c.RemotePort),
				Message: "port out of range 0-65535",
				Hint:    "0 lets the gateway pick a port",
			}
		}
	}
	return nil
}

func (c *Config) validateJoin() error {
	if c.Host == "" {
		return &ncerr.ConfigError{
			Field:   "host",
			Message: "hostname is required",
			Hint:    "relaychat join <host> [port]",
		}
	}
	if err := checkPort("port", c.Port, false); err != nil {
		return err
	}
	if c.PublishEnabled {
		return &ncerr.ConfigError{
			Field:   "publish",
			Value:   c.PublishSpec,
			Message: "--publish only applies to serve",
			Hint:    "use --tunnel to reach a room behind an SSH gateway",
		}
	}
	if c.DialRetries < 0 {
		return &ncerr.ConfigError{Field: "retries", Value: strconv.Itoa(c.DialRetries),
			Message: "cannot be negative"}
	}
	return nil
}

func checkPort(field string, port int, zeroOK bool) error {
	if port == 0 && zeroOK {
		return nil
	}
	if port < 1 || port > 65535 {
		return &ncerr.ConfigError{
			Field:   field,
			Value:   strconv.Itoa(port),
			Message: "port out of range 1-65535",
		}
	}
	return nil
}
