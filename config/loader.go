package config

// loader.go - configuration loading from files and environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. TOML config file  (LoadFromFile, --config)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	ncerr "relaychat/internal/errors"
)

// ── Config file ──────────────────────────────────────────────────────

// fileConfig mirrors the TOML layout.  Durations are written as Go
// duration strings ("30s", "2m") and parsed after decoding.
type fileConfig struct {
	Server struct {
		BindAddress    string   `toml:"bind_address"`
		ChatPort       int      `toml:"chat_port"`
		StatusPort     *int     `toml:"status_port"`
		IdleTimeout    string   `toml:"idle_timeout"`
		WriteTimeout   string   `toml:"write_timeout"`
		QueueSize      int      `toml:"queue_size"`
		MaxLineLength  int      `toml:"max_line_length"`
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"server"`

	Join struct {
		Host        string `toml:"host"`
		Port        int    `toml:"port"`
		Username    string `toml:"username"`
		DialRetries *int   `toml:"dial_retries"`
	} `toml:"join"`

	SSH struct {
		Publish           string `toml:"publish"`
		Tunnel            string `toml:"tunnel"`
		RemoteBindAddress string `toml:"remote_bind_address"`
		RemotePort        int    `toml:"remote_port"`
		KeepAlive         int    `toml:"keep_alive"`
		AutoReconnect     bool   `toml:"auto_reconnect"`
		Key               string `toml:"key"`
		Password          bool   `toml:"password"`
		Agent             bool   `toml:"agent"`
		StrictHostKey     bool   `toml:"strict_host_key"`
		KnownHosts        string `toml:"known_hosts"`
	} `toml:"ssh"`

	Verbose int `toml:"verbose"`
}

// LoadFromFile overlays a TOML config file onto cfg.  Keys absent from
// the file leave the existing value alone.  Unknown keys are rejected
// so typos do not silently fall back to defaults.
func LoadFromFile(cfg *Config, path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return &ncerr.ConfigError{Field: "config", Value: path, Message: err.Error()}
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return &ncerr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: fmt.Sprintf("unknown keys: %s", strings.Join(keys, ", ")),
			Hint:    "sections are [server], [join] and [ssh]",
		}
	}

	s := fc.Server
	setString(&cfg.BindAddress, s.BindAddress)
	setInt(&cfg.ChatPort, s.ChatPort)
	if s.StatusPort != nil {
		cfg.StatusPort = *s.StatusPort
	}
	if err := setDuration(&cfg.IdleTimeout, "idle_timeout", s.IdleTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.WriteTimeout, "write_timeout", s.WriteTimeout); err != nil {
		return err
	}
	setInt(&cfg.QueueSize, s.QueueSize)
	setInt(&cfg.MaxLineLength, s.MaxLineLength)
	if len(s.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = s.AllowedOrigins
	}

	j := fc.Join
	setString(&cfg.Host, j.Host)
	setInt(&cfg.Port, j.Port)
	setString(&cfg.Username, j.Username)
	if j.DialRetries != nil {
		cfg.DialRetries = *j.DialRetries
	}

	h := fc.SSH
	setString(&cfg.PublishSpec, h.Publish)
	setString(&cfg.TunnelSpec, h.Tunnel)
	setString(&cfg.RemoteBindAddress, h.RemoteBindAddress)
	setInt(&cfg.RemotePort, h.RemotePort)
	setInt(&cfg.KeepAliveInterval, h.KeepAlive)
	cfg.AutoReconnect = cfg.AutoReconnect || h.AutoReconnect
	setString(&cfg.SSHKeyPath, h.Key)
	cfg.SSHPassword = cfg.SSHPassword || h.Password
	cfg.UseSSHAgent = cfg.UseSSHAgent || h.Agent
	cfg.StrictHostKey = cfg.StrictHostKey || h.StrictHostKey
	setString(&cfg.KnownHostsPath, h.KnownHosts)

	setInt(&cfg.Verbose, fc.Verbose)
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the RELAYCHAT_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	setString(&cfg.BindAddress, os.Getenv("RELAYCHAT_BIND"))
	setInt(&cfg.ChatPort, envInt("RELAYCHAT_PORT"))
	setInt(&cfg.Port, envInt("RELAYCHAT_PORT"))
	setInt(&cfg.StatusPort, envInt("RELAYCHAT_STATUS_PORT"))
	if v := envInt("RELAYCHAT_IDLE_TIMEOUT"); v > 0 {
		cfg.IdleTimeout = secondsDuration(v)
	}
	if v := envInt("RELAYCHAT_WRITE_TIMEOUT"); v > 0 {
		cfg.WriteTimeout = secondsDuration(v)
	}
	setInt(&cfg.QueueSize, envInt("RELAYCHAT_QUEUE_SIZE"))
	setInt(&cfg.MaxLineLength, envInt("RELAYCHAT_MAX_LINE"))
	if v := os.Getenv("RELAYCHAT_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	// Join
	setString(&cfg.Host, os.Getenv("RELAYCHAT_HOST"))
	setString(&cfg.Username, os.Getenv("RELAYCHAT_NAME"))
	setInt(&cfg.DialRetries, envInt("RELAYCHAT_RETRIES"))

	// SSH
	setString(&cfg.PublishSpec, os.Getenv("RELAYCHAT_PUBLISH"))
	setString(&cfg.TunnelSpec, os.Getenv("RELAYCHAT_TUNNEL"))
	setString(&cfg.RemoteBindAddress, os.Getenv("RELAYCHAT_REMOTE_BIND_ADDRESS"))
	setInt(&cfg.RemotePort, envInt("RELAYCHAT_REMOTE_PORT"))
	setInt(&cfg.KeepAliveInterval, envInt("RELAYCHAT_KEEP_ALIVE"))
	if envBool("RELAYCHAT_AUTO_RECONNECT") {
		cfg.AutoReconnect = true
	}
	setString(&cfg.SSHKeyPath, os.Getenv("RELAYCHAT_SSH_KEY"))
	if envBool("RELAYCHAT_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("RELAYCHAT_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("RELAYCHAT_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	setString(&cfg.KnownHostsPath, os.Getenv("RELAYCHAT_KNOWN_HOSTS"))

	// Output
	setInt(&cfg.Verbose, envInt("RELAYCHAT_VERBOSE"))
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return &ncerr.ConfigError{Field: field, Value: v, Message: "invalid duration",
			Hint: `use Go duration syntax such as "30s" or "2m"`}
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
