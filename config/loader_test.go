package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	ncerr "relaychat/internal/errors"
)

// ── LoadFromEnv ──────────────────────────────────────────────────────

func TestLoadFromEnv_Ports(t *testing.T) {
	t.Setenv("RELAYCHAT_PORT", "5000")
	t.Setenv("RELAYCHAT_STATUS_PORT", "5001")
	cfg := New()
	LoadFromEnv(cfg)
	if cfg.ChatPort != 5000 || cfg.Port != 5000 {
		t.Errorf("ChatPort/Port = %d/%d, want 5000", cfg.ChatPort, cfg.Port)
	}
	if cfg.StatusPort != 5001 {
		t.Errorf("StatusPort = %d, want 5001", cfg.StatusPort)
	}
}

func TestLoadFromEnv_Server(t *testing.T) {
	t.Setenv("RELAYCHAT_BIND", "127.0.0.1")
	t.Setenv("RELAYCHAT_IDLE_TIMEOUT", "300")
	t.Setenv("RELAYCHAT_WRITE_TIMEOUT", "5")
	t.Setenv("RELAYCHAT_QUEUE_SIZE", "16")
	t.Setenv("RELAYCHAT_MAX_LINE", "1024")
	t.Setenv("RELAYCHAT_ALLOWED_ORIGINS", "http://a.example, ,http://b.example")

	cfg := New()
	LoadFromEnv(cfg)

	if cfg.BindAddress != "127.0.0.1" {
		t.Errorf("BindAddress = %q", cfg.BindAddress)
	}
	if cfg.IdleTimeout != 300*time.Second || cfg.WriteTimeout != 5*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.IdleTimeout, cfg.WriteTimeout)
	}
	if cfg.QueueSize != 16 || cfg.MaxLineLength != 1024 {
		t.Errorf("QueueSize/MaxLineLength = %d/%d", cfg.QueueSize, cfg.MaxLineLength)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.example" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	for _, v := range []string{"1", "true", "yes", "TRUE", "Yes"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("RELAYCHAT_SSH_AGENT", v)
			t.Setenv("RELAYCHAT_AUTO_RECONNECT", v)
			cfg := New()
			LoadFromEnv(cfg)
			if !cfg.UseSSHAgent || !cfg.AutoReconnect {
				t.Errorf("agent/reconnect = %v/%v", cfg.UseSSHAgent, cfg.AutoReconnect)
			}
		})
	}
}

func TestLoadFromEnv_SSHFields(t *testing.T) {
	t.Setenv("RELAYCHAT_PUBLISH", "tunnel@gw:2222")
	t.Setenv("RELAYCHAT_TUNNEL", "admin@bastion")
	t.Setenv("RELAYCHAT_SSH_KEY", "/home/user/.ssh/id_ed25519")
	t.Setenv("RELAYCHAT_SSH_PASSWORD", "true")
	t.Setenv("RELAYCHAT_STRICT_HOSTKEY", "yes")
	t.Setenv("RELAYCHAT_KNOWN_HOSTS", "/custom/known_hosts")
	t.Setenv("RELAYCHAT_REMOTE_PORT", "80")
	t.Setenv("RELAYCHAT_REMOTE_BIND_ADDRESS", "127.0.0.1")
	t.Setenv("RELAYCHAT_KEEP_ALIVE", "60")

	cfg := New()
	LoadFromEnv(cfg)

	if cfg.PublishSpec != "tunnel@gw:2222" || cfg.TunnelSpec != "admin@bastion" {
		t.Errorf("specs = %q/%q", cfg.PublishSpec, cfg.TunnelSpec)
	}
	if cfg.SSHKeyPath != "/home/user/.ssh/id_ed25519" {
		t.Errorf("SSHKeyPath = %q", cfg.SSHKeyPath)
	}
	if !cfg.SSHPassword || !cfg.StrictHostKey {
		t.Error("SSHPassword and StrictHostKey should be true")
	}
	if cfg.KnownHostsPath != "/custom/known_hosts" {
		t.Errorf("KnownHostsPath = %q", cfg.KnownHostsPath)
	}
	if cfg.RemotePort != 80 || cfg.RemoteBindAddress != "127.0.0.1" || cfg.KeepAliveInterval != 60 {
		t.Errorf("remote = %q:%d keepalive=%d", cfg.RemoteBindAddress, cfg.RemotePort, cfg.KeepAliveInterval)
	}
}

func TestLoadFromEnv_Join(t *testing.T) {
	t.Setenv("RELAYCHAT_HOST", "chat.example.com")
	t.Setenv("RELAYCHAT_NAME", "alice")
	t.Setenv("RELAYCHAT_RETRIES", "7")
	cfg := New()
	LoadFromEnv(cfg)
	if cfg.Host != "chat.example.com" || cfg.Username != "alice" || cfg.DialRetries != 7 {
		t.Errorf("join = %q %q %d", cfg.Host, cfg.Username, cfg.DialRetries)
	}
}

func TestLoadFromEnv_NoOverrideWhenEmpty(t *testing.T) {
	os.Clearenv()

	cfg := &Config{Host: "original", ChatPort: 1234}
	LoadFromEnv(cfg)

	if cfg.Host != "original" {
		t.Errorf("Host was overridden: %q", cfg.Host)
	}
	if cfg.ChatPort != 1234 {
		t.Errorf("ChatPort was overridden: %d", cfg.ChatPort)
	}
}

func TestLoadFromEnv_InvalidIntIgnored(t *testing.T) {
	t.Setenv("RELAYCHAT_PORT", "not-a-number")
	cfg := New()
	LoadFromEnv(cfg)
	if cfg.ChatPort != DefaultChatPort {
		t.Errorf("ChatPort = %d, want default for invalid input", cfg.ChatPort)
	}
}

func TestLoadFromEnv_Verbose(t *testing.T) {
	t.Setenv("RELAYCHAT_VERBOSE", "3")
	cfg := New()
	LoadFromEnv(cfg)
	if cfg.Verbose != 3 {
		t.Errorf("Verbose = %d, want 3", cfg.Verbose)
	}
}

// ── LoadFromFile ─────────────────────────────────────────────────────

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaychat.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
verbose = 2

[server]
bind_address = "127.0.0.1"
chat_port = 4100
status_port = 0
idle_timeout = "5m"
write_timeout = "3s"
queue_size = 64
allowed_origins = ["https://chat.example.com"]

[join]
username = "bob"
dial_retries = 0

[ssh]
publish = "tunnel@gw.example.com"
remote_port = 4000
auto_reconnect = true
key = "~/.ssh/id_ed25519"
`)

	cfg := New()
	if err := LoadFromFile(cfg, path); err != nil {
		t.Fatal(err)
	}

	if cfg.BindAddress != "127.0.0.1" || cfg.ChatPort != 4100 {
		t.Errorf("chat = %s", cfg.ChatAddr())
	}
	if cfg.StatusPort != 0 {
		t.Errorf("StatusPort = %d, want 0 (explicitly disabled)", cfg.StatusPort)
	}
	if cfg.IdleTimeout != 5*time.Minute || cfg.WriteTimeout != 3*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.IdleTimeout, cfg.WriteTimeout)
	}
	if cfg.QueueSize != 64 || cfg.MaxLineLength != DefaultMaxLineLength {
		t.Errorf("QueueSize/MaxLineLength = %d/%d", cfg.QueueSize, cfg.MaxLineLength)
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if cfg.Username != "bob" || cfg.DialRetries != 0 {
		t.Errorf("join = %q retries=%d", cfg.Username, cfg.DialRetries)
	}
	if cfg.PublishSpec != "tunnel@gw.example.com" || cfg.RemotePort != 4000 || !cfg.AutoReconnect {
		t.Errorf("ssh = %q %d %v", cfg.PublishSpec, cfg.RemotePort, cfg.AutoReconnect)
	}
	if cfg.Verbose != 2 {
		t.Errorf("Verbose = %d", cfg.Verbose)
	}
}

func TestLoadFromFile_EnvWins(t *testing.T) {
	path := writeConfig(t, "[server]\nchat_port = 4100\n")
	t.Setenv("RELAYCHAT_PORT", "4200")

	cfg := New()
	if err := LoadFromFile(cfg, path); err != nil {
		t.Fatal(err)
	}
	LoadFromEnv(cfg)
	if cfg.ChatPort != 4200 {
		t.Errorf("ChatPort = %d, want env value 4200", cfg.ChatPort)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "[server\nchat_port = 1"},
		{"unknown key", "[server]\nchat_prot = 4000\n"},
		{"bad duration", "[server]\nidle_timeout = \"soon\"\n"},
		{"negative duration", "[server]\nwrite_timeout = \"-1s\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LoadFromFile(New(), writeConfig(t, tt.body))
			var ce *ncerr.ConfigError
			if !ncerr.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	err := LoadFromFile(New(), filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
