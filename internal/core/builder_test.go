package core

import (
	"testing"
	"time"

	"relaychat/config"
	"relaychat/internal/transport"
	"relaychat/util"
)

func TestBuild_Serve(t *testing.T) {
	cfg := config.New()
	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	sm, ok := mode.(*ServeMode)
	if !ok {
		t.Fatalf("expected *ServeMode, got %T", mode)
	}
	if sm.ChatAddr != "0.0.0.0:4000" || sm.StatusAddr != "0.0.0.0:3000" {
		t.Errorf("addrs = %q, %q", sm.ChatAddr, sm.StatusAddr)
	}
	if sm.Status == nil {
		t.Error("status server not built")
	}
	if sm.Publish != nil {
		t.Error("publish configured without --publish")
	}
	if sm.Handler.Options.QueueSize != config.DefaultQueueSize {
		t.Errorf("queue size = %d", sm.Handler.Options.QueueSize)
	}
}

func TestBuild_ServeStatusDisabled(t *testing.T) {
	cfg := config.New()
	cfg.StatusPort = 0
	mode, _ := Build(cfg, util.NewLogger(0))
	sm := mode.(*ServeMode)
	if sm.StatusAddr != "" || sm.Status != nil {
		t.Errorf("status enabled: %q", sm.StatusAddr)
	}
}

func TestBuild_ServePublish(t *testing.T) {
	cfg := config.New()
	cfg.PublishSpec = "relay@gateway.example:2222"
	cfg.RemotePort = 4000
	cfg.AutoReconnect = true
	if err := cfg.ResolveSpecs(); err != nil {
		t.Fatal(err)
	}

	mode, _ := Build(cfg, util.NewLogger(0))
	pub := mode.(*ServeMode).Publish
	if pub == nil {
		t.Fatal("publish not configured")
	}
	if pub.SSH.User != "relay" || pub.SSH.Host != "gateway.example" || pub.SSH.Port != 2222 {
		t.Errorf("ssh = %+v", pub.SSH)
	}
	if !pub.SSH.AllowKeyboardInteractive {
		t.Error("keyboard-interactive not allowed for publish")
	}
	if pub.RemotePort != 4000 || !pub.AutoReconnect {
		t.Errorf("publish = %+v", pub)
	}
	if pub.KeepAliveInterval != time.Duration(config.DefaultKeepAliveInterval)*time.Second {
		t.Errorf("keepalive = %v", pub.KeepAliveInterval)
	}
}

func TestBuild_Join(t *testing.T) {
	cfg := config.New()
	cfg.Join = true
	cfg.Host = "chat.example"
	cfg.Port = 4100
	cfg.Username = "alice"

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	jm, ok := mode.(*JoinMode)
	if !ok {
		t.Fatalf("expected *JoinMode, got %T", mode)
	}
	if jm.Address != "chat.example:4100" || jm.Username != "alice" {
		t.Errorf("join = %q as %q", jm.Address, jm.Username)
	}
	rd, ok := jm.Dialer.(*transport.RetryDialer)
	if !ok {
		t.Fatalf("dialer = %T, want *RetryDialer", jm.Dialer)
	}
	if rd.Backoff.MaxAttempts != config.DefaultDialRetries+1 {
		t.Errorf("attempts = %d", rd.Backoff.MaxAttempts)
	}
	if _, ok := rd.Dialer.(*transport.TCPDialer); !ok {
		t.Errorf("inner dialer = %T", rd.Dialer)
	}
}

func TestBuildDialer(t *testing.T) {
	tests := []struct {
		name    string
		mut     func(*config.Config)
		wantSSH bool
		retry   bool
	}{
		{"tcp with retries", func(c *config.Config) {}, false, true},
		{"tcp no retries", func(c *config.Config) { c.DialRetries = 0 }, false, false},
		{"ssh tunnel", func(c *config.Config) { c.TunnelSpec = "me@bastion" }, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			cfg.Join = true
			cfg.Host = "chat.example"
			tt.mut(cfg)
			if err := cfg.ResolveSpecs(); err != nil {
				t.Fatal(err)
			}

			d := buildDialer(cfg, util.NewLogger(0))
			if rd, ok := d.(*transport.RetryDialer); ok {
				if !tt.retry {
					t.Error("unexpected RetryDialer")
				}
				d = rd.Dialer
			} else if tt.retry {
				t.Errorf("dialer = %T, want *RetryDialer", d)
			}
			_, isSSH := d.(*transport.SSHDialer)
			if isSSH != tt.wantSSH {
				t.Errorf("dialer = %T, wantSSH %v", d, tt.wantSSH)
			}
		})
	}
}
