package core

import (
	"time"

	"relaychat/config"
	"relaychat/internal/metrics"
	"relaychat/internal/registry"
	"relaychat/internal/retry"
	"relaychat/internal/session"
	"relaychat/internal/status"
	"relaychat/internal/transport"
	"relaychat/tunnel"
	"relaychat/util"
)

// Build constructs the Mode selected by cfg.  cfg must already be
// validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if cfg.Join {
		return buildJoin(cfg, logger), nil
	}
	return buildServe(cfg, logger), nil
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) *ServeMode {
	m := metrics.New()
	reg := registry.New(logger, m)
	handler := session.NewHandler(reg, logger, m, session.Options{
		IdleTimeout:   cfg.IdleTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		QueueSize:     cfg.QueueSize,
		MaxLineLength: cfg.MaxLineLength,
	})

	mode := &ServeMode{
		ChatAddr:    cfg.ChatAddr(),
		Handler:     handler,
		GracePeriod: cfg.GracePeriod,
		Logger:      logger,
		Metrics:     m,
	}

	if cfg.StatusPort > 0 {
		mode.StatusAddr = cfg.StatusAddr()
		mode.Status = status.New(status.Options{
			ChatPort:        cfg.ChatPort,
			AllowedOrigins:  cfg.AllowedOrigins,
			ShutdownTimeout: cfg.GracePeriod,
		}, handler, logger)
	}

	if cfg.PublishEnabled {
		mode.Publish = &tunnel.PublishConfig{
			SSH:               sshConfig(cfg, cfg.PublishUser, cfg.PublishHost, cfg.PublishPort),
			RemoteBindAddress: cfg.RemoteBindAddress,
			RemotePort:        cfg.RemotePort,
			KeepAliveInterval: time.Duration(cfg.KeepAliveInterval) * time.Second,
			AutoReconnect:     cfg.AutoReconnect,
			Backoff: &retry.Backoff{
				InitialDelay: time.Second,
				MaxDelay:     config.DefaultMaxReconnectBackoff,
				Multiplier:   2,
				MaxAttempts:  config.DefaultMaxReconnectAttempts,
				Jitter:       true,
			},
		}
		// Public tunnel services answer an empty keyboard-interactive
		// challenge.
		mode.Publish.SSH.AllowKeyboardInteractive = true
	}

	return mode
}

func buildJoin(cfg *config.Config, logger *util.Logger) *JoinMode {
	return &JoinMode{
		Dialer:   buildDialer(cfg, logger),
		Address:  util.FormatAddr(cfg.Host, cfg.Port),
		Username: cfg.Username,
		Logger:   logger,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the transport for join: TCP, or through an SSH
// gateway with --tunnel, retried per --retries.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	var d transport.Dialer = &transport.TCPDialer{Timeout: cfg.DialTimeout}
	if cfg.TunnelEnabled {
		d = transport.NewSSHDialer(sshConfig(cfg, cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort), logger)
	}

	if cfg.DialRetries <= 0 {
		return d
	}
	return &transport.RetryDialer{
		Dialer: d,
		Backoff: &retry.Backoff{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			MaxAttempts:  cfg.DialRetries + 1,
		},
		Logger: logger,
	}
}

func sshConfig(cfg *config.Config, user, host string, port int) *tunnel.SSHConfig {
	return &tunnel.SSHConfig{
		User:          user,
		Host:          host,
		Port:          port,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   cfg.DialTimeout,
	}
}
