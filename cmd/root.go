// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"relaychat/config"
	"relaychat/internal/core"
	"relaychat/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X relaychat/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// usageOut receives help and version text.  Tests redirect it.
var usageOut io.Writer = os.Stderr //nolint:gochecknoglobals

// options are the flags that steer the CLI rather than the Config.
type options struct {
	configPath  string
	showVersion bool
	showHelp    bool
	dryRun      bool
}

// newFlagSet binds every flag to cfg.  Defaults shown in --help are
// whatever cfg holds when the set is built, so building it after the
// config file and environment are applied gives flags the last word.
func newFlagSet(cfg *config.Config, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("relaychat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// ── server ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.BindAddress, "bind", "b", cfg.BindAddress, "Address to bind (serve)")
	fs.IntVarP(&cfg.ChatPort, "port", "p", cfg.ChatPort, "Chat port")
	fs.IntVar(&cfg.StatusPort, "status-port", cfg.StatusPort, "Status HTTP port (0 disables)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Disconnect silent clients after this long (0 = never)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Per-line write deadline")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Outbound lines buffered per client")
	fs.IntVar(&cfg.MaxLineLength, "max-line", cfg.MaxLineLength, "Longest accepted line in bytes")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "WebSocket origins allowed on /ws (* for any)")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "Shutdown wait for open sessions")

	// ── join ─────────────────────────────────────────────────────
	fs.StringVarP(&cfg.Username, "name", "n", cfg.Username, "Username to log in with (join)")
	fs.IntVar(&cfg.DialRetries, "retries", cfg.DialRetries, "Connection retries (join)")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Connect timeout")

	// ── SSH ──────────────────────────────────────────────────────
	fs.StringVarP(&cfg.PublishSpec, "publish", "P", cfg.PublishSpec, "Publish the chat port on an SSH gateway [user@]host[:port] (serve)")
	fs.StringVar(&cfg.RemoteBindAddress, "remote-bind", cfg.RemoteBindAddress, "Bind address requested on the gateway")
	fs.IntVarP(&cfg.RemotePort, "remote-port", "R", cfg.RemotePort, "Port requested on the gateway (0 = gateway picks)")
	fs.IntVar(&cfg.KeepAliveInterval, "keep-alive", cfg.KeepAliveInterval, "Gateway keepalive interval in seconds (0 disables)")
	fs.BoolVar(&cfg.AutoReconnect, "auto-reconnect", cfg.AutoReconnect, "Re-publish after losing the gateway")
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the room through an SSH gateway [user@]host[:port] (join)")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output & meta ────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVarP(&opts.configPath, "config", "c", opts.configPath, "TOML config file")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "Show this help")

	return fs
}

// Execute parses args and runs serve or join.
func Execute(ctx context.Context, args []string) error {
	cfg, opts, err := loadConfig(args)
	if err != nil {
		return err
	}
	if opts.showHelp {
		printUsage(newFlagSet(config.New(), &options{}))
		return nil
	}
	if opts.showVersion {
		fmt.Fprintf(usageOut, "relaychat %s\n", version)
		return nil
	}

	if err := cfg.ResolveSpecs(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	if opts.dryRun {
		logger.Info("configuration OK (%s)", describe(cfg))
		return nil
	}

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// loadConfig layers defaults, the --config file, RELAYCHAT_* variables
// and flags, in rising precedence.
func loadConfig(args []string) (*config.Config, *options, error) {
	// First pass only locates --config; its errors resurface below.
	probe := &options{}
	pre := newFlagSet(config.New(), probe)
	pre.Parse(args) //nolint:errcheck

	cfg := config.New()
	if probe.configPath != "" {
		if err := config.LoadFromFile(cfg, probe.configPath); err != nil {
			return nil, nil, err
		}
	}
	config.LoadFromEnv(cfg)

	opts := &options{configPath: probe.configPath}
	fs := newFlagSet(cfg, opts)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.showHelp || opts.showVersion {
		return cfg, opts, nil
	}

	if err := parsePositional(cfg, fs, fs.Args()); err != nil {
		return nil, nil, err
	}
	return cfg, opts, nil
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional handles the command word: "serve" (the default) or
// "join <host>[:port]" or "join <host> [port]".
func parsePositional(cfg *config.Config, fs *flag.FlagSet, remaining []string) error {
	if len(remaining) == 0 {
		return nil
	}

	switch remaining[0] {
	case "serve":
		if len(remaining) > 1 {
			return fmt.Errorf("serve takes no arguments, got %q", remaining[1:])
		}
		return nil

	case "join":
		cfg.Join = true
		if fs.Changed("port") {
			cfg.Port = cfg.ChatPort
		}
		rest := remaining[1:]
		switch len(rest) {
		case 0: // host from config file or RELAYCHAT_HOST
		case 1:
			host, port, err := util.SplitHostPort(rest[0], cfg.Port)
			if err != nil {
				return err
			}
			cfg.Host, cfg.Port = host, port
		case 2:
			cfg.Host = rest[0]
			port, err := strconv.Atoi(rest[1])
			if err != nil {
				return fmt.Errorf("port %q: not a number", rest[1])
			}
			cfg.Port = port
		default:
			return fmt.Errorf("too many arguments for join")
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q (use --help for usage)", remaining[0])
	}
}

func describe(cfg *config.Config) string {
	if cfg.Join {
		s := "join " + util.FormatAddr(cfg.Host, cfg.Port)
		if cfg.TunnelEnabled {
			s += " via " + util.FormatAddr(cfg.TunnelHost, cfg.TunnelPort)
		}
		return s
	}
	s := "serve chat on " + cfg.ChatAddr()
	if cfg.StatusPort > 0 {
		s += ", status on " + cfg.StatusAddr()
	}
	if cfg.PublishEnabled {
		s += ", published via " + util.FormatAddr(cfg.PublishHost, cfg.PublishPort)
	}
	return s
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(usageOut, `relaychat – line-based chat relay v%s

Usage:
  relaychat [serve] [options]                 Run a chat room
  relaychat join <host> [port] [options]      Join a room from the terminal

Options:
`, version)
	fs.SetOutput(usageOut)
	fs.PrintDefaults()
	fmt.Fprintf(usageOut, `
Examples:
  relaychat                                   Serve on :4000, status on :3000
  relaychat -p 5000 --status-port 0           Chat on 5000, no status server
  relaychat -P serveo.net -R 4000             Publish the room on an SSH gateway
  relaychat join chat.example.com -n alice    Join as alice
  relaychat join chat.example.com:4100        Join a room on another port
  relaychat join -T me@bastion db-host 4000   Join through an SSH gateway

Environment:
  RELAYCHAT_PORT, RELAYCHAT_STATUS_PORT, RELAYCHAT_NAME, RELAYCHAT_PUBLISH,
  RELAYCHAT_TUNNEL, RELAYCHAT_VERBOSE and friends override the config file.
`)
}
