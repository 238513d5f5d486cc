package tunnel

// publisher.go - exposes the chat listener on an SSH gateway.
//
// The Publisher is a net.Listener: the server's accept loop reads
// forwarded connections from it exactly as it does from the local TCP
// listener.  Keepalive failures and dropped SSH connections surface as
// Accept errors, which the Publisher answers by reconnecting with
// exponential backoff when AutoReconnect is set.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/retry"
	"relaychat/util"
)

// PublishConfig describes where and how to publish the chat port.
type PublishConfig struct {
	SSH *SSHConfig

	RemoteBindAddress string // "" lets the gateway decide
	RemotePort        int    // 0 lets the gateway pick a port

	KeepAliveInterval time.Duration // 0 disables keepalive
	AutoReconnect     bool

	// Backoff paces reconnection attempts.  nil uses retry.DefaultBackoff.
	Backoff *retry.Backoff
}

// Publisher forwards connections arriving on a remote SSH gateway to
// the caller through Accept.
type Publisher struct {
	config  *PublishConfig
	logger  *util.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	client   *ssh.Client
	listener *forwardListener
	addr     net.Addr
	closed   bool
}

// NewPublisher returns a Publisher ready to [Publisher.Start].  The
// metrics collector is optional (nil-safe).
func NewPublisher(cfg *PublishConfig, logger *util.Logger, m *metrics.Collector) *Publisher {
	cfg.SSH.withDefaults()
	if cfg.Backoff == nil {
		cfg.Backoff = retry.DefaultBackoff()
	}
	return &Publisher{config: cfg, logger: logger, metrics: m}
}

// Start connects to the gateway and requests the remote listener.
// The Publisher stays up until ctx is cancelled or Close is called.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if err := p.connect(); err != nil {
		p.cancel()
		return err
	}

	// Unblock Accept on cancellation.
	context.AfterFunc(p.ctx, p.dropClient)

	if p.config.KeepAliveInterval > 0 {
		p.wg.Add(1)
		go p.keepaliveLoop()
	}
	return nil
}

// connect dials the gateway and installs a fresh forward.
func (p *Publisher) connect() error {
	cfg := p.config.SSH
	client, err := dialClient(p.ctx, cfg, p.logger)
	if err != nil {
		return err
	}

	ln, err := listenRemoteForward(client, p.config.RemoteBindAddress, p.config.RemotePort)
	if err != nil {
		client.Close()
		return ncerr.WrapSSH("forward", cfg.Host, cfg.Port, err)
	}

	p.mu.Lock()
	p.client = client
	p.listener = ln
	p.addr = ln.Addr()
	p.mu.Unlock()

	if err := p.ctx.Err(); err != nil {
		// Lost the race with Close.
		p.dropClient()
		return err
	}

	p.logger.Info("chat published on %s via SSH gateway %s", p.PublicAddr(), cfg.addr())

	go p.drainServerMessages(client)
	return nil
}

// Accept returns the next forwarded connection.  After Close, or once
// reconnection gives up, it returns an error wrapping net.ErrClosed or
// ErrTunnelClosed respectively.
func (p *Publisher) Accept() (net.Conn, error) {
	for {
		p.mu.Lock()
		ln := p.listener
		p.mu.Unlock()

		var err error = ncerr.ErrTunnelClosed
		if ln != nil {
			var conn net.Conn
			conn, err = ln.Accept()
			if err == nil {
				p.logger.Verbose("forwarded connection from %s", conn.RemoteAddr())
				return conn, nil
			}
		}

		if p.ctx.Err() != nil {
			return nil, net.ErrClosed
		}
		err = forwardLost(err)
		p.logger.Warn("SSH forward lost: %v", err)
		p.metrics.RecordError("forward: " + err.Error())

		if !p.config.AutoReconnect {
			return nil, ncerr.WrapSSH("forward", p.config.SSH.Host, p.config.SSH.Port, ncerr.ErrTunnelClosed)
		}
		if rerr := p.reconnect(); rerr != nil {
			return nil, rerr
		}
	}
}

// forwardLost names the end of a forward.  The listener reports a gone
// SSH connection as (possibly wrapped) io.EOF.
func forwardLost(err error) error {
	if errors.Is(err, io.EOF) {
		return ncerr.ErrTunnelClosed
	}
	return err
}

// reconnect tears down the current forward and re-establishes it with
// exponential backoff.  Only called from Accept.
func (p *Publisher) reconnect() error {
	p.logger.Info("SSH gateway: reconnecting...")
	p.metrics.TunnelReconnect()
	p.dropClient()

	b := *p.config.Backoff
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		p.logger.Warn("reconnect attempt %d failed: %v (next in %v)", attempt, err, wait.Truncate(time.Millisecond))
		p.metrics.RecordError(fmt.Sprintf("reconnect attempt %d: %v", attempt, err))
	}
	err := b.Do(p.ctx, func(_ int) error {
		err := p.connect()
		if ncerr.IsPermanent(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if p.ctx.Err() != nil {
			return net.ErrClosed
		}
		p.logger.Error("giving up on SSH gateway: %v", err)
		return fmt.Errorf("%w: %w", ncerr.ErrTunnelClosed, err)
	}
	p.logger.Info("SSH gateway: reconnected")
	return nil
}

// dropClient closes the current listener and SSH client, if any.
func (p *Publisher) dropClient() {
	p.mu.Lock()
	ln, client := p.listener, p.client
	p.listener, p.client = nil, nil
	p.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if client != nil {
		client.Close()
	}
}

// keepaliveLoop pings the gateway and, when a ping fails, closes the
// client so a blocked Accept returns and can reconnect.
func (p *Publisher) keepaliveLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		client := p.client
		p.mu.Unlock()
		if client == nil {
			continue // reconnect in progress
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			p.logger.Warn("SSH keepalive failed: %v", err)
			p.metrics.RecordError("keepalive: " + err.Error())
			p.dropClient()
			continue
		}
		p.logger.Debug("SSH keepalive OK")
	}
}

// drainServerMessages opens a session and logs whatever the gateway
// prints on it.  Public tunnel services report the public URL this way.
// Gateways that refuse sessions are fine.
func (p *Publisher) drainServerMessages(client *ssh.Client) {
	sess, err := client.NewSession()
	if err != nil {
		p.logger.Debug("SSH gateway: no message session: %v", err)
		return
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return
	}
	// Some services need a shell request, others accept a bare session.
	_ = sess.Shell()

	var wg sync.WaitGroup
	printStream := func(r io.Reader) {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, readErr := r.Read(buf)
			if n > 0 {
				p.logger.Info("gateway: %s", strings.TrimRight(string(buf[:n]), "\r\n"))
			}
			if readErr != nil {
				return
			}
		}
	}
	wg.Add(2)
	go printStream(stdout)
	go printStream(stderr)
	wg.Wait()
}

// Addr returns the address the gateway listens on for us.
func (p *Publisher) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addr == nil {
		return &net.TCPAddr{}
	}
	return p.addr
}

// PublicAddr formats the gateway host with the published port.
func (p *Publisher) PublicAddr() string {
	port := 0
	if ta, ok := p.Addr().(*net.TCPAddr); ok {
		port = ta.Port
	}
	return net.JoinHostPort(p.config.SSH.Host, strconv.Itoa(port))
}

// Close cancels the remote forward and closes the SSH connection.
// Idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.dropClient()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("publisher close: timeout waiting for background goroutines")
	}
}
