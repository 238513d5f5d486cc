package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/retry"
	"relaychat/tunnel"
	"relaychat/util"
)

// ── TCPDialer ────────────────────────────────────────────────────────

// TestTCPDialer_Connect verifies that TCPDialer can reach a local
// TCP server and exchange data.
func TestTCPDialer_Connect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("WELCOME Please login with: LOGIN <username>\n")) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "WELCOME Please login with: LOGIN <username>\n" {
		t.Errorf("got %q", got)
	}
}

// TestTCPDialer_ContextCancel verifies that a cancelled context stops the dial.
func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	var ne *ncerr.NetworkError
	if !errors.As(err, &ne) || ne.Op != "dial" {
		t.Errorf("err = %v, want dial NetworkError", err)
	}
}

func TestTCPDialer_Close(t *testing.T) {
	d := &TCPDialer{}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ── RetryDialer ──────────────────────────────────────────────────────

type flakyDialer struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyDialer) Dial(_ context.Context, _, _ string) (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	c, _ := net.Pipe()
	return c, nil
}

func (f *flakyDialer) Close() error { return nil }

func fastBackoff(attempts int) *retry.Backoff {
	return &retry.Backoff{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: attempts}
}

func TestRetryDialer(t *testing.T) {
	refused := ncerr.Wrap("dial", "chat:4000", syscall.ECONNREFUSED)
	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, refused, 3, false, 1},
		{"recovers", 2, refused, 3, false, 3},
		{"exhausted", 5, refused, 3, true, 3},
		{"auth is permanent", 5, ncerr.WrapSSH("auth", "gw", 22, fmt.Errorf("denied")), 3, true, 1},
		{"unknown host is permanent", 5, ncerr.Wrap("dial", "nope.invalid:4000",
			&net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}), 3, true, 1},
		{"unclassified is not retried", 5, fmt.Errorf("unexpected greeting"), 3, true, 1},
		{"unreachable through tunnel", 2, fmt.Errorf("tunnel dial chat:4000: %w",
			&ssh.OpenChannelError{Reason: ssh.ConnectionFailed, Message: "connect failed"}), 3, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakyDialer{failures: tt.failures, err: tt.err}
			d := &RetryDialer{Dialer: inner, Backoff: fastBackoff(tt.attempts), Logger: util.NewLogger(0)}

			conn, err := d.Dial(context.Background(), "tcp", "chat:4000")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if conn != nil {
				conn.Close()
			}
			if inner.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", inner.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryDialer_DoesNotMutateBackoff(t *testing.T) {
	b := fastBackoff(2)
	d := &RetryDialer{Dialer: &flakyDialer{failures: 1, err: syscall.ECONNRESET}, Backoff: b, Logger: util.NewLogger(0)}
	if conn, err := d.Dial(context.Background(), "tcp", "chat:4000"); err == nil {
		conn.Close()
	}
	if b.OnRetry != nil {
		t.Error("shared Backoff was modified")
	}
}

// ── SSHDialer ────────────────────────────────────────────────────────

type fakeTunnel struct {
	alive    bool
	connects int
	closes   int
	fail     error
}

var _ tunnel.Tunnel = (*fakeTunnel)(nil)

func (f *fakeTunnel) Connect(context.Context) error {
	f.connects++
	if f.fail != nil {
		return f.fail
	}
	f.alive = true
	return nil
}

func (f *fakeTunnel) Dial(_ context.Context, _, _ string) (net.Conn, error) {
	if !f.alive {
		return nil, ncerr.ErrNotConnected
	}
	c, _ := net.Pipe()
	return c, nil
}

func (f *fakeTunnel) Close() error { f.closes++; f.alive = false; return nil }
func (f *fakeTunnel) IsAlive() bool { return f.alive }

func newTestSSHDialer(ft *fakeTunnel) *SSHDialer {
	return &SSHDialer{tunnel: ft, config: &tunnel.SSHConfig{User: "u", Host: "gw", Port: 22}, logger: util.NewLogger(0)}
}

func TestSSHDialer_LazyConnect(t *testing.T) {
	ft := &fakeTunnel{}
	d := newTestSSHDialer(ft)

	for i := 0; i < 2; i++ {
		conn, err := d.Dial(context.Background(), "tcp", "chat:4000")
		if err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
		conn.Close()
	}
	if ft.connects != 1 {
		t.Errorf("connects = %d, want 1", ft.connects)
	}
}

func TestSSHDialer_ReconnectsDroppedTunnel(t *testing.T) {
	ft := &fakeTunnel{}
	d := newTestSSHDialer(ft)

	conn, err := d.Dial(context.Background(), "tcp", "chat:4000")
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	ft.alive = false // gateway went away
	conn, err = d.Dial(context.Background(), "tcp", "chat:4000")
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	if ft.connects != 2 || ft.closes != 1 {
		t.Errorf("connects=%d closes=%d, want 2/1", ft.connects, ft.closes)
	}
}

func TestSSHDialer_ConnectError(t *testing.T) {
	ft := &fakeTunnel{fail: ncerr.WrapSSH("auth", "gw", 22, fmt.Errorf("denied"))}
	d := newTestSSHDialer(ft)

	_, err := d.Dial(context.Background(), "tcp", "chat:4000")
	if !errors.Is(err, ncerr.ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
	if err := d.Close(); err != nil || ft.closes != 0 {
		t.Errorf("Close on never-connected dialer: err=%v closes=%d", err, ft.closes)
	}
}

func BenchmarkRetryDialer_Recover(b *testing.B) {
	refused := ncerr.Wrap("dial", "chat:4000", syscall.ECONNREFUSED)
	bo := &retry.Backoff{InitialDelay: time.Nanosecond, MaxDelay: time.Nanosecond, MaxAttempts: 5}
	logger := util.NewLogger(0)
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		d := &RetryDialer{Dialer: &flakyDialer{failures: 2, err: refused}, Backoff: bo, Logger: logger}
		conn, err := d.Dial(ctx, "tcp", "chat:4000")
		if err != nil {
			b.Fatal(err)
		}
		conn.Close()
	}
}
