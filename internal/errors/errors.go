// Package errors holds relaychat's sentinel errors and the structured
// error types returned across package boundaries.
//
// Sessions only ever need the sentinels.  The structured types carry
// the context a user needs to fix a failed dial, SSH login or bad
// setting, and the classification helpers decide whether a join or a
// gateway reconnect should try again.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/crypto/ssh"
)

// ── Sentinels ────────────────────────────────────────────────────────

var (
	// Outbound queue of a single recipient.
	ErrSlowConsumer = errors.New("recipient queue full")
	ErrConnClosed   = errors.New("connection closed")

	// Registry misuse; the session state machine never triggers it.
	ErrAlreadyRegistered = errors.New("connection already registered")

	// Protocol violation: a partial line grew past the configured limit.
	ErrLineTooLong = errors.New("line exceeds maximum length")

	// SSH gateway.
	ErrTunnelClosed = errors.New("tunnel is closed")
	ErrNotConnected = errors.New("not connected")
	ErrAuthFailed   = errors.New("authentication failed")
)

// ── NetworkError ─────────────────────────────────────────────────────

// NetworkError is a failed socket operation against one address.
type NetworkError struct {
	Op        string // "dial", "listen", "read", "write"
	Addr      string
	Err       error
	Retryable bool
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Wrap returns a NetworkError for op on addr, classifying err.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err, Retryable: isTransient(err)}
}

// ── SSHError ─────────────────────────────────────────────────────────

// SSHError is a failure talking to an SSH gateway.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "forward"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// WrapSSH returns an SSHError.  With op "auth" the result also matches
// [ErrAuthFailed].
func WrapSSH(op, host string, port int, err error) *SSHError {
	if op == "auth" && !errors.Is(err, ErrAuthFailed) {
		err = fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── ConfigError ──────────────────────────────────────────────────────

// ConfigError names the setting that is wrong and how to fix it.
// Field uses the CLI flag spelling.
type ConfigError struct {
	Field   string
	Value   interface{} // nil when the setting is missing
	Message string
	Hint    string
}

func (e *ConfigError) Error() string {
	msg := "config: --" + e.Field
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Classification ───────────────────────────────────────────────────

// IsRetryable reports whether err is known to be transient: a refused
// or reset connection, an unreachable network, a timeout, or a gateway
// that could not reach the target yet.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return isTransient(err)
}

// IsPermanent reports whether repeating the operation cannot help:
// rejected credentials, an unknown host, invalid configuration or a
// cancelled context.  Callers that keep a long-lived link up, such as
// the gateway publisher, retry everything that is not permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var oce *ssh.OpenChannelError
	if errors.As(err, &oce) {
		return oce.Reason == ssh.ConnectionFailed
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ── Re-exports ───────────────────────────────────────────────────────
//
// Callers import this package under a different name and still reach
// the standard helpers through it.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }
