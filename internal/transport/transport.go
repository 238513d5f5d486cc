// Package transport decides how `relaychat join` reaches a room: plain
// TCP, or TCP carried through an SSH gateway.  What travels over the
// connection is the client's business.
package transport

import (
	"context"
	"net"
	"time"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/retry"
	"relaychat/util"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// RetryDialer retries failed dials of the wrapped Dialer with
// exponential backoff while the room is plausibly still coming up:
// only errors [ncerr.IsRetryable] reports as transient are retried.
// Anything else (rejected SSH credentials, unknown host, cancellation,
// protocol failures) ends the loop at once.
type RetryDialer struct {
	Dialer
	Backoff *retry.Backoff
	Logger  *util.Logger
}

// Dial connects to address, retrying per d.Backoff.
func (d *RetryDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	b := retry.DefaultBackoff()
	if d.Backoff != nil {
		b = d.Backoff
	}
	bo := *b
	bo.OnRetry = func(attempt int, err error, wait time.Duration) {
		d.Logger.Warn("connect to %s failed (attempt %d): %v; retrying in %v",
			address, attempt, err, wait.Truncate(time.Millisecond))
	}

	var conn net.Conn
	err := bo.Do(ctx, func(_ int) error {
		c, err := d.Dialer.Dial(ctx, network, address)
		if err != nil {
			if !ncerr.IsRetryable(err) || ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}
