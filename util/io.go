package util

import (
	"context"
	"errors"
	"io"
	"net"
)

// DefaultBufSize is the read chunk size for session and relay I/O (4 KiB).
const DefaultBufSize = 4 * 1024

// BidirectionalCopy shuffles data between a network connection and an
// arbitrary reader/writer pair (typically stdin/stdout) until the
// remote side closes or the context is cancelled.
//
// A read from r that is still blocked when the connection ends is not
// waited for: a terminal read may never return.  Its goroutine exits on
// the next read, when the write to the closed connection fails.
func BidirectionalCopy(ctx context.Context, conn net.Conn, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvDone := make(chan error, 1)
	sendDone := make(chan error, 1)

	// network → writer
	go func() {
		_, err := io.Copy(w, conn)
		recvDone <- err
		cancel()
	}()

	// reader → network
	go func() {
		_, err := io.Copy(conn, r)
		// Half-close so the server sees EOF and tears the session down,
		// while the receive side drains the farewell lines.
		if tc, ok := conn.(interface{ CloseWrite() error }); ok {
			tc.CloseWrite() //nolint:errcheck
		}
		sendDone <- err
		if err != nil {
			cancel()
		}
	}()

	<-ctx.Done()
	conn.Close() // unblock any pending reads/writes
	recvErr := <-recvDone

	var sendErr error
	select {
	case sendErr = <-sendDone:
	default:
	}

	for _, err := range []error{sendErr, recvErr} {
		if err != nil && !IsClosedErr(err) {
			return err
		}
	}
	return nil
}

// IsClosedErr reports whether err is an expected end-of-stream or
// use-of-closed-connection error.
func IsClosedErr(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
