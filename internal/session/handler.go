package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/registry"
	"relaychat/util"
)

// Options tunes per-connection limits.  Zero values pick the defaults
// noted on each field.
type Options struct {
	IdleTimeout   time.Duration // 0 disables the read deadline
	WriteTimeout  time.Duration // default 10s
	QueueSize     int           // outbound lines buffered per peer, default 256
	MaxLineLength int           // default 4096 bytes
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxLineLength <= 0 {
		o.MaxLineLength = 4096
	}
	return o
}

// Handler runs the chat protocol on accepted streams.  One Handler is
// shared by every listener of a server.
type Handler struct {
	Registry *registry.Registry
	Logger   *util.Logger
	Metrics  *metrics.Collector
	Options  Options

	// OnSession, when set, is called with each new session before the
	// greeting is sent.  Tests use it to observe state.
	OnSession func(*Session)
}

// NewHandler returns a Handler bound to reg.
func NewHandler(reg *registry.Registry, logger *util.Logger, m *metrics.Collector, opts Options) *Handler {
	return &Handler{
		Registry: reg,
		Logger:   logger,
		Metrics:  m,
		Options:  opts.withDefaults(),
	}
}

// MaxLineLength is the longest inbound line a session accepts.
func (h *Handler) MaxLineLength() int {
	return h.Options.withDefaults().MaxLineLength
}

// Serve runs one session on stream until the peer disconnects, sends
// /quit, or ctx is cancelled.  It always closes stream.  The returned
// error is non-nil only for transport failures, which are already
// logged; a clean disconnect returns nil.
func (h *Handler) Serve(ctx context.Context, stream Stream) error {
	opts := h.Options.withDefaults()

	id := uuid.NewString()
	logger := h.Logger.With("conn", id[:8]).With("remote", stream.RemoteAddr())
	logger.Verbose("connection opened")

	h.Metrics.ConnectionOpened()
	defer h.Metrics.ConnectionClosed()

	out := newOutbox(id, stream, opts.QueueSize, opts.WriteTimeout, logger, h.Metrics)
	sess := newSession(out, h.Registry, logger, h.Metrics)
	if h.OnSession != nil {
		h.OnSession(sess)
	}

	// Cancellation closes the stream, which unblocks the pending Read.
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	sess.reply(WelcomeLine)
	err := h.readLoop(sess, stream, NewFramer(opts.MaxLineLength), opts.IdleTimeout)

	sess.terminate()
	out.close()
	if !out.flush(opts.WriteTimeout) {
		logger.Verbose("outbound queue not drained before close")
	}
	stream.Close()
	<-out.done

	logger.Verbose("connection closed")
	return err
}

func (h *Handler) readLoop(sess *Session, stream Stream, framer *Framer, idle time.Duration) error {
	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	buf := *bufp

	for {
		if idle > 0 {
			stream.SetReadDeadline(time.Now().Add(idle)) //nolint:errcheck
		}
		n, err := stream.Read(buf)
		if n > 0 {
			h.Metrics.BytesReceived(int64(n))
			lines, ferr := framer.Feed(buf[:n])
			for _, line := range lines {
				if sess.handleLine(line) {
					return nil
				}
			}
			if ferr != nil {
				sess.logger.Warn("closing connection: %v", ferr)
				h.Metrics.RecordError(ferr.Error())
				return ferr
			}
		}
		if err != nil {
			switch {
			case util.IsClosedErr(err):
				return nil
			case errors.Is(err, ncerr.ErrLineTooLong):
				sess.logger.Warn("closing connection: %v", err)
				h.Metrics.RecordError(err.Error())
				return err
			case util.IsTimeout(err):
				sess.logger.Info("idle for %v, disconnecting", idle)
				return nil
			default:
				sess.logger.Warn("Socket error: %v", err)
				h.Metrics.RecordError("read: " + err.Error())
				return ncerr.Wrap("read", stream.RemoteAddr().String(), err)
			}
		}
	}
}
