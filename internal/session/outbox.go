package session

import (
	"io"
	"net"
	"sync"
	"time"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/util"
)

// Stream is the transport under a session.  *net.TCPConn, SSH
// forwarded channels and the WebSocket adapter all satisfy it.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// outbox serialises every line written to one stream.  Send only
// enqueues; a single writer goroutine drains the queue so a stalled
// peer costs its own queue and nobody else's time.  outbox implements
// registry.Conn.
type outbox struct {
	id           string
	stream       Stream
	writeTimeout time.Duration
	logger       *util.Logger
	metrics      *metrics.Collector

	mu     sync.Mutex
	closed bool
	queue  chan string
	done   chan struct{}
}

func newOutbox(id string, stream Stream, size int, writeTimeout time.Duration,
	logger *util.Logger, m *metrics.Collector) *outbox {
	o := &outbox{
		id:           id,
		stream:       stream,
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      m,
		queue:        make(chan string, size),
		done:         make(chan struct{}),
	}
	go o.run()
	return o
}

// ID returns the connection identity.
func (o *outbox) ID() string { return o.id }

// Send queues line for delivery.  It never blocks: a closed outbox
// returns ErrConnClosed and a full queue returns ErrSlowConsumer.
func (o *outbox) Send(line string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ncerr.ErrConnClosed
	}
	select {
	case o.queue <- line:
		return nil
	default:
		return ncerr.ErrSlowConsumer
	}
}

// close stops accepting lines.  Lines already queued are still written.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.queue)
	}
}

// flush waits up to timeout for the writer to drain the queue.
func (o *outbox) flush(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-o.done:
		return true
	case <-t.C:
		return false
	}
}

func (o *outbox) run() {
	defer close(o.done)

	failed := false
	for line := range o.queue {
		if failed {
			continue // drain so flush returns once the queue is closed
		}
		if o.writeTimeout > 0 {
			o.stream.SetWriteDeadline(time.Now().Add(o.writeTimeout)) //nolint:errcheck
		}
		n, err := io.WriteString(o.stream, line+"\n")
		o.metrics.BytesSent(int64(n))
		if err != nil {
			failed = true
			if !util.IsClosedErr(err) {
				o.logger.Warn("write failed, dropping connection: %v", err)
				o.metrics.RecordError("write: " + err.Error())
			}
			// Closing the stream ends the read loop, which runs the
			// normal close cleanup.
			o.stream.Close()
		}
	}
}
