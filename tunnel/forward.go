package tunnel

// forward.go - remote port forwarding over a raw SSH client.
//
// ssh.Client.Listen registers forwarded-tcpip channels keyed by the
// exact bind address string it sent.  Public gateways (serveo.net,
// localhost.run) echo back a different address, e.g. "0.0.0.0" when we
// sent "", and the library then rejects every channel with "no forward
// for address".  We register our own forwarded-tcpip handler, send the
// tcpip-forward request ourselves, and accept every channel.

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
)

// ── Wire format structs (RFC 4254) ──────────────────────────────────

// channelForwardMsg is the payload of "tcpip-forward" and
// "cancel-tcpip-forward" global requests (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// channelForwardReply carries the allocated port when port 0 was asked.
type channelForwardReply struct {
	Port uint32
}

// forwardedTCPPayload is the channel-open payload for
// "forwarded-tcpip" (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// ── forwardListener ─────────────────────────────────────────────────

// forwardListener implements [net.Listener] over forwarded-tcpip
// channels of one SSH client.
type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// listenRemoteForward asks the gateway to listen on bindAddr:bindPort
// and returns a listener for the connections it forwards back.  Port 0
// lets the gateway choose; the chosen port is reported by Addr.
func listenRemoteForward(client *ssh.Client, bindAddr string, bindPort int) (*forwardListener, error) {
	// Must be registered before the request so no channel is missed.
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward %s denied by gateway",
			net.JoinHostPort(bindAddr, strconv.Itoa(bindPort)))
	}

	port := uint32(bindPort)
	if port == 0 {
		var r channelForwardReply
		if err := ssh.Unmarshal(reply, &r); err == nil {
			port = r.Port
		}
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// Accept waits for the next forwarded connection.  It returns io.EOF
// once the listener is closed or the SSH connection is gone.
func (l *forwardListener) Accept() (net.Conn, error) {
	for {
		select {
		case <-l.done:
			return nil, io.EOF
		case newCh, ok := <-l.incoming:
			if !ok {
				return nil, io.EOF
			}
			ch, reqs, err := newCh.Accept()
			if err != nil {
				// One bad channel does not end the listener.
				continue
			}
			go ssh.DiscardRequests(reqs)

			var raddr net.Addr = &net.TCPAddr{}
			var payload forwardedTCPPayload
			if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err == nil {
				raddr = &net.TCPAddr{
					IP:   net.ParseIP(payload.OriginAddr),
					Port: int(payload.OriginPort),
				}
			}
			return newChanConn(ch, raddr), nil
		}
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		// Best-effort; the connection may already be gone.
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		go l.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

// Addr returns the address the gateway listens on.
func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.bindPort)}
}

// ── chanConn ─────────────────────────────────────────────────────────

// chanConn wraps an [ssh.Channel] to satisfy [net.Conn].
//
// SSH channels have no native deadlines.  Here a deadline that passes
// closes the channel, and the pending Read or Write then reports
// os.ErrDeadlineExceeded.  Every caller in this module treats an
// expired deadline as the end of the connection, so that is enough.
type chanConn struct {
	ssh.Channel
	raddr net.Addr

	expired atomic.Bool
	mu      sync.Mutex
	timers  [2]*time.Timer // read, write
}

func newChanConn(ch ssh.Channel, raddr net.Addr) *chanConn {
	return &chanConn{Channel: ch, raddr: raddr}
}

func (c *chanConn) Read(p []byte) (int, error) {
	n, err := c.Channel.Read(p)
	if err != nil && c.expired.Load() {
		err = os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *chanConn) Write(p []byte) (int, error) {
	n, err := c.Channel.Write(p)
	if err != nil && c.expired.Load() {
		err = os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *chanConn) LocalAddr() net.Addr  { return &net.TCPAddr{} }
func (c *chanConn) RemoteAddr() net.Addr { return c.raddr }

func (c *chanConn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t) //nolint:errcheck
	return c.SetWriteDeadline(t)
}

func (c *chanConn) SetReadDeadline(t time.Time) error  { c.arm(0, t); return nil }
func (c *chanConn) SetWriteDeadline(t time.Time) error { c.arm(1, t); return nil }

func (c *chanConn) arm(slot int, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timers[slot] != nil {
		c.timers[slot].Stop()
		c.timers[slot] = nil
	}
	if t.IsZero() {
		return
	}
	c.timers[slot] = time.AfterFunc(time.Until(t), func() {
		c.expired.Store(true)
		c.Channel.Close()
	})
}

func (c *chanConn) Close() error {
	c.mu.Lock()
	for i, tm := range c.timers {
		if tm != nil {
			tm.Stop()
			c.timers[i] = nil
		}
	}
	c.mu.Unlock()
	return c.Channel.Close()
}
