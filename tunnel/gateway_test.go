package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// assignedPort is what the fake gateway reports when asked for port 0.
const assignedPort = 4242

// fakeGateway is a minimal in-process SSH server.  It grants every
// tcpip-forward request, echoes direct-tcpip channels, answers
// keepalives and refuses sessions.
type fakeGateway struct {
	t      *testing.T
	ln     net.Listener
	config *ssh.ServerConfig

	mu    sync.Mutex
	conns []*ssh.ServerConn

	forwards   chan forwardReq
	keepalives atomic.Int32
}

type forwardReq struct {
	conn *ssh.ServerConn
	addr string
	port uint32
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	g := &fakeGateway{t: t, ln: ln, config: cfg, forwards: make(chan forwardReq, 8)}
	go g.serve()
	t.Cleanup(func() {
		ln.Close()
		g.dropConns()
	})
	return g
}

func (g *fakeGateway) sshConfig() *SSHConfig {
	addr := g.ln.Addr().(*net.TCPAddr)
	return &SSHConfig{
		User:        "relay",
		Host:        "127.0.0.1",
		Port:        addr.Port,
		ConnTimeout: 2 * time.Second,
		// "none" succeeds first against NoClientAuth; this is never tried.
		Auth: []ssh.AuthMethod{ssh.Password("unused")},
	}
}

func (g *fakeGateway) serve() {
	for {
		c, err := g.ln.Accept()
		if err != nil {
			return
		}
		go g.handle(c)
	}
}

func (g *fakeGateway) handle(c net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(c, g.config)
	if err != nil {
		c.Close()
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, sconn)
	g.mu.Unlock()

	go g.handleChannels(chans)

	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			var m channelForwardMsg
			if err := ssh.Unmarshal(req.Payload, &m); err != nil {
				req.Reply(false, nil) //nolint:errcheck
				continue
			}
			port := m.Port
			if port == 0 {
				port = assignedPort
			}
			req.Reply(true, ssh.Marshal(&channelForwardReply{Port: port})) //nolint:errcheck
			g.forwards <- forwardReq{conn: sconn, addr: m.Addr, port: port}
		case "cancel-tcpip-forward":
			req.Reply(true, nil) //nolint:errcheck
		case "keepalive@openssh.com":
			g.keepalives.Add(1)
			req.Reply(true, nil) //nolint:errcheck
		default:
			req.Reply(false, nil) //nolint:errcheck
		}
	}
}

func (g *fakeGateway) handleChannels(chans <-chan ssh.NewChannel) {
	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			nc.Reject(ssh.Prohibited, "no sessions here") //nolint:errcheck
			continue
		}
		ch, reqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go ssh.DiscardRequests(reqs)
		go func() {
			defer ch.Close()
			io.Copy(ch, ch) //nolint:errcheck
		}()
	}
}

// nextForward waits for the next granted tcpip-forward request.
func (g *fakeGateway) nextForward() forwardReq {
	g.t.Helper()
	select {
	case f := <-g.forwards:
		return f
	case <-time.After(3 * time.Second):
		g.t.Fatal("no tcpip-forward request")
		return forwardReq{}
	}
}

// dropConns kills every SSH connection, as a gateway restart would.
func (g *fakeGateway) dropConns() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// open starts a forwarded connection as if a client reached the
// published port from origin.  It blocks until the channel is accepted.
func (f forwardReq) open(origin string, originPort uint32) (ssh.Channel, error) {
	payload := forwardedTCPPayload{
		Addr:       f.addr,
		Port:       f.port,
		OriginAddr: origin,
		OriginPort: originPort,
	}
	ch, reqs, err := f.conn.OpenChannel("forwarded-tcpip", ssh.Marshal(&payload))
	if err != nil {
		return nil, err
	}
	go ssh.DiscardRequests(reqs)
	return ch, nil
}
