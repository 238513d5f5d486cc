package client

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

type peerReader struct {
	conn net.Conn
	r    *bufio.Reader
}

func newPeerReader(conn net.Conn) *peerReader {
	return &peerReader{conn: conn, r: bufio.NewReader(conn)}
}

func (p *peerReader) expect(t *testing.T, want string) {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	got, err := p.r.ReadString('\n')
	if err != nil {
		t.Fatalf("waiting for %q: %v", want, err)
	}
	if got = strings.TrimRight(got, "\n"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
