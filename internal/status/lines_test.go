package status

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

// lineReader drives a raw stream peer.
type lineReader struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newLineReader(t *testing.T, conn net.Conn) *lineReader {
	return &lineReader{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (l *lineReader) send(line string) {
	l.t.Helper()
	l.conn.SetWriteDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := l.conn.Write([]byte(line + "\n")); err != nil {
		l.t.Fatalf("send %q: %v", line, err)
	}
}

func (l *lineReader) expect(want string) {
	l.t.Helper()
	l.conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	got, err := l.r.ReadString('\n')
	if err != nil {
		l.t.Fatalf("waiting for %q: %v", want, err)
	}
	if got = strings.TrimRight(got, "\r\n"); got != want {
		l.t.Fatalf("got %q, want %q", got, want)
	}
}
