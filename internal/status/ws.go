package status

// ws.go - adapts a WebSocket connection to session.Stream.
//
// The chat protocol is line based.  Each inbound text frame carries one
// or more lines; a frame without a trailing newline is terminated for
// the framer.  Each outbound line becomes one text frame without its
// terminator.

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	ncerr "relaychat/internal/errors"
)

const closeGracePeriod = time.Second

type wsStream struct {
	conn *websocket.Conn

	pending []byte // unread part of the current inbound frame
	partial []byte // outbound bytes not yet ending in '\n'

	closeOnce sync.Once
	closeErr  error
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return 0, wsReadErr(err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}
		if data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		s.pending = data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// wsReadErr maps a peer close frame to io.EOF so the session treats it
// as an ordinary disconnect.  An oversized frame is a line-length
// violation; gorilla has already answered it with close code 1009.
func wsReadErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return io.EOF
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return ncerr.ErrLineTooLong
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return net.ErrClosed
	}
	return err
}

// Write sends every complete line in p as its own text frame.  Only the
// outbox writer goroutine calls Write, which satisfies gorilla's
// one-writer rule.
func (s *wsStream) Write(p []byte) (int, error) {
	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(s.partial[:i], []byte("\r"))
		if err := s.conn.WriteMessage(websocket.TextMessage, line); err != nil {
			s.partial = s.partial[:0]
			return 0, wsReadErr(err)
		}
		s.partial = s.partial[i+1:]
	}
	return len(p), nil
}

// Close sends a normal-closure frame and closes the socket.  WriteControl
// is safe to call concurrently with Write.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)) //nolint:errcheck
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *wsStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *wsStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
func (s *wsStream) RemoteAddr() net.Addr               { return s.conn.RemoteAddr() }
