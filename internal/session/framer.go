package session

import (
	"bytes"

	ncerr "relaychat/internal/errors"
)

// Framer reassembles newline-terminated lines from arbitrary read
// chunks.  A trailing partial line is held until a later chunk
// completes it.
type Framer struct {
	buf []byte
	max int // 0 = unlimited
}

// NewFramer returns a Framer that rejects lines longer than max bytes.
func NewFramer(max int) *Framer {
	return &Framer{max: max}
}

// Feed consumes chunk and returns every line it completes, with the
// terminator (and one preceding '\r') stripped.  Empty lines are
// dropped.  If a line, complete or pending, exceeds the limit, Feed
// returns the lines completed before it together with
// [ncerr.ErrLineTooLong] and discards the buffered data.
func (f *Framer) Feed(chunk []byte) ([]string, error) {
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := f.buf[:i]
		f.buf = f.buf[i+1:]

		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if f.max > 0 && len(line) > f.max {
			f.buf = nil
			return lines, ncerr.ErrLineTooLong
		}
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}

	// One spare byte for a '\r' whose '\n' has not arrived yet.
	if f.max > 0 && len(f.buf) > f.max+1 {
		f.buf = nil
		return lines, ncerr.ErrLineTooLong
	}

	// Compact so the backing array does not grow without bound.
	if len(f.buf) == 0 {
		f.buf = nil
	} else {
		f.buf = append([]byte(nil), f.buf...)
	}
	return lines, nil
}

// pending returns the number of buffered bytes of an incomplete line.
func (f *Framer) pending() int { return len(f.buf) }
