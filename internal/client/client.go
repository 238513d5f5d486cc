// Package client is the terminal side of `relaychat join`: it connects
// to a room, logs in, and relays lines between the terminal and the
// server until either side hangs up.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"relaychat/internal/transport"
	"relaychat/util"
)

// ErrNoUsername is returned when the interactive prompt gets no name.
var ErrNoUsername = errors.New("no username given")

// Client joins one chat room.
type Client struct {
	Dialer   transport.Dialer
	Address  string
	Username string // "" prompts on a terminal, otherwise LOGIN is left to the user
	Logger   *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer

	// isTerminal reports whether Stdin is interactive.  Overridden in tests.
	isTerminal func() bool
}

func (c *Client) stdin() io.Reader {
	if c.Stdin != nil {
		return c.Stdin
	}
	return os.Stdin
}

func (c *Client) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

func (c *Client) interactive() bool {
	if c.isTerminal != nil {
		return c.isTerminal()
	}
	f, ok := c.stdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Run connects, sends LOGIN, and relays until the server closes the
// connection, stdin fails, or ctx is cancelled.  The dialer is closed
// when Run returns.
func (c *Client) Run(ctx context.Context) error {
	defer c.Dialer.Close()

	in := bufio.NewReader(c.stdin())
	out := c.stdout()

	name := c.Username
	if name == "" && c.interactive() {
		var err error
		if name, err = promptUsername(in, out); err != nil {
			return err
		}
	}

	c.Logger.Verbose("connecting to %s", c.Address)
	conn, err := c.Dialer.Dial(ctx, "tcp", c.Address)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.Address, err)
	}
	defer conn.Close()
	c.Logger.Info("Connected to the server at %s", conn.RemoteAddr())

	if name != "" {
		if _, err := io.WriteString(conn, "LOGIN "+name+"\n"); err != nil {
			return fmt.Errorf("send login: %w", err)
		}
	}

	err = util.BidirectionalCopy(ctx, conn, in, out)
	if ctx.Err() == nil {
		c.Logger.Info("Server disconnected.")
	}
	return err
}

// promptUsername asks for a name on the terminal.
func promptUsername(in *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Username: ")
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return "", ErrNoUsername
		}
		return "", err
	}
	name := strings.TrimSpace(line)
	if name == "" {
		return "", ErrNoUsername
	}
	return name, nil
}
