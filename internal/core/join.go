package core

import (
	"context"
	"io"

	"relaychat/internal/client"
	"relaychat/internal/transport"
	"relaychat/util"
)

// JoinMode connects to a room and relays the terminal to it.
type JoinMode struct {
	Dialer   transport.Dialer
	Address  string
	Username string
	Logger   *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

// Run joins the room and returns when the session ends.
func (m *JoinMode) Run(ctx context.Context) error {
	c := &client.Client{
		Dialer:   m.Dialer,
		Address:  m.Address,
		Username: m.Username,
		Logger:   m.Logger,
		Stdin:    m.Stdin,
		Stdout:   m.Stdout,
	}
	return c.Run(ctx)
}
