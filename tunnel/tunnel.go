// Package tunnel carries relaychat traffic over SSH, backed by
// golang.org/x/crypto/ssh.
//
// Two directions are supported.  An [SSHTunnel] dials through a gateway
// so `relaychat join --tunnel` can reach a room that is only visible
// from the gateway.  A [Publisher] asks the gateway to listen on our
// behalf (the equivalent of ssh -R) and hands each forwarded connection
// to the chat server as if it had been accepted locally.
package tunnel

import (
	"context"
	"net"
)

// Tunnel abstracts an encrypted channel through which TCP connections
// can be forwarded.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the tunnel and frees resources.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}
