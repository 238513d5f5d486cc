package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultBindAddress is the address the chat and status listeners
	// bind when none is given.
	DefaultBindAddress = "0.0.0.0"

	// DefaultChatPort is the TCP port for the line protocol.
	DefaultChatPort = 4000

	// DefaultStatusPort is the HTTP status/WebSocket port.
	DefaultStatusPort = 3000

	// DefaultWriteTimeout bounds each write to a chat client.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultQueueSize is the number of outbound lines buffered per
	// client before further lines to it are dropped.
	DefaultQueueSize = 256

	// DefaultMaxLineLength caps an inbound line in bytes.
	DefaultMaxLineLength = 4096

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultRemoteBindAddress is where the SSH gateway listens for
	// published chat traffic.  An empty string lets the gateway decide.
	DefaultRemoteBindAddress = "0.0.0.0"

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultDialRetries is how many extra attempts join makes before
	// giving up on the server.
	DefaultDialRetries = 3

	// DefaultMaxReconnectAttempts is how many times to retry after a
	// tunnel disconnect.
	DefaultMaxReconnectAttempts = 10

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// reconnection attempts.
	DefaultMaxReconnectBackoff = 60 * time.Second

	// DefaultGracePeriod is how long shutdown waits for sessions to
	// finish.
	DefaultGracePeriod = 5 * time.Second
)
