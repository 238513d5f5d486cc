// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a relaychat server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a relaychat server.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	loginsTotal       atomic.Int64
	loginsRejected    atomic.Int64
	messagesRelayed   atomic.Int64
	deliveries        atomic.Int64
	deliveryFailures  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	tunnelReconnects  atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── Protocol metrics ─────────────────────────────────────────────────

// LoginSucceeded records a PRE_LOGIN → ACTIVE transition.
func (c *Collector) LoginSucceeded() {
	if c == nil {
		return
	}
	c.loginsTotal.Add(1)
}

// LoginRejected records a command refused before login.
func (c *Collector) LoginRejected() {
	if c == nil {
		return
	}
	c.loginsRejected.Add(1)
}

// MessageRelayed records one chat line accepted for broadcast.
func (c *Collector) MessageRelayed() {
	if c == nil {
		return
	}
	c.messagesRelayed.Add(1)
}

// Logins returns the number of successful logins.
func (c *Collector) Logins() int64 {
	if c == nil {
		return 0
	}
	return c.loginsTotal.Load()
}

// RejectedLogins returns the number of refused pre-login commands.
func (c *Collector) RejectedLogins() int64 {
	if c == nil {
		return 0
	}
	return c.loginsRejected.Load()
}

// MessagesRelayed returns the number of chat lines broadcast.
func (c *Collector) MessagesRelayed() int64 {
	if c == nil {
		return 0
	}
	return c.messagesRelayed.Load()
}

// ── Delivery metrics ─────────────────────────────────────────────────

// Delivered records one line queued for a broadcast recipient.
func (c *Collector) Delivered() {
	if c == nil {
		return
	}
	c.deliveries.Add(1)
}

// DeliveryFailed records one recipient that could not take a line.
func (c *Collector) DeliveryFailed() {
	if c == nil {
		return
	}
	c.deliveryFailures.Add(1)
}

// Deliveries returns the number of successful per-recipient sends.
func (c *Collector) Deliveries() int64 {
	if c == nil {
		return 0
	}
	return c.deliveries.Load()
}

// DeliveryFailures returns the number of failed per-recipient sends.
func (c *Collector) DeliveryFailures() int64 {
	if c == nil {
		return 0
	}
	return c.deliveryFailures.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Tunnel metrics ───────────────────────────────────────────────────

// TunnelReconnect records a publish-tunnel reconnection event.
func (c *Collector) TunnelReconnect() {
	if c == nil {
		return
	}
	c.tunnelReconnects.Add(1)
}

// TunnelReconnects returns the total tunnel reconnection count.
func (c *Collector) TunnelReconnects() int64 {
	if c == nil {
		return 0
	}
	return c.tunnelReconnects.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	Logins            int64  `json:"logins"`
	LoginsRejected    int64  `json:"logins_rejected"`
	MessagesRelayed   int64  `json:"messages_relayed"`
	Deliveries        int64  `json:"deliveries"`
	DeliveryFailures  int64  `json:"delivery_failures"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	TunnelReconnects  int64  `json:"tunnel_reconnects"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		Logins:            c.loginsTotal.Load(),
		LoginsRejected:    c.loginsRejected.Load(),
		MessagesRelayed:   c.messagesRelayed.Load(),
		Deliveries:        c.deliveries.Load(),
		DeliveryFailures:  c.deliveryFailures.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		TunnelReconnects:  c.tunnelReconnects.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
