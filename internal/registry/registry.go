// Package registry tracks which connections are logged in and fans
// chat lines out to them.
//
// A Registry is created once per server and handed to every session.
// All methods are safe for concurrent use: mutations take a write lock,
// and Broadcast copies the recipient list under a read lock before
// sending, so registrations racing with an in-flight broadcast never
// skip or duplicate unrelated recipients.
package registry

import (
	"sync"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/util"
)

// Conn is the registry's view of a connection: a stable identity and a
// way to queue one line for it.  Send must not block on the network.
type Conn interface {
	ID() string
	Send(line string) error
}

// Entry is the fixed-shape record stored per logged-in connection.
type Entry struct {
	Conn     Conn
	Username string
}

// Registry maps connection identity to its logged-in session.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry        // insertion order
	index   map[string]int // conn ID → position in entries

	logger  *util.Logger
	metrics *metrics.Collector
}

// New returns an empty registry.  The metrics collector may be nil.
func New(logger *util.Logger, m *metrics.Collector) *Registry {
	return &Registry{
		index:   make(map[string]int),
		logger:  logger,
		metrics: m,
	}
}

// Register inserts conn under username.  Registering the same
// connection twice is a caller error and leaves the registry unchanged.
func (r *Registry) Register(conn Conn, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[conn.ID()]; ok {
		return ncerr.ErrAlreadyRegistered
	}
	r.index[conn.ID()] = len(r.entries)
	r.entries = append(r.entries, Entry{Conn: conn, Username: username})
	return nil
}

// Unregister removes conn if present and reports whether it was.
// Absent connections are not an error: a client may disconnect before
// ever logging in.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.index[conn.ID()]
	if !ok {
		return false
	}
	delete(r.index, conn.ID())
	r.entries = append(r.entries[:pos], r.entries[pos+1:]...)
	for i := pos; i < len(r.entries); i++ {
		r.index[r.entries[i].Conn.ID()] = i
	}
	return true
}

// Broadcast queues message for every registered connection except
// exclude (nil excludes nobody) and returns how many accepted it.
// A recipient that fails is logged and skipped; it never aborts the
// broadcast or surfaces to the caller.
func (r *Registry) Broadcast(exclude Conn, message string) int {
	var skipID string
	if exclude != nil {
		skipID = exclude.ID()
	}

	delivered := 0
	for _, e := range r.snapshot() {
		if exclude != nil && e.Conn.ID() == skipID {
			continue
		}
		if err := e.Conn.Send(message); err != nil {
			r.metrics.DeliveryFailed()
			if ncerr.Is(err, ncerr.ErrConnClosed) {
				// Lost the race with that session's own teardown.
				r.logger.Verbose("skipping %s (%s): %v", e.Username, e.Conn.ID(), err)
			} else {
				r.logger.Warn("delivery to %s (%s) failed: %v", e.Username, e.Conn.ID(), err)
			}
			continue
		}
		r.metrics.Delivered()
		delivered++
	}
	return delivered
}

// ListUsers returns the usernames of all registered connections in the
// order they logged in.  Duplicate names are reported as-is.
func (r *Registry) ListUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, len(r.entries))
	for i, e := range r.entries {
		users[i] = e.Username
	}
	return users
}

// lookup returns the username registered for conn.
func (r *Registry) lookup(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.index[conn.ID()]
	if !ok {
		return "", false
	}
	return r.entries[pos].Username, true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
