// Package session implements the per-connection chat protocol: line
// framing, the PRE_LOGIN → ACTIVE → TERMINATED state machine, and the
// registry mutations and broadcasts each transition triggers.
package session

import (
	"strings"
	"sync"

	"relaychat/internal/metrics"
	"relaychat/internal/registry"
	"relaychat/util"
)

// Session is the protocol state of one connection.  handleLine and
// terminate are driven by the connection's own serve goroutine; the
// accessors may be called from anywhere.
type Session struct {
	out      *outbox
	registry *registry.Registry
	logger   *util.Logger
	metrics  *metrics.Collector

	mu       sync.Mutex
	state    State
	username string

	terminateOnce sync.Once
}

func newSession(out *outbox, reg *registry.Registry, logger *util.Logger, m *metrics.Collector) *Session {
	return &Session{
		out:      out,
		registry: reg,
		logger:   logger,
		metrics:  m,
		state:    StatePreLogin,
	}
}

// ID returns the connection identity.
func (s *Session) ID() string { return s.out.ID() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the login name, or "" before login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// reply queues a line for this session only.
func (s *Session) reply(line string) {
	if err := s.out.Send(line); err != nil {
		s.logger.Verbose("reply %q dropped: %v", line, err)
	}
}

// handleLine applies one inbound line and reports whether the session
// asked to quit.
func (s *Session) handleLine(line string) (quit bool) {
	switch s.State() {
	case StatePreLogin:
		name, ok := ParseLogin(line)
		if !ok {
			s.metrics.LoginRejected()
			s.reply(LoginFirstLine)
			return false
		}
		s.login(name)
		return false

	case StateActive:
		text := strings.TrimSpace(line)
		if text == "" {
			return false
		}
		if IsQuit(text) {
			s.reply(ByeLine)
			return true
		}
		out := ChatLine(s.Username(), text)
		s.logger.Verbose("MSG -> %s", out)
		s.metrics.MessageRelayed()
		s.registry.Broadcast(s.out, out)
		return false

	default:
		return true
	}
}

func (s *Session) login(name string) {
	if err := s.registry.Register(s.out, name); err != nil {
		s.logger.Error("login %q: %v", name, err)
		return
	}

	s.mu.Lock()
	s.username = name
	s.state = StateActive
	s.mu.Unlock()

	s.logger = s.logger.With("user", name)
	s.logger.Info("User logged in: %s", name)
	s.metrics.LoginSucceeded()

	s.reply(LoginOKLine(name))
	s.registry.Broadcast(s.out, JoinNotice(name))
}

// terminate moves the session to TERMINATED.  An ACTIVE session is
// unregistered and everyone else is told it left.  Safe to call more
// than once; only the first call has any effect.
func (s *Session) terminate() {
	s.terminateOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		name := s.username
		s.state = StateTerminated
		s.mu.Unlock()

		if prev != StateActive {
			return
		}
		s.registry.Unregister(s.out)
		s.logger.Info("User disconnected: %s", name)
		s.registry.Broadcast(s.out, LeaveNotice(name))
	})
}
