package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/session"
	"relaychat/internal/status"
	"relaychat/tunnel"
	"relaychat/util"
)

// ServeMode runs the chat room: a TCP listener, optionally the same
// room published on an SSH gateway, and optionally the status server.
type ServeMode struct {
	ChatAddr   string // "host:port"
	StatusAddr string // "" disables the status server

	Handler *session.Handler
	Status  *status.Server
	Publish *tunnel.PublishConfig // nil disables publishing

	// GracePeriod bounds how long shutdown waits for sessions and the
	// status server.
	GracePeriod time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector

	// OnListening, when set, is called with the bound chat and status
	// addresses (status is nil when disabled) once both listen.
	OnListening func(chat, status net.Addr)
}

// Run listens and serves until ctx is cancelled or a listener fails.
// Cancellation closes every session, each of which tells the room it
// left.
func (m *ServeMode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chatLn, err := net.Listen("tcp", m.ChatAddr)
	if err != nil {
		return ncerr.Wrap("listen", m.ChatAddr, err)
	}
	defer chatLn.Close()

	var statusLn net.Listener
	if m.StatusAddr != "" && m.Status != nil {
		if statusLn, err = net.Listen("tcp", m.StatusAddr); err != nil {
			return ncerr.Wrap("listen", m.StatusAddr, err)
		}
		defer statusLn.Close()
	}

	var pub *tunnel.Publisher
	if m.Publish != nil {
		pub = tunnel.NewPublisher(m.Publish, m.Logger, m.Metrics)
		if err := pub.Start(ctx); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		defer pub.Close()
	}

	m.Logger.Info("TCP chat server listening on %s", chatLn.Addr())

	var (
		sessions sync.WaitGroup
		loops    sync.WaitGroup
		errCh    = make(chan error, 2)
	)

	loops.Add(1)
	go func() {
		defer loops.Done()
		if err := m.acceptLoop(ctx, chatLn, &sessions); err != nil {
			errCh <- fmt.Errorf("chat listener: %w", err)
			cancel()
		}
	}()
	if pub != nil {
		// Losing the gateway leaves the local listener serving.
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := m.acceptLoop(ctx, pub, &sessions); err != nil {
				m.Logger.Error("SSH gateway: %v; chat remains reachable on %s", err, chatLn.Addr())
				m.Metrics.RecordError("publish: " + err.Error())
			}
		}()
	}
	if statusLn != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := m.Status.Serve(ctx, statusLn); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	if m.OnListening != nil {
		var sa net.Addr
		if statusLn != nil {
			sa = statusLn.Addr()
		}
		m.OnListening(chatLn.Addr(), sa)
	}

	<-ctx.Done()
	m.Logger.Info("shutting down, %d users online", m.Handler.Registry.Len())

	// Unblock the accept loops.
	chatLn.Close()
	if pub != nil {
		pub.Close() //nolint:errcheck
	}
	loops.Wait()

	if !waitTimeout(&sessions, m.gracePeriod()) {
		m.Logger.Warn("sessions still open after %v", m.gracePeriod())
	}
	m.Logger.Verbose("metrics at exit: %s", m.Metrics.JSON())

	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *ServeMode) gracePeriod() time.Duration {
	if m.GracePeriod > 0 {
		return m.GracePeriod
	}
	return 5 * time.Second
}

// acceptLoop hands every accepted connection to the session handler.
// It returns nil once ctx is cancelled.
func (m *ServeMode) acceptLoop(ctx context.Context, ln net.Listener, sessions *sync.WaitGroup) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		m.Logger.Verbose("connection from %s", conn.RemoteAddr())
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			m.Handler.Serve(ctx, conn) //nolint:errcheck
		}()
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
