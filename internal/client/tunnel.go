// Package client implements the Client-side Tunnel of spec §4.9: it
// dials the Host, authenticates, listens for commands, dials back
// per-request data connections, and for UDP maintains a pool and
// per-source sessions.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dtltunnel/internal/conf"
	"dtltunnel/internal/flog"
	"dtltunnel/internal/frame"
	"dtltunnel/internal/stream"
)

// WatchdogTimeout is the inbound-inactivity ceiling that forces a restart
// (spec §4.9 step 4, §4.10).
const WatchdogTimeout = 60 * time.Second

// restartBackoff is the sleep between top-level restart attempts on a
// transient failure (spec §4.10 "Transient I/O").
const restartBackoff = 10 * time.Second

// FatalError marks a non-retryable startup failure (spec §4.10's Client
// QuitException): the top-level loop terminates instead of restarting.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Tunnel is one Client-side bridge session.
type Tunnel struct {
	cfg *conf.ClientConf

	mu          sync.Mutex
	control     *stream.Stream
	pool        []*stream.Stream
	poolCursor  uint64
	lastInbound time.Time

	sessions *udpSessions
}

func New(cfg *conf.ClientConf) *Tunnel {
	return &Tunnel{cfg: cfg}
}

// Run is the top-level loop (spec §4.9/§4.10): on a terminal error it
// returns immediately; on any other error it sleeps restartBackoff and
// re-authenticates from scratch.
func (t *Tunnel) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := t.runOnce(ctx)
		var fatal *FatalError
		if errors.As(err, &fatal) {
			flog.Errorf("tunnel: fatal error, terminating: %v", err)
			return err
		}
		flog.Warnf("tunnel: session ended (%v), reconnecting in %s", err, restartBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartBackoff):
		}
	}
}

// runOnce authenticates, optionally builds the UDP pool, then blocks in
// the listen loop (with a concurrent watchdog) until the control stream
// fails.
func (t *Tunnel) runOnce(ctx context.Context) error {
	control, err := dialBridge(t.cfg.ServerHost, t.cfg.BridgePort, t.cfg.ServerSSL)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}

	authFrame := frame.Frame{
		Command:  frame.CommandAuthenticate,
		Type:     t.cfg.AppType,
		Resource: t.cfg.ServerTarget,
		Secret:   t.cfg.ServerAuth,
		Auth:     t.cfg.AppAuth,
	}
	if err := control.WriteFrame(authFrame); err != nil {
		control.Close()
		return &FatalError{Err: fmt.Errorf("send authenticate: %w", err)}
	}

	reply, err := control.ReadFrame()
	if err != nil {
		control.Close()
		return fmt.Errorf("read auth reply: %w", err)
	}
	if reply.Code != frame.CodeOK {
		control.Close()
		return &FatalError{Err: fmt.Errorf("authenticate rejected: %s (%s)", reply.Code, reply.Message)}
	}

	t.mu.Lock()
	t.control = control
	t.pool = nil
	t.lastInbound = time.Now()
	t.mu.Unlock()

	if t.cfg.AppType == "udp" {
		t.sessions = newUDPSessions(fmt.Sprintf("%s:%d", t.cfg.AppHost, t.cfg.AppPort))
		go t.sessions.run(ctx.Done())
		defer t.sessions.closeAll()

		if err := control.WriteFrame(frame.Frame{Command: frame.CommandAddPool}); err != nil {
			control.Close()
			return fmt.Errorf("send add_pool: %w", err)
		}
	}

	stop := make(chan struct{})
	go t.watchdog(stop)
	defer close(stop)

	err = t.listenLoop(ctx, control)
	control.Close()
	return err
}

// listenLoop processes frames on the control connection until it fails
// (spec §4.9 step 3).
func (t *Tunnel) listenLoop(ctx context.Context, control *stream.Stream) error {
	for {
		f, err := control.ReadFrame()
		if err != nil {
			return fmt.Errorf("control stream closed: %w", err)
		}
		t.mu.Lock()
		t.lastInbound = time.Now()
		t.mu.Unlock()

		switch {
		case f.Type == frame.TypePing:
			control.WriteFrame(frame.Frame{Type: frame.TypePong})
		case f.Command == frame.CommandNewRequest:
			go t.handleNewRequest(f.Identifier)
		case f.Command == frame.CommandNewPool:
			go t.handleNewPool(f.Identifier)
		}
	}
}

// handleNewRequest dials a fresh bridge connection, binds it to the
// identifier, dials the local app, and splices them (spec §4.9 step 3).
func (t *Tunnel) handleNewRequest(identifier string) {
	data, err := dialBridge(t.cfg.ServerHost, t.cfg.BridgePort, t.cfg.ServerSSL)
	if err != nil {
		flog.Warnf("tunnel: dial back for %s failed: %v", identifier, err)
		return
	}
	bindFrame := frame.Frame{Type: t.cfg.AppType, Resource: t.cfg.ServerTarget, Command: frame.CommandBind, Identifier: identifier}
	if err := data.WriteFrame(bindFrame); err != nil {
		data.Close()
		return
	}

	app, err := dialLocalApp(t.cfg.AppHost, t.cfg.AppPort, t.cfg.AppSSL)
	if err != nil {
		flog.Warnf("tunnel: dial local app for %s failed: %v", identifier, err)
		data.Close()
		return
	}
	stream.Splice(data, app)
}

// handleNewPool dials a fresh bridge connection, binds it as a pool
// member, and runs its reader loop (spec §4.9 step 3, UDP only).
func (t *Tunnel) handleNewPool(identifier string) {
	data, err := dialBridge(t.cfg.ServerHost, t.cfg.BridgePort, t.cfg.ServerSSL)
	if err != nil {
		flog.Warnf("tunnel: pool dial back for %s failed: %v", identifier, err)
		return
	}
	bindFrame := frame.Frame{Type: t.cfg.AppType, Resource: t.cfg.ServerTarget, Command: frame.CommandBind, Identifier: identifier}
	if err := data.WriteFrame(bindFrame); err != nil {
		data.Close()
		return
	}

	t.mu.Lock()
	t.pool = append(t.pool, data)
	desired := t.cfg.Pools
	have := len(t.pool)
	t.mu.Unlock()

	go t.poolReader(data)

	// Issue another add_pool only while |pool|+2 < desired (spec §4.9 step
	// 2), so the pool settles at desired-2 members, and never below the one
	// member obtained by the initial add_pool.
	if have+2 < desired {
		t.mu.Lock()
		control := t.control
		t.mu.Unlock()
		if control != nil {
			control.WriteFrame(frame.Frame{Command: frame.CommandAddPool})
		}
	}
}
