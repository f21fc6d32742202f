package gpiows

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState is the client's connection lifecycle state. It is written
// only by the connection manager; every other component reads it.
type ConnectionState int32

// Connection lifecycle states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
)

func (state ConnectionState) String() string {
	switch state {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// connManager drives the connection lifecycle state machine on top of the
// transport. It is the single owner of the connection state and of the
// reconnect task.
type connManager struct {
	endpoint     Endpoint
	tlsConfig    *tls.Config
	writeTimeout time.Duration
	logger       *slog.Logger
	slot         *errorSlot

	state atomic.Int32

	lock            sync.Mutex
	transport       *transport
	policy          ReconnectPolicy
	reconnectCancel context.CancelFunc
	reconnectDone   chan struct{}

	reconnecting atomic.Bool

	// onFrame is handed to every transport this manager opens; frames flow to
	// the dispatcher in wire order.
	onFrame func(data []byte, receivedAt time.Time)
}

func newConnManager(endpoint Endpoint, tlsConfig *tls.Config, writeTimeout time.Duration, slot *errorSlot, logger *slog.Logger) *connManager {
	return &connManager{
		endpoint:     endpoint,
		tlsConfig:    tlsConfig,
		writeTimeout: writeTimeout,
		logger:       logger,
		slot:         slot,
	}
}

func (cm *connManager) currentState() ConnectionState {
	return ConnectionState(cm.state.Load())
}

func (cm *connManager) setState(state ConnectionState) {
	cm.state.Store(int32(state))
}

func (cm *connManager) isConnected() bool {
	return cm.currentState() == StateConnected
}

// connect establishes the transport within the given timeout. Calling connect
// while already connected is a no-op that returns success. A reconnect loop
// in flight is cancelled first; the explicit call takes over.
func (cm *connManager) connect(timeout time.Duration, policy ReconnectPolicy) error {
	if cm.isConnected() {
		return nil
	}

	cm.stopReconnectLoop()

	cm.lock.Lock()
	defer cm.lock.Unlock()

	if cm.currentState() == StateConnected {
		return nil
	}
	cm.policy = policy
	cm.setState(StateConnecting)

	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	t, err := dialTransport(ctx, cm.endpoint, cm.tlsConfig, cm.writeTimeout, cm.logger)
	if err != nil {
		cm.setState(StateDisconnected)
		if KindOf(err) == ConnectTimeoutError {
			err = NewError(ConnectTimeoutError,
				fmt.Sprintf("no connection to %s after %.1fs", cm.endpoint.URL(), time.Since(started).Seconds()))
		}
		cm.slot.report(err)
		return err
	}

	cm.installLocked(t)
	cm.setState(StateConnected)
	if policy.Strategy != nil {
		policy.Strategy.Reset()
	}
	return nil
}

func (cm *connManager) installLocked(t *transport) {
	cm.transport = t
	t.start(cm.onFrame, cm.handleUnsolicitedClose)
}

// disconnect releases the transport and stops any reconnect task. Idempotent.
func (cm *connManager) disconnect() error {
	if cm.currentState() == StateDisconnected {
		return nil
	}
	cm.setState(StateClosing)

	cm.stopReconnectLoop()

	cm.lock.Lock()
	t := cm.transport
	cm.transport = nil
	cm.lock.Unlock()

	var err error
	if t != nil {
		err = t.close()
	}
	cm.setState(StateDisconnected)
	return err
}

func (cm *connManager) stopReconnectLoop() {
	cm.lock.Lock()
	cancel := cm.reconnectCancel
	done := cm.reconnectDone
	cm.reconnectCancel = nil
	cm.reconnectDone = nil
	cm.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// writeFrame hands one encoded frame to the live transport. Fails immediately
// with NotConnectedError when the state machine is not in Connected; nothing
// is ever queued.
func (cm *connManager) writeFrame(data []byte) error {
	if !cm.isConnected() {
		return NewError(NotConnectedError, "client is not connected while trying to send data")
	}

	cm.lock.Lock()
	t := cm.transport
	cm.lock.Unlock()

	if t == nil {
		return NewError(NotConnectedError, "client is not connected while trying to send data")
	}
	return t.writeFrame(data)
}

// handleUnsolicitedClose runs on the receive goroutine when the transport
// breaks without an explicit disconnect. With reconnection enabled it starts
// the reconnect task; otherwise the state machine settles in Disconnected.
func (cm *connManager) handleUnsolicitedClose(err error) {
	state := cm.currentState()
	if state == StateClosing || state == StateDisconnected {
		return
	}

	cm.slot.report(err)
	cm.logger.Warn("transport closed unexpectedly", "error", err)

	cm.lock.Lock()
	if cm.transport != nil {
		_ = cm.transport.close()
		cm.transport = nil
	}
	policy := cm.policy
	cm.lock.Unlock()

	if !policy.Enabled {
		cm.setState(StateDisconnected)
		return
	}

	if !cm.reconnecting.CompareAndSwap(false, true) {
		return
	}
	cm.setState(StateReconnecting)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	cm.lock.Lock()
	cm.reconnectCancel = cancel
	cm.reconnectDone = done
	cm.lock.Unlock()

	go cm.reconnectLoop(ctx, policy, done)
}

func (cm *connManager) reconnectLoop(ctx context.Context, policy ReconnectPolicy, done chan struct{}) {
	installed := false
	defer func() {
		if !installed {
			cm.reconnecting.Store(false)
		}
		close(done)
	}()

	deadline := time.Time{}
	if policy.Timeout > 0 {
		deadline = time.Now().Add(policy.Timeout)
	}

	giveUp := func(reason string) {
		cm.setState(StateDisconnected)
		cm.slot.report(NewError(TransportClosedError, reason))
		cm.logger.Warn("reconnect abandoned", "reason", reason)
	}

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if policy.MaxAttempts > 0 && attempt > policy.MaxAttempts {
			giveUp(fmt.Sprintf("reconnect attempts exhausted after %d tries", policy.MaxAttempts))
			return
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			giveUp("reconnect timeout budget exhausted")
			return
		}

		dialCtx := ctx
		var dialCancel context.CancelFunc
		if !deadline.IsZero() {
			dialCtx, dialCancel = context.WithDeadline(ctx, deadline)
		}
		t, err := dialTransport(dialCtx, cm.endpoint, cm.tlsConfig, cm.writeTimeout, cm.logger)
		if dialCancel != nil {
			dialCancel()
		}

		if err == nil {
			cm.lock.Lock()
			if ctx.Err() != nil || cm.currentState() != StateReconnecting {
				cm.lock.Unlock()
				_ = t.close()
				return
			}
			cm.installLocked(t)
			cm.setState(StateConnected)
			// reconnecting must be false before the installed transport can
			// report a close, or that close would find the CAS taken and
			// never restart the reconnect task.
			cm.reconnecting.Store(false)
			installed = true
			cm.lock.Unlock()

			if policy.Strategy != nil {
				policy.Strategy.Reset()
			}
			cm.logger.Info("reconnected", "url", cm.endpoint.URL(), "attempt", attempt)
			return
		}

		cm.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)

		wait := time.Duration(0)
		if policy.Strategy != nil {
			wait, _ = policy.Strategy.GetConnectWaitDuration()
		}
		if wait > 0 {
			if !deadline.IsZero() {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					giveUp("reconnect timeout budget exhausted")
					return
				}
				if wait > remaining {
					wait = remaining
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}
