package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the connection lifecycle state owned by the Manager.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateScanning
	StateConnecting
	StateBonding
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateBonding:
		return "bonding"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ManagerOptions configures connection lifecycle behavior.
type ManagerOptions struct {
	ReconnectBase time.Duration // initial reconnect backoff (default 2s)
	ReconnectMax  time.Duration // backoff cap (default 60s)
	PairingWindow time.Duration // how long to wait for user confirmation (default 30s)
}

// DefaultManagerOptions returns sensible defaults.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ReconnectBase: 2 * time.Second,
		ReconnectMax:  60 * time.Second,
		PairingWindow: 30 * time.Second,
	}
}

// Manager owns the physical link to one controller: bonding, connect,
// disconnect, and reconnect with exponential backoff. All GATT writes go
// through it, serialized, so no two writes are ever in flight.
type Manager struct {
	adapter Adapter
	address string
	bonds   BondStore
	opts    ManagerOptions
	log     *slog.Logger

	mu         sync.Mutex
	state      ConnState
	conn       Connection
	writeChar  Characteristic
	gen        uint64 // connection generation, guards stale disconnect callbacks
	closed     bool
	connecting bool // a Connect call holds the attempt slot

	reconnecting atomic.Bool
	done         chan struct{}

	writeMu sync.Mutex

	onState     func(ConnState)
	onNotify    func([]byte)
	onChallenge func(PairingChallenge)
}

// NewManager creates a connection manager for the controller at address.
// bonds may be nil, in which case every connect pairs from scratch.
func NewManager(adapter Adapter, address string, bonds BondStore, opts ManagerOptions) *Manager {
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 2 * time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 60 * time.Second
	}
	if opts.PairingWindow <= 0 {
		opts.PairingWindow = 30 * time.Second
	}
	return &Manager{
		adapter: adapter,
		address: address,
		bonds:   bonds,
		opts:    opts,
		log:     slog.Default().With("subsystem", "ble", "device", address),
		state:   StateDisconnected,
		done:    make(chan struct{}),
	}
}

// OnStateChange registers the connection state callback. Must be called
// before Connect.
func (m *Manager) OnStateChange(cb func(ConnState)) { m.onState = cb }

// OnNotify registers the raw notification sink. Notifications are delivered
// in arrival order, one at a time. Must be called before Connect.
func (m *Manager) OnNotify(cb func([]byte)) { m.onNotify = cb }

// OnChallenge registers the pairing challenge handler. Must be called
// before Connect when the device is not yet bonded.
func (m *Manager) OnChallenge(cb func(PairingChallenge)) { m.onChallenge = cb }

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s ConnState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	cb := m.onState
	m.mu.Unlock()

	m.log.Debug("connection state changed", "state", s.String())
	if cb != nil {
		cb(s)
	}
}

// Connect establishes the link, pairing first if no bonding credential is
// stored. Concurrent calls collapse into the in-flight attempt.
func (m *Manager) Connect(ctx context.Context) error {
	// The attempt slot is claimed under the same lock acquisition that
	// checks for one, so two racing Connect calls can never both proceed.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.connecting {
		m.mu.Unlock()
		return nil
	}
	switch m.state {
	case StateConnected, StateConnecting, StateBonding, StateReconnecting:
		// Attempt already in flight (or done); collapse.
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	if err := m.adapter.Enable(); err != nil {
		return &LinkError{Op: "enable adapter", Err: err}
	}
	return m.connectOnce(ctx, StateDisconnected)
}

// connectOnce performs a single full connect attempt: connect, bond if
// needed, discover characteristics, subscribe. failState is published when
// the attempt fails, so a reconnect attempt stays in Reconnecting instead
// of flashing Disconnected between backoff rounds.
func (m *Manager) connectOnce(ctx context.Context, failState ConnState) error {
	if failState != StateReconnecting {
		m.setState(StateConnecting)
	}

	conn, err := m.adapter.Connect(ctx, m.address)
	if err != nil {
		m.setState(failState)
		return &LinkError{Op: "connect", Err: err}
	}

	if err := m.bondIfNeeded(ctx, conn); err != nil {
		conn.Disconnect()
		m.setState(failState)
		return err
	}

	writeChar, err := conn.DiscoverCharacteristic(ServiceUUID, WriteCharUUID)
	if err != nil {
		conn.Disconnect()
		m.setState(failState)
		return m.classifyDiscoverErr("discover write characteristic", err)
	}
	notifyChar, err := conn.DiscoverCharacteristic(ServiceUUID, NotifyCharUUID)
	if err != nil {
		conn.Disconnect()
		m.setState(failState)
		return m.classifyDiscoverErr("discover notify characteristic", err)
	}
	if err := notifyChar.Subscribe(m.dispatchNotification); err != nil {
		conn.Disconnect()
		m.setState(failState)
		return &LinkError{Op: "subscribe", Err: err}
	}

	m.mu.Lock()
	m.conn = conn
	m.writeChar = writeChar
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	conn.OnDisconnect(func() { m.handleLinkLoss(gen) })

	m.setState(StateConnected)
	m.log.Info("connected")
	return nil
}

// bondIfNeeded runs the pairing flow unless a stored credential lets us
// skip it.
func (m *Manager) bondIfNeeded(ctx context.Context, conn Connection) error {
	if m.bonds != nil {
		if _, ok, err := m.bonds.Load(m.address); err != nil {
			return fmt.Errorf("ble: load bond credential: %w", err)
		} else if ok {
			return nil
		}
	}

	m.setState(StateBonding)
	m.log.Info("no bond credential, pairing", "window", m.opts.PairingWindow)

	bondCtx, cancel := context.WithTimeout(ctx, m.opts.PairingWindow)
	defer cancel()

	credential, err := conn.Bond(bondCtx, m.forwardChallenge)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrPairingTimeout
	case err != nil:
		return err
	}

	if m.bonds != nil {
		if err := m.bonds.Store(m.address, credential); err != nil {
			return fmt.Errorf("ble: store bond credential: %w", err)
		}
	}
	m.log.Info("bonded")
	return nil
}

func (m *Manager) forwardChallenge(ch PairingChallenge) {
	m.mu.Lock()
	cb := m.onChallenge
	m.mu.Unlock()
	if cb == nil {
		// Nobody to ask; reject rather than silently accept an
		// unverified peer.
		m.log.Warn("pairing challenge with no handler registered, rejecting", "code", ch.Code)
		ch.Confirm(false)
		return
	}
	cb(ch)
}

// classifyDiscoverErr maps an encryption failure on a bonded link to
// ErrBondLost and drops the stale credential so the next attempt re-pairs.
func (m *Manager) classifyDiscoverErr(op string, err error) error {
	if errors.Is(err, ErrBondLost) {
		if m.bonds != nil {
			if derr := m.bonds.Delete(m.address); derr != nil {
				m.log.Error("failed to drop revoked bond credential", "error", derr)
			}
		}
		m.log.Warn("bond credential revoked by peer")
		return ErrBondLost
	}
	return &LinkError{Op: op, Err: err}
}

// dispatchNotification forwards raw notify bytes to the registered sink.
func (m *Manager) dispatchNotification(data []byte) {
	m.mu.Lock()
	cb := m.onNotify
	m.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// handleLinkLoss reacts to an unexpected drop of connection generation gen.
func (m *Manager) handleLinkLoss(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.writeChar = nil
	m.mu.Unlock()

	m.log.Warn("link lost, reconnecting")
	m.setState(StateReconnecting)

	// Only one reconnect loop at a time, even if the stack fires the
	// disconnect callback more than once.
	if m.reconnecting.CompareAndSwap(false, true) {
		go m.reconnectLoop()
	}
}

// reconnectLoop retries with exponential backoff until success, explicit
// disconnect, or a lost bond.
func (m *Manager) reconnectLoop() {
	defer m.reconnecting.Store(false)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, m.opts.ReconnectBase, m.opts.ReconnectMax)
			m.log.Info("reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-m.done:
				return
			case <-time.After(delay):
			}
		}

		select {
		case <-m.done:
			return
		default:
		}

		err := m.connectOnce(context.Background(), StateReconnecting)
		if err == nil {
			m.log.Info("reconnected")
			return
		}
		if errors.Is(err, ErrBondLost) {
			// No point retrying until the user pairs again.
			m.setState(StateDisconnected)
			return
		}
		m.log.Warn("reconnect failed", "error", err, "attempt", attempt+1)
	}
}

// backoffDelay returns base<<attempt capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// Write sends one frame to the command characteristic. Writes are
// serialized; at most one is in flight at any time.
func (m *Manager) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	writeChar := m.writeChar
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || writeChar == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := writeChar.Write(data); err != nil {
		return &LinkError{Op: "write", Err: err}
	}
	return nil
}

// Disconnect tears the link down and cancels any reconnect backoff timers.
// The manager is done after this; create a new one to connect again.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.writeChar = nil
	close(m.done)
	m.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	m.setState(StateDisconnected)
	m.log.Info("disconnected")
	return nil
}

// ScanForControllers scans for peripherals advertising the H&C service.
func ScanForControllers(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, &LinkError{Op: "enable adapter", Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, ServiceUUID)
	if err != nil {
		return nil, &LinkError{Op: "scan", Err: err}
	}
	return devices, nil
}
