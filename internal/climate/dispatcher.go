package climate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusy is returned when a command is already pending and the
	// dispatcher is configured to fail fast (or the queue slot is taken
	// by a different target field).
	ErrBusy = errors.New("climate: command already in flight")
	// ErrSuperseded resolves a queued command that was replaced by a
	// newer intent for the same target field.
	ErrSuperseded = errors.New("climate: command superseded by newer intent")
	// ErrCommandTimeout is returned when the device never acknowledges
	// the write, retries included.
	ErrCommandTimeout = errors.New("climate: command timed out")
	// ErrLinkLost fails a pending command when the connection drops.
	// The intent is not resent after reconnect; the caller must decide
	// whether it still applies.
	ErrLinkLost = errors.New("climate: link lost while command pending")
	// ErrNotReady is returned when a command is submitted before the
	// machine has synced a full status from the device.
	ErrNotReady = errors.New("climate: device state not synced")
)

// CommandRejectedError is a device-level rejection (Nack). Not retried:
// the device told us the command is invalid in its current state.
type CommandRejectedError struct {
	Field  byte
	Reason byte
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("climate: command 0x%02X rejected by device (reason %d)", e.Field, e.Reason)
}

// QueuePolicy selects what Submit does while a command is pending.
type QueuePolicy int

const (
	// QueueLatest holds at most one queued command; a newer intent for
	// the same target field supersedes the queued one.
	QueueLatest QueuePolicy = iota
	// FailFast rejects submissions with ErrBusy while a command pends.
	FailFast
)

// Writer sends one encoded frame over the link.
type Writer func(ctx context.Context, frame []byte) error

// DispatcherOptions configures retry and queueing behavior.
type DispatcherOptions struct {
	AckTimeout time.Duration // per-write ack wait (default 5s)
	Retries    int           // rewrites after the first timeout (default 2)
	Policy     QueuePolicy
}

// DefaultDispatcherOptions returns sensible defaults.
func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{AckTimeout: 5 * time.Second, Retries: 2, Policy: QueueLatest}
}

type pendingCommand struct {
	id      uuid.UUID
	field   byte
	frame   []byte
	issued  time.Time
	retries int
	timer   *time.Timer
	done    chan error // buffered; receives exactly one resolution
}

// Dispatcher serializes command intents: at most one command is in flight,
// with a queue of depth one behind it.
type Dispatcher struct {
	writer Writer
	opts   DispatcherOptions
	log    *slog.Logger

	mu      sync.Mutex
	pending *pendingCommand
	queued  *pendingCommand
}

// NewDispatcher creates a dispatcher writing through w.
func NewDispatcher(w Writer, opts DispatcherOptions) *Dispatcher {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Dispatcher{
		writer: w,
		opts:   opts,
		log:    slog.Default().With("subsystem", "dispatch"),
	}
}

// Submit sends the frame targeting field and blocks until the device acks,
// the command fails, or ctx is cancelled.
func (d *Dispatcher) Submit(ctx context.Context, field byte, frame []byte) error {
	cmd := &pendingCommand{
		id:     uuid.New(),
		field:  field,
		frame:  frame,
		issued: time.Now(),
		done:   make(chan error, 1),
	}

	d.mu.Lock()
	switch {
	case d.pending == nil:
		d.pending = cmd
		d.mu.Unlock()
		d.send(cmd)

	case d.opts.Policy == FailFast:
		d.mu.Unlock()
		return ErrBusy

	case d.queued == nil:
		d.queued = cmd
		d.mu.Unlock()

	case d.queued.field == field:
		// Only the latest user intent for a field matters.
		old := d.queued
		d.queued = cmd
		d.mu.Unlock()
		old.done <- ErrSuperseded

	default:
		d.mu.Unlock()
		return ErrBusy
	}

	d.log.Debug("command submitted", "id", cmd.id, "field", fmt.Sprintf("0x%02X", field))

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		d.abandon(cmd)
		return ctx.Err()
	}
}

// send writes the frame and arms the ack timer. Runs outside the lock:
// the underlying GATT write can block.
func (d *Dispatcher) send(cmd *pendingCommand) {
	if err := d.writer(context.Background(), cmd.frame); err != nil {
		d.log.Warn("command write failed", "id", cmd.id, "error", err)
		d.resolve(cmd, ErrLinkLost)
		return
	}

	d.mu.Lock()
	if d.pending == cmd {
		cmd.timer = time.AfterFunc(d.opts.AckTimeout, func() { d.onTimeout(cmd) })
	}
	d.mu.Unlock()
}

// onTimeout retries the write or fails the command once retries are spent.
func (d *Dispatcher) onTimeout(cmd *pendingCommand) {
	d.mu.Lock()
	if d.pending != cmd {
		d.mu.Unlock()
		return
	}
	if cmd.retries >= d.opts.Retries {
		d.mu.Unlock()
		d.log.Warn("command timed out", "id", cmd.id, "retries", cmd.retries)
		d.resolve(cmd, ErrCommandTimeout)
		return
	}
	cmd.retries++
	retries := cmd.retries
	d.mu.Unlock()

	d.log.Info("retrying unacked command", "id", cmd.id, "attempt", retries+1)
	d.send(cmd)
}

// HandleAck resolves the pending command targeting field.
func (d *Dispatcher) HandleAck(field byte) {
	d.mu.Lock()
	cmd := d.pending
	d.mu.Unlock()
	if cmd == nil || cmd.field != field {
		d.log.Debug("ack with no matching pending command", "field", fmt.Sprintf("0x%02X", field))
		return
	}
	d.resolve(cmd, nil)
}

// HandleNack fails the pending command targeting field without retry.
func (d *Dispatcher) HandleNack(field byte, reason byte) {
	d.mu.Lock()
	cmd := d.pending
	d.mu.Unlock()
	if cmd == nil || cmd.field != field {
		return
	}
	d.resolve(cmd, &CommandRejectedError{Field: field, Reason: reason})
}

// FailAll fails the pending and queued commands, typically with ErrLinkLost
// on disconnect. Nothing is resent after reconnect.
func (d *Dispatcher) FailAll(err error) {
	d.mu.Lock()
	pending, queued := d.pending, d.queued
	d.pending, d.queued = nil, nil
	if pending != nil && pending.timer != nil {
		pending.timer.Stop()
	}
	d.mu.Unlock()

	if pending != nil {
		pending.done <- err
	}
	if queued != nil {
		queued.done <- err
	}
}

// Pending reports whether a command is currently in flight.
func (d *Dispatcher) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// resolve completes cmd and promotes the queued command, if any.
func (d *Dispatcher) resolve(cmd *pendingCommand, err error) {
	d.mu.Lock()
	if d.pending != cmd {
		d.mu.Unlock()
		return
	}
	if cmd.timer != nil {
		cmd.timer.Stop()
	}
	next := d.queued
	d.pending, d.queued = next, nil
	d.mu.Unlock()

	cmd.done <- err
	if next != nil {
		d.send(next)
	}
}

// abandon drops cmd after its submitter stopped waiting.
func (d *Dispatcher) abandon(cmd *pendingCommand) {
	d.mu.Lock()
	if d.queued == cmd {
		d.queued = nil
		d.mu.Unlock()
		return
	}
	if d.pending == cmd {
		if cmd.timer != nil {
			cmd.timer.Stop()
		}
		next := d.queued
		d.pending, d.queued = next, nil
		d.mu.Unlock()
		if next != nil {
			d.send(next)
		}
		return
	}
	d.mu.Unlock()
}
