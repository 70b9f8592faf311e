package climate

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chaz8081/panasonic-hc/internal/ble"
	"github.com/chaz8081/panasonic-hc/internal/hcproto"
)

// Controller is the host-facing facade: it wires the connection manager,
// frame codec, state machine and dispatcher together and exposes typed
// climate operations.
type Controller struct {
	mgr     *ble.Manager
	machine *Machine
	disp    *Dispatcher
	log     *slog.Logger

	malformed atomic.Int64
}

// NewController builds a controller on top of an existing connection
// manager. It registers itself as the manager's notification and state
// sink, so construct it before calling Connect.
func NewController(mgr *ble.Manager, opts DispatcherOptions) *Controller {
	c := &Controller{
		mgr:     mgr,
		machine: NewMachine(),
		disp:    NewDispatcher(mgr.Write, opts),
		log:     slog.Default().With("subsystem", "controller"),
	}
	mgr.OnNotify(c.handleNotification)
	mgr.OnStateChange(c.handleConnState)
	return c
}

// Machine exposes the underlying state machine for read access.
func (c *Controller) Machine() *Machine { return c.machine }

// State returns a copy of the current device state snapshot.
func (c *Controller) State() Snapshot { return c.machine.Snapshot() }

// EnergySince returns hourly energy samples recorded at or after t.
func (c *Controller) EnergySince(t time.Time) []EnergySample {
	return c.machine.EnergySince(t)
}

// OnUpdate registers the change-notification callback invoked whenever the
// snapshot or energy log updates.
func (c *Controller) OnUpdate(cb func()) { c.machine.OnUpdate(cb) }

// MalformedFrames returns how many notifications failed to decode. Noise
// on the link is counted, never fatal.
func (c *Controller) MalformedFrames() int64 { return c.malformed.Load() }

// handleNotification decodes raw notify bytes and routes the events.
// Runs on the transport's notification path, preserving arrival order.
func (c *Controller) handleNotification(data []byte) {
	events, err := hcproto.DecodeNotification(data)
	if err != nil {
		n := c.malformed.Add(1)
		c.log.Warn("dropping malformed frame", "len", len(data), "total", n)
		return
	}
	for _, ev := range events {
		switch e := ev.(type) {
		case hcproto.CommandAck:
			c.disp.HandleAck(e.Field)
		case hcproto.CommandNack:
			c.disp.HandleNack(e.Field, e.Reason)
		default:
			c.machine.ApplyEvent(ev)
		}
	}
}

// handleConnState feeds lifecycle transitions to the state machine, fails
// in-flight commands on link loss, and forces a fresh full status read on
// every (re)connect.
func (c *Controller) handleConnState(s ble.ConnState) {
	c.machine.HandleConnState(s)

	switch s {
	case ble.StateConnected:
		go c.resync()
	case ble.StateReconnecting, ble.StateDisconnected:
		c.disp.FailAll(ErrLinkLost)
	}
}

// resync asks the device for a full status and recent energy so the
// machine can leave Syncing. Failures here are left to the next
// notification or reconnect cycle.
func (c *Controller) resync() {
	ctx := context.Background()
	if err := c.mgr.Write(ctx, hcproto.StatusRequest()); err != nil {
		c.log.Warn("status request failed", "error", err)
		return
	}
	if err := c.mgr.Write(ctx, hcproto.EnergyRequest()); err != nil {
		c.log.Warn("energy request failed", "error", err)
	}
}

// RequestStatus asks the device for a full status report.
func (c *Controller) RequestStatus(ctx context.Context) error {
	return c.mgr.Write(ctx, hcproto.StatusRequest())
}

// submit runs one command through the dispatcher and, once the device has
// acknowledged it, folds the confirmed value into the snapshot.
func (c *Controller) submit(ctx context.Context, field byte, frame []byte, confirm func(*Snapshot)) error {
	if c.machine.State() != StateReady {
		return ErrNotReady
	}
	if err := c.disp.Submit(ctx, field, frame); err != nil {
		return err
	}
	c.machine.ApplyConfirmed(confirm)
	return nil
}

// SetPower switches the unit on or off.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	return c.submit(ctx, hcproto.PacketSetPower, hcproto.EncodeSetPower(on), func(s *Snapshot) {
		s.Power = on
	})
}

// SetMode selects the operating mode.
func (c *Controller) SetMode(ctx context.Context, m hcproto.Mode) error {
	frame, err := hcproto.EncodeSetMode(m)
	if err != nil {
		return err
	}
	return c.submit(ctx, hcproto.PacketSetMode, frame, func(s *Snapshot) {
		s.Mode = m
	})
}

// SetTargetTemperature sets the target temperature in degrees Celsius.
func (c *Controller) SetTargetTemperature(ctx context.Context, temp float64) error {
	frame, err := hcproto.EncodeSetTemperature(temp)
	if err != nil {
		return err
	}
	return c.submit(ctx, hcproto.PacketSetTemp, frame, func(s *Snapshot) {
		s.TargetTemp = temp
	})
}

// SetFanSpeed selects the fan speed.
func (c *Controller) SetFanSpeed(ctx context.Context, f hcproto.FanSpeed) error {
	frame, err := hcproto.EncodeSetFanSpeed(f)
	if err != nil {
		return err
	}
	return c.submit(ctx, hcproto.PacketSetFanSpeed, frame, func(s *Snapshot) {
		s.FanSpeed = f
	})
}

// SetPowersave toggles powersave mode.
func (c *Controller) SetPowersave(ctx context.Context, on bool) error {
	return c.submit(ctx, hcproto.PacketSetPowersave, hcproto.EncodeSetPowersave(on), func(s *Snapshot) {
		s.Powersave = on
	})
}
