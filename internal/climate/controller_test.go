package climate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/panasonic-hc/internal/ble"
	"github.com/chaz8081/panasonic-hc/internal/hcproto"
)

// Minimal in-package BLE fakes: the controller integration tests drive the
// whole stack (manager -> codec -> machine/dispatcher) through the public
// Adapter boundary.

type fakeChar struct {
	mu     sync.Mutex
	writes [][]byte
	cb     func([]byte)
}

func (c *fakeChar) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeChar) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
	return nil
}

func (c *fakeChar) notify(data []byte) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *fakeChar) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeChar) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

type fakeConn struct {
	mu         sync.Mutex
	writeChar  *fakeChar
	notifyChar *fakeChar
	dropCb     func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{writeChar: &fakeChar{}, notifyChar: &fakeChar{}}
}

func (c *fakeConn) DiscoverCharacteristic(_, charUUID string) (ble.Characteristic, error) {
	switch charUUID {
	case ble.WriteCharUUID:
		return c.writeChar, nil
	default:
		return c.notifyChar, nil
	}
}

func (c *fakeConn) Bond(_ context.Context, _ func(ble.PairingChallenge)) ([]byte, error) {
	return []byte("fake"), nil
}

func (c *fakeConn) Disconnect() error { return nil }

func (c *fakeConn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropCb = cb
}

func (c *fakeConn) drop() {
	c.mu.Lock()
	cb := c.dropCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type fakeStack struct {
	mu   sync.Mutex
	conn *fakeConn
}

func (a *fakeStack) Enable() error { return nil }

func (a *fakeStack) Scan(_ context.Context, _ string) ([]ble.Device, error) {
	return nil, nil
}

func (a *fakeStack) Connect(_ context.Context, _ string) (ble.Connection, error) {
	conn := newFakeConn()
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	return conn, nil
}

func (a *fakeStack) current() *fakeConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func newTestController(t *testing.T) (*Controller, *fakeStack) {
	t.Helper()
	stack := &fakeStack{}
	mgr := ble.NewManager(stack, "AA:BB:CC:DD:EE:FF", nil, ble.ManagerOptions{
		ReconnectBase: time.Millisecond,
		ReconnectMax:  5 * time.Millisecond,
		PairingWindow: time.Second,
	})
	ctrl := NewController(mgr, DispatcherOptions{
		AckTimeout: 50 * time.Millisecond,
		Retries:    2,
		Policy:     QueueLatest,
	})

	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { mgr.Disconnect() })
	return ctrl, stack
}

// syncReady waits out the controller's own resync writes, then delivers a
// status notification so the machine reaches Ready.
func syncReady(t *testing.T, ctrl *Controller, stack *fakeStack) {
	t.Helper()
	waitUntil(t, func() bool { return stack.current().writeChar.writeCount() >= 2 })
	stack.current().notifyChar.notify(hcproto.StatusNotification(hcproto.StatusUpdate{
		Power: true, Mode: hcproto.ModeHeat, TargetTemp: 20,
		FanSpeed: hcproto.FanAuto, CurrentTemp: 18.5, HasCurrentTemp: true,
	}))
	if ctrl.Machine().State() != StateReady {
		t.Fatalf("machine state = %v, want ready", ctrl.Machine().State())
	}
}

func TestConnectRequestsFullStatus(t *testing.T) {
	ctrl, stack := newTestController(t)

	// The controller must force a fresh status read instead of trusting
	// any cached snapshot.
	waitUntil(t, func() bool { return stack.current().writeChar.writeCount() >= 2 })

	if ctrl.Machine().State() != StateSyncing {
		t.Errorf("machine state = %v, want syncing before first status", ctrl.Machine().State())
	}

	parcel, err := hcproto.ParseParcel(stack.current().writeChar.writes[0])
	if err != nil {
		t.Fatalf("first write is not a valid frame: %v", err)
	}
	if parcel.Op != hcproto.OpRequest || parcel.Packets[0].Type != hcproto.PacketStatus {
		t.Errorf("first write = %+v, want a status request", parcel)
	}
}

func TestSetTargetTemperatureScenario(t *testing.T) {
	ctrl, stack := newTestController(t)
	syncReady(t, ctrl, stack)

	before := stack.current().writeChar.writeCount()

	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.SetTargetTemperature(context.Background(), 22.0) }()

	waitUntil(t, func() bool { return stack.current().writeChar.writeCount() > before })

	want, _ := hcproto.EncodeSetTemperature(22.0)
	got := stack.current().writeChar.lastWrite()
	if string(got) != string(want) {
		t.Errorf("wire frame = %x, want %x", got, want)
	}

	// Device acks; outcome is success and the snapshot reflects 22.0.
	stack.current().notifyChar.notify(hcproto.SetResponse(hcproto.PacketSetTemp, 0))

	if err := <-errCh; err != nil {
		t.Fatalf("SetTargetTemperature() error = %v", err)
	}
	if got := ctrl.State().TargetTemp; got != 22.0 {
		t.Errorf("snapshot target = %.1f, want 22.0", got)
	}
}

func TestCommandRejectedByDevice(t *testing.T) {
	ctrl, stack := newTestController(t)
	syncReady(t, ctrl, stack)

	before := stack.current().writeChar.writeCount()
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.SetMode(context.Background(), hcproto.ModeDry) }()
	waitUntil(t, func() bool { return stack.current().writeChar.writeCount() > before })

	stack.current().notifyChar.notify(hcproto.SetResponse(hcproto.PacketSetMode, 3))

	err := <-errCh
	var rejected *CommandRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("SetMode() error = %v, want CommandRejectedError", err)
	}
	// A rejected command must not leak into the snapshot.
	if ctrl.State().Mode == hcproto.ModeDry {
		t.Error("rejected mode applied to snapshot")
	}
}

func TestDisconnectMidCommand(t *testing.T) {
	ctrl, stack := newTestController(t)
	syncReady(t, ctrl, stack)

	before := stack.current().writeChar.writeCount()
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.SetPowersave(context.Background(), true) }()
	waitUntil(t, func() bool { return stack.current().writeChar.writeCount() > before })

	// Radio drops with the command pending.
	conn := stack.current()
	conn.drop()

	if err := <-errCh; !errors.Is(err, ErrLinkLost) {
		t.Fatalf("SetPowersave() error = %v, want ErrLinkLost", err)
	}

	// The machine degrades, then reconnects through Syncing and is only
	// Ready again after a fresh full status.
	waitUntil(t, func() bool { return stack.current() != conn })
	waitUntil(t, func() bool { return ctrl.Machine().State() == StateSyncing })

	snap := ctrl.State()
	if !snap.Stale {
		t.Error("snapshot not stale after link loss")
	}

	stack.current().notifyChar.notify(hcproto.StatusNotification(hcproto.StatusUpdate{
		Power: true, Mode: hcproto.ModeHeat, TargetTemp: 20, FanSpeed: hcproto.FanAuto,
	}))
	if ctrl.Machine().State() != StateReady {
		t.Errorf("machine state = %v, want ready after resync", ctrl.Machine().State())
	}
	if ctrl.State().Stale {
		t.Error("snapshot still stale after resync")
	}
}

func TestMalformedNotificationTolerated(t *testing.T) {
	ctrl, stack := newTestController(t)
	syncReady(t, ctrl, stack)
	before := ctrl.State()

	// Truncated and corrupt frames: counted, snapshot untouched, link up.
	frame := hcproto.StatusNotification(hcproto.StatusUpdate{
		Power: false, Mode: hcproto.ModeCool, TargetTemp: 30, FanSpeed: hcproto.FanLow,
	})
	stack.current().notifyChar.notify(frame[:4])
	corrupt := make([]byte, len(frame))
	copy(corrupt, frame)
	corrupt[2] ^= 0xFF
	stack.current().notifyChar.notify(corrupt)

	if got := ctrl.MalformedFrames(); got != 2 {
		t.Errorf("malformed counter = %d, want 2", got)
	}
	if after := ctrl.State(); after != before {
		t.Errorf("malformed frames changed snapshot: %+v -> %+v", before, after)
	}
	if ctrl.Machine().State() != StateReady {
		t.Errorf("machine state = %v, want ready (noise is not fatal)", ctrl.Machine().State())
	}
}

func TestCommandsRejectedUntilReady(t *testing.T) {
	ctrl, _ := newTestController(t)

	err := ctrl.SetTargetTemperature(context.Background(), 21.0)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("SetTargetTemperature() error = %v, want ErrNotReady", err)
	}
}

func TestInvalidTemperatureFailsBeforeDispatch(t *testing.T) {
	ctrl, stack := newTestController(t)
	syncReady(t, ctrl, stack)
	before := stack.current().writeChar.writeCount()

	if err := ctrl.SetTargetTemperature(context.Background(), 12.0); err == nil {
		t.Fatal("SetTargetTemperature(12.0) expected error")
	}
	if stack.current().writeChar.writeCount() != before {
		t.Error("invalid intent reached the wire")
	}
}

func TestEnergyFlowsToLog(t *testing.T) {
	ctrl, stack := newTestController(t)
	syncReady(t, ctrl, stack)

	hour := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	stack.current().notifyChar.notify(hcproto.EnergyNotification(hour, 250))

	samples := ctrl.EnergySince(time.Time{})
	if len(samples) != 1 || samples[0].EnergyWh != 250 || !samples[0].HourStart.Equal(hour) {
		t.Errorf("samples = %v, want [{%v 250}]", samples, hour)
	}
}
