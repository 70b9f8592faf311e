package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// StackAdapter wraps tinygo-org/bluetooth. On Linux the address is a MAC;
// on macOS it is the CoreBluetooth UUID of the peripheral.
type StackAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*stackConnection // keyed by device address
}

// NewStackAdapter creates a BLE adapter backed by the platform stack.
func NewStackAdapter() *StackAdapter {
	return &StackAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*stackConnection),
	}
}

func (a *StackAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The stack fires this callback (with connected=false) when a
	// peripheral drops, which is how link loss reaches the Manager.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		a.mu.Unlock()
		if ok && conn.disconnectCb != nil {
			conn.disconnectCb()
		}
	})

	return nil
}

func (a *StackAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *StackAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed on
		// its own; we can't cancel it from here.
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &stackConnection{device: &result.device, address: address}

		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that StackAdapter implements Adapter.
var _ Adapter = (*StackAdapter)(nil)

type stackConnection struct {
	device       *bluetooth.Device
	address      string
	disconnectCb func()
}

func (c *stackConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, classifyStackErr("discover services", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, classifyStackErr("discover characteristics", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &stackCharacteristic{char: &chars[0]}, nil
}

// bondLostIndicators are substrings of the errors the platform stacks
// return when the peer no longer accepts our keys: BlueZ reports
// "Authentication Failed" on the connect/discover path, and ATT access to
// the encrypted service fails with insufficient authentication (0x05) or
// insufficient encryption (0x0F).
var bondLostIndicators = []string{
	"authentication failed",
	"authentication failure",
	"insufficient authentication",
	"insufficient encryption",
	"encryption failed",
}

// classifyStackErr maps a stack authentication or encryption failure to
// ErrBondLost so the Manager drops the revoked credential and surfaces
// re-pairing instead of retrying the dead bond forever.
func classifyStackErr(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, indicator := range bondLostIndicators {
		if strings.Contains(msg, indicator) {
			return fmt.Errorf("ble: %s: %v: %w", op, err, ErrBondLost)
		}
	}
	return fmt.Errorf("ble: %s: %w", op, err)
}

// Bond triggers SMP pairing. tinygo/bluetooth delegates the actual key
// exchange to the platform stack (the BlueZ agent on Linux, CoreBluetooth
// on macOS), which also owns the numeric-comparison prompt and the key
// material. The returned credential is therefore a marker blob: its
// presence means "the OS stack has keys for this peer".
func (c *stackConnection) Bond(ctx context.Context, onChallenge func(PairingChallenge)) ([]byte, error) {
	// Reading a characteristic on an encrypted service forces the stack
	// to pair if it has not already.
	if _, err := c.DiscoverCharacteristic(ServiceUUID, NotifyCharUUID); err != nil {
		return nil, fmt.Errorf("ble: bonding handshake: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	credential := fmt.Sprintf("os-stack-bond:%s:%d", c.address, time.Now().Unix())
	return []byte(credential), nil
}

func (c *stackConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *stackConnection) OnDisconnect(cb func()) {
	c.disconnectCb = cb
}

type stackCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *stackCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *stackCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
