// Package ble provides the BLE client for Panasonic H&C wired remote
// controllers. It handles scanning, bonding, connection management with
// automatic reconnect, and raw frame transport over GATT characteristics.
package ble

import "context"

// Panasonic H&C GATT UUIDs.
const (
	ServiceUUID    = "4d200001-eff3-4362-b090-a04cab3f1da0"
	WriteCharUUID  = "4d200002-eff3-4362-b090-a04cab3f1da0"
	NotifyCharUUID = "4d200003-eff3-4362-b090-a04cab3f1da0"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// PairingChallenge is a numeric-comparison prompt raised during bonding.
// The code must be shown to the user; Confirm must be called exactly once.
type PairingChallenge struct {
	Code    uint32
	Confirm func(accept bool)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Bond performs BLE pairing, emitting challenges that need user
	// confirmation to onChallenge. On success it returns an opaque
	// credential blob that lets later connections skip pairing.
	Bond(ctx context.Context, onChallenge func(PairingChallenge)) ([]byte, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE central stack.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device at the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// BondStore persists bonding credentials as opaque blobs keyed by device
// address. Implemented by a collaborator (see internal/store).
type BondStore interface {
	Load(address string) ([]byte, bool, error)
	Store(address string, credential []byte) error
	Delete(address string) error
}
