package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Write when there is no usable link.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrPairingTimeout is returned when the user does not confirm the
	// pairing challenge within the bonding window.
	ErrPairingTimeout = errors.New("ble: pairing timed out")
	// ErrPairingRejected is returned when the user rejects the challenge.
	ErrPairingRejected = errors.New("ble: pairing rejected")
	// ErrBondLost means the stored bonding credential was revoked by the
	// peer; the device must be paired again.
	ErrBondLost = errors.New("ble: bond lost, re-pairing required")
)

// LinkError wraps a transport-level failure. Link errors are recovered
// locally by the reconnect loop and are never fatal to the client.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string { return fmt.Sprintf("ble: %s: %v", e.Op, e.Err) }

func (e *LinkError) Unwrap() error { return e.Err }
