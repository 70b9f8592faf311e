package ble

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStackErr(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		bondLost bool
	}{
		{
			name:     "bluez authentication failed",
			err:      errors.New("org.bluez.Error.Failed: Authentication Failed"),
			bondLost: true,
		},
		{
			name:     "att insufficient authentication",
			err:      errors.New("ATT error 0x05: insufficient authentication"),
			bondLost: true,
		},
		{
			name:     "att insufficient encryption",
			err:      errors.New("ATT error 0x0f: insufficient encryption"),
			bondLost: true,
		},
		{
			name:     "smp authentication failure",
			err:      errors.New("pairing: authentication failure"),
			bondLost: true,
		},
		{
			name:     "plain radio failure",
			err:      errors.New("le connection timeout"),
			bondLost: false,
		},
		{
			name:     "service missing",
			err:      errors.New("no services found"),
			bondLost: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStackErr("discover services", tt.err)
			if errors.Is(got, ErrBondLost) != tt.bondLost {
				t.Errorf("classifyStackErr(%v) bond-lost = %v, want %v (err: %v)",
					tt.err, !tt.bondLost, tt.bondLost, got)
			}
		})
	}
}

func TestClassifyStackErrKeepsOriginalMessage(t *testing.T) {
	orig := errors.New("ATT error 0x05: insufficient authentication")
	got := classifyStackErr("discover characteristics", orig)

	if !errors.Is(got, ErrBondLost) {
		t.Fatalf("classifyStackErr() = %v, want ErrBondLost", got)
	}
	want := fmt.Sprintf("ble: discover characteristics: %v: %v", orig, ErrBondLost)
	if got.Error() != want {
		t.Errorf("error text = %q, want %q", got.Error(), want)
	}
}
