package hcproto

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// The decoder faces whatever the radio delivers, so it gets hammered with
// random and mutated frames. It must never panic: garbage decodes to
// ErrMalformed, and bit-flipped real frames either fail the checksum or
// still parse into well-formed events.

func fuzzRounds() int {
	if env := os.Getenv("FUZZ_ROUNDS"); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			return n
		}
	}
	return 2000
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if env := os.Getenv("FUZZ_SEED"); env != "" {
		if s, err := strconv.ParseInt(env, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func TestDecodeRandomBytesNeverPanics(t *testing.T) {
	rng := newFuzzRng(t)

	for i := 0; i < fuzzRounds(); i++ {
		data := make([]byte, rng.Intn(40))
		rng.Read(data)
		// Either outcome is acceptable; panics are not.
		_, _ = DecodeNotification(data)
	}
}

func TestDecodeMutatedStatusFrames(t *testing.T) {
	rng := newFuzzRng(t)
	base := StatusNotification(StatusUpdate{
		Power: true, Mode: ModeHeat, TargetTemp: 21, FanSpeed: FanMedium,
		CurrentTemp: 19.5, HasCurrentTemp: true,
	})

	for i := 0; i < fuzzRounds(); i++ {
		frame := make([]byte, len(base))
		copy(frame, base)

		// Flip 1-4 random bits.
		for n := 1 + rng.Intn(4); n > 0; n-- {
			frame[rng.Intn(len(frame))] ^= 1 << uint(rng.Intn(8))
		}

		events, err := DecodeNotification(frame)
		if err != nil {
			continue
		}
		// A mutation that survives the checksum must still produce
		// structurally sane events.
		for _, ev := range events {
			if s, ok := ev.(StatusUpdate); ok {
				if !s.Mode.Valid() || !s.FanSpeed.Valid() {
					t.Fatalf("decoded invalid status %+v from mutated frame %x", s, frame)
				}
			}
		}
	}
}

func TestDecodeRandomParcels(t *testing.T) {
	rng := newFuzzRng(t)

	for i := 0; i < fuzzRounds(); i++ {
		p := Parcel{
			Src: Component(rng.Intn(256)),
			Dst: Component(rng.Intn(256)),
			Op:  Operation(rng.Intn(5)),
		}
		for n := rng.Intn(4); n > 0; n-- {
			data := make([]byte, rng.Intn(20))
			rng.Read(data)
			p.Packets = append(p.Packets, Packet{Type: byte(rng.Intn(256)), Data: data})
		}

		// Well-framed parcels with arbitrary content must decode to events
		// or ErrMalformed, never panic. Unknown types must not error.
		_, _ = DecodeNotification(p.Encode())
	}
}
