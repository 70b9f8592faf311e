package hcproto

import (
	"errors"
	"testing"
	"time"
)

func TestStatusRoundTrip(t *testing.T) {
	modes := []Mode{ModeHeat, ModeCool, ModeFanOnly, ModeDry, ModeAuto}
	fans := []FanSpeed{FanAuto, FanHigh, FanMedium, FanLow}
	temps := []float64{16.0, 20.5, 22.0, 32.0}

	for _, power := range []bool{false, true} {
		for _, powersave := range []bool{false, true} {
			for _, mode := range modes {
				for _, fan := range fans {
					for _, temp := range temps {
						in := StatusUpdate{
							Power:          power,
							Mode:           mode,
							TargetTemp:     temp,
							FanSpeed:       fan,
							Powersave:      powersave,
							CurrentTemp:    21.5,
							HasCurrentTemp: true,
						}
						events, err := DecodeNotification(StatusNotification(in))
						if err != nil {
							t.Fatalf("DecodeNotification() error = %v for %+v", err, in)
						}
						if len(events) != 1 {
							t.Fatalf("got %d events, want 1", len(events))
						}
						out, ok := events[0].(StatusUpdate)
						if !ok {
							t.Fatalf("event = %T, want StatusUpdate", events[0])
						}
						if out != in {
							t.Errorf("round trip = %+v, want %+v", out, in)
						}
					}
				}
			}
		}
	}
}

func TestStatusWithoutCurrentTemp(t *testing.T) {
	in := StatusUpdate{Power: true, Mode: ModeCool, TargetTemp: 24, FanSpeed: FanAuto}
	events, err := DecodeNotification(StatusNotification(in))
	if err != nil {
		t.Fatalf("DecodeNotification() error = %v", err)
	}
	out := events[0].(StatusUpdate)
	if out.HasCurrentTemp {
		t.Error("HasCurrentTemp = true for short status payload")
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestEnergyRoundTrip(t *testing.T) {
	hour := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	events, err := DecodeNotification(EnergyNotification(hour, 420))
	if err != nil {
		t.Fatalf("DecodeNotification() error = %v", err)
	}
	tick, ok := events[0].(EnergyTick)
	if !ok {
		t.Fatalf("event = %T, want EnergyTick", events[0])
	}
	if !tick.HourStart.Equal(hour) || tick.EnergyWh != 420 {
		t.Errorf("tick = %+v, want hour %v wh 420", tick, hour)
	}
}

func TestAckNackDecode(t *testing.T) {
	events, err := DecodeNotification(SetResponse(PacketSetTemp, 0))
	if err != nil {
		t.Fatalf("DecodeNotification(ack) error = %v", err)
	}
	if ack, ok := events[0].(CommandAck); !ok || ack.Field != PacketSetTemp {
		t.Errorf("event = %#v, want CommandAck{Field: PacketSetTemp}", events[0])
	}

	events, err = DecodeNotification(SetResponse(PacketSetMode, 7))
	if err != nil {
		t.Fatalf("DecodeNotification(nack) error = %v", err)
	}
	if nack, ok := events[0].(CommandNack); !ok || nack.Field != PacketSetMode || nack.Reason != 7 {
		t.Errorf("event = %#v, want CommandNack{Field: PacketSetMode, Reason: 7}", events[0])
	}
}

func TestUnknownPacketType(t *testing.T) {
	p := Parcel{
		Src: IndoorUnit, Dst: App, Op: OpNotify,
		Packets: []Packet{{Type: 0x77, Data: []byte{1, 2, 3}}},
	}
	events, err := DecodeNotification(p.Encode())
	if err != nil {
		t.Fatalf("DecodeNotification() error = %v", err)
	}
	unk, ok := events[0].(Unknown)
	if !ok {
		t.Fatalf("event = %T, want Unknown", events[0])
	}
	if unk.Type != 0x77 || len(unk.Data) != 3 {
		t.Errorf("Unknown = %+v", unk)
	}
}

func TestOutdoorTempDecode(t *testing.T) {
	p := Parcel{
		Src: OutdoorUnit, Dst: App, Op: OpNotify,
		Packets: []Packet{{Type: PacketOutdoorTemp, Data: []byte{0, 185}}},
	}
	events, err := DecodeNotification(p.Encode())
	if err != nil {
		t.Fatalf("DecodeNotification() error = %v", err)
	}
	ot, ok := events[0].(OutdoorTemp)
	if !ok {
		t.Fatalf("event = %T, want OutdoorTemp", events[0])
	}
	if ot.Temp != 18.5 {
		t.Errorf("OutdoorTemp = %.1f, want 18.5", ot.Temp)
	}
}

func TestMalformedStatusRejected(t *testing.T) {
	p := Parcel{
		Src: IndoorUnit, Dst: App, Op: OpNotify,
		Packets: []Packet{{Type: PacketStatus, Data: []byte{1, 2, 3}}}, // far too short
	}
	_, err := DecodeNotification(p.Encode())
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeNotification() error = %v, want ErrMalformed", err)
	}
}

func TestTemperatureMapping(t *testing.T) {
	cases := []struct {
		temp float64
		b    byte
	}{
		{16.0, 102},
		{20.0, 110},
		{22.5, 115},
		{32.0, 134},
	}
	for _, c := range cases {
		if got := encodeTemp(c.temp); got != c.b {
			t.Errorf("encodeTemp(%.1f) = %d, want %d", c.temp, got, c.b)
		}
		if got := decodeTemp(c.b); got != c.temp {
			t.Errorf("decodeTemp(%d) = %.1f, want %.1f", c.b, got, c.temp)
		}
	}
}

func TestValidTemp(t *testing.T) {
	for _, temp := range []float64{16, 22.5, 32} {
		if !ValidTemp(temp) {
			t.Errorf("ValidTemp(%.2f) = false, want true", temp)
		}
	}
	for _, temp := range []float64{15.5, 32.5, 22.3, -5} {
		if ValidTemp(temp) {
			t.Errorf("ValidTemp(%.2f) = true, want false", temp)
		}
	}
}

func TestEncodeSetTemperatureRejectsInvalid(t *testing.T) {
	if _, err := EncodeSetTemperature(14.0); err == nil {
		t.Error("EncodeSetTemperature(14.0) expected error")
	}
	if _, err := EncodeSetTemperature(22.3); err == nil {
		t.Error("EncodeSetTemperature(22.3) expected error")
	}
}

func TestCommandFramesDecodeOnDevice(t *testing.T) {
	// Every command encoder must produce a structurally valid parcel that
	// the shared parser accepts (the controller uses the same framing).
	frames := map[string][]byte{
		"power on":   EncodeSetPower(true),
		"power off":  EncodeSetPower(false),
		"powersave":  EncodeSetPowersave(true),
		"status req": StatusRequest(),
		"energy req": EnergyRequest(),
	}
	if f, err := EncodeSetMode(ModeDry); err == nil {
		frames["set mode"] = f
	} else {
		t.Errorf("EncodeSetMode() error = %v", err)
	}
	if f, err := EncodeSetTemperature(21.5); err == nil {
		frames["set temp"] = f
	} else {
		t.Errorf("EncodeSetTemperature() error = %v", err)
	}
	if f, err := EncodeSetFanSpeed(FanLow); err == nil {
		frames["set fan"] = f
	} else {
		t.Errorf("EncodeSetFanSpeed() error = %v", err)
	}

	for name, frame := range frames {
		p, err := ParseParcel(frame)
		if err != nil {
			t.Errorf("%s: ParseParcel() error = %v", name, err)
			continue
		}
		if p.Src != App {
			t.Errorf("%s: src = %v, want App", name, p.Src)
		}
	}
}
