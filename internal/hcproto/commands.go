package hcproto

import "fmt"

// Mode is the controller operating mode as encoded on the wire.
type Mode byte

const (
	ModeHeat    Mode = 1
	ModeCool    Mode = 2
	ModeFanOnly Mode = 3
	ModeDry     Mode = 4
	ModeAuto    Mode = 5
)

func (m Mode) Valid() bool { return m >= ModeHeat && m <= ModeAuto }

func (m Mode) String() string {
	switch m {
	case ModeHeat:
		return "heat"
	case ModeCool:
		return "cool"
	case ModeFanOnly:
		return "fan_only"
	case ModeDry:
		return "dry"
	case ModeAuto:
		return "auto"
	}
	return fmt.Sprintf("mode(%d)", byte(m))
}

// ParseMode maps a mode name to its wire value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "heat":
		return ModeHeat, nil
	case "cool":
		return ModeCool, nil
	case "fan_only":
		return ModeFanOnly, nil
	case "dry":
		return ModeDry, nil
	case "auto":
		return ModeAuto, nil
	}
	return 0, fmt.Errorf("hcproto: unknown mode %q", s)
}

// FanSpeed is the fan setting as encoded on the wire.
type FanSpeed byte

const (
	FanAuto   FanSpeed = 2
	FanHigh   FanSpeed = 3
	FanMedium FanSpeed = 4
	FanLow    FanSpeed = 5
)

func (f FanSpeed) Valid() bool { return f >= FanAuto && f <= FanLow }

func (f FanSpeed) String() string {
	switch f {
	case FanAuto:
		return "auto"
	case FanHigh:
		return "high"
	case FanMedium:
		return "medium"
	case FanLow:
		return "low"
	}
	return fmt.Sprintf("fan(%d)", byte(f))
}

// ParseFanSpeed maps a fan speed name to its wire value.
func ParseFanSpeed(s string) (FanSpeed, error) {
	switch s {
	case "auto":
		return FanAuto, nil
	case "high":
		return FanHigh, nil
	case "medium":
		return FanMedium, nil
	case "low":
		return FanLow, nil
	}
	return 0, fmt.Errorf("hcproto: unknown fan speed %q", s)
}

// Temperature limits supported by the controller, in half-degree steps.
const (
	MinTemp = 16.0
	MaxTemp = 32.0
)

// encodeTemp converts degrees Celsius to the controller's fixed-point byte.
func encodeTemp(t float64) byte { return byte(t*2 + 70) }

// decodeTemp is the inverse of encodeTemp.
func decodeTemp(b byte) float64 { return (float64(b) - 70) / 2 }

// ValidTemp reports whether t is inside the supported range and on a
// half-degree step.
func ValidTemp(t float64) bool {
	if t < MinTemp || t > MaxTemp {
		return false
	}
	doubled := t * 2
	return doubled == float64(int(doubled))
}

func setParcel(pkt Packet) Parcel {
	return Parcel{Src: App, Dst: IndoorUnit, Op: OpSet, Packets: []Packet{pkt}}
}

// EncodeSetPower builds the frame that switches the unit on or off.
// The wire encodes off as 2 and on as 3.
func EncodeSetPower(on bool) []byte {
	state := byte(2)
	if on {
		state = 3
	}
	return setParcel(Packet{Type: PacketSetPower, Data: []byte{state}}).Encode()
}

// EncodeSetMode builds the frame selecting an operating mode.
func EncodeSetMode(m Mode) ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("hcproto: invalid mode %d", byte(m))
	}
	return setParcel(Packet{Type: PacketSetMode, Data: []byte{byte(m)}}).Encode(), nil
}

// EncodeSetTemperature builds the frame setting the target temperature.
func EncodeSetTemperature(t float64) ([]byte, error) {
	if !ValidTemp(t) {
		return nil, fmt.Errorf("hcproto: temperature %.1f out of range %.0f-%.0f (0.5 steps)", t, MinTemp, MaxTemp)
	}
	return setParcel(Packet{Type: PacketSetTemp, Data: []byte{9, 0, encodeTemp(t), 0}}).Encode(), nil
}

// EncodeSetFanSpeed builds the frame selecting a fan speed.
func EncodeSetFanSpeed(f FanSpeed) ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("hcproto: invalid fan speed %d", byte(f))
	}
	return setParcel(Packet{Type: PacketSetFanSpeed, Data: []byte{byte(f)}}).Encode(), nil
}

// EncodeSetPowersave builds the frame toggling powersave mode.
func EncodeSetPowersave(on bool) []byte {
	state := byte(0)
	if on {
		state = 1
	}
	return setParcel(Packet{Type: PacketSetPowersave, Data: []byte{state}}).Encode()
}

// StatusRequest builds the frame asking the indoor unit for a full status
// report. The payload selects the standard 14-field report.
func StatusRequest() []byte {
	p := Parcel{
		Src: App, Dst: IndoorUnit, Op: OpRequest,
		Packets: []Packet{{Type: PacketStatus, Data: []byte{4, 0, 14}}},
	}
	return p.Encode()
}

// EnergyRequest builds the frame asking for hourly energy samples gathered
// since the controller last reported.
func EnergyRequest() []byte {
	p := Parcel{
		Src: App, Dst: IndoorUnit, Op: OpRequest,
		Packets: []Packet{{Type: PacketEnergy, Data: []byte{0}}},
	}
	return p.Encode()
}
