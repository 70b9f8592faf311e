package hcproto

import (
	"encoding/binary"
	"time"
)

// Event is a decoded notification. Exactly one of the concrete types below.
type Event interface{ isEvent() }

// StatusUpdate carries a full status report from the indoor unit.
type StatusUpdate struct {
	Power          bool
	Mode           Mode
	TargetTemp     float64
	FanSpeed       FanSpeed
	Powersave      bool
	CurrentTemp    float64
	HasCurrentTemp bool
}

// EnergyTick carries one hourly energy sample.
type EnergyTick struct {
	HourStart time.Time
	EnergyWh  int
}

// CommandAck confirms a previously written Set command. The wire carries no
// command id; commands are correlated by their target field (packet type).
type CommandAck struct {
	Field byte
}

// CommandNack is a device-level rejection of a Set command.
type CommandNack struct {
	Field  byte
	Reason byte
}

// OutdoorTemp carries the outdoor unit temperature reading.
type OutdoorTemp struct {
	Temp float64
}

// Unknown is emitted for packet types this codec version does not know,
// so newer firmware does not break decoding of the rest of the parcel.
type Unknown struct {
	Type byte
	Data []byte
}

func (StatusUpdate) isEvent() {}
func (EnergyTick) isEvent()   {}
func (CommandAck) isEvent()   {}
func (CommandNack) isEvent()  {}
func (OutdoorTemp) isEvent()  {}
func (Unknown) isEvent()      {}

// Minimum status payload length: power/mode, fan, target temp and the
// powersave byte at len-6 must all be addressable.
const minStatusLen = 11

// DecodeNotification parses raw notification bytes into events. A parcel may
// carry several packets; each becomes one event. Structural damage anywhere
// in the frame yields ErrMalformed and no events.
func DecodeNotification(data []byte) ([]Event, error) {
	parcel, err := ParseParcel(data)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(parcel.Packets))
	for _, pkt := range parcel.Packets {
		if parcel.Op == OpSetResponse {
			events = append(events, decodeSetResponse(pkt))
			continue
		}
		switch pkt.Type {
		case PacketStatus:
			ev, err := decodeStatus(pkt.Data)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		case PacketEnergy:
			ev, err := decodeEnergy(pkt.Data)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		case PacketOutdoorTemp:
			if len(pkt.Data) < 2 {
				return nil, ErrMalformed
			}
			events = append(events, OutdoorTemp{Temp: float64(pkt.Data[1]) / 10})
		default:
			events = append(events, Unknown{Type: pkt.Type, Data: pkt.Data})
		}
	}
	return events, nil
}

func decodeSetResponse(pkt Packet) Event {
	if len(pkt.Data) > 0 && pkt.Data[0] != 0 {
		return CommandNack{Field: pkt.Type, Reason: pkt.Data[0]}
	}
	return CommandAck{Field: pkt.Type}
}

func decodeStatus(data []byte) (StatusUpdate, error) {
	if len(data) < minStatusLen {
		return StatusUpdate{}, ErrMalformed
	}
	ev := StatusUpdate{
		Power:      data[0]&1 == 1,
		Mode:       Mode((data[0] >> 5) & 7),
		FanSpeed:   FanSpeed((data[1] >> 5) & 7),
		TargetTemp: decodeTemp(data[4]),
		Powersave:  data[len(data)-6] != 0,
	}
	if !ev.Mode.Valid() || !ev.FanSpeed.Valid() {
		return StatusUpdate{}, ErrMalformed
	}
	if len(data) > 12 {
		ev.CurrentTemp = decodeTemp(data[5])
		ev.HasCurrentTemp = true
	}
	return ev, nil
}

func decodeEnergy(data []byte) (EnergyTick, error) {
	if len(data) != 6 {
		return EnergyTick{}, ErrMalformed
	}
	sec := binary.BigEndian.Uint32(data[0:4])
	wh := binary.BigEndian.Uint16(data[4:6])
	return EnergyTick{
		HourStart: time.Unix(int64(sec), 0).UTC().Truncate(time.Hour),
		EnergyWh:  int(wh),
	}, nil
}

// StatusNotification encodes a status report the way the indoor unit does.
// Used to exercise the decode path against synthetic frames.
func StatusNotification(s StatusUpdate) []byte {
	size := 12
	if s.HasCurrentTemp {
		size = 13
	}
	data := make([]byte, size)
	if s.Power {
		data[0] |= 1
	}
	data[0] |= byte(s.Mode) << 5
	data[1] = byte(s.FanSpeed) << 5
	data[4] = encodeTemp(s.TargetTemp)
	if s.HasCurrentTemp {
		data[5] = encodeTemp(s.CurrentTemp)
	}
	if s.Powersave {
		data[len(data)-6] = 1
	}
	p := Parcel{
		Src: IndoorUnit, Dst: App, Op: OpNotify,
		Packets: []Packet{{Type: PacketStatus, Data: data}},
	}
	return p.Encode()
}

// EnergyNotification encodes an hourly energy sample notification.
func EnergyNotification(hourStart time.Time, energyWh int) []byte {
	data := make([]byte, 6)
	binary.BigEndian.PutUint32(data[0:4], uint32(hourStart.Truncate(time.Hour).Unix()))
	binary.BigEndian.PutUint16(data[4:6], uint16(energyWh))
	p := Parcel{
		Src: IndoorUnit, Dst: App, Op: OpNotify,
		Packets: []Packet{{Type: PacketEnergy, Data: data}},
	}
	return p.Encode()
}

// SetResponse encodes the controller's acknowledgement (reason 0) or
// rejection (reason != 0) of a Set command targeting field.
func SetResponse(field byte, reason byte) []byte {
	p := Parcel{
		Src: IndoorUnit, Dst: App, Op: OpSetResponse,
		Packets: []Packet{{Type: field, Data: []byte{reason}}},
	}
	return p.Encode()
}
