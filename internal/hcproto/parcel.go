package hcproto

// Component addresses a unit on the controller's internal bus.
type Component byte

const (
	IndoorUnit  Component = 0x01
	OutdoorUnit Component = 0x09
	AllUnits    Component = 0xF7
	App         Component = 0xF9
	BLEModule   Component = 0xFE
)

// Operation is the parcel-level verb.
type Operation byte

const (
	OpSet             Operation = 0
	OpSetResponse     Operation = 1
	OpRequest         Operation = 2
	OpRequestResponse Operation = 3
	OpNotify          Operation = 4
)

// Packet types carried inside parcels. Set* types double as the target
// field identifier when the controller acknowledges a command.
const (
	PacketSetPower     byte = 0x41
	PacketSetMode      byte = 0x42
	PacketSetFanSpeed  byte = 0x46
	PacketSetTemp      byte = 0x4C
	PacketSetPowersave byte = 0x54
	PacketStatus       byte = 0x81
	PacketOutdoorTemp  byte = 0x21
	PacketEnergy       byte = 0xA1
)

const parcelMagic = 0x11

// Packet is a single type-length-value entry inside a parcel.
type Packet struct {
	Type byte
	Data []byte
}

// Parcel is one framed message exchanged over a GATT characteristic.
type Parcel struct {
	Src     Component
	Dst     Component
	Op      Operation
	Packets []Packet
}

// Encode serializes and obfuscates the parcel for transmission.
func (p Parcel) Encode() []byte {
	buf := []byte{parcelMagic, byte(p.Src), byte(p.Dst), byte(p.Op), byte(len(p.Packets))}
	for _, pkt := range p.Packets {
		buf = append(buf, pkt.Type, byte(len(pkt.Data)))
		buf = append(buf, pkt.Data...)
	}
	buf = append(buf, 0x00) // checksum placeholder
	return obfuscate(buf)
}

// ParseParcel deobfuscates and parses raw notification bytes. Structural
// problems of any kind yield ErrMalformed.
func ParseParcel(data []byte) (Parcel, error) {
	plain, err := deobfuscate(data)
	if err != nil {
		return Parcel{}, err
	}
	if len(plain) < 6 || plain[0] != parcelMagic {
		return Parcel{}, ErrMalformed
	}

	p := Parcel{
		Src: Component(plain[1]),
		Dst: Component(plain[2]),
		Op:  Operation(plain[3]),
	}
	n := int(plain[4])
	rest := plain[5 : len(plain)-1] // exclude checksum byte

	for i := 0; i < n; i++ {
		if len(rest) < 2 {
			return Parcel{}, ErrMalformed
		}
		ptype, plen := rest[0], int(rest[1])
		rest = rest[2:]
		if len(rest) < plen {
			return Parcel{}, ErrMalformed
		}
		pdata := make([]byte, plen)
		copy(pdata, rest[:plen])
		rest = rest[plen:]
		p.Packets = append(p.Packets, Packet{Type: ptype, Data: pdata})
	}
	if len(rest) != 0 {
		return Parcel{}, ErrMalformed
	}
	return p, nil
}
