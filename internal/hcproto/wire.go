// Package hcproto implements the binary frame codec for Panasonic H&C
// wired remote controllers. It is pure: encoding and decoding operate on
// byte slices only, and every field mapping (temperature fixed-point, mode
// and fan enums) lives here and nowhere else.
//
// Wire format (v1, validated against captured controller traffic):
//
//	parcel := 0x11 src dst op n (ptype plen pdata)*n cksum
//
// The whole parcel is obfuscated before transmission: the first byte is
// XORed with 0xCA, every following byte is XOR-chained with its predecessor,
// and finally every byte is XORed with 0x69. The last byte carries an
// additive 8-bit checksum over parcel[1:len-1], computed before obfuscation.
package hcproto

import "errors"

// ErrMalformed is returned for frames that fail structural validation:
// bad checksum, truncation, or a broken packet length field. Callers are
// expected to count and drop such frames, not tear down the connection.
var ErrMalformed = errors.New("hcproto: malformed frame")

const (
	obfuscateFirst = 0xCA
	obfuscateAll   = 0x69
)

// checksum is the additive 8-bit checksum over the parcel body.
func checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return sum
}

// obfuscate seals a plain parcel for transmission. The last byte of data is
// overwritten with the checksum. data must be at least 3 bytes.
func obfuscate(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	out[len(out)-1] = checksum(out[1 : len(out)-1])

	out[0] ^= obfuscateFirst
	for i := 1; i < len(out); i++ {
		out[i] ^= out[i-1]
	}
	for i := range out {
		out[i] ^= obfuscateAll
	}
	return out
}

// deobfuscate reverses obfuscate and verifies the checksum.
func deobfuscate(data []byte) ([]byte, error) {
	if len(data) < 3 {
		return nil, ErrMalformed
	}
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ obfuscateAll
	}
	for i := len(out) - 1; i > 0; i-- {
		out[i] ^= out[i-1]
	}
	out[0] ^= obfuscateFirst

	if checksum(out[1:len(out)-1]) != out[len(out)-1] {
		return nil, ErrMalformed
	}
	return out, nil
}
