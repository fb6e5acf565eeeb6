// Package connector implements the FiRa Connector data-packet and
// message layering, with chaining/reassembly by secure-component id,
// over a pluggable transport -- BLE GATT being the only transport this
// package implements.
package connector

import (
	"errors"
	"fmt"
)

// ErrInvalidSECID indicates a SECID outside the valid [2, 127] range;
// 0 and 1 are reserved.
var ErrInvalidSECID = errors.New("connector: secid must be in [2, 127]")

// minSECID and maxSECID bound the valid secure-component id range; 0
// and 1 are reserved.
const (
	minSECID = 2
	maxSECID = 127

	lastBit = 1 << 7
)

// DataPacket is one framed unit of the connector wire format: a header
// byte encoding the last-chaining-bit and SECID, followed by a chunk of
// message payload.
type DataPacket struct {
	Last  bool
	SECID byte
	Chunk []byte
}

// ValidateSECID rejects a SECID outside [2, 127].
func ValidateSECID(secid byte) error {
	if secid < minSECID || secid > maxSECID {
		return fmt.Errorf("%w: got %d", ErrInvalidSECID, secid)
	}
	return nil
}

// Encode serializes the packet as header-byte + chunk.
func (p DataPacket) Encode() []byte {
	header := p.SECID & 0x7f
	if p.Last {
		header |= lastBit
	}
	out := make([]byte, 1+len(p.Chunk))
	out[0] = header
	copy(out[1:], p.Chunk)
	return out
}

// ErrPacketTooShort indicates a buffer had no header byte.
var ErrPacketTooShort = errors.New("connector: data packet shorter than one header byte")

// DecodeDataPacket parses a header byte plus chunk from raw.
func DecodeDataPacket(raw []byte) (DataPacket, error) {
	if len(raw) < 1 {
		return DataPacket{}, ErrPacketTooShort
	}
	header := raw[0]
	return DataPacket{
		Last:  header&lastBit != 0,
		SECID: header & 0x7f,
		Chunk: append([]byte(nil), raw[1:]...),
	}, nil
}
