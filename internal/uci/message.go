// Package uci implements the wire types and TLV parameter encoding shared
// by the session manager (internal/session) and the HAL binding (internal/halio)
// for talking to the UCI HAL: the command/response/notification header,
// the Params TLV builder, and the SESSION_INIT / RANGE_START / RANGE_STOP /
// SESSION_DEINIT / RANGE_DATA_NTF message shapes.
package uci

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed UCI packet header size in bytes: MT/PBF/GID,
// OID/RFU, RFU, and payload length.
const HeaderSize = 4

// MessageType is the 3-bit message type field (octet 0, bits 5-7).
type MessageType uint8

const (
	MessageTypeData         MessageType = 0x00
	MessageTypeCommand      MessageType = 0x01
	MessageTypeResponse     MessageType = 0x02
	MessageTypeNotification MessageType = 0x03
)

func (mt MessageType) String() string {
	switch mt {
	case MessageTypeData:
		return "DATA"
	case MessageTypeCommand:
		return "CMD"
	case MessageTypeResponse:
		return "RSP"
	case MessageTypeNotification:
		return "NTF"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(mt))
	}
}

// GroupID is the 4-bit group identifier (octet 0, bits 0-3).
type GroupID uint8

const (
	GroupCore             GroupID = 0x0
	GroupSessionConfig    GroupID = 0x1
	GroupSessionControl   GroupID = 0x2
	GroupAndroidVendor    GroupID = 0xC
)

// OpcodeID is the 6-bit opcode identifier (octet 1, bits 0-5).
type OpcodeID uint8

const (
	OpcodeSessionInit       OpcodeID = 0x00
	OpcodeSessionDeinit     OpcodeID = 0x01
	OpcodeSessionStatusNtf  OpcodeID = 0x02
	OpcodeSessionSetAppCfg  OpcodeID = 0x03
	OpcodeRangeStart        OpcodeID = 0x00
	OpcodeRangeStop         OpcodeID = 0x01
	OpcodeRangeDataNtf      OpcodeID = 0x00
)

// ErrShortPacket indicates a buffer shorter than HeaderSize, or a payload
// shorter than the header's declared length.
var ErrShortPacket = errors.New("uci: packet shorter than declared length")

// Header is the 4-byte UCI packet header.
type Header struct {
	MT            MessageType
	PBF           bool // packet-boundary-flag: more packets follow in this message
	GID           GroupID
	OID           OpcodeID
	PayloadLength uint8
}

// Marshal encodes the header into a 4-byte slice.
func (h Header) Marshal() []byte {
	out := make([]byte, HeaderSize)
	b0 := byte(h.MT) << 5
	if h.PBF {
		b0 |= 1 << 4
	}
	b0 |= byte(h.GID) & 0x0F
	out[0] = b0
	out[1] = byte(h.OID) & 0x3F
	out[2] = 0
	out[3] = h.PayloadLength
	return out
}

// Message is a fully decoded UCI packet: header plus payload bytes.
type Message struct {
	Header  Header
	Payload []byte
}

// Marshal encodes the message as header followed by payload.
func (m Message) Marshal() []byte {
	h := m.Header
	h.PayloadLength = uint8(len(m.Payload))
	out := make([]byte, 0, HeaderSize+len(m.Payload))
	out = append(out, h.Marshal()...)
	out = append(out, m.Payload...)
	return out
}

// UnmarshalMessage decodes a UCI packet from raw bytes.
func UnmarshalMessage(raw []byte) (Message, error) {
	if len(raw) < HeaderSize {
		return Message{}, fmt.Errorf("uci: header: %w", ErrShortPacket)
	}
	b0 := raw[0]
	h := Header{
		MT:  MessageType(b0 >> 5),
		PBF: b0&(1<<4) != 0,
		GID: GroupID(b0 & 0x0F),
		OID: OpcodeID(raw[1] & 0x3F),
	}
	h.PayloadLength = raw[3]
	end := HeaderSize + int(h.PayloadLength)
	if len(raw) < end {
		return Message{}, fmt.Errorf("uci: payload: %w", ErrShortPacket)
	}
	return Message{Header: h, Payload: append([]byte(nil), raw[HeaderSize:end]...)}, nil
}

// StatusCode is the one-byte UCI status code carried in most response and
// notification payloads.
type StatusCode uint8

const (
	StatusOK                         StatusCode = 0x00
	StatusRejected                   StatusCode = 0x01
	StatusFailed                     StatusCode = 0x02
	StatusErrorSessionNotExist       StatusCode = 0x11
	StatusErrorMaxSessionsExceeded   StatusCode = 0x13
	StatusErrorSessionActive         StatusCode = 0x1A
)

func (s StatusCode) Success() bool { return s == StatusOK }

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusRejected:
		return "REJECTED"
	case StatusFailed:
		return "FAILED"
	case StatusErrorSessionNotExist:
		return "SESSION_NOT_EXIST"
	case StatusErrorMaxSessionsExceeded:
		return "MAX_SESSIONS_EXCEEDED"
	case StatusErrorSessionActive:
		return "SESSION_ACTIVE"
	default:
		return fmt.Sprintf("StatusCode(%#02x)", uint8(s))
	}
}

// be16/le16 helpers shared by the session-state and ranging codecs.
func be16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
