package connector

import "errors"

// Type is the connector message's top-level category, packed into the
// top two bits of the message header byte.
type Type byte

const (
	TypeCommand  Type = 0x1
	TypeResponse Type = 0x2
	TypeEvent    Type = 0x3
)

// Instruction identifies what a message does within its Type, packed
// into the low nibble of the message header byte.
type Instruction byte

const (
	InstructionCapabilitiesExchange Instruction = 0x1
	InstructionDataExchange         Instruction = 0x2
)

// Message is one connector-level payload: a type, an instruction, and a
// byte payload. Its wire encoding is one header byte (type in bits 7-6,
// 2 reserved bits in bits 5-4, instruction in the low nibble) followed
// by the payload verbatim.
type Message struct {
	Type        Type
	Instruction Instruction
	Payload     []byte
}

// ErrMessageTooShort indicates a buffer had no header byte.
var ErrMessageTooShort = errors.New("connector: message shorter than one header byte")

// Encode serializes the message to its wire form.
func (m Message) Encode() []byte {
	header := byte(m.Type)<<6 | byte(m.Instruction)&0x0f
	out := make([]byte, 1+len(m.Payload))
	out[0] = header
	copy(out[1:], m.Payload)
	return out
}

// DecodeMessage parses a message from its wire form.
func DecodeMessage(raw []byte) (Message, error) {
	if len(raw) < 1 {
		return Message{}, ErrMessageTooShort
	}
	header := raw[0]
	return Message{
		Type:        Type(header >> 6),
		Instruction: Instruction(header & 0x0f),
		Payload:     append([]byte(nil), raw[1:]...),
	}, nil
}
