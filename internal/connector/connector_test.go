package connector

import (
	"bytes"
	"errors"
	"testing"
)

func TestDataPacketHeaderEncoding(t *testing.T) {
	pkt := DataPacket{Last: true, SECID: 2, Chunk: []byte{0xaa, 0xbb}}
	encoded := pkt.Encode()
	if encoded[0] != 0x82 {
		t.Fatalf("expected header 0x82 (last|secid=2), got %#x", encoded[0])
	}

	decoded, err := DecodeDataPacket(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Last || decoded.SECID != 2 || !bytes.Equal(decoded.Chunk, pkt.Chunk) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestMessageHeaderEncoding(t *testing.T) {
	msg := Message{Type: TypeCommand, Instruction: InstructionDataExchange, Payload: []byte{0xaa}}
	encoded := msg.Encode()
	if encoded[0] != 0x42 {
		t.Fatalf("expected header 0x42 (type=1<<6|instruction=2), got %#x", encoded[0])
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Type != TypeCommand || decoded.Instruction != InstructionDataExchange || !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestValidateSECIDRejectsReservedValues(t *testing.T) {
	if err := ValidateSECID(0); !errors.Is(err, ErrInvalidSECID) {
		t.Fatal("secid 0 must be rejected")
	}
	if err := ValidateSECID(1); !errors.Is(err, ErrInvalidSECID) {
		t.Fatal("secid 1 must be rejected")
	}
	if err := ValidateSECID(2); err != nil {
		t.Fatalf("secid 2 must be accepted: %v", err)
	}
	if err := ValidateSECID(127); err != nil {
		t.Fatalf("secid 127 must be accepted: %v", err)
	}
	if err := ValidateSECID(128); !errors.Is(err, ErrInvalidSECID) {
		t.Fatal("secid 128 must be rejected")
	}
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeEvent, Instruction: InstructionDataExchange, Payload: []byte("hello")}
	decoded, err := DecodeMessage(msg.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Type != msg.Type || decoded.Instruction != msg.Instruction || !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

// TestThreePacketMessageFraming reproduces the framing scenario: a
// 51-byte EVENT/DATA_EXCHANGE message over optimizedDataPacketSize=21,
// maxMessageBufferSize=265 must split into packets of size 21, 21, 13,
// with last=false, false, true and SECID=2 throughout.
func TestThreePacketMessageFraming(t *testing.T) {
	msg := Message{Type: TypeEvent, Instruction: InstructionDataExchange, Payload: bytes.Repeat([]byte{0x03}, 51)}
	caps := Capabilities{OptimizedDataPacketSize: 21, MaxMessageBufferSize: 265}

	packets, err := Split(2, msg, caps)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(packets))
	}

	wantSizes := []int{21, 21, 13}
	wantLast := []bool{false, false, true}
	for i, pkt := range packets {
		if pkt.SECID != 2 {
			t.Fatalf("packet %d: expected secid 2, got %d", i, pkt.SECID)
		}
		if pkt.Last != wantLast[i] {
			t.Fatalf("packet %d: expected last=%v, got %v", i, wantLast[i], pkt.Last)
		}
		if got := len(pkt.Encode()); got != wantSizes[i] {
			t.Fatalf("packet %d: expected encoded size %d, got %d", i, wantSizes[i], got)
		}
	}

	// Reverse framing: feeding the three packets back in must yield
	// exactly one decoded message with the original 51-byte payload.
	reassembler := NewReassembler()
	var got Message
	completions := 0
	for _, pkt := range packets {
		msg, complete, err := reassembler.Feed(2, pkt)
		if err != nil {
			t.Fatal(err)
		}
		if complete {
			completions++
			got = msg
		}
	}
	if completions != 1 {
		t.Fatalf("expected exactly one completed message, got %d", completions)
	}
	if !bytes.Equal(got.Payload, bytes.Repeat([]byte{0x03}, 51)) {
		t.Fatalf("reassembled payload mismatch, got %d bytes", len(got.Payload))
	}
}

func TestSplitRejectsOversizeMessage(t *testing.T) {
	msg := Message{Type: TypeEvent, Instruction: InstructionDataExchange, Payload: bytes.Repeat([]byte{0x01}, 300)}
	caps := Capabilities{OptimizedDataPacketSize: 21, MaxMessageBufferSize: 265}

	_, err := Split(2, msg, caps)
	var tooLarge *ErrMessageTooLarge
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestReassemblerRejectsMismatchedSECIDWithoutDelivery(t *testing.T) {
	r := NewReassembler()
	_, complete, err := r.Feed(2, DataPacket{SECID: 3, Last: true, Chunk: []byte{0x01}})
	if !errors.Is(err, ErrSECIDMismatch) {
		t.Fatalf("expected ErrSECIDMismatch, got %v", err)
	}
	if complete {
		t.Fatal("mismatched secid packet must not complete a message")
	}
}

func TestReassemblerIsFIFOAcrossSECIDs(t *testing.T) {
	r := NewReassembler()

	// Interleave two in-progress chains on different SECIDs; each must
	// reassemble independently and in arrival order.
	msgA := Message{Type: TypeCommand, Instruction: InstructionDataExchange, Payload: []byte("AAAA")}
	msgB := Message{Type: TypeResponse, Instruction: InstructionDataExchange, Payload: []byte("BBBB")}

	encodedA := msgA.Encode()
	encodedB := msgB.Encode()

	r.Feed(0, DataPacket{SECID: 2, Chunk: encodedA[:2]})
	r.Feed(0, DataPacket{SECID: 3, Chunk: encodedB[:2]})
	gotA, completeA, err := r.Feed(0, DataPacket{SECID: 2, Last: true, Chunk: encodedA[2:]})
	if err != nil {
		t.Fatal(err)
	}
	gotB, completeB, err := r.Feed(0, DataPacket{SECID: 3, Last: true, Chunk: encodedB[2:]})
	if err != nil {
		t.Fatal(err)
	}

	if !completeA || !bytes.Equal(gotA.Payload, msgA.Payload) {
		t.Fatalf("secid 2 reassembly mismatch: %+v", gotA)
	}
	if !completeB || !bytes.Equal(gotB.Payload, msgB.Payload) {
		t.Fatalf("secid 3 reassembly mismatch: %+v", gotB)
	}
}
