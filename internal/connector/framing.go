package connector

import "fmt"

// ErrMessageTooLarge indicates a message's payload exceeds the
// negotiated maximum message buffer size.
type ErrMessageTooLarge struct {
	Length  int
	MaxSize int
}

func (e *ErrMessageTooLarge) Error() string {
	return fmt.Sprintf("connector: message length %d exceeds max buffer size %d", e.Length, e.MaxSize)
}

// Split encodes msg and splits it into data packets of at most
// caps.OptimizedDataPacketSize bytes each (one header byte plus a chunk
// of caps.OptimizedDataPacketSize-1 bytes), addressed to secid. Rejects
// messages whose encoded payload exceeds MaxMessageBufferSize.
func Split(secid byte, msg Message, caps Capabilities) ([]DataPacket, error) {
	if err := ValidateSECID(secid); err != nil {
		return nil, err
	}
	encoded := msg.Encode()
	if len(encoded) > caps.MaxMessageBufferSize {
		return nil, &ErrMessageTooLarge{Length: len(encoded), MaxSize: caps.MaxMessageBufferSize}
	}

	chunkSize := caps.OptimizedDataPacketSize - 1
	if chunkSize < 1 {
		return nil, fmt.Errorf("connector: optimized data packet size %d too small", caps.OptimizedDataPacketSize)
	}

	var packets []DataPacket
	for offset := 0; offset < len(encoded); offset += chunkSize {
		end := offset + chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		packets = append(packets, DataPacket{
			SECID: secid,
			Chunk: encoded[offset:end],
			Last:  end == len(encoded),
		})
	}
	if len(packets) == 0 {
		// Not reached with the current Encode, which always yields at
		// least the header byte; an empty encoding would still produce
		// one packet, with Last set and no chunk bytes.
		packets = append(packets, DataPacket{SECID: secid, Last: true})
	}
	return packets, nil
}

// Reassembler accumulates data packets by SECID and decodes a complete
// Message once a packet with Last=true arrives. Reassembly per SECID is
// FIFO: packets are concatenated in arrival order.
type Reassembler struct {
	buffers map[byte][]byte
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{buffers: make(map[byte][]byte)}
}

// ErrSECIDMismatch indicates a data packet arrived for a SECID that is
// not the locally expected one; the packet is dropped without
// terminating the channel.
var ErrSECIDMismatch = fmt.Errorf("connector: secid mismatch")

// Feed accumulates one data packet. If localSECID is nonzero, a packet
// whose SECID differs is rejected with ErrSECIDMismatch and dropped
// without being added to any buffer. Returns a decoded Message (and
// true) when the packet completes a chain; otherwise returns
// (Message{}, false, nil).
func (r *Reassembler) Feed(localSECID byte, pkt DataPacket) (Message, bool, error) {
	if localSECID != 0 && pkt.SECID != localSECID {
		return Message{}, false, ErrSECIDMismatch
	}

	r.buffers[pkt.SECID] = append(r.buffers[pkt.SECID], pkt.Chunk...)
	if !pkt.Last {
		return Message{}, false, nil
	}

	payload := r.buffers[pkt.SECID]
	delete(r.buffers, pkt.SECID)

	msg, err := DecodeMessage(payload)
	if err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}
