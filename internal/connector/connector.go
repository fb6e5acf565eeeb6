package connector

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// MessageReceived is posted on a Connector's Received channel whenever
// a data-packet chain completes into a full Message.
type MessageReceived struct {
	SECID   byte
	Message Message
}

// Terminated is posted on a Connector's Done channel exactly once, when
// the channel ends for any reason.
type Terminated struct {
	Reason TerminationReason
}

// Connector runs one side (server or client) of the BLE-GATT framed
// transport: a single worker goroutine serialises framing and
// reassembly, mirroring the one-worker-per-transport execution model
// the rest of this service uses for transport executors. Send may be
// called from any goroutine. Received is fed from the worker; the one
// Terminated value on Done is posted by whichever goroutine first ends
// the channel (the worker, a failing Send, or the constructor).
type Connector struct {
	link       GATTLink
	localSECID byte
	caps       Capabilities

	// sendCharacteristic/recvCharacteristic differ by role: a server
	// writes outbound data to OUT (so the peer's notify fires) and
	// reassembles inbound writes arriving on IN; a client writes to IN
	// and reassembles OUT notifications.
	sendCharacteristic string
	recvCharacteristic string

	sendMu sync.Mutex

	Received chan MessageReceived
	Done     chan Terminated

	mu            sync.Mutex
	disconnected  bool
	terminateOnce sync.Once

	logger *slog.Logger
}

// NewServer accepts a connection: waits for the capabilities write,
// enables OUT notifications, and starts delivering received data
// packets to the reassembler. The returned Connector's Received channel
// delivers complete messages; Done fires exactly once on termination.
func NewServer(link GATTLink, localSECID byte, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connector{
		link:               link,
		localSECID:         localSECID,
		sendCharacteristic: characteristicOut,
		recvCharacteristic: characteristicIn,
		Received:           make(chan MessageReceived, 16),
		Done:               make(chan Terminated, 1),
		logger:             logger.With(slog.String("component", "connector"), slog.String("role", "server")),
	}

	capBytes, err := link.ReadCharacteristic(characteristicCapabilities)
	if err != nil {
		c.terminate(TerminationCharacteristicReadFailed)
		return nil, fmt.Errorf("connector: server accept: %w", err)
	}
	caps, err := decodeCapabilities(capBytes)
	if err != nil {
		c.terminate(TerminationCharacteristicReadFailed)
		return nil, fmt.Errorf("connector: server accept: %w", err)
	}
	c.caps = caps

	if err := link.EnableNotify(characteristicOut); err != nil {
		c.terminate(TerminationDescriptorWriteFailed)
		return nil, fmt.Errorf("connector: server accept: %w", err)
	}

	go c.runReassembly()
	return c, nil
}

// NewClient connects symmetrically: writes capabilities, enables notify
// on OUT, and reads OUT on every change notification.
func NewClient(link GATTLink, localSECID byte, caps Capabilities, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connector{
		link:               link,
		localSECID:         localSECID,
		caps:               caps,
		sendCharacteristic: characteristicIn,
		recvCharacteristic: characteristicOut,
		Received:           make(chan MessageReceived, 16),
		Done:               make(chan Terminated, 1),
		logger:             logger.With(slog.String("component", "connector"), slog.String("role", "client")),
	}

	if err := link.WriteCharacteristic(characteristicCapabilities, encodeCapabilities(caps)); err != nil {
		c.terminate(TerminationCharacteristicWriteFailed)
		return nil, fmt.Errorf("connector: client connect: %w", err)
	}
	if err := link.EnableNotify(characteristicOut); err != nil {
		c.terminate(TerminationDescriptorWriteFailed)
		return nil, fmt.Errorf("connector: client connect: %w", err)
	}

	go c.runReassembly()
	return c, nil
}

// runReassembly drains change notifications on recvCharacteristic,
// decoding data packets and dispatching completed messages. It is the
// single worker serialising framing/reassembly for this Connector.
func (c *Connector) runReassembly() {
	reassembler := NewReassembler()
	notifications := c.link.Notifications(c.recvCharacteristic)
	for raw := range notifications {
		pkt, err := DecodeDataPacket(raw)
		if err != nil {
			c.logger.Warn("dropping malformed data packet", slog.Any("err", err))
			continue
		}
		msg, complete, err := reassembler.Feed(c.localSECID, pkt)
		if err != nil {
			// SECID mismatch: dropped without delivery and without
			// terminating the channel.
			c.logger.Warn("dropping packet with mismatched secid", slog.Any("err", err))
			continue
		}
		if complete {
			c.Received <- MessageReceived{SECID: pkt.SECID, Message: msg}
		}
	}

	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.terminate(TerminationRemoteDisconnect)
}

// Send splits msg into data packets per the negotiated capabilities and
// writes them to this Connector's send characteristic in order,
// serialised per direction.
func (c *Connector) Send(secid byte, msg Message) error {
	packets, err := Split(secid, msg, c.caps)
	if err != nil {
		return fmt.Errorf("connector: send: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for _, pkt := range packets {
		if err := c.link.WriteCharacteristic(c.sendCharacteristic, pkt.Encode()); err != nil {
			c.terminate(TerminationCharacteristicWriteFailed)
			return fmt.Errorf("connector: send: %w", err)
		}
	}
	return nil
}

// terminate posts Done exactly once. If a remote disconnect has already
// been observed by runReassembly, it supersedes whatever reason the
// caller passed -- a write failure racing a disconnected link is
// reported as the disconnect, per the ordering invariant.
func (c *Connector) terminate(reason TerminationReason) {
	c.mu.Lock()
	if c.disconnected {
		reason = TerminationRemoteDisconnect
	}
	c.mu.Unlock()

	c.terminateOnce.Do(func() {
		c.Done <- Terminated{Reason: reason}
		close(c.Done)
	})
}

func encodeCapabilities(c Capabilities) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(c.OptimizedDataPacketSize))
	binary.BigEndian.PutUint16(out[2:4], uint16(c.MaxMessageBufferSize))
	return out
}

func decodeCapabilities(raw []byte) (Capabilities, error) {
	if len(raw) < 4 {
		return Capabilities{}, fmt.Errorf("connector: capabilities payload too short")
	}
	return Capabilities{
		OptimizedDataPacketSize: int(binary.BigEndian.Uint16(raw[0:2])),
		MaxMessageBufferSize:    int(binary.BigEndian.Uint16(raw[2:4])),
	}, nil
}
