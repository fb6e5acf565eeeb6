//go:build linux

package connector

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Channel ids multiplex the three named GATT characteristics over one
// L2CAP connection-oriented channel socket, since a single physical LE
// CoC connection carries all of IN, OUT, and CAPABILITIES traffic.
const (
	chanIn byte = iota + 1
	chanOut
	chanCapabilities
)

var channelIDs = map[string]byte{
	characteristicIn:           chanIn,
	characteristicOut:          chanOut,
	characteristicCapabilities: chanCapabilities,
}

// frameHeaderSize is the one-byte channel id plus a two-byte big-endian
// length prefix ahead of each frame's payload.
const frameHeaderSize = 3

var _ GATTLink = (*L2CAPLink)(nil)

// L2CAPLink is a concrete GATTLink backed by a Bluetooth LE L2CAP
// connection-oriented channel -- the kernel-level bearer GATT's ATT
// protocol rides on. It multiplexes the three logical characteristics
// over the one socket by framing each write with a channel id, wrapping
// one platform socket behind a protocol-shaped interface.
type L2CAPLink struct {
	fd int

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	notifyMu sync.Mutex
	notify   map[string]chan []byte
	oneshot  map[string]chan []byte

	readErr chan error
}

// DialL2CAP opens an LE connection-oriented L2CAP channel to addr on the
// given PSM and configures the socket options GATT traffic needs:
// BT_SECURITY at the requested level (bonded GATT links typically run at
// BT_SECURITY_LOW or BT_SECURITY_MEDIUM) so the kernel enforces pairing
// before data flows.
func DialL2CAP(addr unix.SockaddrL2, securityLevel int) (*L2CAPLink, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("connector: open l2cap socket: %w", err)
	}

	if err := unix.Connect(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connector: connect l2cap psm %d: %w", addr.PSM, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_BLUETOOTH, unix.BT_SECURITY, securityLevel); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connector: set BT_SECURITY: %w", err)
	}

	link := &L2CAPLink{
		fd:      fd,
		notify:  make(map[string]chan []byte),
		oneshot: make(map[string]chan []byte),
		readErr: make(chan error, 1),
	}
	go link.readLoop()
	return link, nil
}

// WriteCharacteristic writes data to the named characteristic, framed
// with its channel id and length.
func (l *L2CAPLink) WriteCharacteristic(name string, data []byte) error {
	id, ok := channelIDs[name]
	if !ok {
		return fmt.Errorf("connector: unknown characteristic %q", name)
	}

	frame := make([]byte, frameHeaderSize+len(data))
	frame[0] = id
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(data)))
	copy(frame[frameHeaderSize:], data)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := unix.Write(l.fd, frame); err != nil {
		return fmt.Errorf("connector: write characteristic %s: %w", name, err)
	}
	return nil
}

// ReadCharacteristic blocks for the next frame addressed to name. Used
// only for the one-shot CAPABILITIES exchange at connect time; IN/OUT
// traffic after that arrives through Notifications instead.
func (l *L2CAPLink) ReadCharacteristic(name string) ([]byte, error) {
	ch := make(chan []byte, 1)
	l.notifyMu.Lock()
	l.oneshot[name] = ch
	l.notifyMu.Unlock()

	data, ok := <-ch
	if !ok {
		return nil, fmt.Errorf("connector: read characteristic %s: %w", name, unix.ECONNRESET)
	}
	return data, nil
}

// EnableNotify checks that name is a known characteristic and creates
// its notification channel if it does not exist yet; there is no
// separate CCC descriptor write to perform over a raw L2CAP channel.
func (l *L2CAPLink) EnableNotify(name string) error {
	if _, ok := channelIDs[name]; !ok {
		return fmt.Errorf("connector: unknown characteristic %q", name)
	}
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	if _, exists := l.notify[name]; !exists {
		l.notify[name] = make(chan []byte, 16)
	}
	return nil
}

// Notifications returns the channel of raw values received for name.
// EnableNotify must be called first.
func (l *L2CAPLink) Notifications(name string) <-chan []byte {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	ch, ok := l.notify[name]
	if !ok {
		ch = make(chan []byte, 16)
		l.notify[name] = ch
	}
	return ch
}

// Close tears down the L2CAP socket and every channel this link handed
// out.
func (l *L2CAPLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := unix.Close(l.fd)

	l.notifyMu.Lock()
	for _, ch := range l.notify {
		close(ch)
	}
	for _, ch := range l.oneshot {
		close(ch)
	}
	l.notifyMu.Unlock()

	if err != nil {
		return fmt.Errorf("connector: close l2cap socket: %w", err)
	}
	return nil
}

// readLoop demultiplexes frames by channel id, routing each to the
// matching characteristic's notification channel (or its pending
// one-shot ReadCharacteristic call) until the socket closes.
func (l *L2CAPLink) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(l.fd, buf)
		if err != nil || n == 0 {
			l.Close()
			return
		}
		if n < frameHeaderSize {
			continue
		}

		id := buf[0]
		length := int(binary.BigEndian.Uint16(buf[1:3]))
		if frameHeaderSize+length > n {
			continue
		}
		payload := append([]byte(nil), buf[frameHeaderSize:frameHeaderSize+length]...)

		name := nameForChannel(id)
		if name == "" {
			continue
		}

		l.notifyMu.Lock()
		if oneshot, ok := l.oneshot[name]; ok {
			delete(l.oneshot, name)
			oneshot <- payload
			l.notifyMu.Unlock()
			continue
		}
		notify, ok := l.notify[name]
		l.notifyMu.Unlock()
		if ok {
			select {
			case notify <- payload:
			default:
			}
		}
	}
}

func nameForChannel(id byte) string {
	for name, chID := range channelIDs {
		if chID == id {
			return name
		}
	}
	return ""
}
