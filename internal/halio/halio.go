// Package halio binds internal/adapter.HAL and internal/session.Radio to a
// byte-stream transport carrying framed UCI messages. The native HAL
// itself is an external collaborator (out of scope); this package is the
// thin host-side binding a real deployment points at the vendor driver's
// transport (a character device, a unix socket to a vendor daemon, or a
// TCP simulator for development).
package halio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/uwbcore/uwbd/internal/adapter"
	"github.com/uwbcore/uwbd/internal/session"
	"github.com/uwbcore/uwbd/internal/uci"
)

// Transport is the byte-stream connection to the HAL process. Implemented
// by a unix socket, a serial device, or any io.ReadWriteCloser.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Client reads and writes uci.Message frames over a Transport, fanning
// notifications out to Notifications() and answering command/response
// round trips for Toggle/Chips synchronously -- it implements both
// adapter.HAL and session.Radio against the same physical connection,
// mirroring the single-shared-chip resource model.
type Client struct {
	transport Transport
	log       *slog.Logger

	writeMu sync.Mutex

	notifications chan uci.Message

	pendingMu sync.Mutex
	pending   chan uci.Message // capacity 1: single outstanding command/response

	closeOnce sync.Once
	closed    chan struct{}
}

var _ adapter.HAL = (*Client)(nil)
var _ session.Radio = (*Client)(nil)

// New wraps transport; it starts no goroutine. Run is the read loop:
// call it to read messages until the transport closes or ctx is
// cancelled.
func New(transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport:     transport,
		log:           logger.With(slog.String("component", "halio")),
		notifications: make(chan uci.Message, 32),
		pending:       make(chan uci.Message, 1),
		closed:        make(chan struct{}),
	}
}

// Run reads framed messages until the transport errors or ctx is
// cancelled, routing responses to the outstanding Toggle/Chips call and
// everything else to Notifications().
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.transport.Close()
	}()
	defer c.closeOnce.Do(func() { close(c.closed) })

	r := bufio.NewReader(c.transport)
	for {
		msg, err := c.readMessage(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("halio: read: %w", err)
		}

		if msg.Header.MT == uci.MessageTypeResponse {
			select {
			case c.pending <- msg:
			default:
				c.log.Warn("dropped unexpected response with no outstanding request")
			}
			continue
		}

		select {
		case c.notifications <- msg:
		default:
			c.log.Warn("notification channel full, dropping message",
				slog.String("gid", fmt.Sprintf("%d", msg.Header.GID)),
				slog.String("oid", fmt.Sprintf("%d", msg.Header.OID)))
		}
	}
}

func (c *Client) readMessage(r *bufio.Reader) (uci.Message, error) {
	header := make([]byte, uci.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return uci.Message{}, err
	}
	payloadLen := int(header[3])
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return uci.Message{}, err
		}
	}
	return uci.UnmarshalMessage(append(header, payload...))
}

// Send writes msg to the transport. Implements session.Radio.
func (c *Client) Send(msg uci.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.transport.Write(msg.Marshal()); err != nil {
		return fmt.Errorf("halio: write: %w", err)
	}
	return nil
}

// Notifications returns the channel of inbound NTF-type messages.
// Implements session.Radio.
func (c *Client) Notifications() <-chan uci.Message {
	return c.notifications
}

// Toggle drives CORE_DEVICE_RESET and waits for the chip's
// CORE_DEVICE_STATUS_NTF to confirm readiness. Implements adapter.HAL.
// There is no UCI command to power the chip fully off; a host deployment
// gates actual power at the transport layer. Disable is therefore a
// local no-op here once the session manager stops issuing commands.
func (c *Client) Toggle(ctx context.Context, enable bool) error {
	if !enable {
		return nil
	}
	if err := c.Send(uci.CoreDeviceResetCommand()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.notifications:
			if msg.Header.GID != uci.GroupCore || msg.Header.OID != uci.OpcodeCoreDeviceStatusNtf {
				continue
			}
			state, err := uci.ParseDeviceStatusNotification(msg.Payload)
			if err != nil {
				return err
			}
			if state != uci.DeviceStateReady {
				return fmt.Errorf("halio: device reset reported %s", state)
			}
			return nil
		}
	}
}

// Chips issues CORE_GET_DEVICE_INFO and returns the single chip it
// describes. Implements adapter.HAL.
func (c *Client) Chips(ctx context.Context) ([]adapter.ChipInfo, error) {
	if err := c.Send(uci.CoreGetDeviceInfoCommand()); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.pending:
		info, err := uci.ParseDeviceInfoResponse(msg.Payload)
		if err != nil {
			return nil, err
		}
		return []adapter.ChipInfo{{
			ChipID:          info.ChipID,
			FirmwareVersion: fmt.Sprintf("%d.%d", info.UCIVersionMajor, info.UCIVersionMinor),
		}}, nil
	}
}
