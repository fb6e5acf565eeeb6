package halio

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/uwbcore/uwbd/internal/uci"
)

// pipeTransport wires a Client to an in-test fake device over two
// unidirectional pipes.
type pipeTransport struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p pipeTransport) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeTransport) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p pipeTransport) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

// newLinkedPair returns a Client-side transport and the fake device's
// read/write ends.
func newLinkedPair() (pipeTransport, *bufio.Reader, *io.PipeWriter) {
	clientReadEnd, deviceWriteEnd := io.Pipe()
	deviceReadEnd, clientWriteEnd := io.Pipe()
	return pipeTransport{r: clientReadEnd, w: clientWriteEnd}, bufio.NewReader(deviceReadEnd), deviceWriteEnd
}

func readDeviceMessage(t *testing.T, r *bufio.Reader) uci.Message {
	t.Helper()
	header := make([]byte, uci.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, header[3])
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			t.Fatal(err)
		}
	}
	msg, err := uci.UnmarshalMessage(append(header, payload...))
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestToggleWaitsForDeviceReadyNotification(t *testing.T) {
	transport, deviceRead, deviceWrite := newLinkedPair()
	client := New(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	done := make(chan error, 1)
	go func() { done <- client.Toggle(context.Background(), true) }()

	cmd := readDeviceMessage(t, deviceRead)
	if cmd.Header.GID != uci.GroupCore || cmd.Header.OID != uci.OpcodeCoreDeviceReset {
		t.Fatalf("expected CORE_DEVICE_RESET, got GID=%d OID=%d", cmd.Header.GID, cmd.Header.OID)
	}

	ntf := uci.Message{
		Header:  uci.Header{MT: uci.MessageTypeNotification, GID: uci.GroupCore, OID: uci.OpcodeCoreDeviceStatusNtf},
		Payload: []byte{byte(uci.DeviceStateReady)},
	}
	if _, err := deviceWrite.Write(ntf.Marshal()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Toggle to observe device ready")
	}
}

func TestToggleDisableIsNoOp(t *testing.T) {
	transport, _, _ := newLinkedPair()
	client := New(transport, nil)
	if err := client.Toggle(context.Background(), false); err != nil {
		t.Fatalf("expected disable to be a no-op, got %v", err)
	}
}

func TestChipsParsesDeviceInfoResponse(t *testing.T) {
	transport, deviceRead, deviceWrite := newLinkedPair()
	client := New(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	done := make(chan error, 1)
	var got []struct {
		ChipID          string
		FirmwareVersion string
	}
	go func() {
		chips, err := client.Chips(context.Background())
		for _, c := range chips {
			got = append(got, struct {
				ChipID          string
				FirmwareVersion string
			}{c.ChipID, c.FirmwareVersion})
		}
		done <- err
	}()

	cmd := readDeviceMessage(t, deviceRead)
	if cmd.Header.GID != uci.GroupCore || cmd.Header.OID != uci.OpcodeCoreGetDeviceInfo {
		t.Fatalf("expected CORE_GET_DEVICE_INFO, got GID=%d OID=%d", cmd.Header.GID, cmd.Header.OID)
	}

	payload := append([]byte{2, 0, byte(len("chip0"))}, []byte("chip0")...)
	resp := uci.Message{
		Header:  uci.Header{MT: uci.MessageTypeResponse, GID: uci.GroupCore, OID: uci.OpcodeCoreGetDeviceInfo},
		Payload: payload,
	}
	if _, err := deviceWrite.Write(resp.Marshal()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Chips")
	}

	if len(got) != 1 || got[0].ChipID != "chip0" || got[0].FirmwareVersion != "2.0" {
		t.Fatalf("unexpected chip info: %+v", got)
	}
}

func TestSendAndNotificationsRoundTrip(t *testing.T) {
	transport, deviceRead, deviceWrite := newLinkedPair()
	client := New(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	cmd := uci.SessionInitCommand(42, uci.SessionTypeFiRaRanging)
	if err := client.Send(cmd); err != nil {
		t.Fatal(err)
	}
	got := readDeviceMessage(t, deviceRead)
	if got.Header.OID != uci.OpcodeSessionInit {
		t.Fatalf("unexpected opcode forwarded: %d", got.Header.OID)
	}

	ntf := uci.Message{
		Header:  uci.Header{MT: uci.MessageTypeNotification, GID: uci.GroupSessionConfig, OID: uci.OpcodeSessionStatusNtf},
		Payload: []byte{42, 0, 0, 0, byte(uci.SessionStateIdle), byte(uci.ReasonLocalAPI)},
	}
	if _, err := deviceWrite.Write(ntf.Marshal()); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-client.Notifications():
		if msg.Header.OID != uci.OpcodeSessionStatusNtf {
			t.Fatalf("unexpected notification opcode: %d", msg.Header.OID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
