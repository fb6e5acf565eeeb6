package fira

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/uwbcore/uwbd/internal/apdu"
	"github.com/uwbcore/uwbd/internal/connector"
)

type fakeSE struct {
	openErr     error
	transmitErr error
	response    []byte
}

func (f *fakeSE) OpenLogicalChannel(aid []byte) (byte, error) {
	if f.openErr != nil {
		return 0, f.openErr
	}
	return 1, nil
}

func (f *fakeSE) CloseLogicalChannel(channelID byte) error { return nil }

func (f *fakeSE) Transmit(channelID byte, commandAPDU []byte) ([]byte, error) {
	if f.transmitErr != nil {
		return nil, f.transmitErr
	}
	return f.response, nil
}

type fakeTunnel struct {
	sent []connector.Message
}

func (f *fakeTunnel) Send(secid byte, msg connector.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func successDispatchResponse(t *testing.T) []byte {
	t.Helper()
	inner := append(apdu.TLV{Tag: 0x80, Value: []byte{byte(apdu.OutboundToHost)}}.Marshal(),
		apdu.TLV{Tag: 0x81, Value: []byte{0x90, 0x00}}.Marshal()...)
	return apdu.TLV{Tag: uint32(apdu.TagDispatchResponse), Value: inner}.Marshal()
}

func TestOpenEstablishesChannelOnSuccess(t *testing.T) {
	se := &fakeSE{}
	tunnel := &fakeTunnel{}

	c, err := Open(context.Background(), se, tunnel, []byte{0xA0, 0x00}, func(byte) error { return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsEstablished() {
		t.Fatal("expected channel to be established")
	}
}

func TestOpenSurfacesSetupErrorOnAuthFailure(t *testing.T) {
	se := &fakeSE{}
	tunnel := &fakeTunnel{}
	authErr := errors.New("mutual auth rejected")

	_, err := Open(context.Background(), se, tunnel, []byte{0xA0, 0x00}, func(byte) error { return authErr }, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSendLocalFiRaCommandParsesDispatchResponse(t *testing.T) {
	dispatch := successDispatchResponse(t)
	se := &fakeSE{response: apdu.Response{Data: dispatch, SW: apdu.SWSuccess}.Marshal()}
	tunnel := &fakeTunnel{}

	c, err := Open(context.Background(), se, tunnel, []byte{0xA0}, func(byte) error { return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := c.SendLocalFiRaCommand(apdu.GetDO(0x80, 0xBF))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outbound != apdu.OutboundToHost {
		t.Fatalf("unexpected outbound kind: %v", resp.Outbound)
	}
}

func TestTunnelToRemoteDeviceSendsAndAwaitsCorrelatedResponse(t *testing.T) {
	se := &fakeSE{}
	tunnel := &fakeTunnel{}

	c, err := Open(context.Background(), se, tunnel, []byte{0xA0}, func(byte) error { return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var gotResp apdu.DispatchResponse
	var gotErr error
	go func() {
		gotResp, gotErr = c.TunnelToRemoteDevice(context.Background(), 2, apdu.GetDO(0x80, 0xBF))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if len(tunnel.sent) != 1 {
		t.Fatalf("expected one tunneled message, got %d", len(tunnel.sent))
	}

	if err := c.DeliverDispatchResponse(2, successDispatchResponse(t)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tunnel response")
	}
	if gotErr != nil {
		t.Fatal(gotErr)
	}
	if gotResp.Outbound != apdu.OutboundToHost {
		t.Fatalf("unexpected outbound kind: %v", gotResp.Outbound)
	}
}

func TestTunnelToRemoteDeviceTimesOutOnContextCancel(t *testing.T) {
	se := &fakeSE{}
	tunnel := &fakeTunnel{}
	c, err := Open(context.Background(), se, tunnel, []byte{0xA0}, func(byte) error { return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := c.TunnelToRemoteDevice(ctx, 2, apdu.GetDO(0x80, 0xBF)); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestUnsolicitedDispatchResponsePublishedWhenNoRequestPending(t *testing.T) {
	se := &fakeSE{}
	tunnel := &fakeTunnel{}
	c, err := Open(context.Background(), se, tunnel, []byte{0xA0}, func(byte) error { return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.DeliverDispatchResponse(2, successDispatchResponse(t)); err != nil {
		t.Fatal(err)
	}

	select {
	case avail := <-c.DispatchResponses:
		if avail.SECID != 2 {
			t.Fatalf("unexpected secid: %d", avail.SECID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unsolicited dispatch response")
	}
}

func TestSendRawDataToRemoteForwardsVerbatim(t *testing.T) {
	se := &fakeSE{}
	tunnel := &fakeTunnel{}
	c, err := Open(context.Background(), se, tunnel, []byte{0xA0}, func(byte) error { return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.SendRawDataToRemote(2, []byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	if len(tunnel.sent) != 1 || !bytes.Equal(tunnel.sent[0].Payload, []byte{0x01, 0x02}) {
		t.Fatalf("unexpected sent message: %+v", tunnel.sent)
	}
}
