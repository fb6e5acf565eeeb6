package apdu

import (
	"bytes"
	"errors"
	"testing"
)

func TestCommandMarshalUnmarshalRoundTrip(t *testing.T) {
	cmd := GetDO(0x80, 0xBF)
	raw, err := cmd.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	got, err := UnmarshalCommand(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.CLA != cmd.CLA || got.INS != InsGetDO || got.P1 != p1DataObject || got.P2 != p2DataObject {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Data, []byte{0xBF}) {
		t.Fatalf("data mismatch: %x", got.Data)
	}
	if !got.ExpectResponse {
		t.Fatal("expected ExpectResponse to survive round trip")
	}
}

func TestPutDOEncodesTagAndValue(t *testing.T) {
	cmd := PutDO(0x80, 0x70, []byte{0x01, 0x02, 0x03})
	raw, err := cmd.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x80, InsPutDO, p1DataObject, p2DataObject, 0x04, 0x70, 0x01, 0x02, 0x03}
	if !bytes.Equal(raw, want) {
		t.Fatalf("got %x, want %x", raw, want)
	}
}

func TestResponseSuccessStatusWord(t *testing.T) {
	resp, err := UnmarshalResponse([]byte{0x01, 0x02, 0x90, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.SW.Success() {
		t.Fatalf("expected success, got sw=%s", resp.SW)
	}
	if err := resp.CheckSuccess(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0x01, 0x02}) {
		t.Fatalf("data mismatch: %x", resp.Data)
	}
}

func TestResponseFailureStatusWordIsControlledFailure(t *testing.T) {
	resp, err := UnmarshalResponse([]byte{0x6A, 0x82})
	if err != nil {
		t.Fatal(err)
	}
	var failed *ErrCommandFailed
	if err := resp.CheckSuccess(); !errors.As(err, &failed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
}

func TestParseTLVsPreservesUnknownTagsRaw(t *testing.T) {
	raw := []byte{0x80, 0x01, 0xAA, 0x9F, 0x1F, 0x02, 0xBB, 0xCC}
	tlvs, err := ParseTLVs(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(tlvs) != 2 {
		t.Fatalf("expected 2 tlvs, got %d", len(tlvs))
	}
	if tlvs[0].Tag != 0x80 || !bytes.Equal(tlvs[0].Value, []byte{0xAA}) {
		t.Fatalf("first tlv mismatch: %+v", tlvs[0])
	}
	if !bytes.Equal(tlvs[1].Value, []byte{0xBB, 0xCC}) {
		t.Fatalf("second tlv value mismatch: %+v", tlvs[1])
	}
}

func TestParseTLVsLongFormLength(t *testing.T) {
	value := bytes.Repeat([]byte{0x01}, 200)
	raw := append([]byte{0x82, 0x81, 0xC8}, value...)
	tlvs, err := ParseTLVs(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(tlvs) != 1 || len(tlvs[0].Value) != 200 {
		t.Fatalf("unexpected parse: %+v", tlvs)
	}
}

// TestParseDispatchResponseInlineSessionData reproduces: session data
// inline with an RDS-available notification flag.
func TestParseDispatchResponseInlineSessionData(t *testing.T) {
	sessionData := []byte{0x01, 0x02, 0x03}
	notification := TLV{Tag: uint32(tagNotification), Value: TLV{Tag: uint32(tagPayload), Value: []byte{0x01, 0x01}}.Marshal()}
	inner := append(TLV{Tag: uint32(tagOutboundKind), Value: []byte{byte(OutboundToHost)}}.Marshal(),
		TLV{Tag: uint32(tagStatusWord), Value: []byte{0x90, 0x00}}.Marshal()...)
	inner = append(inner, TLV{Tag: uint32(tagPayload), Value: sessionData}.Marshal()...)
	inner = append(inner, notification.Marshal()...)

	raw := TLV{Tag: uint32(TagDispatchResponse), Value: inner}.Marshal()

	resp, err := ParseDispatchResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outbound != OutboundToHost {
		t.Fatalf("expected outbound to host, got %v", resp.Outbound)
	}
	if resp.SW == nil || !resp.SW.Success() {
		t.Fatalf("expected success status, got %v", resp.SW)
	}
	if !bytes.Equal(resp.Payload, sessionData) {
		t.Fatalf("payload mismatch: %x", resp.Payload)
	}
	if resp.Notification == nil || !resp.Notification.RDSAvailable {
		t.Fatalf("expected rds-available notification, got %+v", resp.Notification)
	}
}

// TestParseDispatchResponseTransactionCompleteWithErrors reproduces the
// `71 03 80 01 FF` error scenario, which carries only an outbound-kind
// TLV and no status-word TLV.
func TestParseDispatchResponseTransactionCompleteWithErrors(t *testing.T) {
	raw := []byte{0x71, 0x03, 0x80, 0x01, 0xFF}
	resp, err := ParseDispatchResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SW != nil {
		t.Fatalf("expected no status word, got %v", resp.SW)
	}
	if resp.Outbound != OutboundKind(0xFF) {
		t.Fatalf("unexpected outbound kind: %v", resp.Outbound)
	}
}

func TestParseDispatchResponseRejectsWrongTopTag(t *testing.T) {
	raw := TLV{Tag: 0x72, Value: []byte{0x00}}.Marshal()
	if _, err := ParseDispatchResponse(raw); err == nil {
		t.Fatal("expected error for non-0x71 top tag")
	}
}
