package uci

import "fmt"

// Core group opcodes (GID = GroupCore): device reset, device status
// notification, and device info, the three calls internal/halio issues
// to drive adapter enable/disable and chip enumeration.
const (
	OpcodeCoreDeviceReset     OpcodeID = 0x00
	OpcodeCoreDeviceStatusNtf OpcodeID = 0x01
	OpcodeCoreGetDeviceInfo  OpcodeID = 0x02
)

// DeviceState is the one-byte device status carried in
// CORE_DEVICE_STATUS_NTF.
type DeviceState uint8

const (
	DeviceStateReady DeviceState = 0x01
	DeviceStateActive DeviceState = 0x02
	DeviceStateError DeviceState = 0xFF
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateReady:
		return "READY"
	case DeviceStateActive:
		return "ACTIVE"
	case DeviceStateError:
		return "ERROR"
	default:
		return fmt.Sprintf("DeviceState(%d)", uint8(s))
	}
}

// CoreDeviceResetCommand builds a CORE_DEVICE_RESET command.
func CoreDeviceResetCommand() Message {
	return Message{Header: Header{MT: MessageTypeCommand, GID: GroupCore, OID: OpcodeCoreDeviceReset}}
}

// CoreGetDeviceInfoCommand builds a CORE_GET_DEVICE_INFO command.
func CoreGetDeviceInfoCommand() Message {
	return Message{Header: Header{MT: MessageTypeCommand, GID: GroupCore, OID: OpcodeCoreGetDeviceInfo}}
}

// ParseDeviceStatusNotification decodes a CORE_DEVICE_STATUS_NTF payload:
// a single status byte.
func ParseDeviceStatusNotification(payload []byte) (DeviceState, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("uci: device status notification: %w", ErrShortPacket)
	}
	return DeviceState(payload[0]), nil
}

// DeviceInfo is the decoded CORE_GET_DEVICE_INFO response: UCI version
// and a free-form chip identifier string.
type DeviceInfo struct {
	UCIVersionMajor uint8
	UCIVersionMinor uint8
	ChipID          string
}

// ParseDeviceInfoResponse decodes a CORE_GET_DEVICE_INFO response payload:
// version-major(1) version-minor(1) chipIDLen(1) chipID(chipIDLen).
func ParseDeviceInfoResponse(payload []byte) (DeviceInfo, error) {
	if len(payload) < 3 {
		return DeviceInfo{}, fmt.Errorf("uci: device info response: %w", ErrShortPacket)
	}
	idLen := int(payload[2])
	if len(payload) < 3+idLen {
		return DeviceInfo{}, fmt.Errorf("uci: device info chip id: %w", ErrShortPacket)
	}
	return DeviceInfo{
		UCIVersionMajor: payload[0],
		UCIVersionMinor: payload[1],
		ChipID:          string(payload[3 : 3+idLen]),
	}, nil
}
