package uci

import "fmt"

// SessionState is the radio-reported session state carried in
// SESSION_STATUS_NTF, distinct from (but driving) the higher-level
// session-record state machine in internal/session.
type SessionState uint8

const (
	SessionStateInit   SessionState = 0x00
	SessionStateDeinit SessionState = 0x01
	SessionStateActive SessionState = 0x02
	SessionStateIdle   SessionState = 0x03
)

func (s SessionState) String() string {
	switch s {
	case SessionStateInit:
		return "INIT"
	case SessionStateDeinit:
		return "DEINIT"
	case SessionStateActive:
		return "ACTIVE"
	case SessionStateIdle:
		return "IDLE"
	default:
		return fmt.Sprintf("SessionState(%#02x)", uint8(s))
	}
}

// ReasonCode is the closed set of ranging-change reasons surfaced on every
// stop/close, reported by SESSION_STATUS_NTF's reason-code field.
type ReasonCode uint8

const (
	ReasonUnknown                   ReasonCode = 0x00
	ReasonLocalAPI                  ReasonCode = 0x01
	ReasonMaxSessionsReached        ReasonCode = 0x02
	ReasonSystemPolicy              ReasonCode = 0x03
	ReasonRemoteRequest             ReasonCode = 0x04
	ReasonProtocolSpecific          ReasonCode = 0x05
	ReasonBadParameters             ReasonCode = 0x06
	ReasonMaxRRRetryReached         ReasonCode = 0x07
	ReasonInsufficientSlotsPerRR    ReasonCode = 0x08
	ReasonSystemRegulation          ReasonCode = 0x09
	ReasonSessionSuspended          ReasonCode = 0x0A
	ReasonSessionResumed            ReasonCode = 0x0B
	ReasonInbandSessionStop         ReasonCode = 0x0C
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonUnknown:
		return "UNKNOWN"
	case ReasonLocalAPI:
		return "LOCAL_API"
	case ReasonMaxSessionsReached:
		return "MAX_SESSIONS_REACHED"
	case ReasonSystemPolicy:
		return "SYSTEM_POLICY"
	case ReasonRemoteRequest:
		return "REMOTE_REQUEST"
	case ReasonProtocolSpecific:
		return "PROTOCOL_SPECIFIC"
	case ReasonBadParameters:
		return "BAD_PARAMETERS"
	case ReasonMaxRRRetryReached:
		return "MAX_RR_RETRY_REACHED"
	case ReasonInsufficientSlotsPerRR:
		return "INSUFFICIENT_SLOTS_PER_RR"
	case ReasonSystemRegulation:
		return "SYSTEM_REGULATION"
	case ReasonSessionSuspended:
		return "SESSION_SUSPENDED"
	case ReasonSessionResumed:
		return "SESSION_RESUMED"
	case ReasonInbandSessionStop:
		return "INBAND_SESSION_STOP"
	default:
		return fmt.Sprintf("ReasonCode(%#02x)", uint8(r))
	}
}

// SessionType distinguishes the protocol family a session runs, carried
// in the SESSION_INIT payload after the session id.
type SessionType uint8

const (
	SessionTypeFiRaRanging SessionType = 0x00
	SessionTypeCCCRanging  SessionType = 0xA0
	SessionTypeDataTransfer SessionType = 0x01
)

// SessionInitCommand builds the SESSION_INIT_CMD payload: session id
// followed by session type.
func SessionInitCommand(sessionID uint32, sessionType SessionType) Message {
	payload := make([]byte, 5)
	putUint32LE(payload, sessionID)
	payload[4] = byte(sessionType)
	return Message{
		Header:  Header{MT: MessageTypeCommand, GID: GroupSessionConfig, OID: OpcodeSessionInit},
		Payload: payload,
	}
}

// SessionDeinitCommand builds the SESSION_DEINIT_CMD payload: session id.
func SessionDeinitCommand(sessionID uint32) Message {
	payload := make([]byte, 4)
	putUint32LE(payload, sessionID)
	return Message{
		Header:  Header{MT: MessageTypeCommand, GID: GroupSessionConfig, OID: OpcodeSessionDeinit},
		Payload: payload,
	}
}

// SessionSetAppConfigCommand pushes a parameter set against a session.
func SessionSetAppConfigCommand(sessionID uint32, params *Params) Message {
	payload := make([]byte, 4)
	putUint32LE(payload, sessionID)
	payload = append(payload, params.Marshal()...)
	return Message{
		Header:  Header{MT: MessageTypeCommand, GID: GroupSessionConfig, OID: OpcodeSessionSetAppCfg},
		Payload: payload,
	}
}

// RangeStartCommand builds RANGE_START_CMD: session id only.
func RangeStartCommand(sessionID uint32) Message {
	payload := make([]byte, 4)
	putUint32LE(payload, sessionID)
	return Message{
		Header:  Header{MT: MessageTypeCommand, GID: GroupSessionControl, OID: OpcodeRangeStart},
		Payload: payload,
	}
}

// RangeStopCommand builds RANGE_STOP_CMD: session id only.
func RangeStopCommand(sessionID uint32) Message {
	payload := make([]byte, 4)
	putUint32LE(payload, sessionID)
	return Message{
		Header:  Header{MT: MessageTypeCommand, GID: GroupSessionControl, OID: OpcodeRangeStop},
		Payload: payload,
	}
}

// SessionStatusNotification is the decoded SESSION_STATUS_NTF payload.
type SessionStatusNotification struct {
	SessionID uint32
	State     SessionState
	Reason    ReasonCode
}

// ParseSessionStatusNotification decodes a SESSION_STATUS_NTF payload:
// session id, state, reason code.
func ParseSessionStatusNotification(payload []byte) (SessionStatusNotification, error) {
	if len(payload) < 6 {
		return SessionStatusNotification{}, fmt.Errorf("uci: session status ntf: %w", ErrShortPacket)
	}
	return SessionStatusNotification{
		SessionID: getUint32LE(payload),
		State:     SessionState(payload[4]),
		Reason:    ReasonCode(payload[5]),
	}, nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
