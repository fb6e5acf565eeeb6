package session

import (
	"github.com/uwbcore/uwbd/internal/uci"
)

// DeviceRole distinguishes the UWB device role for a session.
type DeviceRole uint8

const (
	RoleController DeviceRole = iota
	RoleControlee
)

// SessionRole distinguishes which side speaks first within the secure
// ranging handshake (internal/secure's four sub-session variants).
type SessionRole uint8

const (
	RoleInitiator SessionRole = iota
	RoleResponder
)

// ProtocolFamily tags which ranging protocol a session's parameter block
// belongs to.
type ProtocolFamily uint8

const (
	ProtocolFiRa ProtocolFamily = iota
	ProtocolCCC
	ProtocolOther
)

// Handle is the opaque, process-unique identifier a client holds for a
// session, one-to-one with a Record. Created on open, invalidated after
// close completes or the owning client's liveness token dies.
type Handle string

// ClientID identifies the caller that opened one or more sessions, used to
// group sessions for liveness-driven teardown.
type ClientID string

// OpenParams is the caller-supplied, protocol-tagged parameter bundle for
// openRanging.
type OpenParams struct {
	Protocol ProtocolFamily
	Device   DeviceRole
	Session  SessionRole
	ChipID   string
	Params   *uci.Params
	Peers    []string
}

// RangingReport is one peer's ranging result surfaced to the app callback,
// either straight off the radio or through the AoA correction engine.
type RangingReport struct {
	SessionID      uint32
	PeerAddr       uint16
	DistanceCM     uint16
	AzimuthRad     float64
	ElevationRad   float64
	LineOfSight    bool
	RSSI           int8
	SlotIndex      uint8
	FrameSeqNumber uint32
}

// Callback is the per-session sink the session record holds weakly; the
// manager never owns it beyond the record's lifetime.
type Callback interface {
	OnRangingStarted()
	OnRangingReport(report RangingReport)
	OnRangingStopped(reason uci.ReasonCode)
	OnRangingClosed(reason uci.ReasonCode)
}

// Record is one session's full state, exclusively owned by the Manager.
type Record struct {
	Handle      Handle
	ClientID    ClientID
	SessionID   uint32
	Device      DeviceRole
	Session     SessionRole
	Protocol    ProtocolFamily
	Params      *uci.Params
	ChipID      string
	Peers       []string
	State       State
	UseAoAEngine bool
}
