package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uwbcore/uwbd/internal/aoa"
	"github.com/uwbcore/uwbd/internal/uci"
)

// Sentinel errors for Manager operations.
var (
	ErrSessionNotFound    = errors.New("session: session not found")
	ErrDuplicateSession   = errors.New("session: duplicate handle")
	ErrAdapterNotEnabled  = errors.New("session: adapter is not enabled")
	ErrMaxSessionsReached = errors.New("session: chip's maximum session count reached")
	ErrNotIdle            = errors.New("session: operation requires the IDLE state")
	ErrNotActive          = errors.New("session: operation requires the ACTIVE state")
)

// operationTimeout bounds the open/start/stop waits for a radio status
// confirmation; on expiry the manager synthesizes a close with
// uci.ReasonUnknown. Close does not wait for a confirmation.
const operationTimeout = 3000 * time.Millisecond

// Radio is the narrow interface the manager drives the UCI HAL through:
// fire-and-forget command send, plus a single shared notification stream
// the manager's receive loop demultiplexes by session id.
type Radio interface {
	Send(msg uci.Message) error
	Notifications() <-chan uci.Message
}

// LivenessToken reports a client's death exactly once by closing Dead.
type LivenessToken interface {
	Dead() <-chan struct{}
}

// record is a Record plus the manager-private synchronization the public
// type intentionally omits.
type record struct {
	Record
	mu            sync.Mutex
	pendingStatus chan uci.SessionStatusNotification
	callback      Callback
	aoaEngine     *aoa.Engine
}

// Manager owns every session record and the single service-thread style
// receive loop that demultiplexes radio notifications to them. Each
// record's state transitions happen under that record's own lock, in the
// calling OpenRanging/Start/Stop/Close path; the receive loop only hands
// status notifications to the waiting call and forwards ranging data.
type Manager struct {
	radio          Radio
	isAdapterReady func() bool
	maxSessions    int
	logger         *slog.Logger

	mu       sync.Mutex
	byHandle map[Handle]*record
	byID     map[uint32]*record
	clients  map[ClientID]map[Handle]struct{}
	idAlloc  *sessionIDAllocator

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager constructs a Manager. isAdapterReady is consulted on every
// openRanging; maxSessions bounds concurrent sessions across the chip.
func NewManager(radio Radio, isAdapterReady func() bool, maxSessions int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		radio:          radio,
		isAdapterReady: isAdapterReady,
		maxSessions:    maxSessions,
		logger:         logger.With(slog.String("component", "session")),
		byHandle:       make(map[Handle]*record),
		byID:           make(map[uint32]*record),
		clients:        make(map[ClientID]map[Handle]struct{}),
		idAlloc:        newSessionIDAllocator(),
	}
}

// Run starts the receive loop that demultiplexes radio notifications to
// session records; it returns once ctx is cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.radio.Notifications():
			if !ok {
				return
			}
			m.dispatch(msg)
		}
	}
}

// Shutdown stops the receive loop started by Run.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) dispatch(msg uci.Message) {
	switch msg.Header.OID {
	case uci.OpcodeSessionStatusNtf:
		ntf, err := uci.ParseSessionStatusNotification(msg.Payload)
		if err != nil {
			m.logger.Warn("malformed session status ntf", slog.Any("err", err))
			return
		}
		m.handleStatusNotification(ntf)
	case uci.OpcodeRangeDataNtf:
		ntf, err := uci.ParseRangingDataNotification(msg.Payload)
		if err != nil {
			m.logger.Warn("malformed range data ntf", slog.Any("err", err))
			return
		}
		m.handleRangingData(ntf)
	}
}

func (m *Manager) lookupByID(id uint32) *record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *Manager) handleStatusNotification(ntf uci.SessionStatusNotification) {
	rec := m.lookupByID(ntf.SessionID)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	pending := rec.pendingStatus
	rec.mu.Unlock()
	if pending != nil {
		select {
		case pending <- ntf:
		default:
		}
	}
}

func (m *Manager) handleRangingData(ntf uci.RangingDataNotification) {
	rec := m.lookupByID(ntf.SessionID)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	state := rec.State
	cb := rec.callback
	engine := rec.aoaEngine
	rec.mu.Unlock()
	if state != StateActive || cb == nil {
		return
	}
	for _, meas := range ntf.Measurements {
		if meas.Discardable() {
			continue
		}
		report := RangingReport{
			SessionID:      ntf.SessionID,
			PeerAddr:       meas.PeerAddr,
			DistanceCM:     meas.DistanceCM,
			AzimuthRad:     meas.AzimuthRad,
			ElevationRad:   meas.ElevationRad,
			LineOfSight:    meas.LineOfSight,
			RSSI:           meas.RSSI,
			SlotIndex:      meas.SlotIndex,
			FrameSeqNumber: ntf.SequenceNumber,
		}
		if engine == nil {
			cb.OnRangingReport(report)
			continue
		}
		if err := engine.Feed(aoa.Measurement{
			Azimuth:      meas.AzimuthRad,
			HasElevation: true,
			Elevation:    meas.ElevationRad,
			Distance:     float64(meas.DistanceCM),
			AzimuthFOM:   float64(meas.AzimuthFOM) / 100,
			ElevationFOM: float64(meas.ElevationFOM) / 100,
			LineOfSight:  meas.LineOfSight,
			RSSI:         float64(meas.RSSI),
			SlotIndex:    int(meas.SlotIndex),
		}); err != nil {
			continue
		}
		estimate, err := engine.Result()
		if err != nil {
			continue
		}
		report.AzimuthRad = estimate.Azimuth
		report.ElevationRad = estimate.Elevation
		report.DistanceCM = uint16(estimate.Distance)
		cb.OnRangingReport(report)
	}
}

// OpenRanging allocates a session id, issues SESSION_INIT and the
// app-config parameter push, and blocks (bounded by operationTimeout)
// until the radio confirms IDLE. Rejects a duplicate handle, a full chip,
// or an adapter that isn't enabled.
func (m *Manager) OpenRanging(clientID ClientID, handle Handle, cb Callback, params OpenParams) error {
	if !m.isAdapterReady() {
		return ErrAdapterNotEnabled
	}

	m.mu.Lock()
	if _, exists := m.byHandle[handle]; exists {
		m.mu.Unlock()
		return ErrDuplicateSession
	}
	if len(m.byHandle) >= m.maxSessions {
		m.mu.Unlock()
		return ErrMaxSessionsReached
	}
	m.mu.Unlock()

	sessionID, err := m.idAlloc.allocate()
	if err != nil {
		return err
	}

	rec := &record{
		Record: Record{
			Handle:       handle,
			ClientID:     clientID,
			SessionID:    sessionID,
			Device:       params.Device,
			Session:      params.Session,
			Protocol:     params.Protocol,
			Params:       params.Params,
			ChipID:       params.ChipID,
			Peers:        params.Peers,
			State:        StateInit,
			UseAoAEngine: false,
		},
		callback:      cb,
		pendingStatus: make(chan uci.SessionStatusNotification, 1),
	}

	m.mu.Lock()
	m.byHandle[handle] = rec
	m.byID[sessionID] = rec
	if m.clients[clientID] == nil {
		m.clients[clientID] = make(map[Handle]struct{})
	}
	m.clients[clientID][handle] = struct{}{}
	m.mu.Unlock()

	sessionType := uci.SessionTypeFiRaRanging
	if params.Protocol == ProtocolCCC {
		sessionType = uci.SessionTypeCCCRanging
	}
	if err := m.radio.Send(uci.SessionInitCommand(sessionID, sessionType)); err != nil {
		m.discardSession(rec)
		return fmt.Errorf("session: session init: %w", err)
	}
	if params.Params != nil {
		if err := m.radio.Send(uci.SessionSetAppConfigCommand(sessionID, params.Params)); err != nil {
			m.discardSession(rec)
			return fmt.Errorf("session: app config push: %w", err)
		}
	}

	ntf, ok := m.awaitStatus(rec, operationTimeout)
	if !ok {
		m.synthesizeTimeoutClose(rec)
		return fmt.Errorf("session: open timed out")
	}
	if ntf.State != uci.SessionStateIdle {
		m.discardSession(rec)
		return fmt.Errorf("session: open rejected, radio reported %s", ntf.State)
	}

	rec.mu.Lock()
	result := ApplyEvent(rec.State, EventOpened)
	rec.State = result.NewState
	rec.mu.Unlock()
	return nil
}

// Start issues RANGE_START and blocks until the radio confirms ACTIVE.
func (m *Manager) Start(handle Handle) error {
	rec, err := m.find(handle)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	if rec.State != StateIdle {
		rec.mu.Unlock()
		return ErrNotIdle
	}
	rec.mu.Unlock()

	if err := m.radio.Send(uci.RangeStartCommand(rec.SessionID)); err != nil {
		return fmt.Errorf("session: range start: %w", err)
	}

	ntf, ok := m.awaitStatus(rec, operationTimeout)
	if !ok {
		m.synthesizeTimeoutClose(rec)
		return fmt.Errorf("session: start timed out")
	}
	if ntf.State != uci.SessionStateActive {
		return fmt.Errorf("session: start rejected, radio reported %s", ntf.State)
	}

	rec.mu.Lock()
	result := ApplyEvent(rec.State, EventStatusActive)
	rec.State = result.NewState
	cb := rec.callback
	rec.mu.Unlock()
	if cb != nil {
		cb.OnRangingStarted()
	}
	return nil
}

// Reconfigure pushes a new parameter set; permitted only while IDLE or
// ACTIVE.
func (m *Manager) Reconfigure(handle Handle, params *uci.Params) error {
	rec, err := m.find(handle)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	state := rec.State
	rec.mu.Unlock()
	if state != StateIdle && state != StateActive {
		return fmt.Errorf("session: reconfigure requires IDLE or ACTIVE, got %s", state)
	}
	return m.radio.Send(uci.SessionSetAppConfigCommand(rec.SessionID, params))
}

// Stop issues RANGE_STOP and blocks until the radio confirms IDLE.
func (m *Manager) Stop(handle Handle) error {
	rec, err := m.find(handle)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	if rec.State != StateActive {
		rec.mu.Unlock()
		return ErrNotActive
	}
	rec.mu.Unlock()

	if err := m.radio.Send(uci.RangeStopCommand(rec.SessionID)); err != nil {
		return fmt.Errorf("session: range stop: %w", err)
	}

	ntf, ok := m.awaitStatus(rec, operationTimeout)
	reason := uci.ReasonLocalAPI
	if !ok {
		m.synthesizeTimeoutClose(rec)
		return fmt.Errorf("session: stop timed out")
	}
	if ntf.Reason != 0 || ntf.State == uci.SessionStateIdle {
		reason = ntf.Reason
		if reason == 0 {
			reason = uci.ReasonLocalAPI
		}
	}

	rec.mu.Lock()
	result := ApplyEvent(rec.State, EventStatusIdle)
	rec.State = result.NewState
	cb := rec.callback
	rec.mu.Unlock()
	if cb != nil {
		cb.OnRangingStopped(reason)
	}
	return nil
}

// Close issues SESSION_DEINIT, releases the session id, and removes the
// record; terminal.
func (m *Manager) Close(handle Handle) error {
	rec, err := m.find(handle)
	if err != nil {
		return err
	}
	m.closeRecord(rec, uci.ReasonLocalAPI)
	return nil
}

func (m *Manager) closeRecord(rec *record, reason uci.ReasonCode) {
	_ = m.radio.Send(uci.SessionDeinitCommand(rec.SessionID))

	rec.mu.Lock()
	result := ApplyEvent(rec.State, EventCloseRequested)
	rec.State = result.NewState
	cb := rec.callback
	rec.mu.Unlock()

	m.discardSession(rec)
	if cb != nil {
		cb.OnRangingClosed(reason)
	}
}

func (m *Manager) discardSession(rec *record) {
	m.mu.Lock()
	delete(m.byHandle, rec.Handle)
	delete(m.byID, rec.SessionID)
	if set, ok := m.clients[rec.ClientID]; ok {
		delete(set, rec.Handle)
		if len(set) == 0 {
			delete(m.clients, rec.ClientID)
		}
	}
	m.mu.Unlock()
	m.idAlloc.release(rec.SessionID)
}

// UseAoAEngine wires an AoA correction engine into a session's
// ranging-notification path; subsequent RANGE_DATA_NTF measurements for
// this session are fed through engine before being reported.
func (m *Manager) UseAoAEngine(handle Handle, engine *aoa.Engine) error {
	rec, err := m.find(handle)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	rec.aoaEngine = engine
	rec.UseAoAEngine = engine != nil
	rec.mu.Unlock()
	return nil
}

func (m *Manager) find(handle Handle) (*record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byHandle[handle]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

func (m *Manager) awaitStatus(rec *record, timeout time.Duration) (uci.SessionStatusNotification, bool) {
	select {
	case ntf := <-rec.pendingStatus:
		return ntf, true
	case <-time.After(timeout):
		return uci.SessionStatusNotification{}, false
	}
}

// synthesizeTimeoutClose implements "on timeout, synthesize a close with
// reason UNKNOWN and report" for open/start/close-notify.
func (m *Manager) synthesizeTimeoutClose(rec *record) {
	m.closeRecord(rec, uci.ReasonUnknown)
}

// TrackClient spawns a watcher that, on the token reporting the client
// dead, synchronously stops (if ACTIVE) then closes every session that
// client owns.
func (m *Manager) TrackClient(ctx context.Context, clientID ClientID, token LivenessToken) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-token.Dead():
			m.handleClientDeath(clientID)
		}
	}()
}

func (m *Manager) handleClientDeath(clientID ClientID) {
	m.mu.Lock()
	handles := make([]Handle, 0, len(m.clients[clientID]))
	for h := range m.clients[clientID] {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		rec, err := m.find(h)
		if err != nil {
			continue
		}
		rec.mu.Lock()
		state := rec.State
		rec.mu.Unlock()
		if state == StateActive {
			_ = m.radio.Send(uci.RangeStopCommand(rec.SessionID))
		}
		m.closeRecord(rec, uci.ReasonUnknown)
	}
}
