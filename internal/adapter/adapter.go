// Package adapter owns the UWB adapter's enable/disable lifecycle: the
// persisted global toggle, airplane-mode gating, chip enumeration, and
// the watchdog-protected HAL enable/disable calls. It is the process's
// single shared owner of the HAL connection -- internal/session's
// Manager cannot open a ranging session until the adapter reports
// StateEnabledActive.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the adapter's externally observable state, derived from the
// chip's device status plus the global toggle and the airplane-mode
// gate.
type State uint8

const (
	StateDisabled State = iota
	StateEnabledInactive
	StateEnabledActive
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateEnabledInactive:
		return "ENABLED_INACTIVE"
	case StateEnabledActive:
		return "ENABLED_ACTIVE"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ErrWatchdogTimeout indicates the HAL did not complete an enable/disable
// call within the watchdog window.
var ErrWatchdogTimeout = errors.New("adapter: watchdog timeout waiting for hal")

// ErrNotEnabled indicates an operation was attempted while the adapter
// was not enabled.
var ErrNotEnabled = errors.New("adapter: not enabled")

// ChipInfo describes one enumerated UWB chip.
type ChipInfo struct {
	ChipID        string
	FirmwareVersion string
	MacAddress    string
}

// HAL is the platform UWB chip driver this package drives. Toggle must be
// idempotent and must report completion (or an error) before returning;
// the watchdog exists because real HALs sometimes hang.
type HAL interface {
	Toggle(ctx context.Context, enable bool) error
	Chips(ctx context.Context) ([]ChipInfo, error)
}

// PersistentStore persists the single SETTINGS_TOGGLE_STATE boolean
// across restarts.
type PersistentStore interface {
	ToggleState() bool
	SetToggleState(enabled bool) error
}

// StateCallback is invoked on every adapter state transition.
type StateCallback func(state State)

// watchdogTimeout bounds every HAL enable/disable call.
const watchdogTimeout = 10 * time.Second

// Adapter owns the global toggle, airplane-mode gate, and chip
// enumeration, replaying the persisted toggle to the HAL on boot before
// any other call.
type Adapter struct {
	hal   HAL
	store PersistentStore
	log   *slog.Logger

	mu           sync.Mutex
	state        State
	userToggle   bool
	airplaneMode bool
	chips        []ChipInfo
	callbacks    map[int]StateCallback
	nextCBID     int

	wakeMu sync.Mutex
	awake  bool
}

// New constructs an Adapter. Boot does not happen until Boot is called.
func New(hal HAL, store PersistentStore, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		hal:       hal,
		store:     store,
		log:       logger.With(slog.String("component", "adapter")),
		callbacks: make(map[int]StateCallback),
	}
}

// Boot replays the persisted toggle state to the HAL before any other
// call is permitted, per the persisted-toggle-on-boot contract. While
// airplane mode is on, the HAL is driven off instead.
func (a *Adapter) Boot(ctx context.Context) error {
	a.mu.Lock()
	a.userToggle = a.store.ToggleState()
	enable := a.userToggle && !a.airplaneMode
	a.mu.Unlock()
	return a.applyToggle(ctx, enable)
}

// RegisterAdapterStateCallbacks registers cb and returns a token for
// UnregisterAdapterStateCallbacks.
func (a *Adapter) RegisterAdapterStateCallbacks(cb StateCallback) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextCBID
	a.nextCBID++
	a.callbacks[id] = cb
	return id
}

// UnregisterAdapterStateCallbacks removes a previously registered
// callback. A no-op if token is unknown.
func (a *Adapter) UnregisterAdapterStateCallbacks(token int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.callbacks, token)
}

// GetAdapterState synchronously returns the adapter's current state.
func (a *Adapter) GetAdapterState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsEnabled reports whether the adapter is usable by internal/session --
// true only in StateEnabledActive.
func (a *Adapter) IsEnabled() bool {
	return a.GetAdapterState() == StateEnabledActive
}

// GetChipInfos returns the chips enumerated at the last successful
// enable.
func (a *Adapter) GetChipInfos() []ChipInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ChipInfo(nil), a.chips...)
}

// GetDefaultChipID returns the first enumerated chip's id, or "" if none.
func (a *Adapter) GetDefaultChipID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.chips) == 0 {
		return ""
	}
	return a.chips[0].ChipID
}

// SetEnabled is the user-facing toggle. While airplane mode is on, the
// user toggle is recorded and persisted but the HAL is left off and nil
// is returned; turning airplane mode off re-asserts it.
func (a *Adapter) SetEnabled(ctx context.Context, enabled bool) error {
	a.mu.Lock()
	a.userToggle = enabled
	airplane := a.airplaneMode
	a.mu.Unlock()

	if err := a.store.SetToggleState(enabled); err != nil {
		a.log.Warn("persist toggle state failed", slog.Any("err", err))
	}

	if airplane {
		return nil // HAL stays off; re-asserted when airplane mode clears
	}
	return a.applyToggle(ctx, enabled)
}

// SetAirplaneMode updates the airplane-mode gate. Turning it on forces
// the HAL toggle false regardless of the user toggle; turning it off
// re-asserts the user toggle.
func (a *Adapter) SetAirplaneMode(ctx context.Context, on bool) error {
	a.mu.Lock()
	a.airplaneMode = on
	userToggle := a.userToggle
	a.mu.Unlock()

	if on {
		return a.applyToggle(ctx, false)
	}
	return a.applyToggle(ctx, userToggle)
}

// applyToggle drives the HAL under the watchdog and updates state +
// chip enumeration on success, notifying every registered callback.
func (a *Adapter) applyToggle(ctx context.Context, enable bool) error {
	if err := a.withWatchdog(ctx, func(ctx context.Context) error {
		return a.hal.Toggle(ctx, enable)
	}); err != nil {
		return err
	}

	var chips []ChipInfo
	newState := StateDisabled
	if enable {
		var err error
		chips, err = a.hal.Chips(ctx)
		if err != nil {
			return fmt.Errorf("adapter: enumerate chips: %w", err)
		}
		if len(chips) > 0 {
			newState = StateEnabledActive
		} else {
			newState = StateEnabledInactive
		}
	}

	a.mu.Lock()
	changed := a.state != newState
	a.state = newState
	a.chips = chips
	callbacks := make([]StateCallback, 0, len(a.callbacks))
	for _, cb := range a.callbacks {
		callbacks = append(callbacks, cb)
	}
	a.mu.Unlock()

	if changed {
		for _, cb := range callbacks {
			cb(newState)
		}
	}
	return nil
}

// withWatchdog acquires the wake token, runs fn on a separate goroutine,
// and releases the token if fn does not complete within
// watchdogTimeout -- protecting the caller from a hung HAL without
// leaking the goroutine's eventual completion.
func (a *Adapter) withWatchdog(ctx context.Context, fn func(ctx context.Context) error) error {
	a.wakeMu.Lock()
	if a.awake {
		a.wakeMu.Unlock()
		return fmt.Errorf("adapter: enable/disable already in flight")
	}
	a.awake = true
	a.wakeMu.Unlock()

	release := func() {
		a.wakeMu.Lock()
		a.awake = false
		a.wakeMu.Unlock()
	}

	wctx, cancel := context.WithTimeout(ctx, watchdogTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(wctx) }()

	select {
	case err := <-result:
		release()
		return err
	case <-wctx.Done():
		release()
		return ErrWatchdogTimeout
	}
}
