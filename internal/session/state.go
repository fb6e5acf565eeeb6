package session

import "fmt"

// State is a session record's position in the INIT -> IDLE -> ACTIVE -> IDLE
// -> DEINIT lifecycle. ACTIVE is the only state in which ranging
// notifications may be produced; IDLE and ACTIVE are the states accepting
// reconfigure; DEINIT is terminal.
type State uint8

const (
	StateInit State = iota
	StateIdle
	StateActive
	StateDeinit
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateDeinit:
		return "DEINIT"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event drives a session record's state transitions, arriving either from
// a local action (openRanging/start/stop/close) or from a UCI
// SESSION_STATUS_NTF.
type Event uint8

const (
	EventOpened Event = iota
	EventStartRequested
	EventStatusActive
	EventStopRequested
	EventStatusIdle
	EventCloseRequested
	EventStatusDeinit
)

func (e Event) String() string {
	switch e {
	case EventOpened:
		return "Opened"
	case EventStartRequested:
		return "StartRequested"
	case EventStatusActive:
		return "StatusActive"
	case EventStopRequested:
		return "StopRequested"
	case EventStatusIdle:
		return "StatusIdle"
	case EventCloseRequested:
		return "CloseRequested"
	case EventStatusDeinit:
		return "StatusDeinit"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

type stateEvent struct {
	state State
	event Event
}

// Result reports a transition's outcome: the state before/after, and
// whether the event was valid from the prior state.
type Result struct {
	OldState State
	NewState State
	Changed  bool
}

var fsmTable = map[stateEvent]State{
	{StateInit, EventOpened}: StateIdle,

	{StateIdle, EventStartRequested}: StateIdle, // stays Idle until the radio confirms
	{StateIdle, EventStatusActive}:   StateActive,
	{StateIdle, EventCloseRequested}: StateDeinit,
	{StateIdle, EventStatusDeinit}:   StateDeinit,

	{StateActive, EventStopRequested}: StateActive, // stays Active until the radio confirms
	{StateActive, EventStatusIdle}:    StateIdle,
	{StateActive, EventStatusDeinit}:  StateDeinit, // forced close while ranging
	{StateActive, EventCloseRequested}: StateDeinit,
}

// ApplyEvent is a pure function computing the next state for (currentState,
// event), or reporting the event as invalid (Changed=false, NewState ==
// currentState) if no transition is defined.
func ApplyEvent(current State, event Event) Result {
	next, ok := fsmTable[stateEvent{current, event}]
	if !ok {
		return Result{OldState: current, NewState: current, Changed: false}
	}
	return Result{OldState: current, NewState: next, Changed: true}
}
