package fira

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uwbcore/uwbd/internal/apdu"
	"github.com/uwbcore/uwbd/internal/connector"
)

// SecureElement is the platform SE interface a Channel opens a logical
// channel against. Actual SE access (an embedded SE, eSE, or SIM
// applet interface) is an external collaborator behind this interface.
type SecureElement interface {
	// OpenLogicalChannel selects the ADF named by aid and returns a
	// channel handle for subsequent Transmit calls.
	OpenLogicalChannel(aid []byte) (channelID byte, err error)
	// CloseLogicalChannel releases a previously opened channel.
	CloseLogicalChannel(channelID byte) error
	// Transmit sends a command APDU on channelID and returns the
	// response APDU.
	Transmit(channelID byte, commandAPDU []byte) (responseAPDU []byte, err error)
}

// Tunnel is the transport this channel forwards tunneled and raw
// outbound traffic across. internal/connector.Connector satisfies
// this directly.
type Tunnel interface {
	Send(secid byte, msg connector.Message) error
}

// SetupErrorKind classifies a channel setup failure.
type SetupErrorKind int

const (
	SetupErrorOpenSEChannel SetupErrorKind = iota
	SetupErrorMutualAuth
)

// SetupError is posted on the SetUpErrors channel exactly once, when
// EventSetupError fires.
type SetupError struct {
	Kind SetupErrorKind
	Err  error
}

// DispatchAvailable is posted on DispatchResponses whenever a tunneled
// command's correlated response, or an unsolicited applet
// notification, becomes available.
type DispatchAvailable struct {
	SECID    byte
	Response apdu.DispatchResponse
}

// Channel is a FiRa secure channel: one logical channel to a remote
// device's FiRa applet, multiplexing local, tunneled, and raw outbound
// traffic over it per internal/connector's framed transport.
type Channel struct {
	se        SecureElement
	tunnel    Tunnel
	channelID byte

	mu    sync.Mutex
	state State

	// pending holds the single in-flight tunneled request, if any.
	// The FiRa applet processes one dispatch-triggering command at a
	// time per sub-session, so at most one tunnel request is ever
	// outstanding.
	pending chan apdu.DispatchResponse

	DispatchResponses chan DispatchAvailable
	SetUpErrors       chan SetupError

	logger *slog.Logger
}

// Open opens a logical channel against aid and performs mutual auth,
// driving the channel FSM to Established on success.
func Open(ctx context.Context, se SecureElement, tunnel Tunnel, aid []byte, authenticate func(channelID byte) error, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{
		se:                se,
		tunnel:            tunnel,
		state:             StateInitiating,
		DispatchResponses: make(chan DispatchAvailable, 16),
		SetUpErrors:       make(chan SetupError, 1),
		logger:            logger.With(slog.String("component", "fira")),
	}

	channelID, err := se.OpenLogicalChannel(aid)
	if err != nil {
		c.apply(EventSetupError)
		c.SetUpErrors <- SetupError{Kind: SetupErrorOpenSEChannel, Err: err}
		return nil, fmt.Errorf("fira: open logical channel: %w", err)
	}
	c.channelID = channelID

	if err := authenticate(channelID); err != nil {
		c.apply(EventSetupError)
		c.SetUpErrors <- SetupError{Kind: SetupErrorMutualAuth, Err: err}
		return nil, fmt.Errorf("fira: mutual auth: %w", err)
	}

	c.apply(EventChannelOpened)
	return c, nil
}

// IsEstablished reports whether the channel has completed setup and
// has not yet terminated.
func (c *Channel) IsEstablished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateEstablished
}

// TerminateLocally moves the channel to Terminated without contacting
// the peer.
func (c *Channel) TerminateLocally() {
	c.apply(EventTerminateLocally)
}

// CleanUpTerminatedOrAbortedSession releases the underlying SE logical
// channel. Safe to call once the channel has reached Terminated.
func (c *Channel) CleanUpTerminatedOrAbortedSession() error {
	if err := c.se.CloseLogicalChannel(c.channelID); err != nil {
		return fmt.Errorf("fira: close logical channel: %w", err)
	}
	return nil
}

func (c *Channel) apply(event Event) {
	c.mu.Lock()
	result := ApplyEvent(c.state, event)
	c.state = result.NewState
	c.mu.Unlock()

	for _, action := range result.Actions {
		switch action {
		case ActionNotifyEstablished:
			c.logger.Info("fira secure channel established")
		case ActionNotifySetupError:
			c.logger.Warn("fira secure channel setup failed")
		case ActionCleanUp:
			c.logger.Info("fira secure channel terminated")
		}
	}
}

// SendLocalFiRaCommand issues cmd directly against our own applet on
// this logical channel and returns its parsed dispatch response.
func (c *Channel) SendLocalFiRaCommand(cmd apdu.Command) (apdu.DispatchResponse, error) {
	raw, err := cmd.Marshal()
	if err != nil {
		return apdu.DispatchResponse{}, fmt.Errorf("fira: local command: %w", err)
	}

	responseAPDU, err := c.se.Transmit(c.channelID, raw)
	if err != nil {
		return apdu.DispatchResponse{}, fmt.Errorf("fira: local command transmit: %w", err)
	}

	resp, err := apdu.UnmarshalResponse(responseAPDU)
	if err != nil {
		return apdu.DispatchResponse{}, fmt.Errorf("fira: local command response: %w", err)
	}
	if err := resp.CheckSuccess(); err != nil {
		return apdu.DispatchResponse{}, err
	}
	return apdu.ParseDispatchResponse(resp.Data)
}

// TunnelToRemoteDevice sends cmd's encoded APDU to the remote applet
// over the given SECID as the payload of a connector data-exchange
// command message (no separate TUNNEL APDU wraps it), blocking until the
// correlated dispatch response arrives on DeliverDispatchResponse or
// ctx is cancelled.
func (c *Channel) TunnelToRemoteDevice(ctx context.Context, secid byte, cmd apdu.Command) (apdu.DispatchResponse, error) {
	raw, err := cmd.Marshal()
	if err != nil {
		return apdu.DispatchResponse{}, fmt.Errorf("fira: tunnel command: %w", err)
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return apdu.DispatchResponse{}, fmt.Errorf("fira: tunnel command: a request is already in flight")
	}
	result := make(chan apdu.DispatchResponse, 1)
	c.pending = result
	c.mu.Unlock()

	msg := connector.Message{Type: connector.TypeCommand, Instruction: connector.InstructionDataExchange, Payload: raw}
	if err := c.tunnel.Send(secid, msg); err != nil {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		return apdu.DispatchResponse{}, fmt.Errorf("fira: tunnel send: %w", err)
	}

	select {
	case resp := <-result:
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		return apdu.DispatchResponse{}, fmt.Errorf("fira: tunnel command: %w", ctx.Err())
	}
}

// SendRawDataToRemote forwards pre-formed bytes to the remote device
// as-is, with no response expected. Used when an applet's dispatch
// response indicates the outbound target is the remote.
func (c *Channel) SendRawDataToRemote(secid byte, raw []byte) error {
	msg := connector.Message{Type: connector.TypeEvent, Instruction: connector.InstructionDataExchange, Payload: raw}
	if err := c.tunnel.Send(secid, msg); err != nil {
		return fmt.Errorf("fira: raw outbound: %w", err)
	}
	return nil
}

// DeliverDispatchResponse is called by the owning session's receive
// loop for every Message arriving from the remote applet. If a
// tunneled request is in flight, the parsed dispatch response is
// delivered to it; otherwise it is an unsolicited notification,
// published on DispatchResponses.
func (c *Channel) DeliverDispatchResponse(secid byte, payload []byte) error {
	resp, err := apdu.ParseDispatchResponse(payload)
	if err != nil {
		return fmt.Errorf("fira: dispatch response: %w", err)
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if pending != nil {
		pending <- resp
		return nil
	}

	c.DispatchResponses <- DispatchAvailable{SECID: secid, Response: resp}
	return nil
}
