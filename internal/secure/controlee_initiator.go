package secure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uwbcore/uwbd/internal/apdu"
	"github.com/uwbcore/uwbd/internal/fira"
)

// ControleeInitiator speaks first after the channel establishes: it
// pushes its own controlee info to the remote applet, then fetches
// (or locally derives) session data.
type ControleeInitiator struct {
	base
}

// NewControleeInitiator constructs a Controlee-Initiator sub-session.
func NewControleeInitiator(cla byte, channel *fira.Channel, secid byte, callbacks Callbacks, logger *slog.Logger) *ControleeInitiator {
	return &ControleeInitiator{base: newBase(cla, channel, secid, callbacks, logger)}
}

// Run drives the sub-session to completion: pushes controlee info,
// then resolves session data via whichever path the remote signals.
func (s *ControleeInitiator) Run(ctx context.Context, controleeInfo []byte) {
	resp, err := s.tunnel(ctx, apdu.PutDO(s.cla, tagControleeInfo, controleeInfo))
	if err != nil {
		return // already aborted by tunnel()
	}
	if resp.SW == nil || !resp.SW.Success() {
		s.abort(fmt.Errorf("secure: controlee-initiator: controlee info push rejected"))
		return
	}

	s.resolveSessionData(ctx, true)
}

// resolveSessionData implements the GET DO BF78 response paths. retry
// is true on the first attempt, so a "not yet available" status word
// retries exactly once before aborting.
func (s *ControleeInitiator) resolveSessionData(ctx context.Context, retry bool) {
	resp, err := s.tunnel(ctx, apdu.GetDO(s.cla, tagSessionData))
	if err != nil {
		return
	}

	switch {
	case resp.SW != nil && *resp.SW == swSessionDataNotYetAvailable:
		if !retry {
			s.abort(fmt.Errorf("secure: controlee-initiator: session data still not available after retry"))
			return
		}
		s.resolveSessionData(ctx, false)

	case resp.Payload != nil:
		// Session data inline: rdsArmed is always false here, regardless
		// of the notification's RDS-available flag.
		s.callbacks.OnSessionDataReady(resp.Payload, false)

	case rdsAvailable(resp):
		// RDS ready but no inline data: try the local applet first,
		// and if it doesn't have it either, commit it there.
		local, err := s.local(apdu.GetDO(s.cla, tagSessionData))
		if err != nil {
			return
		}
		if local.Payload != nil {
			s.callbacks.OnSessionDataReady(local.Payload, true)
			return
		}
		if _, err := s.local(apdu.PutDO(s.cla, tagSessionData, deriveSessionData(resp.Payload))); err != nil {
			return
		}
		s.callbacks.OnSessionDataReady(nil, true)

	case resp.Outbound == apdu.OutboundToRemote:
		if err := s.channel.SendRawDataToRemote(s.secid, resp.Payload); err != nil {
			s.abort(fmt.Errorf("secure: controlee-initiator: forward raw outbound: %w", err))
		}

	default:
		s.abort(fmt.Errorf("secure: controlee-initiator: unrecognized session-data response"))
	}
}
