package secure

import (
	"context"
	"log/slog"

	"github.com/uwbcore/uwbd/internal/apdu"
	"github.com/uwbcore/uwbd/internal/fira"
)

// ControleeResponder is passive: it waits for the remote applet's
// dispatch notifications rather than speaking first.
type ControleeResponder struct {
	base
}

// NewControleeResponder constructs a Controlee-Responder sub-session.
func NewControleeResponder(cla byte, channel *fira.Channel, secid byte, callbacks Callbacks, logger *slog.Logger) *ControleeResponder {
	return &ControleeResponder{base: newBase(cla, channel, secid, callbacks, logger)}
}

// Run blocks, handling unsolicited dispatch notifications on the
// channel until session data is ready or the remote terminates, or
// ctx is cancelled.
func (s *ControleeResponder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case avail := <-s.channel.DispatchResponses:
			if avail.SECID != s.secid {
				continue
			}
			if done := s.handleNotification(ctx, avail.Response); done {
				return
			}
		}
	}
}

// handleNotification processes one unsolicited dispatch response and
// reports whether the sub-session has reached a terminal outcome.
func (s *ControleeResponder) handleNotification(ctx context.Context, resp apdu.DispatchResponse) bool {
	switch {
	case resp.Payload != nil:
		// Session data inline: rdsArmed is always false here, regardless
		// of the notification's RDS-available flag.
		s.callbacks.OnSessionDataReady(resp.Payload, false)
		return true

	case rdsAvailable(resp):
		local, err := s.local(apdu.GetDO(s.cla, tagSessionData))
		if err != nil {
			return true
		}
		s.callbacks.OnSessionDataReady(local.Payload, true)
		return true

	case resp.SW != nil && !resp.SW.Success():
		if s.callbacks.OnSessionTerminated != nil {
			s.callbacks.OnSessionTerminated()
		}
		return true

	default:
		return false
	}
}
