package secure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uwbcore/uwbd/internal/apdu"
	"github.com/uwbcore/uwbd/internal/fira"
)

// ControllerResponder waits for the applet to notify it of the
// remote's controlee info, derives and commits session data locally,
// then waits for RDS-available before surfacing ready.
type ControllerResponder struct {
	base
}

// NewControllerResponder constructs a Controller-Responder sub-session.
func NewControllerResponder(cla byte, channel *fira.Channel, secid byte, callbacks Callbacks, logger *slog.Logger) *ControllerResponder {
	return &ControllerResponder{base: newBase(cla, channel, secid, callbacks, logger)}
}

// Run blocks waiting for the controlee-info notification, derives and
// locally commits session data, then waits for RDS-available.
func (s *ControllerResponder) Run(ctx context.Context) {
	controleeInfo, ok := s.awaitControleeInfo(ctx)
	if !ok {
		return
	}

	sessionData := deriveSessionData(controleeInfo)
	if _, err := s.local(apdu.PutDO(s.cla, tagSessionData, sessionData)); err != nil {
		return
	}

	if !s.awaitRDSAvailable(ctx) {
		return
	}
	s.callbacks.OnSessionDataReady(sessionData, true)
}

// awaitControleeInfo waits for a notification carrying the remote
// controlee-info TLV, identified by its characteristic length (it
// embeds a 4-byte BF70 dispatch payload) rather than matching the
// RDS-available 2-byte flag shape.
func (s *ControllerResponder) awaitControleeInfo(ctx context.Context) ([]byte, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case avail := <-s.channel.DispatchResponses:
			if avail.SECID != s.secid || avail.Response.Notification == nil {
				continue
			}
			for _, tlv := range avail.Response.Notification.Unknown {
				if len(tlv.Value) > 2 {
					return tlv.Value, true
				}
			}
		}
	}
}

func (s *ControllerResponder) awaitRDSAvailable(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			s.abort(fmt.Errorf("secure: controller-responder: %w", ctx.Err()))
			return false
		case avail := <-s.channel.DispatchResponses:
			if avail.SECID != s.secid {
				continue
			}
			if rdsAvailable(avail.Response) {
				return true
			}
		}
	}
}
