package secure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uwbcore/uwbd/internal/apdu"
	"github.com/uwbcore/uwbd/internal/fira"
)

// ControllerInitiator fetches the remote controlee's info, derives
// session data, and pushes it to the controlee.
type ControllerInitiator struct {
	base
}

// NewControllerInitiator constructs a Controller-Initiator sub-session.
func NewControllerInitiator(cla byte, channel *fira.Channel, secid byte, callbacks Callbacks, logger *slog.Logger) *ControllerInitiator {
	return &ControllerInitiator{base: newBase(cla, channel, secid, callbacks, logger)}
}

// Run fetches remote controlee info, derives session data, and pushes
// it to the controlee, additionally committing it locally if the
// local applet needs it too.
func (s *ControllerInitiator) Run(ctx context.Context) {
	resp, err := s.tunnel(ctx, apdu.GetDO(s.cla, tagControleeInfo))
	if err != nil {
		return
	}
	if resp.Payload == nil {
		s.abort(fmt.Errorf("secure: controller-initiator: controlee info response carried no payload"))
		return
	}

	sessionData := deriveSessionData(resp.Payload)

	pushed, err := s.tunnel(ctx, apdu.PutDO(s.cla, tagSessionData, sessionData))
	if err != nil {
		return
	}
	if pushed.SW == nil || !pushed.SW.Success() {
		s.abort(fmt.Errorf("secure: controller-initiator: session data push rejected"))
		return
	}
	if !rdsAvailable(pushed) {
		s.abort(fmt.Errorf("secure: controller-initiator: session data push missing rds-available notification"))
		return
	}

	if _, err := s.local(apdu.PutDO(s.cla, tagSessionData, sessionData)); err != nil {
		return
	}

	s.callbacks.OnSessionDataReady(sessionData, true)
}
