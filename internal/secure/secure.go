// Package secure implements the four concrete secure ranging
// sub-session variants that run on top of a FiRa secure channel (see
// internal/fira): Controlee-Initiator, Controlee-Responder,
// Controller-Initiator, and Controller-Responder. Each drives the
// shared skeleton -- start, establish, exchange session data via
// CSML, commit locally or receive RDS-available, ready, terminate --
// on its own single-threaded cooperative event loop.
package secure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uwbcore/uwbd/internal/apdu"
	"github.com/uwbcore/uwbd/internal/fira"
)

// Data Object tags exchanged over the FiRa secure channel.
const (
	tagControleeInfo byte = 0x70
	tagSessionData   byte = 0x78
)

// swSessionDataNotYetAvailable is the status word the applet returns
// from a GET DO BF78 when session data has not been derived yet. The
// caller retries once before aborting.
const swSessionDataNotYetAvailable apdu.SW = 0x8701

// Callbacks delivers sub-session lifecycle events to the owning
// session manager (component I).
type Callbacks struct {
	// OnSessionDataReady fires once session data has been derived and
	// committed (or is ready to be committed) locally.
	OnSessionDataReady func(data []byte, rdsAlreadyArmed bool)
	// OnSessionAborted fires on any unrecoverable failure.
	OnSessionAborted func(reason error)
	// OnSessionTerminated fires when the remote signals a clean
	// termination.
	OnSessionTerminated func()
}

// DefaultTunnelTimeout is the bounded timeout on every outgoing
// tunnelled request; expiry unconditionally aborts the sub-session.
const DefaultTunnelTimeout = 2 * time.Second

// base holds the state and helpers shared by all four sub-session
// variants: the established FiRa channel, the peer's SECID, lifecycle
// callbacks, and the tunnel-with-timeout helper every variant builds
// its sequence from.
type base struct {
	cla           byte
	channel       *fira.Channel
	secid         byte
	callbacks     Callbacks
	tunnelTimeout time.Duration
	logger        *slog.Logger
}

func newBase(cla byte, channel *fira.Channel, secid byte, callbacks Callbacks, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		cla:           cla,
		channel:       channel,
		secid:         secid,
		callbacks:     callbacks,
		tunnelTimeout: DefaultTunnelTimeout,
		logger:        logger.With(slog.String("component", "secure")),
	}
}

// tunnel issues cmd to the remote applet under the bounded tunnel
// timeout. On timeout or transport failure, the channel is terminated
// locally and OnSessionAborted fires before the error is returned.
func (b *base) tunnel(ctx context.Context, cmd apdu.Command) (apdu.DispatchResponse, error) {
	tctx, cancel := context.WithTimeout(ctx, b.tunnelTimeout)
	defer cancel()

	resp, err := b.channel.TunnelToRemoteDevice(tctx, b.secid, cmd)
	if err != nil {
		b.abort(fmt.Errorf("secure: tunnel request: %w", err))
		return apdu.DispatchResponse{}, err
	}
	return b.checkTransactionErrors(resp)
}

// local issues cmd directly against the local applet.
func (b *base) local(cmd apdu.Command) (apdu.DispatchResponse, error) {
	resp, err := b.channel.SendLocalFiRaCommand(cmd)
	if err != nil {
		b.abort(fmt.Errorf("secure: local request: %w", err))
		return apdu.DispatchResponse{}, err
	}
	return b.checkTransactionErrors(resp)
}

// checkTransactionErrors surfaces a "transaction complete, errors"
// dispatch response (outbound kind with no status word at all, or an
// explicit failure status) as an abort.
func (b *base) checkTransactionErrors(resp apdu.DispatchResponse) (apdu.DispatchResponse, error) {
	if resp.SW != nil && !resp.SW.Success() && *resp.SW != swSessionDataNotYetAvailable {
		err := &apdu.ErrCommandFailed{SW: *resp.SW}
		b.abort(fmt.Errorf("secure: %w", err))
		return apdu.DispatchResponse{}, err
	}
	if resp.SW == nil && resp.Payload == nil && resp.Notification == nil {
		err := fmt.Errorf("secure: transaction complete with errors, outbound=%v", resp.Outbound)
		b.abort(err)
		return apdu.DispatchResponse{}, err
	}
	return resp, nil
}

func (b *base) abort(reason error) {
	b.channel.TerminateLocally()
	if err := b.channel.CleanUpTerminatedOrAbortedSession(); err != nil {
		b.logger.Warn("cleanup after abort failed", slog.Any("err", err))
	}
	if b.callbacks.OnSessionAborted != nil {
		b.callbacks.OnSessionAborted(reason)
	}
}

// deriveSessionData is the opaque, applet-supplied algorithm that
// turns a remote controlee's info into session data. The concrete
// derivation lives in the applet; this package only moves the bytes.
func deriveSessionData(controleeInfo []byte) []byte {
	return append([]byte(nil), controleeInfo...)
}

func rdsAvailable(resp apdu.DispatchResponse) bool {
	return resp.Notification != nil && resp.Notification.RDSAvailable
}
