package aoa

import (
	"fmt"
	"log/slog"

	"github.com/uwbcore/uwbd/internal/pose"
)

// Engine pipelines a raw spherical measurement through the configured
// primers and then through a position filter, applying pose
// compensation on every device-pose update so the filtered estimate
// stays locked to the peer's position in the world rather than drifting
// with the device's own motion.
type Engine struct {
	primers        []Primer
	position       *PositionFilter
	backAzimuth    *BackAzimuthResolver
	unregisterPose func()

	lastPose    pose.Pose
	haveLastYaw float64
	havePose    bool

	logger *slog.Logger
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithBackAzimuthResolver enables back-azimuth resolution with the
// given resolver.
func WithBackAzimuthResolver(r *BackAzimuthResolver) Option {
	return func(e *Engine) { e.backAzimuth = r }
}

// WithLogger overrides the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine with the given primer chain (applied in order)
// and position filter, and subscribes to src for pose-compensation
// updates. The returned Engine must be closed with Close to unsubscribe
// from src.
func New(primers []Primer, position *PositionFilter, src pose.Source, opts ...Option) *Engine {
	e := &Engine{
		primers:  primers,
		position: position,
		logger:   slog.Default().With(slog.String("component", "aoa")),
	}
	for _, opt := range opts {
		opt(e)
	}

	if src != nil {
		e.unregisterPose = src.Register(e.onPose)
		if snap, ok := src.Snapshot(); ok {
			e.lastPose = snap
			e.havePose = true
		}
	}
	return e
}

// Close unsubscribes the engine from its pose source.
func (e *Engine) Close() {
	if e.unregisterPose != nil {
		e.unregisterPose()
	}
}

// onPose applies pose compensation to the current position filter
// estimate whenever a new device pose arrives, preserving the
// world-locked position of the tracked peer across device motion.
func (e *Engine) onPose(p pose.Pose) {
	if !e.havePose {
		e.lastPose = p
		e.havePose = true
		return
	}

	current, err := e.position.Result()
	if err != nil {
		// Nothing retained yet to compensate.
		e.lastPose = p
		return
	}

	dAz, dEl, dDist := poseCompensationDelta(current, e.lastPose, p)
	e.position.Compensate(dAz, dEl, dDist)
	e.lastPose = p
}

// Feed primes a raw measurement through the configured primer chain and
// adds the result to the position filter. A measurement rejected by a
// primer (e.g. outside the configured field of view) is dropped and
// its error returned; this is not necessarily a fatal condition for the
// caller.
func (e *Engine) Feed(m Measurement) error {
	var err error
	for _, p := range e.primers {
		m, err = p.Apply(m)
		if err != nil {
			return fmt.Errorf("aoa: primer rejected measurement: %w", err)
		}
	}
	e.position.Add(m)
	return nil
}

// Result returns the current filtered, pose-compensated estimate. When
// back-azimuth resolution is configured, the returned azimuth is
// disambiguated against the device's own recent yaw motion; if the
// resolver's confidence is below its floor the estimate is returned
// unmodified.
func (e *Engine) Result() (Estimate, error) {
	est, err := e.position.Result()
	if err != nil {
		return Estimate{}, err
	}
	if e.backAzimuth == nil {
		return est, nil
	}

	yawMotion := 0.0
	if e.havePose {
		yaw := yawOf(e.lastPose)
		yawMotion = normalizeAngle(yaw - e.haveLastYaw)
		e.haveLastYaw = yaw
	}
	resolved, confident := e.backAzimuth.Resolve(est.Azimuth, yawMotion)
	if !confident {
		return est, nil
	}
	est.Azimuth = resolved
	return est, nil
}
