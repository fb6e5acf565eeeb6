package pose

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestCapabilityHas(t *testing.T) {
	c := CapYaw | CapPitch
	if !c.Has(CapYaw) {
		t.Fatal("expected CapYaw set")
	}
	if c.Has(CapRoll) {
		t.Fatal("did not expect CapRoll set")
	}
	if !c.Has(CapYaw | CapPitch) {
		t.Fatal("expected both bits set")
	}
}

func TestRotationVectorSourceLifecycle(t *testing.T) {
	starts, stops := 0, 0
	s := NewRotationVectorSource(func() { starts++ }, func() { stops++ }, nil)

	if s.Capabilities() != (CapYaw | CapPitch | CapRoll | CapUpright) {
		t.Fatalf("unexpected capabilities: %v", s.Capabilities())
	}

	var got Pose
	unregA := s.Register(func(p Pose) { got = p })
	unregB := s.Register(func(Pose) {})
	if starts != 1 {
		t.Fatalf("expected exactly one start, got %d", starts)
	}

	s.Feed(quat.Number{Real: 1})
	if got.Rotation == (quat.Number{}) {
		t.Fatal("expected rotation to be populated")
	}

	snap, ok := s.Snapshot()
	if !ok || snap.Rotation != got.Rotation {
		t.Fatal("snapshot did not reflect last feed")
	}

	unregA()
	if stops != 0 {
		t.Fatal("stop must not fire while a listener remains")
	}
	unregB()
	if stops != 1 {
		t.Fatalf("expected exactly one stop, got %d", stops)
	}

	// Idempotent unregister.
	unregA()
	unregB()
	if stops != 1 {
		t.Fatalf("unregister must be idempotent, got %d stops", stops)
	}
}

func TestSixDOFSourceFeedsTranslationAndRotation(t *testing.T) {
	s := NewSixDOFSource(nil, nil, nil)
	if s.Capabilities() != (CapYaw | CapPitch | CapRoll | CapX | CapY | CapZ | CapUpright) {
		t.Fatalf("unexpected capabilities: %v", s.Capabilities())
	}

	var got Pose
	s.Register(func(p Pose) { got = p })
	s.Feed(r3.Vec{X: 1, Y: 2, Z: 3}, quat.Number{Real: 1})

	if got.Translation != (r3.Vec{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("translation not passed through: %v", got.Translation)
	}
}

func TestGyroIntegrationSourceNeverReportsUpright(t *testing.T) {
	s := NewGyroIntegrationSource(nil, nil, nil)
	if s.Capabilities().Has(CapUpright) {
		t.Fatal("gyro-integration source must never report CapUpright")
	}
	if s.Capabilities() != (CapYaw | CapPitch | CapRoll) {
		t.Fatalf("unexpected capabilities: %v", s.Capabilities())
	}
}

func TestGyroIntegrationSourceResetsOnRestart(t *testing.T) {
	s := NewGyroIntegrationSource(nil, nil, nil, WithIntegrationInterval(10*time.Millisecond))

	base := time.Unix(0, 0)
	unreg := s.Register(func(Pose) {})
	s.Feed(r3.Vec{Y: 1}, base)
	s.Feed(r3.Vec{Y: 1}, base.Add(10*time.Millisecond))
	unreg()

	// Re-registering restarts acquisition: the integrated quaternion
	// resets to identity before the next feed.
	unreg2 := s.Register(func(Pose) {})
	defer unreg2()
	if s.current != (quat.Number{Real: 1}) {
		t.Fatalf("expected integration state reset on restart, got %v", s.current)
	}
}

func TestGyroIntegrationSourceCapsStallStep(t *testing.T) {
	s := NewGyroIntegrationSource(nil, nil, nil, WithIntegrationInterval(10*time.Millisecond))
	s.Register(func(Pose) {})

	base := time.Unix(0, 0)
	s.Feed(r3.Vec{Y: 1}, base)
	// Large stall: elapsed time far exceeds the declared interval. The
	// applied integration step must be capped at 2x the interval rather
	// than accumulating the full stall gap.
	s.Feed(r3.Vec{Y: 1}, base.Add(5*time.Second))

	uncapped := angularVelocityToDelta(r3.Vec{Y: 1}, 5*time.Second)
	capped := angularVelocityToDelta(r3.Vec{Y: 1}, 20*time.Millisecond)
	if quat.Abs(quat.Sub(s.current, quat.Mul(quat.Number{Real: 1}, capped))) >
		quat.Abs(quat.Sub(s.current, quat.Mul(quat.Number{Real: 1}, uncapped))) {
		t.Fatal("expected integration step to be capped, not follow the full stall gap")
	}
}

func TestApplicationSourcePushMatrixIdentity(t *testing.T) {
	s := NewApplicationSource(CapX|CapY|CapZ|CapYaw|CapPitch|CapRoll, nil)

	var got Pose
	s.Register(func(p Pose) { got = p })

	identity := [16]float64{
		1, 0, 0, 5,
		0, 1, 0, 6,
		0, 0, 1, 7,
		0, 0, 0, 1,
	}
	s.PushMatrix(identity)

	if got.Translation != (r3.Vec{X: 5, Y: 6, Z: 7}) {
		t.Fatalf("unexpected translation: %v", got.Translation)
	}
	if math.Abs(got.Rotation.Real-1) > 1e-9 {
		t.Fatalf("expected identity rotation, got %v", got.Rotation)
	}
}

func TestApplicationSourcePushUsesPoseDirectly(t *testing.T) {
	s := NewApplicationSource(CapX, nil)
	var got Pose
	s.Register(func(p Pose) { got = p })

	rot := quat.Number{Real: 0, Imag: 1}
	s.Push(r3.Vec{X: 1}, rot)
	if got.Rotation != rot {
		t.Fatal("Push must not reframe the application-supplied rotation")
	}
}

func TestListenerPanicIsRemovedNotPropagated(t *testing.T) {
	s := NewApplicationSource(CapX, nil)
	calls := 0
	s.Register(func(Pose) { panic("boom") })
	s.Register(func(Pose) { calls++ })

	s.Push(r3.Vec{}, quat.Number{Real: 1})
	s.Push(r3.Vec{}, quat.Number{Real: 1})

	if calls != 2 {
		t.Fatalf("surviving listener expected 2 calls, got %d", calls)
	}
}
