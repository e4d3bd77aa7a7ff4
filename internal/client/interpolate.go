package client

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/dkeye/Logotopia/internal/protocol"
)

const DefaultInterpDelay = 100 * time.Millisecond

// Pose is the render-time state handed to the display layer. Snapshot holds
// interpolated position and orientation/heading; every discrete field comes
// from the later bracketing snapshot.
type Pose struct {
	protocol.Snapshot
	RenderTime time.Time
}

// Interpolate computes the pose at now-delay. There is no extrapolation:
// past the newest entry the newest snapshot is returned unchanged.
func Interpolate(buf *SnapshotBuffer, now time.Time, delay time.Duration) (Pose, bool) {
	latest, ok := buf.Latest()
	if !ok {
		return Pose{}, false
	}
	renderTime := now.Add(-delay)
	if !renderTime.Before(latest.At) {
		return Pose{Snapshot: cloneSnapshot(latest.Snapshot), RenderTime: renderTime}, true
	}

	s0, s1, _ := buf.Around(renderTime)
	f := 1.0
	if d := s1.At.Sub(s0.At); d > 0 {
		f = mgl64.Clamp(float64(renderTime.Sub(s0.At))/float64(d), 0, 1)
	}
	return Pose{Snapshot: blend(s0.Snapshot, s1.Snapshot, f), RenderTime: renderTime}, true
}

func blend(a, b protocol.Snapshot, f float64) protocol.Snapshot {
	out := cloneSnapshot(b)
	pos := lerpVec3(a.Position(), b.Position(), f)

	switch {
	case a.Mode == protocol.ModeFlying && b.Mode == protocol.ModeFlying:
		out.Flying.Position = pos
		out.Flying.Orientation = Slerp(a.Flying.Orientation, b.Flying.Orientation, f)
	case a.Mode == protocol.ModeWalking && b.Mode == protocol.ModeWalking:
		out.Walking.Position = pos
		out.Walking.Heading = LerpAngle(a.Walking.Heading, b.Walking.Heading, f)
	default:
		// mode switched inside the bracket: keep b's orientation, move only
		setPosition(&out, pos)
	}
	return out
}

func lerpVec3(a, b mgl64.Vec3, f float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(f))
}

// Slerp interpolates along the shorter arc between two orientations.
func Slerp(q0, q1 mgl64.Quat, f float64) mgl64.Quat {
	q0, q1 = q0.Normalize(), q1.Normalize()
	if q0.Dot(q1) < 0 {
		q1 = q1.Scale(-1)
	}
	return mgl64.QuatSlerp(q0, q1, f).Normalize()
}

// LerpAngle interpolates headings without crossing the long way round.
func LerpAngle(a, b, f float64) float64 {
	return a + math.Remainder(b-a, 2*math.Pi)*f
}

func setPosition(s *protocol.Snapshot, pos mgl64.Vec3) {
	switch s.Mode {
	case protocol.ModeFlying:
		s.Flying.Position = pos
	case protocol.ModeWalking:
		s.Walking.Position = pos
	}
}

func cloneSnapshot(s protocol.Snapshot) protocol.Snapshot {
	out := protocol.Snapshot{Mode: s.Mode}
	if s.Flying != nil {
		f := *s.Flying
		out.Flying = &f
	}
	if s.Walking != nil {
		w := *s.Walking
		out.Walking = &w
	}
	return out
}
