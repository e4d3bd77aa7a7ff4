package protocol

import (
	"bytes"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	json "github.com/goccy/go-json"
)

// Mode discriminates the two snapshot shapes.
type Mode string

const (
	ModeFlying  Mode = "flying"
	ModeWalking Mode = "walking"
)

// Anim is the walking animation state.
type Anim int

const (
	AnimIdle Anim = iota
	AnimWalk
	AnimAirborne
	AnimSwim
	AnimInteract
	AnimDance
)

var animNames = [...]string{"idle", "walking", "airborne", "swimming", "interacting", "dancing"}

func (a Anim) Valid() bool { return a >= AnimIdle && a <= AnimDance }

func (a Anim) String() string {
	if !a.Valid() {
		return fmt.Sprintf("anim(%d)", int(a))
	}
	return animNames[a]
}

// Flag is a boolean carried as 0/1 on the wire.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*f = true
		return nil
	case "false", "null":
		*f = false
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flag: %w", err)
	}
	*f = n != 0
	return nil
}

type Flying struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
	Speed       float64
	Throttle    float64
	Boost       bool
	Cheer       bool
}

type Walking struct {
	Position  mgl64.Vec3
	Heading   float64
	Speed     float64
	Anim      Anim
	Parachute bool
	Submerged bool
	Social    bool
}

// Snapshot is one participant's state at an instant. Exactly one of
// Flying and Walking is set, matching Mode.
type Snapshot struct {
	Mode    Mode
	Flying  *Flying
	Walking *Walking
}

func NewFlying(f Flying) Snapshot { return Snapshot{Mode: ModeFlying, Flying: &f} }

func NewWalking(w Walking) Snapshot { return Snapshot{Mode: ModeWalking, Walking: &w} }

func (s Snapshot) Position() mgl64.Vec3 {
	switch s.Mode {
	case ModeFlying:
		return s.Flying.Position
	case ModeWalking:
		return s.Walking.Position
	}
	return mgl64.Vec3{}
}

func (s Snapshot) Speed() float64 {
	switch s.Mode {
	case ModeFlying:
		return s.Flying.Speed
	case ModeWalking:
		return s.Walking.Speed
	}
	return 0
}

func (s Snapshot) Validate() error {
	switch s.Mode {
	case ModeFlying:
		if s.Flying == nil || s.Walking != nil {
			return &InvalidSnapshotError{Mode: s.Mode, Reason: "flying fields must be the only ones set"}
		}
		if s.Flying.Orientation.Len() < 1e-9 {
			return &InvalidSnapshotError{Mode: s.Mode, Reason: "zero orientation"}
		}
		if s.Flying.Throttle < 0 || s.Flying.Throttle > 1 {
			return &InvalidSnapshotError{Mode: s.Mode, Reason: "throttle out of [0,1]"}
		}
	case ModeWalking:
		if s.Walking == nil || s.Flying != nil {
			return &InvalidSnapshotError{Mode: s.Mode, Reason: "walking fields must be the only ones set"}
		}
		if !s.Walking.Anim.Valid() {
			return &InvalidSnapshotError{Mode: s.Mode, Reason: "unknown anim " + s.Walking.Anim.String()}
		}
		if math.IsNaN(s.Walking.Heading) || math.IsInf(s.Walking.Heading, 0) {
			return &InvalidSnapshotError{Mode: s.Mode, Reason: "heading not finite"}
		}
	default:
		return &InvalidSnapshotError{Reason: fmt.Sprintf("unknown mode %q", s.Mode)}
	}
	return nil
}

// wireSnapshot is the flat JSON shape shared with the browser client.
type wireSnapshot struct {
	Mode Mode     `json:"mode"`
	PX   *float64 `json:"px"`
	PY   *float64 `json:"py"`
	PZ   *float64 `json:"pz"`

	QX       *float64 `json:"qx,omitempty"`
	QY       *float64 `json:"qy,omitempty"`
	QZ       *float64 `json:"qz,omitempty"`
	QW       *float64 `json:"qw,omitempty"`
	Throttle *float64 `json:"throttle,omitempty"`
	Boost    *Flag    `json:"boost,omitempty"`
	Cheer    *Flag    `json:"cheer,omitempty"`

	Yaw   *float64 `json:"yaw,omitempty"`
	Anim  *Anim    `json:"anim,omitempty"`
	Chute *Flag    `json:"chute,omitempty"`
	Swim  *Flag    `json:"swim,omitempty"`
	Fika  *Flag    `json:"fika,omitempty"`

	Speed float64 `json:"speed"`
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	pos := s.Position()
	w := wireSnapshot{
		Mode:  s.Mode,
		PX:    ptr(pos[0]),
		PY:    ptr(pos[1]),
		PZ:    ptr(pos[2]),
		Speed: s.Speed(),
	}
	switch s.Mode {
	case ModeFlying:
		f := s.Flying
		w.QX, w.QY, w.QZ, w.QW = ptr(f.Orientation.V[0]), ptr(f.Orientation.V[1]), ptr(f.Orientation.V[2]), ptr(f.Orientation.W)
		w.Throttle = ptr(f.Throttle)
		w.Boost = ptr(Flag(f.Boost))
		w.Cheer = ptr(Flag(f.Cheer))
	case ModeWalking:
		wk := s.Walking
		w.Yaw = ptr(wk.Heading)
		w.Anim = ptr(wk.Anim)
		w.Chute = ptr(Flag(wk.Parachute))
		w.Swim = ptr(Flag(wk.Submerged))
		w.Fika = ptr(Flag(wk.Social))
	}
	return json.Marshal(w)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if w.PX == nil || w.PY == nil || w.PZ == nil {
		return &InvalidSnapshotError{Mode: w.Mode, Reason: "missing position"}
	}
	pos := mgl64.Vec3{*w.PX, *w.PY, *w.PZ}

	var out Snapshot
	switch w.Mode {
	case ModeFlying:
		if w.QX == nil || w.QY == nil || w.QZ == nil || w.QW == nil {
			return &InvalidSnapshotError{Mode: w.Mode, Reason: "missing orientation"}
		}
		out = NewFlying(Flying{
			Position:    pos,
			Orientation: mgl64.Quat{W: *w.QW, V: mgl64.Vec3{*w.QX, *w.QY, *w.QZ}},
			Speed:       w.Speed,
			Throttle:    deref(w.Throttle),
			Boost:       bool(deref(w.Boost)),
			Cheer:       bool(deref(w.Cheer)),
		})
	case ModeWalking:
		out = NewWalking(Walking{
			Position:  pos,
			Heading:   deref(w.Yaw),
			Speed:     w.Speed,
			Anim:      deref(w.Anim),
			Parachute: bool(deref(w.Chute)),
			Submerged: bool(deref(w.Swim)),
			Social:    bool(deref(w.Fika)),
		})
	default:
		return &InvalidSnapshotError{Reason: fmt.Sprintf("unknown mode %q", w.Mode)}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

// DecodeSnapshot validates and decodes a relayed payload.
func DecodeSnapshot(raw RawState) (Snapshot, error) {
	var s Snapshot
	if raw.IsNull() {
		return s, &InvalidSnapshotError{Reason: "empty payload"}
	}
	if err := s.UnmarshalJSON(raw); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func EncodeSnapshot(s Snapshot) (RawState, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return RawState(b), nil
}
