package app

import (
	"fmt"

	"github.com/dkeye/Logotopia/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a recipient whose send failed during a broadcast.
type Policy interface {
	OnBackPressure(target core.Target) BackpressureAction
}

// DropFramePolicy loses the frame for the slow recipient and keeps the session.
type DropFramePolicy struct{}

func (DropFramePolicy) OnBackPressure(core.Target) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects any recipient that cannot keep up.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.Target) BackpressureAction {
	return KickMember
}

func PolicyFromName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropFramePolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
