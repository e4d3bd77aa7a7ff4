package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded protocol message, written as a single transport frame.
type Frame []byte

//go:generate mockgen -destination=mocks/mock_signal.go -package=mocks github.com/dkeye/Logotopia/internal/core SignalConnection

// SignalConnection abstracts the per-session message transport.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full outbound queue yields ErrBackpressure.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
