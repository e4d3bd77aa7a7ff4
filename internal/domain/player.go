// Package domain contains identifiers without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxPlayerIDLen = 36

var (
	ErrPlayerIDEmpty   = errors.New("player id empty")
	ErrPlayerIDTooLong = errors.New("player id too long")
)

// PlayerID is the opaque identity the server assigns to a connection.
// It is stable for the lifetime of that connection only.
type PlayerID string

// NewPlayerID returns a fresh random identity.
func NewPlayerID() PlayerID {
	return PlayerID(uuid.NewString())
}

func (id PlayerID) Validate() error {
	if len(id) == 0 {
		return ErrPlayerIDEmpty
	}
	if len(id) > MaxPlayerIDLen {
		return ErrPlayerIDTooLong
	}
	return nil
}

func (id PlayerID) String() string { return string(id) }
