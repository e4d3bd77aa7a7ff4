// Package protocol defines the JSON messages exchanged between the relay
// and its clients, one message per websocket text frame.
package protocol

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/dkeye/Logotopia/internal/domain"
)

type Type string

const (
	TypeWelcome Type = "welcome"
	TypeJoin    Type = "join"
	TypeLeave   Type = "leave"
	TypeState   Type = "state"
	TypeFull    Type = "full"
	TypePing    Type = "ping"
	TypePong    Type = "pong"
)

// RawState is a snapshot payload the relay forwards without decoding.
type RawState []byte

func (r RawState) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawState) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("protocol.RawState: UnmarshalJSON on nil pointer")
	}
	*r = append((*r)[0:0], data...)
	return nil
}

// IsNull reports whether no payload was carried.
func (r RawState) IsNull() bool {
	return len(r) == 0 || string(r) == "null"
}

// Message is the closed set of protocol messages. Switches over it
// must list every kind below.
type Message interface {
	Kind() Type
	isMessage()
}

// PlayerState pairs a player with its last known payload.
type PlayerState struct {
	ID   domain.PlayerID `json:"id"`
	Data RawState        `json:"data"`
}

// Welcome is sent once, only to the newly admitted session.
type Welcome struct {
	ID      domain.PlayerID `json:"id"`
	Players []PlayerState   `json:"players"`
}

type Join struct {
	ID domain.PlayerID `json:"id"`
}

type Leave struct {
	ID domain.PlayerID `json:"id"`
}

// State carries one snapshot. Clients leave ID empty; the relay stamps it.
type State struct {
	ID   domain.PlayerID `json:"id,omitempty"`
	Data RawState        `json:"data"`
}

// Full rejects a connection when the relay is at capacity.
type Full struct{}

type Ping struct{}

type Pong struct{}

func (Welcome) Kind() Type { return TypeWelcome }
func (Join) Kind() Type    { return TypeJoin }
func (Leave) Kind() Type   { return TypeLeave }
func (State) Kind() Type   { return TypeState }
func (Full) Kind() Type    { return TypeFull }
func (Ping) Kind() Type    { return TypePing }
func (Pong) Kind() Type    { return TypePong }

func (Welcome) isMessage() {}
func (Join) isMessage()    {}
func (Leave) isMessage()   {}
func (State) isMessage()   {}
func (Full) isMessage()    {}
func (Ping) isMessage()    {}
func (Pong) isMessage()    {}

type idBody struct {
	Type Type            `json:"type"`
	ID   domain.PlayerID `json:"id"`
}

type welcomeBody struct {
	Type    Type            `json:"type"`
	ID      domain.PlayerID `json:"id"`
	Players []PlayerState   `json:"players"`
}

type stateBody struct {
	Type Type            `json:"type"`
	ID   domain.PlayerID `json:"id,omitempty"`
	Data RawState        `json:"data"`
}

type emptyBody struct {
	Type Type `json:"type"`
}

// Encode serializes m with its type discriminator.
func Encode(m Message) ([]byte, error) {
	var v any
	switch m := m.(type) {
	case Welcome:
		players := m.Players
		if players == nil {
			players = []PlayerState{}
		}
		v = welcomeBody{Type: TypeWelcome, ID: m.ID, Players: players}
	case Join:
		v = idBody{Type: TypeJoin, ID: m.ID}
	case Leave:
		v = idBody{Type: TypeLeave, ID: m.ID}
	case State:
		v = stateBody{Type: TypeState, ID: m.ID, Data: m.Data}
	case Full, Ping, Pong:
		v = emptyBody{Type: m.Kind()}
	default:
		return nil, fmt.Errorf("encode %T: %w", m, &UnknownTypeError{Type: fmt.Sprintf("%T", m)})
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return b, nil
}

// MustEncode is Encode for messages built from known-good values.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses one frame into its concrete message.
func Decode(data []byte) (Message, error) {
	var env emptyBody
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeWelcome:
		var b welcomeBody
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode welcome: %w", err)
		}
		if b.ID == "" {
			return nil, &MissingFieldError{MessageName: string(TypeWelcome), FieldName: "id"}
		}
		return Welcome{ID: b.ID, Players: b.Players}, nil
	case TypeJoin, TypeLeave:
		var b idBody
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if b.ID == "" {
			return nil, &MissingFieldError{MessageName: string(env.Type), FieldName: "id"}
		}
		if env.Type == TypeJoin {
			return Join{ID: b.ID}, nil
		}
		return Leave{ID: b.ID}, nil
	case TypeState:
		var b stateBody
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		if b.Data.IsNull() {
			return nil, &MissingFieldError{MessageName: string(TypeState), FieldName: "data"}
		}
		return State{ID: b.ID, Data: b.Data}, nil
	case TypeFull:
		return Full{}, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	default:
		return nil, &UnknownTypeError{Type: string(env.Type)}
	}
}
