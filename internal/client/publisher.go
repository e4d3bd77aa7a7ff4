package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Logotopia/internal/protocol"
)

const DefaultPublishRate = 20.0

// StateSource yields the local player's current snapshot. ok is false when
// there is nothing to publish yet.
type StateSource interface {
	Sample() (snap protocol.Snapshot, ok bool)
}

type StateSourceFunc func() (protocol.Snapshot, bool)

func (f StateSourceFunc) Sample() (protocol.Snapshot, bool) { return f() }

// LiveFunc reports whether the local simulation is running.
type LiveFunc func() bool

// Sender delivers one message to the relay.
type Sender interface {
	Send(msg protocol.Message) error
}

// Publisher samples the local state at a fixed rate and sends it as a state
// message while the simulation is live.
type Publisher struct {
	source   StateSource
	live     LiveFunc
	sender   Sender
	interval time.Duration
	logger   zerolog.Logger
}

// NewPublisher builds a publisher sending rate messages per second.
// A nil live func means always live.
func NewPublisher(source StateSource, live LiveFunc, sender Sender, rate float64) *Publisher {
	if rate <= 0 {
		rate = DefaultPublishRate
	}
	return &Publisher{
		source:   source,
		live:     live,
		sender:   sender,
		interval: time.Duration(float64(time.Second) / rate),
		logger:   log.With().Str("module", "client.publisher").Logger(),
	}
}

func (p *Publisher) Interval() time.Duration { return p.interval }

// Publish sends the current snapshot once and reports whether it went out.
func (p *Publisher) Publish() bool {
	if p.live != nil && !p.live() {
		return false
	}
	snap, ok := p.source.Sample()
	if !ok {
		return false
	}
	raw, err := protocol.EncodeSnapshot(snap)
	if err != nil {
		p.logger.Warn().Err(err).Msg("local snapshot rejected")
		return false
	}
	if err := p.sender.Send(protocol.State{Data: raw}); err != nil {
		p.logger.Debug().Err(err).Msg("state not sent")
		return false
	}
	return true
}

// Run publishes on every tick until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Publish()
		}
	}
}
