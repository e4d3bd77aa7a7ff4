package core

import (
	"github.com/dkeye/Logotopia/internal/domain"
	"github.com/rs/zerolog/log"
)

// Target is one fan-out recipient.
type Target struct {
	ID   domain.PlayerID
	Conn SignalConnection
}

// PublishResult reports delivery stats/backpressure to the registry.
type PublishResult struct {
	SentTo  int
	Dropped []Target
}

// Broadcaster fans a frame out to a set of targets. It keeps no state
// between calls; the target set is whatever the caller passes in.
type Broadcaster struct{}

// Broadcast attempts delivery once per target except the excluded one.
// A failed send is recorded and never stops delivery to the rest.
func (Broadcaster) Broadcast(targets []Target, exclude domain.PlayerID, data Frame) PublishResult {
	res := PublishResult{}
	for _, t := range targets {
		if t.ID == exclude {
			continue
		}
		if err := t.Conn.TrySend(data); err != nil {
			log.Debug().Err(err).Str("module", "core.broadcast").Str("to", string(t.ID)).Msg("send failed")
			res.Dropped = append(res.Dropped, t)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.broadcast").Str("from", string(exclude)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
