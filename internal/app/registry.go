package app

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Logotopia/internal/core"
	"github.com/dkeye/Logotopia/internal/domain"
	"github.com/dkeye/Logotopia/internal/metrics"
	"github.com/dkeye/Logotopia/internal/protocol"
)

var ErrServerFull = errors.New("server full")

const (
	DefaultMaxPlayers   = 8
	DefaultStaleTimeout = 15 * time.Second
)

// Session is one admitted connection. LastState is forwarded, never decoded.
type Session struct {
	ID        domain.PlayerID
	Conn      core.SignalConnection
	JoinedAt  time.Time
	LastSeen  time.Time
	LastState protocol.RawState
}

// PlayerInfo is a read-only view for APIs (no transport fields).
type PlayerInfo struct {
	ID       domain.PlayerID `json:"id"`
	JoinedAt time.Time       `json:"joined_at"`
	LastSeen time.Time       `json:"last_seen"`
	HasState bool            `json:"has_state"`
}

type RegistryOptions struct {
	MaxPlayers   int
	StaleTimeout time.Duration
	Policy       Policy
	Metrics      *metrics.Metrics
	Clock        func() time.Time
	NewID        func() domain.PlayerID
}

// Registry owns the session set. Every operation holds mu for its whole
// duration, so events are applied one at a time in arrival order.
type Registry struct {
	mu       sync.Mutex
	sessions map[domain.PlayerID]*Session
	order    []domain.PlayerID

	maxPlayers   int
	staleTimeout time.Duration
	policy       Policy
	metrics      *metrics.Metrics
	clock        func() time.Time
	newID        func() domain.PlayerID
	broadcaster  core.Broadcaster
}

func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		sessions:     make(map[domain.PlayerID]*Session),
		maxPlayers:   opts.MaxPlayers,
		staleTimeout: opts.StaleTimeout,
		policy:       opts.Policy,
		metrics:      opts.Metrics,
		clock:        opts.Clock,
		newID:        opts.NewID,
	}
	if r.maxPlayers <= 0 {
		r.maxPlayers = DefaultMaxPlayers
	}
	if r.staleTimeout <= 0 {
		r.staleTimeout = DefaultStaleTimeout
	}
	if r.policy == nil {
		r.policy = DropFramePolicy{}
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.newID == nil {
		r.newID = domain.NewPlayerID
	}
	return r
}

// OnConnect admits conn or rejects it with a full message when at capacity.
func (r *Registry) OnConnect(conn core.SignalConnection) (domain.PlayerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxPlayers {
		if err := conn.TrySend(protocol.MustEncode(protocol.Full{})); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Msg("failed to queue full message")
		}
		conn.Close()
		r.metrics.Rejected()
		log.Warn().Str("module", "app.registry").Int("capacity", r.maxPlayers).Msg("rejected connection: server full")
		return "", ErrServerFull
	}

	id := r.newID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.newID()
	}
	now := r.clock()
	sess := &Session{ID: id, Conn: conn, JoinedAt: now, LastSeen: now}

	welcome := protocol.Welcome{ID: id, Players: r.playerStatesLocked()}
	r.sessions[id] = sess
	r.order = append(r.order, id)
	r.metrics.SetActive(len(r.sessions))
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Int("count", len(r.sessions)).Msg("session admitted")

	r.sendLocked(sess, welcome)
	r.broadcastLocked(protocol.Join{ID: id}, id)
	return id, nil
}

// OnMessage applies one inbound frame. Anything unparseable is dropped and
// the session is left as it was.
func (r *Registry) OnMessage(id domain.PlayerID, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		r.metrics.Malformed()
		log.Debug().Err(err).Str("module", "app.registry").Str("sid", string(id)).Msg("dropping malformed message")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return
	}

	switch m := msg.(type) {
	case protocol.State:
		sess.LastSeen = r.clock()
		sess.LastState = m.Data
		r.broadcastLocked(protocol.State{ID: id, Data: m.Data}, id)
	case protocol.Ping:
		r.sendLocked(sess, protocol.Pong{})
	case protocol.Welcome, protocol.Join, protocol.Leave, protocol.Full, protocol.Pong:
		log.Debug().Str("module", "app.registry").Str("sid", string(id)).Str("type", string(m.Kind())).Msg("ignoring server-only message")
	default:
		log.Warn().Str("module", "app.registry").Str("sid", string(id)).Str("type", string(msg.Kind())).Msg("unhandled message kind")
	}
}

// OnDisconnect removes the session and tells everyone else. Unknown ids
// are ignored, so a transport closing after eviction is harmless.
func (r *Registry) OnDisconnect(id domain.PlayerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id, "closed")
}

// Sweep evicts sessions that sent no state within the stale timeout.
func (r *Registry) Sweep() []domain.PlayerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	var stale []domain.PlayerID
	for _, id := range r.order {
		if now.Sub(r.sessions[id].LastSeen) > r.staleTimeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		r.removeLocked(id, "stale")
	}
	if len(stale) > 0 {
		r.metrics.Evicted(len(stale))
		log.Info().Str("module", "app.registry").Int("evicted", len(stale)).Msg("sweep evicted stale sessions")
	}
	return stale
}

// CloseAll drops every session without leave notices; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		r.sessions[id].Conn.Close()
	}
	clear(r.sessions)
	r.order = nil
	r.metrics.SetActive(0)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Capacity() int { return r.maxPlayers }

func (r *Registry) Players() []PlayerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PlayerInfo, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		out = append(out, PlayerInfo{
			ID:       s.ID,
			JoinedAt: s.JoinedAt,
			LastSeen: s.LastSeen,
			HasState: !s.LastState.IsNull(),
		})
	}
	return out
}

func (r *Registry) removeLocked(id domain.PlayerID, reason string) {
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	r.order = slices.DeleteFunc(r.order, func(o domain.PlayerID) bool { return o == id })
	sess.Conn.Close()
	r.metrics.SetActive(len(r.sessions))
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Str("reason", reason).Int("count", len(r.sessions)).Msg("session removed")

	r.broadcastLocked(protocol.Leave{ID: id}, "")
}

// playerStatesLocked lists sessions that already reported a state, in admission order.
func (r *Registry) playerStatesLocked() []protocol.PlayerState {
	out := make([]protocol.PlayerState, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		if s.LastState.IsNull() {
			continue
		}
		out = append(out, protocol.PlayerState{ID: id, Data: s.LastState})
	}
	return out
}

func (r *Registry) targetsLocked() []core.Target {
	out := make([]core.Target, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, core.Target{ID: id, Conn: r.sessions[id].Conn})
	}
	return out
}

func (r *Registry) sendLocked(sess *Session, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode")
		return
	}
	if err := sess.Conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("sid", string(sess.ID)).Str("type", string(msg.Kind())).Msg("direct send failed")
	}
}

func (r *Registry) broadcastLocked(msg protocol.Message, exclude domain.PlayerID) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode")
		return
	}
	res := r.broadcaster.Broadcast(r.targetsLocked(), exclude, frame)
	r.metrics.Relayed(res.SentTo, len(res.Dropped))

	var kick []domain.PlayerID
	for _, t := range res.Dropped {
		switch r.policy.OnBackPressure(t) {
		case KickMember:
			kick = append(kick, t.ID)
		case DropFrame, NoAction:
		}
	}
	for _, id := range kick {
		r.removeLocked(id, "backpressure")
	}
}
