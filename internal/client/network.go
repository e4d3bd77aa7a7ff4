package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Logotopia/internal/domain"
	"github.com/dkeye/Logotopia/internal/protocol"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultSendBuffer     = 16
	DefaultMaxPlayers     = 8
)

var (
	ErrNotConnected  = errors.New("client: not connected")
	ErrSendQueueFull = errors.New("client: send queue full")
	ErrServerFull    = errors.New("client: server full")
)

type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "offline"
	case Connecting:
		return "connecting"
	case Connected:
		return "online"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// Display is the render side of a remote player. Spawn returns an opaque
// handle that is passed back to Apply and Remove. Calls are made while the
// network holds its lock, so implementations must not call back into it.
type Display interface {
	Spawn(id domain.PlayerID) any
	Apply(id domain.PlayerID, handle any, pose Pose)
	Remove(id domain.PlayerID, handle any)
}

type remote struct {
	buf    *SnapshotBuffer
	handle any
}

type NetworkOptions struct {
	URL            string
	Display        Display
	InterpDelay    time.Duration
	BufferDepth    int
	ReconnectDelay time.Duration
	SendBuffer     int
	Dialer         *websocket.Dialer
	Clock          func() time.Time
	OnStateChange  func(ConnState)
	Logger         *zerolog.Logger
}

// Network keeps one relay connection alive and mirrors the remote players
// it reports into a Display.
type Network struct {
	opts   NetworkOptions
	logger zerolog.Logger
	state  atomic.Int32

	mu      sync.Mutex
	self    domain.PlayerID
	remotes map[domain.PlayerID]*remote
	out     chan []byte
	full    bool
}

func NewNetwork(opts NetworkOptions) *Network {
	if opts.InterpDelay <= 0 {
		opts.InterpDelay = DefaultInterpDelay
	}
	if opts.BufferDepth < 2 {
		opts.BufferDepth = DefaultBufferDepth
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Display == nil {
		opts.Display = nopDisplay{}
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Network{
		opts:    opts,
		logger:  logger.With().Str("module", "client.network").Logger(),
		remotes: make(map[domain.PlayerID]*remote),
	}
}

func (n *Network) State() ConnState { return ConnState(n.state.Load()) }

func (n *Network) setState(s ConnState) {
	if ConnState(n.state.Swap(int32(s))) == s {
		return
	}
	n.logger.Debug().Str("state", s.String()).Msg("connection state")
	if n.opts.OnStateChange != nil {
		n.opts.OnStateChange(s)
	}
}

// SelfID is the id assigned by the last welcome, empty while offline.
func (n *Network) SelfID() domain.PlayerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.self
}

func (n *Network) RemoteCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.remotes)
}

// PilotCount includes the local player.
func (n *Network) PilotCount() int { return n.RemoteCount() + 1 }

// StatusLine renders the connection summary shown on the HUD.
func (n *Network) StatusLine(capacity int) string {
	if capacity <= 0 {
		capacity = DefaultMaxPlayers
	}
	return fmt.Sprintf("%s %d/%d PILOTS", strings.ToUpper(n.State().String()), n.PilotCount(), capacity)
}

// Remotes lists the known remote ids in sorted order.
func (n *Network) Remotes() []domain.PlayerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]domain.PlayerID, 0, len(n.remotes))
	for id := range n.remotes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Send queues msg on the live connection without blocking.
func (n *Network) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.out == nil {
		return ErrNotConnected
	}
	select {
	case n.out <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Frame applies the interpolated pose of every remote for the given render clock.
func (n *Network) Frame(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, r := range n.remotes {
		if pose, ok := Interpolate(r.buf, now, n.opts.InterpDelay); ok {
			n.opts.Display.Apply(id, r.handle, pose)
		}
	}
}

// Run connects and reconnects after a fixed delay until ctx is done.
func (n *Network) Run(ctx context.Context) error {
	for {
		n.setState(Connecting)
		err := n.session(ctx)
		n.teardown()
		n.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		n.logger.Info().Err(err).Dur("retry_in", n.opts.ReconnectDelay).Msg("disconnected")

		t := time.NewTimer(n.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (n *Network) session(ctx context.Context) error {
	conn, _, err := n.opts.Dialer.DialContext(ctx, n.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", n.opts.URL, err)
	}
	out := make(chan []byte, n.opts.SendBuffer)
	n.mu.Lock()
	n.out = out
	n.full = false
	n.mu.Unlock()
	n.setState(Connected)

	done := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	})
	wg.Go(func() {
		for {
			select {
			case <-done:
				return
			case data, ok := <-out:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					n.logger.Debug().Err(err).Msg("write failed")
					_ = conn.Close()
					return
				}
			}
		}
	})

	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		n.handle(data)
	}

	n.mu.Lock()
	n.out = nil
	full := n.full
	n.mu.Unlock()
	close(done)
	wg.Wait()

	if full {
		return ErrServerFull
	}
	return readErr
}

func (n *Network) handle(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		n.logger.Debug().Err(err).Msg("dropping malformed message")
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	switch m := msg.(type) {
	case protocol.Welcome:
		n.self = m.ID
		for _, p := range m.Players {
			if p.ID == n.self || p.ID.Validate() != nil {
				continue
			}
			r := n.spawnLocked(p.ID)
			if snap, ok := n.decodeLocked(p.ID, p.Data); ok {
				r.buf.Push(snap, n.opts.Clock())
			}
		}
		n.logger.Info().Str("id", m.ID.String()).Int("players", len(m.Players)).Msg("welcomed")
	case protocol.Join:
		if m.ID != n.self && m.ID.Validate() == nil {
			n.spawnLocked(m.ID)
		}
	case protocol.Leave:
		n.removeLocked(m.ID)
	case protocol.State:
		if m.ID == n.self || m.ID.Validate() != nil {
			return
		}
		if snap, ok := n.decodeLocked(m.ID, m.Data); ok {
			n.spawnLocked(m.ID).buf.Push(snap, n.opts.Clock())
		}
	case protocol.Full:
		n.full = true
		n.logger.Warn().Msg("server full")
	case protocol.Pong, protocol.Ping:
	}
}

func (n *Network) spawnLocked(id domain.PlayerID) *remote {
	if r, ok := n.remotes[id]; ok {
		return r
	}
	r := &remote{
		buf:    NewSnapshotBuffer(n.opts.BufferDepth),
		handle: n.opts.Display.Spawn(id),
	}
	n.remotes[id] = r
	return r
}

func (n *Network) decodeLocked(id domain.PlayerID, raw protocol.RawState) (protocol.Snapshot, bool) {
	if raw.IsNull() {
		return protocol.Snapshot{}, false
	}
	snap, err := protocol.DecodeSnapshot(raw)
	if err != nil {
		n.logger.Debug().Err(err).Str("id", id.String()).Msg("dropping bad snapshot")
		return protocol.Snapshot{}, false
	}
	return snap, true
}

func (n *Network) removeLocked(id domain.PlayerID) {
	r, ok := n.remotes[id]
	if !ok {
		return
	}
	delete(n.remotes, id)
	n.opts.Display.Remove(id, r.handle)
}

func (n *Network) teardown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id := range n.remotes {
		n.removeLocked(id)
	}
	n.self = ""
}

// ServerURL derives the relay address from the page the client was served
// from: same host, ws for http and wss for https.
func ServerURL(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("client: no host in %q", pageURL)
	}
	u.Path = "/"
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}

type nopDisplay struct{}

func (nopDisplay) Spawn(domain.PlayerID) any        { return nil }
func (nopDisplay) Apply(domain.PlayerID, any, Pose) {}
func (nopDisplay) Remove(domain.PlayerID, any)      {}
