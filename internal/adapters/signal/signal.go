package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Logotopia/internal/app"
	"github.com/dkeye/Logotopia/internal/core"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	// Limiter caps inbound frames per session; nil disables it.
	Limiter *RateLimiter
}

type SignalWSController struct {
	Registry *app.Registry
	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(reg *app.Registry, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &SignalWSController{
		Registry: reg,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsSignalConn implements core.SignalConnection over a websocket.
// Close stops accepting frames; writePump drains what is queued, sends a
// close frame and releases the socket.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *wsSignalConn {
	return &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// HandleSignal upgrades the request and hands the connection to the registry.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	connCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ctl.writePump(connCtx, conn)
	}()

	sid, err := ctl.Registry.OnConnect(conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.Request.RemoteAddr).Msg("connection refused")
		return
	}
	go func() {
		defer cancel()
		ctl.readPump(connCtx, sid, conn)
	}()
}
