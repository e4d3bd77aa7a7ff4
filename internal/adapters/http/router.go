package http

import (
	"context"
	stdhttp "net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Logotopia/internal/adapters/signal"
	"github.com/dkeye/Logotopia/internal/app"
	"github.com/dkeye/Logotopia/internal/config"
)

// SetupRouter wires the static page, the websocket relay and the small JSON API.
// The relay answers upgrades on "/" as well as "/ws", so a page served from
// this host can connect to its own origin. A nil gatherer disables /metrics.
func SetupRouter(ctx context.Context, cfg *config.Config, reg *app.Registry, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	var limiter *signal.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = signal.NewRateLimiter(cfg.RateLimit, time.Second)
	}
	ctrl := signal.NewSignalWSController(reg, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.WriteTimeout,
		SendBuffer:   cfg.SendBuffer,
		Limiter:      limiter,
	})
	handleWS := func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	}

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			handleWS(c)
			return
		}
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})
	r.GET("/ws", handleWS)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	// GET /api/players: who is connected
	api.GET("/players", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{
			"count":    reg.Count(),
			"capacity": reg.Capacity(),
			"players":  reg.Players(),
		})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
