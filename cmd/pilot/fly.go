package main

import (
	"context"
	"fmt"
	"math"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/dkeye/Logotopia/internal/client"
	"github.com/dkeye/Logotopia/internal/config"
	"github.com/dkeye/Logotopia/internal/domain"
	"github.com/dkeye/Logotopia/internal/protocol"
)

type flyOptions struct {
	server   string
	count    int
	walk     bool
	radius   float64
	duration time.Duration
	status   time.Duration
	debug    bool
}

func flyCmd() *cobra.Command {
	opts := flyOptions{}
	defaults := config.Default().Client

	cmd := &cobra.Command{
		Use:   "fly",
		Short: "Connect pilots that circle the origin",
		Example: `  pilot fly --server http://localhost:3000 --count 4
  pilot fly --walk --duration 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			url, err := client.ServerURL(opts.server)
			if err != nil {
				return err
			}
			if opts.count < 1 {
				return fmt.Errorf("count must be at least 1")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if opts.duration > 0 {
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}
			return runPilots(ctx, url, opts, defaults)
		},
	}

	cmd.Flags().StringVarP(&opts.server, "server", "s", "http://localhost:3000", "page URL of the relay")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of pilots")
	cmd.Flags().BoolVar(&opts.walk, "walk", false, "walk on the ground instead of flying")
	cmd.Flags().Float64Var(&opts.radius, "radius", 60, "orbit radius")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.status, "status", 5*time.Second, "status log interval")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "debug logging")
	return cmd
}

func runPilots(ctx context.Context, url string, opts flyOptions, tuning config.Client) error {
	p := pool.New().WithContext(ctx)
	for i := 0; i < opts.count; i++ {
		phase := 2 * math.Pi * float64(i) / float64(opts.count)
		p.Go(func(ctx context.Context) error {
			return fly(ctx, url, i, phase, opts, tuning)
		})
	}
	return p.Wait()
}

func fly(ctx context.Context, url string, n int, phase float64, opts flyOptions, tuning config.Client) error {
	logger := log.With().Int("pilot", n).Logger()
	display := &countingDisplay{}
	net := client.NewNetwork(client.NetworkOptions{
		URL:            url,
		Display:        display,
		InterpDelay:    tuning.InterpDelay,
		BufferDepth:    tuning.BufferDepth,
		ReconnectDelay: tuning.ReconnectDelay,
		Logger:         &logger,
	})
	start := time.Now()
	orbit := &orbit{start: start, phase: phase, radius: opts.radius, walk: opts.walk}
	pub := client.NewPublisher(orbit, func() bool { return net.State() == client.Connected }, net, tuning.PublishRate)

	p := pool.New().WithContext(ctx)
	p.Go(net.Run)
	p.Go(pub.Run)
	p.Go(func(ctx context.Context) error {
		render := time.NewTicker(time.Second / 60)
		defer render.Stop()
		status := time.NewTicker(opts.status)
		defer status.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-render.C:
				net.Frame(now)
			case <-status.C:
				logger.Info().Str("id", net.SelfID().String()).Int("poses", display.applied()).Msg(net.StatusLine(0))
			}
		}
	})
	return p.Wait()
}

// orbit flies or walks a circle around the origin.
type orbit struct {
	start  time.Time
	phase  float64
	radius float64
	walk   bool
}

func (o *orbit) Sample() (protocol.Snapshot, bool) {
	const angularSpeed = 0.3
	a := o.phase + angularSpeed*time.Since(o.start).Seconds()
	pos := mgl64.Vec3{o.radius * math.Cos(a), 0, o.radius * math.Sin(a)}
	// tangent heading, counter-clockwise
	heading := math.Atan2(-math.Cos(a), math.Sin(a))
	speed := angularSpeed * o.radius

	if o.walk {
		return protocol.NewWalking(protocol.Walking{
			Position: pos,
			Heading:  heading,
			Speed:    speed,
			Anim:     protocol.AnimWalk,
		}), true
	}
	pos[1] = 100
	return protocol.NewFlying(protocol.Flying{
		Position:    pos,
		Orientation: mgl64.QuatRotate(heading, mgl64.Vec3{0, 1, 0}),
		Speed:       speed,
		Throttle:    0.6,
	}), true
}

// countingDisplay has no scene; it only tracks what a renderer would see.
type countingDisplay struct {
	mu    sync.Mutex
	poses int
}

func (d *countingDisplay) Spawn(id domain.PlayerID) any {
	log.Debug().Str("id", id.String()).Msg("remote spawned")
	return id
}

func (d *countingDisplay) Apply(domain.PlayerID, any, client.Pose) {
	d.mu.Lock()
	d.poses++
	d.mu.Unlock()
}

func (d *countingDisplay) Remove(id domain.PlayerID, _ any) {
	log.Debug().Str("id", id.String()).Msg("remote removed")
}

func (d *countingDisplay) applied() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poses
}
