// Command racebot joins a room as a headless player: it readies up, rides a seeded course and
// crashes somewhere along it. Run several against one code to exercise a full race.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chilledoj/ghostrace/protocol"
	"github.com/chilledoj/ghostrace/rng"
	"github.com/chilledoj/ghostrace/syncclient"
)

const tickInterval = 16 * time.Millisecond

type botConfig struct {
	server string
	code   string
	name   string
	bike   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cfg botConfig
	flag.StringVar(&cfg.server, "server", "http://localhost:8080", "race server base URL")
	flag.StringVar(&cfg.code, "room", "", "room code to join")
	flag.StringVar(&cfg.name, "name", "bot", "display name")
	flag.StringVar(&cfg.bike, "bike", "default", "cosmetic id")
	flag.Parse()

	if err := run(ctx, os.Stderr, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stderr io.Writer, cfg botConfig) error {
	if cfg.code == "" {
		return fmt.Errorf("-room is required")
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("bot", cfg.name)

	conn, err := syncclient.Dial(ctx, cfg.server, cfg.code)
	if err != nil {
		return err
	}
	defer conn.Close()

	raceStart := make(chan struct{}, 1)
	finished := make(chan []protocol.RankingEntry, 1)
	seeds := make(chan uint32, 1)

	adapter := syncclient.NewAdapter(conn, syncclient.Options{
		Slogger: logger,
		Handlers: syncclient.Handlers{
			OnRoomJoined: func(m protocol.RoomJoined) {
				logger.Info("joined", "room", m.RoomCode, "player", m.PlayerID, "players", len(m.Players))
			},
			OnCountdown: func(startAtMs int64, seed uint32) {
				logger.Info("countdown", "startAt", time.UnixMilli(startAtMs), "seed", seed)
				seeds <- seed
			},
			OnRaceStart:    func() { raceStart <- struct{}{} },
			OnRaceFinished: func(r []protocol.RankingEntry) { finished <- r },
			OnPlayerCrashed: func(id string, score int) {
				logger.Info("player crashed", "player", id, "score", score)
			},
			OnError: func(message string) {
				logger.Warn("rejected", "message", message)
			},
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	listenCtx, stopListening := context.WithCancel(gctx)
	g.Go(func() error {
		return conn.Listen(listenCtx, adapter.HandleMessage)
	})
	g.Go(func() error {
		defer stopListening()
		if err := adapter.Join(cfg.name, cfg.bike); err != nil {
			return err
		}
		if err := adapter.Ready(); err != nil {
			return err
		}

		var seed uint32
		select {
		case seed = <-seeds:
		case <-gctx.Done():
			return nil
		}
		select {
		case <-raceStart:
		case <-gctx.Done():
			return nil
		}

		score, err := ride(gctx, adapter, rng.New(seed))
		if err != nil {
			return err
		}
		logger.Info("crashed", "score", score)
		if err := adapter.SendCrashed(score); err != nil {
			return err
		}

		select {
		case rankings := <-finished:
			for _, r := range rankings {
				logger.Info("result", "rank", r.Rank, "name", r.Name, "score", r.Score)
			}
		case <-gctx.Done():
		}
		return nil
	})
	return g.Wait()
}

// ride streams a synthetic run until the course's seeded obstacle count is exhausted and
// returns the final score. Every client with the same seed rides the same course.
func ride(ctx context.Context, adapter *syncclient.Adapter, course *rng.Mulberry32) (int, error) {
	obstacles := 20 + course.Intn(40)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	start := time.Now()
	score := 0
	cleared := 0
	for cleared < obstacles {
		select {
		case <-ctx.Done():
			return score, nil
		case now := <-ticker.C:
			elapsed := now.Sub(start).Seconds()
			if course.Chance(0.05) {
				cleared++
				score += 10 + course.Intn(5)
			}
			_, err := adapter.SendLocalState(protocol.Snapshot{
				Timestamp:     float64(now.Sub(start).Milliseconds()),
				Y:             math.Abs(math.Sin(elapsed*3)) * 40,
				OnGround:      math.Sin(elapsed*3) > -0.1,
				WheelRotation: elapsed * 12,
				BikeTilt:      math.Sin(elapsed) * 0.2,
				RiderLean:     math.Cos(elapsed) * 0.1,
				Score:         score,
				Alive:         true,
			})
			if err != nil {
				return score, err
			}
		}
	}
	return score, nil
}
