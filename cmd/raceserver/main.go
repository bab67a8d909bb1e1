package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chilledoj/ghostrace"
	"github.com/chilledoj/ghostrace/internal/config"
	"github.com/chilledoj/ghostrace/internal/server"
	"github.com/chilledoj/ghostrace/protocol"
	"github.com/chilledoj/ghostrace/results"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// --- Results ---
	var publisher results.Publisher = results.Discard{}
	if cfg.NATSURL != "" {
		nc, err := results.Connect(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		publisher = results.NewNATSPublisher(nc, cfg.NATSSubject, logger)
		logger.Info("connected to nats", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	// --- Rooms ---
	reg := ghostrace.NewRegistry(ctx, ghostrace.Options{
		MaxPlayers:        cfg.MaxPlayers,
		CountdownDuration: cfg.CountdownDuration,
		IdleTimeout:       cfg.IdleTimeout,
		FinishedTTL:       cfg.FinishedTTL,
		OnFinished:        publishResult(ctx, logger, publisher),
		Slogger:           logger,
	})

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, reg, cfg.CORSOrigins)

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		err := srv.Shutdown(context.Background())
		logger.Info("shutting down rooms", "rooms", reg.Len())
		reg.Close()
		return err
	})

	return g.Wait()
}

func publishResult(ctx context.Context, logger *slog.Logger, p results.Publisher) func(string, []protocol.RankingEntry) {
	return func(code string, rankings []protocol.RankingEntry) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := p.Publish(ctx, results.RaceResult{
			RoomCode:   code,
			FinishedAt: time.Now().UTC(),
			Rankings:   rankings,
		})
		if err != nil {
			logger.Error("publishing race result", "room", code, "err", err)
		}
	}
}
