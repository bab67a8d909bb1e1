// Package results hands finished races to whoever keeps the leaderboard.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chilledoj/ghostrace/protocol"
)

const DefaultSubject = "race.results"

// RaceResult is the payload published once per finished race.
type RaceResult struct {
	RoomCode   string                  `json:"roomCode"`
	FinishedAt time.Time               `json:"finishedAt"`
	Rankings   []protocol.RankingEntry `json:"rankings"`
}

type Publisher interface {
	Publish(ctx context.Context, result RaceResult) error
}

// publisher is the part of *nats.Conn we use.
type publisher interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	conn    publisher
	subject string

	Slogger *slog.Logger
}

// NewNATSPublisher publishes each result on "<subject>.<room code>".
func NewNATSPublisher(conn publisher, subject string, logger *slog.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, subject: subject, Slogger: logger}
}

func (p *NATSPublisher) Publish(ctx context.Context, result RaceResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	subject := p.subject + "." + result.RoomCode
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	p.Slogger.Debug("published race result", "subject", subject, "players", len(result.Rankings))
	return nil
}

// Connect dials NATS and reconnects forever, logging connection changes.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("ghostrace"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("NATS disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", "err", err)
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Discard drops results. It is used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, RaceResult) error { return nil }
