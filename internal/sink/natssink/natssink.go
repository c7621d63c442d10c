// Package natssink publishes encoded tiles to NATS JetStream.
//
// Subjects are <prefix>.<layer>.<precision>.<geohash>, so consumers can
// subscribe to a whole layer or to one precision with wildcards. The tile's
// versioned key is sent as the JetStream message id, which makes a re-run of
// the same image idempotent within the stream's duplicate window.
package natssink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/observability"
	"github.com/mohammed-shakir/geohash-tiler/internal/tilecodec"
)

type Config struct {
	URL     string
	Subject string
	Layer   string
	// Stream is created or updated on connect when set.
	Stream string
	MaxAge time.Duration
}

// publisher is the part of nats.JetStreamContext the sink uses.
type publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Sink struct {
	cfg    Config
	conn   *nats.Conn
	js     publisher
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("geohash-tiler"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if cfg.Stream != "" {
		sc := &nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    cfg.MaxAge,
			Storage:   nats.FileStorage,
		}
		if _, err := js.AddStream(sc); err != nil {
			// stream may already exist
			if _, err := js.UpdateStream(sc); err != nil {
				conn.Close()
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
			}
		}
	}

	return &Sink{cfg: cfg, conn: conn, js: js, logger: logger}, nil
}

// Subject returns the subject t is published on.
func Subject(prefix, layer string, t model.Tile) string {
	return fmt.Sprintf("%s.%s.%d.%s", prefix, token(layer), t.Cell.Precision, t.Cell.ID)
}

// token makes s usable as a single subject token.
func token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Message builds the JetStream message for t.
func (s *Sink) Message(t model.Tile) (*nats.Msg, error) {
	payload, err := tilecodec.Encode(t)
	if err != nil {
		return nil, fmt.Errorf("natssink encode %s: %w", t.Cell.ID, err)
	}
	m := nats.NewMsg(Subject(s.cfg.Subject, s.cfg.Layer, t))
	m.Data = payload
	m.Header.Set("Content-Type", tilecodec.ContentType)
	m.Header.Set("Tile-Geohash", t.Cell.ID)
	m.Header.Set("Tile-Timestamp", strconv.FormatInt(t.Timestamp, 10))
	m.Header.Set("Tile-Coverage", strconv.FormatFloat(t.Coverage, 'f', -1, 64))
	m.Header.Set(nats.MsgIdHdr, keys.TileKey(s.cfg.Layer, t.Cell.ID, t.Timestamp))
	return m, nil
}

func (s *Sink) Send(ctx context.Context, t model.Tile) error {
	start := time.Now()
	err := s.send(ctx, t)
	observability.ObserveSinkOp("nats", err, time.Since(start).Seconds())
	return err
}

func (s *Sink) send(ctx context.Context, t model.Tile) error {
	m, err := s.Message(t)
	if err != nil {
		return err
	}
	ack, err := s.js.PublishMsg(m, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("natssink publish %s: %w", m.Subject, err)
	}
	if ack != nil && ack.Duplicate {
		s.logger.Debug("duplicate tile ignored by stream", "subject", m.Subject, "seq", ack.Sequence)
	}
	return nil
}

// Close drains the connection.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
