// Package kafkasink publishes encoded tiles to a Kafka topic, keyed by
// geohash so every version of a cell lands on the same partition.
package kafkasink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/observability"
	"github.com/mohammed-shakir/geohash-tiler/internal/tilecodec"
)

// ErrClosed is returned by Send once Close has started.
var ErrClosed = errors.New("kafkasink: sink closed")

type Config struct {
	Topic string
	Layer string
	Queue int
}

type Sink struct {
	cfg    Config
	logger *slog.Logger

	msgs    chan *sarama.ProducerMessage
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}
	failed  atomic.Int64

	// mu guards msgs against being closed while a Send is enqueueing.
	mu      sync.RWMutex
	closed  bool
	closing chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// SaramaConfig is the producer configuration New uses.
func SaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionLZ4
	cfg.Producer.MaxMessageBytes = 8 << 20
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func New(brokers []string, cfg Config, logger *slog.Logger) (*Sink, error) {
	prod, err := sarama.NewAsyncProducer(brokers, SaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("kafkasink: create async producer: %w", err)
	}
	return NewWithProducer(prod, cfg, logger), nil
}

// NewWithProducer runs the sink on an existing producer, which it then owns.
func NewWithProducer(prod sarama.AsyncProducer, cfg Config, logger *slog.Logger) *Sink {
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Sink{
		cfg:     cfg,
		logger:  logger,
		msgs:    make(chan *sarama.ProducerMessage, cfg.Queue),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
		closing: make(chan struct{}),
	}

	go func() {
		defer close(s.stopped)
		for m := range s.msgs {
			s.prod.Input() <- m
		}
	}()

	go func() {
		defer close(s.errDone)
		for err := range s.prod.Errors() {
			if err == nil {
				continue
			}
			s.failed.Add(1)
			observability.ObserveSinkOp("kafka", err, 0)
			var key []byte
			if err.Msg != nil && err.Msg.Key != nil {
				key, _ = err.Msg.Key.Encode()
			}
			s.logger.Error("kafka produce failed", "geohash", string(key), "err", err.Err)
		}
	}()

	return s
}

// Message builds the record for t.
func (s *Sink) Message(t model.Tile) (*sarama.ProducerMessage, error) {
	payload, err := tilecodec.Encode(t)
	if err != nil {
		return nil, fmt.Errorf("kafkasink encode %s: %w", t.Cell.ID, err)
	}
	return &sarama.ProducerMessage{
		Topic: s.cfg.Topic,
		Key:   sarama.StringEncoder(t.Cell.ID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte(tilecodec.ContentType)},
			{Key: []byte("layer"), Value: []byte(s.cfg.Layer)},
			{Key: []byte("geohash"), Value: []byte(t.Cell.ID)},
			{Key: []byte("ts"), Value: []byte(strconv.FormatInt(t.Timestamp, 10))},
			{Key: []byte("coverage"), Value: []byte(strconv.FormatFloat(t.Coverage, 'f', -1, 64))},
		},
		Timestamp: time.UnixMilli(t.Timestamp),
	}, nil
}

// Send queues the tile for the producer. It blocks while the queue is full
// and gives up when ctx ends. Broker-side failures are reported
// asynchronously through Failed and the logs.
func (s *Sink) Send(ctx context.Context, t model.Tile) error {
	start := time.Now()
	msg, err := s.Message(t)
	if err != nil {
		observability.ObserveSinkOp("kafka", err, time.Since(start).Seconds())
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("kafkasink enqueue %s: %w", t.Cell.ID, ErrClosed)
	}
	select {
	case s.msgs <- msg:
		observability.ObserveSinkOp("kafka", nil, time.Since(start).Seconds())
		return nil
	case <-s.closing:
		return fmt.Errorf("kafkasink enqueue %s: %w", t.Cell.ID, ErrClosed)
	case <-ctx.Done():
		observability.ObserveSinkOp("kafka", ctx.Err(), time.Since(start).Seconds())
		return fmt.Errorf("kafkasink enqueue %s: %w", t.Cell.ID, ctx.Err())
	}
}

// Failed is the number of records the brokers rejected so far.
func (s *Sink) Failed() int64 { return s.failed.Load() }

// Close flushes queued tiles and closes the producer. Sends still waiting
// for queue space fail with ErrClosed.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.mu.Lock()
		s.closed = true
		close(s.msgs)
		s.mu.Unlock()
		<-s.stopped
		if err := s.prod.Close(); err != nil {
			s.closeErr = fmt.Errorf("kafkasink: close producer: %w", err)
		}
		<-s.errDone
	})
	return s.closeErr
}
