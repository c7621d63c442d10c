package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geohash-tiler/internal/cache/redisstore"
	"github.com/mohammed-shakir/geohash-tiler/internal/invalidation/kafkaconsumer"
)

func newEvictorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evictor",
		Short: "Apply tile eviction events from Kafka to Redis",
		Long: `Consume eviction events from KAFKA_EVICT_TOPIC as group KAFKA_GROUP_ID
and delete the matching tile keys in REDIS_ADDR. An "evict" event drops
the latest pointer of each cell; a "purge" also deletes the tile version
captured at capture_ts.`,
		Args: cobra.NoArgs,
		RunE: runEvictor,
	}
	cmd.Flags().String("topic", "", "eviction topic (KAFKA_EVICT_TOPIC)")
	cmd.Flags().String("group", "", "consumer group id (KAFKA_GROUP_ID)")
	cmd.Flags().Bool("strict", false, "stop on malformed events instead of skipping them")
	return cmd
}

func runEvictor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if s, _ := cmd.Flags().GetString("topic"); s != "" {
		cfg.Kafka.EvictTopic = s
	}
	if s, _ := cmd.Flags().GetString("group"); s != "" {
		cfg.Kafka.GroupID = s
	}
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.EvictTopic == "" || cfg.Kafka.GroupID == "" {
		return fmt.Errorf("evictor needs KAFKA_BROKERS, KAFKA_EVICT_TOPIC and KAFKA_GROUP_ID")
	}
	log := newLogger(cfg, "evictor", cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := redisstore.New(ctx, cfg.Redis.Addr,
		redisstore.WithReadTimeout(cfg.SinkOpTimeout),
		redisstore.WithWriteTimeout(cfg.SinkOpTimeout),
	)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() { _ = store.Close() }()

	kc := kafkaconsumer.DefaultConfig(cfg.Kafka.Brokers, cfg.Kafka.EvictTopic, cfg.Kafka.GroupID)
	if strict, _ := cmd.Flags().GetBool("strict"); strict {
		kc.SkipInvalid = false
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsEnabled {
		p := newMetrics(cfg)
		g.Go(func() error { return p.Serve(ctx, log) })
	}
	g.Go(func() error {
		return kafkaconsumer.New(kc, log, store).Start(ctx)
	})
	return g.Wait()
}
