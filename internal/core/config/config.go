// Package config loads tiler settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/geohash-tiler/internal/coverage"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper/geohash"
)

type SinkDriver string

const (
	SinkNone  SinkDriver = "none"
	SinkRedis SinkDriver = "redis"
	SinkKafka SinkDriver = "kafka"
	SinkNATS  SinkDriver = "nats"
)

type RedisCfg struct {
	Addr    string
	TileTTL time.Duration
	// H3Res is the resolution tiles are indexed under; 0 disables the index.
	H3Res int
}

type KafkaCfg struct {
	Brokers []string
	Topic   string
	Queue   int
	// EvictTopic and GroupID are read by the evictor.
	EvictTopic string
	GroupID    string
}

type NATSCfg struct {
	URL     string
	Subject string
	// Stream is ensured on connect when set.
	Stream string
	MaxAge time.Duration
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	Layer            string
	Precision        int
	MinCoverage      float64
	CoverageBoundary coverage.Boundary
	Workers          int
	NoData           int
	MaxUploadBytes   int64
	MaxCells         int64
	SinkDriver       SinkDriver
	SinkOpTimeout    time.Duration
	DedupeSize       int
	Redis            RedisCfg
	Kafka            KafkaCfg
	NATS             NATSCfg
	MetricsEnabled   bool
	MetricsAddr      string
	MetricsPath      string

	// parse problems that Validate reports
	problems []string
}

func FromEnv() Config {
	c := Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		Layer:          getenv("TILE_LAYER", "default"),
		Precision:      getint("TILE_PRECISION", 6),
		MinCoverage:    getfloat("TILE_MIN_COVERAGE", 1.0),
		Workers:        getint("SPLIT_WORKERS", 1),
		NoData:         getint("TILE_NODATA", -1),
		MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 256<<20)),
		MaxCells:       int64(getint("TILE_MAX_CELLS", 1_000_000)),
		SinkDriver:     SinkDriver(strings.ToLower(getenv("SINK_DRIVER", string(SinkNone)))),
		SinkOpTimeout:  getduration("SINK_OP_TIMEOUT", 2*time.Second),
		DedupeSize:     getint("DEDUPE_SIZE", 0),
		Redis: RedisCfg{
			Addr:    getenv("REDIS_ADDR", "localhost:6379"),
			TileTTL: getduration("TILE_TTL", 24*time.Hour),
			H3Res:   getint("H3_RES", 0),
		},
		Kafka: KafkaCfg{
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "geohash-tiles"),
			Queue:   getint("KAFKA_QUEUE", 256),

			EvictTopic: getenv("KAFKA_EVICT_TOPIC", "geohash-tile-evictions"),
			GroupID:    getenv("KAFKA_GROUP_ID", "tile-evictor"),
		},
		NATS: NATSCfg{
			URL:     getenv("NATS_URL", "nats://localhost:4222"),
			Subject: getenv("NATS_SUBJECT", "tiles"),
			Stream:  getenv("NATS_STREAM", ""),
			MaxAge:  getduration("NATS_MAX_AGE", 0),
		},
		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}

	b, err := coverage.ParseBoundary(getenv("TILE_COVERAGE_BOUNDARY", "inclusive"))
	if err != nil {
		c.problems = append(c.problems, err.Error())
	}
	c.CoverageBoundary = b
	return c
}

func (c Config) Threshold() coverage.Threshold {
	return coverage.Threshold{Min: c.MinCoverage, Boundary: c.CoverageBoundary}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	errs := append([]string(nil), c.problems...)

	if err := geohash.ValidatePrecision(c.Precision); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Threshold().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Sprintf("SPLIT_WORKERS must be >= 1, got %d", c.Workers))
	}
	if c.NoData > 255 {
		errs = append(errs, fmt.Sprintf("TILE_NODATA must be -1 or 0..255, got %d", c.NoData))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, "MAX_UPLOAD_BYTES must be positive")
	}
	if c.MaxCells <= 0 {
		errs = append(errs, fmt.Sprintf("TILE_MAX_CELLS must be positive, got %d", c.MaxCells))
	}
	if strings.TrimSpace(c.Layer) == "" {
		errs = append(errs, "TILE_LAYER is required")
	}

	switch c.SinkDriver {
	case SinkNone:
	case SinkRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "REDIS_ADDR is required for the redis sink")
		}
		if c.Redis.H3Res < 0 || c.Redis.H3Res > 15 {
			errs = append(errs, fmt.Sprintf("H3_RES must be 0..15, got %d", c.Redis.H3Res))
		}
	case SinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "KAFKA_BROKERS is required for the kafka sink")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "KAFKA_TOPIC is required for the kafka sink")
		}
	case SinkNATS:
		if c.NATS.URL == "" {
			errs = append(errs, "NATS_URL is required for the nats sink")
		}
		if c.NATS.Subject == "" {
			errs = append(errs, "NATS_SUBJECT is required for the nats sink")
		}
	default:
		errs = append(errs, fmt.Sprintf("SINK_DRIVER must be none|redis|kafka|nats, got %q", c.SinkDriver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
