package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var layerLabel atomic.Value

func init() {
	layerLabel.Store("default")
	for _, c := range collectors() {
		prometheus.MustRegister(c)
	}
}

func SetLayer(s string) {
	if s == "" {
		s = "default"
	}
	layerLabel.Store(s)
}

func getLayer() string {
	if v := layerLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "default"
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tiler_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_cells_total",
			Help: "Candidate geohash cells by outcome.",
		},
		[]string{"outcome", "layer"},
	)

	tileBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_tile_bytes_total",
			Help: "Pixel bytes copied into emitted tiles.",
		},
		[]string{"layer"},
	)

	extractSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tiler_extract_seconds",
			Help:    "Time to evaluate and cut one cell.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		},
	)

	splitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiler_split_seconds",
			Help:    "Wall time of a full split run.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"layer", "precision"},
	)

	sinkOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_sink_ops_total",
			Help: "Tiles handed to sinks by result.",
		},
		[]string{"sink", "result"},
	)

	sinkOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiler_sink_op_seconds",
			Help:    "Latency of a single sink send.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"sink"},
	)

	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	storeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_store_lookups_total",
			Help: "Tile store key lookups by result.",
		},
		[]string{"result"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_evictions_total",
			Help: "Processed tile eviction events by op and result.",
		},
		[]string{"op", "result"},
	)

	evictedKeys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_evicted_keys_total",
			Help: "Redis keys deleted by eviction events.",
		},
		[]string{"layer"},
	)

	evictionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tiler_eviction_seconds",
			Help:    "Time to apply one eviction event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	consumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	storeOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, buildInfo,
		cellsTotal, tileBytes, extractSeconds, splitSeconds,
		sinkOps, sinkOpSeconds, storeOps, storeLookups, storeOpSeconds,
		evictionsTotal, evictedKeys, evictionSeconds, consumerErrors,
	}
}

// Init additionally exposes the tiler collectors on reg, for callers that
// serve a private registry. Safe to call more than once per registry.
func Init(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveCell records the outcome of one candidate cell.
func ObserveCell(outcome string, durationSeconds float64) {
	cellsTotal.WithLabelValues(outcome, getLayer()).Inc()
	if durationSeconds > 0 {
		extractSeconds.Observe(durationSeconds)
	}
}

func AddTileBytes(n int) {
	if n > 0 {
		tileBytes.WithLabelValues(getLayer()).Add(float64(n))
	}
}

func ObserveSplit(precision int, durationSeconds float64) {
	splitSeconds.WithLabelValues(getLayer(), strconv.Itoa(precision)).Observe(durationSeconds)
}

func ObserveSinkOp(sink string, err error, durationSeconds float64) {
	sinkOps.WithLabelValues(sink, result(err)).Inc()
	sinkOpSeconds.WithLabelValues(sink).Observe(durationSeconds)
}

// IncSinkSkip counts tiles a sink decided not to forward.
func IncSinkSkip(sink string) {
	sinkOps.WithLabelValues(sink, "skip").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	storeOps.WithLabelValues(op, result(err)).Inc()
	storeOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

// AddStoreLookups records the hit/miss split of one multi-key read.
func AddStoreLookups(hits, misses int) {
	if hits > 0 {
		storeLookups.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		storeLookups.WithLabelValues("miss").Add(float64(misses))
	}
}

// ObserveEviction records one applied eviction event.
func ObserveEviction(op, layer string, keys int, durationSeconds float64, err error) {
	evictionsTotal.WithLabelValues(op, result(err)).Inc()
	if err == nil && keys > 0 {
		evictedKeys.WithLabelValues(layer).Add(float64(keys))
	}
	evictionSeconds.Observe(durationSeconds)
}

func IncConsumerError(kind string) {
	consumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
