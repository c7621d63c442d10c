package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/config"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/health"
	"github.com/mohammed-shakir/geohash-tiler/internal/core/router"
)

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("redis: connection refused") }

func testServer(t *testing.T, deps map[string]health.Pinger) *httptest.Server {
	t.Helper()
	cfg := config.FromEnv()
	cfg.MetricsPath = "/metrics"
	cfg.SinkOpTimeout = time.Second
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewHandler(cfg, logger, router.New(logger, cfg, nil, nil), deps))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestNewHandler_Routes(t *testing.T) {
	srv := testServer(t, nil)

	resp, body := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("healthz status=%d body=%q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}

	resp, _ = get(t, srv.URL+"/v1/cells?bbox=0,0,40,20&precision=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cells status=%d", resp.StatusCode)
	}

	resp, body = get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}

	resp, _ = get(t, srv.URL+"/v1/index/h3/871f1b5a9ffffff")
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("index status=%d want 501", resp.StatusCode)
	}
}

func TestNewHandler_ReadinessReflectsDeps(t *testing.T) {
	srv := testServer(t, map[string]health.Pinger{"redis": downPinger{}})
	resp, body := get(t, srv.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(body, "connection refused") {
		t.Fatalf("readyz status=%d body=%s", resp.StatusCode, body)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := config.FromEnv()
	cfg.Addr = "127.0.0.1:0"
	logger := slog.New(slog.DiscardHandler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, logger, router.New(logger, cfg, nil, nil), nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
