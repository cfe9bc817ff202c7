package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/buildinfo"
	"github.com/otherjamesbrown/binaudit/pkg/observability"
	"github.com/otherjamesbrown/binaudit/pkg/queues"
	"github.com/otherjamesbrown/binaudit/pkg/workers"
)

func TestWorkerCommand_Flags(t *testing.T) {
	cmd := NewWorkerCommand(nil)
	assert.Equal(t, "worker", cmd.Use)
	for _, name := range []string{"workers", "judgments", "patterns", "record", "no-events", "metrics-addr"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s", name)
	}
}

func TestWorkerPoolConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Worker.Count = 3
	cfg.Worker.QueueName = "audit:custom"
	cfg.Worker.VisibilityTimeout = 2 * time.Minute
	cfg.Worker.PollInterval = 250 * time.Millisecond
	qc := queueConfig(cfg)

	wc := workerPoolConfig(cfg, qc, &workerOptions{})
	assert.Equal(t, 3, wc.Count)
	assert.Equal(t, "audit:custom", wc.QueueName)
	assert.Equal(t, 2*time.Minute, wc.VisibilityTimeout)
	assert.Equal(t, 250*time.Millisecond, wc.PollInterval)
	assert.Equal(t, workers.DefaultWorkerConfig().RecoverInterval, wc.RecoverInterval)

	wc = workerPoolConfig(cfg, qc, &workerOptions{count: 8})
	assert.Equal(t, 8, wc.Count, "--workers overrides config")
}

func TestWorkerMux(t *testing.T) {
	// The client is never used: the pool is not started.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	queue := queues.NewRedisQueue(client, queues.DefaultQueueConfig("audit:test"))

	registry := prometheus.NewRegistry()
	metrics := observability.NewAuditMetrics(registry)
	metrics.RecordQueue("audit:test", "enqueued")
	pool := workers.NewPool(workers.DefaultWorkerConfig(), queue, nil, nil, metrics)

	srv := httptest.NewServer(workerMux(registry, pool, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "binaudit_")

	resp, err = http.Get(srv.URL + "/version")
	require.NoError(t, err)
	var info buildinfo.Info
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &info))
	assert.Equal(t, workerServiceName, info.ServiceName)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body = readBody(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no active workers before Start")
	var health workerHealth
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "audit:test", health.Pool.Queue)
	assert.Nil(t, health.Database)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var sb bytes.Buffer
	_, err := sb.ReadFrom(resp.Body)
	require.NoError(t, err)
	return sb.String()
}
