package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightning-lens/internal/config"
	"lightning-lens/internal/domain"
	"lightning-lens/internal/learning"
	"lightning-lens/internal/model"
	"lightning-lens/internal/storage"
	"lightning-lens/internal/storage/memory"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "lens.yaml")
	yaml := "snapshot:\n  backend: file\n  dir: " + filepath.Join(dir, "models") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func trainingEvents(n int) []domain.TelemetryEvent {
	base := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	events := make([]domain.TelemetryEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, domain.NewChannelState(domain.ChannelStateInput{
			Node:         "alice",
			RemotePubkey: []string{"02aaaaaaaa", "03bbbbbbbb", "02cccccccc"}[i%3],
			Capacity:     1_000_000,
			LocalBalance: int64((i*37)%100) * 10_000,
			Timestamp:    base.Add(time.Duration(i) * 17 * time.Minute),
		}))
	}
	return events
}

// saveFittedModel trains on synthetic telemetry and writes one snapshot.
func saveFittedModel(t *testing.T, cfgPath string) {
	t.Helper()
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgPath})
	require.NoError(t, err)

	ctx := context.Background()
	engine, cleanup, err := offlineEngine(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()
	require.NoError(t, engine.Retrain(ctx, trainingEvents(30)))
}

func TestPredict_WithoutSnapshotUsesDefault(t *testing.T) {
	dir := chdirTemp(t)
	cfgPath := writeConfig(t, dir)

	out, err := execute(t, "predict", "-c", cfgPath, "--capacity", "1000000", "--local", "200000")
	require.NoError(t, err)

	var got prediction
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 0.5, got.OptimalRatio)
	assert.Equal(t, 0.2, got.CurrentRatio)
	assert.InDelta(t, 0.3, got.AdjustmentNeeded, 1e-12)
	assert.Equal(t, int64(800_000), got.RemoteBalance)
	assert.False(t, got.Fitted)
}

func TestPredict_LoadsLatestSnapshot(t *testing.T) {
	dir := chdirTemp(t)
	cfgPath := writeConfig(t, dir)
	saveFittedModel(t, cfgPath)

	out, err := execute(t, "predict", "-c", cfgPath, "--capacity", "1000000", "--local", "400000", "--remote", "600000")
	require.NoError(t, err)

	var got prediction
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Fitted)
	assert.Equal(t, int64(1), got.ModelVersion)
	assert.GreaterOrEqual(t, got.OptimalRatio, 0.0)
	assert.LessOrEqual(t, got.OptimalRatio, 1.0)
}

func TestPredict_RejectsBadArguments(t *testing.T) {
	dir := chdirTemp(t)
	cfgPath := writeConfig(t, dir)

	_, err := execute(t, "predict", "-c", cfgPath, "--capacity", "0")
	assert.Error(t, err)

	_, err = execute(t, "predict", "-c", cfgPath, "--capacity", "100", "--local", "101")
	assert.Error(t, err)

	_, err = execute(t, "predict", "-c", cfgPath)
	assert.Error(t, err, "capacity is required")
}

func TestSnapshotCommands(t *testing.T) {
	dir := chdirTemp(t)
	cfgPath := writeConfig(t, dir)

	out, err := execute(t, "snapshot", "list", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "no snapshots\n", out)

	out, err = execute(t, "snapshot", "latest", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "no snapshots\n", out)

	saveFittedModel(t, cfgPath)

	out, err = execute(t, "snapshot", "list", "-c", cfgPath)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)

	out, err = execute(t, "snapshot", "latest", "-c", cfgPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "version 1 updated "), out)
}

func TestMigrate_RequiresDSN(t *testing.T) {
	dir := chdirTemp(t)
	cfgPath := writeConfig(t, dir)

	_, err := execute(t, "migrate", "-c", cfgPath)
	assert.ErrorContains(t, err, "postgres_dsn")
}

func TestInvalidConfigFails(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recommend:\n  top_k: 0\n"), 0o644))

	_, err := execute(t, "snapshot", "list", "-c", path)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Snapshot.Backend = config.BackendMemory
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = ""
	return cfg
}

func TestBuild_WiresDeliverySinks(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := memoryConfig()
	cfg.Delivery.WebhookURL = "http://127.0.0.1:1/hook"
	cfg.Delivery.RedisAddr = mr.Addr()
	cfg.Ingest.WSURL = "ws://127.0.0.1:1/ws"
	cfg.Delivery.FeedReplies = true

	svc, err := build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer svc.close()

	require.NotNil(t, svc.dispatcher)
	assert.Equal(t, []string{"webhook", "redis", "feed"}, svc.dispatcher.Sinks())
	assert.Nil(t, svc.metricsSrv, "metrics share the API listener")
}

func TestBuild_UnreachableRedisFails(t *testing.T) {
	cfg := memoryConfig()
	cfg.Delivery.RedisAddr = "127.0.0.1:1"

	_, err := build(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestBuild_SeparateMetricsListener(t *testing.T) {
	cfg := memoryConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.API.Addr = "127.0.0.1:8001"

	svc, err := build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer svc.close()

	assert.Nil(t, svc.dispatcher)
	require.NotNil(t, svc.metricsSrv)
	assert.Equal(t, "127.0.0.1:0", svc.metricsSrv.Addr)
}

func TestService_RunStopsOnCancel(t *testing.T) {
	cfg := memoryConfig()
	svc, err := build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer svc.close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

// slowPerformance delays every insert so a retrain is still running when
// shutdown begins.
type slowPerformance struct {
	storage.PerformanceStore
	delay    time.Duration
	started  chan struct{}
	finished atomic.Bool
}

func (s *slowPerformance) Insert(ctx context.Context, sample domain.PerformanceSample) error {
	close(s.started)
	time.Sleep(s.delay)
	err := s.PerformanceStore.Insert(ctx, sample)
	s.finished.Store(true)
	return err
}

func TestService_RunWaitsForInFlightRetrain(t *testing.T) {
	svc, err := build(context.Background(), memoryConfig(), quietLogger())
	require.NoError(t, err)
	defer svc.close()

	perf := &slowPerformance{
		PerformanceStore: memory.NewPerformanceStore(),
		delay:            300 * time.Millisecond,
		started:          make(chan struct{}),
	}
	engine := learning.NewEngine(learning.EngineOptions{
		Buffer:      learning.BufferOptions{Capacity: 100, MinSamples: 20, UpdateInterval: 20},
		Store:       model.NewStore(model.StoreOptions{MinSamples: 20}),
		Performance: perf,
		Logger:      quietLogger(),
	})
	// The first fit is unscored; the second one records a sample.
	require.NoError(t, engine.Retrain(context.Background(), trainingEvents(30)))
	svc.engine = engine

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.run(ctx) }()

	for _, ev := range trainingEvents(20) {
		engine.SubmitEvent(ev)
	}
	select {
	case <-perf.started:
	case <-time.After(5 * time.Second):
		t.Fatal("retrain did not start")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.True(t, perf.finished.Load(), "run returned before the retrain finished")
	assert.Equal(t, int64(2), engine.Stats().Retrains)
}

func TestService_DrainTimeoutBoundsShutdown(t *testing.T) {
	svc, err := build(context.Background(), memoryConfig(), quietLogger())
	require.NoError(t, err)
	defer svc.close()
	svc.drainTimeout = 50 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	svc.goWorker(func() { <-release })

	start := time.Now()
	assert.False(t, svc.waitWorkers())
	assert.Less(t, time.Since(start), 2*time.Second)
}
