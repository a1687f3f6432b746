package learning

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/features"
	"lightning-lens/internal/model"
	"lightning-lens/internal/recommend"
	"lightning-lens/internal/storage/memory"
)

type staticChannels struct {
	states []domain.ChannelSnapshot
	nodes  []domain.Node
}

func (s staticChannels) CurrentChannelStates() []domain.ChannelSnapshot { return s.states }
func (s staticChannels) KnownNodes() []domain.Node                     { return s.nodes }

type recordingDispatcher struct {
	mu      sync.Mutex
	batches []domain.RecommendationBatch
}

func (d *recordingDispatcher) Dispatch(b domain.RecommendationBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

type countingSnapshotter struct {
	mu    sync.Mutex
	saves int
}

func (s *countingSnapshotter) Save(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return "memory://snap", nil
}

func (s *countingSnapshotter) MaybeSave(ctx context.Context) (bool, error) {
	_, err := s.Save(ctx)
	return true, err
}

func (s *countingSnapshotter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *countingSnapshotter) LoadLatest(context.Context) (*model.Model, error) {
	return nil, errors.New("nothing saved")
}

type fixedPredictor float64

func (p fixedPredictor) Predict(rows []domain.FeatureVector) ([]float64, error) {
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = float64(p)
	}
	return out, nil
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.Buffer.MinSamples == 0 {
		opts.Buffer = BufferOptions{Capacity: 1000, MinSamples: 20, UpdateInterval: 10}
	}
	return NewEngine(opts)
}

func runEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEngine_TriggerScenario(t *testing.T) {
	e := newTestEngine(EngineOptions{})

	for i := 1; i <= 30; i++ {
		triggered := e.SubmitEvent(stateEvent(i))
		switch {
		case i == 20 || i == 30:
			assert.True(t, triggered, "event %d", i)
		default:
			assert.False(t, triggered, "event %d", i)
		}
	}
}

func TestEngine_DefaultPredictionBeforeFit(t *testing.T) {
	e := newTestEngine(EngineOptions{})
	runEngine(t, e)

	for i := 1; i < 20; i++ {
		require.False(t, e.SubmitEvent(stateEvent(i)))
		assert.Equal(t, 0.5, e.PredictOptimalRatio(1_000_000, 300_000, 700_000))
	}
	assert.False(t, e.Stats().Fitted)
}

func TestEngine_RetrainFitsModelOnWorker(t *testing.T) {
	perf := memory.NewPerformanceStore()
	snaps := &countingSnapshotter{}
	e := newTestEngine(EngineOptions{Performance: perf, Snapshots: snaps})
	runEngine(t, e)

	for i := 1; i <= 20; i++ {
		e.SubmitEvent(stateEvent(i))
	}
	require.Eventually(t, func() bool { return snaps.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	stats := e.Stats()
	assert.True(t, stats.Fitted)
	assert.Equal(t, int64(1), stats.ModelVersion)
	assert.Equal(t, int64(1), stats.Retrains)
	assert.Nil(t, stats.LastScore, "first fit has nothing to score against")

	p := e.PredictOptimalRatio(1_000_000, 300_000, 700_000)
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)

	// Second trigger scores the live model before replacing it.
	for i := 21; i <= 30; i++ {
		e.SubmitEvent(stateEvent(i))
	}
	require.Eventually(t, func() bool { return snaps.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	stats = e.Stats()
	assert.Equal(t, int64(2), stats.ModelVersion)
	require.NotNil(t, stats.LastScore)
	assert.Greater(t, *stats.LastScore, 0.0)
	assert.LessOrEqual(t, *stats.LastScore, 1.0)
	assert.Equal(t, 1, stats.PerformanceSamples)

	samples, err := perf.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestEngine_LearningRateMovesAfterSecondScore(t *testing.T) {
	e := newTestEngine(EngineOptions{Buffer: BufferOptions{Capacity: 1000, MinSamples: 20, UpdateInterval: 10}})

	var events []domain.TelemetryEvent
	for i := 1; i <= 40; i++ {
		events = append(events, stateEvent(i))
	}
	ctx := context.Background()
	require.NoError(t, e.Retrain(ctx, events[:20]))
	require.NoError(t, e.Retrain(ctx, events[:30]))
	assert.Equal(t, 0.1, e.Stats().LearningRate)

	require.NoError(t, e.Retrain(ctx, events))
	rate := e.Stats().LearningRate
	assert.Contains(t, []float64{0.1 * 1.1, 0.1 * 0.9}, rate)
	assert.Len(t, e.Performance(), 2)
}

func TestEngine_EmptyBatchDoesNotBreakIngestion(t *testing.T) {
	e := newTestEngine(EngineOptions{})

	err := e.Retrain(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, features.ErrValidation)
	assert.Equal(t, int64(1), e.Stats().RetrainFailures)

	assert.False(t, e.SubmitEvent(stateEvent(1)))
	assert.Equal(t, 1, e.Stats().BufferSize)
}

func TestEngine_TransactionOnlyBatchIsSkipped(t *testing.T) {
	e := newTestEngine(EngineOptions{})

	events := make([]domain.TelemetryEvent, 0, 20)
	for i := 0; i < 20; i++ {
		events = append(events, domain.Transaction{Sender: "alice", Receiver: "bob", Amount: 1000, Success: true, Timestamp: time.Now()})
	}
	err := e.Retrain(context.Background(), events)
	assert.ErrorIs(t, err, features.ErrValidation)
	assert.False(t, e.Stats().Fitted)
}

func TestEngine_PendingBatchesCoalesce(t *testing.T) {
	e := newTestEngine(EngineOptions{Buffer: BufferOptions{Capacity: 100, MinSamples: 2, UpdateInterval: 1}})

	for i := 0; i < 5; i++ {
		e.SubmitEvent(stateEvent(i))
	}

	stats := e.Stats()
	assert.True(t, stats.PendingRetrain)
	assert.Equal(t, int64(3), stats.RetrainsCoalesced)

	batch := <-e.mailbox
	assert.Len(t, batch, 5, "worker receives the newest batch")
}

func TestEngine_RecommendationsEmptyChannels(t *testing.T) {
	e := newTestEngine(EngineOptions{Channels: staticChannels{}})
	recs := e.Recommendations(recommend.Request{})
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	noSource := newTestEngine(EngineOptions{})
	assert.Empty(t, noSource.Recommendations(recommend.Request{}))
}

func TestEngine_RecommendationsUnfittedUseDefaultRatio(t *testing.T) {
	e := newTestEngine(EngineOptions{Channels: staticChannels{
		states: []domain.ChannelSnapshot{{
			ChannelID:     "alice_03bbbbbb",
			Node:          "alice",
			RemotePubkey:  "03bbbbbbbb",
			Capacity:      1_000_000,
			LocalBalance:  300_000,
			RemoteBalance: 700_000,
		}},
		nodes: []domain.Node{{Name: "alice", Pubkey: "02aaaaaaaa"}, {Name: "bob", Pubkey: "03bbbbbbbb"}},
	}})

	recs := e.Recommendations(recommend.Request{})
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.2, recs[0].AdjustmentNeeded, 1e-9)
	assert.Equal(t, int64(200_000), recs[0].Amount)
	assert.Equal(t, "bob", recs[0].FromNode)

	batch := e.RecommendationBatch(recommend.Request{})
	assert.NotEmpty(t, batch.BatchID)
	assert.Equal(t, 0.1, batch.LearningRate)
	assert.Len(t, batch.Suggestions, 1)
}

func TestEngine_PushOnRetrain(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	e := newTestEngine(EngineOptions{
		Generator:     recommend.NewGenerator(recommend.GeneratorOptions{Predictor: fixedPredictor(0.5), Logger: quietLogger()}),
		Dispatcher:    dispatcher,
		PushOnRetrain: true,
		Channels: staticChannels{
			states: []domain.ChannelSnapshot{{
				ChannelID: "alice_03bbbbbb", Node: "alice", RemotePubkey: "03bbbbbbbb",
				Capacity: 1_000_000, LocalBalance: 1_000_000,
			}},
			nodes: []domain.Node{{Name: "bob", Pubkey: "03bbbbbbbb"}},
		},
	})

	events := make([]domain.TelemetryEvent, 0, 20)
	for i := 1; i <= 20; i++ {
		events = append(events, stateEvent(i))
	}
	require.NoError(t, e.Retrain(context.Background(), events))
	require.Equal(t, 1, dispatcher.count())
	assert.Equal(t, int64(500_000), dispatcher.batches[0].Suggestions[0].Amount)
	assert.Equal(t, int64(1), dispatcher.batches[0].ModelVersion)
}

func TestEngine_SnapshotWithoutPersister(t *testing.T) {
	e := newTestEngine(EngineOptions{})
	_, err := e.Snapshot(context.Background())
	assert.Error(t, err)

	snaps := &countingSnapshotter{}
	e = newTestEngine(EngineOptions{Snapshots: snaps})
	loc, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory://snap", loc)
}

func TestEngine_RunTwice(t *testing.T) {
	e := newTestEngine(EngineOptions{})
	runEngine(t, e)

	require.Eventually(t, func() bool { return e.running.Load() }, time.Second, 5*time.Millisecond)
	assert.Error(t, e.Run(context.Background()))
}
